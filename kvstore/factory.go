// Package kvstore provides implementations of the durable key/value
// capability the attribute store persists through: local files, Amazon S3
// compatible object storage, and an in-memory store for tests. A factory
// selects the implementation from a location URI.
package kvstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/keyring-registry/interfaces"
)

// Factory creates key/value stores from URI strings.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{log: logger}
}

// StoreFor creates a key/value store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - mem:// - In-memory storage, nothing survives a restart
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StoreFor(locationURI string) (interfaces.KeyValueStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(), nil
	case "file":
		return f.createFileStore(u)
	case "s3":
		return f.createS3Store(u)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}

// createFileStore creates a file system store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (f *Factory) createFileStore(u *url.URL) (interfaces.KeyValueStore, error) {
	f.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}

	return NewFileStore(path, f.log)
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (f *Factory) createS3Store(u *url.URL) (interfaces.KeyValueStore, error) {
	f.log.Debug("Creating S3 store", slog.String("uri", u.String()))

	bucketName := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}
