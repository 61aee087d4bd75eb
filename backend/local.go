package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/ProtonMail/go-crypto/openpgp"
)

// LocalBackend stores key material as ASCII-armored OpenPGP key blocks in a
// private directory, one file per imported block. Load never fails due to
// external unavailability; a missing directory is created on the fly.
type LocalBackend struct {
	id      interfaces.KeyringID
	baseDir string
	log     *slog.Logger

	mu       sync.RWMutex
	entities openpgp.EntityList
}

// NewLocalBackend creates a local backend rooted at baseDir.
func NewLocalBackend(baseDir string, id interfaces.KeyringID, log *slog.Logger) *LocalBackend {
	return &LocalBackend{
		id:      id,
		baseDir: baseDir,
		log:     log,
	}
}

// Load populates the in-memory entity cache from the key files on disk.
// A corrupt key file fails the whole load with an error wrapping
// ErrKeyringLoad.
func (b *LocalBackend) Load(ctx context.Context) error {
	if err := os.MkdirAll(b.baseDir, 0700); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrKeyringLoad, err)
	}

	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrKeyringLoad, err)
	}

	var entities openpgp.EntityList
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".asc") {
			continue
		}

		path := filepath.Join(b.baseDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrKeyringLoad, err)
		}

		parsed, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: corrupt key file %s: %v", interfaces.ErrKeyringLoad, entry.Name(), err)
		}
		entities = append(entities, parsed...)
	}

	b.mu.Lock()
	b.entities = entities
	b.mu.Unlock()

	b.log.Debug("Loaded local keyring",
		slog.String("keyring", b.id.String()),
		slog.Int("keys", len(entities)))
	return nil
}

// ListIdentities derives identity records from the cached entities.
func (b *LocalBackend) ListIdentities(ctx context.Context) ([]interfaces.IdentityRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make([]interfaces.IdentityRecord, 0, len(b.entities))
	for _, entity := range b.entities {
		records = append(records, identityFromEntity(entity, b.id))
	}
	return records, nil
}

// ImportArmored parses an ASCII-armored key block and stores it verbatim,
// keyed by the primary key identifier of the first key in the block.
func (b *LocalBackend) ImportArmored(ctx context.Context, armored string) error {
	parsed, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return fmt.Errorf("invalid armored key material: %w", err)
	}
	if len(parsed) == 0 {
		return fmt.Errorf("no keys found in armored block")
	}

	if err := os.MkdirAll(b.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create keyring directory: %w", err)
	}

	fileName := strings.ToLower(parsed[0].PrimaryKey.KeyIdString()) + ".asc"
	path := filepath.Join(b.baseDir, fileName)
	if err := os.WriteFile(path, []byte(armored), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	b.mu.Lock()
	b.entities = append(b.entities, parsed...)
	b.mu.Unlock()

	b.log.Info("Imported key material",
		slog.String("keyring", b.id.String()),
		slog.String("key_id", parsed[0].PrimaryKey.KeyIdString()),
		slog.Int("keys", len(parsed)))
	return nil
}

// Remove irreversibly deletes all key files for this backend.
func (b *LocalBackend) Remove(ctx context.Context) error {
	if err := os.RemoveAll(b.baseDir); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrRemovalFailed, err)
	}

	b.log.Info("Removed local keyring storage",
		slog.String("keyring", b.id.String()),
		slog.String("path", b.baseDir))
	return nil
}

// Clear drops the in-memory entity cache without touching the key files.
func (b *LocalBackend) Clear() {
	b.mu.Lock()
	b.entities = nil
	b.mu.Unlock()
}

// Name returns a unique identifier for this backend.
func (b *LocalBackend) Name() string {
	return fmt.Sprintf("local-%s", b.id)
}

// identityFromEntity maps an OpenPGP entity to the identity record for its
// primary user id.
func identityFromEntity(entity *openpgp.Entity, id interfaces.KeyringID) interfaces.IdentityRecord {
	record := interfaces.IdentityRecord{
		KeyID:     entity.PrimaryKey.KeyIdString(),
		KeyringID: id,
	}

	identity := entity.PrimaryIdentity()
	if identity == nil {
		for _, other := range entity.Identities {
			identity = other
			break
		}
	}
	if identity != nil && identity.UserId != nil {
		record.UserName = identity.UserId.Name
		record.UserEmail = identity.UserId.Email
	}
	return record
}
