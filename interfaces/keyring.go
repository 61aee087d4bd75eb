package interfaces

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKeyring is returned when an operation references a keyring
	// identifier that is not known to the registry or attribute store.
	ErrUnknownKeyring = errors.New("unknown keyring")

	// ErrKeyringExists is returned when creating a keyring whose identifier
	// is already known.
	ErrKeyringExists = errors.New("keyring already exists")

	// ErrStorageUnavailable is returned when the durable key/value capability
	// backing the attribute store fails. Callers treat this as fatal for
	// startup.
	ErrStorageUnavailable = errors.New("attribute storage unavailable")

	// ErrKeyringLoad is returned when a backend cannot populate itself from
	// its durable key material.
	ErrKeyringLoad = errors.New("keyring backend load failed")

	// ErrDaemonUnavailable is the load failure for the daemon-backed keyring
	// when the key management daemon cannot be reached. It wraps
	// ErrKeyringLoad so callers can match either.
	ErrDaemonUnavailable = fmt.Errorf("%w: key daemon unavailable", ErrKeyringLoad)

	// ErrRemovalFailed is returned when a backend cannot delete its durable
	// key material. The keyring's attribute entry is kept so the deletion
	// can be retried.
	ErrRemovalFailed = errors.New("keyring removal failed")

	// ErrValueNotFound is returned by a KeyValueStore when the requested key
	// has no stored value.
	ErrValueNotFound = errors.New("value not found")

	// ErrImportUnsupported is returned when key material is imported into a
	// keyring whose backend does not accept direct imports.
	ErrImportUnsupported = errors.New("keyring does not support key import")
)

// KeyValueStore is the injected durable storage capability used by the
// attribute store. Get returns ErrValueNotFound for absent keys; any other
// failure is mapped to ErrStorageUnavailable by the caller.
type KeyValueStore interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set durably stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Name returns identifier for logging.
	Name() string
}

// KeyringBackend performs key storage I/O for one keyring.
type KeyringBackend interface {
	// Load populates the backend from its durable key material. It fails
	// with an error wrapping ErrKeyringLoad on corrupt or unreadable
	// storage, ErrDaemonUnavailable when the daemon cannot be reached.
	Load(ctx context.Context) error

	// ListIdentities derives identity records from the loaded key material.
	// The result is recomputed on every call.
	ListIdentities(ctx context.Context) ([]IdentityRecord, error)

	// Remove irreversibly deletes all durable key material for this backend.
	Remove(ctx context.Context) error

	// Clear drops the in-memory cache without touching durable material.
	Clear()

	// Name returns identifier for logging.
	Name() string
}

// KeyImporter is implemented by backends that accept ASCII-armored key
// material directly.
type KeyImporter interface {
	ImportArmored(ctx context.Context, armored string) error
}

// BackendFactory constructs the backend matching a keyring identifier. The
// variant is selected once at construction time and never re-dispatched.
type BackendFactory interface {
	BackendFor(id KeyringID) (KeyringBackend, error)
}

// DaemonProbe reports whether the external key management daemon is
// reachable. The registry consults it once during Init to reconcile the
// daemon keyring's attribute entry.
type DaemonProbe interface {
	Available(ctx context.Context) bool
}
