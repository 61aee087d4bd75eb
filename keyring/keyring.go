// Package keyring provides the stateful facade pairing one storage backend
// with the identity operations the rest of the application uses.
package keyring

import (
	"context"
	"fmt"

	"github.com/ruteri/keyring-registry/interfaces"
)

// Keyring wraps one backend under an immutable identifier. Instances exist
// only while their identifier is known to the registry; they are never
// persisted and are reconstructed from the attribute table and backend
// state on every startup.
type Keyring struct {
	id      interfaces.KeyringID
	backend interfaces.KeyringBackend
}

// New creates a keyring facade over the given backend.
func New(id interfaces.KeyringID, backend interfaces.KeyringBackend) *Keyring {
	return &Keyring{id: id, backend: backend}
}

// ID returns the keyring identifier.
func (k *Keyring) ID() interfaces.KeyringID {
	return k.id
}

// Backend exposes the underlying adapter for registry-level remove and
// clear orchestration. Outside callers must not mutate the backend
// directly; all lifecycle mutation goes through the registry so the
// attribute table stays consistent.
func (k *Keyring) Backend() interfaces.KeyringBackend {
	return k.backend
}

// GetIdentities returns the identity records for this keyring, stamped with
// its identifier, deduplicated by key id and sorted by normalized display
// name.
func (k *Keyring) GetIdentities(ctx context.Context) ([]interfaces.IdentityRecord, error) {
	records, err := k.backend.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}

	for i := range records {
		records[i].KeyringID = k.id
	}

	records = interfaces.DedupeIdentities(records)
	interfaces.SortIdentities(records)
	return records, nil
}

// ImportArmored hands ASCII-armored key material to the backend. Fails with
// ErrImportUnsupported for backends that do not accept direct imports.
func (k *Keyring) ImportArmored(ctx context.Context, armored string) error {
	importer, ok := k.backend.(interfaces.KeyImporter)
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrImportUnsupported, k.id)
	}
	return importer.ImportArmored(ctx, armored)
}
