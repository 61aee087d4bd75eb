package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/keyring-registry/attrstore"
	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/ruteri/keyring-registry/keyring"
)

// Config collects the collaborators the registry orchestrates.
type Config struct {
	// Attributes is the attribute store, the source of truth for which
	// keyrings exist.
	Attributes *attrstore.Store

	// Backends constructs the storage adapter matching a keyring
	// identifier.
	Backends interfaces.BackendFactory

	// Probe reports daemon availability, consulted once during Init. May be
	// nil, which counts as unavailable.
	Probe interfaces.DaemonProbe

	// Log is the structured logger for registry operations.
	Log *slog.Logger
}

// Registry owns the in-memory mapping from keyring identifier to live
// keyring instance. It drives startup reconciliation against the attribute
// store and exposes the create, delete and query operations with
// all-or-nothing semantics.
//
// Create and delete for the same identifier must be serialized by the
// caller; the surrounding application issues them from one control point.
// Operations on different identifiers are independent.
type Registry struct {
	attrs   *attrstore.Store
	factory interfaces.BackendFactory
	probe   interfaces.DaemonProbe
	log     *slog.Logger

	mu       sync.RWMutex
	keyrings map[interfaces.KeyringID]*keyring.Keyring
	order    []interfaces.KeyringID
}

// InitFailure reports one keyring that could not be provisioned during
// Init. The keyring's attribute entry is kept so a later run can retry.
type InitFailure struct {
	ID  interfaces.KeyringID
	Err error
}

// New creates a registry. Init must be called before any other operation.
func New(cfg Config) *Registry {
	return &Registry{
		attrs:    cfg.Attributes,
		factory:  cfg.Backends,
		probe:    cfg.Probe,
		log:      cfg.Log,
		keyrings: make(map[interfaces.KeyringID]*keyring.Keyring),
	}
}

// Init loads the attribute table, reconciles the daemon keyring entry
// against current daemon availability, creates the default keyring on first
// run, and provisions one keyring per known identifier.
//
// A provisioning failure for one keyring does not abort the others; the
// failed keyring is logged, reported in the returned slice and left out of
// the registry. Only attribute storage failures are fatal.
func (r *Registry) Init(ctx context.Context) ([]InitFailure, error) {
	if err := r.attrs.Load(ctx); err != nil {
		return nil, err
	}

	if err := r.reconcileDaemon(ctx); err != nil {
		return nil, err
	}

	if !r.attrs.Has(interfaces.DefaultKeyringID) {
		r.log.Info("Creating default keyring on first run")
		if err := r.attrs.Create(ctx, interfaces.DefaultKeyringID, nil); err != nil {
			return nil, err
		}
	}

	var failures []InitFailure
	for _, id := range r.attrs.IDs() {
		if err := r.provision(ctx, id); err != nil {
			r.log.Warn("Failed to provision keyring, excluding from registry",
				slog.String("keyring", id.String()),
				"err", err)
			failures = append(failures, InitFailure{ID: id, Err: err})
		}
	}

	r.log.Info("Keyring registry initialized",
		slog.Int("keyrings", len(r.GetAll())),
		slog.Int("failed", len(failures)))
	return failures, nil
}

// reconcileDaemon aligns the daemon keyring's attribute entry with current
// daemon availability. The entry exists iff the daemon is reachable.
func (r *Registry) reconcileDaemon(ctx context.Context) error {
	available := r.probe != nil && r.probe.Available(ctx)
	present := r.attrs.Has(interfaces.DaemonKeyringID)

	switch {
	case available && !present:
		r.log.Info("Key daemon available, registering daemon keyring")
		return r.attrs.Create(ctx, interfaces.DaemonKeyringID, nil)
	case !available && present:
		r.log.Info("Key daemon unavailable, dropping stale daemon keyring entry")
		return r.attrs.Delete(ctx, interfaces.DaemonKeyringID)
	}
	return nil
}

// provision constructs the backend for a known keyring, loads it and adds
// the resulting keyring to the in-memory map.
func (r *Registry) provision(ctx context.Context, id interfaces.KeyringID) error {
	backend, err := r.factory.BackendFor(id)
	if err != nil {
		return err
	}
	if err := backend.Load(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.keyrings[id] = keyring.New(id, backend)
	r.order = append(r.order, id)
	r.mu.Unlock()
	return nil
}

// CreateKeyring creates a new keyring: the attribute entry is persisted
// first, then the backend is constructed and loaded. A load failure rolls
// the attribute entry back and re-raises the original error, so the
// attribute table never references a keyring whose backend failed to
// materialize.
func (r *Registry) CreateKeyring(ctx context.Context, id interfaces.KeyringID) (*keyring.Keyring, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if r.attrs.Has(id) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyringExists, id)
	}

	if err := r.attrs.Create(ctx, id, nil); err != nil {
		return nil, err
	}

	if err := r.provision(ctx, id); err != nil {
		if rollbackErr := r.attrs.Delete(ctx, id); rollbackErr != nil {
			r.log.Error("Failed to roll back attribute entry after load failure",
				slog.String("keyring", id.String()),
				"err", rollbackErr)
		}
		return nil, err
	}

	r.log.Info("Created keyring", slog.String("keyring", id.String()))

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keyrings[id], nil
}

// DeleteKeyring deletes a known keyring: durable key material first, then
// the adapter cache, the in-memory map entry, and finally the attribute
// entry. If backend removal fails the attribute entry stays intact so the
// deletion can be retried, and the error propagates.
func (r *Registry) DeleteKeyring(ctx context.Context, id interfaces.KeyringID) error {
	if !r.attrs.Has(id) {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyring, id)
	}

	backend, err := r.backendFor(id)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrRemovalFailed, err)
	}

	if err := backend.Remove(ctx); err != nil {
		return err
	}
	backend.Clear()

	r.mu.Lock()
	delete(r.keyrings, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if err := r.attrs.Delete(ctx, id); err != nil {
		return err
	}

	r.log.Info("Deleted keyring", slog.String("keyring", id.String()))
	return nil
}

// backendFor returns the live backend for a keyring, constructing a fresh
// adapter when the keyring is known but failed to provision at startup.
func (r *Registry) backendFor(id interfaces.KeyringID) (interfaces.KeyringBackend, error) {
	r.mu.RLock()
	kr, ok := r.keyrings[id]
	r.mu.RUnlock()
	if ok {
		return kr.Backend(), nil
	}
	return r.factory.BackendFor(id)
}

// GetByID returns the live keyring for an identifier. Fails with
// ErrUnknownKeyring both for identifiers that were never created and for
// known keyrings that failed to provision.
func (r *Registry) GetByID(id interfaces.KeyringID) (*keyring.Keyring, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kr, ok := r.keyrings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyring, id)
	}
	return kr, nil
}

// GetAll returns the live keyrings in registry order.
func (r *Registry) GetAll() []*keyring.Keyring {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*keyring.Keyring, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.keyrings[id])
	}
	return out
}

// GetAllKeyUserID returns the identities of every live keyring merged into
// one listing: deduplicated globally by key id (first occurrence wins,
// keyrings iterated in registry order) and sorted by normalized display
// name.
func (r *Registry) GetAllKeyUserID(ctx context.Context) ([]interfaces.IdentityRecord, error) {
	var merged []interfaces.IdentityRecord
	for _, kr := range r.GetAll() {
		records, err := kr.GetIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing identities of keyring %s: %w", kr.ID(), err)
		}
		merged = append(merged, records...)
	}

	merged = interfaces.DedupeIdentities(merged)
	interfaces.SortIdentities(merged)
	return merged, nil
}

// GetKeyringAttr returns one attribute value for a known keyring.
func (r *Registry) GetKeyringAttr(id interfaces.KeyringID, name string) (any, error) {
	return r.attrs.GetAttr(id, name)
}

// GetKeyringAttrs returns a copy of a known keyring's attribute record.
func (r *Registry) GetKeyringAttrs(id interfaces.KeyringID) (interfaces.AttributeRecord, error) {
	return r.attrs.Get(id)
}

// SetKeyringAttr merges the partial record into a known keyring's
// attributes and persists before returning.
func (r *Registry) SetKeyringAttr(ctx context.Context, id interfaces.KeyringID, partial interfaces.AttributeRecord) error {
	return r.attrs.Set(ctx, id, partial)
}
