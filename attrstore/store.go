// Package attrstore persists the keyring attribute table: the single source
// of truth for which keyrings exist and their configuration attributes.
//
// The table is kept as one serialized blob under a fixed storage key in the
// injected key/value capability. It is loaded once at process start; every
// mutation re-serializes the full table and writes it back before the
// operation reports success, so the in-memory table is never ahead of
// durable storage.
package attrstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/keyring-registry/interfaces"
)

// StorageKey is the fixed key the serialized attribute table lives under.
const StorageKey = "keyring_attributes"

// Store holds the attribute table and the persist-before-return discipline
// around it.
type Store struct {
	kv  interfaces.KeyValueStore
	log *slog.Logger

	mu    sync.RWMutex
	table interfaces.AttributeTable
}

// New creates an attribute store on top of the given key/value capability.
// Load must be called before any other operation.
func New(kv interfaces.KeyValueStore, log *slog.Logger) *Store {
	return &Store{
		kv:    kv,
		log:   log,
		table: interfaces.AttributeTable{},
	}
}

// Load reads the persisted table. An absent blob yields an empty table; any
// storage failure or corrupt blob maps to ErrStorageUnavailable, which the
// registry treats as fatal for startup.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, interfaces.ErrValueNotFound) {
		s.mu.Lock()
		s.table = interfaces.AttributeTable{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}

	var table interfaces.AttributeTable
	if err := json.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("%w: corrupt attribute table: %v", interfaces.ErrStorageUnavailable, err)
	}
	if table == nil {
		table = interfaces.AttributeTable{}
	}

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()

	s.log.Debug("Loaded keyring attribute table",
		slog.String("store", s.kv.Name()),
		slog.Int("keyrings", len(table)))
	return nil
}

// Has reports whether the keyring is known.
func (s *Store) Has(id interfaces.KeyringID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.table[id]
	return ok
}

// Get returns a copy of the keyring's attribute record. Fails with
// ErrUnknownKeyring if the keyring is not known.
func (s *Store) Get(id interfaces.KeyringID) (interfaces.AttributeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.table[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyring, id)
	}
	return rec.Clone(), nil
}

// GetAttr returns one attribute value for the keyring. A missing attribute
// name yields nil; an unknown keyring fails with ErrUnknownKeyring.
func (s *Store) GetAttr(id interfaces.KeyringID, name string) (any, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return rec[name], nil
}

// Create inserts a new keyring entry and persists the table before
// returning. Fails with ErrKeyringExists if the identifier is already known.
func (s *Store) Create(ctx context.Context, id interfaces.KeyringID, record interfaces.AttributeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[id]; ok {
		return fmt.Errorf("%w: %s", interfaces.ErrKeyringExists, id)
	}

	next := s.table.Clone()
	next[id] = record.Clone()
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.table = next
	return nil
}

// Set merges the partial record into the keyring's existing record (shallow
// key overwrite) and persists. Fails with ErrUnknownKeyring if absent.
func (s *Store) Set(ctx context.Context, id interfaces.KeyringID, partial interfaces.AttributeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[id]; !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyring, id)
	}

	next := s.table.Clone()
	for k, v := range partial {
		next[id][k] = v
	}
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.table = next
	return nil
}

// Delete removes the keyring entry and persists. Deleting an unknown
// keyring is a no-op.
func (s *Store) Delete(ctx context.Context, id interfaces.KeyringID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[id]; !ok {
		return nil
	}

	next := s.table.Clone()
	delete(next, id)
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.table = next
	return nil
}

// IDs returns the known keyring identifiers in lexicographic order.
func (s *Store) IDs() []interfaces.KeyringID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.IDs()
}

// Table returns a copy of the full attribute table.
func (s *Store) Table() interfaces.AttributeTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone()
}

// persist serializes the candidate table and writes it to durable storage.
// The caller commits the candidate to memory only after persist succeeds.
func (s *Store) persist(ctx context.Context, table interfaces.AttributeTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	if err := s.kv.Set(ctx, StorageKey, data); err != nil {
		s.log.Error("Failed to persist keyring attribute table",
			slog.String("store", s.kv.Name()),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	return nil
}
