// Package interfaces defines the core types and capability contracts for the
// keyring registry. It provides the contract between different components
// without implementation details.
package interfaces

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// KeyringID identifies one keyring. Two values are reserved:
// DefaultKeyringID for the always-present local keyring and DaemonKeyringID
// for the keyring backed by the external key management daemon.
type KeyringID string

const (
	// DefaultKeyringID is the identifier of the local keyring created on
	// first run and never reconciled away.
	DefaultKeyringID KeyringID = "local"

	// DaemonKeyringID is the identifier of the daemon-backed keyring. Its
	// attribute entry exists iff the daemon was reachable at startup.
	DaemonKeyringID KeyringID = "daemon"
)

var keyringIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// NewKeyringID creates a keyring identifier with validation.
func NewKeyringID(id string) (KeyringID, error) {
	if !keyringIDRegex.MatchString(id) {
		return KeyringID(""), errors.New("invalid keyring identifier format")
	}
	return KeyringID(id), nil
}

// String returns the identifier as a string.
func (id KeyringID) String() string {
	return string(id)
}

// Validate checks if the identifier has a valid format.
func (id KeyringID) Validate() error {
	_, err := NewKeyringID(string(id))
	return err
}

// IsDaemon reports whether this is the daemon-backed keyring identifier.
func (id KeyringID) IsDaemon() bool {
	return id == DaemonKeyringID
}

// AttributeRecord holds arbitrary metadata for one keyring. There is no
// fixed schema; callers may add any keys and the record is persisted
// verbatim.
type AttributeRecord map[string]any

// Clone returns a shallow copy of the record.
func (r AttributeRecord) Clone() AttributeRecord {
	if r == nil {
		return AttributeRecord{}
	}
	out := make(AttributeRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// AttributeTable maps keyring identifiers to their attribute records. A
// keyring is known iff it has an entry in this table.
type AttributeTable map[KeyringID]AttributeRecord

// Clone returns a copy of the table with cloned records.
func (t AttributeTable) Clone() AttributeTable {
	out := make(AttributeTable, len(t))
	for id, rec := range t {
		out[id] = rec.Clone()
	}
	return out
}

// IDs returns the known keyring identifiers in lexicographic order.
func (t AttributeTable) IDs() []KeyringID {
	ids := make([]KeyringID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IdentityRecord is the user-facing view of one stored key: its key
// identifier, the primary user id split into name and email, and the keyring
// the key belongs to. Records are always derived from backend key material,
// never persisted on their own.
type IdentityRecord struct {
	KeyID     string    `json:"keyId"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
	KeyringID KeyringID `json:"keyringId"`
}

// NormalizedName returns the display name folded for deterministic ordering.
func (r IdentityRecord) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(r.UserName))
}

// DedupeIdentities removes records with duplicate key identifiers, first
// occurrence wins. The input order is preserved for the survivors.
func DedupeIdentities(records []IdentityRecord) []IdentityRecord {
	seen := make(map[string]bool, len(records))
	out := make([]IdentityRecord, 0, len(records))
	for _, rec := range records {
		if seen[rec.KeyID] {
			continue
		}
		seen[rec.KeyID] = true
		out = append(out, rec)
	}
	return out
}

// SortIdentities orders records by normalized display name, ties broken by
// key identifier.
func SortIdentities(records []IdentityRecord) {
	sort.Slice(records, func(i, j int) bool {
		ni, nj := records[i].NormalizedName(), records[j].NormalizedName()
		if ni != nj {
			return ni < nj
		}
		return records[i].KeyID < records[j].KeyID
	})
}
