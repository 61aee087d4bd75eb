package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKeyringID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "work", wantErr: false},
		{name: "reserved local", input: "local", wantErr: false},
		{name: "with separators", input: "team.alpha_2-x", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "leading dot", input: ".hidden", wantErr: true},
		{name: "slash", input: "a/b", wantErr: true},
		{name: "whitespace", input: "a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewKeyringID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.input, id.String())
			}
		})
	}
}

func TestDedupeIdentities(t *testing.T) {
	records := []IdentityRecord{
		{KeyID: "1", UserName: "Bob", KeyringID: "a"},
		{KeyID: "2", UserName: "Alice", KeyringID: "a"},
		{KeyID: "1", UserName: "Bob", KeyringID: "b"},
	}

	deduped := DedupeIdentities(records)
	assert.Len(t, deduped, 2)
	// first occurrence wins
	assert.Equal(t, KeyringID("a"), deduped[0].KeyringID)
	assert.Equal(t, "1", deduped[0].KeyID)
	assert.Equal(t, "2", deduped[1].KeyID)
}

func TestSortIdentities(t *testing.T) {
	records := []IdentityRecord{
		{KeyID: "3", UserName: "  carol "},
		{KeyID: "2", UserName: "ALICE"},
		{KeyID: "1", UserName: "bob"},
		{KeyID: "0", UserName: "alice"},
	}

	SortIdentities(records)

	// normalized name first, key id breaks the alice tie
	assert.Equal(t, []string{"0", "2", "1", "3"}, []string{
		records[0].KeyID, records[1].KeyID, records[2].KeyID, records[3].KeyID,
	})
}

func TestAttributeRecordClone(t *testing.T) {
	rec := AttributeRecord{"primary_key": "abc"}
	clone := rec.Clone()
	clone["primary_key"] = "changed"
	assert.Equal(t, "abc", rec["primary_key"])

	var nilRec AttributeRecord
	assert.NotNil(t, nilRec.Clone())
}

func TestAttributeTableIDs(t *testing.T) {
	table := AttributeTable{
		"zeta":  {},
		"local": {},
		"alpha": {},
	}
	assert.Equal(t, []KeyringID{"alpha", "local", "zeta"}, table.IDs())
}
