package registryhandler

import "github.com/ruteri/keyring-registry/interfaces"

// KeyringResponse describes one keyring in API responses.
type KeyringResponse struct {
	// ID is the keyring identifier.
	ID interfaces.KeyringID `json:"id"`

	// Attributes is the keyring's attribute record as persisted.
	Attributes interfaces.AttributeRecord `json:"attributes"`
}

// ListKeyringsResponse is the payload of the keyring listing endpoint.
type ListKeyringsResponse struct {
	Keyrings []KeyringResponse `json:"keyrings"`
}

// IdentitiesResponse is the payload of the identity listing endpoints.
type IdentitiesResponse struct {
	Identities []interfaces.IdentityRecord `json:"identities"`
}

// SetAttributesRequest carries a partial attribute record to merge into a
// keyring's attributes.
type SetAttributesRequest struct {
	Attributes interfaces.AttributeRecord `json:"attributes"`
}

// ImportKeyRequest carries ASCII-armored key material for import.
type ImportKeyRequest struct {
	Armored string `json:"armored"`
}
