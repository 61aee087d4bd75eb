package registryhandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/keyring-registry/interfaces"
)

// Client is a typed HTTP client for the registry service.
type Client struct {
	// ServerAddr is the base URL of the registry service
	// (e.g. "http://127.0.0.1:8080").
	ServerAddr string

	// HTTPClient is used for requests; http.DefaultClient when nil.
	HTTPClient *http.Client
}

// ListKeyrings fetches every live keyring with its attributes.
func (c *Client) ListKeyrings() (*ListKeyringsResponse, error) {
	var response ListKeyringsResponse
	if err := c.do(http.MethodGet, "/api/keyrings", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// CreateKeyring creates a keyring with the given identifier.
func (c *Client) CreateKeyring(id interfaces.KeyringID) (*KeyringResponse, error) {
	var response KeyringResponse
	if err := c.do(http.MethodPut, fmt.Sprintf("/api/keyrings/%s", id), nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// DeleteKeyring deletes the keyring and its durable key material.
func (c *Client) DeleteKeyring(id interfaces.KeyringID) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/api/keyrings/%s", id), nil, nil)
}

// GetKeyring fetches one keyring with its attributes.
func (c *Client) GetKeyring(id interfaces.KeyringID) (*KeyringResponse, error) {
	var response KeyringResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/keyrings/%s", id), nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SetAttributes merges the partial record into the keyring's attributes and
// returns the updated record.
func (c *Client) SetAttributes(id interfaces.KeyringID, attrs interfaces.AttributeRecord) (*KeyringResponse, error) {
	var response KeyringResponse
	req := SetAttributesRequest{Attributes: attrs}
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/keyrings/%s/attributes", id), req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// KeyringIdentities fetches the identities of one keyring.
func (c *Client) KeyringIdentities(id interfaces.KeyringID) ([]interfaces.IdentityRecord, error) {
	var response IdentitiesResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/keyrings/%s/identities", id), nil, &response); err != nil {
		return nil, err
	}
	return response.Identities, nil
}

// AllIdentities fetches the merged cross-keyring identity listing.
func (c *Client) AllIdentities() ([]interfaces.IdentityRecord, error) {
	var response IdentitiesResponse
	if err := c.do(http.MethodGet, "/api/identities", nil, &response); err != nil {
		return nil, err
	}
	return response.Identities, nil
}

// ImportKey imports ASCII-armored key material into one keyring.
func (c *Client) ImportKey(id interfaces.KeyringID, armored string) error {
	req := ImportKeyRequest{Armored: armored}
	return c.do(http.MethodPost, fmt.Sprintf("/api/keyrings/%s/keys", id), req, nil)
}

// do runs one request against the service, encoding the optional request
// body and decoding the optional response body as JSON.
func (c *Client) do(method, path string, requestBody, responseBody any) error {
	var body io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.ServerAddr+path, body)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request registry: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read registry response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("registry request failed (%d): %s", resp.StatusCode, bytes.TrimSpace(respData))
	}

	if responseBody != nil {
		if err := json.Unmarshal(respData, responseBody); err != nil {
			return fmt.Errorf("could not parse registry response: %w", err)
		}
	}
	return nil
}
