package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/ProtonMail/go-crypto/openpgp"
)

// DaemonBackend stores key material in an external HashiCorp Vault daemon
// under a KV v2 mount. One secret per key, holding the armored key block and
// the identity fields derived from it.
type DaemonBackend struct {
	id        interfaces.KeyringID
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger

	mu         sync.RWMutex
	identities []interfaces.IdentityRecord
}

// NewDaemonBackend creates a backend talking to the Vault daemon at address.
// An empty token falls back to the environment (VAULT_TOKEN).
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token, may be empty
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "keyring")
//   - log: Structured logger for operational insights
func NewDaemonBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*DaemonBackend, error) {
	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &DaemonBackend{
		id:        interfaces.DaemonKeyringID,
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}, nil
}

// Available checks if the daemon is reachable, initialized and unsealed.
// Implements the daemon availability probe the registry consults at startup.
func (b *DaemonBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Load populates the identity cache by enumerating the keys stored under the
// daemon's KV path. Fails with ErrDaemonUnavailable when the daemon cannot
// be reached; the registry treats that as a reconciliation signal.
func (b *DaemonBackend) Load(ctx context.Context) error {
	start := time.Now()

	names, err := b.listKeyNames(ctx)
	if err != nil {
		return err
	}

	identities := make([]interfaces.IdentityRecord, 0, len(names))
	for _, name := range names {
		record, err := b.readIdentity(ctx, name)
		if err != nil {
			return err
		}
		identities = append(identities, record)
	}

	b.mu.Lock()
	b.identities = identities
	b.mu.Unlock()

	b.log.Debug("Loaded daemon keyring",
		slog.Int("keys", len(identities)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// ListIdentities returns the identity records cached by the last Load.
func (b *DaemonBackend) ListIdentities(ctx context.Context) ([]interfaces.IdentityRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]interfaces.IdentityRecord, len(b.identities))
	copy(out, b.identities)
	return out, nil
}

// ImportArmored parses an ASCII-armored key block and hands it to the
// daemon, one secret per key in the block.
func (b *DaemonBackend) ImportArmored(ctx context.Context, armored string) error {
	parsed, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return fmt.Errorf("invalid armored key material: %w", err)
	}
	if len(parsed) == 0 {
		return fmt.Errorf("no keys found in armored block")
	}

	for _, entity := range parsed {
		record := identityFromEntity(entity, b.id)
		path := b.keyDataPath(record.KeyID)

		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"key_id":     record.KeyID,
				"user_name":  record.UserName,
				"user_email": record.UserEmail,
				"content":    armored,
			},
		}

		if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
			b.log.Error("Failed to write key to Vault",
				slog.String("path", path),
				slog.String("key_id", record.KeyID),
				"err", err)
			return fmt.Errorf("%w: %v", interfaces.ErrDaemonUnavailable, err)
		}

		b.mu.Lock()
		b.identities = append(b.identities, record)
		b.mu.Unlock()
	}

	b.log.Info("Imported key material into daemon keyring",
		slog.Int("keys", len(parsed)))
	return nil
}

// Remove deletes every key the daemon holds for this keyring, metadata and
// all versions included.
func (b *DaemonBackend) Remove(ctx context.Context) error {
	names, err := b.listKeyNames(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrRemovalFailed, err)
	}

	for _, name := range names {
		path := fmt.Sprintf("%s/metadata/%s/keys/%s", b.mountPath, b.dataPath, name)
		if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
			b.log.Error("Failed to delete key from Vault",
				slog.String("path", path),
				"err", err)
			return fmt.Errorf("%w: %v", interfaces.ErrRemovalFailed, err)
		}
	}

	b.log.Info("Removed daemon keyring storage", slog.Int("keys", len(names)))
	return nil
}

// Clear drops the in-memory identity cache without touching the daemon.
func (b *DaemonBackend) Clear() {
	b.mu.Lock()
	b.identities = nil
	b.mu.Unlock()
}

// Name returns a unique identifier for this backend.
func (b *DaemonBackend) Name() string {
	return fmt.Sprintf("daemon-%s-%s", b.mountPath, b.dataPath)
}

// listKeyNames enumerates stored key names via the KV v2 metadata path.
func (b *DaemonBackend) listKeyNames(ctx context.Context) ([]string, error) {
	path := fmt.Sprintf("%s/metadata/%s/keys", b.mountPath, b.dataPath)

	secret, err := b.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to list keys in Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDaemonUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	names := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// readIdentity reads one key secret and extracts its identity fields.
func (b *DaemonBackend) readIdentity(ctx context.Context, name string) (interfaces.IdentityRecord, error) {
	path := b.keyDataPath(name)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return interfaces.IdentityRecord{}, fmt.Errorf("%w: %v", interfaces.ErrDaemonUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return interfaces.IdentityRecord{}, fmt.Errorf("%w: key %s vanished during load", interfaces.ErrKeyringLoad, name)
	}

	// KV v2 nests the stored fields under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return interfaces.IdentityRecord{}, fmt.Errorf("%w: invalid data format for key %s", interfaces.ErrKeyringLoad, name)
	}

	record := interfaces.IdentityRecord{
		KeyID:     name,
		KeyringID: b.id,
	}
	if keyID, ok := data["key_id"].(string); ok && keyID != "" {
		record.KeyID = keyID
	}
	if userName, ok := data["user_name"].(string); ok {
		record.UserName = userName
	}
	if userEmail, ok := data["user_email"].(string); ok {
		record.UserEmail = userEmail
	}
	return record, nil
}

// keyDataPath builds the KV v2 data path for one key.
func (b *DaemonBackend) keyDataPath(name string) string {
	return fmt.Sprintf("%s/data/%s/keys/%s", b.mountPath, b.dataPath, name)
}
