package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ruteri/keyring-registry/interfaces"
)

// Config holds the construction parameters for both backend variants.
type Config struct {
	// KeysDir is the base directory local keyrings store key files under;
	// each keyring gets its own subdirectory.
	KeysDir string

	// VaultAddr is the address of the external key management daemon. Empty
	// means no daemon is configured and the daemon keyring is unavailable.
	VaultAddr string

	// VaultToken authenticates against the daemon. Empty falls back to the
	// environment.
	VaultToken string

	// VaultMount is the KV v2 mount path, "secret" when empty.
	VaultMount string

	// VaultPath is the path within the mount, "keyring" when empty.
	VaultPath string
}

// Factory constructs the backend matching a keyring identifier. The daemon
// identifier maps to the Vault-backed variant, every other identifier to a
// local file-backed variant.
type Factory struct {
	cfg Config
	log *slog.Logger
}

// NewFactory creates a backend factory, applying defaults for the daemon
// mount and path.
func NewFactory(cfg Config, log *slog.Logger) *Factory {
	if cfg.VaultMount == "" {
		cfg.VaultMount = "secret"
	}
	if cfg.VaultPath == "" {
		cfg.VaultPath = "keyring"
	}
	return &Factory{cfg: cfg, log: log}
}

// BackendFor creates the backend for the given keyring identifier.
func (f *Factory) BackendFor(id interfaces.KeyringID) (interfaces.KeyringBackend, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	if id.IsDaemon() {
		if f.cfg.VaultAddr == "" {
			return nil, fmt.Errorf("%w: no daemon address configured", interfaces.ErrDaemonUnavailable)
		}
		return NewDaemonBackend(f.cfg.VaultAddr, f.cfg.VaultToken, f.cfg.VaultMount, f.cfg.VaultPath, f.log)
	}

	return NewLocalBackend(filepath.Join(f.cfg.KeysDir, id.String()), id, f.log), nil
}

// DaemonProbe returns the availability probe for the configured daemon. A
// missing daemon configuration yields a probe that always reports
// unavailable, which makes startup reconciliation drop any stale daemon
// keyring entry.
func (f *Factory) DaemonProbe() interfaces.DaemonProbe {
	if f.cfg.VaultAddr == "" {
		return unavailableProbe{}
	}

	daemon, err := NewDaemonBackend(f.cfg.VaultAddr, f.cfg.VaultToken, f.cfg.VaultMount, f.cfg.VaultPath, f.log)
	if err != nil {
		f.log.Warn("Failed to create daemon probe", "err", err)
		return unavailableProbe{}
	}
	return daemon
}

type unavailableProbe struct{}

func (unavailableProbe) Available(ctx context.Context) bool { return false }
