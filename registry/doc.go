// Package registry implements the keyring registry: the orchestrator that
// owns the in-memory mapping from keyring identifier to live keyring
// instance and keeps it 1:1 with the persisted attribute table.
//
// # Lifecycle
//
// Per keyring identifier the registry drives a small state machine:
//
//	UNKNOWN --CreateKeyring--> PROVISIONING --load success--> ACTIVE
//	PROVISIONING --load failure--> UNKNOWN (attribute entry rolled back)
//	ACTIVE --DeleteKeyring--> REMOVING --remove + attr delete--> UNKNOWN
//
// The transition windows are never externally observable as inconsistent: a
// failed create leaves the system exactly as before the call, and a failed
// delete keeps the attribute entry so the operation is safely retryable.
//
// # Startup
//
// Init loads the attribute table, reconciles the daemon keyring entry
// against the daemon availability probe, creates the default keyring on
// first run, and provisions every known keyring. One corrupt keyring does
// not block the application: its failure is logged, reported in the init
// failure slice and the keyring is simply absent from the registry.
package registry
