// Package backend implements the key storage adapters keyrings are built
// on. Two variants exist, selected once at construction time by keyring
// identifier:
//
//   - LocalBackend keeps ASCII-armored OpenPGP key blocks in a private
//     directory on the local file system. Its Load never fails because of
//     external unavailability.
//
//   - DaemonBackend delegates key storage to an external HashiCorp Vault
//     daemon over its KV v2 API. Its Load fails with ErrDaemonUnavailable
//     when the daemon cannot be reached, which the registry treats as a
//     reconciliation signal rather than a hard startup failure.
//
// Both variants derive identity records (key id, user name, user email)
// from the stored key material on demand; identities are never persisted
// independently.
package backend
