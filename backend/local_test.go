package backend

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// armoredTestKey generates a fresh key pair and returns it as an
// ASCII-armored private key block. SerializePrivate signs the identities as
// a side effect, so the block round-trips through ReadArmoredKeyRing.
func armoredTestKey(t *testing.T, name, email string) string {
	t.Helper()

	entity, err := openpgp.NewEntity(name, "", email, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	return buf.String()
}

func TestLocalBackend_ImportAndList(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(t.TempDir(), "work", testLogger())
	require.NoError(t, b.Load(ctx))

	require.NoError(t, b.ImportArmored(ctx, armoredTestKey(t, "Alice", "alice@example.com")))
	require.NoError(t, b.ImportArmored(ctx, armoredTestKey(t, "Bob", "bob@example.com")))

	records, err := b.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	names := map[string]string{}
	for _, rec := range records {
		assert.NotEmpty(t, rec.KeyID)
		assert.Equal(t, interfaces.KeyringID("work"), rec.KeyringID)
		names[rec.UserName] = rec.UserEmail
	}
	assert.Equal(t, "alice@example.com", names["Alice"])
	assert.Equal(t, "bob@example.com", names["Bob"])
}

func TestLocalBackend_LoadPersistedKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := NewLocalBackend(dir, "work", testLogger())
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.ImportArmored(ctx, armoredTestKey(t, "Alice", "alice@example.com")))

	// a fresh adapter over the same directory sees the imported key
	second := NewLocalBackend(dir, "work", testLogger())
	require.NoError(t, second.Load(ctx))

	records, err := second.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Alice", records[0].UserName)
}

func TestLocalBackend_LoadMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet-created")
	b := NewLocalBackend(dir, "work", testLogger())

	require.NoError(t, b.Load(context.Background()))
	records, err := b.ListIdentities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLocalBackend_LoadCorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deadbeef.asc"), []byte("not a key"), 0600))

	b := NewLocalBackend(dir, "work", testLogger())
	err := b.Load(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrKeyringLoad)
}

func TestLocalBackend_ImportInvalidMaterial(t *testing.T) {
	b := NewLocalBackend(t.TempDir(), "work", testLogger())
	require.NoError(t, b.Load(context.Background()))

	assert.Error(t, b.ImportArmored(context.Background(), "garbage"))
}

func TestLocalBackend_Remove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := NewLocalBackend(dir, "work", testLogger())
	require.NoError(t, b.Load(ctx))
	require.NoError(t, b.ImportArmored(ctx, armoredTestKey(t, "Alice", "alice@example.com")))

	require.NoError(t, b.Remove(ctx))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalBackend_Clear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := NewLocalBackend(dir, "work", testLogger())
	require.NoError(t, b.Load(ctx))
	require.NoError(t, b.ImportArmored(ctx, armoredTestKey(t, "Alice", "alice@example.com")))

	b.Clear()

	// cache is gone, durable material is not
	records, err := b.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, b.Load(ctx))
	records, err = b.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
