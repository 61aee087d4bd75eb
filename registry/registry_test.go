package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/keyring-registry/attrstore"
	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/ruteri/keyring-registry/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend implements interfaces.KeyringBackend for testing
type MockBackend struct {
	mock.Mock
	name string
}

func (m *MockBackend) Load(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) ListIdentities(ctx context.Context) ([]interfaces.IdentityRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.IdentityRecord), args.Error(1)
}

func (m *MockBackend) Remove(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) Clear() {
	m.Called()
}

func (m *MockBackend) Name() string {
	return m.name
}

// stubFactory hands out pre-built backends per keyring id.
type stubFactory struct {
	backends map[interfaces.KeyringID]interfaces.KeyringBackend
}

func (f *stubFactory) BackendFor(id interfaces.KeyringID) (interfaces.KeyringBackend, error) {
	b, ok := f.backends[id]
	if !ok {
		return nil, fmt.Errorf("no backend configured for %s", id)
	}
	return b, nil
}

type stubProbe bool

func (p stubProbe) Available(ctx context.Context) bool { return bool(p) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadedBackend returns a mock that loads successfully.
func loadedBackend(name string) *MockBackend {
	b := &MockBackend{name: name}
	b.On("Load", mock.Anything).Return(nil)
	return b
}

func newTestRegistry(t *testing.T, kv interfaces.KeyValueStore, factory *stubFactory, probe interfaces.DaemonProbe) (*Registry, *attrstore.Store) {
	t.Helper()
	attrs := attrstore.New(kv, testLogger())
	reg := New(Config{
		Attributes: attrs,
		Backends:   factory,
		Probe:      probe,
		Log:        testLogger(),
	})
	return reg, attrs
}

// seedAttributes persists an attribute table before the registry starts, as
// if left behind by a previous run.
func seedAttributes(t *testing.T, kv interfaces.KeyValueStore, ids ...interfaces.KeyringID) {
	t.Helper()
	attrs := attrstore.New(kv, testLogger())
	require.NoError(t, attrs.Load(context.Background()))
	for _, id := range ids {
		require.NoError(t, attrs.Create(context.Background(), id, nil))
	}
}

func TestInit_FirstRunCreatesDefaultKeyring(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))

	failures, err := reg.Init(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failures)

	assert.True(t, attrs.Has(interfaces.DefaultKeyringID))
	kr, err := reg.GetByID(interfaces.DefaultKeyringID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DefaultKeyringID, kr.ID())
	assert.Len(t, reg.GetAll(), 1)
}

func TestInit_DaemonReconciliation(t *testing.T) {
	tests := []struct {
		name        string
		probe       stubProbe
		seedDaemon  bool
		wantPresent bool
	}{
		{name: "daemon appears", probe: stubProbe(true), seedDaemon: false, wantPresent: true},
		{name: "daemon vanished", probe: stubProbe(false), seedDaemon: true, wantPresent: false},
		{name: "daemon still there", probe: stubProbe(true), seedDaemon: true, wantPresent: true},
		{name: "no daemon at all", probe: stubProbe(false), seedDaemon: false, wantPresent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := kvstore.NewMemoryStore()
			seeded := []interfaces.KeyringID{interfaces.DefaultKeyringID}
			if tt.seedDaemon {
				seeded = append(seeded, interfaces.DaemonKeyringID)
			}
			seedAttributes(t, kv, seeded...)

			factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
				interfaces.DefaultKeyringID: loadedBackend("local"),
				interfaces.DaemonKeyringID:  loadedBackend("daemon"),
			}}
			reg, attrs := newTestRegistry(t, kv, factory, tt.probe)

			failures, err := reg.Init(context.Background())
			require.NoError(t, err)
			assert.Empty(t, failures)

			assert.Equal(t, tt.wantPresent, attrs.Has(interfaces.DaemonKeyringID))
			_, err = reg.GetByID(interfaces.DaemonKeyringID)
			if tt.wantPresent {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)
			}
		})
	}
}

func TestInit_PartialFailureTolerance(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	seedAttributes(t, kv, interfaces.DefaultKeyringID, "corrupt")

	broken := &MockBackend{name: "corrupt"}
	broken.On("Load", mock.Anything).Return(fmt.Errorf("%w: bad key file", interfaces.ErrKeyringLoad))

	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
		"corrupt":                   broken,
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))

	failures, err := reg.Init(context.Background())
	require.NoError(t, err)

	// the corrupt keyring is reported and excluded, the default keyring is live
	require.Len(t, failures, 1)
	assert.Equal(t, interfaces.KeyringID("corrupt"), failures[0].ID)
	assert.ErrorIs(t, failures[0].Err, interfaces.ErrKeyringLoad)

	_, err = reg.GetByID(interfaces.DefaultKeyringID)
	assert.NoError(t, err)
	_, err = reg.GetByID("corrupt")
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)

	// the attribute entry survives so a later run can retry
	assert.True(t, attrs.Has("corrupt"))
}

func TestInit_StorageFailureIsFatal(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kv.Set(context.Background(), attrstore.StorageKey, []byte("{corrupt")))

	reg, _ := newTestRegistry(t, kv, &stubFactory{}, stubProbe(false))
	_, err := reg.Init(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrStorageUnavailable)
}

func TestCreateKeyring(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
		"work":                      loadedBackend("work"),
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	kr, err := reg.CreateKeyring(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, interfaces.KeyringID("work"), kr.ID())

	got, err := reg.GetByID("work")
	require.NoError(t, err)
	assert.Same(t, kr, got)
	assert.True(t, attrs.Has("work"))
	assert.Len(t, reg.GetAll(), 2)
}

func TestCreateKeyring_RollbackOnLoadFailure(t *testing.T) {
	kv := kvstore.NewMemoryStore()

	loadErr := fmt.Errorf("%w: unreadable storage", interfaces.ErrKeyringLoad)
	broken := &MockBackend{name: "work"}
	broken.On("Load", mock.Anything).Return(loadErr)

	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
		"work":                      broken,
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	_, err = reg.CreateKeyring(context.Background(), "work")
	// the original error is re-raised and the attribute entry rolled back
	assert.ErrorIs(t, err, interfaces.ErrKeyringLoad)
	assert.False(t, attrs.Has("work"))
	_, err = reg.GetByID("work")
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)
}

func TestCreateKeyring_AlreadyExists(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
	}}
	reg, _ := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	before := len(reg.GetAll())
	_, err = reg.CreateKeyring(context.Background(), interfaces.DefaultKeyringID)
	assert.ErrorIs(t, err, interfaces.ErrKeyringExists)
	assert.Len(t, reg.GetAll(), before)
}

func TestCreateKeyring_InvalidID(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
	}}
	reg, _ := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	_, err = reg.CreateKeyring(context.Background(), "not a valid id")
	assert.Error(t, err)
}

func TestDeleteKeyring(t *testing.T) {
	kv := kvstore.NewMemoryStore()

	work := loadedBackend("work")
	work.On("Remove", mock.Anything).Return(nil)
	work.On("Clear").Return()

	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
		"work":                      work,
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)
	_, err = reg.CreateKeyring(context.Background(), "work")
	require.NoError(t, err)

	require.NoError(t, reg.DeleteKeyring(context.Background(), "work"))

	assert.False(t, attrs.Has("work"))
	_, err = reg.GetByID("work")
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)
	assert.Len(t, reg.GetAll(), 1)
	work.AssertExpectations(t)
}

func TestDeleteKeyring_Unknown(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	err = reg.DeleteKeyring(context.Background(), "ghost")
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)
	assert.Equal(t, []interfaces.KeyringID{interfaces.DefaultKeyringID}, attrs.IDs())
}

func TestDeleteKeyring_RemovalFailureKeepsEntry(t *testing.T) {
	kv := kvstore.NewMemoryStore()

	work := loadedBackend("work")
	removeErr := fmt.Errorf("%w: daemon refused", interfaces.ErrRemovalFailed)
	work.On("Remove", mock.Anything).Return(removeErr).Once()

	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
		"work":                      work,
	}}
	reg, attrs := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)
	_, err = reg.CreateKeyring(context.Background(), "work")
	require.NoError(t, err)

	err = reg.DeleteKeyring(context.Background(), "work")
	assert.ErrorIs(t, err, interfaces.ErrRemovalFailed)

	// the attribute entry and live keyring survive so the delete can be retried
	assert.True(t, attrs.Has("work"))
	_, err = reg.GetByID("work")
	assert.NoError(t, err)

	// the retry succeeds once the backend cooperates
	work.On("Remove", mock.Anything).Return(nil)
	work.On("Clear").Return()
	require.NoError(t, reg.DeleteKeyring(context.Background(), "work"))
	assert.False(t, attrs.Has("work"))
}

func TestGetAllKeyUserID(t *testing.T) {
	kv := kvstore.NewMemoryStore()

	ringA := loadedBackend("ring-a")
	ringA.On("ListIdentities", mock.Anything).Return([]interfaces.IdentityRecord{
		{KeyID: "1", UserName: "B"},
	}, nil)

	ringB := loadedBackend("ring-b")
	ringB.On("ListIdentities", mock.Anything).Return([]interfaces.IdentityRecord{
		{KeyID: "1", UserName: "B"},
		{KeyID: "2", UserName: "A"},
	}, nil)

	local := loadedBackend("local")
	local.On("ListIdentities", mock.Anything).Return([]interfaces.IdentityRecord{}, nil)

	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: local,
		"ring-a":                    ringA,
		"ring-b":                    ringB,
	}}
	reg, _ := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)
	_, err = reg.CreateKeyring(context.Background(), "ring-a")
	require.NoError(t, err)
	_, err = reg.CreateKeyring(context.Background(), "ring-b")
	require.NoError(t, err)

	merged, err := reg.GetAllKeyUserID(context.Background())
	require.NoError(t, err)

	// exactly two records, "A" sorted before "B", and the duplicate key id
	// resolved in favor of the first keyring in registry order
	require.Len(t, merged, 2)
	assert.Equal(t, "A", merged[0].UserName)
	assert.Equal(t, "2", merged[0].KeyID)
	assert.Equal(t, "B", merged[1].UserName)
	assert.Equal(t, "1", merged[1].KeyID)
	assert.Equal(t, interfaces.KeyringID("ring-a"), merged[1].KeyringID)
}

func TestGetAllKeyUserID_BackendError(t *testing.T) {
	kv := kvstore.NewMemoryStore()

	backendErr := errors.New("daemon timeout")
	local := loadedBackend("local")
	local.On("ListIdentities", mock.Anything).Return(nil, backendErr)

	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: local,
	}}
	reg, _ := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	_, err = reg.GetAllKeyUserID(context.Background())
	assert.ErrorIs(t, err, backendErr)
}

func TestKeyringAttrs(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	factory := &stubFactory{backends: map[interfaces.KeyringID]interfaces.KeyringBackend{
		interfaces.DefaultKeyringID: loadedBackend("local"),
	}}
	reg, _ := newTestRegistry(t, kv, factory, stubProbe(false))
	_, err := reg.Init(context.Background())
	require.NoError(t, err)

	require.NoError(t, reg.SetKeyringAttr(context.Background(), interfaces.DefaultKeyringID,
		interfaces.AttributeRecord{"primary_key": "0xCAFE"}))

	value, err := reg.GetKeyringAttr(interfaces.DefaultKeyringID, "primary_key")
	require.NoError(t, err)
	assert.Equal(t, "0xCAFE", value)

	_, err = reg.GetKeyringAttr("ghost", "primary_key")
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)

	err = reg.SetKeyringAttr(context.Background(), "ghost", interfaces.AttributeRecord{"a": 1})
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyring)
}
