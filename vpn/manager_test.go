package vpn

import (
	"context"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/ovpn-manager/common"
)

// memStore is an in-memory CredentialStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) Store(id, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = password
	return nil
}

func (s *memStore) Get(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[id]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return p, nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	return nil
}

type managerFixture struct {
	m        *Manager
	launcher *fakeLauncher
	procs    []*fakeProcess
	store    *memStore
	profile  *Profile
}

func newManagerFixture(t *testing.T, cfg ManagerConfig, profile Profile) *managerFixture {
	t.Helper()

	procs := []*fakeProcess{newFakeProcess(100), newFakeProcess(101)}
	for _, p := range procs {
		p.exitOnSignal = true
	}
	launcher := &fakeLauncher{procs: append([]*fakeProcess(nil), procs...)}
	store := newMemStore()

	cfg.ConfigDir = t.TempDir()
	cfg.Launcher = launcher
	cfg.Dialer = &pipeDialer{server: newFakeManagement()}
	cfg.Credentials = store
	cfg.Logger = nopLogger{}

	m, err := NewManager(cfg)
	require.NoError(t, err)

	profile.ConfigPath = writeSampleConfig(t, "office.ovpn", sampleConfig)
	require.NoError(t, m.ProfileManager().Add(&profile))

	t.Cleanup(func() {
		for _, p := range procs {
			p.exit(nil)
		}
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = m.Shutdown(ctx)
		m.Close()
	})

	return &managerFixture{m: m, launcher: launcher, procs: procs, store: store, profile: &profile}
}

func (f *managerFixture) spec(t *testing.T, i int) LaunchSpec {
	t.Helper()
	f.launcher.mu.Lock()
	defer f.launcher.mu.Unlock()
	require.Greater(t, len(f.launcher.specs), i)
	return f.launcher.specs[i]
}

func argAfter(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestManager_ConnectBuildsCommandLine(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{OpenVPNBinary: "/usr/sbin/openvpn"}, Profile{
		Name:           "office",
		Username:       "alice",
		ManagementPort: 7505,
		ExtraArgs:      []string{"--data-ciphers", "AES-256-GCM"},
	})

	require.NoError(t, f.m.Connect(f.profile.ID, "s3cret"))

	spec := f.spec(t, 0)
	assert.Equal(t, "/usr/sbin/openvpn", spec.Binary)
	assert.Equal(t, "127.0.0.1:7505", spec.ManagementAddr)

	cfgPath, ok := argAfter(spec.Args, "--config")
	require.True(t, ok)
	assert.Equal(t, f.profile.ConfigPath, cfgPath)
	assert.Contains(t, spec.Args, "--management-hold")
	assert.Equal(t, []string{"--data-ciphers", "AES-256-GCM"}, spec.Args[len(spec.Args)-2:])

	credPath, ok := argAfter(spec.Args, "--auth-user-pass")
	require.True(t, ok)
	data, err := os.ReadFile(credPath)
	require.NoError(t, err)
	assert.Equal(t, "alice\ns3cret\n", string(data))

	sup, ok := f.m.Supervisor(f.profile.ID)
	require.True(t, ok)
	require.NoError(t, f.m.Disconnect(f.profile.ID))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, sup.WaitState(ctx, StateStopped))

	_, err = os.Stat(credPath)
	assert.True(t, os.IsNotExist(err), "credentials file should be removed after exit")

	p, err := f.m.ProfileManager().Get(f.profile.ID)
	require.NoError(t, err)
	assert.False(t, p.LastUsed.IsZero())
}

func TestManager_Pkexec(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{UsePkexec: true}, Profile{Name: "office"})

	require.NoError(t, f.m.Connect(f.profile.ID, ""))

	spec := f.spec(t, 0)
	assert.Equal(t, "pkexec", spec.Binary)
	assert.Equal(t, "openvpn", spec.Args[0])
	assert.NotContains(t, spec.Args, "--auth-user-pass")
}

func TestManager_SavedPassword(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, Profile{Name: "office", Username: "bob", SavePassword: true})

	require.NoError(t, f.m.Connect(f.profile.ID, "first"))
	saved, err := f.store.Get(f.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", saved)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.m.Reconnect(ctx, f.profile.ID))
	assert.Equal(t, 2, f.launcher.launchCount())

	credPath, ok := argAfter(f.spec(t, 1).Args, "--auth-user-pass")
	require.True(t, ok)
	data, err := os.ReadFile(credPath)
	require.NoError(t, err)
	assert.Equal(t, "bob\nfirst\n", string(data))
}

func TestManager_ConnectRejectedWhileActive(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, Profile{Name: "office"})

	require.NoError(t, f.m.Connect(f.profile.ID, ""))
	assert.ErrorIs(t, f.m.Connect(f.profile.ID, ""), ErrAlreadyRunning)
	assert.Equal(t, 1, f.launcher.launchCount())
	assert.Len(t, f.m.Active(), 1)
}

func TestManager_UnknownProfile(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, Profile{Name: "office"})

	assert.ErrorIs(t, f.m.Connect("nope", ""), ErrProfileNotFound)
	assert.ErrorIs(t, f.m.Disconnect("nope"), ErrNotRunning)
}

func TestManager_DisconnectStoppedReportsOnHub(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, Profile{Name: "office"})
	rec := &recorder{}
	sub := f.m.Subscribe(rec)
	defer sub.Close()

	assert.ErrorIs(t, f.m.Disconnect(f.profile.ID), ErrNotRunning)
	assert.ErrorIs(t, f.m.Disconnect("nope"), ErrNotRunning)

	require.Eventually(t, func() bool { return len(rec.logEvents()) == 2 }, waitFor, tick)
	events := rec.logEvents()
	assert.Equal(t, f.profile.ID, events[0].ProfileID())
	assert.Equal(t, CategoryInternal, events[0].Category())
	assert.Equal(t, "disconnect ignored: office is STOPPED", events[0].Message())
	assert.Equal(t, "nope", events[1].ProfileID())
	assert.Empty(t, rec.stateEvents())
}

func TestManager_PrepareFailureReportsOnHub(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{ManagementHost: "host.invalid"}, Profile{Name: "office"})
	rec := &recorder{}
	sub := f.m.Subscribe(rec)
	defer sub.Close()

	assert.ErrorIs(t, f.m.Connect(f.profile.ID, ""), ErrSpawnFailure)

	require.Eventually(t, func() bool {
		return rec.hasLog(CategoryInternal, "failed to prepare office")
	}, waitFor, tick)
	assert.Equal(t, f.profile.ID, rec.logEvents()[0].ProfileID())
	assert.Equal(t, 0, f.launcher.launchCount())
	assert.Empty(t, rec.stateEvents())
}

func TestManager_SubscribeSeesAllProfiles(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, Profile{Name: "office"})
	rec := &recorder{}
	sub := f.m.Subscribe(rec)
	defer sub.Close()

	require.NoError(t, f.m.Connect(f.profile.ID, ""))
	require.NoError(t, f.m.DisconnectAll())

	require.Eventually(t, func() bool {
		return slices.Equal(rec.stateSequence(), []ConnectionState{StateInitializing, StateStopping, StateStopped})
	}, waitFor, tick)
	for _, e := range rec.stateEvents() {
		assert.Equal(t, f.profile.ID, e.ProfileID)
	}
	assert.Empty(t, f.m.Active())
}
