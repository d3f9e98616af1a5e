package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mronstro/rondb-tools/internal/config"
	"github.com/mronstro/rondb-tools/internal/eventlog"
	"github.com/mronstro/rondb-tools/internal/models"
	"github.com/mronstro/rondb-tools/internal/nginx"
	"github.com/mronstro/rondb-tools/internal/store"
)

// testEpoch is the fixed wall clock injected into test services.
var testEpoch = time.Unix(1700000000, 0)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		NodeUser:                   "rondb",
		RunDir:                     dir,
		DurableDir:                 dir,
		ConfigFiles:                dir,
		MySQLHost:                  "127.0.0.1",
		MySQLPassword:              "secret",
		GrafanaHost:                "127.0.0.1",
		GUISecret:                  "ffffffffffffffffffff",
		RDRSMajorVersion:           "2",
		RDRSURI:                    "http://10.0.0.1:4406",
		NginxErrorLog:              filepath.Join(dir, "nginx-error.log"),
		ListenAddr:                 ":0",
		LoadgenWorkerCount:         2,
		SessionTTLSeconds:          900,
		MaxActiveDatabases:         6,
		MaintenanceIntervalSeconds: 1,
		LoadgenBin:                 "locust",
		NginxBin:                   "nginx",
		StaticDir:                  "demo_static",
		ScriptsDir:                 "/home/rondb/scripts",
		MySQLPort:                  3306,
		MySQLUser:                  "db_create_user",
	}
}

// fakeSQL records statement batches and fails according to failOn.
type fakeSQL struct {
	mu      sync.Mutex
	batches [][]string
	// failOn returns an error for a given batch; nil means success.
	failOn func(statements []string) error
	// block, when set, is received from before each batch returns.
	block chan struct{}
}

func (f *fakeSQL) Exec(ctx context.Context, statements ...string) error {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), statements...))
	failOn := f.failOn
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if failOn != nil {
		return failOn(statements)
	}
	return nil
}

func (f *fakeSQL) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

// firstStatements flattens the recorded batches for containment checks.
func (f *fakeSQL) statements() []string {
	var out []string
	for _, batch := range f.calls() {
		out = append(out, batch...)
	}
	return out
}

type spawnCall struct {
	argv   []string
	stdout string
	stderr string
}

type groupCall struct {
	pids []int
	name string
}

// fakeSupervisor hands out pids 1001, 1002, ... and records every
// terminate request.
type fakeSupervisor struct {
	mu sync.Mutex
	// failCall is the 1-based spawn attempt that fails; 0 disables.
	failCall int
	attempts int
	spawns   []spawnCall
	groups   []groupCall
	singles  []int
}

func (f *fakeSupervisor) SpawnDetached(argv []string, stdoutPath, stderrPath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failCall != 0 && f.attempts == f.failCall {
		return 0, errors.New("spawn failed")
	}
	f.spawns = append(f.spawns, spawnCall{
		argv:   append([]string(nil), argv...),
		stdout: stdoutPath,
		stderr: stderrPath,
	})
	return 1000 + f.attempts, nil
}

func (f *fakeSupervisor) Terminate(pid int, sessionName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, pid)
}

func (f *fakeSupervisor) TerminateGroup(pids []int, sessionName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, groupCall{
		pids: append([]int(nil), pids...),
		name: sessionName,
	})
}

func (f *fakeSupervisor) spawnCalls() []spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spawnCall(nil), f.spawns...)
}

func (f *fakeSupervisor) groupCalls() []groupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]groupCall(nil), f.groups...)
}

// fakeProxy records applied snapshots.
type fakeProxy struct {
	mu    sync.Mutex
	snaps []nginx.Snapshot
	err   error
}

func (f *fakeProxy) Apply(snap nginx.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return f.err
}

func (f *fakeProxy) applied() []nginx.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nginx.Snapshot(nil), f.snaps...)
}

type testEnv struct {
	svc   *Service
	store *store.Store
	sql   *fakeSQL
	sup   *fakeSupervisor
	proxy *fakeProxy
	cfg   *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	st, err := store.New(cfg.StateFilePath())
	require.NoError(t, err)
	log, err := eventlog.New(cfg.EventLogPath())
	require.NoError(t, err)
	t.Cleanup(log.Close)

	env := &testEnv{
		store: st,
		sql:   &fakeSQL{},
		sup:   &fakeSupervisor{},
		proxy: &fakeProxy{},
		cfg:   cfg,
	}
	env.svc = New(cfg, st, env.sql, env.sup, env.proxy, log)
	env.svc.now = func() time.Time { return testEpoch }
	env.svc.sleep = func(time.Duration) {}
	return env
}

// begin opens a request scope the way the middleware does.
func (e *testEnv) begin(t *testing.T, token string) *RequestScope {
	t.Helper()
	scope, err := e.svc.BeginRequest(token, false)
	require.NoError(t, err)
	return scope
}

// storedSession reads one session back from the persisted document.
func (e *testEnv) storedSession(t *testing.T, token string) *models.Session {
	t.Helper()
	doc, err := e.store.Load()
	require.NoError(t, err)
	return doc.UserSessions[token]
}

const testToken = "0123456789abcdef0123"

func TestBeginRequestCreatesAndPersistsSession(t *testing.T) {
	env := newTestEnv(t)

	scope := env.begin(t, testToken)
	assert.Equal(t, testToken, scope.Token)
	assert.Equal(t, models.StatusNormal, scope.Session.Status)
	scope.End()

	stored := env.storedSession(t, testToken)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusNormal, stored.Status)
	assert.Nil(t, stored.DB)
	assert.Nil(t, stored.ExpiresAt)
}

func TestBeginRequestReusesExistingSession(t *testing.T) {
	env := newTestEnv(t)

	scope1 := env.begin(t, testToken)
	first := scope1.Session
	scope1.End()

	scope2 := env.begin(t, testToken)
	assert.Same(t, first, scope2.Session)
	scope2.End()

	env.svc.mu.Lock()
	assert.Len(t, env.svc.sessions, 1)
	env.svc.mu.Unlock()
}

func TestReleaseGlobalIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	scope := env.begin(t, testToken)
	scope.ReleaseGlobal()
	scope.ReleaseGlobal()

	// The global lock must be free again: another session can start
	// while the first scope still holds its session lock.
	done := make(chan struct{})
	go func() {
		other := env.begin(t, "aaaaaaaaaaaaaaaaaaaa")
		other.End()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("global lock still held after ReleaseGlobal")
	}
	scope.End()
}

func TestEndReleasesBothLocks(t *testing.T) {
	env := newTestEnv(t)

	scope := env.begin(t, testToken)
	scope.End()

	// Both locks free: re-entering the same session must not block.
	done := make(chan struct{})
	go func() {
		again := env.begin(t, testToken)
		again.End()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("locks still held after End")
	}
}

func TestCountsTracksSessionsAndDatabases(t *testing.T) {
	env := newTestEnv(t)

	sessions, dbs := env.svc.Counts()
	assert.Zero(t, sessions)
	assert.Zero(t, dbs)

	// One idle session, one with a database, one mid-creation.
	env.begin(t, "aaaaaaaaaaaaaaaaaaaa").End()

	scopeB := env.begin(t, "bbbbbbbbbbbbbbbbbbbb")
	db := "db_0011223344556677"
	scopeB.Session.DB = &db
	scopeB.End()

	scopeC := env.begin(t, "cccccccccccccccccccc")
	scopeC.Session.Status = models.StatusCreatingDatabase
	scopeC.End()

	sessions, dbs = env.svc.Counts()
	assert.Equal(t, 3, sessions)
	assert.Equal(t, 2, dbs)
}

func TestApplyProxyConfigSnapshotsSessions(t *testing.T) {
	env := newTestEnv(t)

	offset := 7
	scopeA := env.begin(t, "aaaaaaaaaaaaaaaaaaaa")
	scopeA.Session.LoadgenPortOffset = &offset
	scopeA.End()

	env.begin(t, "bbbbbbbbbbbbbbbbbbbb").End()

	// A renamed session mid-teardown keeps cluster access but must not
	// appear in the port map.
	env.svc.mu.Lock()
	removing := models.NewSession()
	rmOffset := 9
	removing.LoadgenPortOffset = &rmOffset
	env.svc.sessions["cccccccccccccccccccc_removing_0a0b0c"] = removing
	env.svc.mu.Unlock()

	require.NoError(t, env.svc.ApplyProxyConfig())

	snaps := env.proxy.applied()
	require.Len(t, snaps, 1)
	assert.ElementsMatch(t, []string{
		"aaaaaaaaaaaaaaaaaaaa",
		"bbbbbbbbbbbbbbbbbbbb",
		"cccccccccccccccccccc_removing_0a0b0c",
	}, snaps[0].AccessSecrets)
	assert.ElementsMatch(t, []nginx.PortEntry{
		{Secret: "aaaaaaaaaaaaaaaaaaaa", HTTPPort: 44007},
	}, snaps[0].Ports)
}

func TestViewModelUsesConfiguredDashboard(t *testing.T) {
	env := newTestEnv(t)

	scope := env.begin(t, testToken)
	defer scope.End()

	vm := env.svc.ViewModel(scope)
	assert.Equal(t, "rdrs2_overview", vm.DefaultGrafanaDashboard)
	assert.True(t, vm.CanCreateDatabase)
	assert.Equal(t, "Click on 'Create Database'", vm.Suggestion)
}
