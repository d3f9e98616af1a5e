// Package service implements the session lifecycle coordinator: admission
// control, port allocation, database and load generator transitions,
// startup reconciliation and TTL maintenance.
//
// Locking discipline: the global state lock protects the session map, the
// port-offset hint and every multi-session read. Per-session locks protect
// a session's fields. Acquisition order is strictly global lock first,
// then session lock; the persistence store's file lock is always
// innermost. Session fields that are read across sessions (status, db,
// port offset, expiry) are only ever written while the global lock is
// held, which makes global-lock-only scans safe.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/mronstro/rondb-tools/internal/config"
	"github.com/mronstro/rondb-tools/internal/eventlog"
	"github.com/mronstro/rondb-tools/internal/models"
	"github.com/mronstro/rondb-tools/internal/nginx"
)

// SQL executes statement batches against the shared MySQL server.
type SQL interface {
	Exec(ctx context.Context, statements ...string) error
}

// ProcessSupervisor manages detached load generator processes.
type ProcessSupervisor interface {
	SpawnDetached(argv []string, stdoutPath, stderrPath string) (int, error)
	Terminate(pid int, sessionName string)
	TerminateGroup(pids []int, sessionName string)
}

// ProxyWriter installs the reverse-proxy fragment and reloads nginx.
type ProxyWriter interface {
	Apply(snap nginx.Snapshot) error
}

// StateStore persists the application state document.
type StateStore interface {
	Load() (models.Document, error)
	Update(fn func(models.Document) models.Document) (models.Document, error)
	Exists() (bool, error)
	Path() string
}

// Service coordinates all session state transitions.
type Service struct {
	cfg   *config.Config
	store StateStore
	sql   SQL
	sup   ProcessSupervisor
	proxy ProxyWriter
	log   *eventlog.Logger

	// mu is the global state lock.
	mu                    sync.Mutex
	sessions              map[string]*models.Session
	nextLoadgenPortOffset int

	// now and sleep are injected by tests.
	now   func() time.Time
	sleep func(d time.Duration)

	jobs sync.WaitGroup
}

// New assembles a coordinator. Reconcile must run before the first
// request is served.
func New(cfg *config.Config, store StateStore, sqlExec SQL, sup ProcessSupervisor, proxy ProxyWriter, log *eventlog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		sql:      sqlExec,
		sup:      sup,
		proxy:    proxy,
		log:      log,
		sessions: map[string]*models.Session{},
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// RequestScope pins one HTTP request to a session. While it is open the
// per-session lock is held; the global lock is held until ReleaseGlobal
// or End.
type RequestScope struct {
	Token   string
	Session *models.Session

	svc *Service

	mu         sync.Mutex
	globalHeld bool
}

// ReleaseGlobal drops the global state lock early so the request keeps
// only its session lock. It is idempotent; calling it is optional.
func (sc *RequestScope) ReleaseGlobal() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.globalHeld {
		sc.svc.mu.Unlock()
		sc.globalHeld = false
	}
}

// End releases the session lock and whichever locks remain.
func (sc *RequestScope) End() {
	sc.Session.Unlock()
	sc.ReleaseGlobal()
}

// BeginRequest acquires the global lock, resolves (or creates and
// persists) the session for token, acquires its lock, and returns the
// open scope. minted marks a token the middleware just generated.
func (s *Service) BeginRequest(token string, minted bool) (*RequestScope, error) {
	if minted {
		s.log.Info("New session cookie - probably new device", "session", token)
	}
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if !ok {
		sess = models.NewSession()
		s.sessions[token] = sess
		if err := s.persistSession(token, sess); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if !minted {
			s.log.Info("New session object for returning user", "session", token)
		}
	}
	sess.Lock()
	return &RequestScope{Token: token, Session: sess, svc: s, globalHeld: true}, nil
}

// ViewModel projects the scope's session for the browser. The session
// lock held by the scope keeps the read consistent.
func (s *Service) ViewModel(scope *RequestScope) models.ViewModel {
	return scope.Session.ViewModel(s.cfg.DefaultGrafanaDashboard())
}

// Counts reports the session count and the active database count for the
// metrics gauges. An active database is a session whose db is set or
// whose creation is in flight.
func (s *Service) Counts() (sessions, activeDatabases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), s.activeDatabases()
}

// activeDatabases counts sessions holding or creating a database. The
// caller must hold the global lock.
func (s *Service) activeDatabases() int {
	n := 0
	for _, sess := range s.sessions {
		if sess.DB != nil || sess.Status == models.StatusCreatingDatabase {
			n++
		}
	}
	return n
}

// withSession re-enters the lock discipline (global, then session) and
// runs fn with both locks held. It reports false when the session no
// longer exists; background jobs tolerate that, since maintenance may
// have renamed or removed the session in the meantime.
func (s *Service) withSession(token string, fn func(sess *models.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	sess.Lock()
	defer sess.Unlock()
	fn(sess)
	return true
}

// WaitForJobs blocks until every in-flight background job has finished.
// Tests use it to observe post-transition state.
func (s *Service) WaitForJobs() {
	s.jobs.Wait()
}

// persistSession writes a snapshot of sess under key into the state
// document. The caller must hold the session lock.
func (s *Service) persistSession(key string, sess *models.Session) error {
	snap := sess.Clone()
	_, err := s.store.Update(func(doc models.Document) models.Document {
		doc.UserSessions[key] = snap
		return doc
	})
	return err
}

// saveSession is persistSession for paths with nobody to report to:
// a failure is logged and the in-memory transition stands. Startup
// reconciliation repairs the divergence if the process dies before a
// later write succeeds.
func (s *Service) saveSession(key string, sess *models.Session) {
	if err := s.persistSession(key, sess); err != nil {
		s.log.Error("Error persisting state", "session", key, "problem", err.Error())
	}
}

// removeSession deletes key from the state document.
func (s *Service) removeSession(key string) error {
	_, err := s.store.Update(func(doc models.Document) models.Document {
		delete(doc.UserSessions, key)
		return doc
	})
	return err
}

func (s *Service) removeSessionLogged(key string) {
	if err := s.removeSession(key); err != nil {
		s.log.Error("Error persisting state", "session", key, "problem", err.Error())
	}
}

// persistNextOffset records the allocator hint. The caller must hold the
// global lock.
func (s *Service) persistNextOffset() error {
	next := s.nextLoadgenPortOffset
	_, err := s.store.Update(func(doc models.Document) models.Document {
		doc.NextLoadgenPortOffset = next
		return doc
	})
	return err
}

// ApplyProxyConfig renders the proxy snapshot under the global lock and
// hands it to the writer. The writer installs and reloads outside the
// global lock; only the store's file lock serializes installation.
func (s *Service) ApplyProxyConfig() error {
	return s.proxy.Apply(s.renderProxySnapshot())
}

func (s *Service) renderProxySnapshot() nginx.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := nginx.Snapshot{}
	for token, sess := range s.sessions {
		snap.AccessSecrets = append(snap.AccessSecrets, token)
		// Renamed sessions mid-teardown fail the secret check; sessions
		// that never ran a load generator have no offset.
		if models.ValidGUISecret(token) && sess.LoadgenPortOffset != nil {
			snap.Ports = append(snap.Ports, nginx.PortEntry{
				Secret:   token,
				HTTPPort: httpUIPortBase + *sess.LoadgenPortOffset,
			})
		}
	}
	return snap
}

// applyProxyConfigLogged is for background flows where a reload failure
// must not undo an otherwise completed transition; the next successful
// apply heals the fragment.
func (s *Service) applyProxyConfigLogged(sessionName string) {
	if err := s.ApplyProxyConfig(); err != nil {
		s.log.Error("Error reloading proxy configuration",
			"problem", err.Error(), "session", sessionName)
	}
}

// unixSeconds converts t to the float seconds-since-epoch format used in
// the persisted document.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
