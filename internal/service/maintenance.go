package service

import (
	"context"
	"time"

	"github.com/mronstro/rondb-tools/internal/models"
)

// RunMaintenance reaps expired sessions until stop is closed. Only one
// maintenance goroutine may run; sweeps never overlap.
func (s *Service) RunMaintenance(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		s.MaintenanceSweep()
		select {
		case <-stop:
			return
		case <-time.After(s.cfg.MaintenanceInterval()):
		}
	}
}

// MaintenanceSweep runs one reap iteration. Expired NORMAL sessions are
// first renamed under the global lock, which revokes their cookie and
// frees their token for reuse; the slow teardown then runs without the
// global lock so new requests are not blocked behind signal escalation.
func (s *Service) MaintenanceSweep() {
	now := unixSeconds(s.now())

	var renamed []string
	s.mu.Lock()
	tokens := make([]string, 0, len(s.sessions))
	for token := range s.sessions {
		tokens = append(tokens, token)
	}
	for _, token := range tokens {
		sess := s.sessions[token]
		sess.Lock()
		if sess.Status != models.StatusNormal || sess.ExpiresAt == nil || now < *sess.ExpiresAt {
			sess.Unlock()
			continue
		}
		rmName := models.RemovalName(token)
		s.sessions[rmName] = sess
		s.saveSession(rmName, sess)
		delete(s.sessions, token)
		s.removeSessionLogged(token)
		s.log.Info("Starting cleanup", "session", token, "session_renamed_to", rmName)
		renamed = append(renamed, rmName)
		sess.Unlock()
	}
	s.mu.Unlock()

	if len(renamed) == 0 {
		return
	}
	// One rewrite covers every rename: the stale secrets are gone from
	// the access map before any teardown starts.
	s.applyProxyConfigLogged("maintenance")

	ctx := context.Background()
	for _, rmName := range renamed {
		s.mu.Lock()
		sess, ok := s.sessions[rmName]
		if !ok {
			s.mu.Unlock()
			continue
		}
		sess.Lock()
		s.mu.Unlock()

		if sess.DB != nil {
			s.dropDatabase(ctx, *sess.DB, "Session cleanup", rmName)
		}
		if len(sess.LoadgenPids) > 0 {
			s.sup.TerminateGroup(sess.LoadgenPids, rmName)
		}
		sess.Unlock()

		s.mu.Lock()
		delete(s.sessions, rmName)
		s.removeSessionLogged(rmName)
		s.mu.Unlock()
		s.log.Info("Cleanup done", "session", rmName)
	}
}
