package service

import (
	"context"

	"github.com/mronstro/rondb-tools/internal/models"
)

// Reconcile loads the persisted document and repairs sessions the
// previous process left mid-transition. It must run before requests are
// served and before the maintenance loop starts.
//
// A session stuck in CREATING_DATABASE lost its provisioning job, so the
// database (in unknown shape) is dropped and the session returns to
// NORMAL with no database. A session stuck in STARTING_LOADGEN may have
// live detached processes recorded; they are terminated and the session
// returns to NORMAL so the launch can be retried.
func (s *Service) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.store.Exists()
	if err != nil {
		return err
	}
	if !exists {
		s.log.Info("State file does not exist, starting with no sessions",
			"path", s.store.Path())
		return nil
	}

	doc, err := s.store.Load()
	if err != nil {
		return err
	}
	s.nextLoadgenPortOffset = doc.NextLoadgenPortOffset
	s.sessions = doc.UserSessions

	for token, sess := range s.sessions {
		sess.Lock()
		switch sess.Status {
		case models.StatusCreatingDatabase:
			if sess.DB != nil {
				s.dropDatabase(ctx, *sess.DB, "Startup discovered creation in progress", token)
			}
			sess.DB = nil
			sess.Status = models.StatusNormal
			if err := s.persistSession(token, sess); err != nil {
				sess.Unlock()
				return err
			}
		case models.StatusStartingLoadgen:
			if len(sess.LoadgenPids) > 0 {
				s.sup.TerminateGroup(sess.LoadgenPids, token)
				sess.LoadgenPids = []int{}
			}
			sess.Status = models.StatusNormal
			if err := s.persistSession(token, sess); err != nil {
				sess.Unlock()
				return err
			}
		}
		sess.Unlock()
	}
	return nil
}
