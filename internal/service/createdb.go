package service

import (
	"context"
	"fmt"

	"github.com/mronstro/rondb-tools/internal/models"
	apierrors "github.com/mronstro/rondb-tools/internal/pkg/errors"
)

// CreateDatabase admits the request, moves the session to
// CREATING_DATABASE and schedules the provisioning job. The scope must
// still hold both locks; the global lock is released once the admission
// check and the persisted transition are done.
func (s *Service) CreateDatabase(scope *RequestScope) error {
	sess := scope.Session
	if sess.Status != models.StatusNormal {
		return apierrors.ErrBusy
	}
	if sess.DB != nil {
		return apierrors.ErrDatabaseExists
	}
	if s.activeDatabases() >= s.cfg.MaxActiveDatabases {
		return apierrors.ErrCapacity
	}

	dbName := models.NewDatabaseName()
	expires := unixSeconds(s.now()) + s.cfg.SessionTTL().Seconds()
	sess.Status = models.StatusCreatingDatabase
	sess.DB = &dbName
	sess.ExpiresAt = &expires
	if err := s.persistSession(scope.Token, sess); err != nil {
		return err
	}
	scope.ReleaseGlobal()

	s.jobs.Add(1)
	go s.createDatabaseJob(scope.Token, dbName)
	return nil
}

// createDatabaseJob provisions the per-session database and loads the
// benchmark table, then finishes the transition. It runs without any
// locks held and re-enters the discipline for the final update.
func (s *Service) createDatabaseJob(token, dbName string) {
	defer s.jobs.Done()
	ctx := context.Background()

	s.log.Info("Creating database in background", "db_name", dbName, "session", token)
	err := s.sql.Exec(ctx,
		fmt.Sprintf("CREATE DATABASE `%s`", dbName),
		"USE benchmark",
		fmt.Sprintf("CALL generate_table_data('%s','bench_tbl',10,100000,1000,1)", dbName),
	)
	if err != nil {
		s.log.Error("Error creating database",
			"db_name", dbName, "session", token, "problem", err.Error())
	}

	found := s.withSession(token, func(sess *models.Session) {
		if err == nil {
			sess.UserMessage = &models.UserMessage{Text: "Database created successfully", Kind: "ok"}
		} else {
			sess.UserMessage = &models.UserMessage{Text: "Database creation failed", Kind: "err"}
			sess.DB = nil
		}
		sess.Status = models.StatusNormal
		s.saveSession(token, sess)
	})
	if !found {
		// Maintenance took the session away mid-creation; nothing owns
		// the database now, so take it back out.
		s.dropDatabase(ctx, dbName, "Session removed during creation", token)
		return
	}

	if err != nil {
		s.dropDatabase(ctx, dbName, "Creation failed", token)
		return
	}
	s.applyProxyConfigLogged(token)
	s.log.Info("Database creation finished", "db_name", dbName, "session", token)
}

// dropDatabase removes dbName best-effort. A failed CREATE can leave a
// partially loaded database behind, hence IF EXISTS.
func (s *Service) dropDatabase(ctx context.Context, dbName, reason, sessionName string) {
	s.log.Info("Dropping database",
		"db_name", dbName, "reason", reason, "session", sessionName)
	err := s.sql.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", dbName))
	if err != nil {
		s.log.Error("Error dropping database",
			"db_name", dbName, "session", sessionName, "problem", err.Error())
		return
	}
	s.log.Info("Dropping database done", "db_name", dbName, "session", sessionName)
}
