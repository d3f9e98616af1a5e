package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mronstro/rondb-tools/internal/models"
	apierrors "github.com/mronstro/rondb-tools/internal/pkg/errors"
)

// Load generator port layout: each session owns one offset in
// [0, portOffsetSpan) and derives both listener ports from it.
const (
	masterPortBase = 33000
	httpUIPortBase = 44000
	portOffsetSpan = 10000
)

// RunLoadgen validates the session, allocates a port offset on first
// use, moves the session to STARTING_LOADGEN and schedules the launch
// job. The scope must still hold both locks.
func (s *Service) RunLoadgen(scope *RequestScope) error {
	sess := scope.Session
	if sess.Status != models.StatusNormal {
		return apierrors.ErrBusy
	}
	if sess.DB == nil {
		return apierrors.ErrNoDatabase
	}
	if sess.LoadgenPids != nil {
		return apierrors.ErrLoadgenRunning
	}

	if sess.LoadgenPortOffset == nil {
		offset := s.allocatePortOffset()
		sess.LoadgenPortOffset = &offset
		if err := s.persistNextOffset(); err != nil {
			return err
		}
		if err := s.persistSession(scope.Token, sess); err != nil {
			return err
		}
	}
	sess.Status = models.StatusStartingLoadgen
	if err := s.persistSession(scope.Token, sess); err != nil {
		return err
	}
	masterPort := masterPortBase + *sess.LoadgenPortOffset
	httpPort := httpUIPortBase + *sess.LoadgenPortOffset
	dbName := *sess.DB
	scope.ReleaseGlobal()

	s.jobs.Add(1)
	go s.startLoadgenJob(scope.Token, dbName, masterPort, httpPort)
	return nil
}

// allocatePortOffset returns the first free offset at or after the
// stored hint, wrapping at portOffsetSpan, and advances the hint past
// it. The caller must hold the global lock; offsets are only ever
// written under that lock, so scanning other sessions here is safe.
func (s *Service) allocatePortOffset() int {
	used := make(map[int]bool, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.LoadgenPortOffset != nil {
			used[*sess.LoadgenPortOffset] = true
		}
	}
	offset := s.nextLoadgenPortOffset % portOffsetSpan
	for used[offset] {
		offset = (offset + 1) % portOffsetSpan
	}
	s.nextLoadgenPortOffset = (offset + 1) % portOffsetSpan
	return offset
}

// startLoadgenJob probes the session database, spawns the master and the
// workers, and finishes the transition. Each started pid is persisted
// before the next spawn so a crash never orphans an untracked process.
func (s *Service) startLoadgenJob(token, dbName string, masterPort, httpPort int) {
	defer s.jobs.Done()
	ctx := context.Background()

	if err := s.sql.Exec(ctx, fmt.Sprintf("USE %s", dbName)); err != nil {
		s.failLoadgen(token, "Database not found")
		return
	}

	logDir := s.cfg.LoadgenLogDir()
	masterArgv := []string{
		s.cfg.LoadgenBin,
		"-f", s.cfg.LoadgenScript(),
		"--host", s.cfg.RDRSURI,
		"--batch-size=100",
		"--table-size=100000",
		"--database-name=" + dbName,
		"--master-bind-port", strconv.Itoa(masterPort),
		"--web-port", strconv.Itoa(httpPort),
		"--master",
	}
	masterPid, err := s.sup.SpawnDetached(masterArgv,
		filepath.Join(logDir, token+"-master.log"),
		filepath.Join(logDir, token+"-master.err"))
	if err != nil {
		s.failLoadgen(token, "Could not start loadgen master process")
		return
	}
	s.log.Info("Started loadgen master", "pid", masterPid, "session", token)
	if !s.recordPid(token, masterPid, true) {
		s.sup.Terminate(masterPid, token)
		return
	}

	// Give the master a moment to bind before workers dial in.
	s.sleep(time.Second)

	for i := 0; i < s.cfg.LoadgenWorkerCount; i++ {
		workerArgv := []string{
			s.cfg.LoadgenBin,
			"-f", s.cfg.LoadgenScript(),
			"--worker",
			"--master-port", strconv.Itoa(masterPort),
		}
		workerPid, err := s.sup.SpawnDetached(workerArgv,
			filepath.Join(logDir, fmt.Sprintf("%s-worker-%d.log", token, i)),
			filepath.Join(logDir, fmt.Sprintf("%s-worker-%d.err", token, i)))
		if err != nil {
			s.failLoadgen(token, "Could not start loadgen worker process")
			return
		}
		s.log.Info("Started loadgen worker",
			"worker_idx", i, "pid", workerPid, "session", token)
		if !s.recordPid(token, workerPid, false) {
			s.sup.Terminate(workerPid, token)
			return
		}
	}

	s.withSession(token, func(sess *models.Session) {
		sess.Status = models.StatusNormal
		sess.UserMessage = &models.UserMessage{Text: "Loadgen started", Kind: "ok"}
		s.saveSession(token, sess)
	})
	s.applyProxyConfigLogged(token)
}

// recordPid appends pid to the session's pid list (replacing it when
// first is set) and persists. It reports false when the session is gone,
// in which case the caller must reap the fresh process itself.
func (s *Service) recordPid(token string, pid int, first bool) bool {
	return s.withSession(token, func(sess *models.Session) {
		if first {
			sess.LoadgenPids = []int{pid}
		} else {
			sess.LoadgenPids = append(sess.LoadgenPids, pid)
		}
		s.saveSession(token, sess)
	})
}

// failLoadgen aborts a launch: it records the user-visible problem,
// terminates whatever was already started, and leaves the session NORMAL
// with an empty (non-nil) pid list so the run button stays disabled.
func (s *Service) failLoadgen(token, problem string) {
	s.log.Error("Error attempting to start loadgen",
		"problem", problem, "session", token)

	var started []int
	found := s.withSession(token, func(sess *models.Session) {
		started = append([]int(nil), sess.LoadgenPids...)
		sess.UserMessage = &models.UserMessage{Text: problem, Kind: "err"}
		s.saveSession(token, sess)
	})
	if !found {
		return
	}
	if len(started) > 0 {
		s.sup.TerminateGroup(started, token)
	}
	s.withSession(token, func(sess *models.Session) {
		sess.LoadgenPids = []int{}
		sess.Status = models.StatusNormal
		s.saveSession(token, sess)
	})
}
