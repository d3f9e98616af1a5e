// Package supervisor spawns detached load generator processes and
// terminates them with bounded signal escalation.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mronstro/rondb-tools/internal/eventlog"
)

const (
	// sigtermBudget is how many SIGTERMs are sent before escalating; the
	// next signal after the budget is exhausted is the first SIGKILL.
	sigtermBudget = 20
	// sigkillBudget bounds the SIGKILL attempts so cleanup cannot hang
	// forever on an unkillable process.
	sigkillBudget = 100
)

// Supervisor manages external processes by pid. Spawned children live in
// their own session so they survive a coordinator restart; recorded pids
// stay valid across restarts because init reaps the re-parented children.
type Supervisor struct {
	log *eventlog.Logger

	// retryInterval is the pause between signal attempts. Tests shrink it.
	retryInterval time.Duration
	// killFn sends a signal to a pid. Tests substitute a recorder.
	killFn func(pid int, sig syscall.Signal) error
}

// New returns a supervisor with the production 1 s signal spacing.
func New(log *eventlog.Logger) *Supervisor {
	return &Supervisor{
		log:           log,
		retryInterval: time.Second,
		killFn:        syscall.Kill,
	}
}

// SpawnDetached starts argv in its own session, with stdin from /dev/null
// and stdout/stderr appended to the given files, and returns the child's
// pid. The child is not tied to the coordinator: if the coordinator
// exits, the child is re-parented to init and reaped there.
func (s *Supervisor) SpawnDetached(argv []string, stdoutPath, stderrPath string) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer stdin.Close()

	stdout, err := os.OpenFile(stdoutPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open stdout file: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.OpenFile(stderrPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open stderr file: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", argv[0], err)
	}

	// Reap the child if it exits while the coordinator is still alive;
	// otherwise kill() would keep succeeding on the zombie.
	go func() { _ = cmd.Wait() }()

	return cmd.Process.Pid, nil
}

// Terminate sends SIGTERM to pid every retry interval, escalating to
// SIGKILL once the SIGTERM budget is spent. A pid that is already gone
// counts as success. All observed transitions are logged with counts.
func (s *Supervisor) Terminate(pid int, sessionName string) {
	s.log.Info("Terminating process", "pid", pid, "session", sessionName)
	doKill := false
	termCount, killCount := 0, 0
	for {
		if termCount == sigtermBudget {
			doKill = true
		}
		sig := syscall.SIGTERM
		if doKill {
			sig = syscall.SIGKILL
		}
		if err := s.killFn(pid, sig); errors.Is(err, syscall.ESRCH) {
			switch {
			case termCount == 0:
				s.log.Info("Process already gone",
					"pid", pid, "session", sessionName)
			case killCount > 0:
				s.log.Info("Process exited after SIGKILL",
					"pid", pid, "session", sessionName,
					"sigterm_count", termCount, "sigkill_count", killCount)
			default:
				s.log.Info("Process exited after SIGTERM",
					"pid", pid, "session", sessionName,
					"sigterm_count", termCount)
			}
			return
		}
		if doKill {
			killCount++
		} else {
			termCount++
		}
		if killCount == 1 {
			s.log.Info("Process hasn't terminated, using SIGKILL from now on",
				"pid", pid, "session", sessionName,
				"sigterm_count", termCount)
		}
		if killCount == sigkillBudget {
			s.log.Error("Process did not exit despite many SIGKILLs, giving up",
				"pid", pid, "session", sessionName,
				"sigterm_count", termCount, "sigkill_count", killCount)
			return
		}
		time.Sleep(s.retryInterval)
	}
}

// TerminateGroup terminates the pids in parallel and returns when every
// one has reached a terminal outcome.
func (s *Supervisor) TerminateGroup(pids []int, sessionName string) {
	var wg sync.WaitGroup
	wg.Add(len(pids))
	for _, pid := range pids {
		go func(pid int) {
			defer wg.Done()
			s.Terminate(pid, sessionName)
		}(pid)
	}
	wg.Wait()
}
