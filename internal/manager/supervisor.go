// Package manager implements the fleet supervisor of spec §4.6: it polls
// the data-plane for the active bot set, spawns one worker child process
// per bot, restarts failed children under an exponential backoff schedule,
// and exposes a small HTTP control surface (§6).
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/metrics"
)

// childState is the supervisor's private bookkeeping for one bot's worker
// process across restarts.
type childState struct {
	botID int
	cmd   *exec.Cmd

	startedAt     time.Time
	failures      int
	lastFailureAt time.Time
	nextRestartAt time.Time
	suppressed    bool // true once an explicit stop has been requested
}

// alive reports whether the tracked *exec.Cmd is still running.
func (c *childState) alive() bool {
	return c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil
}

// Supervisor owns the manager's child process table (spec §5: "mutated
// only by the Manager's own main scheduler" — every mutating method here
// must be called from the single goroutine running Run, except RestartBot
// and Shutdown which take the lock explicitly since they're invoked from
// the HTTP surface and signal handler respectively).
type Supervisor struct {
	mu       sync.Mutex
	children map[int]*childState
	cfg      *config.ManagerConfig

	// execCommand builds the *exec.Cmd to spawn for botID. Overridable for
	// tests; defaults to invoking cfg.WorkerBinary with BOT_ID in the
	// environment.
	execCommand func(botID int) *exec.Cmd

	exitCh chan childExit
}

type childExit struct {
	botID int
	cmd   *exec.Cmd
	err   error
}

// NewSupervisor builds a Supervisor for cfg. Spawned children inherit the
// manager's own environment plus BOT_ID (spec §4.6).
func NewSupervisor(cfg *config.ManagerConfig) *Supervisor {
	s := &Supervisor{
		children: make(map[int]*childState),
		cfg:      cfg,
		exitCh:   make(chan childExit, 16),
	}
	s.execCommand = func(botID int) *exec.Cmd {
		cmd := exec.Command(cfg.WorkerBinary)
		cmd.Env = append(os.Environ(), fmt.Sprintf("BOT_ID=%d", botID))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd
	}
	return s
}

// Spawn starts a worker process for botID and tracks it. The supervisor's
// own goroutine learns of its eventual exit via exitCh rather than blocking
// here (spec §5 "cancellable" suspension points; a blocking Wait here would
// stall spawning every other bot behind it).
func (s *Supervisor) Spawn(botID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLocked(botID)
}

func (s *Supervisor) spawnLocked(botID int) error {
	cmd := s.execCommand(botID)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn bot %d: %w", botID, err)
	}

	cs := &childState{botID: botID, cmd: cmd, startedAt: time.Now()}
	if prev, ok := s.children[botID]; ok {
		// Carry the failure history across restarts so the backoff keeps
		// growing and the recovery sweep can see repeated failures.
		cs.failures = prev.failures
		cs.lastFailureAt = prev.lastFailureAt
	}
	s.children[botID] = cs
	metrics.ChildProcessesRunning.Inc()

	slog.Info("manager: spawned worker", "botId", botID, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		s.exitCh <- childExit{botID: botID, cmd: cmd, err: err}
	}()
	return nil
}

// HandleExit processes one child's exit: increments its failure counter and
// schedules a restart per spec §4.6's backoff formula
// min(initial × 2^(f-1), max). Called from Run's event loop, never
// concurrently with itself.
func (s *Supervisor) HandleExit(exit childExit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.children[exit.botID]
	if !ok || cs.cmd != exit.cmd {
		// Either untracked, or this is a stale exit from a child that's
		// already been replaced by a newer spawn (e.g. RestartBot); the
		// current child's state must not be touched by its predecessor's
		// exit.
		return
	}
	metrics.ChildProcessesRunning.Dec()

	if cs.suppressed {
		// An explicit restart-bot or shutdown already accounted for this
		// exit; don't double-count it as a failure.
		delete(s.children, exit.botID)
		return
	}

	cs.failures++
	cs.lastFailureAt = time.Now()
	delay := restartDelay(cs.failures, s.cfg.InitialRestartDelay, s.cfg.MaxRestartDelay)
	cs.nextRestartAt = cs.lastFailureAt.Add(delay)

	slog.Warn("manager: worker exited", "botId", exit.botID, "error", exit.err,
		"failures", cs.failures, "nextRestartIn", delay)
	metrics.ChildRestartsTotal.WithLabelValues(fmt.Sprint(exit.botID)).Inc()
}

// restartDelay implements spec §4.6's backoff formula.
func restartDelay(failures int, initial, max time.Duration) time.Duration {
	if failures <= 1 {
		return initial
	}
	scaled := float64(initial) * math.Pow(2, float64(failures-1))
	if scaled > float64(max) {
		return max
	}
	return time.Duration(scaled)
}

// DueRestarts returns the bot ids whose scheduled restart time has arrived
// and which have no live child, for Run's ticker to act on.
func (s *Supervisor) DueRestarts(now time.Time) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []int
	for botID, cs := range s.children {
		if cs.alive() || cs.suppressed {
			continue
		}
		if cs.failures > 0 && !cs.nextRestartAt.IsZero() && now.Before(cs.nextRestartAt) {
			continue
		}
		due = append(due, botID)
	}
	return due
}

// RecoverySweep implements spec §4.6's recovery sweep: for every bot whose
// failure counter has reached the floor and whose last failure is old
// enough, reset its counter/delay and restart immediately if nothing is
// currently alive for it.
func (s *Supervisor) RecoverySweep(now time.Time) {
	s.mu.Lock()
	var toRestart []int
	for botID, cs := range s.children {
		if cs.failures < s.cfg.RecoveryFailureFloor {
			continue
		}
		if now.Sub(cs.lastFailureAt) < s.cfg.RecoveryFailureAge {
			continue
		}
		cs.failures = 0
		cs.nextRestartAt = time.Time{}
		if !cs.alive() {
			toRestart = append(toRestart, botID)
		}
	}
	s.mu.Unlock()

	for _, botID := range toRestart {
		slog.Info("manager: recovery sweep restarting bot", "botId", botID)
		s.mu.Lock()
		if err := s.spawnLocked(botID); err != nil {
			slog.Error("manager: recovery sweep respawn failed", "botId", botID, "error", err)
		}
		s.mu.Unlock()
	}
}

// RestartResult is the outcome of an explicit restart request.
type RestartResult struct {
	Success      bool
	Message      string
	Error        string
	CorrelationID string
}

// RestartBot implements POST /restart-bot (spec §4.6, §6): SIGTERM the
// current child if alive, reset its failure counter, and spawn a fresh one
// immediately. The caller is expected to have already verified data-plane
// reachability.
func (s *Supervisor) RestartBot(botID int) RestartResult {
	correlationID := uuid.NewString()

	s.mu.Lock()
	if cs, ok := s.children[botID]; ok {
		if cs.alive() {
			cs.suppressed = true
			_ = cs.cmd.Process.Signal(syscall.SIGTERM)
		}
		delete(s.children, botID)
	}
	s.mu.Unlock()

	s.mu.Lock()
	err := s.spawnLocked(botID)
	s.mu.Unlock()

	if err != nil {
		slog.Error("manager: restart-bot failed", "botId", botID, "correlationId", correlationID, "error", err)
		return RestartResult{Success: false, Error: err.Error(), CorrelationID: correlationID}
	}
	return RestartResult{Success: true, Message: fmt.Sprintf("bot %d restarted", botID), CorrelationID: correlationID}
}

// Shutdown SIGTERMs every tracked child, waits up to cfg.ShutdownWait for
// them to exit, then SIGKILLs any stragglers (spec §4.6).
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	var alive []*childState
	for _, cs := range s.children {
		if cs.alive() {
			cs.suppressed = true
			_ = cs.cmd.Process.Signal(syscall.SIGTERM)
			alive = append(alive, cs)
		}
	}
	s.mu.Unlock()

	if len(alive) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		for _, cs := range alive {
			_ = cs.cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.cfg.ShutdownWait):
	case <-ctx.Done():
	}

	for _, cs := range alive {
		if cs.alive() {
			slog.Warn("manager: SIGKILL straggler after shutdown wait", "botId", cs.botID)
			_ = cs.cmd.Process.Kill()
		}
	}
}

// Snapshot is the supervisor state used by the manager's /health and
// /status handlers.
type Snapshot struct {
	TotalBots    int
	ActiveBots   int
	FailedBots   int
	BotFailures  map[int]int
}

// Snapshot reports the current process table for diagnostics.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{BotFailures: make(map[int]int, len(s.children))}
	for botID, cs := range s.children {
		snap.TotalBots++
		snap.BotFailures[botID] = cs.failures
		if cs.alive() {
			snap.ActiveBots++
		} else {
			snap.FailedBots++
		}
	}
	return snap
}

// ExitCh exposes the channel Run's event loop selects on.
func (s *Supervisor) ExitCh() <-chan childExit {
	return s.exitCh
}
