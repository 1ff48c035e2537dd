package worker

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/faceit-mod/chatfleet/internal/config"
)

// Watchdog tracks inbound activity and drives the worker's two independent
// health timers plus the hourly memory-cleanup pass. It uses the
// ticker-plus-mutexed-timestamp shape of an idle detector, generalized to
// two thresholds instead of one. Every
// interval/threshold is operator-tunable (spec §6 "Environment variables"),
// not hardcoded.
type Watchdog struct {
	mu             sync.Mutex
	lastServerPing time.Time

	receptionCheckInterval time.Duration
	receptionStaleAfter    time.Duration
	processCheckInterval   time.Duration
	processStaleAfter      time.Duration
	memoryCleanupInterval  time.Duration

	warnLimiter *rate.Limiter

	onStaleReception func()
	onStaleProcess   func()
	onMemoryCleanup  func(now time.Time)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatchdog constructs a Watchdog from cfg's health-watchdog tunables. The
// callbacks are invoked from the watchdog's own goroutines and must not
// block.
func NewWatchdog(cfg *config.WorkerConfig, onStaleReception, onStaleProcess func(), onMemoryCleanup func(now time.Time)) *Watchdog {
	return &Watchdog{
		lastServerPing:         time.Now(),
		receptionCheckInterval: cfg.ReceptionCheckInterval,
		receptionStaleAfter:    cfg.ReceptionStaleAfter,
		processCheckInterval:   cfg.ProcessCheckInterval,
		processStaleAfter:      cfg.ProcessStaleAfter,
		memoryCleanupInterval:  cfg.MemoryCleanupInterval,
		warnLimiter:            rate.NewLimiter(rate.Every(cfg.WarnRateLimit), 1),
		onStaleReception:       onStaleReception,
		onStaleProcess:         onStaleProcess,
		onMemoryCleanup:        onMemoryCleanup,
		done:                   make(chan struct{}),
	}
}

// RecordActivity marks the moment of the most recent inbound server ping
// (spec §4.1.6 calls this out specifically, separate from general traffic).
func (w *Watchdog) RecordActivity(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastServerPing = now
}

func (w *Watchdog) idleSince(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastServerPing)
}

// Start launches the three independent timers. Stop cancels all of them.
func (w *Watchdog) Start() {
	w.wg.Add(3)
	go w.runReceptionLoop()
	go w.runProcessLoop()
	go w.runMemoryCleanupLoop()
}

// Stop cancels all watchdog timers and waits for their goroutines to exit.
func (w *Watchdog) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Watchdog) runReceptionLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.receptionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			if w.idleSince(now) > w.receptionStaleAfter {
				if w.warnLimiter.Allow() {
					slog.Warn("worker: reception watchdog stale, reconnecting", "idle", w.idleSince(now))
				}
				if w.onStaleReception != nil {
					w.onStaleReception()
				}
			}
		}
	}
}

func (w *Watchdog) runProcessLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.processCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			if w.idleSince(now) > w.processStaleAfter {
				slog.Error("worker: process watchdog stale, exiting", "idle", w.idleSince(now))
				if w.onStaleProcess != nil {
					w.onStaleProcess()
				}
			}
		}
	}
}

func (w *Watchdog) runMemoryCleanupLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.memoryCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			if w.onMemoryCleanup != nil {
				w.onMemoryCleanup(now)
			}
		}
	}
}
