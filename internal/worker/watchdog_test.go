package worker

import (
	"testing"
	"time"
)

func TestWatchdogRecordActivityResetsIdle(t *testing.T) {
	w := NewWatchdog(testWorkerConfig(), nil, nil, nil)
	base := time.Now()
	w.RecordActivity(base)

	if d := w.idleSince(base.Add(time.Minute)); d != time.Minute {
		t.Fatalf("expected idle 1m, got %v", d)
	}
	w.RecordActivity(base.Add(time.Minute))
	if d := w.idleSince(base.Add(time.Minute)); d != 0 {
		t.Fatalf("expected idle reset to 0, got %v", d)
	}
}

func TestWatchdogStaleReceptionThreshold(t *testing.T) {
	cfg := testWorkerConfig()
	w := NewWatchdog(cfg, nil, nil, nil)
	base := time.Now()
	w.RecordActivity(base)

	stillFresh := w.idleSince(base.Add(cfg.ReceptionStaleAfter - time.Minute))
	if stillFresh > cfg.ReceptionStaleAfter {
		t.Fatalf("should be within reception threshold, got %v", stillFresh)
	}
	stale := w.idleSince(base.Add(cfg.ReceptionStaleAfter + time.Minute))
	if stale <= cfg.ReceptionStaleAfter {
		t.Fatalf("should exceed reception threshold, got %v", stale)
	}
}

func TestWatchdogStaleProcessThreshold(t *testing.T) {
	cfg := testWorkerConfig()
	w := NewWatchdog(cfg, nil, nil, nil)
	base := time.Now()
	w.RecordActivity(base)

	stillFresh := w.idleSince(base.Add(cfg.ProcessStaleAfter - time.Minute))
	if stillFresh > cfg.ProcessStaleAfter {
		t.Fatalf("should be within process threshold, got %v", stillFresh)
	}
	stale := w.idleSince(base.Add(cfg.ProcessStaleAfter + time.Minute))
	if stale <= cfg.ProcessStaleAfter {
		t.Fatalf("should exceed process threshold, got %v", stale)
	}
}

func TestWatchdogStartStopTerminatesCleanly(t *testing.T) {
	calls := 0
	w := NewWatchdog(testWorkerConfig(), func() { calls++ }, func() {}, func(time.Time) {})
	w.Start()
	w.Stop()
	_ = calls
}
