package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/processor"
)

// fakeReplayer is a simple test double for webhookReplayer.
type fakeReplayer struct {
	mu     sync.Mutex
	result processor.ReplayResult
	err    error
	calls  []replayCall
}

type replayCall struct {
	Grace time.Duration
	Limit int
}

func (f *fakeReplayer) ReplayPending(_ context.Context, grace time.Duration, limit int) (processor.ReplayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, replayCall{Grace: grace, Limit: limit})
	return f.result, f.err
}

func (f *fakeReplayer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSweeper struct {
	mu     sync.Mutex
	count  int
	err    error
	limits []int
}

func (f *fakeSweeper) Sweep(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.count, f.err
}

func newScheduler(replayer *fakeReplayer, sweeper *fakeSweeper, interval time.Duration) *Scheduler {
	return NewScheduler(replayer, sweeper,
		environments.WebhookConfig{ReplayGrace: 5 * time.Minute, ReplayBatchSize: 100},
		environments.EnrichmentConfig{SweepBatchSize: 50},
		interval,
	)
}

func TestScheduler_RunOnce_AccumulatesTotals(t *testing.T) {
	ctx := context.Background()

	replayer := &fakeReplayer{result: processor.ReplayResult{Attempted: 3, Processed: 2, Failed: 1}}
	sweeper := &fakeSweeper{count: 4}
	s := newScheduler(replayer, sweeper, time.Minute)

	s.runOnce(ctx)
	s.runOnce(ctx)

	status := s.GetStatus()
	if status.RunsCount != 2 {
		t.Errorf("expected RunsCount=2, got %d", status.RunsCount)
	}
	if status.WebhooksReplay != 4 || status.WebhooksFailed != 2 {
		t.Errorf("expected 4 replayed / 2 failed, got %d / %d", status.WebhooksReplay, status.WebhooksFailed)
	}
	if status.ProfilesFetched != 8 {
		t.Errorf("expected ProfilesFetched=8, got %d", status.ProfilesFetched)
	}

	if replayer.calls[0] != (replayCall{Grace: 5 * time.Minute, Limit: 100}) {
		t.Errorf("unexpected replay call %+v", replayer.calls[0])
	}
	if sweeper.limits[0] != 50 {
		t.Errorf("expected sweep batch 50, got %d", sweeper.limits[0])
	}
}

func TestScheduler_RunOnce_ReplayErrorStillSweeps(t *testing.T) {
	replayer := &fakeReplayer{err: errors.New("db down")}
	sweeper := &fakeSweeper{count: 1}
	s := newScheduler(replayer, sweeper, time.Minute)

	s.runOnce(context.Background())

	if len(sweeper.limits) != 1 {
		t.Fatalf("expected the sweep to run after a replay error")
	}
	if got := s.GetStatus().ProfilesFetched; got != 1 {
		t.Fatalf("expected ProfilesFetched=1, got %d", got)
	}
}

func TestScheduler_StartAndStopToggleRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replayer := &fakeReplayer{}
	s := newScheduler(replayer, &fakeSweeper{}, 10*time.Millisecond)

	if s.IsRunning() {
		t.Fatalf("expected scheduler to be not running initially")
	}

	if err := s.StartWithInterval(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if !s.IsRunning() {
		t.Fatalf("expected scheduler to be running after Start")
	}
	if got := s.GetStatus().Interval; got != "5ms" {
		t.Fatalf("expected interval override 5ms, got %s", got)
	}

	deadline := time.Now().Add(time.Second)
	for replayer.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if replayer.callCount() < 2 {
		t.Fatalf("expected the ticker to trigger repeated runs")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if s.IsRunning() {
		t.Fatalf("expected scheduler to be not running after Stop")
	}

	// Stopping twice is harmless.
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
}
