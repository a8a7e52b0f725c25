package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

func TestPool_RunsQueuedTasksBeforeStopping(t *testing.T) {
	p := NewPool("test", 2, 10)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		if err := p.Submit(context.Background(), func(ctx context.Context) { ran.Add(1) }); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ran.Load() != 10 {
		t.Fatalf("expected 10 tasks to run, got %d", ran.Load())
	}

	if err := p.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped after stop, got %v", err)
	}
}

func TestPool_SubmitTimesOutWhenQueueIsFull(t *testing.T) {
	p := NewPool("test", 1, 1)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started

	// Fills the single queue slot.
	if err := p.TrySubmit(func(context.Context) {}); err != nil {
		t.Fatalf("expected queue slot to be free, got %v", err)
	}

	if err := p.TrySubmit(func(context.Context) {}); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull from TrySubmit, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func(context.Context) {}); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull from Submit, got %v", err)
	}

	close(release)
	_ = p.Stop()
}

func TestPool_RecoversFromPanics(t *testing.T) {
	p := NewPool("test", 1, 4)
	_ = p.Start(context.Background())

	var ran atomic.Bool
	_ = p.Submit(context.Background(), func(context.Context) { panic("boom") })
	_ = p.Submit(context.Background(), func(context.Context) { ran.Store(true) })
	_ = p.Stop()

	if !ran.Load() {
		t.Fatalf("expected task after panic to run")
	}
	if stats := p.Stats(); stats.Panicked != 1 || stats.Completed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
