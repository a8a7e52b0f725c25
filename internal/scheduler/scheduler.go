package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/processor"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// webhookReplayer and profileSweeper are the two maintenance jobs the
// scheduler drives. Small interfaces keep the scheduler testable with fakes.
type webhookReplayer interface {
	ReplayPending(ctx context.Context, grace time.Duration, limit int) (processor.ReplayResult, error)
}

type profileSweeper interface {
	Sweep(ctx context.Context, limit int) (int, error)
}

// Scheduler periodically replays webhook deliveries that were recorded but
// never processed, and retries profile enrichment for customers whose
// backoff has expired.
type Scheduler struct {
	replayer    webhookReplayer
	sweeper     profileSweeper
	interval    time.Duration
	replayGrace time.Duration
	replayBatch int
	sweepBatch  int

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt     time.Time
	runsCount     int64
	replayedTotal int64
	failedTotal   int64
	enrichedTotal int64
}

func NewScheduler(
	replayer webhookReplayer,
	sweeper profileSweeper,
	webhookCfg environments.WebhookConfig,
	enrichmentCfg environments.EnrichmentConfig,
	interval time.Duration,
) *Scheduler {
	return &Scheduler{
		replayer:    replayer,
		sweeper:     sweeper,
		interval:    interval,
		replayGrace: webhookCfg.ReplayGrace,
		replayBatch: webhookCfg.ReplayBatchSize,
		sweepBatch:  enrichmentCfg.SweepBatchSize,
	}
}

// StartWithInterval overrides the interval before starting.
// A non-positive interval keeps the configured one.
func (s *Scheduler) StartWithInterval(ctx context.Context, interval time.Duration) error {
	if interval > 0 {
		s.mu.Lock()
		if !s.running {
			s.interval = interval
		}
		s.mu.Unlock()
	}

	return s.Start(ctx)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	if s.interval <= 0 {
		s.interval = 5 * time.Minute
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	interval := s.interval
	stopChan, doneChan := s.stopChan, s.doneChan
	s.mu.Unlock()

	logger.Infof("Starting scheduler with interval: %v", interval)

	go s.run(ctx, interval, stopChan, doneChan)

	return nil
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, stopChan <-chan struct{}, doneChan chan<- struct{}) {
	defer close(doneChan)

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("Scheduler running. Next execution in %v", interval)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
			logger.Debugf("Next execution in %v", interval)

		case <-stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			return
		}
	}
}

// runOnce performs one maintenance pass. Errors are logged; the next tick tries again.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	s.mu.Unlock()

	log := logger.WithFields(logger.Fields{"run": runNumber})
	log.Debug("Starting maintenance run")

	replay, err := s.replayer.ReplayPending(ctx, s.replayGrace, s.replayBatch)
	if err != nil {
		log.WithError(err).Error("Webhook replay failed")
	}

	enriched, err := s.sweeper.Sweep(ctx, s.sweepBatch)
	if err != nil {
		log.WithError(err).Error("Profile sweep failed")
	}

	s.mu.Lock()
	s.replayedTotal += int64(replay.Processed)
	s.failedTotal += int64(replay.Failed)
	s.enrichedTotal += int64(enriched)
	s.mu.Unlock()

	if replay.Attempted > 0 || enriched > 0 {
		log.WithFields(logger.Fields{
			"replayed":      replay.Processed,
			"replay_failed": replay.Failed,
			"enriched":      enriched,
		}).Info("Maintenance run finished")
	}
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	// Send stop signal
	close(stopChan)

	// Wait for goroutine to finish
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:         s.running,
		LastRunAt:       s.lastRunAt,
		RunsCount:       s.runsCount,
		Interval:        s.interval.String(),
		WebhooksReplay:  s.replayedTotal,
		WebhooksFailed:  s.failedTotal,
		ProfilesFetched: s.enrichedTotal,
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

type SchedulerStatus struct {
	Running         bool      `json:"running"`
	LastRunAt       time.Time `json:"lastRunAt,omitempty"`
	NextRunAt       time.Time `json:"nextRunAt,omitempty"`
	RunsCount       int64     `json:"runsCount"`
	Interval        string    `json:"interval"`
	WebhooksReplay  int64     `json:"webhooksReplayed"`
	WebhooksFailed  int64     `json:"webhooksFailed"`
	ProfilesFetched int64     `json:"profilesFetched"`
}
