package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/worker"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type recorder interface {
	Record(ctx context.Context, platform domain.Platform, rawPayload []byte) (*domain.WebhookEvent, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
}

type submitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Ingestor is the hand-off between the webhook endpoint and the worker pool:
// it records the delivery durably, then queues it for processing.
type Ingestor struct {
	store         recorder
	pool          submitter
	processor     *Processor
	submitTimeout time.Duration
}

func NewIngestor(store recorder, pool submitter, processor *Processor, submitTimeout time.Duration) *Ingestor {
	return &Ingestor{
		store:         store,
		pool:          pool,
		processor:     processor,
		submitTimeout: submitTimeout,
	}
}

// Ingest records raw and queues it. When the queue stays full for the submit
// timeout it returns domain.ErrQueueFull; the recorded event is marked failed
// so replay can pick it up, and the caller should make the platform redeliver.
func (i *Ingestor) Ingest(ctx context.Context, platform domain.Platform, raw []byte) (*domain.WebhookEvent, error) {
	event, err := i.store.Record(ctx, platform, raw)
	if err != nil {
		return nil, err
	}

	payload := append([]byte(nil), raw...)
	task := func(ctx context.Context) {
		_ = i.processor.Process(ctx, event.ID, platform, payload)
	}

	submitCtx, cancel := context.WithTimeout(ctx, i.submitTimeout)
	defer cancel()

	if err := i.pool.Submit(submitCtx, task); err != nil {
		logger.WithFields(logger.Fields{
			"platform":         platform,
			"webhook_event_id": event.ID,
		}).WithError(err).Warn("Webhook not queued")

		// A canceled request context must not fail the mark.
		if markErr := i.store.MarkFailed(context.WithoutCancel(ctx), event.ID, err.Error()); markErr != nil {
			logger.Errorf("Failed to mark webhook event %d as failed: %v", event.ID, markErr)
		}

		if errors.Is(err, domain.ErrQueueFull) {
			return event, err
		}
		return event, fmt.Errorf("%w: %v", domain.ErrQueueFull, err)
	}

	return event, nil
}

// Replay reprocesses one recorded delivery that has not been processed yet.
// Already processed events are left untouched.
func (p *Processor) Replay(ctx context.Context, id int64) (*domain.WebhookEvent, error) {
	event, err := p.Webhooks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Processed {
		return event, nil
	}

	if err := p.Process(ctx, event.ID, event.Platform, []byte(event.RawPayload)); err != nil {
		logger.Warnf("Replay of webhook event %d failed: %v", id, err)
	}

	return p.Webhooks.Get(ctx, id)
}

type ReplayResult struct {
	Attempted int `json:"attempted"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ReplayPending reprocesses unprocessed deliveries older than grace.
func (p *Processor) ReplayPending(ctx context.Context, grace time.Duration, limit int) (ReplayResult, error) {
	var result ReplayResult

	events, err := p.Webhooks.Pending(ctx, grace, limit)
	if err != nil {
		return result, err
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		result.Attempted++
		if err := p.Process(ctx, event.ID, event.Platform, []byte(event.RawPayload)); err != nil {
			result.Failed++
			continue
		}
		result.Processed++
	}

	if result.Attempted > 0 {
		logger.Infof("Webhook replay: %d attempted, %d processed, %d failed",
			result.Attempted, result.Processed, result.Failed)
	}

	return result, nil
}
