package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type eventRepository interface {
	Create(ctx context.Context, platform domain.Platform, eventType, rawPayload string) (*domain.WebhookEvent, error)
	GetByID(ctx context.Context, id int64) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMessage string, dead bool) error
	SetAccount(ctx context.Context, id, accountID int64) error
	ListUnprocessed(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error)
	List(ctx context.Context, processed *bool, page, pageSize int) ([]domain.WebhookEvent, int64, error)
}

// Store is the durability boundary for inbound deliveries: an event is
// recorded verbatim before anything interprets it.
type Store struct {
	repo        eventRepository
	maxAttempts int
}

// DefaultMaxReplayAttempts bounds how often the sweep retries one delivery.
const DefaultMaxReplayAttempts = 5

// NewStore builds the store; deliveries that failed maxAttempts times leave
// the replay sweep but can still be replayed by id.
func NewStore(repo eventRepository, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReplayAttempts
	}
	return &Store{repo: repo, maxAttempts: maxAttempts}
}

func (s *Store) Record(ctx context.Context, platform domain.Platform, rawPayload []byte) (*domain.WebhookEvent, error) {
	event, err := s.repo.Create(ctx, platform, EventType(platform, rawPayload), string(rawPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to record %s webhook: %w", platform, err)
	}

	logger.WithFields(logger.Fields{
		"platform":         platform,
		"webhook_event_id": event.ID,
		"bytes":            len(rawPayload),
	}).Debug("Webhook recorded")

	return event, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.WebhookEvent, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("webhook event %d: %w", id, domain.ErrNotFound)
	}
	return event, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	return s.repo.MarkProcessed(ctx, id)
}

// MarkFailed records a failure that a later replay may fix.
func (s *Store) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	return s.repo.MarkFailed(ctx, id, errorMessage, false)
}

// MarkDead records a failure that replaying the same payload cannot fix.
func (s *Store) MarkDead(ctx context.Context, id int64, errorMessage string) error {
	return s.repo.MarkFailed(ctx, id, errorMessage, true)
}

func (s *Store) LinkAccount(ctx context.Context, id, accountID int64) error {
	return s.repo.SetAccount(ctx, id, accountID)
}

// Pending lists replayable events older than grace.
func (s *Store) Pending(ctx context.Context, grace time.Duration, limit int) ([]domain.WebhookEvent, error) {
	return s.repo.ListUnprocessed(ctx, time.Now().Add(-grace), s.maxAttempts, limit)
}

func (s *Store) List(ctx context.Context, processed *bool, page, pageSize int) ([]domain.WebhookEvent, int64, error) {
	return s.repo.List(ctx, processed, page, pageSize)
}
