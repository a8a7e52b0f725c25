package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

// WebhookEventRepository is the append-only webhook audit log.
type WebhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

const webhookEventColumns = `id, platform, event_type, raw_payload, processed, dead, attempts, error_message, account_id, created_at, processed_at`

func (r *WebhookEventRepository) Create(ctx context.Context, platform domain.Platform, eventType, rawPayload string) (*domain.WebhookEvent, error) {
	now := utcNow()
	query := `
		INSERT INTO webhook_events (platform, event_type, raw_payload, processed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, platform, eventType, rawPayload, false, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &domain.WebhookEvent{
		ID:         id,
		Platform:   platform,
		EventType:  eventType,
		RawPayload: rawPayload,
		CreatedAt:  now,
	}, nil
}

func (r *WebhookEventRepository) GetByID(ctx context.Context, id int64) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	query := "SELECT " + webhookEventColumns + " FROM webhook_events WHERE id = ?"
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return &event, nil
}

// MarkProcessed is a no-op for events already processed.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64) error {
	query := `
		UPDATE webhook_events
		SET processed = ?, dead = 0, error_message = NULL, processed_at = ?
		WHERE id = ? AND processed = 0
	`

	if _, err := r.db.ExecContext(ctx, query, true, utcNow(), id); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	return nil
}

// MarkFailed records why processing failed and counts the attempt. The event
// stays unprocessed; dead takes it out of the replay sweep. Processed events
// are left untouched.
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id int64, errorMessage string, dead bool) error {
	query := `
		UPDATE webhook_events
		SET error_message = ?, dead = ?, attempts = attempts + 1
		WHERE id = ? AND processed = 0
	`

	if _, err := r.db.ExecContext(ctx, query, errorMessage, dead, id); err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}

	return nil
}

func (r *WebhookEventRepository) SetAccount(ctx context.Context, id, accountID int64) error {
	query := "UPDATE webhook_events SET account_id = ? WHERE id = ? AND account_id IS NULL"
	if _, err := r.db.ExecContext(ctx, query, accountID, id); err != nil {
		return fmt.Errorf("failed to link webhook event account: %w", err)
	}
	return nil
}

// ListUnprocessed returns replayable events created before cutoff: not
// processed, not dead and with fewer than maxAttempts failures. Events with
// the fewest attempts come first, then the oldest.
func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]domain.WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE processed = 0 AND dead = 0 AND attempts < ? AND created_at < ?
		ORDER BY attempts ASC, id ASC
		LIMIT ?
	`

	var events []domain.WebhookEvent
	if err := r.db.SelectContext(ctx, &events, query, maxAttempts, cutoff.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}

	return events, nil
}

// List pages the audit log, newest first, optionally filtered by processed flag.
func (r *WebhookEventRepository) List(ctx context.Context, processed *bool, page, pageSize int) ([]domain.WebhookEvent, int64, error) {
	where := ""
	var args []any
	if processed != nil {
		where = " WHERE processed = ?"
		args = append(args, *processed)
	}

	var totalCount int64
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM webhook_events"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook events: %w", err)
	}

	query := "SELECT " + webhookEventColumns + " FROM webhook_events" + where + " ORDER BY id DESC LIMIT ? OFFSET ?"

	var events []domain.WebhookEvent
	if err := r.db.SelectContext(ctx, &events, query, append(args, pageSize, offset(page, pageSize))...); err != nil {
		return nil, 0, fmt.Errorf("failed to list webhook events: %w", err)
	}

	return events, totalCount, nil
}
