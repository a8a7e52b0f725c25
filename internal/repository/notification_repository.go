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

// NotificationRepository is the per-user read ledger.
type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, user_id, message_id, conversation_id, is_read, read_at, created_at`

func insertNotification(ctx context.Context, tx sqlx.ExecerContext, userID string, msg *domain.Message, at time.Time) (*domain.MessageNotification, error) {
	query := `
		INSERT INTO message_notifications (user_id, message_id, conversation_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	res, err := tx.ExecContext(ctx, query, userID, msg.ID, msg.ConversationID, false, at)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &domain.MessageNotification{
		ID:             id,
		UserID:         userID,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		CreatedAt:      at,
	}, nil
}

func (r *NotificationRepository) ListUnread(ctx context.Context, userID string, limit int) ([]domain.MessageNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM message_notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY id DESC
		LIMIT ?
	`

	var notifications []domain.MessageNotification
	if err := r.db.SelectContext(ctx, &notifications, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}

	return notifications, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	query := "SELECT COUNT(*) FROM message_notifications WHERE user_id = ? AND is_read = 0"
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkConversationRead flips the user's unread notifications in the
// conversation to read and resets the conversation's unread count to zero.
// It returns how many notifications changed.
func (r *NotificationRepository) MarkConversationRead(ctx context.Context, userID string, conversationID int64) (int64, error) {
	var changed int64

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := utcNow()
		query := `
			UPDATE message_notifications
			SET is_read = ?, read_at = ?
			WHERE user_id = ? AND conversation_id = ? AND is_read = 0
		`

		result, err := tx.ExecContext(ctx, query, true, now, userID, conversationID)
		if err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}

		if changed, err = rowsAffected(result); err != nil {
			return err
		}

		return resetUnread(ctx, tx, conversationID)
	})
	if err != nil {
		return 0, err
	}

	return changed, nil
}

// MarkMessageUnread flips one read notification back to unread and bumps the
// conversation's unread count. It returns the notification and whether it changed.
func (r *NotificationRepository) MarkMessageUnread(ctx context.Context, userID string, messageID int64) (*domain.MessageNotification, bool, error) {
	var (
		notification domain.MessageNotification
		changed      bool
	)

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := "SELECT " + notificationColumns + " FROM message_notifications WHERE user_id = ? AND message_id = ?"
		if err := tx.GetContext(ctx, &notification, query, userID, messageID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("notification for message %d: %w", messageID, domain.ErrNotFound)
			}
			return fmt.Errorf("failed to get notification: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			"UPDATE message_notifications SET is_read = ?, read_at = NULL WHERE id = ? AND is_read = 1",
			false, notification.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark notification unread: %w", err)
		}

		rows, err := rowsAffected(result)
		if err != nil {
			return err
		}

		if rows == 0 {
			return nil
		}

		changed = true
		notification.Read = false
		notification.ReadAt = nil

		return incrementUnread(ctx, tx, notification.ConversationID)
	})
	if err != nil {
		return nil, false, err
	}

	return &notification, changed, nil
}

// UnreadCount returns the conversation's current unread counter.
func (r *NotificationRepository) UnreadCount(ctx context.Context, conversationID int64) (int, error) {
	return unreadCount(ctx, r.db, conversationID)
}
