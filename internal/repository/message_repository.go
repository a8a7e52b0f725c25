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

// MessageRepository handles database operations for messages and their attachments.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, platform_message_id, sender_id, recipient_id, type, content,
	is_inbound, status, error_message, timestamp, created_at, updated_at`

const attachmentColumns = `id, message_id, type, url, local_path, platform_media_id, size, mime_type, file_name, created_at`

// NewMessage is everything written together when a message enters a conversation.
type NewMessage struct {
	Message     *domain.Message
	Attachments []domain.MessageAttachment
	// NotifyUserIDs get an unread notification and bump the conversation's unread count.
	NotifyUserIDs []string
}

type PersistResult struct {
	Message       *domain.Message
	Notifications []domain.MessageNotification
	UnreadCount   int
}

// Persist writes the message, its attachments and notifications in one
// transaction, advances the conversation's last-message time and, for inbound
// messages, increments its unread count. A platform message id that already
// exists yields domain.ErrDuplicate and leaves no trace.
func (r *MessageRepository) Persist(ctx context.Context, in NewMessage) (*PersistResult, error) {
	msg := in.Message
	now := utcNow()
	msg.Timestamp = msg.Timestamp.UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result := &PersistResult{Message: msg}

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO messages (conversation_id, platform_message_id, sender_id, recipient_id, type, content,
				is_inbound, status, error_message, timestamp, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		res, err := tx.ExecContext(ctx, query,
			msg.ConversationID, msg.PlatformMessageID, msg.SenderID, msg.RecipientID, msg.Type, msg.Content,
			msg.IsInbound, msg.Status, msg.ErrorMessage, msg.Timestamp, msg.CreatedAt, msg.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("message %s: %w", derefString(msg.PlatformMessageID), domain.ErrDuplicate)
			}
			return fmt.Errorf("failed to create message: %w", err)
		}

		if msg.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		msg.Attachments = make([]domain.MessageAttachment, 0, len(in.Attachments))
		for _, att := range in.Attachments {
			att.MessageID = msg.ID
			att.CreatedAt = now
			if err := insertAttachment(ctx, tx, &att); err != nil {
				return err
			}
			msg.Attachments = append(msg.Attachments, att)
		}

		if err := touchConversation(ctx, tx, msg.ConversationID, msg.Timestamp); err != nil {
			return err
		}

		if len(in.NotifyUserIDs) > 0 {
			if err := incrementUnread(ctx, tx, msg.ConversationID); err != nil {
				return err
			}

			for _, userID := range in.NotifyUserIDs {
				n, err := insertNotification(ctx, tx, userID, msg, now)
				if err != nil {
					return err
				}
				result.Notifications = append(result.Notifications, *n)
			}
		}

		result.UnreadCount, err = unreadCount(ctx, tx, msg.ConversationID)
		return err
	})
	if err != nil {
		msg.ID = 0
		return nil, err
	}

	return result, nil
}

func insertAttachment(ctx context.Context, tx sqlx.ExecerContext, att *domain.MessageAttachment) error {
	query := `
		INSERT INTO message_attachments (message_id, type, url, local_path, platform_media_id, size, mime_type, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := tx.ExecContext(ctx, query,
		att.MessageID, att.Type, att.URL, att.LocalPath, att.PlatformMediaID, att.Size, att.MimeType, att.FileName, att.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	if att.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	return r.getOne(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
}

func (r *MessageRepository) GetByPlatformMessageID(ctx context.Context, platformMessageID string) (*domain.Message, error) {
	return r.getOne(ctx, "SELECT "+messageColumns+" FROM messages WHERE platform_message_id = ?", platformMessageID)
}

func (r *MessageRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	messages := []domain.Message{message}
	if err := r.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}

	return &messages[0], nil
}

// ListByConversation pages a conversation's messages, newest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64, page, pageSize int) ([]domain.Message, int64, error) {
	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM messages WHERE conversation_id = ?"
	if err := r.db.GetContext(ctx, &totalCount, countQuery, conversationID); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	var messages []domain.Message
	if err := r.db.SelectContext(ctx, &messages, query, conversationID, pageSize, offset(page, pageSize)); err != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", err)
	}

	if err := r.loadAttachments(ctx, messages); err != nil {
		return nil, 0, err
	}

	return messages, totalCount, nil
}

// ListRecent returns the latest limit messages of a conversation, oldest first.
func (r *MessageRepository) ListRecent(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	var messages []domain.Message
	if err := r.db.SelectContext(ctx, &messages, query, conversationID, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := r.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *MessageRepository) loadAttachments(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(messages))
	byID := make(map[int64]int, len(messages))
	for i, m := range messages {
		ids = append(ids, m.ID)
		byID[m.ID] = i
	}

	query, args, err := sqlx.In("SELECT "+attachmentColumns+" FROM message_attachments WHERE message_id IN (?) ORDER BY id ASC", ids)
	if err != nil {
		return fmt.Errorf("failed to build attachment query: %w", err)
	}

	var attachments []domain.MessageAttachment
	if err := r.db.SelectContext(ctx, &attachments, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to get attachments: %w", err)
	}

	for _, att := range attachments {
		i := byID[att.MessageID]
		messages[i].Attachments = append(messages[i].Attachments, att)
	}

	return nil
}

// AttachPlatformID records the id the platform assigned to a locally created
// message. If another row (an echo) already holds that id, domain.ErrDuplicate.
func (r *MessageRepository) AttachPlatformID(ctx context.Context, id int64, platformMessageID string) error {
	query := `
		UPDATE messages
		SET platform_message_id = ?, updated_at = ?
		WHERE id = ? AND platform_message_id IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, platformMessageID, utcNow(), id)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("message %s: %w", platformMessageID, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to attach platform message id: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("no unacknowledged message found with id %d", id)
	}

	return nil
}

// MarkFailed moves a SENT message to FAILED. It reports whether the row changed.
func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	query := `
		UPDATE messages
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query, domain.StatusFailed, reason, utcNow(), id, domain.StatusSent)
	if err != nil {
		return false, fmt.Errorf("failed to mark message as failed: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// AdvanceStatus applies a receipt to the message holding platformMessageID.
// Only forward transitions are written; reason, when set, replaces the error
// message. It returns the current message (nil when the id is unknown) and
// whether the status changed.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, platformMessageID string, to domain.MessageStatus, reason *string) (*domain.Message, bool, error) {
	preds := statusStrings(to.Predecessors())
	if len(preds) == 0 {
		return nil, false, fmt.Errorf("status %s: %w", to, domain.ErrInvalidTransition)
	}

	query, args, err := sqlx.In(`
		UPDATE messages
		SET status = ?, error_message = COALESCE(?, error_message), updated_at = ?
		WHERE platform_message_id = ? AND status IN (?)
	`, string(to), reason, utcNow(), platformMessageID, preds)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build status update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update message status: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return nil, false, err
	}

	message, err := r.GetByPlatformMessageID(ctx, platformMessageID)
	if err != nil {
		return nil, false, err
	}

	return message, rows > 0, nil
}

// MarkOutboundReadUpTo marks every acknowledged outbound message in the
// conversation sent at or before watermark as READ and returns those messages.
func (r *MessageRepository) MarkOutboundReadUpTo(ctx context.Context, conversationID int64, watermark time.Time) ([]domain.Message, error) {
	var updated []domain.Message

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ? AND is_inbound = ? AND platform_message_id IS NOT NULL
			  AND status IN (?, ?) AND timestamp <= ?
			ORDER BY timestamp ASC
		`

		if err := tx.SelectContext(ctx, &updated, query,
			conversationID, false, domain.StatusSent, domain.StatusDelivered, watermark.UTC(),
		); err != nil {
			return fmt.Errorf("failed to select messages for read watermark: %w", err)
		}

		if len(updated) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(updated))
		for _, m := range updated {
			ids = append(ids, m.ID)
		}

		update, args, err := sqlx.In("UPDATE messages SET status = ?, updated_at = ? WHERE id IN (?)", string(domain.StatusRead), utcNow(), ids)
		if err != nil {
			return fmt.Errorf("failed to build read watermark update: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(update), args...); err != nil {
			return fmt.Errorf("failed to apply read watermark: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range updated {
		updated[i].Status = domain.StatusRead
	}

	return updated, nil
}

// Delete removes a message with its attachments and notifications.
func (r *MessageRepository) Delete(ctx context.Context, id int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, query := range []string{
			"DELETE FROM message_attachments WHERE message_id = ?",
			"DELETE FROM message_notifications WHERE message_id = ?",
			"DELETE FROM messages WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return fmt.Errorf("failed to delete message: %w", err)
			}
		}
		return nil
	})
}

func statusStrings(statuses []domain.MessageStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
