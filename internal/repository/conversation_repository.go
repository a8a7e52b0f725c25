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

// ConversationRepository persists the (account, customer) threads.
type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, account_id, customer_id, last_message_at, unread_count, active, created_at, updated_at`

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	return getConversation(ctx, r.db, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
}

func (r *ConversationRepository) GetByKey(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return getConversation(ctx, r.db,
		"SELECT "+conversationColumns+" FROM conversations WHERE account_id = ? AND customer_id = ?",
		key.AccountID, key.CustomerID,
	)
}

func getConversation(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*domain.Conversation, error) {
	var conversation domain.Conversation
	if err := sqlx.GetContext(ctx, q, &conversation, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conversation, nil
}

// GetOrCreate resolves the single conversation for key. The unique
// (account_id, customer_id) index arbitrates concurrent creators.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, bool, error) {
	existing, err := r.GetByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := utcNow()
	query := `
		INSERT INTO conversations (account_id, customer_id, unread_count, active, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, key.AccountID, key.CustomerID, true, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			existing, getErr := r.GetByKey(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				return nil, false, fmt.Errorf("%s vanished after duplicate insert", key)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &domain.Conversation{
		ID:         id,
		AccountID:  key.AccountID,
		CustomerID: key.CustomerID,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, true, nil
}

type conversationSummaryRow struct {
	domain.Conversation
	CustomerPlatform    domain.Platform `db:"customer_platform"`
	CustomerDisplayName *string         `db:"customer_display_name"`
	CustomerFirstName   *string         `db:"customer_first_name"`
	CustomerLastName    *string         `db:"customer_last_name"`
	CustomerPictureURL  *string         `db:"customer_picture_url"`
}

// ListByAccount pages an account's conversations, most recently active first.
func (r *ConversationRepository) ListByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]domain.ConversationSummary, int64, error) {
	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM conversations WHERE account_id = ?"
	if err := r.db.GetContext(ctx, &totalCount, countQuery, accountID); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	query := `
		SELECT c.id, c.account_id, c.customer_id, c.last_message_at, c.unread_count, c.active, c.created_at, c.updated_at,
		       cu.platform AS customer_platform,
		       cu.display_name AS customer_display_name,
		       cu.first_name AS customer_first_name,
		       cu.last_name AS customer_last_name,
		       cu.profile_picture_url AS customer_picture_url
		FROM conversations c
		JOIN customers cu ON cu.id = c.customer_id
		WHERE c.account_id = ?
		ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.id DESC
		LIMIT ? OFFSET ?
	`

	var rows []conversationSummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, accountID, pageSize, offset(page, pageSize)); err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		customer := domain.Customer{
			Platform:    row.CustomerPlatform,
			DisplayName: row.CustomerDisplayName,
			FirstName:   row.CustomerFirstName,
			LastName:    row.CustomerLastName,
		}
		summaries = append(summaries, domain.ConversationSummary{
			Conversation:       row.Conversation,
			CustomerName:       customer.BestDisplayName(),
			CustomerPictureURL: row.CustomerPictureURL,
		})
	}

	return summaries, totalCount, nil
}

// touchConversation advances last_message_at, never moving it backwards.
func touchConversation(ctx context.Context, tx sqlx.ExecerContext, id int64, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_at = CASE
		        WHEN last_message_at IS NULL OR last_message_at < ? THEN ?
		        ELSE last_message_at
		    END,
		    updated_at = ?
		WHERE id = ?
	`

	at = at.UTC()
	if _, err := tx.ExecContext(ctx, query, at, at, utcNow(), id); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return nil
}

func incrementUnread(ctx context.Context, tx sqlx.ExecerContext, id int64) error {
	query := "UPDATE conversations SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, utcNow(), id); err != nil {
		return fmt.Errorf("failed to increment unread count: %w", err)
	}
	return nil
}

func resetUnread(ctx context.Context, tx sqlx.ExecerContext, id int64) error {
	query := "UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, utcNow(), id); err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	return nil
}

func unreadCount(ctx context.Context, q sqlx.QueryerContext, id int64) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, q, &count, "SELECT unread_count FROM conversations WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to read unread count: %w", err)
	}
	return count, nil
}
