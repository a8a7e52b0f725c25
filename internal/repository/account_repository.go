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

// AccountRepository persists messaging accounts. Platform details are stored as
// a JSON document next to the shared envelope columns.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type accountRow struct {
	ID            int64           `db:"id"`
	Platform      domain.Platform `db:"platform"`
	OwnerUserID   string          `db:"owner_user_id"`
	Name          string          `db:"name"`
	AccessToken   string          `db:"access_token"`
	WebhookSecret *string         `db:"webhook_secret"`
	VerifyToken   *string         `db:"verify_token"`
	RoutingID     string          `db:"routing_id"`
	Details       string          `db:"details"`
	Active        bool            `db:"active"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

const accountColumns = `id, platform, owner_user_id, name, access_token, webhook_secret, verify_token,
	routing_id, details, active, created_at, updated_at`

func (row *accountRow) toDomain() (*domain.Account, error) {
	details, err := domain.DecodeAccountDetails(row.Platform, row.Details)
	if err != nil {
		return nil, err
	}

	return &domain.Account{
		ID:            row.ID,
		Platform:      row.Platform,
		OwnerUserID:   row.OwnerUserID,
		Name:          row.Name,
		AccessToken:   row.AccessToken,
		WebhookSecret: row.WebhookSecret,
		VerifyToken:   row.VerifyToken,
		Active:        row.Active,
		Details:       details,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Create inserts a validated account; a second account with the same routing id
// on the same platform yields domain.ErrDuplicate.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	details, err := domain.EncodeAccountDetails(account.Details)
	if err != nil {
		return err
	}

	now := utcNow()
	query := `
		INSERT INTO accounts (platform, owner_user_id, name, access_token, webhook_secret, verify_token,
			routing_id, details, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		account.Platform, account.OwnerUserID, account.Name, account.AccessToken, account.WebhookSecret,
		account.VerifyToken, account.RoutingID(), details, account.Active, now, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("account %s %s: %w", account.Platform, account.RoutingID(), domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now

	return nil
}

func (r *AccountRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return row.toDomain()
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
}

// GetByRoutingID finds the account a webhook is addressed to, active or not.
func (r *AccountRepository) GetByRoutingID(ctx context.Context, platform domain.Platform, routingID string) (*domain.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE platform = ? AND routing_id = ?", platform, routingID)
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE owner_user_id = ? ORDER BY id ASC"

	var rows []accountRow
	if err := r.db.SelectContext(ctx, &rows, query, ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]domain.Account, 0, len(rows))
	for i := range rows {
		account, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}

	return accounts, nil
}

// SetActive soft-activates or deactivates an account. It reports whether the flag changed.
func (r *AccountRepository) SetActive(ctx context.Context, id int64, active bool) (bool, error) {
	query := `
		UPDATE accounts
		SET active = ?, updated_at = ?
		WHERE id = ? AND active <> ?
	`

	result, err := r.db.ExecContext(ctx, query, active, utcNow(), id, active)
	if err != nil {
		return false, fmt.Errorf("failed to update account status: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// HasVerifyToken reports whether any account on platform is configured with token.
func (r *AccountRepository) HasVerifyToken(ctx context.Context, platform domain.Platform, token string) (bool, error) {
	var count int
	query := "SELECT COUNT(*) FROM accounts WHERE platform = ? AND verify_token = ?"
	if err := r.db.GetContext(ctx, &count, query, platform, token); err != nil {
		return false, fmt.Errorf("failed to check verify token: %w", err)
	}

	return count > 0, nil
}

// GetLatestForCustomer returns the active account the customer most recently
// talked to. Facebook customer ids are page-scoped, so directory lookups must
// use that account's token.
func (r *AccountRepository) GetLatestForCustomer(ctx context.Context, customerID int64) (*domain.Account, error) {
	query := `
		SELECT a.id, a.platform, a.owner_user_id, a.name, a.access_token, a.webhook_secret, a.verify_token,
			a.routing_id, a.details, a.active, a.created_at, a.updated_at
		FROM accounts a
		JOIN conversations c ON c.account_id = a.id
		WHERE c.customer_id = ? AND a.active = ?
		ORDER BY c.last_message_at DESC, c.id DESC
		LIMIT 1
	`

	return r.getOne(ctx, query, customerID, true)
}
