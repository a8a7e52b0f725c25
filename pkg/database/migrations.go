package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type dialect struct {
	replacer  *strings.Replacer
	tableOpts string
	// inlineIndexes is true when secondary indexes are declared inside CREATE TABLE.
	inlineIndexes bool
}

var dialects = map[string]dialect{
	DriverMySQL: {
		replacer: strings.NewReplacer(
			"{ID}", "BIGINT AUTO_INCREMENT PRIMARY KEY",
			"{BOOL}", "BOOLEAN",
			"{TIME}", "DATETIME(6)",
			"{LONGTEXT}", "MEDIUMTEXT",
		),
		tableOpts:     " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
		inlineIndexes: true,
	},
	DriverSQLite: {
		replacer: strings.NewReplacer(
			"{ID}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{BOOL}", "INTEGER",
			"{TIME}", "DATETIME",
			"{LONGTEXT}", "TEXT",
		),
	},
}

type index struct {
	name    string
	columns string
}

type table struct {
	name    string
	columns []string
	indexes []index
}

var schema = []table{
	{
		name: "accounts",
		columns: []string{
			"id {ID}",
			"platform VARCHAR(20) NOT NULL",
			"owner_user_id VARCHAR(100) NOT NULL",
			"name VARCHAR(255) NOT NULL",
			"access_token TEXT NOT NULL",
			"webhook_secret VARCHAR(255) NULL",
			"verify_token VARCHAR(255) NULL",
			"routing_id VARCHAR(100) NOT NULL",
			"details TEXT NOT NULL",
			"active {BOOL} NOT NULL DEFAULT 1",
			"created_at {TIME} NOT NULL",
			"updated_at {TIME} NOT NULL",
			"UNIQUE (platform, routing_id)",
		},
		indexes: []index{{"idx_accounts_owner", "owner_user_id"}},
	},
	{
		name: "customers",
		columns: []string{
			"id {ID}",
			"platform VARCHAR(20) NOT NULL",
			"platform_customer_id VARCHAR(100) NOT NULL",
			"display_name VARCHAR(255) NULL",
			"first_name VARCHAR(100) NULL",
			"last_name VARCHAR(100) NULL",
			"profile_picture_url TEXT NULL",
			"phone VARCHAR(50) NULL",
			"email VARCHAR(255) NULL",
			"address TEXT NULL",
			"profile_fetched {BOOL} NOT NULL DEFAULT 0",
			"profile_fetch_attempted_at {TIME} NULL",
			"created_at {TIME} NOT NULL",
			"updated_at {TIME} NOT NULL",
			"UNIQUE (platform, platform_customer_id)",
		},
		indexes: []index{{"idx_customers_profile_fetched", "profile_fetched, profile_fetch_attempted_at"}},
	},
	{
		name: "conversations",
		columns: []string{
			"id {ID}",
			"account_id BIGINT NOT NULL",
			"customer_id BIGINT NOT NULL",
			"last_message_at {TIME} NULL",
			"unread_count INT NOT NULL DEFAULT 0",
			"active {BOOL} NOT NULL DEFAULT 1",
			"created_at {TIME} NOT NULL",
			"updated_at {TIME} NOT NULL",
			"UNIQUE (account_id, customer_id)",
		},
		indexes: []index{{"idx_conversations_account_last", "account_id, last_message_at"}},
	},
	{
		name: "messages",
		columns: []string{
			"id {ID}",
			"conversation_id BIGINT NOT NULL",
			"platform_message_id VARCHAR(255) NULL",
			"sender_id VARCHAR(100) NOT NULL",
			"recipient_id VARCHAR(100) NOT NULL",
			"type VARCHAR(20) NOT NULL",
			"content TEXT NULL",
			"is_inbound {BOOL} NOT NULL",
			"status VARCHAR(20) NOT NULL",
			"error_message TEXT NULL",
			"timestamp {TIME} NOT NULL",
			"created_at {TIME} NOT NULL",
			"updated_at {TIME} NOT NULL",
			"UNIQUE (platform_message_id)",
		},
		indexes: []index{{"idx_messages_conversation_ts", "conversation_id, timestamp"}},
	},
	{
		name: "message_attachments",
		columns: []string{
			"id {ID}",
			"message_id BIGINT NOT NULL",
			"type VARCHAR(20) NOT NULL",
			"url TEXT NULL",
			"local_path TEXT NULL",
			"platform_media_id VARCHAR(255) NULL",
			"size BIGINT NULL",
			"mime_type VARCHAR(100) NULL",
			"file_name VARCHAR(255) NULL",
			"created_at {TIME} NOT NULL",
		},
		indexes: []index{{"idx_message_attachments_message", "message_id"}},
	},
	{
		name: "webhook_events",
		columns: []string{
			"id {ID}",
			"platform VARCHAR(20) NOT NULL",
			"event_type VARCHAR(50) NOT NULL",
			"raw_payload {LONGTEXT} NOT NULL",
			"processed {BOOL} NOT NULL DEFAULT 0",
			"dead {BOOL} NOT NULL DEFAULT 0",
			"attempts INT NOT NULL DEFAULT 0",
			"error_message TEXT NULL",
			"account_id BIGINT NULL",
			"created_at {TIME} NOT NULL",
			"processed_at {TIME} NULL",
		},
		indexes: []index{{"idx_webhook_events_pending", "processed, dead, attempts"}},
	},
	{
		name: "message_notifications",
		columns: []string{
			"id {ID}",
			"user_id VARCHAR(100) NOT NULL",
			"message_id BIGINT NOT NULL",
			"conversation_id BIGINT NOT NULL",
			"is_read {BOOL} NOT NULL DEFAULT 0",
			"read_at {TIME} NULL",
			"created_at {TIME} NOT NULL",
			"UNIQUE (user_id, message_id)",
		},
		indexes: []index{
			{"idx_notifications_user_read", "user_id, is_read"},
			{"idx_notifications_conversation", "conversation_id"},
		},
	},
}

// RunMigrations creates the schema for the connection's driver. It is idempotent.
func RunMigrations(db *sqlx.DB) error {
	d, ok := dialects[db.DriverName()]
	if !ok {
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}

	for _, stmt := range d.statements() {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

func (d dialect) statements() []string {
	var stmts []string

	for _, t := range schema {
		defs := append([]string(nil), t.columns...)
		if d.inlineIndexes {
			for _, idx := range t.indexes {
				defs = append(defs, fmt.Sprintf("INDEX %s (%s)", idx.name, idx.columns))
			}
		}

		stmts = append(stmts, d.replacer.Replace(fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)%s",
			t.name, strings.Join(defs, ",\n\t"), d.tableOpts,
		)))

		if !d.inlineIndexes {
			for _, idx := range t.indexes {
				stmts = append(stmts, fmt.Sprintf(
					"CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, t.name, idx.columns,
				))
			}
		}
	}

	return stmts
}
