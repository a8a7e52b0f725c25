package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// DemoOwnerUserID owns the seeded accounts; issue a JWT with this subject to browse them.
const DemoOwnerUserID = "demo-staff"

type demoAccount struct {
	platform    domain.Platform
	name        string
	verifyToken string
	details     domain.AccountDetails
}

func SeedDemoData(db *sqlx.DB) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM accounts")
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d accounts, skipping seed", count)
		return nil
	}

	accounts := []demoAccount{
		{
			platform:    domain.PlatformFacebook,
			name:        "Demo Store Page",
			verifyToken: "demo-facebook-verify",
			details:     domain.FacebookAccountDetails{PageID: "100000000000001", PageName: "Demo Store"},
		},
		{
			platform:    domain.PlatformWhatsApp,
			name:        "Demo Store WhatsApp",
			verifyToken: "demo-whatsapp-verify",
			details: domain.WhatsAppAccountDetails{
				PhoneNumberID:      "200000000000001",
				BusinessAccountID:  "300000000000001",
				DisplayPhoneNumber: "+90 555 000 00 01",
			},
		},
	}

	now := time.Now().UTC()
	for _, acct := range accounts {
		details, err := domain.EncodeAccountDetails(acct.details)
		if err != nil {
			return err
		}

		_, err = db.Exec(
			`INSERT INTO accounts (platform, owner_user_id, name, access_token, verify_token, routing_id, details, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			acct.platform, DemoOwnerUserID, acct.name, "demo-access-token", acct.verifyToken,
			acct.details.RoutingID(), details, true, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	logger.Infof("Seeded %d demo accounts for %s", len(accounts), DemoOwnerUserID)
	return nil
}
