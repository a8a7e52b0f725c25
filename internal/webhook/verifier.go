package webhook

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

type accountLookup interface {
	GetByRoutingID(ctx context.Context, platform domain.Platform, routingID string) (*domain.Account, error)
	HasVerifyToken(ctx context.Context, platform domain.Platform, token string) (bool, error)
}

// PlatformSecrets are the app-level credentials configured per platform.
type PlatformSecrets struct {
	AppSecret   string
	VerifyToken string
}

// Verifier gates webhook requests: the GET subscription handshake and the
// POST body signature. It has no side effects.
type Verifier struct {
	accounts         accountLookup
	secrets          map[domain.Platform]PlatformSecrets
	verifySignatures bool
}

func NewVerifier(accounts accountLookup, secrets map[domain.Platform]PlatformSecrets, verifySignatures bool) *Verifier {
	if !verifySignatures {
		logger.Warnf("Webhook signature verification is DISABLED; do not run this configuration in production")
	}

	return &Verifier{
		accounts:         accounts,
		secrets:          secrets,
		verifySignatures: verifySignatures,
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifySubscription answers the hub.challenge handshake. It returns the
// challenge only when token matches the platform-global or an account's verify token.
func (v *Verifier) VerifySubscription(ctx context.Context, platform domain.Platform, mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		return "", &domain.WebhookVerificationError{Reason: fmt.Sprintf("unexpected hub.mode %q", mode)}
	}
	if token == "" {
		return "", &domain.WebhookVerificationError{Reason: "missing verify token"}
	}

	if global := v.secrets[platform].VerifyToken; global != "" && secureCompare(token, global) {
		return challenge, nil
	}

	ok, err := v.accounts.HasVerifyToken(ctx, platform, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &domain.WebhookVerificationError{Reason: "verify token mismatch"}
	}

	return challenge, nil
}

// VerifyPayload checks the signature of a POST body. The secret is the
// addressed account's webhook secret, falling back to the platform app secret.
func (v *Verifier) VerifyPayload(ctx context.Context, platform domain.Platform, body []byte, signature string) error {
	if !v.verifySignatures {
		logger.Debugf("Skipping %s webhook signature verification (disabled)", platform)
		return nil
	}

	routingID := PeekRoutingID(platform, body)
	secret := v.secrets[platform].AppSecret

	if routingID != "" {
		account, err := v.accounts.GetByRoutingID(ctx, platform, routingID)
		if err != nil {
			return err
		}
		if account != nil {
			secret = account.SigningSecret(secret)
		}
	}

	if secret == "" {
		return &domain.AccountConfigurationError{
			Platform:  platform,
			RoutingID: routingID,
			Reason:    "signature verification enabled but no webhook secret configured",
		}
	}

	return VerifySignature(body, signature, secret)
}
