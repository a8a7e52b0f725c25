package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the raw body>" on Meta webhooks.
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// Sign returns the header value a platform would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against an HMAC-SHA256 of body keyed by secret.
func VerifySignature(body []byte, header, secret string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return &domain.WebhookVerificationError{Reason: "missing signature"}
	}

	if !strings.HasPrefix(strings.ToLower(header), signaturePrefix) {
		return &domain.WebhookVerificationError{Reason: "malformed signature"}
	}

	given, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil || len(given) != sha256.Size {
		return &domain.WebhookVerificationError{Reason: "malformed signature"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(given, mac.Sum(nil)) {
		return &domain.WebhookVerificationError{Reason: "signature mismatch"}
	}

	return nil
}
