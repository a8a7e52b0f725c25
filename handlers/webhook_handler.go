package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
	"github.com/onurcolak/messaging-bridge/pkg/response"
)

const SignatureHeader = "X-Hub-Signature-256"

type webhookVerifier interface {
	VerifySubscription(ctx context.Context, platform domain.Platform, mode, token, challenge string) (string, error)
	VerifyPayload(ctx context.Context, platform domain.Platform, body []byte, signature string) error
}

type webhookIngestor interface {
	Ingest(ctx context.Context, platform domain.Platform, raw []byte) (*domain.WebhookEvent, error)
}

// WebhookHandler receives platform callbacks. A delivery is acknowledged only
// after it has been durably recorded.
type WebhookHandler struct {
	verifier webhookVerifier
	ingestor webhookIngestor
}

func NewWebhookHandler(verifier webhookVerifier, ingestor webhookIngestor) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		ingestor: ingestor,
	}
}

// VerifyFacebook godoc
// @Summary Facebook webhook subscription handshake
// @Tags webhooks
// @Produce plain
// @Param hub.mode query string true "Must be subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo back"
// @Success 200 {string} string
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/facebook [get]
func (h *WebhookHandler) VerifyFacebook(c echo.Context) error {
	return h.verifySubscription(c, domain.PlatformFacebook)
}

// VerifyWhatsApp godoc
// @Summary WhatsApp webhook subscription handshake
// @Tags webhooks
// @Produce plain
// @Param hub.mode query string true "Must be subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo back"
// @Success 200 {string} string
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/whatsapp [get]
func (h *WebhookHandler) VerifyWhatsApp(c echo.Context) error {
	return h.verifySubscription(c, domain.PlatformWhatsApp)
}

// ReceiveFacebook godoc
// @Summary Receive Facebook Messenger events
// @Tags webhooks
// @Accept json
// @Produce plain
// @Param X-Hub-Signature-256 header string true "sha256=<hex HMAC of the body>"
// @Success 200 {string} string
// @Failure 401 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /webhooks/facebook [post]
func (h *WebhookHandler) ReceiveFacebook(c echo.Context) error {
	return h.receive(c, domain.PlatformFacebook)
}

// ReceiveWhatsApp godoc
// @Summary Receive WhatsApp Business events
// @Tags webhooks
// @Accept json
// @Produce plain
// @Param X-Hub-Signature-256 header string true "sha256=<hex HMAC of the body>"
// @Success 200 {string} string
// @Failure 401 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /webhooks/whatsapp [post]
func (h *WebhookHandler) ReceiveWhatsApp(c echo.Context) error {
	return h.receive(c, domain.PlatformWhatsApp)
}

func (h *WebhookHandler) verifySubscription(c echo.Context, platform domain.Platform) error {
	challenge, err := h.verifier.VerifySubscription(
		c.Request().Context(),
		platform,
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
	)
	if err != nil {
		var verificationErr *domain.WebhookVerificationError
		if errors.As(err, &verificationErr) {
			logger.Warnf("Rejected %s webhook subscription: %v", platform, err)
			return response.Forbidden(c, "verification failed")
		}
		return response.InternalServerError(c, err)
	}

	logger.Infof("%s webhook subscription verified", platform.DisplayName())
	return c.String(http.StatusOK, challenge)
}

func (h *WebhookHandler) receive(c echo.Context, platform domain.Platform) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return response.BadRequest(c, fmt.Errorf("failed to read body: %w", err))
	}

	if err := h.verifier.VerifyPayload(ctx, platform, body, c.Request().Header.Get(SignatureHeader)); err != nil {
		logger.WithFields(logger.Fields{
			"platform":  platform,
			"remote_ip": c.RealIP(),
		}).WithError(err).Warn("Rejected webhook delivery")
		return respondError(c, err)
	}

	if _, err := h.ingestor.Ingest(ctx, platform, body); err != nil {
		return respondError(c, err)
	}

	return c.String(http.StatusOK, "EVENT_RECEIVED")
}
