package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/processor"
	"github.com/onurcolak/messaging-bridge/pkg/response"
)

type webhookEventStore interface {
	List(ctx context.Context, processed *bool, page, pageSize int) ([]domain.WebhookEvent, int64, error)
}

type webhookReplayer interface {
	Replay(ctx context.Context, id int64) (*domain.WebhookEvent, error)
	ReplayPending(ctx context.Context, grace time.Duration, limit int) (processor.ReplayResult, error)
}

// WebhookEventHandler exposes the webhook audit log and manual replay to operators.
type WebhookEventHandler struct {
	store    webhookEventStore
	replayer webhookReplayer
	config   environments.WebhookConfig
}

func NewWebhookEventHandler(store webhookEventStore, replayer webhookReplayer, config environments.WebhookConfig) *WebhookEventHandler {
	return &WebhookEventHandler{
		store:    store,
		replayer: replayer,
		config:   config,
	}
}

// ListWebhookEvents godoc
// @Summary List recorded webhook deliveries
// @Tags webhook-events
// @Produce json
// @Param x-admin-key header string true "Admin API key"
// @Param processed query bool false "Filter by processed flag"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/webhook-events [get]
func (h *WebhookEventHandler) ListWebhookEvents(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var processed *bool
	if raw := c.QueryParam("processed"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return response.BadRequest(c, fmt.Errorf("processed must be true or false"))
		}
		processed = &value
	}

	events, total, err := h.store.List(c.Request().Context(), processed, page, pageSize)
	if err != nil {
		return respondError(c, err)
	}

	if events == nil {
		events = []domain.WebhookEvent{}
	}
	return response.Paginated(c, events, page, pageSize, total)
}

// ReplayWebhookEvent godoc
// @Summary Replay one webhook delivery
// @Description Reprocesses an unprocessed delivery; processed ones are returned unchanged
// @Tags webhook-events
// @Produce json
// @Param x-admin-key header string true "Admin API key"
// @Param id path int true "Webhook event ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/webhook-events/{id}/replay [post]
func (h *WebhookEventHandler) ReplayWebhookEvent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	event, err := h.replayer.Replay(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, event)
}

// ReplayPendingWebhookEvents godoc
// @Summary Replay all unprocessed webhook deliveries
// @Description Reprocesses unprocessed deliveries regardless of age
// @Tags webhook-events
// @Produce json
// @Param x-admin-key header string true "Admin API key"
// @Param limit query int false "Max deliveries to replay"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/webhook-events/replay [post]
func (h *WebhookEventHandler) ReplayPendingWebhookEvents(c echo.Context) error {
	limit, err := parseLimitParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}
	if limit == 0 {
		limit = h.config.ReplayBatchSize
	}

	result, err := h.replayer.ReplayPending(c.Request().Context(), 0, limit)
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, result)
}
