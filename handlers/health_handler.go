package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/worker"
	"github.com/onurcolak/messaging-bridge/pkg/redis"
)

type poolStats interface {
	Stats() worker.Stats
}

type subscriberCounter interface {
	SubscriberCount(userID string) int
}

// HealthHandler handles health checks.
type HealthHandler struct {
	db           *sqlx.DB
	redis        *redis.Client
	pools        []poolStats
	events       subscriberCounter
	checkTimeout time.Duration
}

func NewHealthHandler(db *sqlx.DB, redisClient *redis.Client, events subscriberCounter, pools ...poolStats) *HealthHandler {
	return &HealthHandler{
		db:           db,
		redis:        redisClient,
		pools:        pools,
		events:       events,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status with DB, Valkey, worker pool and stream statuses.
// @Summary Health check
// @Description Returns overall status with DB and Valkey connectivity, worker queue depth and live stream count
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
		overallStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
		overallStatus = "down"
	}

	cacheStatus := "disabled"
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			cacheStatus = "down"
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		} else {
			cacheStatus = "up"
		}
	}

	pools := make([]worker.Stats, 0, len(h.pools))
	for _, p := range h.pools {
		stats := p.Stats()
		// A saturated queue means webhooks are being turned away.
		if stats.Capacity > 0 && stats.Queued >= stats.Capacity && overallStatus == "ok" {
			overallStatus = "degraded"
		}
		pools = append(pools, stats)
	}

	components := map[string]any{
		"database": map[string]any{
			"status": dbStatus,
		},
		"valkey": map[string]any{
			"status": cacheStatus,
		},
		"workers": pools,
	}
	if h.events != nil {
		components["streams"] = map[string]any{
			"subscriptions": h.events.SubscriberCount(""),
		}
	}

	status := http.StatusOK
	if overallStatus == "down" {
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, map[string]any{
		"status":     overallStatus,
		"timestamp":  time.Now().Format(time.RFC3339),
		"components": components,
	})
}
