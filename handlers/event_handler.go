package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/middlewares"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
	"github.com/onurcolak/messaging-bridge/pkg/response"
)

const wsWriteTimeout = 10 * time.Second

type eventSource interface {
	Subscribe(userID string) (string, <-chan domain.Event, func())
}

// EventHandler streams a staff user's real-time events over SSE or WebSocket.
// Every open tab is its own subscription.
type EventHandler struct {
	events         eventSource
	originPatterns []string
}

// NewEventHandler builds the handler; originPatterns are the extra origins
// allowed to open WebSocket connections.
func NewEventHandler(events eventSource, originPatterns []string) *EventHandler {
	return &EventHandler{
		events:         events,
		originPatterns: originPatterns,
	}
}

// Stream godoc
// @Summary Real-time event stream (SSE)
// @Description NEW_MESSAGE, CONVERSATION_UPDATE, UNREAD_COUNT_UPDATE, MESSAGE_STATUS_UPDATE, ACCOUNT_STATUS_UPDATE and CONNECTION_STATUS events
// @Tags events
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string
// @Router /api/v1/events [get]
func (h *EventHandler) Stream(c echo.Context) error {
	userID := middlewares.UserID(c)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return response.InternalServerError(c, fmt.Errorf("streaming not supported"))
	}

	id, stream, cancel := h.events.Subscribe(userID)
	defer cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(c.Response().Writer)
	log := logger.WithFields(logger.Fields{"user_id": userID, "subscription": id})
	log.Debug("SSE subscriber connected")

	if err := writeSSEEvent(writer, flusher, connectedEvent(userID)); err != nil {
		return nil
	}

	for {
		select {
		case <-c.Request().Context().Done():
			log.Debug("SSE subscriber disconnected")
			return nil
		case event, ok := <-stream:
			if !ok {
				// Evicted or shutting down; the client reconnects.
				return nil
			}
			if err := writeSSEEvent(writer, flusher, event); err != nil {
				return nil
			}
		}
	}
}

// WebSocket godoc
// @Summary Real-time event stream (WebSocket)
// @Description Same events as the SSE stream, one JSON object per text frame
// @Tags events
// @Security BearerAuth
// @Success 101 {string} string
// @Router /api/v1/events/ws [get]
func (h *EventHandler) WebSocket(c echo.Context) error {
	userID := middlewares.UserID(c)

	conn, err := websocket.Accept(c.Response().Writer, c.Request(), &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the failure response.
		logger.Warnf("WebSocket upgrade failed for user %s: %v", userID, err)
		return nil
	}
	defer conn.CloseNow()

	id, stream, cancel := h.events.Subscribe(userID)
	defer cancel()

	log := logger.WithFields(logger.Fields{"user_id": userID, "subscription": id})
	log.Debug("WebSocket subscriber connected")

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request().Context())

	if err := writeWSEvent(ctx, conn, connectedEvent(userID)); err != nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("WebSocket subscriber disconnected")
			return nil
		case event, ok := <-stream:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return nil
			}
			if err := writeWSEvent(ctx, conn, event); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.WithError(err).Debug("WebSocket write failed")
				}
				return nil
			}
		}
	}
}

func connectedEvent(userID string) domain.Event {
	return domain.Event{
		Type:      domain.EventConnectionStatus,
		UserID:    userID,
		Payload:   map[string]any{"status": "connected"},
		Timestamp: time.Now().UTC(),
	}
}

func writeSSEEvent(writer *bufio.Writer, flusher http.Flusher, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, event domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
