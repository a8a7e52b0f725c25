package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/middlewares"
	"github.com/onurcolak/messaging-bridge/internal/service"
	"github.com/onurcolak/messaging-bridge/pkg/response"
	"github.com/onurcolak/messaging-bridge/pkg/validator"
)

type conversationService interface {
	ListConversations(ctx context.Context, userID string, accountID int64, page, pageSize int) ([]domain.ConversationSummary, int64, error)
	ListMessages(ctx context.Context, userID string, conversationID int64, page, pageSize int) ([]domain.Message, int64, error)
	RecentMessages(ctx context.Context, userID string, conversationID int64, limit int) ([]domain.Message, error)
	SendMessage(ctx context.Context, userID string, conversationID int64, in service.SendMessageInput) (*domain.Message, error)
	ResendMessage(ctx context.Context, userID string, messageID int64) (*domain.Message, error)
}

type readLedger interface {
	MarkConversationRead(ctx context.Context, userID string, conversationID int64) (int64, error)
	MarkMessageUnread(ctx context.Context, userID string, messageID int64) (*domain.MessageNotification, error)
	ListUnread(ctx context.Context, userID string, limit int) ([]domain.MessageNotification, int64, error)
}

type ConversationHandler struct {
	service conversationService
	ledger  readLedger
}

func NewConversationHandler(service conversationService, ledger readLedger) *ConversationHandler {
	return &ConversationHandler{
		service: service,
		ledger:  ledger,
	}
}

type SendMessageRequest struct {
	Type     string `json:"type,omitempty" validate:"omitempty,messagetype"`
	Content  string `json:"content" validate:"max=4096"`
	MediaURL string `json:"mediaUrl,omitempty" validate:"omitempty,url"`
	FileName string `json:"fileName,omitempty" validate:"max=255"`
}

// ListConversations godoc
// @Summary List an account's conversations
// @Description Most recently active first
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/accounts/{id}/conversations [get]
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	conversations, total, err := h.service.ListConversations(c.Request().Context(), middlewares.UserID(c), accountID, page, pageSize)
	if err != nil {
		return respondError(c, err)
	}

	if conversations == nil {
		conversations = []domain.ConversationSummary{}
	}
	return response.Paginated(c, conversations, page, pageSize, total)
}

// ListMessages godoc
// @Summary List a conversation's messages
// @Description Newest first
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	messages, total, err := h.service.ListMessages(c.Request().Context(), middlewares.UserID(c), conversationID, page, pageSize)
	if err != nil {
		return respondError(c, err)
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	return response.Paginated(c, messages, page, pageSize, total)
}

// RecentMessages godoc
// @Summary Latest messages of a conversation
// @Description Chronological order; default 5, max 50
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param limit query int false "Number of messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/conversations/{id}/messages/recent [get]
func (h *ConversationHandler) RecentMessages(c echo.Context) error {
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	limit, err := parseLimitParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	messages, err := h.service.RecentMessages(c.Request().Context(), middlewares.UserID(c), conversationID, limit)
	if err != nil {
		return respondError(c, err)
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	return response.Ok(c, messages)
}

// SendMessage godoc
// @Summary Reply on a conversation
// @Description Sends text or media to the customer through the account's platform
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param request body SendMessageRequest true "Message"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/conversations/{id}/messages [post]
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	in := service.SendMessageInput{
		Content:  req.Content,
		MediaURL: req.MediaURL,
		FileName: req.FileName,
	}
	if req.Type != "" {
		msgType, err := domain.ParseMessageType(req.Type)
		if err != nil {
			return response.BadRequest(c, err)
		}
		in.Type = msgType
	}

	msg, err := h.service.SendMessage(c.Request().Context(), middlewares.UserID(c), conversationID, in)
	if err != nil {
		return respondSendError(c, msg, err)
	}

	return response.Created(c, "Message sent", msg)
}

// ResendMessage godoc
// @Summary Resend a failed message
// @Description Sends a copy of a FAILED outbound message; the failed message stays FAILED
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Message ID"
// @Success 201 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/messages/{id}/resend [post]
func (h *ConversationHandler) ResendMessage(c echo.Context) error {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	msg, err := h.service.ResendMessage(c.Request().Context(), middlewares.UserID(c), messageID)
	if err != nil {
		return respondSendError(c, msg, err)
	}

	return response.Created(c, "Message resent", msg)
}

// MarkConversationRead godoc
// @Summary Mark a conversation read
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/conversations/{id}/read [post]
func (h *ConversationHandler) MarkConversationRead(c echo.Context) error {
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	marked, err := h.ledger.MarkConversationRead(c.Request().Context(), middlewares.UserID(c), conversationID)
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, map[string]any{
		"marked": marked,
	})
}

// MarkMessageUnread godoc
// @Summary Mark a message unread
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Message ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/messages/{id}/unread [post]
func (h *ConversationHandler) MarkMessageUnread(c echo.Context) error {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	notification, err := h.ledger.MarkMessageUnread(c.Request().Context(), middlewares.UserID(c), messageID)
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, notification)
}

// ListUnread godoc
// @Summary List unread notifications
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max notifications (default: 50, max: 100)"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/notifications/unread [get]
func (h *ConversationHandler) ListUnread(c echo.Context) error {
	limit, err := parseLimitParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	notifications, total, err := h.ledger.ListUnread(c.Request().Context(), middlewares.UserID(c), limit)
	if err != nil {
		return respondError(c, err)
	}

	if notifications == nil {
		notifications = []domain.MessageNotification{}
	}
	return response.Ok(c, map[string]any{
		"notifications": notifications,
		"unreadCount":   total,
	})
}

// respondSendError reports a delivery that gave up. The FAILED message is
// already stored; the error explains why.
func respondSendError(c echo.Context, msg *domain.Message, err error) error {
	var apiErr *domain.MessagingAPIError
	if msg != nil && errors.As(err, &apiErr) {
		return response.BadGatewayWithData(c, apiErr, msg)
	}
	return respondError(c, err)
}
