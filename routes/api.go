package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/handlers"
	"github.com/onurcolak/messaging-bridge/internal/middlewares"
)

// webhookBodyLimit caps platform deliveries; Facebook batches stay well below it.
const webhookBodyLimit = "1M"

type Handlers struct {
	Health       *handlers.HealthHandler
	Webhook      *handlers.WebhookHandler
	WebhookEvent *handlers.WebhookEventHandler
	Account      *handlers.AccountHandler
	Conversation *handlers.ConversationHandler
	Event        *handlers.EventHandler
	Scheduler    *handlers.SchedulerHandler
}

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(e *echo.Echo, h Handlers, cfg *environments.Config) {
	e.GET("/health", h.Health.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Platform callbacks authenticate by signature and verify token, not by API key.
	webhooks := e.Group("/webhooks", middleware.BodyLimit(webhookBodyLimit))

	webhooks.GET("/facebook", h.Webhook.VerifyFacebook)
	webhooks.POST("/facebook", h.Webhook.ReceiveFacebook)
	webhooks.GET("/whatsapp", h.Webhook.VerifyWhatsApp)
	webhooks.POST("/whatsapp", h.Webhook.ReceiveWhatsApp)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Staff routes, authenticated per user
	staff := v1.Group("", middlewares.JWTAuth(cfg.Auth.JWTSecret))

	staff.GET("/accounts", h.Account.ListAccounts)
	staff.POST("/accounts", h.Account.CreateAccount)
	staff.POST("/accounts/:id/activate", h.Account.ActivateAccount)
	staff.POST("/accounts/:id/deactivate", h.Account.DeactivateAccount)
	staff.GET("/accounts/:id/conversations", h.Conversation.ListConversations)

	staff.GET("/conversations/:id/messages", h.Conversation.ListMessages)
	staff.GET("/conversations/:id/messages/recent", h.Conversation.RecentMessages)
	staff.POST("/conversations/:id/messages", h.Conversation.SendMessage)
	staff.POST("/conversations/:id/read", h.Conversation.MarkConversationRead)

	staff.POST("/messages/:id/unread", h.Conversation.MarkMessageUnread)
	staff.POST("/messages/:id/resend", h.Conversation.ResendMessage)

	staff.GET("/notifications/unread", h.Conversation.ListUnread)

	staff.GET("/events", h.Event.Stream)
	staff.GET("/events/ws", h.Event.WebSocket)

	// Operator routes with the admin API key
	admin := v1.Group("", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))

	admin.GET("/webhook-events", h.WebhookEvent.ListWebhookEvents)
	admin.POST("/webhook-events/replay", h.WebhookEvent.ReplayPendingWebhookEvents)
	admin.POST("/webhook-events/:id/replay", h.WebhookEvent.ReplayWebhookEvent)

	admin.POST("/scheduler/start", h.Scheduler.StartScheduler)
	admin.POST("/scheduler/stop", h.Scheduler.StopScheduler)
	admin.GET("/scheduler/status", h.Scheduler.GetSchedulerStatus)
}
