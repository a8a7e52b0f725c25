package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("duplicate")
	ErrThrottled          = errors.New("rate limit exhausted")
	ErrQueueFull          = errors.New("ingestion queue full")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrUnsupportedEvent   = errors.New("unsupported platform event")
	ErrInvalidTransition  = errors.New("invalid message status transition")
	ErrProfileUnavailable = errors.New("platform has no profile directory")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrInvalidAccount     = errors.New("invalid account")
)

// WebhookVerificationError rejects a request at the boundary: bad signature or verify token.
type WebhookVerificationError struct {
	Reason string
}

func (e *WebhookVerificationError) Error() string {
	return "webhook verification failed: " + e.Reason
}

// AccountConfigurationError marks an event that cannot be attributed to a usable account.
type AccountConfigurationError struct {
	Platform  Platform
	RoutingID string
	Reason    string
}

func (e *AccountConfigurationError) Error() string {
	return fmt.Sprintf("account configuration error (%s %s): %s", e.Platform, e.RoutingID, e.Reason)
}

// MessagingAPIError is a failed call to a platform API.
type MessagingAPIError struct {
	StatusCode int
	Code       int
	Message    string
	Transient  bool
	Attempts   int
}

func (e *MessagingAPIError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("messaging api error (status %d, code %d) after %d attempt(s): %s",
			e.StatusCode, e.Code, e.Attempts, e.Message)
	}
	return fmt.Sprintf("messaging api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

func IsTransient(err error) bool {
	var apiErr *MessagingAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return false
}
