// Package graphapi calls the Facebook Messenger Send API and the WhatsApp Cloud API.
package graphapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
)

// SendRequest is one outbound message addressed to a platform-scoped recipient.
type SendRequest struct {
	RecipientID string
	Type        domain.MessageType
	Content     string
	MediaURL    string
	FileName    string
}

// Graph error codes that mean "slow down and try again" whatever the status.
// Codes 1 and 2 (unknown error, service unavailable) are only retried when
// they come with a 5xx, which the status check already covers.
var rateLimitCodes = map[int]bool{
	4:      true, // application request limit
	17:     true, // user request limit
	32:     true, // page request limit
	613:    true, // calls exceeded rate limit
	80007:  true, // messenger rate limit
	130429: true, // whatsapp throughput limit
	131056: true, // whatsapp pair rate limit
}

type graphErrorEnvelope struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

func newRestyClient(cfg environments.PlatformConfig) *resty.Client {
	// No resty-level retries: the outbound gateway owns the retry policy.
	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// classify converts a transport failure or non-2xx response into a MessagingAPIError.
func classify(resp *resty.Response, err error) error {
	// A body that fails to decode still carries a usable status code.
	if err != nil && (resp == nil || resp.StatusCode() == 0) {
		return &domain.MessagingAPIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Transient: true,
		}
	}

	if err == nil && resp.IsSuccess() {
		return nil
	}

	apiErr := &domain.MessagingAPIError{
		StatusCode: resp.StatusCode(),
		Message:    strings.TrimSpace(resp.String()),
	}

	if envelope, ok := resp.Error().(*graphErrorEnvelope); ok && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}

	apiErr.Transient = resp.StatusCode() >= http.StatusInternalServerError ||
		resp.StatusCode() == http.StatusTooManyRequests ||
		rateLimitCodes[apiErr.Code]

	return apiErr
}

// IsPermanent reports whether err is a platform rejection that retrying cannot fix.
func IsPermanent(err error) bool {
	var apiErr *domain.MessagingAPIError
	return errors.As(err, &apiErr) && !apiErr.Transient
}

func unsupportedType(t domain.MessageType) error {
	return &domain.MessagingAPIError{
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf("message type %s cannot be sent", t),
	}
}
