package graphapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// WhatsAppClient talks to the WhatsApp Cloud API on behalf of a phone number.
type WhatsAppClient struct {
	httpClient *resty.Client
	apiVersion string
}

func NewWhatsAppClient(cfg environments.PlatformConfig) *WhatsAppClient {
	return &WhatsAppClient{
		httpClient: newRestyClient(cfg),
		apiVersion: cfg.APIVersion,
	}
}

func (c *WhatsAppClient) Platform() domain.Platform {
	return domain.PlatformWhatsApp
}

type whatsAppSendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Messages         []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *WhatsAppClient) buildPayload(req SendRequest) (map[string]any, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.RecipientID,
	}

	if req.Type == domain.MessageTypeText {
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": req.Content, "preview_url": false}
		return payload, nil
	}

	if !req.Type.IsMedia() {
		return nil, unsupportedType(req.Type)
	}

	kind := strings.ToLower(string(req.Type))
	media := map[string]any{"link": req.MediaURL}
	if req.Content != "" && req.Type != domain.MessageTypeAudio {
		media["caption"] = req.Content
	}
	if req.Type == domain.MessageTypeDocument && req.FileName != "" {
		media["filename"] = req.FileName
	}

	payload["type"] = kind
	payload[kind] = media

	return payload, nil
}

// SendMessage posts to /{phone-number-id}/messages and returns the wamid.
func (c *WhatsAppClient) SendMessage(ctx context.Context, account *domain.Account, req SendRequest) (string, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return "", err
	}

	var result whatsAppSendResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(account.AccessToken).
		SetPathParams(map[string]string{"version": c.apiVersion, "phone": account.RoutingID()}).
		SetBody(payload).
		SetResult(&result).
		SetError(&graphErrorEnvelope{}).
		Post("/{version}/{phone}/messages")

	if err := classify(resp, err); err != nil {
		return "", err
	}

	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", &domain.MessagingAPIError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("whatsapp response carried no message id: %s", resp.String()),
		}
	}

	logger.Debugf("WhatsApp send to %s completed in %v (wamid: %s)", req.RecipientID, resp.Time(), result.Messages[0].ID)

	return result.Messages[0].ID, nil
}

// FetchProfile always fails: the Cloud API has no contact directory. Names
// arrive with inbound webhooks instead.
func (c *WhatsAppClient) FetchProfile(context.Context, *domain.Account, string) (*domain.CustomerProfile, error) {
	return nil, domain.ErrProfileUnavailable
}
