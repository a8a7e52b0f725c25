package graphapi

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// FacebookClient talks to the Messenger Platform on behalf of a page.
type FacebookClient struct {
	httpClient *resty.Client
	apiVersion string
}

func NewFacebookClient(cfg environments.PlatformConfig) *FacebookClient {
	return &FacebookClient{
		httpClient: newRestyClient(cfg),
		apiVersion: cfg.APIVersion,
	}
}

func (c *FacebookClient) Platform() domain.Platform {
	return domain.PlatformFacebook
}

type facebookSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type facebookAttachment struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

var facebookAttachmentTypes = map[domain.MessageType]string{
	domain.MessageTypeImage:    "image",
	domain.MessageTypeVideo:    "video",
	domain.MessageTypeAudio:    "audio",
	domain.MessageTypeDocument: "file",
}

func (c *FacebookClient) buildMessage(req SendRequest) (map[string]any, error) {
	if req.Type == domain.MessageTypeText {
		return map[string]any{"text": req.Content}, nil
	}

	attachmentType, ok := facebookAttachmentTypes[req.Type]
	if !ok {
		return nil, unsupportedType(req.Type)
	}

	return map[string]any{
		"attachment": facebookAttachment{
			Type:    attachmentType,
			Payload: map[string]any{"url": req.MediaURL, "is_reusable": true},
		},
	}, nil
}

// SendMessage posts to /{page-id}/messages and returns the platform message id.
func (c *FacebookClient) SendMessage(ctx context.Context, account *domain.Account, req SendRequest) (string, error) {
	message, err := c.buildMessage(req)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"recipient":      map[string]string{"id": req.RecipientID},
		"messaging_type": "RESPONSE",
		"message":        message,
	}

	var result facebookSendResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"version": c.apiVersion, "page": account.RoutingID()}).
		SetQueryParam("access_token", account.AccessToken).
		SetBody(payload).
		SetResult(&result).
		SetError(&graphErrorEnvelope{}).
		Post("/{version}/{page}/messages")

	if err := classify(resp, err); err != nil {
		return "", err
	}

	logger.Debugf("Facebook send to %s completed in %v (mid: %s)", req.RecipientID, resp.Time(), result.MessageID)

	return result.MessageID, nil
}

type facebookProfileResponse struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

// FetchProfile looks up a PSID through the page's access token.
func (c *FacebookClient) FetchProfile(ctx context.Context, account *domain.Account, customerID string) (*domain.CustomerProfile, error) {
	var result facebookProfileResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"version": c.apiVersion, "psid": customerID}).
		SetQueryParams(map[string]string{
			"fields":       "first_name,last_name,profile_pic",
			"access_token": account.AccessToken,
		}).
		SetResult(&result).
		SetError(&graphErrorEnvelope{}).
		Get("/{version}/{psid}")

	if err := classify(resp, err); err != nil {
		return nil, err
	}

	profile := &domain.CustomerProfile{
		FirstName:         strings.TrimSpace(result.FirstName),
		LastName:          strings.TrimSpace(result.LastName),
		ProfilePictureURL: result.ProfilePic,
	}
	profile.DisplayName = strings.TrimSpace(profile.FirstName + " " + profile.LastName)

	return profile, nil
}
