package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

type facebookPayload struct {
	Object string          `json:"object"`
	Entry  []facebookEntry `json:"entry"`
}

type facebookEntry struct {
	ID        string              `json:"id"`
	Time      int64               `json:"time"`
	Messaging []facebookMessaging `json:"messaging"`
}

type facebookMessaging struct {
	Sender    facebookUser      `json:"sender"`
	Recipient facebookUser      `json:"recipient"`
	Timestamp int64             `json:"timestamp"`
	Message   *facebookMessage  `json:"message,omitempty"`
	Delivery  *facebookDelivery `json:"delivery,omitempty"`
	Read      *facebookRead     `json:"read,omitempty"`
	Postback  json.RawMessage   `json:"postback,omitempty"`
	Reaction  json.RawMessage   `json:"reaction,omitempty"`
}

type facebookUser struct {
	ID string `json:"id"`
}

type facebookMessage struct {
	MID         string               `json:"mid"`
	Text        string               `json:"text"`
	IsEcho      bool                 `json:"is_echo,omitempty"`
	Attachments []facebookAttachment `json:"attachments,omitempty"`
}

type facebookAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"payload"`
}

type facebookDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

type facebookRead struct {
	Watermark int64 `json:"watermark"`
}

var facebookAttachmentTypes = map[string]domain.MessageType{
	"image":    domain.MessageTypeImage,
	"video":    domain.MessageTypeVideo,
	"audio":    domain.MessageTypeAudio,
	"file":     domain.MessageTypeDocument,
	"location": domain.MessageTypeLocation,
	"template": domain.MessageTypeTemplate,
	"fallback": domain.MessageTypeText,
}

// ParseFacebook flattens entry[].messaging[] into inbound events.
func ParseFacebook(raw []byte) (*Envelope, error) {
	var payload facebookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode facebook payload: %w", err)
	}

	envelope := &Envelope{Platform: domain.PlatformFacebook, EventType: payload.Object}
	if payload.Object != "page" {
		envelope.fail("facebook object %q: %w", payload.Object, domain.ErrUnsupportedEvent)
		return envelope, nil
	}

	for _, entry := range payload.Entry {
		for i, m := range entry.Messaging {
			event, err := facebookEvent(entry.ID, m)
			if err != nil {
				envelope.fail("entry %s messaging[%d]: %w", entry.ID, i, err)
				continue
			}
			envelope.Events = append(envelope.Events, *event)
		}
	}

	return envelope, nil
}

func facebookEvent(pageID string, m facebookMessaging) (*domain.InboundEvent, error) {
	event := &domain.InboundEvent{
		Platform:   domain.PlatformFacebook,
		RoutingID:  pageID,
		CustomerID: m.Sender.ID,
		Timestamp:  unixMillis(m.Timestamp),
	}

	switch {
	case m.Message != nil:
		event.Kind = domain.InboundMessage
		if m.Message.IsEcho {
			// Echoes are sent by the page: the customer is the recipient.
			event.Kind = domain.InboundEcho
			event.CustomerID = m.Recipient.ID
		}
		if err := fillFacebookMessage(event, m.Message); err != nil {
			return nil, err
		}

	case m.Delivery != nil:
		event.Kind = domain.InboundDelivery
		event.ReceiptStatus = domain.StatusDelivered
		event.ReceiptMessageIDs = m.Delivery.MIDs
		if m.Delivery.Watermark > 0 {
			event.Watermark = unixMillis(m.Delivery.Watermark)
		}

	case m.Read != nil:
		event.Kind = domain.InboundRead
		event.ReceiptStatus = domain.StatusRead
		event.Watermark = unixMillis(m.Read.Watermark)

	case len(m.Postback) > 0:
		return nil, fmt.Errorf("postback: %w", domain.ErrUnsupportedEvent)
	case len(m.Reaction) > 0:
		return nil, fmt.Errorf("reaction: %w", domain.ErrUnsupportedEvent)
	default:
		return nil, fmt.Errorf("unrecognised messaging event: %w", domain.ErrUnsupportedEvent)
	}

	if event.RoutingID == "" || event.CustomerID == "" {
		return nil, fmt.Errorf("messaging event missing page or sender id")
	}

	return event, nil
}

func fillFacebookMessage(event *domain.InboundEvent, msg *facebookMessage) error {
	if msg.MID == "" {
		return fmt.Errorf("message without mid")
	}

	event.PlatformMessageID = msg.MID
	event.Content = msg.Text
	event.Type = domain.MessageTypeText

	for i, att := range msg.Attachments {
		t, ok := facebookAttachmentTypes[att.Type]
		if !ok {
			return fmt.Errorf("attachment type %q: %w", att.Type, domain.ErrUnsupportedEvent)
		}
		if i == 0 {
			event.Type = t
		}
		event.Attachments = append(event.Attachments, domain.InboundAttachment{
			Type:     t,
			URL:      att.Payload.URL,
			FileName: att.Payload.Title,
		})
	}

	if event.Content == "" && len(event.Attachments) == 0 {
		return fmt.Errorf("message %s has no content: %w", msg.MID, domain.ErrUnsupportedEvent)
	}

	return nil
}
