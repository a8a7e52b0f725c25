package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

type whatsAppPayload struct {
	Object string          `json:"object"`
	Entry  []whatsAppEntry `json:"entry"`
}

type whatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []whatsAppChange `json:"changes"`
}

type whatsAppChange struct {
	Field string        `json:"field"`
	Value whatsAppValue `json:"value"`
}

type whatsAppValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         whatsAppMetadata  `json:"metadata"`
	Contacts         []whatsAppContact `json:"contacts"`
	Messages         []whatsAppMessage `json:"messages"`
	Statuses         []whatsAppStatus  `json:"statuses"`
}

type whatsAppMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type whatsAppContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type whatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type whatsAppMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *whatsAppMedia `json:"image,omitempty"`
	Document *whatsAppMedia `json:"document,omitempty"`
	Audio    *whatsAppMedia `json:"audio,omitempty"`
	Video    *whatsAppMedia `json:"video,omitempty"`
	Sticker  *whatsAppMedia `json:"sticker,omitempty"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location,omitempty"`
	Contacts    json.RawMessage `json:"contacts,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button,omitempty"`
}

type whatsAppStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

var whatsAppStatuses = map[string]domain.MessageStatus{
	"sent":      domain.StatusSent,
	"delivered": domain.StatusDelivered,
	"read":      domain.StatusRead,
	"failed":    domain.StatusFailed,
}

// ParseWhatsApp flattens entry[].changes[].value.{messages,statuses} into inbound events.
func ParseWhatsApp(raw []byte) (*Envelope, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode whatsapp payload: %w", err)
	}

	envelope := &Envelope{Platform: domain.PlatformWhatsApp, EventType: payload.Object}
	if payload.Object != "whatsapp_business_account" {
		envelope.fail("whatsapp object %q: %w", payload.Object, domain.ErrUnsupportedEvent)
		return envelope, nil
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				envelope.fail("entry %s change %q: %w", entry.ID, change.Field, domain.ErrUnsupportedEvent)
				continue
			}

			routingID := change.Value.Metadata.PhoneNumberID
			if routingID == "" {
				routingID = entry.ID
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = strings.TrimSpace(c.Profile.Name)
			}

			for _, m := range change.Value.Messages {
				event, err := whatsAppMessageEvent(routingID, m)
				if err != nil {
					envelope.fail("message %s: %w", m.ID, err)
					continue
				}
				event.CustomerName = names[m.From]
				envelope.Events = append(envelope.Events, *event)
			}

			for _, s := range change.Value.Statuses {
				event, err := whatsAppStatusEvent(routingID, s)
				if err != nil {
					envelope.fail("status %s: %w", s.ID, err)
					continue
				}
				envelope.Events = append(envelope.Events, *event)
			}
		}
	}

	return envelope, nil
}

func unixSeconds(value string) time.Time {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func whatsAppMessageEvent(routingID string, m whatsAppMessage) (*domain.InboundEvent, error) {
	if m.ID == "" || m.From == "" {
		return nil, fmt.Errorf("message missing id or sender")
	}

	event := &domain.InboundEvent{
		Kind:              domain.InboundMessage,
		Platform:          domain.PlatformWhatsApp,
		RoutingID:         routingID,
		CustomerID:        m.From,
		CustomerPhone:     m.From,
		PlatformMessageID: m.ID,
		Timestamp:         unixSeconds(m.Timestamp),
	}

	media := func(t domain.MessageType, md *whatsAppMedia) error {
		if md == nil {
			return fmt.Errorf("%s message without %s body", m.Type, m.Type)
		}
		event.Type = t
		event.Content = md.Caption
		event.Attachments = []domain.InboundAttachment{{
			Type:     t,
			MediaID:  md.ID,
			MimeType: md.MimeType,
			FileName: md.Filename,
		}}
		return nil
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return nil, fmt.Errorf("text message without body")
		}
		event.Type = domain.MessageTypeText
		event.Content = m.Text.Body
	case "image":
		return event, media(domain.MessageTypeImage, m.Image)
	case "sticker":
		return event, media(domain.MessageTypeImage, m.Sticker)
	case "document":
		return event, media(domain.MessageTypeDocument, m.Document)
	case "audio":
		return event, media(domain.MessageTypeAudio, m.Audio)
	case "video":
		return event, media(domain.MessageTypeVideo, m.Video)
	case "location":
		if m.Location == nil {
			return nil, fmt.Errorf("location message without coordinates")
		}
		event.Type = domain.MessageTypeLocation
		event.Content = strings.TrimSpace(fmt.Sprintf("%s %s (%f,%f)",
			m.Location.Name, m.Location.Address, m.Location.Latitude, m.Location.Longitude))
	case "contacts":
		event.Type = domain.MessageTypeContact
		event.Content = string(m.Contacts)
	case "interactive":
		if m.Interactive == nil {
			return nil, fmt.Errorf("interactive message without body")
		}
		event.Type = domain.MessageTypeText
		switch {
		case m.Interactive.ButtonReply != nil:
			event.Content = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			event.Content = m.Interactive.ListReply.Title
		default:
			return nil, fmt.Errorf("interactive %q: %w", m.Interactive.Type, domain.ErrUnsupportedEvent)
		}
	case "button":
		if m.Button == nil {
			return nil, fmt.Errorf("button message without body")
		}
		event.Type = domain.MessageTypeText
		event.Content = m.Button.Text
	default:
		return nil, fmt.Errorf("message type %q: %w", m.Type, domain.ErrUnsupportedEvent)
	}

	return event, nil
}

func whatsAppStatusEvent(routingID string, s whatsAppStatus) (*domain.InboundEvent, error) {
	status, ok := whatsAppStatuses[s.Status]
	if !ok {
		return nil, fmt.Errorf("status %q: %w", s.Status, domain.ErrUnsupportedEvent)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("status without message id")
	}

	event := &domain.InboundEvent{
		Kind:              domain.InboundStatus,
		Platform:          domain.PlatformWhatsApp,
		RoutingID:         routingID,
		CustomerID:        s.RecipientID,
		Timestamp:         unixSeconds(s.Timestamp),
		ReceiptStatus:     status,
		ReceiptMessageIDs: []string{s.ID},
	}

	if len(s.Errors) > 0 {
		e := s.Errors[0]
		event.ReceiptError = strings.TrimSpace(fmt.Sprintf("%d %s %s", e.Code, e.Title, e.Message))
	}

	return event, nil
}
