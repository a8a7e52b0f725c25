package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

// Envelope is one platform delivery split into discrete events. Failures holds
// events that could not be interpreted; they never affect their siblings.
type Envelope struct {
	Platform  domain.Platform
	EventType string
	Events    []domain.InboundEvent
	Failures  []error
}

func (e *Envelope) fail(format string, args ...any) {
	e.Failures = append(e.Failures, fmt.Errorf(format, args...))
}

// Parse decodes a raw platform payload. Only a payload that is not valid JSON
// for the platform fails as a whole.
func Parse(platform domain.Platform, raw []byte) (*Envelope, error) {
	switch platform {
	case domain.PlatformFacebook:
		return ParseFacebook(raw)
	case domain.PlatformWhatsApp:
		return ParseWhatsApp(raw)
	}

	return nil, fmt.Errorf("parse %s payload: %w", platform, domain.ErrUnsupportedEvent)
}

// PeekRoutingID returns the first account routing id in raw, or "" if none.
// Payloads whose events all fail to parse still yield the id from the raw
// entry, so signature checks can use the per-account secret.
func PeekRoutingID(platform domain.Platform, raw []byte) string {
	if envelope, err := Parse(platform, raw); err == nil {
		for _, event := range envelope.Events {
			if event.RoutingID != "" {
				return event.RoutingID
			}
		}
	}

	return peekRawRoutingID(platform, raw)
}

func peekRawRoutingID(platform domain.Platform, raw []byte) string {
	var payload struct {
		Entry []struct {
			ID      string `json:"id"`
			Changes []struct {
				Value struct {
					Metadata whatsAppMetadata `json:"metadata"`
				} `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}

	for _, entry := range payload.Entry {
		// WhatsApp entry ids are business account ids, not phone number ids.
		if platform != domain.PlatformWhatsApp {
			if entry.ID != "" {
				return entry.ID
			}
			continue
		}
		for _, change := range entry.Changes {
			if id := change.Value.Metadata.PhoneNumberID; id != "" {
				return id
			}
		}
	}

	return ""
}

// EventType returns the envelope's "object" field without a full parse.
func EventType(platform domain.Platform, raw []byte) string {
	if envelope, err := Parse(platform, raw); err == nil && envelope.EventType != "" {
		return envelope.EventType
	}
	return "unknown"
}

func unixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
