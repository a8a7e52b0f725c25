package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/onurcolak/messaging-bridge/internal/domain"
)

type fakeAccounts struct {
	accounts map[string]*domain.Account
	tokens   map[string]bool
}

func (f *fakeAccounts) GetByRoutingID(_ context.Context, _ domain.Platform, routingID string) (*domain.Account, error) {
	return f.accounts[routingID], nil
}

func (f *fakeAccounts) HasVerifyToken(_ context.Context, _ domain.Platform, token string) (bool, error) {
	return f.tokens[token], nil
}

const facebookBatch = `{
  "object": "page",
  "entry": [{
    "id": "page_1",
    "time": 1700000000000,
    "messaging": [
      {"sender": {"id": "fb_123"}, "recipient": {"id": "page_1"}, "timestamp": 1700000000000,
       "message": {"mid": "m_1", "text": "hello"}},
      {"sender": {"id": "page_1"}, "recipient": {"id": "fb_123"}, "timestamp": 1700000001000,
       "message": {"mid": "m_2", "text": "hi there", "is_echo": true}},
      {"sender": {"id": "fb_123"}, "recipient": {"id": "page_1"}, "timestamp": 1700000002000,
       "delivery": {"mids": ["m_2"], "watermark": 1700000001500}},
      {"sender": {"id": "fb_123"}, "recipient": {"id": "page_1"}, "timestamp": 1700000003000,
       "read": {"watermark": 1700000002500}},
      {"sender": {"id": "fb_123"}, "recipient": {"id": "page_1"}, "timestamp": 1700000004000,
       "postback": {"payload": "GET_STARTED"}},
      {"sender": {"id": "fb_123"}, "recipient": {"id": "page_1"}, "timestamp": 1700000005000,
       "message": {"mid": "m_3", "attachments": [{"type": "image", "payload": {"url": "https://cdn/img.png"}}]}}
    ]
  }]
}`

func TestSignature_RejectsAlteredBody(t *testing.T) {
	body := []byte(facebookBatch)
	header := Sign("app-secret", body)

	if err := VerifySignature(body, header, "app-secret"); err != nil {
		t.Fatalf("expected unaltered body to verify, got %v", err)
	}

	altered := append([]byte(nil), body...)
	altered[10] = 'X'

	var verr *domain.WebhookVerificationError
	if err := VerifySignature(altered, header, "app-secret"); !errors.As(err, &verr) {
		t.Fatalf("expected verification error for altered body, got %v", err)
	}
	if err := VerifySignature(body, header, "other-secret"); !errors.As(err, &verr) {
		t.Fatalf("expected verification error for wrong secret, got %v", err)
	}

	for _, bad := range []string{"", "sha1=abc", "sha256=zz", "sha256=abcd"} {
		if err := VerifySignature(body, bad, "app-secret"); !errors.As(err, &verr) {
			t.Errorf("expected %q to be rejected, got %v", bad, err)
		}
	}
}

func TestVerifier_PrefersAccountSecretAndRequiresOne(t *testing.T) {
	accountSecret := "account-secret"
	accounts := &fakeAccounts{accounts: map[string]*domain.Account{
		"page_1": {ID: 1, Platform: domain.PlatformFacebook, WebhookSecret: &accountSecret},
	}}
	body := []byte(facebookBatch)
	ctx := context.Background()

	v := NewVerifier(accounts, map[domain.Platform]PlatformSecrets{
		domain.PlatformFacebook: {AppSecret: "app-secret"},
	}, true)

	if err := v.VerifyPayload(ctx, domain.PlatformFacebook, body, Sign(accountSecret, body)); err != nil {
		t.Fatalf("expected account secret to verify, got %v", err)
	}
	if err := v.VerifyPayload(ctx, domain.PlatformFacebook, body, Sign("app-secret", body)); err == nil {
		t.Fatalf("expected app secret to be superseded by account secret")
	}

	noSecret := NewVerifier(&fakeAccounts{}, map[domain.Platform]PlatformSecrets{}, true)
	var cfgErr *domain.AccountConfigurationError
	if err := noSecret.VerifyPayload(ctx, domain.PlatformFacebook, body, Sign("x", body)); !errors.As(err, &cfgErr) {
		t.Fatalf("expected AccountConfigurationError without any secret, got %v", err)
	}

	disabled := NewVerifier(&fakeAccounts{}, nil, false)
	if err := disabled.VerifyPayload(ctx, domain.PlatformFacebook, body, ""); err != nil {
		t.Fatalf("expected disabled verification to pass, got %v", err)
	}
}

func TestVerifier_UsesPhoneSecretWhenNoEventParses(t *testing.T) {
	// Only a reaction, which the parser rejects.
	body := []byte(`{
	  "object": "whatsapp_business_account",
	  "entry": [{
	    "id": "waba_1",
	    "changes": [{
	      "field": "messages",
	      "value": {
	        "metadata": {"phone_number_id": "phone_1"},
	        "messages": [{"from": "905551112233", "id": "wamid.r1", "timestamp": "1700000000", "type": "reaction"}]
	      }
	    }]
	  }]
	}`)

	envelope, err := ParseWhatsApp(body)
	if err != nil || len(envelope.Events) != 0 {
		t.Fatalf("expected no parsed events, got %+v %v", envelope, err)
	}
	if got := PeekRoutingID(domain.PlatformWhatsApp, body); got != "phone_1" {
		t.Fatalf("expected phone_1 from metadata, got %q", got)
	}

	accountSecret := "phone-secret"
	v := NewVerifier(&fakeAccounts{accounts: map[string]*domain.Account{
		"phone_1": {ID: 2, Platform: domain.PlatformWhatsApp, WebhookSecret: &accountSecret},
	}}, map[domain.Platform]PlatformSecrets{
		domain.PlatformWhatsApp: {AppSecret: "app-secret"},
	}, true)
	ctx := context.Background()

	if err := v.VerifyPayload(ctx, domain.PlatformWhatsApp, body, Sign(accountSecret, body)); err != nil {
		t.Fatalf("expected phone number secret to verify, got %v", err)
	}
	if err := v.VerifyPayload(ctx, domain.PlatformWhatsApp, body, Sign("app-secret", body)); err == nil {
		t.Fatalf("expected app secret to be superseded by phone number secret")
	}

	// The business account id in entry.id never routes.
	if got := PeekRoutingID(domain.PlatformWhatsApp, []byte(`{"object":"whatsapp_business_account","entry":[{"id":"waba_1"}]}`)); got != "" {
		t.Fatalf("expected no routing id without metadata, got %q", got)
	}
}

func TestVerifier_SubscriptionHandshake(t *testing.T) {
	v := NewVerifier(&fakeAccounts{tokens: map[string]bool{"account-token": true}},
		map[domain.Platform]PlatformSecrets{domain.PlatformWhatsApp: {VerifyToken: "global-token"}}, true)
	ctx := context.Background()

	for _, token := range []string{"global-token", "account-token"} {
		got, err := v.VerifySubscription(ctx, domain.PlatformWhatsApp, "subscribe", token, "challenge-42")
		if err != nil || got != "challenge-42" {
			t.Fatalf("token %q: expected challenge echo, got %q, %v", token, got, err)
		}
	}

	var verr *domain.WebhookVerificationError
	if got, err := v.VerifySubscription(ctx, domain.PlatformWhatsApp, "subscribe", "wrong", "challenge-42"); !errors.As(err, &verr) || got != "" {
		t.Fatalf("expected rejection without echo, got %q, %v", got, err)
	}
	if _, err := v.VerifySubscription(ctx, domain.PlatformWhatsApp, "unsubscribe", "global-token", "c"); !errors.As(err, &verr) {
		t.Fatalf("expected rejection for wrong mode, got %v", err)
	}
}

func TestParseFacebook_SplitsBatchAndIsolatesFailures(t *testing.T) {
	envelope, err := ParseFacebook([]byte(facebookBatch))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if envelope.EventType != "page" {
		t.Errorf("expected event type page, got %q", envelope.EventType)
	}
	if len(envelope.Events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(envelope.Events))
	}
	if len(envelope.Failures) != 1 || !errors.Is(envelope.Failures[0], domain.ErrUnsupportedEvent) {
		t.Fatalf("expected one unsupported postback failure, got %v", envelope.Failures)
	}

	msg := envelope.Events[0]
	if msg.Kind != domain.InboundMessage || msg.CustomerID != "fb_123" || msg.RoutingID != "page_1" || msg.PlatformMessageID != "m_1" {
		t.Errorf("unexpected message event %+v", msg)
	}

	echo := envelope.Events[1]
	if echo.Kind != domain.InboundEcho || echo.CustomerID != "fb_123" {
		t.Errorf("expected echo addressed to fb_123, got %+v", echo)
	}

	delivery := envelope.Events[2]
	if delivery.Kind != domain.InboundDelivery || len(delivery.ReceiptMessageIDs) != 1 || delivery.ReceiptMessageIDs[0] != "m_2" {
		t.Errorf("unexpected delivery event %+v", delivery)
	}

	read := envelope.Events[3]
	if read.Kind != domain.InboundRead || read.Watermark.UnixMilli() != 1700000002500 {
		t.Errorf("unexpected read event %+v", read)
	}

	image := envelope.Events[4]
	if image.Type != domain.MessageTypeImage || len(image.Attachments) != 1 || image.Attachments[0].URL != "https://cdn/img.png" {
		t.Errorf("unexpected image event %+v", image)
	}

	if got := PeekRoutingID(domain.PlatformFacebook, []byte(facebookBatch)); got != "page_1" {
		t.Errorf("expected routing id page_1, got %q", got)
	}
}

func TestParseWhatsApp_MessagesContactsAndStatuses(t *testing.T) {
	raw := `{
	  "object": "whatsapp_business_account",
	  "entry": [{
	    "id": "waba_1",
	    "changes": [{
	      "field": "messages",
	      "value": {
	        "messaging_product": "whatsapp",
	        "metadata": {"display_phone_number": "+90 555", "phone_number_id": "phone_1"},
	        "contacts": [{"wa_id": "905551112233", "profile": {"name": "Ayse"}}],
	        "messages": [
	          {"from": "905551112233", "id": "wamid.in1", "timestamp": "1700000000", "type": "text", "text": {"body": "merhaba"}},
	          {"from": "905551112233", "id": "wamid.in2", "timestamp": "1700000001", "type": "document",
	           "document": {"id": "media_9", "mime_type": "application/pdf", "filename": "invoice.pdf"}},
	          {"from": "905551112233", "id": "wamid.in3", "timestamp": "1700000002", "type": "reaction"}
	        ],
	        "statuses": [
	          {"id": "wamid.out1", "status": "delivered", "timestamp": "1700000003", "recipient_id": "905551112233"},
	          {"id": "wamid.out2", "status": "failed", "timestamp": "1700000004", "recipient_id": "905551112233",
	           "errors": [{"code": 131026, "title": "Message undeliverable"}]}
	        ]
	      }
	    }]
	  }]
	}`

	envelope, err := ParseWhatsApp([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(envelope.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(envelope.Events))
	}
	if len(envelope.Failures) != 1 || !errors.Is(envelope.Failures[0], domain.ErrUnsupportedEvent) {
		t.Fatalf("expected reaction to fail alone, got %v", envelope.Failures)
	}

	text := envelope.Events[0]
	if text.RoutingID != "phone_1" || text.CustomerName != "Ayse" || text.Content != "merhaba" || text.CustomerPhone != "905551112233" {
		t.Errorf("unexpected text event %+v", text)
	}

	doc := envelope.Events[1]
	if doc.Type != domain.MessageTypeDocument || doc.Attachments[0].MediaID != "media_9" || doc.Attachments[0].FileName != "invoice.pdf" {
		t.Errorf("unexpected document event %+v", doc)
	}

	failed := envelope.Events[3]
	if failed.Kind != domain.InboundStatus || failed.ReceiptStatus != domain.StatusFailed || failed.ReceiptError == "" {
		t.Errorf("unexpected failed status %+v", failed)
	}
}

func TestParse_InvalidJSONFailsWholePayload(t *testing.T) {
	if _, err := Parse(domain.PlatformFacebook, []byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}

	envelope, err := Parse(domain.PlatformWhatsApp, []byte(`{"object":"instagram"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(envelope.Events) != 0 || len(envelope.Failures) != 1 {
		t.Fatalf("expected a single failure for foreign object, got %+v", envelope)
	}
}
