package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/middlewares"
	"github.com/onurcolak/messaging-bridge/internal/service"
	"github.com/onurcolak/messaging-bridge/pkg/response"
	validatorpkg "github.com/onurcolak/messaging-bridge/pkg/validator"
)

//
// Test fakes – only for this file.
//

type fakeVerifier struct {
	challengeErr error
	payloadErr   error
}

func (f *fakeVerifier) VerifySubscription(_ context.Context, _ domain.Platform, _, _, challenge string) (string, error) {
	if f.challengeErr != nil {
		return "", f.challengeErr
	}
	return challenge, nil
}

func (f *fakeVerifier) VerifyPayload(context.Context, domain.Platform, []byte, string) error {
	return f.payloadErr
}

type fakeIngestor struct {
	err      error
	received []string
}

func (f *fakeIngestor) Ingest(_ context.Context, platform domain.Platform, raw []byte) (*domain.WebhookEvent, error) {
	f.received = append(f.received, string(platform)+":"+string(raw))
	if f.err != nil {
		return &domain.WebhookEvent{ID: 1}, f.err
	}
	return &domain.WebhookEvent{ID: 1, Platform: platform}, nil
}

type fakeConversationService struct {
	sendMsg *domain.Message
	sendErr error
	sent    []service.SendMessageInput
}

func (f *fakeConversationService) ListConversations(context.Context, string, int64, int, int) ([]domain.ConversationSummary, int64, error) {
	return nil, 0, nil
}

func (f *fakeConversationService) ListMessages(context.Context, string, int64, int, int) ([]domain.Message, int64, error) {
	return nil, 0, domain.ErrNotFound
}

func (f *fakeConversationService) RecentMessages(context.Context, string, int64, int) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeConversationService) SendMessage(_ context.Context, _ string, _ int64, in service.SendMessageInput) (*domain.Message, error) {
	f.sent = append(f.sent, in)
	return f.sendMsg, f.sendErr
}

func (f *fakeConversationService) ResendMessage(context.Context, string, int64) (*domain.Message, error) {
	return nil, domain.ErrInvalidTransition
}

func newContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	middlewares.WithUserID(c, "owner-1")
	return c, rec
}

func TestWebhookHandshake(t *testing.T) {
	e := echo.New()

	handler := NewWebhookHandler(&fakeVerifier{}, &fakeIngestor{})
	c, rec := newContext(e, http.MethodGet, "/webhooks/facebook?hub.mode=subscribe&hub.verify_token=t&hub.challenge=12345", "")
	if err := handler.VerifyFacebook(c); err != nil {
		t.Fatalf("VerifyFacebook returned error: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Fatalf("expected challenge echo, got %d %q", rec.Code, rec.Body.String())
	}

	handler = NewWebhookHandler(&fakeVerifier{challengeErr: &domain.WebhookVerificationError{Reason: "verify token mismatch"}}, &fakeIngestor{})
	c, rec = newContext(e, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=12345", "")
	if err := handler.VerifyWhatsApp(c); err != nil {
		t.Fatalf("VerifyWhatsApp returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "12345") {
		t.Fatalf("challenge must not be echoed on failure")
	}
}

func TestWebhookReceive(t *testing.T) {
	const body = `{"object":"page","entry":[]}`

	cases := []struct {
		name        string
		verifier    *fakeVerifier
		ingestErr   error
		wantStatus  int
		wantIngest  int
		wantBody    string
		retryHeader bool
	}{
		{
			name:       "accepted",
			verifier:   &fakeVerifier{},
			wantStatus: http.StatusOK,
			wantIngest: 1,
			wantBody:   "EVENT_RECEIVED",
		},
		{
			name:       "bad signature",
			verifier:   &fakeVerifier{payloadErr: &domain.WebhookVerificationError{Reason: "signature mismatch"}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "no secret configured",
			verifier: &fakeVerifier{payloadErr: &domain.AccountConfigurationError{
				Platform: domain.PlatformFacebook, Reason: "no webhook secret configured",
			}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:        "queue full",
			verifier:    &fakeVerifier{},
			ingestErr:   domain.ErrQueueFull,
			wantStatus:  http.StatusServiceUnavailable,
			wantIngest:  1,
			retryHeader: true,
		},
		{
			name:       "store down",
			verifier:   &fakeVerifier{},
			ingestErr:  errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
			wantIngest: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ingestor := &fakeIngestor{err: tc.ingestErr}
			handler := NewWebhookHandler(tc.verifier, ingestor)

			c, rec := newContext(echo.New(), http.MethodPost, "/webhooks/facebook", body)
			c.Request().Header.Set(SignatureHeader, "sha256=00")

			if err := handler.ReceiveFacebook(c); err != nil {
				t.Fatalf("ReceiveFacebook returned error: %v", err)
			}

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if len(ingestor.received) != tc.wantIngest {
				t.Fatalf("expected %d ingests, got %d", tc.wantIngest, len(ingestor.received))
			}
			if tc.wantIngest > 0 && ingestor.received[0] != "FACEBOOK:"+body {
				t.Fatalf("expected raw body to be ingested untouched, got %q", ingestor.received[0])
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Fatalf("expected body %q, got %q", tc.wantBody, rec.Body.String())
			}
			if tc.retryHeader && rec.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}

func TestSendMessage_BadJSON(t *testing.T) {
	e := echo.New()
	// Validator is not needed here because Bind will fail before Validate is called.
	svc := &fakeConversationService{}
	handler := NewConversationHandler(svc, nil)

	c, rec := newContext(e, http.MethodPost, "/api/v1/conversations/10/messages", `{"content": "Hello",`)
	c.SetParamNames("id")
	c.SetParamValues("10")

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	var resp response.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("expected an error response, got %+v", resp)
	}
	if len(svc.sent) != 0 {
		t.Fatalf("service must not be called for malformed input")
	}
}

func TestSendMessage_ValidationFailure(t *testing.T) {
	e := echo.New()
	e.Validator = validatorpkg.New()
	handler := NewConversationHandler(&fakeConversationService{}, nil)

	reqBody := `{"type": "POSTCARD", "content": "` + strings.Repeat("a", 4097) + `"}`
	c, rec := newContext(e, http.MethodPost, "/api/v1/conversations/10/messages", reqBody)
	c.SetParamNames("id")
	c.SetParamValues("10")

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}

	var resp validatorpkg.ValidationErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if resp.Error != "Validation failed" {
		t.Fatalf("expected Error=%q, got %q", "Validation failed", resp.Error)
	}
	for _, field := range []string{"type", "content"} {
		if _, ok := resp.Details[field]; !ok {
			t.Fatalf("expected Details to contain %q, got %v", field, resp.Details)
		}
	}
}

func TestSendMessage_DeliveryFailureReturnsFailedMessage(t *testing.T) {
	e := echo.New()
	e.Validator = validatorpkg.New()
	svc := &fakeConversationService{
		sendMsg: &domain.Message{ID: 7, Status: domain.StatusFailed},
		sendErr: &domain.MessagingAPIError{StatusCode: http.StatusServiceUnavailable, Transient: true, Attempts: 4},
	}
	handler := NewConversationHandler(svc, nil)

	c, rec := newContext(e, http.MethodPost, "/api/v1/conversations/10/messages", `{"type":"image","mediaUrl":"https://cdn.example.com/a.png"}`)
	c.SetParamNames("id")
	c.SetParamValues("10")

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if len(svc.sent) != 1 || svc.sent[0].Type != domain.MessageTypeImage {
		t.Fatalf("expected lowercase type to be parsed, got %+v", svc.sent)
	}

	var resp struct {
		Success bool           `json:"success"`
		Error   string         `json:"error"`
		Data    domain.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if resp.Data.ID != 7 || resp.Data.Status != domain.StatusFailed {
		t.Fatalf("expected failed message in response, got %+v", resp.Data)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrDuplicate, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrInactiveAccount, http.StatusConflict},
		{domain.ErrInvalidMessage, http.StatusBadRequest},
		{domain.ErrThrottled, http.StatusTooManyRequests},
		{&domain.MessagingAPIError{StatusCode: http.StatusForbidden}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		c, rec := newContext(echo.New(), http.MethodGet, "/", "")
		if err := respondError(c, tc.err); err != nil {
			t.Fatalf("respondError returned error: %v", err)
		}
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestPaginationParams(t *testing.T) {
	c, _ := newContext(echo.New(), http.MethodGet, "/?page=2&pageSize=50", "")
	page, pageSize, err := parsePaginationParams(c)
	if err != nil || page != 2 || pageSize != 50 {
		t.Fatalf("unexpected page=%d pageSize=%d err=%v", page, pageSize, err)
	}

	for _, query := range []string{"/?page=0", "/?pageSize=101", "/?page=abc"} {
		c, _ := newContext(echo.New(), http.MethodGet, query, "")
		if _, _, err := parsePaginationParams(c); err == nil {
			t.Errorf("%s: expected error", query)
		}
	}
}

func TestListMessages_NotFound(t *testing.T) {
	handler := NewConversationHandler(&fakeConversationService{}, nil)
	c, rec := newContext(echo.New(), http.MethodGet, "/api/v1/conversations/10/messages", "")
	c.SetParamNames("id")
	c.SetParamValues("10")

	if err := handler.ListMessages(c); err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	c, rec = newContext(echo.New(), http.MethodGet, "/api/v1/conversations/abc/messages", "")
	c.SetParamNames("id")
	c.SetParamValues("abc")
	if err := handler.ListMessages(c); err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}
