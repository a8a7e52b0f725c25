package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/pkg/response"
)

func newEchoContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAPIKeyAuth(t *testing.T) {
	cases := []struct {
		name       string
		serverKey  string
		clientKey  string
		wantStatus int
		wantNext   bool
	}{
		{"server key not configured", "", "anything", http.StatusInternalServerError, false},
		{"missing client key", "admin-secret", "", http.StatusUnauthorized, false},
		{"wrong client key", "admin-secret", "admin-secreT", http.StatusUnauthorized, false},
		{"matching key", "admin-secret", "admin-secret", http.StatusOK, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newEchoContext(http.MethodPost, "/api/v1/webhook-events/replay")
			if tc.clientKey != "" {
				c.Request().Header.Set(APIKeyHeader, tc.clientKey)
			}

			called := false
			handler := APIKeyAuth(tc.serverKey)(func(c echo.Context) error {
				called = true
				return c.NoContent(http.StatusOK)
			})

			if err := handler(c); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if called != tc.wantNext {
				t.Fatalf("expected next called=%v, got %v", tc.wantNext, called)
			}
			if tc.wantNext {
				return
			}

			var body response.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if body.Success || body.Error == "" {
				t.Errorf("expected a failure body, got %+v", body)
			}
		})
	}
}
