package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(method, target, nil), rec), rec
}

func TestPaginated_TotalPages(t *testing.T) {
	cases := []struct {
		total    int64
		pageSize int
		want     int
	}{
		{0, 20, 0},
		{20, 20, 1},
		{45, 20, 3},
		{101, 100, 2},
	}

	for _, tc := range cases {
		c, rec := newContext(http.MethodGet, "/api/v1/accounts/1/conversations")
		if err := Paginated(c, []int{}, 1, tc.pageSize, tc.total); err != nil {
			t.Fatalf("Paginated returned error: %v", err)
		}

		var body PaginatedResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if !body.Success || body.TotalCount != tc.total || body.PageSize != tc.pageSize {
			t.Errorf("unexpected body %+v", body)
		}
		if body.TotalPages != tc.want {
			t.Errorf("total=%d pageSize=%d: expected %d pages, got %d", tc.total, tc.pageSize, tc.want, body.TotalPages)
		}
	}
}

func TestBadGatewayWithData_KeepsPayload(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/conversations/1/messages")

	failed := map[string]any{"id": 7, "status": "FAILED"}
	if err := BadGatewayWithData(c, errors.New("platform rejected message"), failed); err != nil {
		t.Fatalf("BadGatewayWithData returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}

	var body struct {
		Success bool           `json:"success"`
		Error   string         `json:"error"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Success || body.Error != "platform rejected message" || body.Data["status"] != "FAILED" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestServiceUnavailable_SetsRetryAfter(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/webhooks/facebook")

	if err := ServiceUnavailable(c, errors.New("ingestion queue full"), 1500*time.Millisecond); err != nil {
		t.Fatalf("ServiceUnavailable returned error: %v", err)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After=2, got %q", got)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Success || body.Error != "ingestion queue full" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestTooManyRequests_MinimumRetryAfterIsOneSecond(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/conversations/1/messages")

	if err := TooManyRequests(c, errors.New("rate limit exhausted"), 0); err != nil {
		t.Fatalf("TooManyRequests returned error: %v", err)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
}
