package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"possale/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"x","role":"admin"}`))
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", testAdminPassword)
	admin.csrf = ""

	res := admin.do(http.MethodPost, "/api/v1/categories", domain.CategoryCreateRequest{Name: "Toys"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	admin.csrf = "deadbeef"
	res = admin.do(http.MethodPost, "/api/v1/categories", domain.CategoryCreateRequest{Name: "Toys"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged csrf token, got %d", res.Code)
	}

	admin.csrf = fetchCSRFToken(t, admin.handler)
	res = admin.do(http.MethodPost, "/api/v1/categories", domain.CategoryCreateRequest{Name: "Toys"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 with csrf token, got %d", res.Code)
	}
}

func TestCSRFTokenSurvivesOneHourBoundary(t *testing.T) {
	signer := newCSRFSigner([]byte("0123456789abcdef0123456789abcdef"))
	issued := time.Date(2024, time.May, 1, 10, 59, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }
	token := signer.Issue()

	signer.now = func() time.Time { return issued.Add(30 * time.Minute) }
	if !signer.Valid(token) {
		t.Fatalf("expected token from previous hour to stay valid")
	}
	signer.now = func() time.Time { return issued.Add(90 * time.Minute) }
	if signer.Valid(token) {
		t.Fatalf("expected token two buckets old to be rejected")
	}
}

func TestCancelCredentialRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", testAdminPassword)

	for i := 0; i < 9; i++ {
		res := admin.do(http.MethodPost, "/api/v1/sales/404/cancel", map[string]string{
			"reason":     "test cancellation",
			"credential": "000000",
		})
		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	res := httptest.NewRecorder()
	writeDomainError(res, fmt.Errorf("pq: relation \"sales\" does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("internal detail leaked: %s", res.Body.String())
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := map[error]int{
		domain.NewValidation("x", "bad"):                  http.StatusBadRequest,
		&domain.AuthError{Reason: "no"}:                   http.StatusForbidden,
		domain.NewNotFound("sale", 1):                     http.StatusNotFound,
		&domain.StockError{Name: "Tea"}:                   http.StatusConflict,
		&domain.StateError{Reason: "already cancelled"}:   http.StatusConflict,
		fmt.Errorf("dup: %w", domain.ErrConflict):         http.StatusConflict,
		&domain.TransactionError{Op: "commit", Err: nil}: http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
