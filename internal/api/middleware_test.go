package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func internalEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Fatal("expected actor in context")
		}
		w.Write([]byte(actor))
	})
}

func TestInternalAuthMiddleware(t *testing.T) {
	handler := InternalAuthMiddleware("secret-key")(internalEcho(t))

	testCases := []struct {
		name       string
		key        string
		actor      string
		wantStatus int
	}{
		{name: "valid key and actor", key: "secret-key", actor: "ops-bot", wantStatus: http.StatusOK},
		{name: "wrong key", key: "wrong", actor: "ops-bot", wantStatus: http.StatusUnauthorized},
		{name: "missing key", key: "", actor: "ops-bot", wantStatus: http.StatusUnauthorized},
		{name: "missing actor", key: "secret-key", actor: "", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/admin/pause", nil)
			if tc.key != "" {
				req.Header.Set("X-Internal-API-Key", tc.key)
			}
			if tc.actor != "" {
				req.Header.Set("X-Actor-Id", tc.actor)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantStatus == http.StatusOK && rec.Body.String() != tc.actor {
				t.Fatalf("expected actor %q echoed, got %q", tc.actor, rec.Body.String())
			}
		})
	}
}

func TestInternalAuthMiddlewareUnconfiguredKey(t *testing.T) {
	handler := InternalAuthMiddleware("")(internalEcho(t))

	req := httptest.NewRequest(http.MethodPost, "/internal/admin/pause", nil)
	req.Header.Set("X-Internal-API-Key", "anything")
	req.Header.Set("X-Actor-Id", "ops-bot")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no key is configured, got %d", rec.Code)
	}
}
