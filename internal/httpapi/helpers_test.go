package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erauner12/articlesync-api/internal/service/syncservice"
	"github.com/erauner12/articlesync-api/internal/store"
)

// newTestServer builds a router over an in-memory store with a fixed clock
func newTestServer(t *testing.T, secret string, rl RateLimitInfo) (*Server, http.Handler) {
	t.Helper()

	svc := syncservice.NewService(store.NewMemoryStore(), syncservice.Options{
		Clock: func() int64 { return 1_700_000_000_000 },
	})
	srv := &Server{
		Svc:             svc,
		SharedSecret:    secret,
		RateLimitConfig: rl,
	}
	router := srv.Routes()
	t.Cleanup(srv.Close)
	return srv, router
}

// makeRequest sends body as JSON with optional headers and records the response
func makeRequest(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

// decodeBody decodes a JSON response body into v
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v (body: %s)", err, w.Body.String())
	}
}
