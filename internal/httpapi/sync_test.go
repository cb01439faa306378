package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erauner12/articlesync-api/internal/service/syncservice"
	"github.com/erauner12/articlesync-api/internal/store"
)

type syncResp struct {
	Changes      []map[string]any `json:"changes"`
	ServerTime   int64            `json:"serverTime"`
	HasMore      bool             `json:"hasMore"`
	TotalUpdates int64            `json:"totalUpdates"`
	Pushed       struct {
		Inserted int `json:"inserted"`
		Updated  int `json:"updated"`
		Healed   int `json:"healed"`
		Failed   int `json:"failed"`
	} `json:"pushed"`
	Errors     []syncservice.RecordError `json:"errors"`
	NextCursor string                    `json:"nextCursor"`
}

func TestSyncEndpoint_PushAndPull(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	body := map[string]any{
		"changes": []map[string]any{
			{"id": "a1", "content": "short", "revision": 100, "title": "Hello"},
			{"content": "orphan"},
		},
		"lastSync": 0,
		"limit":    50,
	}
	w := makeRequest(t, router, "POST", "/v1/sync/u1", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("Expected X-Correlation-ID response header")
	}

	var resp syncResp
	decodeBody(t, w, &resp)

	if resp.ServerTime != 1_700_000_000_000 {
		t.Errorf("Expected serverTime from clock, got %d", resp.ServerTime)
	}
	if resp.Pushed.Inserted != 1 || resp.Pushed.Failed != 1 {
		t.Errorf("Expected 1 inserted and 1 failed, got %+v", resp.Pushed)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 1 {
		t.Errorf("Expected error for change 1, got %+v", resp.Errors)
	}
	if len(resp.Changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(resp.Changes))
	}
	got := resp.Changes[0]
	if got["id"] != "a1" || got["content"] != "short" || got["revision"] != float64(100) || got["title"] != "Hello" {
		t.Errorf("Unexpected change: %v", got)
	}
	if resp.HasMore {
		t.Error("Expected hasMore=false")
	}
}

func TestSyncEndpoint_EmptyBody(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	req := httptest.NewRequest("POST", "/v1/sync/u1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for empty body, got %d: %s", w.Code, w.Body.String())
	}

	var resp syncResp
	decodeBody(t, w, &resp)
	if resp.Changes == nil || resp.Errors == nil {
		t.Errorf("Expected empty arrays rather than null, got %+v", resp)
	}
}

func TestSyncEndpoint_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "invalid json", body: "{nope", want: http.StatusBadRequest},
		{name: "wrong type", body: `{"changes": "x"}`, want: http.StatusBadRequest},
		{name: "negative lastSync", body: `{"lastSync": -1}`, want: http.StatusBadRequest},
		{name: "negative page", body: `{"page": -2}`, want: http.StatusBadRequest},
	}

	_, router := newTestServer(t, "", RateLimitInfo{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/sync/u1", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var errResp errorResponse
			decodeBody(t, w, &errResp)
			if errResp.CorrelationID == "" || errResp.Message == "" {
				t.Errorf("Expected message and correlation_id in error, got %+v", errResp)
			}
		})
	}
}

func TestSyncEndpoint_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, "", RateLimitInfo{})
	srv.MaxBodyBytes = 64
	router := srv.Routes()

	body := `{"changes":[{"id":"a1","content":"` + strings.Repeat("x", 200) + `"}]}`
	req := httptest.NewRequest("POST", "/v1/sync/u1", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSyncEndpoint_HealsTruncatedContent(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	w := makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{
		"changes": []map[string]any{{"id": "a1", "content": "short", "revision": 100}},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	long := strings.Repeat("L", 220)
	w = makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{
		"changes": []map[string]any{{"id": "a1", "content": long, "revision": 50}},
	}, nil)
	var resp syncResp
	decodeBody(t, w, &resp)
	if resp.Pushed.Healed != 1 {
		t.Fatalf("Expected 1 healed record, got %+v", resp.Pushed)
	}

	w = makeRequest(t, router, "GET", "/v1/articles/u1/a1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var article map[string]any
	decodeBody(t, w, &article)
	if article["content"] != long {
		t.Error("Expected healed content to be stored")
	}
	if article["revision"] != float64(1_700_000_000_000) {
		t.Errorf("Expected revision stamped with server time, got %v", article["revision"])
	}
}

func TestChangesEndpoint_Paging(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	changes := make([]map[string]any, 0, 120)
	for i := 1; i <= 120; i++ {
		changes = append(changes, map[string]any{"id": fmt.Sprintf("a%03d", i), "revision": i})
	}
	w := makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{"changes": changes, "limit": 1}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = makeRequest(t, router, "GET", "/v1/sync/u1/changes?lastSync=0&limit=10000", nil, nil)
	var page0 syncResp
	decodeBody(t, w, &page0)
	if len(page0.Changes) != 50 || !page0.HasMore || page0.NextCursor == "" {
		t.Fatalf("Expected capped first page with cursor, got %d changes hasMore=%v cursor=%q",
			len(page0.Changes), page0.HasMore, page0.NextCursor)
	}

	w = makeRequest(t, router, "GET", "/v1/sync/u1/changes?cursor="+page0.NextCursor, nil, nil)
	var page1 syncResp
	decodeBody(t, w, &page1)
	if len(page1.Changes) != 50 || page1.Changes[0]["revision"] != float64(51) {
		t.Fatalf("Expected second page starting at 51, got %d changes", len(page1.Changes))
	}

	w = makeRequest(t, router, "GET", "/v1/sync/u1/changes?page=2", nil, nil)
	var page2 syncResp
	decodeBody(t, w, &page2)
	if len(page2.Changes) != 20 || page2.HasMore || page2.NextCursor != "" {
		t.Fatalf("Expected final page of 20, got %d hasMore=%v", len(page2.Changes), page2.HasMore)
	}
}

func TestChangesEndpoint_CursorOnlyPaging(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	changes := make([]map[string]any, 0, 60)
	for i := 1; i <= 60; i++ {
		changes = append(changes, map[string]any{"id": fmt.Sprintf("a%02d", i), "revision": i})
	}
	w := makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{"changes": changes, "limit": 10}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var first syncResp
	decodeBody(t, w, &first)
	if len(first.Changes) != 10 || first.NextCursor == "" {
		t.Fatalf("Expected first page of 10 with cursor, got %d cursor=%q", len(first.Changes), first.NextCursor)
	}

	// Follow nextCursor with no limit; the page size comes from the cursor
	seen := map[string]bool{}
	for _, c := range first.Changes {
		seen[c["id"].(string)] = true
	}
	next := first.NextCursor
	want := float64(11)
	for next != "" {
		w = makeRequest(t, router, "GET", "/v1/sync/u1/changes?cursor="+next, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var page syncResp
		decodeBody(t, w, &page)
		if len(page.Changes) == 0 || page.Changes[0]["revision"] != want {
			t.Fatalf("Expected page starting at revision %v, got %v", want, page.Changes)
		}
		for _, c := range page.Changes {
			seen[c["id"].(string)] = true
		}
		want += float64(len(page.Changes))
		next = page.NextCursor
	}

	if len(seen) != 60 {
		t.Errorf("Expected all 60 records via nextCursor, got %d", len(seen))
	}
}

func TestSyncEndpoint_NegativeLimitKeepsPush(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	body := map[string]any{
		"changes": []map[string]any{{"id": "a1", "content": "kept", "revision": 5}},
		"limit":   -5,
	}
	w := makeRequest(t, router, "POST", "/v1/sync/u1", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp syncResp
	decodeBody(t, w, &resp)
	if resp.Pushed.Inserted != 1 || len(resp.Changes) != 1 {
		t.Errorf("Expected push applied and a page of 1, got %+v with %d changes", resp.Pushed, len(resp.Changes))
	}

	w = makeRequest(t, router, "GET", "/v1/articles/u1/a1", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected stored article, got %d", w.Code)
	}
}

func TestChangesEndpoint_BadParams(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	for _, q := range []string{"lastSync=yesterday", "page=two", "cursor=%21%21", "lastSync=-5"} {
		t.Run(q, func(t *testing.T) {
			w := makeRequest(t, router, "GET", "/v1/sync/u1/changes?"+q, nil, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 for %s, got %d", q, w.Code)
			}
		})
	}
}

func TestArticleEndpoints(t *testing.T) {
	_, router := newTestServer(t, "", RateLimitInfo{})

	changes := []map[string]any{{"id": "full", "content": strings.Repeat("f", 250), "revision": 1}}
	for i := 0; i < 3; i++ {
		changes = append(changes, map[string]any{"id": fmt.Sprintf("t%d", i), "content": "tiny", "revision": 10 + i})
	}
	makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{"changes": changes}, nil)

	w := makeRequest(t, router, "GET", "/v1/articles/u1/missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing article, got %d", w.Code)
	}

	w = makeRequest(t, router, "GET", "/v1/articles/u1/stats", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stats syncservice.Stats
	decodeBody(t, w, &stats)
	if stats.Total != 4 || len(stats.Truncated) != 3 || stats.Threshold != 200 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Truncated[0].ID != "t0" || stats.Truncated[0].Length != 4 {
		t.Errorf("Unexpected first truncated entry: %+v", stats.Truncated[0])
	}
}

func TestSharedSecret(t *testing.T) {
	_, router := newTestServer(t, "s3cret", RateLimitInfo{})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong", headers: map[string]string{"X-Sync-Token": "nope"}, want: http.StatusUnauthorized},
		{name: "header", headers: map[string]string{"X-Sync-Token": "s3cret"}, want: http.StatusOK},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
		{name: "basic is not bearer", headers: map[string]string{"Authorization": "Basic s3cret"}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{}, tt.headers)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	// Discovery stays open
	w := makeRequest(t, router, "GET", "/v1/sync/info", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected info to be unauthenticated, got %d", w.Code)
	}
	var info ServerInfo
	decodeBody(t, w, &info)
	if !info.AuthRequired || info.MaxLimit != 50 || info.HealThreshold != 200 || info.Backend != "memory" {
		t.Errorf("Unexpected info: %+v", info)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, router := newTestServer(t, "s3cret", RateLimitInfo{})

	w := makeRequest(t, router, "GET", "/healthz", nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Expected ok health check, got %d %q", w.Code, w.Body.String())
	}

	makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{}, map[string]string{"X-Sync-Token": "s3cret"})

	w = makeRequest(t, router, "GET", "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "articlesync_sync_requests_total") {
		t.Error("Expected sync request counter in metrics output")
	}
}

// downStore fails every call like a lost connection
type downStore struct {
	store.Store
}

func (downStore) QueryChanged(_ context.Context, namespace string, _ int64, _, _ int) ([]store.Record, error) {
	return nil, &store.OpError{Op: "query_changed", Namespace: namespace, Err: errors.New("connection reset")}
}

func TestSyncEndpoint_StoreUnavailable(t *testing.T) {
	svc := syncservice.NewService(downStore{Store: store.NewMemoryStore()}, syncservice.Options{})
	router := (&Server{Svc: svc}).Routes()

	w := makeRequest(t, router, "POST", "/v1/sync/u1", map[string]any{}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInfoEndpoint(t *testing.T) {
	_, router := newTestServer(t, "s3cret", RateLimitInfo{RequestsPerSecond: 5, Burst: 10})

	// Capability discovery needs no token
	w := makeRequest(t, router, "GET", "/v1/sync/info", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var info ServerInfo
	decodeBody(t, w, &info)
	if info.APIVersion != "2.0" || info.Backend != "memory" {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.MaxLimit != syncservice.DefaultMaxPage || info.HealThreshold != 200 {
		t.Errorf("Expected 50/200 limits, got %d/%d", info.MaxLimit, info.HealThreshold)
	}
	if !info.AuthRequired {
		t.Error("Expected authRequired with a configured secret")
	}
	if info.RateLimit == nil || info.RateLimit.Burst != 10 {
		t.Errorf("Expected rate limit policy, got %+v", info.RateLimit)
	}
}
