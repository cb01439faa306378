package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/erauner12/articlesync-api/internal/metrics"
	"github.com/erauner12/articlesync-api/internal/service/syncservice"
	"github.com/erauner12/articlesync-api/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Sync handles POST /v1/sync/{namespace}
// Applies the pushed changes, then returns one page of changes since lastSync
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { metrics.RecordSync("sync", strconv.Itoa(status), start) }()

	namespace := chi.URLParam(r, "namespace")
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	var req syncservice.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			writeError(w, r, status, "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		log.Ctx(ctx).Warn().Err(err).Str("namespace", namespace).Msg("invalid sync request body")
		status = http.StatusBadRequest
		writeError(w, r, status, "invalid json")
		return
	}

	resp, err := s.Svc.Sync(ctx, namespace, req)
	if err != nil {
		status = writeServiceError(w, r, err)
		return
	}

	writeJSON(w, status, resp)
}

// Changes handles GET /v1/sync/{namespace}/changes
// Pull-only: lastSync, limit and page as query params, or an opaque cursor
func (s *Server) Changes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { metrics.RecordSync("changes", strconv.Itoa(status), start) }()

	namespace := chi.URLParam(r, "namespace")
	q := r.URL.Query()

	req := syncservice.PullRequest{
		Limit:  parseLimit(q.Get("limit"), s.Svc.MaxPage(), s.Svc.MaxPage()),
		Cursor: q.Get("cursor"),
	}

	// lastSync accepts epoch ms or RFC3339
	if v := q.Get("lastSync"); v != "" {
		ms, ok := syncx.ParseTimeToMs(v)
		if !ok {
			status = http.StatusBadRequest
			writeError(w, r, status, "invalid lastSync: expected milliseconds or RFC3339")
			return
		}
		req.LastSync = ms
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			status = http.StatusBadRequest
			writeError(w, r, status, "invalid page: expected an integer")
			return
		}
		req.Page = page
	}

	resp, err := s.Svc.Pull(r.Context(), namespace, req)
	if err != nil {
		status = writeServiceError(w, r, err)
		return
	}

	writeJSON(w, status, resp)
}

// GetArticle handles GET /v1/articles/{namespace}/{id}
func (s *Server) GetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.Svc.GetArticle(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

// Stats handles GET /v1/articles/{namespace}/stats
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Svc.Stats(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
