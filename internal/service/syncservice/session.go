package syncservice

import (
	"context"
	"strings"

	"github.com/erauner12/articlesync-api/internal/store"
	"github.com/erauner12/articlesync-api/internal/syncx"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// statsTruncatedLimit caps the truncated list in namespace stats
const statsTruncatedLimit = 20

// SyncRequest is one push+pull round-trip
type SyncRequest struct {
	Changes  []map[string]any `json:"changes"`
	LastSync int64            `json:"lastSync"`
	Limit    int              `json:"limit"`
	Page     int              `json:"page"`
}

// PullRequest selects a page without pushing anything. A non-empty Cursor
// replaces LastSync and Page.
type PullRequest struct {
	LastSync int64
	Limit    int
	Page     int
	Cursor   string
}

// SyncResponse is returned for both round-trips and pull-only requests
type SyncResponse struct {
	Changes      []map[string]any `json:"changes"`
	ServerTime   int64            `json:"serverTime"`
	HasMore      bool             `json:"hasMore"`
	TotalUpdates int64            `json:"totalUpdates"`
	Pushed       PushResult       `json:"pushed"`
	Errors       []RecordError    `json:"errors"`
	NextCursor   string           `json:"nextCursor,omitempty"`
}

// TruncatedArticle is a stats entry for a record below the heal threshold
type TruncatedArticle struct {
	ID       string `json:"id"`
	Length   int    `json:"length"`
	Revision int64  `json:"revision"`
}

// Stats describes one namespace for diagnostics
type Stats struct {
	Total     int64              `json:"total"`
	Truncated []TruncatedArticle `json:"truncated"`
	Threshold int                `json:"threshold"`
}

// pullParams is validated before any store access. The page bound keeps
// page*limit far from overflow. Limit is not validated: the Pager clamps it.
type pullParams struct {
	Namespace string `json:"namespace" validate:"required,max=256,excludesall=/"`
	LastSync  int64  `json:"lastSync" validate:"gte=0"`
	Limit     int    `json:"limit"`
	Page      int    `json:"page" validate:"gte=0,lte=1000000"`
}

// Options configures a Service. Zero values select the defaults.
type Options struct {
	MaxPage           int
	HealThreshold     int
	LookupConcurrency int
	Clock             func() int64
}

// Service runs sync sessions: push through the Reconciler, then pull one
// page through the Pager. It keeps no state between requests.
type Service struct {
	Store      store.Store
	Reconciler *Reconciler
	Pager      *Pager
	Clock      func() int64

	validate *validator.Validate
}

// NewService creates a Service over s
func NewService(s store.Store, opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = syncx.NowMs
	}
	return &Service{
		Store: s,
		Reconciler: &Reconciler{
			Store:             s,
			HealThreshold:     opts.HealThreshold,
			LookupConcurrency: opts.LookupConcurrency,
		},
		Pager:    &Pager{Store: s, MaxPage: opts.MaxPage},
		Clock:    clock,
		validate: newValidator(),
	}
}

// MaxPage is the effective page size cap
func (s *Service) MaxPage() int { return s.Pager.maxPage() }

// HealThreshold is the effective healing threshold in code points
func (s *Service) HealThreshold() int { return s.Reconciler.threshold() }

// Sync applies req.Changes then returns the requested page of changes.
// serverTime is read once, before the push, so records stamped during this
// request are returned again on the next sync rather than skipped.
func (s *Service) Sync(ctx context.Context, namespace string, req SyncRequest) (*SyncResponse, error) {
	params := pullParams{
		Namespace: strings.TrimSpace(namespace),
		LastSync:  req.LastSync,
		Limit:     req.Limit,
		Page:      req.Page,
	}
	if err := s.check(params); err != nil {
		return nil, err
	}

	now := s.Clock()

	pushed, err := s.Reconciler.Apply(ctx, params.Namespace, now, req.Changes)
	if err != nil {
		return nil, err
	}

	resp, err := s.pull(ctx, params, now)
	if err != nil {
		return nil, err
	}
	resp.Pushed = pushed
	if len(pushed.Errors) > 0 {
		resp.Errors = pushed.Errors
	}

	log.Ctx(ctx).Info().
		Str("namespace", params.Namespace).
		Int("pushed", len(req.Changes)).
		Int("pulled", len(resp.Changes)).
		Bool("has_more", resp.HasMore).
		Msg("sync completed")

	return resp, nil
}

// Pull returns one page of changes without pushing.
// A cursor replaces lastSync, page and limit: its page index is only valid
// for the page size it was issued with.
func (s *Service) Pull(ctx context.Context, namespace string, req PullRequest) (*SyncResponse, error) {
	params := pullParams{
		Namespace: strings.TrimSpace(namespace),
		LastSync:  req.LastSync,
		Limit:     req.Limit,
		Page:      req.Page,
	}
	if req.Cursor != "" {
		c, ok := syncx.DecodeCursor(req.Cursor)
		if !ok {
			return nil, &ValidationError{Field: "cursor", Reason: "is not a valid cursor"}
		}
		params.LastSync, params.Page, params.Limit = c.Revision, c.Page, c.Limit
	}
	if err := s.check(params); err != nil {
		return nil, err
	}

	return s.pull(ctx, params, s.Clock())
}

func (s *Service) pull(ctx context.Context, params pullParams, now int64) (*SyncResponse, error) {
	page, err := s.Pager.Fetch(ctx, params.Namespace, params.LastSync, params.Limit, params.Page)
	if err != nil {
		return nil, err
	}
	return &SyncResponse{
		Changes:      page.Changes,
		ServerTime:   now,
		HasMore:      page.HasMore,
		TotalUpdates: page.TotalUpdates,
		Errors:       []RecordError{},
		NextCursor:   page.NextCursor,
	}, nil
}

// GetArticle returns the stored record in client wire shape.
// Returns store.ErrNotFound when absent.
func (s *Service) GetArticle(ctx context.Context, namespace, id string) (map[string]any, error) {
	namespace, id = strings.TrimSpace(namespace), strings.TrimSpace(id)
	if err := s.check(pullParams{Namespace: namespace}); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "is required"}
	}

	rec, err := s.Store.Get(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	return rec.Payload(), nil
}

// Stats reports the record count and the first truncated records of a namespace
func (s *Service) Stats(ctx context.Context, namespace string) (*Stats, error) {
	namespace = strings.TrimSpace(namespace)
	if err := s.check(pullParams{Namespace: namespace}); err != nil {
		return nil, err
	}

	total, err := s.Store.Count(ctx, namespace)
	if err != nil {
		return nil, err
	}

	threshold := s.HealThreshold()
	records, err := s.Store.ListTruncated(ctx, namespace, threshold, statsTruncatedLimit)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		Total:     total,
		Truncated: make([]TruncatedArticle, 0, len(records)),
		Threshold: threshold,
	}
	for _, r := range records {
		out.Truncated = append(out.Truncated, TruncatedArticle{
			ID:       r.ID,
			Length:   r.ContentLength(),
			Revision: r.Revision,
		})
	}
	return out, nil
}

func (s *Service) check(p pullParams) error {
	if err := s.validate.Struct(p); err != nil {
		return toValidationError(err)
	}
	return nil
}
