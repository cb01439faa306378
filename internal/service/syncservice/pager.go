package syncservice

import (
	"context"

	"github.com/erauner12/articlesync-api/internal/metrics"
	"github.com/erauner12/articlesync-api/internal/store"
	"github.com/erauner12/articlesync-api/internal/syncx"
	"github.com/rs/zerolog/log"
)

// DefaultMaxPage is the hard cap on records returned per pull
const DefaultMaxPage = 50

// Page is one window of changed records
type Page struct {
	Changes []map[string]any
	HasMore bool
	// TotalUpdates estimates the number of changed records at or after
	// minRevision: everything skipped, everything returned, plus one when
	// more exist. An empty page reports zero. Progress hints only.
	TotalUpdates int64
	NextCursor   string
}

// Pager pages through records changed since a checkpoint
type Pager struct {
	Store   store.Store
	MaxPage int
}

// Clamp bounds a requested page size to [1, MaxPage]. Zero means "no
// preference" and selects MaxPage; negative sizes clamp up to 1.
func (p *Pager) Clamp(limit int) int {
	limitMax := p.maxPage()
	switch {
	case limit == 0, limit > limitMax:
		return limitMax
	case limit < 1:
		return 1
	}
	return limit
}

// Fetch returns page pageIndex of the records with revision >= minRevision.
// One extra record is requested to detect whether another page follows.
func (p *Pager) Fetch(ctx context.Context, namespace string, minRevision int64, limit, pageIndex int) (Page, error) {
	pageSize := p.Clamp(limit)
	skip := pageIndex * pageSize

	records, err := p.Store.QueryChanged(ctx, namespace, minRevision, skip, pageSize+1)
	if err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Str("namespace", namespace).
			Str("op", "query_changed").
			Msg("failed to query changes")
		return Page{}, err
	}

	var page Page
	if len(records) > pageSize {
		records = records[:pageSize]
		page.HasMore = true
	}

	page.Changes = make([]map[string]any, 0, len(records))
	for _, r := range records {
		page.Changes = append(page.Changes, r.Payload())
	}

	if len(records) > 0 {
		page.TotalUpdates = int64(skip + len(records))
	}
	if page.HasMore {
		page.TotalUpdates++
		page.NextCursor = syncx.EncodeCursor(syncx.Cursor{
			Revision: minRevision,
			Page:     pageIndex + 1,
			Limit:    pageSize,
		})
	}

	metrics.RecordPull(len(records))
	return page, nil
}

func (p *Pager) maxPage() int {
	if p.MaxPage > 0 {
		return p.MaxPage
	}
	return DefaultMaxPage
}
