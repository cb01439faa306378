package store

import (
	"context"
	"errors"
	"time"

	"github.com/erauner12/articlesync-api/internal/metrics"
)

// Instrumented decorates a Store with latency and error metrics.
type Instrumented struct {
	Store
}

// Instrument wraps s so every call is timed under its backend label
func Instrument(s Store) *Instrumented {
	return &Instrumented{Store: s}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	metrics.RecordStoreOp(s.Backend(), op, start, err)
}

func (s *Instrumented) Get(ctx context.Context, namespace, id string) (r Record, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.Store.Get(ctx, namespace, id)
}

func (s *Instrumented) BulkUpsert(ctx context.Context, namespace string, records []Record) (out []Outcome, err error) {
	defer func(start time.Time) { s.observe("bulk_upsert", start, err) }(time.Now())
	return s.Store.BulkUpsert(ctx, namespace, records)
}

func (s *Instrumented) QueryChanged(ctx context.Context, namespace string, minRevision int64, skip, limit int) (out []Record, err error) {
	defer func(start time.Time) { s.observe("query_changed", start, err) }(time.Now())
	return s.Store.QueryChanged(ctx, namespace, minRevision, skip, limit)
}

func (s *Instrumented) Count(ctx context.Context, namespace string) (n int64, err error) {
	defer func(start time.Time) { s.observe("count", start, err) }(time.Now())
	return s.Store.Count(ctx, namespace)
}

func (s *Instrumented) ListTruncated(ctx context.Context, namespace string, maxLen, limit int) (out []Record, err error) {
	defer func(start time.Time) { s.observe("list_truncated", start, err) }(time.Now())
	return s.Store.ListTruncated(ctx, namespace, maxLen, limit)
}
