// Package store holds the persistence contract for synced articles and its
// backends. Records are keyed by (namespace, id) and ordered for pulls by
// (revision, insertion order).
package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrUnavailable marks a backend fault that must abort the current request.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned by Get when no record exists for (namespace, id).
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRecord is attached to a failed Outcome for a record without an id.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnsupportedDSN is returned by Open for unknown backend schemes.
	ErrUnsupportedDSN = errors.New("unsupported store dsn")
)

// Record is the server-held state of one article.
type Record struct {
	Namespace string         `json:"-"`
	ID        string         `json:"id"`
	Revision  int64          `json:"revision"`
	Content   string         `json:"content"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ContentLength is the length of Content in Unicode code points.
func (r Record) ContentLength() int {
	return utf8.RuneCountInString(r.Content)
}

// Payload flattens the record back into the client wire shape.
func (r Record) Payload() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	out["revision"] = r.Revision
	out["content"] = r.Content
	return out
}

// Result is the per-item outcome of a bulk upsert.
type Result string

const (
	Inserted Result = "inserted"
	Updated  Result = "updated"
	Failed   Result = "failed"
)

// Outcome reports what happened to one record of a BulkUpsert call.
// Outcomes are returned in input order.
type Outcome struct {
	ID     string
	Result Result
	Err    error
}

// Store is the persistence contract consumed by the sync service.
//
// BulkUpsert applies items independently: a record that cannot be written is
// reported as Failed and does not block the rest. It only returns an error
// when the backend itself is unreachable.
//
// QueryChanged returns records with revision >= minRevision ordered by
// (revision ASC, insertion order ASC).
//
// Count is best effort. Backends may answer from an estimate.
type Store interface {
	Get(ctx context.Context, namespace, id string) (Record, error)
	BulkUpsert(ctx context.Context, namespace string, records []Record) ([]Outcome, error)
	QueryChanged(ctx context.Context, namespace string, minRevision int64, skip, limit int) ([]Record, error)
	Count(ctx context.Context, namespace string) (int64, error)
	// ListTruncated returns up to limit records whose content is shorter
	// than maxLen code points.
	ListTruncated(ctx context.Context, namespace string, maxLen, limit int) ([]Record, error)
	Backend() string
	Close() error
}

// OpError wraps a backend fault with the operation and namespace it hit.
// It matches both ErrUnavailable and the underlying cause under errors.Is.
type OpError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("store %s (namespace %q): %v", e.Op, e.Namespace, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func unavailable(op, namespace string, err error) error {
	return &OpError{Op: op, Namespace: namespace, Err: err}
}

// cloneFields deep-copies JSON-shaped values so callers never share maps
// with a backend's resident state.
func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

func cloneRecord(r Record) Record {
	r.Fields = cloneFields(r.Fields)
	return r
}
