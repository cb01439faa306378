package syncx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Reserved payload keys lifted out of the opaque article fields
const (
	KeyID       = "id"
	KeyRevision = "revision"
	KeyContent  = "content"
)

var (
	ErrMissingID       = errors.New("missing or invalid id")
	ErrInvalidContent  = errors.New("content must be a string")
	ErrInvalidRevision = errors.New("invalid revision")
)

// Extracted contains parsed sync metadata from client JSON
type Extracted struct {
	ID          string
	Revision    int64
	HasRevision bool
	Content     string
	Fields      map[string]any // everything except id, revision, content
}

// GetString safely extracts a string value from a map
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// GetMap safely extracts a nested map from a map
func GetMap(m map[string]any, k string) (map[string]any, bool) {
	if v, ok := m[k]; ok {
		if mm, ok2 := v.(map[string]any); ok2 {
			return mm, true
		}
	}
	return nil, false
}

// ParseTimeToMs converts various time formats to Unix milliseconds
// Accepts: RFC3339, numeric milliseconds (as string), empty (returns 0)
func ParseTimeToMs(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	// Try RFC3339 first
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().UnixMilli(), true
	}

	// Try numeric milliseconds
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}

	return 0, false
}

// ParseMs converts a decoded JSON value into Unix milliseconds.
// Numbers must be whole and non-negative; strings go through ParseTimeToMs.
func ParseMs(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, n >= 0
	case int:
		return int64(n), n >= 0
	case json.Number:
		ms, err := n.Int64()
		return ms, err == nil && ms >= 0
	case string:
		ms, ok := ParseTimeToMs(n)
		return ms, ok && ms >= 0
	}
	return 0, false
}

// ExtractArticle parses sync metadata from a client article payload.
// The revision is looked up under revision, updatedAt and updatedTs, in that
// order. A null or absent revision leaves HasRevision false so the caller
// can stamp server time.
func ExtractArticle(item map[string]any) (Extracted, error) {
	var out Extracted
	if item == nil {
		return out, ErrMissingID
	}

	// 1. Extract id (required)
	switch id := item[KeyID].(type) {
	case string:
		out.ID = strings.TrimSpace(id)
	case float64:
		// Numeric ids are accepted and normalised to their decimal form
		if id == math.Trunc(id) {
			out.ID = strconv.FormatInt(int64(id), 10)
		}
	}
	if out.ID == "" {
		return out, ErrMissingID
	}

	// 2. Extract revision (optional)
	for _, k := range []string{KeyRevision, "updatedAt", "updatedTs"} {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		ms, ok := ParseMs(v)
		if !ok {
			return out, fmt.Errorf("%w: %s=%v", ErrInvalidRevision, k, v)
		}
		out.Revision, out.HasRevision = ms, true
		break
	}

	// 3. Extract content (optional, must be a string when present)
	if v, ok := item[KeyContent]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return out, ErrInvalidContent
		}
		out.Content = s
	}

	out.Fields = make(map[string]any, len(item))
	for k, v := range item {
		switch k {
		case KeyID, KeyRevision, KeyContent:
			continue
		}
		out.Fields[k] = v
	}

	return out, nil
}
