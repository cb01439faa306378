package syncx

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor represents a resume position in the pull stream
// Format: base64("<min_revision_ms>|<page>|<page_size>")
// Page is only meaningful together with the page size it was computed with,
// so both travel in the cursor.
type Cursor struct {
	Revision int64 // inclusive lower bound on revision (Unix ms)
	Page     int   // zero-based page index
	Limit    int   // page size, always >= 1 in a valid cursor
}

// EncodeCursor creates a base64-encoded cursor string
// Returns empty string for zero-value cursor
func EncodeCursor(c Cursor) string {
	if c.Revision == 0 && c.Page == 0 && c.Limit == 0 {
		return ""
	}
	raw := fmt.Sprintf("%d|%d|%d", c.Revision, c.Page, c.Limit)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string
// Returns zero-value cursor and false if invalid or empty
func DecodeCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}

	parts := strings.Split(string(b), "|")
	if len(parts) != 3 {
		return Cursor{}, false
	}

	rev, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || rev < 0 {
		return Cursor{}, false
	}

	page, err := strconv.Atoi(parts[1])
	if err != nil || page < 0 {
		return Cursor{}, false
	}

	limit, err := strconv.Atoi(parts[2])
	if err != nil || limit < 1 {
		return Cursor{}, false
	}

	return Cursor{Revision: rev, Page: page, Limit: limit}, true
}

// RFC3339 converts Unix milliseconds to RFC3339 timestamp string
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns current Unix milliseconds timestamp (UTC)
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}
