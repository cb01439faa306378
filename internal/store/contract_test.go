package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the Store contract against any backend. newStore must
// return an empty store.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "u1", "nope")
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("upsert reports inserted then updated", func(t *testing.T) {
		s := newStore(t)
		out, err := s.BulkUpsert(ctx, "u1", []Record{
			{ID: "a1", Revision: 100, Content: "short", Fields: map[string]any{"title": "A"}},
		})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, Inserted, out[0].Result)

		out, err = s.BulkUpsert(ctx, "u1", []Record{{ID: "a1", Revision: 150, Content: "longer"}})
		require.NoError(t, err)
		assert.Equal(t, Updated, out[0].Result)

		got, err := s.Get(ctx, "u1", "a1")
		require.NoError(t, err)
		assert.Equal(t, int64(150), got.Revision)
		assert.Equal(t, "longer", got.Content)
		assert.Empty(t, got.Fields, "write must replace the whole record")
	})

	t.Run("record without id fails alone", func(t *testing.T) {
		s := newStore(t)
		out, err := s.BulkUpsert(ctx, "u1", []Record{
			{ID: "a1", Revision: 1},
			{ID: "", Revision: 2},
			{ID: "a3", Revision: 3},
		})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, Inserted, out[0].Result)
		assert.Equal(t, Failed, out[1].Result)
		assert.ErrorIs(t, out[1].Err, ErrInvalidRecord)
		assert.Equal(t, Inserted, out[2].Result)

		n, err := s.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("query orders by revision then insertion", func(t *testing.T) {
		s := newStore(t)
		_, err := s.BulkUpsert(ctx, "u1", []Record{
			{ID: "c", Revision: 20},
			{ID: "a", Revision: 10},
			{ID: "b", Revision: 10},
			{ID: "d", Revision: 5},
		})
		require.NoError(t, err)

		got, err := s.QueryChanged(ctx, "u1", 10, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(got), "minRevision is inclusive")

		got, err = s.QueryChanged(ctx, "u1", 0, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(got))

		got, err = s.QueryChanged(ctx, "u1", 0, 10, 2)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		s := newStore(t)
		_, err := s.BulkUpsert(ctx, "u1", []Record{{ID: "a1", Revision: 1, Content: "one"}})
		require.NoError(t, err)
		_, err = s.BulkUpsert(ctx, "u2", []Record{{ID: "a1", Revision: 2, Content: "two"}})
		require.NoError(t, err)

		r1, err := s.Get(ctx, "u1", "a1")
		require.NoError(t, err)
		r2, err := s.Get(ctx, "u2", "a1")
		require.NoError(t, err)
		assert.Equal(t, "one", r1.Content)
		assert.Equal(t, "two", r2.Content)

		got, err := s.QueryChanged(ctx, "u2", 0, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, ids(got))
	})

	t.Run("list truncated", func(t *testing.T) {
		s := newStore(t)
		_, err := s.BulkUpsert(ctx, "u1", []Record{
			{ID: "short", Revision: 1, Content: "tiny"},
			{ID: "empty", Revision: 2},
			{ID: "full", Revision: 3, Content: strings.Repeat("x", 250)},
		})
		require.NoError(t, err)

		got, err := s.ListTruncated(ctx, "u1", 200, 20)
		require.NoError(t, err)
		assert.Equal(t, []string{"short", "empty"}, ids(got))

		got, err = s.ListTruncated(ctx, "u1", 200, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("nested fields survive", func(t *testing.T) {
		s := newStore(t)
		_, err := s.BulkUpsert(ctx, "u1", []Record{{
			ID:       "a1",
			Revision: 7,
			Fields: map[string]any{
				"title": "Nested",
				"meta":  map[string]any{"tags": []any{"go", "sync"}},
			},
		}})
		require.NoError(t, err)

		got, err := s.Get(ctx, "u1", "a1")
		require.NoError(t, err)
		meta, ok := got.Fields["meta"].(map[string]any)
		require.True(t, ok, "meta = %T", got.Fields["meta"])
		assert.Len(t, meta["tags"], 2)
	})
}

func ids(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
