package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// PgxPool is the subset of *pgxpool.Pool the Postgres backend needs.
// pgxmock.PgxPoolIface satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Schema for the article table. seq is assigned once on insert and gives a
// stable tiebreak between records that share a revision.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS article (
	namespace   TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	seq         BIGSERIAL,
	revision    BIGINT      NOT NULL,
	content     TEXT        NOT NULL DEFAULT '',
	fields      JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS article_ns_revision_idx ON article (namespace, revision, seq);
`

// PostgresStore persists articles as JSONB documents in a single table.
type PostgresStore struct {
	DB PgxPool
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(db PgxPool) *PostgresStore {
	return &PostgresStore{DB: db}
}

// Migrate creates the article table and its pull index if missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate article table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.DB.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, namespace, id string) (Record, error) {
	var fieldsJSON []byte
	r := Record{Namespace: namespace, ID: id}

	err := s.DB.QueryRow(ctx, `
		SELECT revision, content, fields
		FROM article
		WHERE namespace = $1 AND id = $2
	`, namespace, id).Scan(&r.Revision, &r.Content, &fieldsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, unavailable("get", namespace, err)
	}

	if r.Fields, err = decodeFields(fieldsJSON); err != nil {
		return Record{}, unavailable("get", namespace, err)
	}
	return r, nil
}

// BulkUpsert writes each record with its own statement so a constraint or
// encoding failure on one row is reported without aborting the others.
func (s *PostgresStore) BulkUpsert(ctx context.Context, namespace string, records []Record) ([]Outcome, error) {
	outcomes := make([]Outcome, len(records))

	for i, r := range records {
		outcomes[i].ID = r.ID
		if r.ID == "" {
			outcomes[i].Result = Failed
			outcomes[i].Err = fmt.Errorf("%w: missing id", ErrInvalidRecord)
			continue
		}

		fieldsJSON, err := encodeFields(r.Fields)
		if err != nil {
			outcomes[i].Result = Failed
			outcomes[i].Err = fmt.Errorf("%w: %v", ErrInvalidRecord, err)
			continue
		}

		// xmax = 0 only for a freshly inserted row version
		var inserted bool
		err = s.DB.QueryRow(ctx, `
			INSERT INTO article (namespace, id, revision, content, fields)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (namespace, id) DO UPDATE SET
				revision   = EXCLUDED.revision,
				content    = EXCLUDED.content,
				fields     = EXCLUDED.fields,
				updated_at = NOW()
			RETURNING (xmax = 0) AS inserted
		`, namespace, r.ID, r.Revision, r.Content, fieldsJSON).Scan(&inserted)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				log.Ctx(ctx).Warn().
					Err(err).
					Str("namespace", namespace).
					Str("id", r.ID).
					Str("code", pgErr.Code).
					Msg("article upsert rejected")
				outcomes[i].Result = Failed
				outcomes[i].Err = err
				continue
			}
			return nil, unavailable("bulk_upsert", namespace, err)
		}

		if inserted {
			outcomes[i].Result = Inserted
		} else {
			outcomes[i].Result = Updated
		}
	}

	return outcomes, nil
}

func (s *PostgresStore) QueryChanged(ctx context.Context, namespace string, minRevision int64, skip, limit int) ([]Record, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, revision, content, fields
		FROM article
		WHERE namespace = $1
		  AND revision >= $2
		ORDER BY revision, seq
		OFFSET $3
		LIMIT $4
	`, namespace, minRevision, skip, limit)
	if err != nil {
		return nil, unavailable("query_changed", namespace, err)
	}
	out, err := scanRecords(rows, namespace, limit)
	if err != nil {
		return nil, unavailable("query_changed", namespace, err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, namespace string) (int64, error) {
	var n int64
	if err := s.DB.QueryRow(ctx,
		`SELECT count(*) FROM article WHERE namespace = $1`,
		namespace).Scan(&n); err != nil {
		return 0, unavailable("count", namespace, err)
	}
	return n, nil
}

func (s *PostgresStore) ListTruncated(ctx context.Context, namespace string, maxLen, limit int) ([]Record, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, revision, content, fields
		FROM article
		WHERE namespace = $1
		  AND char_length(content) < $2
		ORDER BY revision, seq
		LIMIT $3
	`, namespace, maxLen, limit)
	if err != nil {
		return nil, unavailable("list_truncated", namespace, err)
	}
	out, err := scanRecords(rows, namespace, limit)
	if err != nil {
		return nil, unavailable("list_truncated", namespace, err)
	}
	return out, nil
}

func scanRecords(rows pgx.Rows, namespace string, capacity int) ([]Record, error) {
	defer rows.Close()

	out := make([]Record, 0, capacity)
	for rows.Next() {
		var fieldsJSON []byte
		r := Record{Namespace: namespace}
		if err := rows.Scan(&r.ID, &r.Revision, &r.Content, &fieldsJSON); err != nil {
			return nil, err
		}
		fields, err := decodeFields(fieldsJSON)
		if err != nil {
			return nil, err
		}
		r.Fields = fields
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(fields)
}

func decodeFields(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
