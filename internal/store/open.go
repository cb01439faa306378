package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/erauner12/articlesync-api/internal/db"
	"github.com/rs/zerolog/log"
)

// Options carries backend settings that do not fit in a DSN.
type Options struct {
	MongoDatabase   string
	MongoCollection string
}

// Open selects and connects exactly one backend from dsn. Schemes:
//
//	file:<path> or file://<path>  JSON file (default when no scheme)
//	memory://                     in-process only
//	postgres://, postgresql://    JSONB table via pgx
//	mongodb://, mongodb+srv://    MongoDB collection
//
// The returned store is instrumented with metrics.
func Open(ctx context.Context, dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty dsn", ErrUnsupportedDSN)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDSN, err)
	}

	var s Store
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		fs, fsErr := NewFileStore(path)
		if fsErr != nil {
			return nil, fsErr
		}
		s = fs
	case "memory", "mem", "inmem":
		s = NewMemoryStore()
	case "postgres", "postgresql":
		pool, poolErr := db.Open(ctx, dsn)
		if poolErr != nil {
			return nil, fmt.Errorf("connect postgres: %w", poolErr)
		}
		ps := NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s = ps
	case "mongodb", "mongodb+srv":
		client, mErr := db.OpenMongo(ctx, dsn)
		if mErr != nil {
			return nil, fmt.Errorf("connect mongodb: %w", mErr)
		}
		database := opts.MongoDatabase
		if database == "" {
			database = "articlesync"
		}
		collection := opts.MongoCollection
		if collection == "" {
			collection = "articles"
		}
		ms, msErr := NewMongoStore(ctx, client, database, collection)
		if msErr != nil {
			_ = client.Disconnect(context.Background())
			return nil, msErr
		}
		s = ms
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedDSN, scheme)
	}

	log.Info().Str("backend", s.Backend()).Msg("article store ready")
	return Instrument(s), nil
}

// dsnPath accepts file:rel/path, file:///abs/path and file://rel/path.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	if parsed.Opaque != "" {
		return parsed.Opaque, nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		return "", fmt.Errorf("%w: file dsn without a path", ErrUnsupportedDSN)
	}
	return path, nil
}
