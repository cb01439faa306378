package syncservice

import (
	"context"
	"errors"

	"github.com/erauner12/articlesync-api/internal/metrics"
	"github.com/erauner12/articlesync-api/internal/store"
	"github.com/erauner12/articlesync-api/internal/syncx"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHealThreshold is the content length (code points) below which a
	// stored copy is considered truncated
	DefaultHealThreshold = 200

	defaultLookupConcurrency = 8
)

// PushResult summarises one applied batch
type PushResult struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Healed   int           `json:"healed"`
	Failed   int           `json:"failed"`
	Errors   []RecordError `json:"-"`
}

// Reconciler merges incoming client records into the store.
//
// Last arrival wins: an incoming record replaces the stored one in full,
// keeping its own revision (or server time when it has none). The one
// exception is content healing: when the stored content is shorter than
// HealThreshold and the incoming content is not, the incoming record is
// accepted with revision = server time so other devices pick it up.
type Reconciler struct {
	Store             store.Store
	HealThreshold     int
	LookupConcurrency int
}

type pending struct {
	index  int // position of the winning change in the request
	record store.Record
	healed bool
}

// Apply reconciles changes against the stored state of namespace. now is the
// server time stamped on healed records and on records without a revision.
// Bad records are reported in PushResult.Errors; a store fault aborts.
func (r *Reconciler) Apply(ctx context.Context, namespace string, now int64, changes []map[string]any) (PushResult, error) {
	var res PushResult
	if len(changes) == 0 {
		return res, nil
	}

	logger := log.Ctx(ctx).With().Str("namespace", namespace).Logger()

	// 1. Parse, keeping request order and skipping bad entries
	type parsed struct {
		index int
		ext   syncx.Extracted
	}
	items := make([]parsed, 0, len(changes))
	for i, item := range changes {
		ext, err := syncx.ExtractArticle(item)
		if err != nil {
			id, _ := syncx.GetString(item, syncx.KeyID)
			logger.Warn().Err(err).Int("index", i).Str("id", id).Msg("skipping invalid change")
			res.Failed++
			res.Errors = append(res.Errors, RecordError{Index: i, ID: id, Reason: err.Error()})
			continue
		}
		items = append(items, parsed{index: i, ext: ext})
	}

	// 2. Look up the stored copy of every distinct id
	var ids []string
	seen := make(map[string]int, len(items))
	for _, it := range items {
		if _, ok := seen[it.ext.ID]; !ok {
			seen[it.ext.ID] = len(ids)
			ids = append(ids, it.ext.ID)
		}
	}
	existing, err := r.lookup(ctx, namespace, ids)
	if err != nil {
		logger.Error().Err(err).Str("op", "get").Msg("failed to load existing articles")
		return PushResult{}, err
	}

	// 3. Resolve in request order. A repeated id is resolved against the
	// previous change in the same batch, so only the last one is written.
	resolved := make([]*pending, len(ids))
	for _, it := range items {
		slot := seen[it.ext.ID]
		prev := existing[slot]
		if resolved[slot] != nil {
			prev = &resolved[slot].record
		}
		rec, healed := r.resolve(namespace, prev, it.ext, now)
		if healed {
			logger.Info().
				Str("id", rec.ID).
				Int("existing_len", prev.ContentLength()).
				Int("incoming_len", rec.ContentLength()).
				Msg("content healed")
		}
		resolved[slot] = &pending{index: it.index, record: rec, healed: healed}
	}

	if len(resolved) == 0 {
		metrics.RecordPush(0, 0, res.Failed, 0)
		return res, nil
	}

	// 4. Write
	records := make([]store.Record, len(resolved))
	for i, p := range resolved {
		records[i] = p.record
	}
	outcomes, err := r.Store.BulkUpsert(ctx, namespace, records)
	if err != nil {
		logger.Error().Err(err).Str("op", "bulk_upsert").Msg("failed to persist changes")
		return PushResult{}, err
	}

	for i, o := range outcomes {
		p := resolved[i]
		switch o.Result {
		case store.Inserted:
			res.Inserted++
		case store.Updated:
			res.Updated++
		default:
			res.Failed++
			reason := "write rejected"
			if o.Err != nil {
				reason = o.Err.Error()
			}
			res.Errors = append(res.Errors, RecordError{Index: p.index, ID: p.record.ID, Reason: reason})
			continue
		}
		if p.healed {
			res.Healed++
		}
	}

	metrics.RecordPush(res.Inserted, res.Updated, res.Failed, res.Healed)
	logger.Debug().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("healed", res.Healed).
		Int("failed", res.Failed).
		Msg("push applied")

	return res, nil
}

// resolve decides the state to write for one incoming change
func (r *Reconciler) resolve(namespace string, existing *store.Record, in syncx.Extracted, now int64) (store.Record, bool) {
	rec := store.Record{
		Namespace: namespace,
		ID:        in.ID,
		Content:   in.Content,
		Fields:    in.Fields,
	}
	if len(rec.Fields) == 0 {
		rec.Fields = nil
	}

	threshold := r.threshold()
	if existing != nil &&
		existing.ContentLength() < threshold &&
		rec.ContentLength() >= threshold {
		rec.Revision = now
		return rec, true
	}

	if in.HasRevision {
		rec.Revision = in.Revision
	} else {
		rec.Revision = now
	}
	return rec, false
}

// lookup fetches the stored record for each id, nil where absent
func (r *Reconciler) lookup(ctx context.Context, namespace string, ids []string) ([]*store.Record, error) {
	out := make([]*store.Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			rec, err := r.Store.Get(gctx, namespace, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) threshold() int {
	if r.HealThreshold > 0 {
		return r.HealThreshold
	}
	return DefaultHealThreshold
}

func (r *Reconciler) concurrency() int {
	if r.LookupConcurrency > 0 {
		return r.LookupConcurrency
	}
	return defaultLookupConcurrency
}
