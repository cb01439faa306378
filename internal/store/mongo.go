package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoDisconnectTimeout = 5 * time.Second

// MongoStore persists one document per article in a single collection.
// Insertion order (the ObjectID) breaks revision ties.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type articleDoc struct {
	OID       bson.ObjectID  `bson:"_id,omitempty"`
	Namespace string         `bson:"namespace"`
	ID        string         `bson:"id"`
	Revision  int64          `bson:"revision"`
	Content   string         `bson:"content"`
	Fields    map[string]any `bson:"fields,omitempty"`
}

func (d articleDoc) record() Record {
	fields, _ := normalizeBSON(d.Fields).(map[string]any)
	if len(fields) == 0 {
		fields = nil
	}
	return Record{
		Namespace: d.Namespace,
		ID:        d.ID,
		Revision:  d.Revision,
		Content:   d.Content,
		Fields:    fields,
	}
}

// NewMongoStore binds a collection and makes sure its indexes exist
func NewMongoStore(ctx context.Context, client *mongo.Client, database, collection string) (*MongoStore, error) {
	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique key and the pull-order index
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "namespace", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("namespace_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "namespace", Value: 1}, {Key: "revision", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("namespace_revision"),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create article indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Backend() string { return "mongo" }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Get(ctx context.Context, namespace, id string) (Record, error) {
	var doc articleDoc
	err := s.coll.FindOne(ctx, bson.M{"namespace": namespace, "id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrNotFound
		}
		return Record{}, unavailable("get", namespace, err)
	}
	return doc.record(), nil
}

// BulkUpsert issues one unordered bulk write. Per-document write errors become
// Failed outcomes; anything else aborts with ErrUnavailable.
func (s *MongoStore) BulkUpsert(ctx context.Context, namespace string, records []Record) ([]Outcome, error) {
	outcomes := make([]Outcome, len(records))
	models := make([]mongo.WriteModel, 0, len(records))
	modelToRecord := make([]int, 0, len(records))

	for i, r := range records {
		outcomes[i].ID = r.ID
		if r.ID == "" {
			outcomes[i].Result = Failed
			outcomes[i].Err = fmt.Errorf("%w: missing id", ErrInvalidRecord)
			continue
		}
		// _id is minted client-side so ties keep batch order even though
		// the bulk write itself is unordered
		update := bson.M{
			"$set": bson.M{
				"namespace": namespace,
				"id":        r.ID,
				"revision":  r.Revision,
				"content":   r.Content,
				"fields":    r.Fields,
			},
			"$setOnInsert": bson.M{"_id": bson.NewObjectID()},
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"namespace": namespace, "id": r.ID}).
			SetUpdate(update).
			SetUpsert(true))
		modelToRecord = append(modelToRecord, i)
	}

	if len(models) == 0 {
		return outcomes, nil
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))

	failed := map[int]error{}
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
			return nil, unavailable("bulk_upsert", namespace, err)
		}
		for _, we := range bwe.WriteErrors {
			failed[we.Index] = fmt.Errorf("write error %d: %s", we.Code, we.Message)
		}
	}

	for mi, ri := range modelToRecord {
		if werr, ok := failed[mi]; ok {
			log.Ctx(ctx).Warn().
				Err(werr).
				Str("namespace", namespace).
				Str("id", records[ri].ID).
				Msg("article upsert rejected")
			outcomes[ri].Result = Failed
			outcomes[ri].Err = werr
			continue
		}
		outcomes[ri].Result = Updated
		if res != nil {
			if _, ok := res.UpsertedIDs[int64(mi)]; ok {
				outcomes[ri].Result = Inserted
			}
		}
	}

	return outcomes, nil
}

func (s *MongoStore) QueryChanged(ctx context.Context, namespace string, minRevision int64, skip, limit int) ([]Record, error) {
	filter := bson.M{
		"namespace": namespace,
		"revision":  bson.M{"$gte": minRevision},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "revision", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	return s.find(ctx, "query_changed", namespace, filter, opts)
}

// Count uses CountDocuments on the namespace index. Large namespaces make
// this a scan of index keys, acceptable for diagnostics.
func (s *MongoStore) Count(ctx context.Context, namespace string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"namespace": namespace})
	if err != nil {
		return 0, unavailable("count", namespace, err)
	}
	return n, nil
}

func (s *MongoStore) ListTruncated(ctx context.Context, namespace string, maxLen, limit int) ([]Record, error) {
	filter := bson.M{
		"namespace": namespace,
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$strLenCP": bson.M{"$ifNull": bson.A{"$content", ""}}},
			maxLen,
		}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "revision", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return s.find(ctx, "list_truncated", namespace, filter, opts)
}

func (s *MongoStore) find(ctx context.Context, op, namespace string, filter bson.M, opts *options.FindOptionsBuilder) ([]Record, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable(op, namespace, err)
	}
	var docs []articleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(op, namespace, err)
	}
	out := make([]Record, len(docs))
	for i, d := range docs {
		out[i] = d.record()
	}
	return out, nil
}

// normalizeBSON turns decoded BSON containers back into JSON-shaped values.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case bson.M:
		return normalizeBSON(map[string]any(t))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		return normalizeBSON([]any(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeBSON(t[i])
		}
		return out
	default:
		return v
	}
}
