package qdrant

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/qdrant/go-client/qdrant"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "quest_memories"

// Payload keys reserved by the adapter. Metadata is stored flat beside them
// so keyword filters apply to it directly.
const (
	payloadID      = "_record_id"
	payloadContent = "_content"
)

// scrollPage is the page size used when enumerating points.
const scrollPage = 256

// Config holds the qdrant connection and collection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// Dimensions sizes the collection when it has to be created
	Dimensions int
}

// pointsClient is the subset of *qdrant.Client the adapter uses.
type pointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
}

// Adapter implements memory.VectorIndex on a qdrant collection with cosine
// distance.
type Adapter struct {
	client     pointsClient
	closer     func() error
	collection string
}

// New connects to qdrant and ensures the collection exists.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create qdrant client", goerr.V("host", cfg.Host), goerr.V("port", cfg.Port))
	}

	a, err := newAdapter(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.closer = client.Close
	return a, nil
}

func newAdapter(ctx context.Context, client pointsClient, cfg Config) (*Adapter, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to check collection", goerr.V("collection", cfg.Collection))
	}
	if !exists {
		if cfg.Dimensions <= 0 {
			return nil, goerr.New("dimensions are required to create a collection", goerr.V("collection", cfg.Collection))
		}
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create collection", goerr.V("collection", cfg.Collection))
		}
		log.Info("Created qdrant collection", "collection", cfg.Collection, "dimensions", cfg.Dimensions)
	}

	return &Adapter{client: client, collection: cfg.Collection}, nil
}

// Close closes the client connection.
func (a *Adapter) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

// PointID maps a record ID onto the UUID qdrant requires as point ID.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
}

// Upsert implements memory.VectorIndex.
func (a *Adapter) Upsert(ctx context.Context, doc memory.Document) error {
	if len(doc.Embedding) == 0 {
		return goerr.New("document has no embedding", goerr.V("id", doc.ID))
	}

	_, err := a.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: a.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(PointID(doc.ID)),
			Vectors: qdrant.NewVectorsDense(doc.Embedding),
			Payload: qdrant.NewValueMap(toPayload(doc)),
		}},
	})
	if err != nil {
		return goerr.Wrap(err, "qdrant upsert failed", goerr.V("id", doc.ID))
	}
	return nil
}

// QueryNearest implements memory.VectorIndex.
func (a *Adapter) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	points, err := a.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         toFilter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "qdrant query failed", goerr.V("k", k))
	}

	matches := make([]memory.Match, len(points))
	for i, p := range points {
		matches[i] = memory.Match{
			Document:   toDocument(p.GetPayload(), p.GetVectors()),
			Similarity: p.GetScore(),
		}
	}
	return matches, nil
}

// GetByFilter implements memory.VectorIndex. Points are enumerated with
// scroll and ordered by created_at in process.
func (a *Adapter) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	var (
		docs   []memory.Document
		offset *qdrant.PointId
	)
	for {
		points, next, err := a.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: a.collection,
			Filter:         toFilter(filter),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPage)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, goerr.Wrap(err, "qdrant scroll failed", goerr.V("collected", len(docs)))
		}
		for _, p := range points {
			docs = append(docs, toDocument(p.GetPayload(), p.GetVectors()))
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	return memory.SortNewestFirst(docs, limit), nil
}

// DeleteByFilter implements memory.VectorIndex.
func (a *Adapter) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	if filter.Key == "" {
		return goerr.New("filter key is empty")
	}

	_, err := a.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: a.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toFilter(&filter)),
	})
	if err != nil {
		return goerr.Wrap(err, "qdrant delete failed", goerr.V("key", filter.Key))
	}
	return nil
}

// DeleteByIDs implements memory.VectorIndex.
func (a *Adapter) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		points[i] = qdrant.NewID(PointID(id))
	}

	_, err := a.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: a.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(points),
	})
	if err != nil {
		return goerr.Wrap(err, "qdrant delete by id failed", goerr.V("count", len(ids)))
	}
	return nil
}

func toFilter(filter *memory.Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(filter.Key, filter.Value)}}
}

func toPayload(doc memory.Document) map[string]any {
	payload := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload[payloadID] = doc.ID
	payload[payloadContent] = doc.Content
	return payload
}

func toDocument(payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) memory.Document {
	doc := memory.Document{Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadID:
			doc.ID = v.GetStringValue()
		case payloadContent:
			doc.Content = v.GetStringValue()
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}

	out := vectors.GetVector()
	if dense := out.GetDense(); dense != nil {
		doc.Embedding = dense.GetData()
	} else {
		doc.Embedding = out.GetData()
	}
	return doc
}
