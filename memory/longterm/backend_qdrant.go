package longterm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantBackend is the server-backed VectorIndex alternative to
// ChromemBackend, for deployments that already run a Qdrant cluster.
// Grounded directly on pkg/databases/qdrant.go's client setup and
// lazy-create-collection-on-first-upsert pattern.
type QdrantBackend struct {
	client *qdrant.Client

	mu       sync.Mutex
	ensured  map[string]bool
}

// QdrantConfig is the subset of connection settings this backend needs.
type QdrantConfig struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
}

func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantBackend{client: client, ensured: make(map[string]bool)}, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context, collection string, vectorSize uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ensured[collection] {
		return nil
	}

	exists, err := b.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", collection, err)
	}
	if !exists {
		err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create collection %q: %w", collection, err)
		}
	}
	b.ensured[collection] = true
	return nil
}

func toQdrantValue(v any) *qdrant.Value {
	switch t := v.(type) {
	case string:
		return qdrant.NewValueString(t)
	case int:
		return qdrant.NewValueInt(int64(t))
	case bool:
		return qdrant.NewValueBool(t)
	default:
		return qdrant.NewValueString(fmt.Sprintf("%v", t))
	}
}

func (b *QdrantBackend) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	if err := b.ensureCollection(ctx, collection, uint64(len(vector))); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		payload[k] = toQdrantValue(v)
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert into %q: %w", collection, err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	limit := uint64(topK)
	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query on %q: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		meta := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			meta[k] = v.GetStringValue()
		}
		results = append(results, SearchResult{
			ID:       p.Id.GetUuid(),
			Score:    p.Score,
			Metadata: meta,
		})
	}
	return results, nil
}

func (b *QdrantBackend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete from %q: %w", collection, err)
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}
