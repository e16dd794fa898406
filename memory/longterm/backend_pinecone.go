package longterm

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeBackend is a managed-service alternative to ChromemBackend and
// QdrantBackend. Grounded on pkg/databases/pinecone.go, trimmed to the
// narrower VectorIndex contract (no hybrid search / collection-management
// methods, since nothing in this runtime calls them — long-term memory
// only ever upserts, searches, and deletes single vectors).
//
// Pinecone indexes (not collections) are the unit of isolation; the
// collection argument each VectorIndex method takes names the index, the
// same repurposing the teacher's provider already does.
type PineconeBackend struct {
	client    *pinecone.Client
	conns     map[string]*pinecone.IndexConnection
}

// PineconeConfig is the subset of connection settings this backend needs.
type PineconeConfig struct {
	APIKey string
	Host   string // optional; defaults to https://api.pinecone.io
}

func NewPineconeBackend(cfg PineconeConfig) (*PineconeBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone: api key is required")
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}
	return &PineconeBackend{client: client, conns: make(map[string]*pinecone.IndexConnection)}, nil
}

func (b *PineconeBackend) indexConn(ctx context.Context, indexName string) (*pinecone.IndexConnection, error) {
	if conn, ok := b.conns[indexName]; ok {
		return conn, nil
	}
	index, err := b.client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("describe pinecone index %q: %w", indexName, err)
	}
	conn, err := b.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("connect to pinecone index %q: %w", indexName, err)
	}
	b.conns[indexName] = conn
	return conn, nil
}

func (b *PineconeBackend) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	conn, err := b.indexConn(ctx, collection)
	if err != nil {
		return err
	}

	var meta *pinecone.Metadata
	if len(metadata) > 0 {
		meta, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("convert pinecone metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{Id: id, Values: vector, Metadata: meta}})
	if err != nil {
		return fmt.Errorf("pinecone upsert into %q: %w", collection, err)
	}
	return nil
}

func (b *PineconeBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	conn, err := b.indexConn(ctx, collection)
	if err != nil {
		return nil, err
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone query on %q: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil {
			continue
		}
		var meta map[string]any
		if m.Vector.Metadata != nil {
			meta = m.Vector.Metadata.AsMap()
		}
		results = append(results, SearchResult{ID: m.Vector.Id, Score: m.Score, Metadata: meta})
	}
	return results, nil
}

func (b *PineconeBackend) Delete(ctx context.Context, collection, id string) error {
	conn, err := b.indexConn(ctx, collection)
	if err != nil {
		return err
	}
	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("pinecone delete from %q: %w", collection, err)
	}
	return nil
}

func (b *PineconeBackend) Close() error {
	for _, conn := range b.conns {
		conn.Close()
	}
	return nil
}
