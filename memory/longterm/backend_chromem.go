package longterm

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend is the default, embedded VectorIndex: no external server,
// everything lives in the process (optionally persisted to disk), backed by
// github.com/philippgille/chromem-go. Grounded on the teacher's
// databases.DatabaseProvider shape (pkg/databases/qdrant.go) but using the
// pack's embedded vector store instead of a server-backed one, so this
// runtime has a zero-dependency default the way the teacher's reference
// deployment does not.
type ChromemBackend struct {
	mu          sync.Mutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
}

// NewChromemBackend opens (or creates) a persistent chromem-go database
// rooted at path. An empty path uses an in-memory-only database.
func NewChromemBackend(path string) (*ChromemBackend, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &ChromemBackend{db: db, collections: make(map[string]*chromem.Collection)}, nil
}

func (b *ChromemBackend) collection(name string) (*chromem.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	// nil embedding func: vectors are always supplied by the caller.
	c, err := b.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	b.collections[name] = c
	return c, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	c, err := b.collection(collection)
	if err != nil {
		return err
	}

	strMeta := make(map[string]string, len(metadata))
	content := ""
	for k, v := range metadata {
		if k == "content" {
			if s, ok := v.(string); ok {
				content = s
			}
		}
		strMeta[k] = fmt.Sprintf("%v", v)
	}

	return c.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMeta,
		Embedding: vector,
	})
}

func (b *ChromemBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	c, err := b.collection(collection)
	if err != nil {
		return nil, err
	}
	if topK > c.Count() {
		topK = c.Count()
	}
	if topK <= 0 {
		return nil, nil
	}

	docs, err := c.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	results := make([]SearchResult, 0, len(docs))
	for _, d := range docs {
		meta := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		results = append(results, SearchResult{ID: d.ID, Score: d.Similarity, Metadata: meta})
	}
	return results, nil
}

func (b *ChromemBackend) Delete(ctx context.Context, collection, id string) error {
	c, err := b.collection(collection)
	if err != nil {
		return err
	}
	return c.Delete(ctx, nil, nil, id)
}

func (b *ChromemBackend) Close() error {
	return nil
}
