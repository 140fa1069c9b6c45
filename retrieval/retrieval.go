// Package retrieval builds and queries the vector index over the pump
// reference manual. Chunks, their embeddings, and page provenance persist
// in a local collection directory; queries rank by cosine distance.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/llm"
)

var (
	// ErrIndexBuild reports that the index could not be (re)built; no
	// partial index is left behind.
	ErrIndexBuild = errors.New("retrieval index build failed")
	// ErrUnavailable reports that a query could not be served. Callers
	// degrade to an empty context rather than failing the request.
	ErrUnavailable = errors.New("retrieval unavailable")
)

// Query result bounds.
const (
	minResults = 1
	maxResults = 50
)

// Config locates the manual and the persistent index.
type Config struct {
	Manual     string // path to the reference manual PDF
	Dir        string // persistent index directory
	Collection string // collection name within the index

	ChunkSize    int // target chunk size, characters
	ChunkOverlap int // overlap between adjacent chunks, characters
	BatchSize    int // texts per embedding call
}

func (c *Config) applyDefaults() {
	if c.Collection == "" {
		c.Collection = "pump-manual"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	} else if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
}

// Chunk is one indexed slice of the manual.
type Chunk struct {
	Content string
	Page    int
	Source  string
}

// Result is one retrieved chunk. Score is cosine distance in [0, 2];
// lower means more similar.
type Result struct {
	Content string  `json:"content"`
	Page    int     `json:"page"`
	Source  string  `json:"source_id"`
	Score   float64 `json:"score"`
}

// Querier is the read surface the diagnostic engine depends on.
type Querier interface {
	Query(ctx context.Context, text string, k int) ([]Result, error)
}

// Index is a read-mostly handle on the persistent collection.
type Index struct {
	col      *chromem.Collection
	embedder llm.Embedder
}

// Open loads the index from an existing directory. No texts are
// re-embedded; cost is proportional to the stored collection size.
func Open(dir, collection string, embedder llm.Embedder) (*Index, error) {
	if collection == "" {
		collection = "pump-manual"
	}
	var db, err = chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", dir, err)
	}
	col, err := db.GetOrCreateCollection(collection, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collection, err)
	}
	var ix = &Index{col: col, embedder: embedder}
	chunksGauge.Set(float64(ix.Len()))
	return ix, nil
}

// OpenOrBuild loads the index when the directory already holds one, and
// otherwise builds it from the configured manual.
func OpenOrBuild(ctx context.Context, cfg Config, embedder llm.Embedder) (*Index, error) {
	cfg.applyDefaults()

	var ix, err = Open(cfg.Dir, cfg.Collection, embedder)
	if err == nil && ix.Len() > 0 {
		log.WithFields(log.Fields{
			"dir":    cfg.Dir,
			"chunks": ix.Len(),
		}).Info("loaded retrieval index")
		return ix, nil
	}
	return Build(ctx, cfg, embedder)
}

// Len reports the number of indexed chunks.
func (ix *Index) Len() int { return ix.col.Count() }

// Query embeds text once and returns up to k chunks by ascending cosine
// distance. k is clamped to [1, 50] and to the collection size; an empty
// collection yields no results. Failures surface as ErrUnavailable.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]Result, error) {
	var count = ix.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k < minResults {
		k = minResults
	}
	if k > maxResults {
		k = maxResults
	}
	if k > count {
		k = count
	}

	var vectors, err = ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: embedding query: %s", ErrUnavailable, err)
	}
	hits, err := ix.col.QueryEmbedding(ctx, vectors[0], k, nil, nil)
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: querying collection: %s", ErrUnavailable, err)
	}
	queriesTotal.WithLabelValues("ok").Inc()

	var out = make([]Result, len(hits))
	for i, hit := range hits {
		var page, _ = strconv.Atoi(hit.Metadata["page"])
		out[i] = Result{
			Content: hit.Content,
			Page:    page,
			Source:  hit.Metadata["source"],
			Score:   1 - float64(hit.Similarity),
		}
	}
	return out, nil
}

// embeddingFunc adapts the Embedder for single-text collection calls. The
// index embeds texts itself, so this only runs if the collection is asked
// to embed on its own.
func embeddingFunc(e llm.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		var vectors, err = e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
}
