package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	log "github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/hydrasense/volute/llm"
)

// pageText is the extracted text of one manual page.
type pageText struct {
	number int
	text   string
}

// Build chunks the manual, embeds every chunk, and persists the collection
// under cfg.Dir. The index is written to a scratch directory and swapped
// in whole, so a failed build never leaves a partial index behind.
func Build(ctx context.Context, cfg Config, embedder llm.Embedder) (*Index, error) {
	cfg.applyDefaults()

	var pages, err = loadPDF(cfg.Manual)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexBuild, err)
	}
	return buildFromPages(ctx, cfg, embedder, pages)
}

func buildFromPages(ctx context.Context, cfg Config, embedder llm.Embedder, pages []pageText) (*Index, error) {
	cfg.applyDefaults()
	var started = time.Now()

	var chunks, err = splitPages(cfg, pages)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexBuild, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: manual produced no chunks", ErrIndexBuild)
	}

	var embeddings = make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += cfg.BatchSize {
		var end = start + cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		var texts = make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Content)
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding chunks %d..%d: %s", ErrIndexBuild, start, end-1, err)
		}
		embeddings = append(embeddings, vectors...)
	}

	// Write the collection into a scratch directory first.
	var scratch = cfg.Dir + ".build"
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("%w: clearing scratch dir: %s", ErrIndexBuild, err)
	}
	var swapped bool
	defer func() {
		if !swapped {
			os.RemoveAll(scratch)
		}
	}()

	db, err := chromem.NewPersistentDB(scratch, false)
	if err != nil {
		return nil, fmt.Errorf("%w: creating scratch index: %s", ErrIndexBuild, err)
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection: %s", ErrIndexBuild, err)
	}

	var docs = make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID: fmt.Sprintf("p%03d-c%04d", chunk.Page, i),
			Metadata: map[string]string{
				"page":   strconv.Itoa(chunk.Page),
				"source": chunk.Source,
			},
			Embedding: embeddings[i],
			Content:   chunk.Content,
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: persisting chunks: %s", ErrIndexBuild, err)
	}

	if err := os.RemoveAll(cfg.Dir); err != nil {
		return nil, fmt.Errorf("%w: replacing index dir: %s", ErrIndexBuild, err)
	}
	if err := os.Rename(scratch, cfg.Dir); err != nil {
		return nil, fmt.Errorf("%w: installing index dir: %s", ErrIndexBuild, err)
	}
	swapped = true

	log.WithFields(log.Fields{
		"manual": cfg.Manual,
		"pages":  len(pages),
		"chunks": len(chunks),
		"dir":    cfg.Dir,
		"took":   time.Since(started).String(),
	}).Info("built retrieval index")

	return Open(cfg.Dir, cfg.Collection, embedder)
}

// splitPages cuts page texts into overlapping chunks, preferring paragraph
// boundaries, then lines, then spaces, then characters.
func splitPages(cfg Config, pages []pageText) ([]Chunk, error) {
	var splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	var source = filepath.Base(cfg.Manual)

	var chunks []Chunk
	for _, page := range pages {
		var parts, err = splitter.SplitText(page.text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", page.number, err)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Content: part,
				Page:    page.number,
				Source:  source,
			})
		}
	}
	return chunks, nil
}

// loadPDF extracts per-page text from the manual.
func loadPDF(path string) ([]pageText, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manual: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat manual: %w", err)
	}
	docs, err := documentloaders.NewPDF(f, info.Size()).Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("reading manual %s: %w", path, err)
	}

	var pages = make([]pageText, 0, len(docs))
	for i, doc := range docs {
		pages = append(pages, pageText{
			number: pageNumber(doc, i+1),
			text:   doc.PageContent,
		})
	}
	return pages, nil
}

// pageNumber reads the loader's page metadata, falling back to position.
func pageNumber(doc schema.Document, fallback int) int {
	switch v := doc.Metadata["page"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
