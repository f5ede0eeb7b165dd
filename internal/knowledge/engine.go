// Package knowledge stores extracted medical documents and retrieves
// context for answering questions about them.
package knowledge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"arogyabot/internal/domain"
	"arogyabot/internal/store"
)

// Engine chunks extracted document text for storage and answers
// keyword searches scoped to the owning identity.
type Engine struct {
	store     *store.SQLiteStore
	chunkSize int
	overlap   int
	topK      int
	logger    *slog.Logger
}

type EngineConfig struct {
	Store     *store.SQLiteStore
	ChunkSize int // words per chunk (default: 512)
	Overlap   int // overlapping words between chunks (default: 50)
	TopK      int // default search result count (default: 5)
	Logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 50
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Engine{
		store:     cfg.Store,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}
}

// Ingest chunks extracted document text and stores it under the
// sender's identity. The document ID is a content hash, so re-uploading
// the same file replaces rather than duplicates it.
func (e *Engine) Ingest(ctx context.Context, identity, name, mimeType, content string) (string, error) {
	hash := sha256.Sum256([]byte(identity + "\x00" + content))
	docID := fmt.Sprintf("%x", hash[:8])

	chunks := e.chunkText(content, docID, identity)
	if len(chunks) == 0 {
		return "", fmt.Errorf("document %q has no extractable text", name)
	}

	doc := store.Document{
		ID:         docID,
		Identity:   identity,
		Name:       name,
		MimeType:   mimeType,
		ChunkCount: len(chunks),
		CreatedAt:  time.Now(),
	}
	if err := e.store.AddDocument(ctx, doc, chunks); err != nil {
		return "", fmt.Errorf("cannot store document: %w", err)
	}

	e.logger.Info("document ingested", "identity", identity, "name", name, "chunks", len(chunks))
	return docID, nil
}

// Search finds stored chunks relevant to the query, restricted to the
// given identity. Matching is keyword based: each significant query
// term is looked up and chunks are ranked by how many terms they hit.
func (e *Engine) Search(ctx context.Context, query string, topK int, identityScope string) ([]domain.Snippet, error) {
	if topK <= 0 {
		topK = e.topK
	}

	terms := significantTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	type hit struct {
		content string
		matches int
	}
	hits := make(map[string]*hit)

	for _, term := range terms {
		chunks, err := e.store.SearchChunks(ctx, term, identityScope, topK*2)
		if err != nil {
			return nil, fmt.Errorf("cannot search documents: %w", err)
		}
		for _, c := range chunks {
			h, ok := hits[c.ID]
			if !ok {
				h = &hit{content: c.Content}
				hits[c.ID] = h
			}
			h.matches++
		}
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := hits[ids[i]], hits[ids[j]]
		if a.matches != b.matches {
			return a.matches > b.matches
		}
		return ids[i] < ids[j]
	})

	if len(ids) > topK {
		ids = ids[:topK]
	}
	out := make([]domain.Snippet, 0, len(ids))
	for _, id := range ids {
		h := hits[id]
		out = append(out, domain.Snippet{
			DocID:   strings.SplitN(id, "_", 2)[0],
			Content: h.content,
			Score:   float64(h.matches) / float64(len(terms)),
		})
	}
	return out, nil
}

// BuildContext renders snippets into a prompt section.
func BuildContext(snippets []domain.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range snippets {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString(s.Content)
	}
	return sb.String()
}

func (e *Engine) chunkText(text, docID, identity string) []store.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []store.Chunk
	step := e.chunkSize - e.overlap
	if step <= 0 {
		step = e.chunkSize
	}

	for i := 0; i < len(words); i += step {
		end := i + e.chunkSize
		if end > len(words) {
			end = len(words)
		}

		chunks = append(chunks, store.Chunk{
			ID:         fmt.Sprintf("%s_%d", docID, len(chunks)),
			DocumentID: docID,
			Identity:   identity,
			ChunkIndex: len(chunks),
			Content:    strings.Join(words[i:end], " "),
		})

		if end >= len(words) {
			break
		}
	}
	return chunks
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true,
	"have": true, "about": true, "that": true, "this": true, "your": true,
	"please": true, "should": true, "could": true, "from": true,
}

// significantTerms keeps the query words worth searching on.
func significantTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 4 || stopWords[w] {
			continue
		}
		terms = append(terms, w)
		if len(terms) == 5 {
			break
		}
	}
	return terms
}
