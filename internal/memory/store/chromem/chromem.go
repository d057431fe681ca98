// Package chromem backs the memory stream with chromem-go, a pure Go
// embedded vector database. Each channel gets its own collection.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/aminsmd/ai-chat-app/internal/memory"
)

// Store wraps chromem-go behind the memory.Store interface.
//
// chromem-go has no document lookup or listing API, so the store keeps a
// records side index for Recent, Get, and SetImportance. The index is
// process-local: after a restart, similarity search still covers persisted
// documents but the recency window starts fresh.
type Store struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	records     map[string][]*memory.Record // per channel, insertion order
	byID        map[string]map[string]*memory.Record
}

// New creates a store. path selects on-disk persistence; empty keeps
// everything in memory (tests).
func New(path string) (*Store, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		records:     make(map[string][]*memory.Record),
		byID:        make(map[string]map[string]*memory.Record),
	}, nil
}

// getOrCreateCollection returns the channel's collection, creating it on
// first use.
func (s *Store) getOrCreateCollection(channel string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[channel]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[channel]; exists {
		return col, nil
	}

	// GetOrCreateCollection, not CreateCollection: with a persistent DB the
	// collection may already hold documents reloaded from disk, and
	// CreateCollection would replace it with an empty one.
	col, err := s.db.GetOrCreateCollection(collectionName(channel), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[channel] = col
	return col, nil
}

// Store saves a record with its embedding.
func (s *Store) Store(ctx context.Context, rec *memory.Record) error {
	col, err := s.getOrCreateCollection(rec.Channel())
	if err != nil {
		return err
	}

	doc, err := toDocument(rec)
	if err != nil {
		return fmt.Errorf("serialize record: %w", err)
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.index(rec)
	return nil
}

func (s *Store) index(rec *memory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel := rec.Channel()
	if prev, ok := s.byID[channel][rec.ID()]; ok {
		// Overwrite in place, keep stream position
		for i, r := range s.records[channel] {
			if r == prev {
				s.records[channel][i] = rec
				break
			}
		}
	} else {
		s.records[channel] = append(s.records[channel], rec)
	}
	if s.byID[channel] == nil {
		s.byID[channel] = make(map[string]*memory.Record)
	}
	s.byID[channel][rec.ID()] = rec
}

// Query retrieves records by vector similarity, highest first.
func (s *Store) Query(ctx context.Context, channel string, embedding []float32, limit int) ([]memory.QueryResult, error) {
	col, err := s.getOrCreateCollection(channel)
	if err != nil {
		return nil, err
	}

	if n := col.Count(); n < limit {
		limit = n
	}
	if limit <= 0 {
		return nil, nil
	}

	// chromem-go requires nResults <= collection size; Count can race with
	// concurrent writes, so shrink and retry on the boundary error.
	var results []chromem.Result
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		results, err = col.QueryEmbedding(ctx, embedding, currentLimit, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	out := make([]memory.QueryResult, 0, len(results))
	for i, res := range results {
		rec, err := fromResult(channel, res)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result #%d: %v", i+1, err)
			continue
		}
		out = append(out, memory.QueryResult{Record: rec, Similarity: float64(res.Similarity)})
	}
	return out, nil
}

// Recent returns the channel's newest records in ascending time order.
func (s *Store) Recent(_ context.Context, channel string, limit int) ([]*memory.Record, error) {
	s.mu.RLock()
	recs := make([]*memory.Record, len(s.records[channel]))
	copy(recs, s.records[channel])
	s.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt().Before(recs[j].CreatedAt())
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

// Get retrieves one record by ID. Returns nil, nil when absent.
func (s *Store) Get(_ context.Context, channel, id string) (*memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[channel][id], nil
}

// SetImportance overwrites a record's importance. The document is re-added
// under the same ID since chromem-go has no update API.
func (s *Store) SetImportance(ctx context.Context, channel, id string, importance float64) error {
	s.mu.RLock()
	rec := s.byID[channel][id]
	s.mu.RUnlock()
	if rec == nil {
		return fmt.Errorf("record %s not found in channel %s", id, channel)
	}

	updated := memory.NewRecordFromStorage(
		rec.ID(), rec.Channel(), rec.UserID(), rec.Role(), rec.Content(),
		rec.CreatedAt(), importance, rec.Kind(), rec.Provenance(), rec.Embedding(),
	)
	return s.Store(ctx, updated)
}

// Channels lists every channel with at least one record.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for ch := range s.records {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Close releases resources. chromem-go persists on write, nothing to flush.
func (s *Store) Close() error {
	return nil
}

// toDocument serializes a record to a chromem document. The message text is
// the document content; everything else rides in metadata.
func toDocument(rec *memory.Record) (chromem.Document, error) {
	metadata := map[string]string{
		"channel":    rec.Channel(),
		"user_id":    rec.UserID(),
		"role":       rec.Role(),
		"kind":       rec.Kind(),
		"created_at": rec.CreatedAt().UTC().Format(time.RFC3339Nano),
		"importance": fmt.Sprintf("%.6f", rec.Importance()),
	}
	if prov := rec.Provenance(); len(prov) > 0 {
		enc, err := json.Marshal(prov)
		if err != nil {
			return chromem.Document{}, fmt.Errorf("marshal provenance: %w", err)
		}
		metadata["provenance"] = string(enc)
	}
	return chromem.Document{
		ID:        rec.ID(),
		Content:   rec.Content(),
		Embedding: rec.Embedding(),
		Metadata:  metadata,
	}, nil
}

// fromResult rebuilds a record from a query result.
func fromResult(channel string, res chromem.Result) (*memory.Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	var importance float64
	if _, err := fmt.Sscanf(res.Metadata["importance"], "%f", &importance); err != nil {
		return nil, fmt.Errorf("parse importance: %w", err)
	}
	var provenance []string
	if enc := res.Metadata["provenance"]; enc != "" {
		if err := json.Unmarshal([]byte(enc), &provenance); err != nil {
			return nil, fmt.Errorf("unmarshal provenance: %w", err)
		}
	}
	return memory.NewRecordFromStorage(
		res.ID,
		channel,
		res.Metadata["user_id"],
		res.Metadata["role"],
		res.Content,
		createdAt,
		importance,
		res.Metadata["kind"],
		provenance,
		res.Embedding,
	), nil
}

// collectionName sanitizes a channel name to chromem-go's allowed charset.
func collectionName(channel string) string {
	var sb strings.Builder
	sb.WriteString("channel-")
	for _, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// isInsufficientDocsError checks if the error is the nResults boundary.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "nResults must be") ||
		strings.Contains(err.Error(), "number of documents")
}
