package chromem

import (
	"context"
	"testing"
	"time"

	"github.com/aminsmd/ai-chat-app/internal/memory"
	"github.com/aminsmd/ai-chat-app/internal/memory/embedder/mock"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storeObservation(t *testing.T, s *Store, emb *mock.Embedder, channel, content string, at time.Time) *memory.Record {
	t.Helper()
	rec := memory.NewObservation(channel, "u1", "user", content, at, 0.5)
	vec, err := emb.Embed(context.Background(), rec.FormatForEmbedding())
	if err != nil {
		t.Fatal(err)
	}
	rec.SetEmbedding(vec)
	if err := s.Store(context.Background(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	return rec
}

func TestQueryFindsStoredRecord(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)
	now := time.Now()

	rec := storeObservation(t, s, emb, "general", "we decided to ship on friday", now)
	storeObservation(t, s, emb, "general", "unrelated chatter", now)

	// Identical text embeds identically with the mock, so the match is exact.
	vec, _ := emb.Embed(context.Background(), rec.FormatForEmbedding())
	results, err := s.Query(context.Background(), "general", vec, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Record.ID() != rec.ID() {
		t.Errorf("best match = %s, want %s", results[0].Record.ID(), rec.ID())
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("identical text similarity = %v, want ~1", results[0].Similarity)
	}
	if results[0].Record.Content() != rec.Content() {
		t.Errorf("content round trip mismatch: %q", results[0].Record.Content())
	}
	if results[0].Record.Importance() != 0.5 {
		t.Errorf("importance round trip = %v", results[0].Record.Importance())
	}
}

func TestQueryLimitLargerThanCollection(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)

	storeObservation(t, s, emb, "general", "only message", time.Now())

	vec, _ := emb.Embed(context.Background(), "anything")
	results, err := s.Query(context.Background(), "general", vec, 50)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestQueryEmptyChannel(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)
	vec, _ := emb.Embed(context.Background(), "q")

	results, err := s.Query(context.Background(), "empty", vec, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %d", len(results))
	}
}

func TestChannelIsolation(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)

	rec := storeObservation(t, s, emb, "alpha", "alpha secret", time.Now())

	vec, _ := emb.Embed(context.Background(), rec.FormatForEmbedding())
	results, err := s.Query(context.Background(), "beta", vec, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("channel beta sees %d records from alpha", len(results))
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)
	base := time.Now()

	// Stored out of order on purpose.
	storeObservation(t, s, emb, "c", "third", base.Add(3*time.Minute))
	storeObservation(t, s, emb, "c", "first", base.Add(1*time.Minute))
	storeObservation(t, s, emb, "c", "second", base.Add(2*time.Minute))

	recs, err := s.Recent(context.Background(), "c", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Content() != "second" || recs[1].Content() != "third" {
		t.Errorf("recent window = %q, %q; want second, third", recs[0].Content(), recs[1].Content())
	}
}

func TestGetAndSetImportance(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)

	rec := storeObservation(t, s, emb, "c", "msg", time.Now())

	got, err := s.Get(context.Background(), "c", rec.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID() != rec.ID() {
		t.Fatalf("Get returned %+v", got)
	}

	if err := s.SetImportance(context.Background(), "c", rec.ID(), 0.9); err != nil {
		t.Fatalf("SetImportance: %v", err)
	}
	got, err = s.Get(context.Background(), "c", rec.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Importance() != 0.9 {
		t.Errorf("importance = %v, want 0.9", got.Importance())
	}

	// The updated record must not duplicate in the stream.
	recs, err := s.Recent(context.Background(), "c", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("stream length = %d after update, want 1", len(recs))
	}

	missing, err := s.Get(context.Background(), "c", "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestChannels(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)

	storeObservation(t, s, emb, "beta", "m", time.Now())
	storeObservation(t, s, emb, "alpha", "m", time.Now())

	chans := s.Channels()
	if len(chans) != 2 || chans[0] != "alpha" || chans[1] != "beta" {
		t.Errorf("Channels() = %v", chans)
	}
}

func TestPersistedRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	emb := mock.New(0)

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := storeObservation(t, s, emb, "general", "we decided to ship on friday", time.Now())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("New after reopen: %v", err)
	}
	defer reopened.Close()

	vec, _ := emb.Embed(context.Background(), rec.FormatForEmbedding())
	results, err := reopened.Query(context.Background(), "general", vec, 1)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID() != rec.ID() {
		t.Fatalf("persisted record not found after reopen: %+v", results)
	}
	if results[0].Record.Content() != rec.Content() {
		t.Errorf("content after reopen = %q", results[0].Record.Content())
	}
	if results[0].Record.Kind() != memory.KindMemory {
		t.Errorf("kind after reopen = %q, want %q", results[0].Record.Kind(), memory.KindMemory)
	}

	// New writes must extend the reloaded collection, not start over.
	storeObservation(t, reopened, emb, "general", "post-restart message", time.Now())
	results, err = reopened.Query(context.Background(), "general", vec, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results after post-reopen write, want 2", len(results))
	}
}

func TestReflectionProvenanceRoundTrip(t *testing.T) {
	s := newStore(t)
	emb := mock.New(0)

	ref := memory.NewReflection("c", "the team prefers mornings", []string{"id-1", "id-2"}, time.Now(), 0.8)
	vec, _ := emb.Embed(context.Background(), ref.FormatForEmbedding())
	ref.SetEmbedding(vec)
	if err := s.Store(context.Background(), ref); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(context.Background(), "c", vec, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	got := results[0].Record
	if got.Kind() != memory.KindReflection {
		t.Errorf("kind = %q", got.Kind())
	}
	if len(got.Provenance()) != 2 || got.Provenance()[0] != "id-1" {
		t.Errorf("provenance round trip = %v", got.Provenance())
	}
}
