package memory

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/aminsmd/ai-chat-app/internal/llm"
)

// fakeEmbedder is a hash-based deterministic embedder, matching the mock
// embedder's behavior without an import cycle through the store packages.
type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, f.dims)
	var norm float32
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
		norm += vec[i] * vec[i]
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// fakeStore is an in-memory Store with exact cosine similarity.
type fakeStore struct {
	records map[string][]*Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]*Record)}
}

func (s *fakeStore) Store(_ context.Context, rec *Record) error {
	for i, r := range s.records[rec.Channel()] {
		if r.ID() == rec.ID() {
			s.records[rec.Channel()][i] = rec
			return nil
		}
	}
	s.records[rec.Channel()] = append(s.records[rec.Channel()], rec)
	return nil
}

func (s *fakeStore) Query(_ context.Context, channel string, embedding []float32, limit int) ([]QueryResult, error) {
	var out []QueryResult
	for _, r := range s.records[channel] {
		out = append(out, QueryResult{Record: r, Similarity: cosine(embedding, r.Embedding())})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Recent(_ context.Context, channel string, limit int) ([]*Record, error) {
	recs := append([]*Record(nil), s.records[channel]...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt().Before(recs[j].CreatedAt()) })
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (s *fakeStore) Get(_ context.Context, channel, id string) (*Record, error) {
	for _, r := range s.records[channel] {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) SetImportance(ctx context.Context, channel, id string, importance float64) error {
	rec, _ := s.Get(ctx, channel, id)
	if rec == nil {
		return nil
	}
	return s.Store(ctx, NewRecordFromStorage(
		rec.ID(), rec.Channel(), rec.UserID(), rec.Role(), rec.Content(),
		rec.CreatedAt(), importance, rec.Kind(), rec.Provenance(), rec.Embedding(),
	))
}

func (s *fakeStore) Channels() []string {
	var out []string
	for ch := range s.records {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// scriptedChat returns canned replies in order, then repeats the last one.
type scriptedChat struct {
	replies  []string
	requests []*llm.Request
	err      error
}

func (c *scriptedChat) Complete(_ context.Context, req *llm.Request) (string, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return "", nil
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply, nil
}

func newTestManager(store Store) *Manager {
	return NewManager(store, &fakeEmbedder{dims: 64}, nil, ManagerConfig{
		TopK:           5,
		CandidateLimit: 50,
		RecencyDecay:   0.995,
	})
}

func TestRecordExchangeStoresBothSides(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	at := time.Now()

	recs, err := m.RecordExchange(context.Background(), "c", "alice", "shall we ship friday?", at, "Friday works for everyone.")
	if err != nil {
		t.Fatalf("RecordExchange: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	user, asst := recs[0], recs[1]
	if user.Role() != "user" || user.UserID() != "alice" {
		t.Errorf("user record: role=%q user=%q", user.Role(), user.UserID())
	}
	if asst.Role() != "assistant" {
		t.Errorf("assistant record role = %q", asst.Role())
	}
	if !asst.CreatedAt().Equal(at.Add(time.Microsecond)) {
		t.Errorf("assistant timestamp = %v, want user ts + 1µs", asst.CreatedAt())
	}
	if user.Embedding() == nil || asst.Embedding() == nil {
		t.Error("records stored without embeddings")
	}
	if user.Importance() <= 0 || user.Importance() > 1 {
		t.Errorf("user importance out of range: %v", user.Importance())
	}
}

func TestRetrieveRanksIdenticalTextFirst(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	at := time.Now().Add(-time.Hour)

	if _, err := m.RecordExchange(context.Background(), "c", "alice", "the deploy target is eu-west", at, "Noted."); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RecordExchange(context.Background(), "c", "bob", "lunch?", at.Add(time.Minute), "Sure."); err != nil {
		t.Fatal(err)
	}

	// The query matches the stored user record's embedding text exactly.
	top, err := m.Retrieve(context.Background(), "c", "alice: the deploy target is eu-west")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(top) == 0 {
		t.Fatal("no records retrieved")
	}
	if top[0].Record.Content() != "the deploy target is eu-west" {
		t.Errorf("best match content = %q", top[0].Record.Content())
	}
	for i := 1; i < len(top); i++ {
		if top[i].Score > top[i-1].Score {
			t.Error("retrieval not in descending score order")
		}
	}
}

func TestRetrieveHonorsTopK(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store) // TopK = 5
	at := time.Now()

	for i := 0; i < 10; i++ {
		if _, err := m.RecordExchange(context.Background(), "c", "u", "message", at.Add(time.Duration(i)*time.Second), "reply"); err != nil {
			t.Fatal(err)
		}
	}

	top, err := m.Retrieve(context.Background(), "c", "message")
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 5 {
		t.Errorf("retrieved %d records, want TopK=5", len(top))
	}
}

func TestRetrieveEmptyChannel(t *testing.T) {
	m := newTestManager(newFakeStore())
	top, err := m.Retrieve(context.Background(), "empty", "anything")
	if err != nil {
		t.Fatal(err)
	}
	if top != nil {
		t.Errorf("expected nil for empty channel, got %d", len(top))
	}
}

func TestFormatContextChronological(t *testing.T) {
	now := time.Now()
	older := NewObservation("c", "alice", "user", "first", now.Add(-2*time.Hour), 0.5)
	newer := NewObservation("c", "bob", "user", "second", now.Add(-1*time.Hour), 0.5)

	// Score order has the newer record first; the rendered context must
	// flip back to timeline order.
	out := FormatContext([]Scored{{Record: newer, Score: 2}, {Record: older, Score: 1}})
	firstIdx := indexOf(out, "first")
	secondIdx := indexOf(out, "second")
	if firstIdx < 0 || secondIdx < 0 {
		t.Fatalf("formatted context missing records:\n%s", out)
	}
	if firstIdx > secondIdx {
		t.Error("context not in chronological order")
	}

	if FormatContext(nil) != "" {
		t.Error("empty retrieval should format to empty string")
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestLLMImportanceRating(t *testing.T) {
	chat := &scriptedChat{replies: []string{"8"}}
	m := NewManager(newFakeStore(), &fakeEmbedder{dims: 8}, chat, ManagerConfig{RatingModel: "test-model"})

	got := m.rateImportance(context.Background(), "we signed the contract")
	if got != 0.8 {
		t.Errorf("rated importance = %v, want 0.8", got)
	}
	if len(chat.requests) != 1 || chat.requests[0].Model != "test-model" {
		t.Errorf("rating request not sent with configured model")
	}
}

func TestImportanceRatingFallsBackToHeuristic(t *testing.T) {
	chat := &scriptedChat{replies: []string{"not a number"}}
	m := NewManager(newFakeStore(), &fakeEmbedder{dims: 8}, chat, ManagerConfig{RatingModel: "test-model"})

	got := m.rateImportance(context.Background(), "ok")
	want := assessImportance("ok")
	if got != want {
		t.Errorf("fallback importance = %v, want heuristic %v", got, want)
	}
}

func TestAssessImportanceHeuristic(t *testing.T) {
	if got := assessImportance("ok"); got != 0.1 {
		t.Errorf("bare ack importance = %v, want 0.1", got)
	}
	ack := assessImportance("thanks")
	decision := assessImportance("we decided to migrate the database next week, remember the deadline is friday?")
	if decision <= ack {
		t.Errorf("decision (%v) should outrank ack (%v)", decision, ack)
	}
	if decision > 1 {
		t.Errorf("importance exceeds 1: %v", decision)
	}
}
