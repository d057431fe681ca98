package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aminsmd/ai-chat-app/internal/llm"
)

// ManagerConfig holds retrieval and write-path tuning.
type ManagerConfig struct {
	// TopK is how many records Retrieve returns after scoring.
	TopK int

	// CandidateLimit is how many similarity candidates to pull from the
	// store before scoring. Must be >= TopK or high-importance but
	// less-similar records never get a chance.
	CandidateLimit int

	// Weights and RecencyDecay parameterize the scorer.
	Weights      Weights
	RecencyDecay float64

	// RatingModel, when set, asks the LLM to rate each observation's
	// importance. Empty falls back to the heuristic only.
	RatingModel string
}

// Manager orchestrates the memory stream: embedding and storing observations
// on the write path, scored retrieval on the read path.
type Manager struct {
	store    Store
	embedder Embedder
	chat     llm.Chat // may be nil; importance rating then uses the heuristic
	scorer   *Scorer
	cfg      ManagerConfig
	now      func() time.Time
}

// NewManager creates a manager. chat may be nil to disable LLM importance
// rating.
func NewManager(store Store, embedder Embedder, chat llm.Chat, cfg ManagerConfig) *Manager {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.CandidateLimit < cfg.TopK {
		cfg.CandidateLimit = cfg.TopK * 5
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		chat:     chat,
		scorer:   NewScorer(cfg.Weights, cfg.RecencyDecay),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Store exposes the underlying vector store for maintenance jobs.
func (m *Manager) Store() Store { return m.store }

// Retrieve embeds the query, pulls similarity candidates for the channel, and
// returns the top-K by combined recency/relevance/importance score, highest
// first.
func (m *Manager) Retrieve(ctx context.Context, channel, query string) ([]Scored, error) {
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cands, err := m.store.Query(ctx, channel, embedding, m.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	top := m.scorer.TopK(cands, m.cfg.TopK, m.now())
	log.Printf("[MEMORY] Retrieved %d/%d records for channel=%s", len(top), len(cands), channel)
	return top, nil
}

// FormatContext renders retrieved records for prompt injection. Records are
// re-ordered chronologically so the model reads them as a timeline, not in
// score order.
func FormatContext(scored []Scored) string {
	if len(scored) == 0 {
		return ""
	}
	ordered := make([]Scored, len(scored))
	copy(ordered, scored)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Record.CreatedAt().Before(ordered[j].Record.CreatedAt())
	})

	var sb strings.Builder
	sb.WriteString("Relevant memories from this channel:\n")
	for _, s := range ordered {
		sb.WriteString("- ")
		sb.WriteString(s.Record.FormatForPrompt())
		sb.WriteString("\n")
	}
	return sb.String()
}

// RecordExchange stores one user/assistant exchange as two observations. The
// assistant record is stamped one microsecond after the user's, preserving
// strict ordering when both share a wall-clock second. Returns the stored
// records.
func (m *Manager) RecordExchange(ctx context.Context, channel, userID, userMessage string, userAt time.Time, response string) ([]*Record, error) {
	userRec := NewObservation(channel, userID, "user", userMessage, userAt, m.rateImportance(ctx, userMessage))
	asstRec := NewObservation(channel, "", "assistant", response, userAt.Add(time.Microsecond), m.rateImportance(ctx, response))

	out := make([]*Record, 0, 2)
	for _, rec := range []*Record{userRec, asstRec} {
		embedding, err := m.embedder.Embed(ctx, rec.FormatForEmbedding())
		if err != nil {
			return out, fmt.Errorf("embed %s record: %w", rec.Role(), err)
		}
		rec.SetEmbedding(embedding)
		if err := m.store.Store(ctx, rec); err != nil {
			return out, fmt.Errorf("store %s record: %w", rec.Role(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// AddReflection embeds and stores a reflection record.
func (m *Manager) AddReflection(ctx context.Context, rec *Record) error {
	embedding, err := m.embedder.Embed(ctx, rec.FormatForEmbedding())
	if err != nil {
		return fmt.Errorf("embed reflection: %w", err)
	}
	rec.SetEmbedding(embedding)
	if err := m.store.Store(ctx, rec); err != nil {
		return fmt.Errorf("store reflection: %w", err)
	}
	return nil
}

const ratingPrompt = `On a scale of 1 to 10, where 1 is mundane small talk (greetings, acknowledgements) and 10 is a significant statement (decisions, commitments, personal facts, strong opinions), rate the importance of the following chat message. Reply with a single integer only.

Message: %s`

// rateImportance asks the LLM for a 1-10 importance rating, normalized to
// [0,1]. Any failure falls back to the keyword heuristic so the write path
// never blocks on the rating call.
func (m *Manager) rateImportance(ctx context.Context, text string) float64 {
	if m.chat == nil || m.cfg.RatingModel == "" {
		return assessImportance(text)
	}

	resp, err := m.chat.Complete(ctx, &llm.Request{
		Model:     m.cfg.RatingModel,
		MaxTokens: 8,
		Messages:  []llm.Message{{Role: "user", Content: fmt.Sprintf(ratingPrompt, text)}},
	})
	if err != nil {
		log.Printf("[MEMORY] Importance rating failed, using heuristic: %v", err)
		return assessImportance(text)
	}

	n, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil || n < 1 || n > 10 {
		log.Printf("[MEMORY] Unparseable importance rating %q, using heuristic", resp)
		return assessImportance(text)
	}
	return float64(n) / 10.0
}

// assessImportance scores a message [0.0-1.0] without an LLM call.
// Longer, question-bearing, or decision-bearing messages score higher.
func assessImportance(text string) float64 {
	importance := 0.3 // Base

	lower := strings.ToLower(text)

	// Questions invite follow-up
	if strings.Contains(text, "?") {
		importance += 0.15
	}

	// Decision and preference markers
	for _, marker := range []string{"decided", "will ", "should ", "agree", "prefer", "important", "deadline", "remember"} {
		if strings.Contains(lower, marker) {
			importance += 0.15
			break
		}
	}

	// Substantive messages carry more context
	if len(text) > 120 {
		importance += 0.15
	}

	// Bare acknowledgements are noise
	trimmed := strings.TrimSpace(lower)
	for _, ack := range []string{"ok", "okay", "thanks", "thank you", "yes", "no", "sure", "lol"} {
		if trimmed == ack {
			importance = 0.1
			break
		}
	}

	return clamp01(importance)
}
