package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aminsmd/ai-chat-app/internal/llm"
	"github.com/aminsmd/ai-chat-app/internal/observability"
	"github.com/aminsmd/ai-chat-app/internal/store"
)

// LongTermSink receives a relational copy of each reflection pass so insights
// stay queryable outside the vector index.
type LongTermSink interface {
	SaveLongTermMemory(ltm store.LongTermMemory) (int64, error)
}

// ReflectorConfig tunes the reflection engine.
type ReflectorConfig struct {
	// Threshold is how many new observations a channel accumulates before
	// a reflection pass fires.
	Threshold int

	// FocalPoints is how many salient questions to extract per pass.
	FocalPoints int

	// PerFocal is how many evidence records to retrieve per focal point.
	PerFocal int

	// SampleSize is how many recent records feed the focal-point prompt.
	SampleSize int

	// Model is the LLM model used for both reflection prompts.
	Model string

	// Importance assigned to stored reflections. Elevated so insights
	// outrank routine chatter at retrieval time.
	Importance float64
}

// Reflector watches per-channel observation counts and periodically distills
// recent memory into insight records. Every insight carries provenance: the
// IDs of the records it was inferred from.
//
// Counters are process-local; a restart starts counting from zero again.
type Reflector struct {
	manager *Manager
	chat    llm.Chat
	sink    LongTermSink           // may be nil
	metrics *observability.Metrics // may be nil
	cfg     ReflectorConfig
	now     func() time.Time

	mu       sync.Mutex
	counters map[string]int
}

// NewReflector creates a reflector over the manager's memory stream. sink and
// metrics may be nil.
func NewReflector(manager *Manager, chat llm.Chat, sink LongTermSink, metrics *observability.Metrics, cfg ReflectorConfig) *Reflector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 50
	}
	if cfg.FocalPoints <= 0 {
		cfg.FocalPoints = 3
	}
	if cfg.PerFocal <= 0 {
		cfg.PerFocal = 5
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if cfg.Importance <= 0 {
		cfg.Importance = 0.8
	}
	return &Reflector{
		manager:  manager,
		chat:     chat,
		sink:     sink,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
		counters: make(map[string]int),
	}
}

// Observe notes that n new observations entered the channel's stream. When
// the accumulated count reaches the threshold the counter resets and a
// reflection pass runs; failures inside the pass are logged, never surfaced,
// so reflection can never break message handling.
func (r *Reflector) Observe(ctx context.Context, channel string, n int) {
	r.mu.Lock()
	r.counters[channel] += n
	fire := r.counters[channel] >= r.cfg.Threshold
	if fire {
		r.counters[channel] = 0
	}
	r.mu.Unlock()

	if !fire {
		return
	}
	if err := r.reflect(ctx, channel); err != nil {
		log.Printf("[REFLECT] Pass aborted for channel=%s: %v", channel, err)
	}
}

// Count reports the channel's current observation count. Test hook.
func (r *Reflector) Count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[channel]
}

const focalPrompt = `Below are recent statements from a chat channel:

%s

Given only the statements above, what are the %d most salient high-level questions we can answer about the people and topics in this conversation? Reply with one question per line and nothing else.`

const insightPrompt = `Statements about a chat channel:

%s

What high-level insight can you infer from the statements above that answers this question: %s

Respond with a JSON array (no other text) of objects of the form {"insight": "...", "evidence": [statement numbers the insight is based on]}.`

// reflect runs one full pass: focal points, evidence retrieval per focal
// point, insight synthesis, and storage with provenance.
func (r *Reflector) reflect(ctx context.Context, channel string) error {
	recent, err := r.manager.store.Recent(ctx, channel, r.cfg.SampleSize)
	if err != nil {
		return fmt.Errorf("recent records: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}

	log.Printf("[REFLECT] Starting pass for channel=%s over %d records", channel, len(recent))

	focals, err := r.focalPoints(ctx, recent)
	if err != nil {
		return fmt.Errorf("focal points: %w", err)
	}

	stored := 0
	var insights []string
	for _, question := range focals {
		n, insightTexts, err := r.reflectOn(ctx, channel, question)
		if err != nil {
			log.Printf("[REFLECT] Skipping focal point %q: %v", question, err)
			continue
		}
		stored += n
		insights = append(insights, insightTexts...)
	}
	log.Printf("[REFLECT] Stored %d insights for channel=%s", stored, channel)
	if r.metrics != nil {
		r.metrics.Reflections.WithLabelValues(channel).Inc()
	}

	if r.sink != nil && len(insights) > 0 {
		r.saveLongTerm(channel, recent, insights)
	}
	return nil
}

// focalPoints asks the LLM for the most salient questions over the sample.
func (r *Reflector) focalPoints(ctx context.Context, recent []*Record) ([]string, error) {
	resp, err := r.chat.Complete(ctx, &llm.Request{
		Model:     r.cfg.Model,
		MaxTokens: 512,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(focalPrompt, numberRecords(recent), r.cfg.FocalPoints),
		}},
	})
	if err != nil {
		return nil, err
	}

	var focals []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "0123456789.-) "))
		if line == "" {
			continue
		}
		focals = append(focals, line)
		if len(focals) == r.cfg.FocalPoints {
			break
		}
	}
	if len(focals) == 0 {
		return nil, fmt.Errorf("no focal points in response %q", truncateLog(resp, 80))
	}
	return focals, nil
}

// reflectOn retrieves evidence for one focal question, synthesizes insights,
// and stores them as reflection records. Returns the number stored and the
// insight texts.
func (r *Reflector) reflectOn(ctx context.Context, channel, question string) (int, []string, error) {
	embedding, err := r.manager.embedder.Embed(ctx, question)
	if err != nil {
		return 0, nil, fmt.Errorf("embed focal point: %w", err)
	}
	cands, err := r.manager.store.Query(ctx, channel, embedding, r.cfg.PerFocal)
	if err != nil {
		return 0, nil, fmt.Errorf("query evidence: %w", err)
	}
	if len(cands) == 0 {
		return 0, nil, nil
	}

	evidence := make([]*Record, len(cands))
	for i, c := range cands {
		evidence[i] = c.Record
	}

	resp, err := r.chat.Complete(ctx, &llm.Request{
		Model:     r.cfg.Model,
		MaxTokens: 1024,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(insightPrompt, numberRecords(evidence), question),
		}},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("insight completion: %w", err)
	}

	parsed, err := parseInsights(resp)
	if err != nil {
		return 0, nil, fmt.Errorf("parse insights: %w", err)
	}

	stored := 0
	var texts []string
	for _, ins := range parsed {
		if strings.TrimSpace(ins.Insight) == "" {
			continue
		}
		provenance := citedIDs(ins.Evidence, evidence)
		if len(provenance) == 0 {
			// Uncited insights are unverifiable; fall back to citing the
			// whole evidence set rather than dropping provenance.
			for _, rec := range evidence {
				provenance = append(provenance, rec.ID())
			}
		}
		rec := NewReflection(channel, ins.Insight, provenance, r.now(), r.cfg.Importance)
		if err := r.manager.AddReflection(ctx, rec); err != nil {
			log.Printf("[REFLECT] Failed to store insight: %v", err)
			continue
		}
		stored++
		texts = append(texts, ins.Insight)
	}
	return stored, texts, nil
}

// saveLongTerm mirrors the pass into the relational long_term_memories table.
func (r *Reflector) saveLongTerm(channel string, recent []*Record, insights []string) {
	participants := map[string]bool{}
	for _, rec := range recent {
		if rec.UserID() != "" {
			participants[rec.UserID()] = true
		}
	}
	var names []string
	for p := range participants {
		names = append(names, p)
	}

	ltm := store.LongTermMemory{
		ChannelName:       channel,
		Timestamp:         float64(r.now().UnixNano()) / 1e9,
		Summary:           fmt.Sprintf("Reflection over %d recent messages", len(recent)),
		Insights:          insights,
		Participants:      names,
		ConversationStart: float64(recent[0].CreatedAt().UnixNano()) / 1e9,
		ConversationEnd:   float64(recent[len(recent)-1].CreatedAt().UnixNano()) / 1e9,
	}
	if _, err := r.sink.SaveLongTermMemory(ltm); err != nil {
		log.Printf("[REFLECT] Failed to save long-term memory row: %v", err)
	}
}

type insight struct {
	Insight  string `json:"insight"`
	Evidence []int  `json:"evidence"`
}

// parseInsights extracts the JSON insight array, tolerating code fences and
// surrounding prose.
func parseInsights(resp string) ([]insight, error) {
	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in %q", truncateLog(resp, 80))
	}
	var out []insight
	if err := json.Unmarshal([]byte(resp[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// citedIDs maps 1-based statement numbers back to record IDs, dropping
// out-of-range citations.
func citedIDs(nums []int, evidence []*Record) []string {
	var ids []string
	for _, n := range nums {
		if n >= 1 && n <= len(evidence) {
			ids = append(ids, evidence[n-1].ID())
		}
	}
	return ids
}

// numberRecords renders records as a numbered statement list for prompts.
func numberRecords(recs []*Record) string {
	var sb strings.Builder
	for i, rec := range recs {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, rec.FormatForPrompt())
	}
	return sb.String()
}

func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
