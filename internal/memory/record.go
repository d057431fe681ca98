package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record kinds.
const (
	KindMemory     = "memory"     // a message seen in the channel
	KindReflection = "reflection" // an insight synthesized from memories
)

// Record is one entry in a channel's memory stream: either an observation of
// a message, or a reflection derived from earlier records. Reflections carry
// provenance (the IDs of the records they were drawn from) so every insight
// can be traced back to evidence.
type Record struct {
	id         string
	channel    string
	userID     string
	role       string
	content    string
	createdAt  time.Time
	importance float64
	kind       string
	provenance []string
	embedding  []float32
}

// NewObservation creates an observation record for a channel message.
func NewObservation(channel, userID, role, content string, at time.Time, importance float64) *Record {
	return &Record{
		id:         uuid.New().String(),
		channel:    channel,
		userID:     userID,
		role:       role,
		content:    content,
		createdAt:  at,
		importance: clamp01(importance),
		kind:       KindMemory,
	}
}

// NewReflection creates a reflection record citing the records it was drawn
// from. Reflections enter the stream like any other record, but with elevated
// importance so they survive retrieval ranking.
func NewReflection(channel, insight string, evidence []string, at time.Time, importance float64) *Record {
	return &Record{
		id:         uuid.New().String(),
		channel:    channel,
		role:       "assistant",
		content:    insight,
		createdAt:  at,
		importance: clamp01(importance),
		kind:       KindReflection,
		provenance: evidence,
	}
}

// NewRecordFromStorage rebuilds a record from stored data.
// Used by Store implementations when deserializing.
func NewRecordFromStorage(
	id string,
	channel string,
	userID string,
	role string,
	content string,
	createdAt time.Time,
	importance float64,
	kind string,
	provenance []string,
	embedding []float32,
) *Record {
	return &Record{
		id:         id,
		channel:    channel,
		userID:     userID,
		role:       role,
		content:    content,
		createdAt:  createdAt,
		importance: importance,
		kind:       kind,
		provenance: provenance,
		embedding:  embedding,
	}
}

func (r *Record) ID() string               { return r.id }
func (r *Record) Channel() string          { return r.channel }
func (r *Record) UserID() string           { return r.userID }
func (r *Record) Role() string             { return r.role }
func (r *Record) Content() string          { return r.content }
func (r *Record) CreatedAt() time.Time     { return r.createdAt }
func (r *Record) Importance() float64      { return r.importance }
func (r *Record) Kind() string             { return r.kind }
func (r *Record) Provenance() []string     { return r.provenance }
func (r *Record) Embedding() []float32     { return r.embedding }
func (r *Record) SetEmbedding(e []float32) { r.embedding = e }

// FormatForEmbedding returns the text representation used to embed the record.
func (r *Record) FormatForEmbedding() string {
	if r.kind == KindReflection {
		return "Insight: " + r.content
	}
	if r.userID != "" {
		return fmt.Sprintf("%s: %s", r.userID, r.content)
	}
	return r.content
}

// FormatForPrompt renders the record for context injection.
func (r *Record) FormatForPrompt() string {
	ts := r.createdAt.UTC().Format("2006-01-02 15:04")
	if r.kind == KindReflection {
		return fmt.Sprintf("[%s] (insight) %s", ts, r.content)
	}
	who := r.userID
	if who == "" {
		who = r.role
	}
	return fmt.Sprintf("[%s] %s: %s", ts, who, strings.TrimSpace(r.content))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
