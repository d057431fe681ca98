package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aminsmd/ai-chat-app/internal/observability"
	"github.com/aminsmd/ai-chat-app/internal/store"
)

type captureSink struct {
	saved []store.LongTermMemory
}

func (c *captureSink) SaveLongTermMemory(ltm store.LongTermMemory) (int64, error) {
	c.saved = append(c.saved, ltm)
	return int64(len(c.saved)), nil
}

// seedChannel stores n observations directly, bypassing the reflector.
func seedChannel(t *testing.T, m *Manager, channel string, n int) {
	t.Helper()
	at := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		rec := NewObservation(channel, "alice", "user", fmt.Sprintf("note %d about the launch plan", i), at.Add(time.Duration(i)*time.Minute), 0.5)
		vec, err := m.embedder.Embed(context.Background(), rec.FormatForEmbedding())
		if err != nil {
			t.Fatal(err)
		}
		rec.SetEmbedding(vec)
		if err := m.store.Store(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestReflector(m *Manager, chat *scriptedChat, sink LongTermSink, threshold int) *Reflector {
	return NewReflector(m, chat, sink, nil, ReflectorConfig{
		Threshold:   threshold,
		FocalPoints: 2,
		PerFocal:    3,
		SampleSize:  50,
		Model:       "test-model",
		Importance:  0.8,
	})
}

func reflectionReplies() []string {
	return []string{
		"What is the launch plan?\nWho is driving it?",
		`[{"insight": "Alice is coordinating the launch", "evidence": [1, 2]}]`,
	}
}

func TestReflectorFiresAtThresholdAndResets(t *testing.T) {
	m := newTestManager(newFakeStore())
	seedChannel(t, m, "c", 10)
	chat := &scriptedChat{replies: reflectionReplies()}
	r := newTestReflector(m, chat, nil, 4)

	r.Observe(context.Background(), "c", 2)
	if len(chat.requests) != 0 {
		t.Fatal("pass fired below threshold")
	}
	if r.Count("c") != 2 {
		t.Errorf("count = %d, want 2", r.Count("c"))
	}

	r.Observe(context.Background(), "c", 2)
	if len(chat.requests) == 0 {
		t.Fatal("pass did not fire at threshold")
	}
	if r.Count("c") != 0 {
		t.Errorf("count = %d after pass, want 0", r.Count("c"))
	}

	// The next increment starts a fresh cycle.
	calls := len(chat.requests)
	r.Observe(context.Background(), "c", 2)
	if len(chat.requests) != calls {
		t.Error("pass fired again before reaching threshold")
	}
}

func TestReflectorCountersArePerChannel(t *testing.T) {
	m := newTestManager(newFakeStore())
	chat := &scriptedChat{replies: reflectionReplies()}
	r := newTestReflector(m, chat, nil, 4)

	r.Observe(context.Background(), "a", 3)
	r.Observe(context.Background(), "b", 3)
	if len(chat.requests) != 0 {
		t.Error("counters leaked across channels")
	}
}

func TestReflectionStoresInsightWithProvenance(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	seedChannel(t, m, "c", 6)
	chat := &scriptedChat{replies: reflectionReplies()}
	sink := &captureSink{}
	r := newTestReflector(m, chat, sink, 2)

	r.Observe(context.Background(), "c", 2)

	var reflections []*Record
	for _, rec := range fs.records["c"] {
		if rec.Kind() == KindReflection {
			reflections = append(reflections, rec)
		}
	}
	if len(reflections) == 0 {
		t.Fatal("no reflection records stored")
	}
	for _, ref := range reflections {
		if ref.Content() != "Alice is coordinating the launch" {
			t.Errorf("insight content = %q", ref.Content())
		}
		if ref.Importance() != 0.8 {
			t.Errorf("reflection importance = %v, want 0.8", ref.Importance())
		}
		if len(ref.Provenance()) == 0 {
			t.Fatal("reflection has no provenance")
		}
		for _, id := range ref.Provenance() {
			got, err := fs.Get(context.Background(), "c", id)
			if err != nil {
				t.Fatal(err)
			}
			if got == nil {
				t.Errorf("provenance cites unknown record %s", id)
			}
		}
		if ref.Embedding() == nil {
			t.Error("reflection stored without embedding")
		}
	}

	if len(sink.saved) != 1 {
		t.Fatalf("long-term rows = %d, want 1", len(sink.saved))
	}
	if sink.saved[0].ChannelName != "c" || len(sink.saved[0].Insights) == 0 {
		t.Errorf("long-term row = %+v", sink.saved[0])
	}
	if len(sink.saved[0].Participants) == 0 || sink.saved[0].Participants[0] != "alice" {
		t.Errorf("participants = %v", sink.saved[0].Participants)
	}
}

func TestReflectionPassIncrementsCounter(t *testing.T) {
	m := newTestManager(newFakeStore())
	seedChannel(t, m, "c", 6)
	chat := &scriptedChat{replies: reflectionReplies()}
	metrics := observability.NewMetrics("reflecttest")
	r := NewReflector(m, chat, nil, metrics, ReflectorConfig{
		Threshold:   2,
		FocalPoints: 2,
		PerFocal:    3,
		Model:       "test-model",
	})

	r.Observe(context.Background(), "c", 2)

	if got := testutil.ToFloat64(metrics.Reflections.WithLabelValues("c")); got != 1 {
		t.Errorf("reflections counter = %v, want 1", got)
	}
}

func TestReflectionAbortsSilentlyOnLLMFailure(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	seedChannel(t, m, "c", 6)
	chat := &scriptedChat{err: fmt.Errorf("api down")}
	r := newTestReflector(m, chat, nil, 2)

	// Must not panic or store anything.
	r.Observe(context.Background(), "c", 2)

	for _, rec := range fs.records["c"] {
		if rec.Kind() == KindReflection {
			t.Fatal("reflection stored despite LLM failure")
		}
	}
	if r.Count("c") != 0 {
		t.Error("counter should reset even when the pass fails")
	}
}

func TestReflectionOnEmptyChannelIsNoop(t *testing.T) {
	m := newTestManager(newFakeStore())
	chat := &scriptedChat{replies: reflectionReplies()}
	r := newTestReflector(m, chat, nil, 2)

	r.Observe(context.Background(), "empty", 2)
	if len(chat.requests) != 0 {
		t.Error("LLM called for a channel with no records")
	}
}

func TestParseInsightsToleratesFences(t *testing.T) {
	resp := "Here you go:\n```json\n[{\"insight\": \"x\", \"evidence\": [1]}]\n```"
	got, err := parseInsights(resp)
	if err != nil {
		t.Fatalf("parseInsights: %v", err)
	}
	if len(got) != 1 || got[0].Insight != "x" || got[0].Evidence[0] != 1 {
		t.Errorf("parsed = %+v", got)
	}
}

func TestCitedIDsDropsOutOfRange(t *testing.T) {
	now := time.Now()
	evidence := []*Record{
		NewObservation("c", "u", "user", "a", now, 0.5),
		NewObservation("c", "u", "user", "b", now, 0.5),
	}
	ids := citedIDs([]int{1, 5, 2, 0}, evidence)
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	if ids[0] != evidence[0].ID() || ids[1] != evidence[1].ID() {
		t.Error("cited ids map to wrong records")
	}
}
