package queue

import (
	"path/filepath"
	"testing"

	"github.com/aminsmd/ai-chat-app/internal/store"
)

func newQueue(t *testing.T) (*Ingestion, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chat_history.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestAcceptStampsArrivalTime(t *testing.T) {
	q, _ := newQueue(t)

	m, err := q.Accept(store.Message{UserID: "u", ChannelName: "c", Content: "hi"})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if m.TS == 0 {
		t.Error("expected arrival timestamp to be stamped")
	}
	if m.Role != "user" {
		t.Errorf("role = %q, want user", m.Role)
	}
}

func TestAcceptKeepsUpstreamTimestamp(t *testing.T) {
	q, _ := newQueue(t)

	m, err := q.Accept(store.Message{UserID: "u", ChannelName: "c", Content: "hi", TS: 42.5})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if m.TS != 42.5 {
		t.Errorf("TS = %v, want upstream 42.5", m.TS)
	}
}

func TestNextIsNonDecreasingAndLogsHistory(t *testing.T) {
	q, s := newQueue(t)

	for _, ts := range []float64{5, 1, 3, 2, 4} {
		if _, err := q.Accept(store.Message{UserID: "u", ChannelName: "c", Content: "m", TS: ts}); err != nil {
			t.Fatal(err)
		}
	}

	var prev float64 = -1
	for i := 0; i < 5; i++ {
		m, err := q.Next("c")
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if m == nil {
			t.Fatalf("Next #%d: unexpected empty queue", i)
		}
		if m.TS < prev {
			t.Errorf("timestamp order violated: %v after %v", m.TS, prev)
		}
		prev = m.TS
	}

	// Every dequeued message must be in history.
	hist, err := s.GetHistory(store.HistoryQuery{Channel: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 5 {
		t.Errorf("history rows = %d, want 5", len(hist))
	}

	m, err := q.Next("c")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Error("expected nil from empty queue")
	}
}
