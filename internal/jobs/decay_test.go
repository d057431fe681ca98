package jobs

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aminsmd/ai-chat-app/internal/memory"
	"github.com/aminsmd/ai-chat-app/internal/memory/embedder/mock"
	vecstore "github.com/aminsmd/ai-chat-app/internal/memory/store/chromem"
)

func seedRecord(t *testing.T, s *vecstore.Store, channel string, importance float64) *memory.Record {
	t.Helper()
	rec := memory.NewObservation(channel, "u", "user", "m", time.Now(), importance)
	vec, err := mock.New(0).Embed(context.Background(), rec.FormatForEmbedding())
	if err != nil {
		t.Fatal(err)
	}
	rec.SetEmbedding(vec)
	if err := s.Store(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestDecayMultipliesAndFloors(t *testing.T) {
	s, err := vecstore.New("")
	if err != nil {
		t.Fatal(err)
	}
	high := seedRecord(t, s, "c", 0.5)
	low := seedRecord(t, s, "c", 0.051)

	d, err := NewDecay(s, "@hourly", 0.98, 0.05)
	if err != nil {
		t.Fatalf("NewDecay: %v", err)
	}
	d.Run()

	got, err := s.Get(context.Background(), "c", high.ID())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.Importance()-0.49) > 1e-6 {
		t.Errorf("importance = %v, want 0.49", got.Importance())
	}

	// Repeated passes floor out instead of going to zero.
	for i := 0; i < 100; i++ {
		d.Run()
	}
	got, err = s.Get(context.Background(), "c", low.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Importance() < 0.05-1e-9 {
		t.Errorf("importance %v fell below the floor", got.Importance())
	}
}

func TestDecayCoversAllChannels(t *testing.T) {
	s, err := vecstore.New("")
	if err != nil {
		t.Fatal(err)
	}
	a := seedRecord(t, s, "a", 0.5)
	b := seedRecord(t, s, "b", 0.5)

	d, err := NewDecay(s, "@hourly", 0.9, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	d.Run()

	for _, tc := range []struct {
		channel string
		id      string
	}{{"a", a.ID()}, {"b", b.ID()}} {
		got, err := s.Get(context.Background(), tc.channel, tc.id)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got.Importance()-0.45) > 1e-6 {
			t.Errorf("channel %s importance = %v, want 0.45", tc.channel, got.Importance())
		}
	}
}

func TestNewDecayValidates(t *testing.T) {
	s, err := vecstore.New("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewDecay(s, "@hourly", 1.5, 0.05); err == nil {
		t.Error("factor > 1 accepted")
	}
	if _, err := NewDecay(s, "not a schedule", 0.98, 0.05); err == nil {
		t.Error("bad schedule accepted")
	}
}
