// Package queue orders inbound chat messages for the response pipeline.
//
// The chronological guarantee is a sort-by-timestamp-then-process policy over
// the new_msg_queue table: every message is stamped on arrival and dequeued
// oldest-first, so hand-off to the responder is non-decreasing in timestamp.
package queue

import (
	"time"

	"github.com/aminsmd/ai-chat-app/internal/store"
)

// Ingestion accepts messages and hands them off in chronological order.
type Ingestion struct {
	store *store.Store
	now   func() time.Time
}

// New creates an ingestion queue over the relational store.
func New(s *store.Store) *Ingestion {
	return &Ingestion{store: s, now: time.Now}
}

// Accept stamps the message with its arrival time (unless the caller already
// carries an upstream timestamp) and enqueues it.
func (q *Ingestion) Accept(m store.Message) (store.Message, error) {
	if m.TS == 0 {
		m.TS = float64(q.now().UnixNano()) / 1e9
	}
	if m.Role == "" {
		m.Role = "user"
	}
	if err := q.store.Enqueue(m); err != nil {
		return store.Message{}, err
	}
	return m, nil
}

// Next removes the oldest pending message for the channel and copies it to the
// history log. Returns nil when nothing is pending.
func (q *Ingestion) Next(channel string) (*store.Message, error) {
	m, err := q.store.DequeueOldest(channel)
	if err != nil || m == nil {
		return nil, err
	}
	if err := q.store.SaveHistory(*m); err != nil {
		return nil, err
	}
	return m, nil
}

// Depth reports how many messages are pending for the channel.
func (q *Ingestion) Depth(channel string) (int, error) {
	return q.store.QueueDepth(channel)
}
