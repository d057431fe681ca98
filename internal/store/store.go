// Package store is the relational side of persistence: users, personas, the
// inbound message queue, raw history, per-response context snapshots, and
// long-term memory summaries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Message is a single chat message. Rows are inserted once and never mutated.
type Message struct {
	ID          int64
	UserID      string
	ChannelName string
	Content     string
	TS          float64 // unix seconds, fractional
	Role        string  // "user" or "assistant"
}

// PersonaRecord is the persisted form of a channel persona.
type PersonaRecord struct {
	ChannelName             string
	Name                    string
	Description             string
	Traits                  map[string]map[string]string
	CommunicationStyle      map[string]float64
	ResponseCharacteristics map[string]string
	Active                  bool
	UsageCount              int64
	CreatedAt               float64
	UpdatedAt               float64
}

// ContextEntry records what the responder saw and produced for one message.
type ContextEntry struct {
	ID               int64
	MessageTS        float64
	ChannelName      string
	UserID           string
	MessageContent   string
	Context          string // JSON-encoded prompt context
	LongTermMemoryID sql.NullInt64
	Response         string
	ResponseType     string
}

// LongTermMemory is a reflection summary row.
type LongTermMemory struct {
	ID                int64
	ChannelName       string
	Timestamp         float64
	Summary           string
	Insights          []string
	KeyPoints         []string
	Participants      []string
	ConversationStart float64
	ConversationEnd   float64
}

// HistoryQuery filters GetHistory results.
type HistoryQuery struct {
	StartTime float64
	EndTime   float64
	Channel   string
	Users     []string
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; serialize access through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			first_seen REAL NOT NULL,
			last_seen REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS personas (
			channel_name TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			traits TEXT NOT NULL,
			communication_style TEXT NOT NULL,
			response_characteristics TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at REAL NOT NULL,
			updated_at REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS new_msg_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			content TEXT NOT NULL,
			ts REAL NOT NULL,
			role TEXT DEFAULT 'user'
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			content TEXT NOT NULL,
			ts REAL NOT NULL,
			role TEXT DEFAULT 'user'
		)`,
		`CREATE TABLE IF NOT EXISTS context_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_ts REAL NOT NULL,
			channel_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			message_content TEXT NOT NULL,
			context TEXT,
			long_term_memory_id INTEGER,
			response TEXT,
			response_type TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS long_term_memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_name TEXT NOT NULL,
			timestamp REAL NOT NULL,
			summary TEXT NOT NULL,
			insights TEXT NOT NULL,
			key_points TEXT NOT NULL,
			participants TEXT NOT NULL,
			conversation_start REAL,
			conversation_end REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_channel_ts ON new_msg_queue(channel_name, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_history_channel_ts ON history(channel_name, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveUser inserts or refreshes a user row.
func (s *Store) SaveUser(userID, name string, ts float64) error {
	res, err := s.db.Exec(
		`UPDATE users SET name = ?, last_seen = ? WHERE user_id = ?`,
		name, ts, userID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.Exec(
			`INSERT INTO users (user_id, name, first_seen, last_seen) VALUES (?, ?, ?, ?)`,
			userID, name, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
	}
	return nil
}

// GetUserName returns the stored display name, or "" if unknown.
func (s *Store) GetUserName(userID string) (string, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM users WHERE user_id = ?`, userID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user name: %w", err)
	}
	return name, nil
}

// Enqueue appends a message to the ingestion queue.
func (s *Store) Enqueue(m Message) error {
	_, err := s.db.Exec(
		`INSERT INTO new_msg_queue (user_id, channel_name, content, ts, role) VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.ChannelName, m.Content, m.TS, m.Role,
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// DequeueOldest removes and returns the oldest queued message for a channel.
// Returns nil when the queue is empty.
func (s *Store) DequeueOldest(channel string) (*Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("dequeue begin: %w", err)
	}
	defer tx.Rollback()

	var m Message
	err = tx.QueryRow(
		`SELECT id, user_id, channel_name, content, ts, role
		 FROM new_msg_queue WHERE channel_name = ? ORDER BY ts ASC LIMIT 1`,
		channel,
	).Scan(&m.ID, &m.UserID, &m.ChannelName, &m.Content, &m.TS, &m.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue select: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM new_msg_queue WHERE id = ?`, m.ID); err != nil {
		return nil, fmt.Errorf("dequeue delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dequeue commit: %w", err)
	}
	return &m, nil
}

// QueueDepth returns the number of pending messages for a channel.
func (s *Store) QueueDepth(channel string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM new_msg_queue WHERE channel_name = ?`, channel).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// SaveHistory appends a message to the immutable history log.
func (s *Store) SaveHistory(m Message) error {
	_, err := s.db.Exec(
		`INSERT INTO history (user_id, channel_name, content, ts, role) VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.ChannelName, m.Content, m.TS, m.Role,
	)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// GetHistory returns history rows in ascending timestamp order.
func (s *Store) GetHistory(q HistoryQuery) ([]Message, error) {
	query := `SELECT user_id, channel_name, content, ts, role FROM history WHERE ts >= ? AND ts <= ?`
	end := q.EndTime
	if end == 0 {
		end = float64(time.Now().UnixNano()) / 1e9
	}
	args := []any{q.StartTime, end}
	if q.Channel != "" {
		query += ` AND channel_name = ?`
		args = append(args, q.Channel)
	}
	if len(q.Users) > 0 {
		query += ` AND user_id IN (?` + repeat(",?", len(q.Users)-1) + `)`
		for _, u := range q.Users {
			args = append(args, u)
		}
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.UserID, &m.ChannelName, &m.Content, &m.TS, &m.Role); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentHistory returns the last n history messages for a channel in
// chronological order.
func (s *Store) RecentHistory(channel string, n int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT user_id, channel_name, content, ts, role FROM history
		 WHERE channel_name = ? ORDER BY ts DESC LIMIT ?`,
		channel, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.UserID, &m.ChannelName, &m.Content, &m.TS, &m.Role); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into ascending timestamp order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveContextHistory records the context used to answer one message.
func (s *Store) SaveContextHistory(e ContextEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO context_history (message_ts, channel_name, user_id, message_content, context, long_term_memory_id, response, response_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.MessageTS, e.ChannelName, e.UserID, e.MessageContent, e.Context, e.LongTermMemoryID, e.Response, e.ResponseType,
	)
	if err != nil {
		return fmt.Errorf("save context history: %w", err)
	}
	return nil
}

// SaveLongTermMemory persists a reflection summary and returns its row id.
func (s *Store) SaveLongTermMemory(m LongTermMemory) (int64, error) {
	insights, err := json.Marshal(m.Insights)
	if err != nil {
		return 0, fmt.Errorf("marshal insights: %w", err)
	}
	keyPoints, err := json.Marshal(m.KeyPoints)
	if err != nil {
		return 0, fmt.Errorf("marshal key points: %w", err)
	}
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return 0, fmt.Errorf("marshal participants: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO long_term_memories (channel_name, timestamp, summary, insights, key_points, participants, conversation_start, conversation_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelName, m.Timestamp, m.Summary, string(insights), string(keyPoints), string(participants), m.ConversationStart, m.ConversationEnd,
	)
	if err != nil {
		return 0, fmt.Errorf("save long term memory: %w", err)
	}
	return res.LastInsertId()
}

// ListLongTermMemories returns reflection summaries for a channel, newest first.
func (s *Store) ListLongTermMemories(channel string, limit int) ([]LongTermMemory, error) {
	rows, err := s.db.Query(
		`SELECT id, channel_name, timestamp, summary, insights, key_points, participants,
		        COALESCE(conversation_start, 0), COALESCE(conversation_end, 0)
		 FROM long_term_memories WHERE channel_name = ? ORDER BY timestamp DESC LIMIT ?`,
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list long term memories: %w", err)
	}
	defer rows.Close()

	var out []LongTermMemory
	for rows.Next() {
		var m LongTermMemory
		var insights, keyPoints, participants string
		if err := rows.Scan(&m.ID, &m.ChannelName, &m.Timestamp, &m.Summary, &insights, &keyPoints, &participants, &m.ConversationStart, &m.ConversationEnd); err != nil {
			return nil, fmt.Errorf("scan long term memory: %w", err)
		}
		if err := json.Unmarshal([]byte(insights), &m.Insights); err != nil {
			return nil, fmt.Errorf("unmarshal insights: %w", err)
		}
		if err := json.Unmarshal([]byte(keyPoints), &m.KeyPoints); err != nil {
			return nil, fmt.Errorf("unmarshal key points: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &m.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SavePersona inserts or updates the persona for a channel, preserving the
// original created_at on update.
func (s *Store) SavePersona(p PersonaRecord) error {
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}
	style, err := json.Marshal(p.CommunicationStyle)
	if err != nil {
		return fmt.Errorf("marshal communication style: %w", err)
	}
	chars, err := json.Marshal(p.ResponseCharacteristics)
	if err != nil {
		return fmt.Errorf("marshal response characteristics: %w", err)
	}

	now := float64(time.Now().UnixNano()) / 1e9
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO personas (channel_name, name, description, traits, communication_style, response_characteristics, active, usage_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?,
		         COALESCE((SELECT usage_count FROM personas WHERE channel_name = ?), 0),
		         COALESCE((SELECT created_at FROM personas WHERE channel_name = ?), ?),
		         ?)`,
		p.ChannelName, p.Name, p.Description, string(traits), string(style), string(chars), boolToInt(p.Active),
		p.ChannelName, p.ChannelName, now, now,
	)
	if err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	return nil
}

// LoadPersona returns the persona for a channel, or nil if none is stored.
func (s *Store) LoadPersona(channel string) (*PersonaRecord, error) {
	var p PersonaRecord
	var traits, style, chars string
	var active int
	err := s.db.QueryRow(
		`SELECT channel_name, name, description, traits, communication_style, response_characteristics, active, usage_count, created_at, updated_at
		 FROM personas WHERE channel_name = ?`,
		channel,
	).Scan(&p.ChannelName, &p.Name, &p.Description, &traits, &style, &chars, &active, &p.UsageCount, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	if err := json.Unmarshal([]byte(traits), &p.Traits); err != nil {
		return nil, fmt.Errorf("unmarshal traits: %w", err)
	}
	if err := json.Unmarshal([]byte(style), &p.CommunicationStyle); err != nil {
		return nil, fmt.Errorf("unmarshal communication style: %w", err)
	}
	if err := json.Unmarshal([]byte(chars), &p.ResponseCharacteristics); err != nil {
		return nil, fmt.Errorf("unmarshal response characteristics: %w", err)
	}
	p.Active = active != 0
	return &p, nil
}

// SetPersonaActive flips the active flag for a channel's persona.
func (s *Store) SetPersonaActive(channel string, active bool) error {
	_, err := s.db.Exec(`UPDATE personas SET active = ? WHERE channel_name = ?`, boolToInt(active), channel)
	if err != nil {
		return fmt.Errorf("set persona active: %w", err)
	}
	return nil
}

// IncrementPersonaUsage bumps the usage counter for a channel's persona.
func (s *Store) IncrementPersonaUsage(channel string) error {
	_, err := s.db.Exec(`UPDATE personas SET usage_count = usage_count + 1 WHERE channel_name = ?`, channel)
	if err != nil {
		return fmt.Errorf("increment persona usage: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
