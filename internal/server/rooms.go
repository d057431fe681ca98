package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Room is a chat channel with an assistant member. The room ID doubles as
// the channel name in the stores.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Task      string    `json:"task,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// roomRegistry is the in-process room directory.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]*Room)}
}

func (r *roomRegistry) create(name, task, createdBy string) *Room {
	room := &Room{
		ID:        uuid.New().String(),
		Name:      name,
		Task:      task,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.rooms[room.ID] = room
	r.mu.Unlock()
	return room
}

func (r *roomRegistry) get(id string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

func (r *roomRegistry) list() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
