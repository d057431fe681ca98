// Package server exposes the chat application over HTTP and WebSocket:
// room management, message exchange, persona configuration, and history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/aminsmd/ai-chat-app/internal/config"
	"github.com/aminsmd/ai-chat-app/internal/llm"
	"github.com/aminsmd/ai-chat-app/internal/observability"
	"github.com/aminsmd/ai-chat-app/internal/persona"
	"github.com/aminsmd/ai-chat-app/internal/responder"
	"github.com/aminsmd/ai-chat-app/internal/store"
)

var errEmptyBody = errors.New("empty request body")

// Server wires the HTTP surface to the response pipeline.
type Server struct {
	cfg       config.Config
	store     *store.Store
	responder *responder.Responder
	chat      llm.Chat
	metrics   *observability.Metrics
	hub       *Hub
	registry  *roomRegistry
	upgrader  websocket.Upgrader
}

// New creates a server.
func New(cfg config.Config, s *store.Store, r *responder.Responder, chat llm.Chat, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		store:     s,
		responder: r,
		chat:      chat,
		metrics:   metrics,
		hub:       NewHub(metrics),
		registry:  newRoomRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections by default, so a
				// hostile page can't drive someone's chat session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/rooms", s.handleCreateRoom)
	r.Get("/api/rooms", s.handleListRooms)
	r.Get("/api/rooms/{id}", s.handleGetRoom)
	r.Post("/api/rooms/{id}/messages", s.handleSendMessage)
	r.Get("/api/rooms/{id}/messages", s.handleGetMessages)
	r.Get("/api/persona/traits", s.handleTraitSchema)
	r.Get("/api/rooms/{id}/persona", s.handleGetPersona)
	r.Put("/api/rooms/{id}/persona", s.handleUpdatePersona)
	r.Post("/api/rooms/{id}/persona/activate", s.handleSetPersonaActive)
	r.Post("/api/rooms/{id}/persona/randomize", s.handleRandomizePersona)
	r.Get("/api/rooms/{id}/memories", s.handleListMemories)
	r.Get("/ws/rooms/{id}", s.handleRoomWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createRoomRequest struct {
	Name      string `json:"name"`
	Task      string `json:"task"`
	CreatedBy string `json:"created_by"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "room name is required")
		return
	}

	room := s.registry.create(req.Name, req.Task, req.CreatedBy)

	// Every room starts with the default persona active.
	p := persona.Default()
	if err := s.store.SavePersona(p.ToRecord(room.ID, true)); err != nil {
		log.Printf("[SERVER] Failed to seed persona for room %s: %v", room.ID, err)
	}

	respondJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.list())
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	respondJSON(w, http.StatusOK, room)
}

type sendMessageRequest struct {
	UserID  string  `json:"user_id"`
	Content string  `json:"content"`
	TS      float64 `json:"ts,omitempty"`
}

type sendMessageResponse struct {
	RoomID   string  `json:"room_id"`
	UserID   string  `json:"user_id"`
	Content  string  `json:"content"`
	TS       float64 `json:"ts"`
	Response string  `json:"response"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "user_id and content are required")
		return
	}

	ex, err := s.deliver(r.Context(), room, req.UserID, req.Content, req.TS)
	if err != nil {
		respondError(w, http.StatusBadGateway, "llm_error", err.Error())
		return
	}
	if ex == nil {
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}

	respondJSON(w, http.StatusOK, sendMessageResponse{
		RoomID:   room.ID,
		UserID:   req.UserID,
		Content:  req.Content,
		TS:       ex.Message.TS,
		Response: ex.Response,
	})
}

// deliver runs the pipeline for one message and fans results out to the
// room's WebSocket clients.
func (s *Server) deliver(ctx context.Context, room *Room, userID, content string, ts float64) (*responder.Exchange, error) {
	m := store.Message{
		UserID:      userID,
		ChannelName: room.ID,
		Content:     content,
		TS:          ts,
		Role:        "user",
	}
	ex, err := s.responder.HandleMessageWithTask(ctx, m, room.Task)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		s.hub.Broadcast(room.ID, Event{
			Type:    "message",
			RoomID:  room.ID,
			UserID:  ex.Message.UserID,
			Content: ex.Message.Content,
			TS:      ex.Message.TS,
		})
		s.hub.Broadcast(room.ID, Event{
			Type:    "assistant_message",
			RoomID:  room.ID,
			UserID:  "assistant",
			Content: ex.Response,
			TS:      ex.Message.TS + 0.000001,
		})
	}
	return ex, nil
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}

	q := store.HistoryQuery{Channel: room.ID}
	if v := r.URL.Query().Get("start"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.StartTime = f
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.EndTime = f
		}
	}
	if v := r.URL.Query().Get("users"); v != "" {
		q.Users = strings.Split(v, ",")
	}

	msgs, err := s.store.GetHistory(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

type personaPayload struct {
	Name                    string                       `json:"name"`
	Description             string                       `json:"description"`
	Traits                  map[string]map[string]string `json:"traits"`
	ResponseCharacteristics map[string]string            `json:"response_characteristics"`
	Active                  bool                         `json:"active"`
	UsageCount              int64                        `json:"usage_count,omitempty"`
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	rec, err := s.store.LoadPersona(room.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if rec == nil {
		p := persona.Default()
		respondJSON(w, http.StatusOK, personaPayload{
			Name:                    p.Name,
			Description:             p.Description,
			Traits:                  p.Traits,
			ResponseCharacteristics: p.ResponseCharacteristics,
			Active:                  true,
		})
		return
	}
	respondJSON(w, http.StatusOK, personaPayload{
		Name:                    rec.Name,
		Description:             rec.Description,
		Traits:                  rec.Traits,
		ResponseCharacteristics: rec.ResponseCharacteristics,
		Active:                  rec.Active,
		UsageCount:              rec.UsageCount,
	})
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	var req personaPayload
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	p := persona.Persona{
		Name:                    req.Name,
		Description:             req.Description,
		Traits:                  req.Traits,
		ResponseCharacteristics: req.ResponseCharacteristics,
	}
	p.Standardize()

	if err := s.store.SavePersona(p.ToRecord(room.ID, req.Active)); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, personaPayload{
		Name:                    p.Name,
		Description:             p.Description,
		Traits:                  p.Traits,
		ResponseCharacteristics: p.ResponseCharacteristics,
		Active:                  req.Active,
	})
}

// handleTraitSchema lists the trait structure clients can set, subcomponents
// in render order. Room-independent.
func (s *Server) handleTraitSchema(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, persona.TraitNames())
}

type setPersonaActiveRequest struct {
	Active bool `json:"active"`
}

// handleSetPersonaActive flips the persona on or off without touching its
// traits. A deactivated room answers with the default persona.
func (s *Server) handleSetPersonaActive(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	var req setPersonaActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rec, err := s.store.LoadPersona(room.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "not_found", "no persona configured for room")
		return
	}
	if err := s.store.SetPersonaActive(room.ID, req.Active); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"active": req.Active})
}

func (s *Server) handleRandomizePersona(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}

	p := persona.Random(rand.New(rand.NewSource(time.Now().UnixNano())))
	if s.chat != nil {
		if err := p.GenerateIdentity(r.Context(), s.chat, s.cfg.Model); err != nil {
			log.Printf("[SERVER] Persona identity generation failed: %v", err)
		}
	}

	if err := s.store.SavePersona(p.ToRecord(room.ID, true)); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, personaPayload{
		Name:                    p.Name,
		Description:             p.Description,
		Traits:                  p.Traits,
		ResponseCharacteristics: p.ResponseCharacteristics,
		Active:                  true,
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ltms, err := s.store.ListLongTermMemories(room.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ltms)
}

func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	room := s.registry.get(chi.URLParam(r, "id"))
	if room == nil {
		respondError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] WebSocket upgrade failed: %v", err)
		return
	}

	s.hub.serve(room.ID, conn, func(ev Event) {
		if ev.Type != "message" || ev.UserID == "" || strings.TrimSpace(ev.Content) == "" {
			return
		}
		// Pipeline runs off the read loop so a slow LLM call doesn't
		// stall inbound frames.
		go func() {
			if _, err := s.deliver(context.Background(), room, ev.UserID, ev.Content, ev.TS); err != nil {
				log.Printf("[SERVER] WS message pipeline failed in room %s: %v", room.ID, err)
				s.hub.Broadcast(room.ID, Event{Type: "error", RoomID: room.ID, Content: "response generation failed"})
			}
		}()
	})
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
