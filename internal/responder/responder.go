// Package responder runs the message pipeline: dequeue the oldest pending
// message, retrieve memory context, build the persona prompt, call the LLM,
// and persist the exchange on both the relational and vector sides.
package responder

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/aminsmd/ai-chat-app/internal/llm"
	"github.com/aminsmd/ai-chat-app/internal/memory"
	"github.com/aminsmd/ai-chat-app/internal/observability"
	"github.com/aminsmd/ai-chat-app/internal/persona"
	"github.com/aminsmd/ai-chat-app/internal/queue"
	"github.com/aminsmd/ai-chat-app/internal/store"
)

// Typing delay model: responses appear after a human-plausible pause scaled
// by response length.
const (
	minCharsPerSecond = 5
	maxCharsPerSecond = 10
	minDelaySeconds   = 1.5
	maxDelaySeconds   = 4.0
)

// Config tunes the pipeline.
type Config struct {
	Model          string
	MaxTokens      int64
	Temperature    float64
	ShortTermLimit int    // recent history rows included in the prompt
	Task           string // optional standing task injected into the prompt
	TypingDelay    bool
}

// Exchange is the outcome of handling one message.
type Exchange struct {
	Message  store.Message // the message actually answered (oldest pending)
	Response string
	Delay    time.Duration // typing delay applied before the response
}

// Responder owns the end-to-end response pipeline for all channels.
type Responder struct {
	store     *store.Store
	queue     *queue.Ingestion
	manager   *memory.Manager
	reflector *memory.Reflector
	chat      llm.Chat
	metrics   *observability.Metrics
	cfg       Config

	rng   *rand.Rand
	sleep func(time.Duration)
}

// New creates a responder. metrics may be nil (tests).
func New(s *store.Store, q *queue.Ingestion, m *memory.Manager, r *memory.Reflector, chat llm.Chat, metrics *observability.Metrics, cfg Config) *Responder {
	if cfg.ShortTermLimit <= 0 {
		cfg.ShortTermLimit = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Responder{
		store:     s,
		queue:     q,
		manager:   m,
		reflector: r,
		chat:      chat,
		metrics:   metrics,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     time.Sleep,
	}
}

// HandleMessage enqueues the inbound message, then answers the channel's
// oldest pending message. The two are usually the same message, but under
// concurrent senders the queue guarantees chronological handling.
func (r *Responder) HandleMessage(ctx context.Context, m store.Message) (*Exchange, error) {
	return r.HandleMessageWithTask(ctx, m, r.cfg.Task)
}

// HandleMessageWithTask is HandleMessage with a per-channel task overriding
// the configured standing task.
func (r *Responder) HandleMessageWithTask(ctx context.Context, m store.Message, task string) (*Exchange, error) {
	started := time.Now()

	if m.UserID != "" {
		if err := r.store.SaveUser(m.UserID, m.UserID, m.TS); err != nil {
			log.Printf("[RESPOND] Failed to upsert user %s: %v", m.UserID, err)
		}
	}

	if _, err := r.queue.Accept(m); err != nil {
		return nil, fmt.Errorf("accept message: %w", err)
	}

	pending, err := r.queue.Next(m.ChannelName)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if pending == nil {
		// Another worker drained the queue first.
		return nil, nil
	}

	ex, err := r.respond(ctx, *pending, task)
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.metrics.MessagesProcessed.WithLabelValues(pending.ChannelName, outcome).Inc()
		r.metrics.ObserveResponseLatency(time.Since(started))
		if depth, derr := r.queue.Depth(pending.ChannelName); derr == nil {
			r.metrics.QueueDepth.WithLabelValues(pending.ChannelName).Set(float64(depth))
		}
	}
	return ex, err
}

func (r *Responder) respond(ctx context.Context, m store.Message, task string) (*Exchange, error) {
	channel := m.ChannelName

	p := r.loadPersona(channel)

	memCtx, err := r.retrieveContext(ctx, channel, m.Content)
	if err != nil {
		// Retrieval failures degrade to a memory-less response.
		log.Printf("[RESPOND] Memory retrieval failed for channel=%s: %v", channel, err)
		memCtx = ""
	}

	messages, err := r.shortTermMessages(channel)
	if err != nil {
		return nil, fmt.Errorf("short-term history: %w", err)
	}

	system := p.SystemPrompt(task)
	if memCtx != "" {
		system += "\n\n" + memCtx
	}

	if r.metrics != nil {
		r.metrics.LLMCalls.WithLabelValues("response").Inc()
	}
	response, err := r.chat.Complete(ctx, &llm.Request{
		Model:       r.cfg.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.LLMErrors.WithLabelValues("response").Inc()
		}
		return nil, fmt.Errorf("generate response: %w", err)
	}

	delay := r.applyTypingDelay(response)

	if err := r.persist(ctx, m, memCtx, response); err != nil {
		return nil, err
	}

	return &Exchange{Message: m, Response: response, Delay: delay}, nil
}

// loadPersona returns the channel's active persona, or the default.
func (r *Responder) loadPersona(channel string) persona.Persona {
	rec, err := r.store.LoadPersona(channel)
	if err != nil {
		log.Printf("[RESPOND] Failed to load persona for channel=%s: %v", channel, err)
	}
	if rec == nil || !rec.Active {
		return persona.Default()
	}
	return persona.FromRecord(rec)
}

// retrieveContext runs scored memory retrieval and renders the context block.
func (r *Responder) retrieveContext(ctx context.Context, channel, query string) (string, error) {
	started := time.Now()
	scored, err := r.manager.Retrieve(ctx, channel, query)
	if r.metrics != nil {
		r.metrics.ObserveRetrievalLatency(time.Since(started))
	}
	if err != nil {
		return "", err
	}
	return memory.FormatContext(scored), nil
}

// shortTermMessages maps the channel's recent history rows, current message
// included, into the LLM transcript.
func (r *Responder) shortTermMessages(channel string) ([]llm.Message, error) {
	hist, err := r.store.RecentHistory(channel, r.cfg.ShortTermLimit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(hist))
	for _, h := range hist {
		msg := llm.Message{Role: h.Role, Content: h.Content}
		if h.Role != "assistant" {
			msg.Role = "user"
			msg.Name = r.displayName(h.UserID)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Responder) displayName(userID string) string {
	name, err := r.store.GetUserName(userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}

// persist writes the assistant reply to history (one microsecond after the
// user message, keeping strict order), logs the exchange's context, records
// both sides into the memory stream, and feeds the reflection counter.
func (r *Responder) persist(ctx context.Context, m store.Message, memCtx, response string) error {
	assistantTS := m.TS + 0.000001
	if err := r.store.SaveHistory(store.Message{
		UserID:      "assistant",
		ChannelName: m.ChannelName,
		Content:     response,
		TS:          assistantTS,
		Role:        "assistant",
	}); err != nil {
		return fmt.Errorf("save assistant history: %w", err)
	}

	if err := r.store.SaveContextHistory(store.ContextEntry{
		MessageTS:      m.TS,
		ChannelName:    m.ChannelName,
		UserID:         m.UserID,
		MessageContent: m.Content,
		Context:        memCtx,
		Response:       response,
		ResponseType:   "llm",
	}); err != nil {
		log.Printf("[RESPOND] Failed to save context history: %v", err)
	}

	userAt := time.Unix(0, int64(m.TS*1e9))
	if _, err := r.manager.RecordExchange(ctx, m.ChannelName, m.UserID, m.Content, userAt, response); err != nil {
		log.Printf("[RESPOND] Failed to record exchange in memory: %v", err)
	} else if r.reflector != nil {
		r.reflector.Observe(ctx, m.ChannelName, 2)
	}

	if err := r.store.IncrementPersonaUsage(m.ChannelName); err != nil {
		log.Printf("[RESPOND] Failed to bump persona usage: %v", err)
	}
	return nil
}

// applyTypingDelay sleeps for a length-scaled pause and returns it. Disabled
// via config for API-style deployments that render their own indicators.
func (r *Responder) applyTypingDelay(response string) time.Duration {
	if !r.cfg.TypingDelay {
		return 0
	}
	delay := r.typingDelay(response)
	r.sleep(delay)
	return delay
}

func (r *Responder) typingDelay(response string) time.Duration {
	cps := minCharsPerSecond + r.rng.Float64()*(maxCharsPerSecond-minCharsPerSecond)
	base := float64(len(response)) / cps
	jittered := base * (0.8 + r.rng.Float64()*0.4)
	if jittered < minDelaySeconds {
		jittered = minDelaySeconds
	}
	if jittered > maxDelaySeconds {
		jittered = maxDelaySeconds
	}
	return time.Duration(jittered * float64(time.Second))
}
