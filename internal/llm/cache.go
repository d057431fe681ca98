package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/dgraph-io/ristretto"
)

// CachingChat memoizes completions so identical requests (same model, system
// prompt, transcript, and temperature) are served without an API round trip.
// Useful for replayed rooms and repeated reflection prompts; disable it with
// LLM_CACHE_ENABLED=false when responses must stay fresh.
type CachingChat struct {
	inner Chat
	cache *ristretto.Cache
}

// NewCachingChat wraps inner with an in-process response cache.
func NewCachingChat(inner Chat) (*CachingChat, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20, // cost is response length in bytes
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}
	return &CachingChat{inner: inner, cache: cache}, nil
}

// Complete serves from cache when possible, otherwise delegates and stores the
// result. Cache failures never fail the request.
func (c *CachingChat) Complete(ctx context.Context, req *Request) (string, error) {
	key := cacheKey(req)
	if v, ok := c.cache.Get(key); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, resp, int64(len(resp)))
	return resp, nil
}

// Wait blocks until pending cache writes are visible. Tests use it; the
// serving path never needs to.
func (c *CachingChat) Wait() { c.cache.Wait() }

// Close releases the cache's internal goroutines.
func (c *CachingChat) Close() { c.cache.Close() }

func cacheKey(req *Request) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(req.Temperature, 'f', -1, 64)))
	h.Write([]byte{0})
	enc, err := json.Marshal(req.Messages)
	if err != nil {
		// Marshal of plain structs cannot realistically fail; log and fall
		// through with an empty transcript component.
		log.Printf("[LLM] cache key marshal: %v", err)
	}
	h.Write(enc)
	return hex.EncodeToString(h.Sum(nil))
}
