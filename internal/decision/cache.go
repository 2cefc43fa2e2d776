package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"crewhq/internal/reasoner"
)

// CachedReasoner is the tier-3 fallback: one external reasoning call,
// cached by the hash of the normalized input so repeat queries skip the
// network. Concurrent identical queries are collapsed through
// singleflight so the reasoner is invoked at most once per key.
//
// The tier fails closed: any error, timeout or cancellation yields
// "no decision" and the caller's default policy applies.
type CachedReasoner struct {
	reasoner   reasoner.Reasoner
	ttl        time.Duration
	timeout    time.Duration
	maxEntries int
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group

	cacheHits atomic.Int64
	calls     atomic.Int64
}

type cacheEntry struct {
	text    string
	expires time.Time
}

// CacheConfig bounds the tier-3 cache.
type CacheConfig struct {
	TTL        time.Duration
	Timeout    time.Duration
	MaxEntries int
}

// NewCachedReasoner wraps r with caching and a per-call timeout.
func NewCachedReasoner(r reasoner.Reasoner, cfg CacheConfig, logger *zap.Logger) *CachedReasoner {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedReasoner{
		reasoner:   r,
		ttl:        cfg.TTL,
		timeout:    cfg.Timeout,
		maxEntries: cfg.MaxEntries,
		logger:     logger.Named("tier3"),
		entries:    make(map[string]cacheEntry),
	}
}

// Consult resolves prompt+context to an outcome, or declines.
func (c *CachedReasoner) Consult(ctx context.Context, prompt, contextText string) (Outcome, bool) {
	text, err := c.Complete(ctx, prompt, contextText)
	if err != nil || text == "" {
		return NoDecision, false
	}
	return Outcome{
		Decided: true,
		Action:  strings.TrimSpace(text),
		Reason:  "reasoner",
		Source:  SourceReasoner,
	}, true
}

// Complete returns the raw reasoner text for prompt+context, consulting
// the cache first. Exposed for callers that want text rather than an
// outcome (the parser fallback, sentience self-review).
func (c *CachedReasoner) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	key := cacheKey(prompt, contextText)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expires) {
		c.mu.Unlock()
		c.cacheHits.Add(1)
		return entry.text, nil
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under singleflight: a concurrent caller may have
		// populated the cache while we waited.
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expires) {
			c.mu.Unlock()
			c.cacheHits.Add(1)
			return entry.text, nil
		}
		c.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		c.calls.Add(1)
		text, err := c.reasoner.Reason(callCtx, prompt, contextText)
		if err != nil {
			c.logger.Debug("reasoner call failed", zap.Error(err))
			return "", err
		}

		c.store(key, text)
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// store inserts a cache entry, evicting expired entries first and then
// arbitrary ones if the cache is still over capacity.
func (c *CachedReasoner) store(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < c.maxEntries {
				break
			}
			delete(c.entries, k)
		}
	}

	c.entries[key] = cacheEntry{text: text, expires: time.Now().Add(c.ttl)}
}

// Calls reports the number of actual reasoner invocations.
func (c *CachedReasoner) Calls() int64 {
	return c.calls.Load()
}

// CacheHits reports cache hit count.
func (c *CachedReasoner) CacheHits() int64 {
	return c.cacheHits.Load()
}

// cacheKey hashes the normalized input. Normalization lowercases and
// collapses whitespace so trivially different phrasings share an entry.
func cacheKey(prompt, contextText string) string {
	normalized := normalize(prompt) + "\x00" + normalize(contextText)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
