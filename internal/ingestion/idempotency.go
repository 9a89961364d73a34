package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// maxReplayEntries triggers an eviction sweep when the cache grows past it.
const maxReplayEntries = 10000

// replayEntry is a remembered successful ingestion.
type replayEntry struct {
	fingerprint string
	result      models.IngestResult
	storedAt    time.Time
}

// IdempotencyCache remembers successful ingestion results by client key so a
// retried request is answered without writing its records twice. Entries are
// held per process for a fixed window.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]replayEntry
	window  time.Duration
	now     func() time.Time
}

// NewIdempotencyCache creates a cache that keeps results for window.
func NewIdempotencyCache(window time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		entries: make(map[string]replayEntry),
		window:  window,
		now:     time.Now,
	}
}

// Lookup returns the remembered result for key. Reusing a key with a
// different payload is rejected as a validation error.
func (c *IdempotencyCache) Lookup(key, fingerprint string) (models.IngestResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.IngestResult{}, false, nil
	}
	if c.now().Sub(entry.storedAt) > c.window {
		delete(c.entries, key)
		return models.IngestResult{}, false, nil
	}
	if entry.fingerprint != fingerprint {
		return models.IngestResult{}, false, errs.Validation("Idempotency-Key", "was already used with a different payload")
	}
	return entry.result, true, nil
}

// Remember stores a successful result under key.
func (c *IdempotencyCache) Remember(key, fingerprint string, result models.IngestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = replayEntry{
		fingerprint: fingerprint,
		result:      result,
		storedAt:    c.now(),
	}
	if len(c.entries) > maxReplayEntries {
		c.cleanupLocked(c.now().Add(-c.window))
	}
}

// Cleanup removes entries stored before olderThan and returns how many were
// dropped.
func (c *IdempotencyCache) Cleanup(olderThan time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(olderThan)
}

// Expire drops every entry that is outside the replay window.
func (c *IdempotencyCache) Expire() int {
	return c.Cleanup(c.now().Add(-c.window))
}

func (c *IdempotencyCache) cleanupLocked(olderThan time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry.storedAt.Before(olderThan) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of remembered results.
func (c *IdempotencyCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ReplayKey scopes a client idempotency key to one endpoint.
func ReplayKey(domain, endpointID, key string) string {
	h := sha256.Sum256([]byte(domain + "\x00" + endpointID + "\x00" + key))
	return hex.EncodeToString(h[:])
}

// Fingerprint hashes a request body.
func Fingerprint(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}
