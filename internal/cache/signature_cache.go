// Package cache implements the thinking-signature cache. The upstream
// requires each replayed assistant thinking block to carry the opaque
// signature it was issued with; clients rarely persist those, so the proxy
// remembers every signature it sees on responses, keyed by a session id and a
// fingerprint of the thinking text.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Placeholder is a reserved sentinel never accepted as a signature.
	Placeholder = "PLACEHOLDER"

	// SkipSignatureSentinel tells the upstream to bypass signature
	// validation for a thinking block. Accepted on requests, never cached.
	SkipSignatureSentinel = "skip_thought_signature_validator"

	// entryTTL is how long a cached signature stays valid.
	entryTTL = 30 * time.Minute

	// sessionCap bounds the number of entries per session bucket.
	sessionCap = 100

	// minSignatureLength rejects truncated or garbage signatures.
	minSignatureLength = 24
)

type entry struct {
	signature string
	storedAt  time.Time
}

// SignatureCache is a process-wide, session-scoped signature store. Safe for
// concurrent use.
type SignatureCache struct {
	mu       sync.Mutex
	sessions map[string]map[string]entry
	now      func() time.Time
}

// NewSignatureCache creates an empty signature cache.
func NewSignatureCache() *SignatureCache {
	return &SignatureCache{
		sessions: make(map[string]map[string]entry),
		now:      time.Now,
	}
}

// IsValidSignature reports whether s can be sent upstream as-is. Sentinels
// and short strings are rejected.
func IsValidSignature(s string) bool {
	if len(s) < minSignatureLength {
		return false
	}
	return s != Placeholder && s != SkipSignatureSentinel
}

// Fingerprint returns the cache key for a thinking text: the first 16 hex
// characters of its SHA-256.
func Fingerprint(thinkingText string) string {
	sum := sha256.Sum256([]byte(thinkingText))
	return hex.EncodeToString(sum[:])[:16]
}

// SessionID derives a stable session id from the first user text of a
// conversation: a 32-bit rolling hash of its first 200 characters rendered as
// "-<abs(hash)>". Empty input gets a random 12-digit fallback so unrelated
// empty conversations do not share a bucket.
//
// Parameters:
//   - firstUserText: The text of the conversation's first user message
//
// Returns:
//   - string: The derived session id
func SessionID(firstUserText string) string {
	if firstUserText == "" {
		return fmt.Sprintf("%012d", rand.Int63n(1_000_000_000_000))
	}
	runes := []rune(firstUserText)
	if len(runes) > 200 {
		runes = runes[:200]
	}
	var h int32
	for _, c := range runes {
		h = h*31 + int32(c)
	}
	// widen before negating so math.MinInt32 has a positive absolute value
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return fmt.Sprintf("-%d", abs)
}

// Set stores a signature for a thinking text within a session. Empty
// arguments and invalid signatures are ignored. When the session bucket is at
// capacity, expired entries are dropped first, then the oldest 25%.
func (c *SignatureCache) Set(sessionID, thinkingText, signature string) {
	if sessionID == "" || thinkingText == "" || !IsValidSignature(signature) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.sessions[sessionID]
	if bucket == nil {
		bucket = make(map[string]entry)
		c.sessions[sessionID] = bucket
	}
	if len(bucket) >= sessionCap {
		c.evictLocked(bucket)
	}
	bucket[Fingerprint(thinkingText)] = entry{signature: signature, storedAt: c.now()}
}

// Get returns the cached signature for a thinking text, or "" when absent or
// expired. Expired entries are removed on lookup.
func (c *SignatureCache) Get(sessionID, thinkingText string) string {
	if sessionID == "" || thinkingText == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.sessions[sessionID]
	if bucket == nil {
		return ""
	}
	key := Fingerprint(thinkingText)
	e, ok := bucket[key]
	if !ok {
		return ""
	}
	if c.now().Sub(e.storedAt) > entryTTL {
		delete(bucket, key)
		return ""
	}
	return e.signature
}

// evictLocked drops expired entries from bucket, then the oldest 25% by
// insertion time. Caller holds c.mu.
func (c *SignatureCache) evictLocked(bucket map[string]entry) {
	now := c.now()
	for key, e := range bucket {
		if now.Sub(e.storedAt) > entryTTL {
			delete(bucket, key)
		}
	}
	if len(bucket) < sessionCap {
		return
	}
	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(bucket))
	for key, e := range bucket {
		all = append(all, aged{key: key, storedAt: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })
	drop := len(all) / 4
	if drop == 0 {
		drop = 1
	}
	for _, a := range all[:drop] {
		delete(bucket, a.key)
	}
}

// Sweep drops expired entries across all sessions and removes empty buckets.
func (c *SignatureCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for sessionID, bucket := range c.sessions {
		for key, e := range bucket {
			if now.Sub(e.storedAt) > entryTTL {
				delete(bucket, key)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(c.sessions, sessionID)
		}
	}
	if removed > 0 {
		log.Debugf("signature cache sweep removed %d entries", removed)
	}
}

// StartSweeper runs Sweep every interval until stop is closed.
func (c *SignatureCache) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
