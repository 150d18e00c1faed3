package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSig = "dGhpcyBpcyBhIHZhbGlkIHNpZ25hdHVyZQ=="

func TestIsValidSignature(t *testing.T) {
	assert.False(t, IsValidSignature(""))
	assert.False(t, IsValidSignature("short"))
	assert.False(t, IsValidSignature(Placeholder))
	assert.False(t, IsValidSignature(SkipSignatureSentinel))
	assert.True(t, IsValidSignature(validSig))
}

func TestSetGetRoundTrip(t *testing.T) {
	c := NewSignatureCache()
	c.Set("-123", "let me think about this", validSig)
	assert.Equal(t, validSig, c.Get("-123", "let me think about this"))

	// different session, no hit
	assert.Empty(t, c.Get("-456", "let me think about this"))

	// invalid signatures are never stored
	c.Set("-123", "other thought", "tiny")
	assert.Empty(t, c.Get("-123", "other thought"))

	// empty arguments are ignored
	c.Set("", "text", validSig)
	c.Set("-123", "", validSig)
	assert.Empty(t, c.Get("", "text"))
}

func TestTTLExpiry(t *testing.T) {
	c := NewSignatureCache()
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("-1", "thought", validSig)

	c.now = func() time.Time { return base.Add(29 * time.Minute) }
	assert.Equal(t, validSig, c.Get("-1", "thought"))

	c.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.Empty(t, c.Get("-1", "thought"))
}

func TestCapEviction(t *testing.T) {
	c := NewSignatureCache()
	base := time.Now()
	for i := 0; i < sessionCap; i++ {
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		c.Set("-9", fmt.Sprintf("thought %d", i), validSig)
	}
	require.Len(t, c.sessions["-9"], sessionCap)

	// overflow drops the oldest quarter before inserting
	c.now = func() time.Time { return base.Add(time.Hour / 4) }
	c.Set("-9", "one more", validSig)
	assert.Equal(t, sessionCap-sessionCap/4+1, len(c.sessions["-9"]))
	assert.Equal(t, validSig, c.Get("-9", "one more"))
	assert.Empty(t, c.Get("-9", "thought 0"))
	assert.Equal(t, validSig, c.Get("-9", fmt.Sprintf("thought %d", sessionCap-1)))
}

func TestSweepRemovesEmptyBuckets(t *testing.T) {
	c := NewSignatureCache()
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("-1", "a", validSig)
	c.Set("-2", "b", validSig)

	c.now = func() time.Time { return base.Add(time.Hour) }
	c.Sweep()
	assert.Empty(t, c.sessions)
}

func TestSessionIDStability(t *testing.T) {
	a := SessionID("hello world, please summarize this document for me")
	b := SessionID("hello world, please summarize this document for me")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "-"))

	// only the first 200 characters matter
	long := strings.Repeat("x", 200)
	assert.Equal(t, SessionID(long), SessionID(long+"tail"))

	// empty conversations get a random numeric fallback
	empty := SessionID("")
	assert.Len(t, empty, 12)
	assert.NotEqual(t, SessionID(""), "")

	// this text's rolling hash lands exactly on MinInt32; the id must still
	// be a single dash followed by the positive magnitude
	assert.Equal(t, "-2147483648", SessionID("polygenelubricants"))
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("some thinking text")
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint("some thinking text"))
	assert.NotEqual(t, fp, Fingerprint("other thinking text"))
}
