// Package auth defines the account model shared by the pool, the persistence
// stores for account records, and the OAuth token refresh flow.
package auth

import (
	"strings"
	"time"
)

// Service tiers in priority order. Unknown tiers sort last.
const (
	TierUltra = "ultra"
	TierPro   = "pro"
	TierFree  = "free"
)

// TierPriority maps a tier name onto its selection priority; lower is
// better.
func TierPriority(tier string) int {
	switch strings.ToLower(tier) {
	case TierUltra:
		return 0
	case TierPro:
		return 1
	case TierFree:
		return 2
	default:
		return 3
	}
}

// PerModelState tracks rate-limit bookkeeping for one (account, model) pair.
type PerModelState struct {
	Unavailable    bool   `json:"unavailable"`
	NextRetryAfter int64  `json:"nextRetryAfter"`
	BackoffLevel   int    `json:"backoffLevel"`
	LastError      string `json:"lastError,omitempty"`
}

// QuotaSummary is informational quota bookkeeping surfaced in logs.
type QuotaSummary struct {
	Remaining int    `json:"remaining,omitempty"`
	ResetTime string `json:"resetTime,omitempty"`
}

// Account is one OAuth-authenticated upstream identity.
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Tier      string `json:"tier,omitempty"`

	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`

	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`

	Disabled       bool   `json:"disabled,omitempty"`
	DisabledReason string `json:"disabledReason,omitempty"`

	// RateLimitedUntil is a global cooldown in unix milliseconds; zero means
	// none. Shadowed by ModelStates for models that have an entry.
	RateLimitedUntil int64 `json:"rateLimitedUntil,omitempty"`

	ModelStates map[string]*PerModelState `json:"modelStates,omitempty"`

	Quota *QuotaSummary `json:"quota,omitempty"`
}

// TokenBundle is the credential triple handed to the upstream client.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ModelState returns the per-model entry, or nil.
func (a *Account) ModelState(model string) *PerModelState {
	if a.ModelStates == nil {
		return nil
	}
	return a.ModelStates[model]
}

// SetModelState writes the per-model entry, allocating the map lazily.
func (a *Account) SetModelState(model string, state *PerModelState) {
	if a.ModelStates == nil {
		a.ModelStates = make(map[string]*PerModelState)
	}
	a.ModelStates[model] = state
}

// BlockedForModel reports whether the account must be skipped for model at
// the given instant. A per-model entry shadows the global cooldown.
func (a *Account) BlockedForModel(model string, now time.Time) bool {
	if a.Disabled {
		return true
	}
	nowMs := now.UnixMilli()
	if state := a.ModelState(model); state != nil {
		return state.Unavailable && state.NextRetryAfter > nowMs
	}
	return a.RateLimitedUntil > nowMs
}
