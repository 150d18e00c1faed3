// Package pool manages the OAuth account pool: round-robin selection with
// tier priority, per-(account, model) cooldowns with exponential backoff,
// token refresh, and best-effort persistence after every mutation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antigravity-router/antigravity-proxy/internal/auth"
)

const (
	// refreshWindow triggers a refresh when a token expires this soon.
	refreshWindow = 5 * time.Minute

	// backoffBaseMs and backoffCapMs bound the exponential cooldown.
	backoffBaseMs = 1000
	backoffCapMs  = 1_800_000

	// defaultGlobalCooldown applies to account-wide rate limits without a
	// server hint.
	defaultGlobalCooldown = time.Minute
)

// ErrNoAccounts means the pool has no usable account for the request.
var ErrNoAccounts = errors.New("no accounts available")

// ErrAllCoolingDown means every candidate account is rate limited; the
// earliest reset is logged when it is raised.
var ErrAllCoolingDown = errors.New("all accounts are cooling down")

// Credentials is what a successful selection hands to the upstream client.
type Credentials struct {
	AccountID string
	Email     string
	Token     string
	ProjectID string
	Tier      string
}

// Pool owns all account state. One mutex serializes selection and mutation,
// token refresh included; persistence is a best-effort flush after each
// mutation.
type Pool struct {
	mu        sync.Mutex
	accounts  []*auth.Account
	cursors   map[string]int
	store     auth.Store
	refresher auth.Refresher
	now       func() time.Time
}

// NewPool loads accounts from the store and builds the pool.
//
// Parameters:
//   - store: The persistence port (may be nil for tests)
//   - refresher: The token refresher
//
// Returns:
//   - *Pool: The pool
//   - error: A load failure
func NewPool(store auth.Store, refresher auth.Refresher) (*Pool, error) {
	p := &Pool{
		cursors:   make(map[string]int),
		store:     store,
		refresher: refresher,
		now:       time.Now,
	}
	if store != nil {
		accounts, err := store.Load()
		if err != nil {
			return nil, err
		}
		p.accounts = accounts
	}
	log.Infof("account pool loaded %d account(s)", len(p.accounts))
	return p, nil
}

// persistLocked flushes the account list. Failures are logged, not surfaced;
// in-memory state stays authoritative.
func (p *Pool) persistLocked() {
	if p.store == nil {
		return
	}
	if err := p.store.Save(p.accounts); err != nil {
		log.Errorf("failed to persist accounts: %v", err)
	}
}

// Count returns the number of accounts, disabled included. The orchestrator
// sizes its retry budget from it.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Add inserts an account and persists.
func (p *Pool) Add(account *auth.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, account)
	p.persistLocked()
}

// Remove deletes an account by id and persists.
func (p *Pool) Remove(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, account := range p.accounts {
		if account.ID == accountID {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			p.persistLocked()
			return true
		}
	}
	return false
}

// Accounts returns a snapshot copy of the account pointers for read-only
// inspection (status surfaces).
func (p *Pool) Accounts() []*auth.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*auth.Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

func (p *Pool) findLocked(accountID string) *auth.Account {
	for _, account := range p.accounts {
		if account.ID == accountID {
			return account
		}
	}
	return nil
}

// GetValidAccessToken selects an account eligible for the model and returns
// its credentials, refreshing the access token when it expires within five
// minutes. The round-robin cursor is per family and advances exactly once
// per selection.
//
// Parameters:
//   - ctx: The request context (bounds token refresh)
//   - family: The model family, used as the cursor key
//   - model: The canonical model id, used for cooldown filtering
//
// Returns:
//   - *Credentials: The selected account's credentials
//   - error: ErrNoAccounts, ErrAllCoolingDown, or the last refresh failure
func (p *Pool) GetValidAccessToken(ctx context.Context, family, model string) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < len(p.accounts)+1; attempt++ {
		account, err := p.selectLocked(family, model)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if account.Expiry.Sub(p.now()) <= refreshWindow {
			if err = p.refreshLocked(ctx, account); err != nil {
				lastErr = err
				continue
			}
		}

		account.LastUsedAt = p.now()
		p.persistLocked()
		return &Credentials{
			AccountID: account.ID,
			Email:     account.Email,
			Token:     account.AccessToken,
			ProjectID: account.ProjectID,
			Tier:      account.Tier,
		}, nil
	}
	return nil, lastErr
}

// selectLocked filters and orders the eligible accounts and picks the one
// under the family cursor.
func (p *Pool) selectLocked(family, model string) (*auth.Account, error) {
	now := p.now()
	var survivors []*auth.Account
	coolingDown := 0
	earliestReset := int64(0)

	for _, account := range p.accounts {
		if account.Disabled {
			continue
		}
		if account.BlockedForModel(model, now) {
			coolingDown++
			reset := account.RateLimitedUntil
			if state := account.ModelState(model); state != nil {
				reset = state.NextRetryAfter
			}
			if earliestReset == 0 || (reset > 0 && reset < earliestReset) {
				earliestReset = reset
			}
			continue
		}
		survivors = append(survivors, account)
	}

	if len(survivors) == 0 {
		if coolingDown > 0 {
			log.Warnf("all %d candidate account(s) cooling down for %s, earliest reset %s",
				coolingDown, model, time.UnixMilli(earliestReset).Format(time.RFC3339))
			return nil, ErrAllCoolingDown
		}
		return nil, ErrNoAccounts
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return auth.TierPriority(survivors[i].Tier) < auth.TierPriority(survivors[j].Tier)
	})

	cursor := p.cursors[family]
	picked := survivors[cursor%len(survivors)]
	p.cursors[family] = cursor + 1
	return picked, nil
}

// refreshLocked refreshes an account's token in place. An invalid grant
// disables the account.
func (p *Pool) refreshLocked(ctx context.Context, account *auth.Account) error {
	bundle, err := p.refresher.Refresh(ctx, account)
	if err != nil {
		var invalidGrant *auth.ErrInvalidGrant
		if errors.As(err, &invalidGrant) {
			account.Disabled = true
			account.DisabledReason = "invalid_grant"
			p.persistLocked()
			log.Warnf("account %s disabled: refresh token rejected", account.Email)
		}
		return fmt.Errorf("token refresh for %s failed: %w", account.Email, err)
	}
	account.AccessToken = bundle.AccessToken
	account.RefreshToken = bundle.RefreshToken
	account.Expiry = bundle.Expiry
	p.persistLocked()
	return nil
}

// RefreshTokens forces a refresh for one account.
func (p *Pool) RefreshTokens(ctx context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	account := p.findLocked(accountID)
	if account == nil {
		return fmt.Errorf("unknown account %s", accountID)
	}
	return p.refreshLocked(ctx, account)
}

// MarkRateLimited cools an account down. With a model and no explicit hint
// the per-model exponential backoff applies: 1 s doubling per level, capped
// at 30 min. An explicit retryMs is used verbatim without touching the
// level. Without a model the account-wide cooldown is set.
//
// Parameters:
//   - accountID: The account to mark
//   - model: The canonical model id, or "" for an account-wide limit
//   - retryMs: A server-provided cooldown in ms, or 0 for the default
func (p *Pool) MarkRateLimited(accountID, model string, retryMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account := p.findLocked(accountID)
	if account == nil {
		return
	}
	nowMs := p.now().UnixMilli()

	if model == "" {
		cooldown := retryMs
		if cooldown <= 0 {
			cooldown = defaultGlobalCooldown.Milliseconds()
		}
		account.RateLimitedUntil = nowMs + cooldown
		p.persistLocked()
		log.Debugf("account %s rate limited globally for %dms", account.Email, cooldown)
		return
	}

	state := account.ModelState(model)
	if state == nil {
		state = &auth.PerModelState{}
		account.SetModelState(model, state)
	}

	var cooldown int64
	if retryMs > 0 {
		cooldown = retryMs
	} else {
		cooldown = backoffBaseMs << state.BackoffLevel
		if cooldown >= backoffCapMs {
			cooldown = backoffCapMs
		} else {
			state.BackoffLevel++
		}
	}
	state.Unavailable = true
	state.NextRetryAfter = nowMs + cooldown
	state.LastError = "rate_limited"
	p.persistLocked()
	log.Debugf("account %s rate limited for %s, %dms (level %d)", account.Email, model, cooldown, state.BackoffLevel)
}

// MarkSuccess clears rate-limit state for the (account, model) pair and the
// account-wide cooldown.
func (p *Pool) MarkSuccess(accountID, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account := p.findLocked(accountID)
	if account == nil {
		return
	}
	if model != "" {
		account.SetModelState(model, &auth.PerModelState{})
	}
	account.RateLimitedUntil = 0
	p.persistLocked()
}

// MarkDisabled takes an account out of rotation.
func (p *Pool) MarkDisabled(accountID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account := p.findLocked(accountID)
	if account == nil {
		return
	}
	account.Disabled = true
	account.DisabledReason = reason
	p.persistLocked()
	log.Warnf("account %s disabled: %s", account.Email, reason)
}

// ClearAllRateLimits wipes every cooldown. Applied on configuration reload.
func (p *Pool) ClearAllRateLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, account := range p.accounts {
		account.RateLimitedUntil = 0
		account.ModelStates = nil
	}
	p.persistLocked()
	log.Info("cleared all account rate limits")
}
