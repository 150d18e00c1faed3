package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-router/antigravity-proxy/internal/auth"
	"github.com/antigravity-router/antigravity-proxy/internal/constant"
)

// stubRefresher counts refreshes and returns canned bundles or errors.
type stubRefresher struct {
	calls  int
	err    error
	expiry time.Time
}

func (s *stubRefresher) Refresh(_ context.Context, account *auth.Account) (*auth.TokenBundle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &auth.TokenBundle{
		AccessToken:  "fresh-" + account.ID,
		RefreshToken: account.RefreshToken,
		Expiry:       s.expiry,
	}, nil
}

func newAccount(id, tier string, expiry time.Time) *auth.Account {
	return &auth.Account{
		ID:           id,
		Email:        id + "@example.com",
		ProjectID:    "proj-" + id,
		Tier:         tier,
		AccessToken:  "tok-" + id,
		RefreshToken: "ref-" + id,
		Expiry:       expiry,
	}
}

func newTestPool(t *testing.T, refresher auth.Refresher, accounts ...*auth.Account) *Pool {
	t.Helper()
	p, err := NewPool(nil, refresher)
	require.NoError(t, err)
	for _, account := range accounts {
		p.Add(account)
	}
	return p
}

func TestRoundRobinCursor(t *testing.T) {
	farFuture := time.Now().Add(time.Hour)
	p := newTestPool(t, &stubRefresher{},
		newAccount("a", auth.TierFree, farFuture),
		newAccount("b", auth.TierFree, farFuture),
	)

	first, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	second, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	third, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)

	assert.Equal(t, "a", first.AccountID)
	assert.Equal(t, "b", second.AccountID)
	assert.Equal(t, "a", third.AccountID)
}

func TestTierPriorityOrdersSurvivors(t *testing.T) {
	farFuture := time.Now().Add(time.Hour)
	p := newTestPool(t, &stubRefresher{},
		newAccount("free", auth.TierFree, farFuture),
		newAccount("ultra", auth.TierUltra, farFuture),
		newAccount("pro", auth.TierPro, farFuture),
	)

	got, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "ultra", got.AccountID)
	got, err = p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.AccountID)
}

func TestRefreshWindowBoundary(t *testing.T) {
	now := time.Now()
	refresher := &stubRefresher{expiry: now.Add(time.Hour)}

	// expires in 4m59s: refreshed before return
	p := newTestPool(t, refresher, newAccount("a", auth.TierFree, now.Add(4*time.Minute+59*time.Second)))
	p.now = func() time.Time { return now }
	got, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, "fresh-a", got.Token)

	// expires in 5m01s: returned as-is
	refresher2 := &stubRefresher{expiry: now.Add(time.Hour)}
	p = newTestPool(t, refresher2, newAccount("b", auth.TierFree, now.Add(5*time.Minute+time.Second)))
	p.now = func() time.Time { return now }
	got, err = p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, 0, refresher2.calls)
	assert.Equal(t, "tok-b", got.Token)
}

func TestRefreshFailureRotatesToNextAccount(t *testing.T) {
	now := time.Now()
	refresher := &stubRefresher{err: &auth.ErrInvalidGrant{Underlying: errors.New("invalid_grant")}}
	p := newTestPool(t, refresher,
		newAccount("stale", auth.TierFree, now.Add(time.Minute)),
		newAccount("good", auth.TierFree, now.Add(time.Hour)),
	)
	p.now = func() time.Time { return now }

	got, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "good", got.AccountID)

	// the stale account was disabled on invalid_grant
	for _, account := range p.Accounts() {
		if account.ID == "stale" {
			assert.True(t, account.Disabled)
			assert.Equal(t, "invalid_grant", account.DisabledReason)
		}
	}
}

func TestBackoffProgression(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &stubRefresher{}, newAccount("a", auth.TierFree, now.Add(time.Hour)))
	p.now = func() time.Time { return now }

	expected := []int64{1000, 2000, 4000, 8000, 16000, 32000}
	for n, want := range expected {
		p.MarkRateLimited("a", "gemini-2.5-pro", 0)
		state := p.Accounts()[0].ModelState("gemini-2.5-pro")
		require.NotNil(t, state)
		assert.Equal(t, now.UnixMilli()+want, state.NextRetryAfter, "attempt %d", n+1)
		assert.Equal(t, n+1, state.BackoffLevel)
	}

	// cap at 30 minutes, level frozen
	for i := 0; i < 20; i++ {
		p.MarkRateLimited("a", "gemini-2.5-pro", 0)
	}
	state := p.Accounts()[0].ModelState("gemini-2.5-pro")
	assert.Equal(t, now.UnixMilli()+1_800_000, state.NextRetryAfter)
	frozen := state.BackoffLevel
	p.MarkRateLimited("a", "gemini-2.5-pro", 0)
	assert.Equal(t, frozen, p.Accounts()[0].ModelState("gemini-2.5-pro").BackoffLevel)
}

func TestExplicitRetryMsBypassesBackoff(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &stubRefresher{}, newAccount("a", auth.TierFree, now.Add(time.Hour)))
	p.now = func() time.Time { return now }

	p.MarkRateLimited("a", "gemini-2.5-pro", 90_000)
	state := p.Accounts()[0].ModelState("gemini-2.5-pro")
	assert.Equal(t, now.UnixMilli()+90_000, state.NextRetryAfter)
	assert.Equal(t, 0, state.BackoffLevel)
}

func TestMarkSuccessResetsState(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &stubRefresher{}, newAccount("a", auth.TierFree, now.Add(time.Hour)))
	p.now = func() time.Time { return now }

	p.MarkRateLimited("a", "gemini-2.5-pro", 0)
	p.MarkRateLimited("a", "", 0)
	_, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	assert.ErrorIs(t, err, ErrAllCoolingDown)

	p.MarkSuccess("a", "gemini-2.5-pro")
	got, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccountID)
}

func TestPerModelCooldownShadowsOnlyThatModel(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &stubRefresher{}, newAccount("a", auth.TierFree, now.Add(time.Hour)))
	p.now = func() time.Time { return now }

	p.MarkRateLimited("a", "gemini-2.5-pro", 0)
	_, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	assert.ErrorIs(t, err, ErrAllCoolingDown)

	got, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccountID)
}

func TestDisabledNeverSelected(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &stubRefresher{}, newAccount("a", auth.TierFree, now.Add(time.Hour)))
	p.MarkDisabled("a", "manual")

	_, err := p.GetValidAccessToken(context.Background(), constant.FamilyGemini, "gemini-2.5-pro")
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestClearAllRateLimits(t *testing.T) {
	now := time.Now()
	p := newTestPool(t, &stubRefresher{},
		newAccount("a", auth.TierFree, now.Add(time.Hour)),
		newAccount("b", auth.TierFree, now.Add(time.Hour)),
	)
	p.now = func() time.Time { return now }
	p.MarkRateLimited("a", "gemini-2.5-pro", 0)
	p.MarkRateLimited("b", "", 0)

	p.ClearAllRateLimits()
	for _, account := range p.Accounts() {
		assert.False(t, account.BlockedForModel("gemini-2.5-pro", now))
	}
}

func TestParseRetryHint(t *testing.T) {
	ms, ok := ParseRetryHint(`{"error":{"details":[{"retryDelay":"30s"}]}}`)
	require.True(t, ok)
	assert.Equal(t, int64(30_000), ms)

	ms, ok = ParseRetryHint(`{"quotaResetDelay":"2m"}`)
	require.True(t, ok)
	assert.Equal(t, int64(120_000), ms)

	ms, ok = ParseRetryHint(`{"retry_after":15}`)
	require.True(t, ok)
	assert.Equal(t, int64(15_000), ms)

	ms, ok = ParseRetryHint(`rate limited, please try again in 1m 30s`)
	require.True(t, ok)
	assert.Equal(t, int64(90_000), ms)

	ms, ok = ParseRetryHint(`please wait 5s before retrying`)
	require.True(t, ok)
	assert.Equal(t, int64(5_000), ms)

	_, ok = ParseRetryHint(`{"error":{"message":"nope"}}`)
	assert.False(t, ok)
}
