package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acetrade/session-bridge/internal/model"
)

func TestTokenService_RedeemWithinTTLThenAlreadyUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	ip, device := "10.0.0.1", "iPhone"
	issued, err := f.tokens.Issue(ctx, u.ID, &ip, &device)
	require.NoError(t, err)
	assert.Equal(t, 5, issued.TTLMinutes)
	assert.Equal(t, t0.Add(5*time.Minute), issued.ExpiresAt)
	assert.NotEmpty(t, issued.Token)

	f.clk.Advance(4 * time.Minute)
	rd, err := f.tokens.Redeem(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, Redemption{UserID: u.ID, Tier: model.TierBasic, TwoFAEnabled: false}, rd)

	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.Equal(t, t0.Add(4*time.Minute), *got.LastLogin)

	assert.Equal(t, []model.EventKind{
		model.EventUserRegistered, model.EventSessionGenerated, model.EventSessionValidated,
	}, f.events(t, u.ID))
}

func TestTokenService_ExpiredTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)

	f.clk.Advance(6 * time.Minute)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	// The flip to used happened, but the caller still sees expiry.
	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_ExpiryWinsOverUsedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	require.NoError(t, err)

	f.clk.Advance(5 * time.Minute)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_ExactExpiryIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)
	f.clk.Set(issued.ExpiresAt)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_UnknownToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Redeem(ctx, "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.tokens.Redeem(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_ConcurrentRedeemSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		used    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tokens.Redeem(ctx, issued.Token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, ErrAlreadyUsed):
				used++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, used)
}

func TestTokenService_RateLimitCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	for i := 0; i < DefaultMaxSessionsPerHour; i++ {
		_, err := f.tokens.Issue(ctx, u.ID, nil, nil)
		require.NoError(t, err, "issue %d", i+1)
		f.clk.Advance(time.Minute)
	}
	_, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, DefaultMaxSessionsPerHour,
		f.count(t, "SELECT COUNT(*) FROM one_time_sessions WHERE user_id=?", u.ID))

	// Once the oldest issuance leaves the window another is allowed.
	f.clk.Set(t0.Add(time.Hour + time.Second))
	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.NoError(t, err)
}

func TestTokenService_CleanupKeepsIssuanceCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	for i := 0; i < DefaultMaxSessionsPerHour; i++ {
		_, err := f.tokens.Issue(ctx, u.ID, nil, nil)
		require.NoError(t, err)
	}
	f.clk.Advance(10 * time.Minute)
	_, err := f.tokens.Cleanup(ctx)
	require.NoError(t, err)

	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	_, _, err = NewSweeper(f.tokens, f.codes, f.clk, 0, quietLogger()).RunOnce(ctx)
	require.NoError(t, err)
	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	f.clk.Set(t0.Add(time.Hour + time.Second))
	n, err := f.tokens.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, DefaultMaxSessionsPerHour, n)
	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.NoError(t, err)
}

func TestTokenService_SubsecondIssueKeepsFullTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	f.clk.Set(t0.Add(900 * time.Millisecond))
	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute+time.Second), issued.ExpiresAt)

	f.clk.Advance(5*time.Minute - 500*time.Millisecond)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.NoError(t, err)
}

func TestTokenService_RateLimitIsPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.addUser(t), f.addUser(t)

	for i := 0; i < DefaultMaxSessionsPerHour; i++ {
		_, err := f.tokens.Issue(ctx, a.ID, nil, nil)
		require.NoError(t, err)
	}
	_, err := f.tokens.Issue(ctx, b.ID, nil, nil)
	assert.NoError(t, err)
}

func TestTokenService_IssueRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.tokens.Issue(context.Background(), 999, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenService_CollisionsBecomeConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	f.tokens.rand = repeatReader{b: 7}
	_, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)

	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM one_time_sessions WHERE user_id=?", u.ID))
}

func TestTokenService_LockedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	f.enable2FA(t, u.ID)

	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)

	_, err = f.lockdown.Lockdown(ctx, u.ID)
	require.NoError(t, err)

	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, ErrAccountLocked)

	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrAccountLocked)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestTokenService_AuditNeverCarriesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	issued, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.tokens.Redeem(ctx, issued.Token)
	require.NoError(t, err)

	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM security_logs WHERE detail_json LIKE ?", "%"+issued.Token+"%"))
}

func TestTokenService_RedemptionURL(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "https://terminal.example.com/auth/login?token=abc-123", f.tokens.RedemptionURL("abc-123"))

	f.tokens.cfg.TerminalURL = "https://terminal.example.com/"
	f.tokens.cfg.AuthPath = "/sso"
	assert.Equal(t, "https://terminal.example.com/sso?token=abc", f.tokens.RedemptionURL("abc"))
}

func TestIsActionableURL(t *testing.T) {
	cases := map[string]bool{
		"https://terminal.example.com/auth/login?token=x": true,
		"https://203.0.113.7/auth/login":                   true,
		"http://terminal.example.com/auth/login":           false,
		"https://localhost:3000/auth/login":                false,
		"https://LOCALHOST/auth/login":                     false,
		"https://127.0.0.1/auth/login":                     false,
		"https://127.8.9.10/auth/login":                    false,
		"https://[::1]/auth/login":                         false,
		"https://0.0.0.0/auth/login":                       false,
		"https://[::]/auth/login":                          false,
		"https:///auth/login":                              false,
		"::not a url":                                      false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, IsActionableURL(raw), raw)
	}
}

func TestTokenService_Cleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	for i := 0; i < 2; i++ {
		_, err := f.tokens.Issue(ctx, u.ID, nil, nil)
		require.NoError(t, err)
	}
	f.clk.Advance(58 * time.Minute)
	live, err := f.tokens.Issue(ctx, u.ID, nil, nil)
	require.NoError(t, err)

	// Expired but still inside the hourly window.
	n, err := f.tokens.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clk.Advance(3 * time.Minute)
	n, err = f.tokens.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = f.tokens.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.tokens.Redeem(ctx, live.Token)
	assert.NoError(t, err)
}

func TestTokenService_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	var last IssuedToken
	for i := 0; i < 3; i++ {
		var err error
		last, err = f.tokens.Issue(ctx, u.ID, nil, nil)
		require.NoError(t, err)
		f.clk.Advance(time.Minute)
	}

	hist, err := f.tokens.History(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, last.SessionID, hist[0].ID)
	for _, s := range hist {
		assert.Empty(t, s.Token)
	}
}
