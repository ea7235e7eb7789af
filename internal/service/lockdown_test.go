package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acetrade/session-bridge/internal/model"
)

func TestLockdown_TerminatesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	f.enable2FA(t, u.ID)
	f.addActiveSessions(t, u.ID, 3)

	other := f.addUser(t)
	f.addActiveSessions(t, other.ID, 1)

	n, err := f.lockdown.Lockdown(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	locked, err := f.lockdown.IsLocked(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	count, err := f.directory.Count(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = f.directory.Count(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recent, err := f.activity.Recent(ctx, u.ID, 7)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, model.EventAccountLockdown, recent[0].Event)
	assert.EqualValues(t, 3, recent[0].Detail["sessions_terminated"])
	assert.Contains(t, f.pub.kinds(), model.EventAccountLockdown)

	_, err = f.directory.Register(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestLockdown_RequiresTwoFA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	f.addActiveSessions(t, u.ID, 2)

	_, err := f.lockdown.Lockdown(ctx, u.ID)
	assert.ErrorIs(t, err, ErrTwoFARequired)

	count, err := f.directory.Count(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	locked, err := f.lockdown.IsLocked(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, locked)

	_, err = f.lockdown.Lockdown(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLockdown_IsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	f.enable2FA(t, u.ID)
	f.addActiveSessions(t, u.ID, 2)

	// Losing the audit table makes the last step of the transaction fail.
	_, err := f.db.Exec("DROP TABLE security_logs")
	require.NoError(t, err)

	_, err = f.lockdown.Lockdown(ctx, u.ID)
	require.Error(t, err)

	count, err := f.directory.Count(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	locked, err := f.lockdown.IsLocked(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockdown_RepeatIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	f.enable2FA(t, u.ID)

	_, err := f.lockdown.Lockdown(ctx, u.ID)
	require.NoError(t, err)
	n, err := f.lockdown.Lockdown(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	secret, _ := f.enable2FA(t, u.ID)

	ok, err := f.lockdown.Unlock(ctx, u.ID, "123456")
	require.NoError(t, err)
	assert.False(t, ok, "unlocking an active account is a no-op")

	_, err = f.lockdown.Lockdown(ctx, u.ID)
	require.NoError(t, err)

	f.clk.Advance(5 * time.Minute)
	_, err = f.lockdown.Unlock(ctx, u.ID, "000000")
	assert.ErrorIs(t, err, ErrInvalidTwoFACode)
	locked, err := f.lockdown.IsLocked(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	code, err := totp.GenerateCodeCustom(secret, f.clk.Now(), totpOpts)
	require.NoError(t, err)
	ok, err = f.lockdown.Unlock(ctx, u.ID, code)
	require.NoError(t, err)
	assert.True(t, ok)

	locked, err = f.lockdown.IsLocked(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Contains(t, f.events(t, u.ID), model.EventAccountUnlock)

	_, err = f.tokens.Issue(ctx, u.ID, nil, nil)
	assert.NoError(t, err)
}

func TestLockdown_Status(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	st, err := f.lockdown.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, SecurityStatus{}, st)

	f.enable2FA(t, u.ID)
	f.addActiveSessions(t, u.ID, 2)
	st, err = f.lockdown.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, SecurityStatus{TwoFAEnabled: true, RecoveryKeyAvailable: true, ActiveSessions: 2}, st)

	_, err = f.lockdown.Lockdown(ctx, u.ID)
	require.NoError(t, err)
	st, err = f.lockdown.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Zero(t, st.ActiveSessions)
}
