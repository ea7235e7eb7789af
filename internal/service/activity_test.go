package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acetrade/session-bridge/internal/model"
)

func TestActivityLog_RecentWindowAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	f.activity.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventSessionGenerated})
	f.clk.Advance(8 * 24 * time.Hour)
	f.activity.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventSessionValidated})
	f.clk.Advance(time.Hour)
	ip := "198.51.100.4"
	f.activity.Append(ctx, model.SecurityLogEntry{
		UserID: u.ID,
		Event:  model.EventSessionRevoked,
		IP:     &ip,
		Detail: map[string]any{"active_session_id": 12},
	})

	recent, err := f.activity.Recent(ctx, u.ID, 7)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.EventSessionRevoked, recent[0].Event)
	assert.Equal(t, model.EventSessionValidated, recent[1].Event)
	require.NotNil(t, recent[0].IP)
	assert.Equal(t, ip, *recent[0].IP)
	assert.EqualValues(t, 12, recent[0].Detail["active_session_id"])

	recent, err = f.activity.Recent(ctx, u.ID, 30)
	require.NoError(t, err)
	assert.Len(t, recent, 4, "the registration entry is included")
}

func TestActivityLog_RecentIsCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	for i := 0; i < 30; i++ {
		f.activity.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventSessionGenerated})
	}
	recent, err := f.activity.Recent(ctx, u.ID, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 20)

	none, err := f.activity.Recent(ctx, 4040, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestActivityLog_BackgroundWriterDrainsOnClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	f.activity.Start()
	for i := 0; i < 50; i++ {
		f.activity.Append(ctx, model.SecurityLogEntry{
			UserID: u.ID,
			Event:  model.EventSessionGenerated,
			Detail: map[string]any{"n": i},
		})
	}
	f.activity.Close()

	assert.Equal(t, 50, f.count(t,
		"SELECT COUNT(*) FROM security_logs WHERE user_id=? AND event_type=?", u.ID, string(model.EventSessionGenerated)))

	// Entries after Close are still stored, synchronously.
	f.activity.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventTierUpgraded})
	assert.Equal(t, 1, f.count(t,
		"SELECT COUNT(*) FROM security_logs WHERE user_id=? AND event_type=?", u.ID, string(model.EventTierUpgraded)))
}

func TestActivityLog_PublishesStoredEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	f.activity.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventSessionRevoked})
	kinds := f.pub.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, model.EventSessionRevoked, kinds[len(kinds)-1])

	f.pub.mu.Lock()
	last := f.pub.events[len(f.pub.events)-1]
	f.pub.mu.Unlock()
	assert.NotZero(t, last.ID)
	assert.Equal(t, t0, last.CreatedAt)
}

func TestActivityLog_FailedWriteIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)
	before := len(f.pub.kinds())

	_, err := f.db.Exec("DROP TABLE security_logs")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		f.activity.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventSessionRevoked})
	})
	assert.Len(t, f.pub.kinds(), before, "unstored entries are not published")
}

func TestActivityLog_NoPublisher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t)

	log := NewActivityLog(f.logs, nil, f.clk, quietLogger(), ActivityOptions{})
	log.Append(ctx, model.SecurityLogEntry{UserID: u.ID, Event: model.EventTierUpgraded, Detail: map[string]any{"tier": string(model.TierPro)}})
	recent, err := log.Recent(ctx, u.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, "pro", recent[0].Detail["tier"])
}
