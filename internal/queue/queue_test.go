package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acetrade/session-bridge/internal/model"
)

func TestNewSecurityEvent(t *testing.T) {
	ip := "203.0.113.5"
	ev := NewSecurityEvent(model.SecurityLogEntry{
		ID:        9,
		UserID:    3,
		Event:     model.EventAccountLockdown,
		IP:        &ip,
		Detail:    map[string]any{"sessions_terminated": 2},
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("X", 3600)),
	})
	assert.Equal(t, SecurityEvent{
		LogID:      9,
		UserID:     3,
		Event:      "account_lockdown",
		IP:         ip,
		Detail:     map[string]any{"sessions_terminated": 2},
		OccurredAt: "2026-03-02T09:00:00Z",
	}, ev)
}

func TestFormatLine(t *testing.T) {
	line := FormatLine(SecurityEvent{
		LogID:      1,
		UserID:     2,
		Event:      "session_revoked",
		IP:         "10.0.0.1",
		Device:     "Pixel 8",
		Detail:     map[string]any{"z": 1, "a": "x"},
		OccurredAt: "2026-03-02T09:00:00Z",
	})
	assert.Equal(t,
		`[2026-03-02T09:00:00Z] session_revoked | log_id=1 | user_id=2 | ip=10.0.0.1 | device="Pixel 8" | a=x | z=1`+"\n",
		line)
}

func TestConsumer_HandleAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	logger := log.New("test")
	c := NewConsumer("", dir, logger)
	assert.Equal(t, DefaultURL, c.URL)
	assert.Equal(t, SecurityEventsQueue, c.Queue)

	for _, ev := range []string{"account_lockdown", "account_unlock"} {
		body, err := json.Marshal(SecurityEvent{LogID: 1, UserID: 5, Event: ev, OccurredAt: "2026-03-02T09:00:00Z"})
		require.NoError(t, err)
		require.NoError(t, c.Handle(body))
	}

	raw, err := os.ReadFile(filepath.Join(dir, SecurityLogFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "account_lockdown")
	assert.Contains(t, lines[1], "account_unlock")
}

func TestConsumer_HandleRejectsBadPayloads(t *testing.T) {
	c := NewConsumer("", t.TempDir(), log.New("test"))
	assert.Error(t, c.Handle([]byte("{")))
	assert.Error(t, c.Handle([]byte(`{"event":"account_unlock"}`)))
	assert.Error(t, c.Handle([]byte(`{"user_id":4}`)))
}

func TestNewPublisherDefaults(t *testing.T) {
	p := NewPublisher("")
	assert.Equal(t, DefaultURL, p.URL)
	assert.Equal(t, SecurityEventsQueue, p.Queue)
}
