// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/acetrade/session-bridge/internal/model"
)

// SecurityEventsQueue is the durable queue security events are published to.
const SecurityEventsQueue = "security.events"

// SecurityEvent is published after a security log entry has been stored.
// It carries the entry itself so downstream consumers can alert or archive
// without querying the primary database.
type SecurityEvent struct {
	LogID      uint64         `json:"log_id"`
	UserID     uint64         `json:"user_id"`
	Event      string         `json:"event"`
	IP         string         `json:"ip,omitempty"`
	Device     string         `json:"device,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

// NewSecurityEvent converts a stored log entry into its wire form.
func NewSecurityEvent(e model.SecurityLogEntry) SecurityEvent {
	ev := SecurityEvent{
		LogID:      e.ID,
		UserID:     e.UserID,
		Event:      string(e.Event),
		Detail:     e.Detail,
		OccurredAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.IP != nil {
		ev.IP = *e.IP
	}
	if e.Device != nil {
		ev.Device = *e.Device
	}
	return ev
}
