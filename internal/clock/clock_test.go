package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	m := NewMock(start)
	assert.Equal(t, time.UTC, m.Now().Location())
	assert.True(t, m.Now().Equal(start))

	m.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second).UTC(), m.Now())

	m.Set(start)
	assert.True(t, m.Now().Equal(start))
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}

func TestDeadline(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(90*time.Second), Deadline(base, 90*time.Second))
	assert.Equal(t, base.Add(91*time.Second), Deadline(base.Add(900*time.Millisecond), 90*time.Second))
	assert.Equal(t, base.Add(91*time.Second), Deadline(base.Add(time.Nanosecond), 90*time.Second))
	assert.Equal(t, time.UTC, Deadline(base.In(time.FixedZone("CET", 3600)), time.Minute).Location())
}
