package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotKeepsSingleTimer(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	slot := NewSlot(clock)

	var fired []string
	slot.Arm(300*time.Millisecond, func() { fired = append(fired, "first") })
	clock.Advance(200 * time.Millisecond)
	slot.Arm(300*time.Millisecond, func() { fired = append(fired, "second") })

	assert.Equal(t, 1, clock.Pending())
	clock.Advance(200 * time.Millisecond)
	assert.Empty(t, fired, "replaced timer must not fire")

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"second"}, fired)
	assert.False(t, slot.Armed())
}

func TestSlotStopCancels(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	slot := NewSlot(clock)

	called := false
	slot.Arm(time.Second, func() { called = true })
	require.True(t, slot.Stop())
	require.False(t, slot.Stop())

	clock.Advance(2 * time.Second)
	assert.False(t, called)
	assert.Zero(t, clock.Pending())
}

func TestFakeClockChainsTimersWithinWindow(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	slot := NewSlot(clock)

	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		slot.Arm(2*time.Second, tick)
	}
	slot.Arm(2*time.Second, tick)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 5, ticks)
	assert.Equal(t, time.Unix(10, 0), clock.Now())
}
