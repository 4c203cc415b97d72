package hostloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutMillis(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want int
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{time.Millisecond + 1, 2},
		{1500 * time.Microsecond, 2},
		{time.Hour * 24 * 365, maxTimeoutMillis},
	} {
		assert.Equal(t, tc.want, timeoutMillis(tc.d), tc.d.String())
	}
}

func TestLowerTimeout(t *testing.T) {
	timeout := -1
	lowerTimeout(&timeout, -1)
	assert.Equal(t, -1, timeout)
	lowerTimeout(&timeout, 50)
	assert.Equal(t, 50, timeout)
	lowerTimeout(&timeout, 80)
	assert.Equal(t, 50, timeout)
	lowerTimeout(&timeout, 0)
	assert.Equal(t, 0, timeout)
}

func TestClock_RunOrderAndBatch(t *testing.T) {
	ft := newFakeTime()
	r := newTestReactor(t, WithTimeSource(ft.Now))
	c := r.Clock(ClockRealtime)

	var order []string
	a := c.NewTimer(func() { order = append(order, "a") })
	b := c.NewTimer(func() { order = append(order, "b") })
	late := c.NewTimer(func() { order = append(order, "late") })

	b.ModAfter(2 * time.Millisecond)
	a.ModAfter(time.Millisecond)
	late.ModAfter(time.Second)

	d, ok := c.deadline()
	require.True(t, ok)
	assert.Equal(t, time.Millisecond, d)

	assert.Zero(t, c.run())

	ft.Advance(5 * time.Millisecond)
	assert.Equal(t, 2, c.run())
	assert.Equal(t, []string{"a", "b"}, order)
	assert.False(t, a.Pending())
	assert.True(t, late.Pending())
	assert.Equal(t, ft.Now().Add(995*time.Millisecond), late.ExpireTime())
}

func TestClock_RearmRunsOnLaterPass(t *testing.T) {
	ft := newFakeTime()
	r := newTestReactor(t, WithTimeSource(ft.Now))
	c := r.Clock(ClockRealtime)

	var calls int
	var tm *Timer
	tm = c.NewTimer(func() {
		calls++
		// already expired, but must wait for the next pass
		tm.Mod(c.Now().Add(-time.Second))
	})
	tm.Mod(c.Now())

	assert.Equal(t, 1, c.run())
	assert.Equal(t, 1, calls)
	assert.True(t, tm.Pending())

	assert.Equal(t, 1, c.run())
	assert.Equal(t, 2, calls)
}

func TestClock_DelFromEarlierCallback(t *testing.T) {
	ft := newFakeTime()
	r := newTestReactor(t, WithTimeSource(ft.Now))
	c := r.Clock(ClockHost)

	var second *Timer
	var secondRan bool
	first := c.NewTimer(func() { second.Del() })
	second = c.NewTimer(func() { secondRan = true })
	first.ModAfter(time.Millisecond)
	second.ModAfter(2 * time.Millisecond)

	ft.Advance(time.Second)
	assert.Equal(t, 1, c.run())
	assert.False(t, secondRan)
	assert.False(t, second.Pending())
	assert.True(t, second.ExpireTime().IsZero())
}

func TestClock_VirtualFreezes(t *testing.T) {
	ft := newFakeTime()
	r := newTestReactor(t, WithTimeSource(ft.Now))
	c := r.Clock(ClockVirtual)

	start := c.Now()
	var fired bool
	tm := c.NewTimer(func() { fired = true })
	tm.Mod(start.Add(10 * time.Millisecond))

	c.Enable(false)
	assert.False(t, c.Enabled())
	ft.Advance(time.Second)
	assert.Equal(t, start, c.Now())
	_, ok := c.deadline()
	assert.False(t, ok)
	assert.Zero(t, c.run())

	c.Enable(true)
	assert.Equal(t, start, c.Now())
	ft.Advance(10 * time.Millisecond)
	assert.Equal(t, start.Add(10*time.Millisecond), c.Now())
	assert.Equal(t, 1, c.run())
	assert.True(t, fired)
}

func TestClockKind_String(t *testing.T) {
	assert.Equal(t, "realtime", ClockRealtime.String())
	assert.Equal(t, "virtual", ClockVirtual.String())
	assert.Equal(t, "host", ClockHost.String())
	assert.Equal(t, "unknown", ClockKind(42).String())
	assert.Nil(t, (&Reactor{}).Clock(ClockKind(42)))
}
