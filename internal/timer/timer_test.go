package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestEvery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	r := NewRegistry(WithClock(clock.now))

	fired := 0
	r.Every(time.Second, func() { fired++ })
	assert.Equal(t, 1, r.Len())

	r.Dispatch()
	assert.Equal(t, 0, fired, "not due yet")

	clock.advance(999 * time.Millisecond)
	r.Dispatch()
	assert.Equal(t, 0, fired)

	clock.advance(time.Millisecond)
	r.Dispatch()
	r.Dispatch()
	assert.Equal(t, 1, fired, "fires once per deadline")

	// a late dispatch keeps the original schedule
	clock.advance(1300 * time.Millisecond)
	r.Dispatch()
	assert.Equal(t, 2, fired)
	clock.advance(700 * time.Millisecond)
	r.Dispatch()
	assert.Equal(t, 3, fired)
}

func TestMissedTicksAreSkipped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRegistry(WithClock(clock.now))
	fired := 0
	r.Every(time.Second, func() { fired++ })

	clock.advance(5 * time.Second)
	r.Dispatch()
	r.Dispatch()
	assert.Equal(t, 1, fired)

	clock.advance(time.Second)
	r.Dispatch()
	assert.Equal(t, 2, fired)
}

func TestStop(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRegistry(WithClock(clock.now))

	var a, b int
	ta := r.Every(time.Second, func() { a++ })
	r.Every(time.Second, func() { b++ })

	ta.Stop()
	ta.Stop()
	assert.Equal(t, 1, r.Len())

	clock.advance(time.Second)
	r.Dispatch()
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestCallbackMayStopItself(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRegistry(WithClock(clock.now))

	fired := 0
	var tm *Timer
	tm = r.Every(0, func() {
		fired++
		tm.Stop()
		r.Every(time.Hour, func() {})
	})

	r.Dispatch()
	r.Dispatch()
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, r.Len())
}
