package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testScheduler() *Scheduler {
	return New(Config{
		Interval:     30 * time.Second,
		Jitter:       5 * time.Second,
		TestInterval: 5 * time.Second,
	}, 1)
}

func TestNextDelay(t *testing.T) {
	assert := require.New(t)
	s := testScheduler()

	for i := 0; i < 1000; i++ {
		d := s.NextDelay(false)
		assert.True(d >= 25*time.Second, "delay %s below interval minus jitter", d)
		assert.True(d <= 35*time.Second, "delay %s above interval plus jitter", d)
	}
}

func TestNextDelayTestMode(t *testing.T) {
	assert := require.New(t)
	s := testScheduler()

	for i := 0; i < 10; i++ {
		assert.Equal(5*time.Second, s.NextDelay(true))
	}
}

func TestScheduleFires(t *testing.T) {
	assert := require.New(t)
	s := New(Config{
		Interval:     5 * time.Millisecond,
		Jitter:       time.Millisecond,
		TestInterval: 5 * time.Millisecond,
	}, 1)

	d := s.Schedule(false)
	assert.Equal(d, s.LastDelay())

	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestStop(t *testing.T) {
	s := New(Config{
		Interval:     5 * time.Millisecond,
		Jitter:       time.Millisecond,
		TestInterval: 5 * time.Millisecond,
	}, 1)

	s.Schedule(false)
	s.Stop()

	select {
	case <-s.C():
		t.Fatal("timer fired after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTriggerNow(t *testing.T) {
	s := testScheduler()

	s.Schedule(false)
	s.TriggerNow()

	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("trigger did not fire")
	}
}
