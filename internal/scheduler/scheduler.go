// Package scheduler arms the one-shot uplink timer. Each Cycle-state entry
// re-arms the timer with a freshly computed delay; expiry is delivered over
// a channel so all session mutation stays on the controller's goroutine.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the scheduler configuration.
type Config struct {
	// Interval is the base transmission interval.
	Interval time.Duration

	// Jitter is the maximum random offset applied to Interval, in both
	// directions.
	Jitter time.Duration

	// TestInterval is the fixed interval used while the compliance test
	// protocol is running.
	TestInterval time.Duration
}

// Scheduler computes the next transmission delay and arms a one-shot timer.
type Scheduler struct {
	mu sync.Mutex

	cfg   Config
	rnd   *rand.Rand
	timer *time.Timer
	fire  chan struct{}

	lastDelay time.Duration
}

// New creates a new scheduler.
func New(cfg Config, seed int64) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		rnd:  rand.New(rand.NewSource(seed)),
		fire: make(chan struct{}, 1),
	}
}

// NextDelay computes the delay for the next transmission. While the
// compliance test protocol runs the delay is fixed; otherwise it is the
// base interval with a uniform random jitter applied.
func (s *Scheduler) NextDelay(testMode bool) time.Duration {
	if testMode {
		return s.cfg.TestInterval
	}

	s.mu.Lock()
	jitter := time.Duration(s.rnd.Int63n(int64(2*s.cfg.Jitter)+1)) - s.cfg.Jitter
	s.mu.Unlock()

	return s.cfg.Interval + jitter
}

// Schedule computes the next delay and arms the timer with it. A previously
// armed timer is stopped first. It returns the armed delay.
func (s *Scheduler) Schedule(testMode bool) time.Duration {
	d := s.NextDelay(testMode)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.expire)
	s.lastDelay = d

	log.WithFields(log.Fields{
		"delay":     d,
		"test_mode": testMode,
	}).Debug("scheduler: next uplink scheduled")

	return d
}

// Stop disarms the timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

// TriggerNow short-circuits the armed timer, e.g. when a downlink signals
// that the server has pending data.
func (s *Scheduler) TriggerNow() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.expire()
}

// C returns the expiry channel consumed by the controller loop.
func (s *Scheduler) C() <-chan struct{} {
	return s.fire
}

// LastDelay returns the most recently armed delay.
func (s *Scheduler) LastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelay
}

func (s *Scheduler) expire() {
	select {
	case s.fire <- struct{}{}:
	default:
	}
}
