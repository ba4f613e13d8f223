// Package board abstracts the peripherals read by the application payload:
// the potentiometer, the supply-voltage monitor and the indicator LED. All
// calls are simple synchronous reads.
package board

import (
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Board is the peripheral surface consumed by payload preparation and the
// downlink command router.
type Board interface {
	// PotiLevel returns the potentiometer setting in percent (0-100).
	PotiLevel() uint8

	// BatteryVoltage returns the supply voltage in millivolt.
	BatteryVoltage() uint16

	// SetIndicator drives the application indicator output.
	SetIndicator(on bool)

	// RandomSeed returns a seed for the session's random source.
	RandomSeed() int64
}

// Simulated implements Board without hardware. The poti level drifts
// randomly, the supply voltage is fixed.
type Simulated struct {
	mu        sync.Mutex
	poti      uint8
	indicator bool
}

// NewSimulated creates a new simulated board.
func NewSimulated() *Simulated {
	return &Simulated{poti: 50}
}

// PotiLevel implements Board.
func (b *Simulated) PotiLevel() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	delta := int(b.poti) + rand.Intn(11) - 5
	if delta < 0 {
		delta = 0
	}
	if delta > 100 {
		delta = 100
	}
	b.poti = uint8(delta)
	return b.poti
}

// BatteryVoltage implements Board.
func (b *Simulated) BatteryVoltage() uint16 {
	return 3300
}

// SetIndicator implements Board.
func (b *Simulated) SetIndicator(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on != b.indicator {
		log.WithField("on", on).Info("board: indicator changed")
	}
	b.indicator = on
}

// Indicator returns the current indicator state.
func (b *Simulated) Indicator() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indicator
}

// RandomSeed implements Board.
func (b *Simulated) RandomSeed() int64 {
	return rand.Int63()
}
