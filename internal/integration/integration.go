// Package integration publishes device events to an external system.
package integration

import (
	"time"
)

// Event types.
const (
	EventUp     = "up"
	EventDown   = "down"
	EventJoin   = "join"
	EventBeacon = "beacon"
)

// Publisher publishes device events. Implementations must be safe for use
// from a single goroutine; publishing is best effort and must not block the
// session state machine indefinitely.
type Publisher interface {
	// PublishEvent publishes the given event payload under the given
	// event type.
	PublishEvent(event string, v interface{}) error

	// Close closes the publisher.
	Close() error
}

// UplinkEvent is published after a transmission was confirmed by the MAC
// layer.
type UplinkEvent struct {
	ID        string    `json:"id"`
	DevEUI    string    `json:"devEUI"`
	Time      time.Time `json:"time"`
	Confirmed bool      `json:"confirmed"`
	Acked     bool      `json:"acked"`
	Port      uint8     `json:"fPort"`
	Counter   uint32    `json:"fCnt"`
	Datarate  int       `json:"dr"`
	TxPower   int       `json:"txPower"`
	Data      []byte    `json:"data"`
}

// DownlinkEvent is published for every received downlink.
type DownlinkEvent struct {
	ID      string    `json:"id"`
	DevEUI  string    `json:"devEUI"`
	Time    time.Time `json:"time"`
	Port    uint8     `json:"fPort"`
	Counter uint32    `json:"fCnt"`
	RxSlot  string    `json:"rxSlot"`
	RSSI    int       `json:"rssi"`
	SNR     float64   `json:"loRaSNR"`
	Data    []byte    `json:"data"`
}

// JoinEvent is published after the device activated on the network.
type JoinEvent struct {
	ID      string    `json:"id"`
	DevEUI  string    `json:"devEUI"`
	Time    time.Time `json:"time"`
	DevAddr string    `json:"devAddr"`
}

// BeaconEvent is published when a Class B beacon was received.
type BeaconEvent struct {
	ID        string    `json:"id"`
	DevEUI    string    `json:"devEUI"`
	Time      time.Time `json:"time"`
	Frequency uint32    `json:"frequency"`
	Datarate  int       `json:"dr"`
	RSSI      int       `json:"rssi"`
	SNR       float64   `json:"loRaSNR"`
}

// Nop is a Publisher discarding all events.
type Nop struct{}

// PublishEvent implements Publisher.
func (Nop) PublishEvent(event string, v interface{}) error {
	return nil
}

// Close implements Publisher.
func (Nop) Close() error {
	return nil
}
