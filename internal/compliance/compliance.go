// Package compliance implements the certification test sub-protocol on the
// reserved port. It is dormant until activated by the magic downlink
// pattern; while active it takes over the uplink payload source and decodes
// further downlinks into MAC actions.
package compliance

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/band"
	"github.com/loranode/lorawan-device-agent/internal/mac"
)

// Port is the reserved compliance test port.
const Port = 224

// testPayloadSize is the uplink payload size forced while the test protocol
// runs (the big-endian downlink counter).
const testPayloadSize = 2

// Test protocol commands, carried in the first payload byte of a downlink
// on the compliance port.
const (
	cmdDeactivate       = 0
	cmdEcho             = 1
	cmdConfirmedOn      = 2
	cmdConfirmedOff     = 3
	cmdEchoIncrement    = 4
	cmdLinkCheck        = 5
	cmdDeactivateRejoin = 6
	cmdTxCw             = 7
	cmdDeviceTime       = 8
	cmdSwitchClass      = 9
	cmdPingSlotInfo     = 10
	cmdBeaconTiming     = 11
)

// Record holds the test protocol state. All override fields are ignored
// while Running is false.
type Record struct {
	Running           bool
	StateCode         uint8
	ConfirmedOverride bool
	PortOverride      uint8
	SizeOverride      uint8
	DownlinkCounter   uint16
	LinkCheckPending  bool
	DemodMargin       uint8
	GatewayCount      uint8
}

// Session is the slice of the session controller the test protocol is
// allowed to drive.
type Session interface {
	// SetConfirmedUplinks switches between confirmed and unconfirmed
	// uplinks.
	SetConfirmedUplinks(confirmed bool)

	// EnterTestMode snapshots the application uplink settings and
	// overrides them with the test protocol's port and size.
	EnterTestMode(port, size uint8)

	// LeaveTestMode restores the pre-test uplink settings.
	LeaveTestMode()

	// Rejoin issues a fresh network join.
	Rejoin()

	// ResumeSend stages Send as both the current and the wake-up state.
	ResumeSend()

	// SwitchClass changes the device class and grants a new uplink.
	SwitchClass(class mac.DeviceClass)
}

// Engine is the compliance test engine.
type Engine struct {
	mac mac.Engine
	dev Session

	// adrDefault is the ADR setting restored on deactivation.
	adrDefault bool

	rec  Record
	echo []byte
}

// New creates a new compliance test engine. The engine starts dormant.
func New(engine mac.Engine, dev Session, adrDefault bool) *Engine {
	return &Engine{
		mac:        engine,
		dev:        dev,
		adrDefault: adrDefault,
	}
}

// Running returns true while the test protocol is active.
func (e *Engine) Running() bool {
	return e.rec.Running
}

// Record returns a copy of the test protocol state.
func (e *Engine) Record() Record {
	return e.rec
}

// CountDownlink increments the downlink counter. It must be called for
// every received downlink, on any port, while the protocol may be running.
func (e *Engine) CountDownlink() {
	if e.rec.Running {
		e.rec.DownlinkCounter++
	}
}

// HandleDownlink decodes a downlink received on the compliance port. While
// dormant only the exact activation pattern has any effect; while running
// the first payload byte selects the command.
func (e *Engine) HandleDownlink(ind *mac.McpsIndication) {
	if !e.rec.Running {
		if isActivation(ind.Data) {
			e.activate()
		}
		return
	}

	if len(ind.Data) == 0 {
		return
	}

	e.rec.StateCode = ind.Data[0]
	commandCounter(e.rec.StateCode).Inc()

	switch ind.Data[0] {
	case cmdDeactivate:
		e.deactivate()

	case cmdEcho:
		e.rec.SizeOverride = testPayloadSize

	case cmdConfirmedOn:
		e.rec.ConfirmedOverride = true
		e.dev.SetConfirmedUplinks(true)
		e.rec.StateCode = cmdEcho

	case cmdConfirmedOff:
		e.rec.ConfirmedOverride = false
		e.dev.SetConfirmedUplinks(false)
		e.rec.StateCode = cmdEcho

	case cmdEchoIncrement:
		size := len(ind.Data)
		if size > mac.MaxAppDataSize {
			size = mac.MaxAppDataSize
		}
		e.echo = make([]byte, size)
		e.echo[0] = cmdEchoIncrement
		for i := 1; i < size; i++ {
			e.echo[i] = ind.Data[i] + 1
		}
		e.rec.SizeOverride = uint8(size)

	case cmdLinkCheck:
		res := e.mac.Mlme(mac.MlmeRequest{Type: mac.MlmeLinkCheck})
		log.WithFields(log.Fields{
			"request": mac.MlmeLinkCheck,
			"status":  res.Status,
		}).Info("compliance: mlme request issued")

	case cmdDeactivateRejoin:
		e.deactivate()
		e.dev.Rejoin()

	case cmdTxCw:
		e.handleContinuousWave(ind.Data)
		e.rec.StateCode = cmdEcho

	case cmdDeviceTime:
		e.mac.Mlme(mac.MlmeRequest{Type: mac.MlmeDeviceTime})
		e.dev.ResumeSend()

	case cmdSwitchClass:
		if len(ind.Data) < 2 {
			return
		}
		e.dev.SwitchClass(mac.DeviceClass(ind.Data[1]))

	case cmdPingSlotInfo:
		if len(ind.Data) < 2 {
			return
		}
		e.mac.Mlme(mac.MlmeRequest{
			Type:                mac.MlmePingSlotInfo,
			PingSlotPeriodicity: ind.Data[1],
		})
		e.dev.ResumeSend()

	case cmdBeaconTiming:
		e.mac.Mlme(mac.MlmeRequest{Type: mac.MlmeBeaconTiming})
		e.dev.ResumeSend()
	}
}

// HandleLinkCheck records a link-check result for inclusion in the next
// uplink. Results arriving while the protocol is dormant are dropped.
func (e *Engine) HandleLinkCheck(m *mac.MlmeConfirm) {
	if !e.rec.Running {
		return
	}
	e.rec.LinkCheckPending = true
	e.rec.DemodMargin = m.DemodMargin
	e.rec.GatewayCount = m.GatewayCount
}

// PrepareUplink builds the payload for the next uplink on the compliance
// port. A pending link-check result takes precedence and is reported
// one-shot.
func (e *Engine) PrepareUplink() []byte {
	if e.rec.LinkCheckPending {
		e.rec.LinkCheckPending = false
		e.rec.StateCode = cmdEcho
		return []byte{cmdLinkCheck, e.rec.DemodMargin, e.rec.GatewayCount}
	}

	switch e.rec.StateCode {
	case cmdEchoIncrement:
		e.rec.StateCode = cmdEcho
		return e.echo
	default:
		out := make([]byte, testPayloadSize)
		binary.BigEndian.PutUint16(out, e.rec.DownlinkCounter)
		return out
	}
}

func isActivation(data []byte) bool {
	if len(data) != 4 {
		return false
	}
	for _, b := range data {
		if b != 0x01 {
			return false
		}
	}
	return true
}

func (e *Engine) activate() {
	e.rec = Record{
		Running:      true,
		StateCode:    cmdEcho,
		PortOverride: Port,
		SizeOverride: testPayloadSize,
	}
	e.dev.SetConfirmedUplinks(false)
	e.dev.EnterTestMode(Port, testPayloadSize)

	e.mac.SetParam(mac.MibADR, mac.MibValue{Bool: true})
	if band.DutyCycleEnforced() {
		e.mac.SetDutyCycle(false)
	}

	activationCounter().Inc()
	log.Info("compliance: test protocol activated")
}

func (e *Engine) deactivate() {
	e.dev.LeaveTestMode()
	e.rec.DownlinkCounter = 0
	e.rec.Running = false
	e.rec.LinkCheckPending = false

	e.mac.SetParam(mac.MibADR, mac.MibValue{Bool: e.adrDefault})
	if band.DutyCycleEnforced() {
		e.mac.SetDutyCycle(true)
	}

	log.Info("compliance: test protocol deactivated")
}

func (e *Engine) handleContinuousWave(data []byte) {
	switch len(data) {
	case 3:
		res := e.mac.Mlme(mac.MlmeRequest{
			Type: mac.MlmeTxCw,
			CW: mac.ContinuousWaveParams{
				Timeout: binary.BigEndian.Uint16(data[1:3]),
			},
		})
		log.WithFields(log.Fields{
			"request": mac.MlmeTxCw,
			"status":  res.Status,
		}).Info("compliance: mlme request issued")
	case 7:
		res := e.mac.Mlme(mac.MlmeRequest{
			Type: mac.MlmeTxCw1,
			CW: mac.ContinuousWaveParams{
				Timeout:   binary.BigEndian.Uint16(data[1:3]),
				Frequency: (uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])) * 100,
				Power:     data[6],
			},
		})
		log.WithFields(log.Fields{
			"request": mac.MlmeTxCw1,
			"status":  res.Status,
		}).Info("compliance: mlme request issued")
	}
}
