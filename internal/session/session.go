// Package session implements the device lifecycle state machine: context
// restore, commissioning, network join, Class B negotiation and the periodic
// uplink cycle. All session state is owned by the controller goroutine; the
// MAC engine callbacks fire synchronously from within Tick on that same
// goroutine.
package session

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/board"
	"github.com/loranode/lorawan-device-agent/internal/compliance"
	"github.com/loranode/lorawan-device-agent/internal/integration"
	"github.com/loranode/lorawan-device-agent/internal/mac"
	"github.com/loranode/lorawan-device-agent/internal/nvm"
	"github.com/loranode/lorawan-device-agent/internal/scheduler"
)

// DeviceState is a state of the device state machine.
type DeviceState int

// Device states.
const (
	StateRestore DeviceState = iota
	StateStart
	StateJoin
	StateSend
	StateReqDeviceTime
	StateReqPingSlotAck
	StateReqBeaconTiming
	StateBeaconAcquisition
	StateSwitchClass
	StateCycle
	StateSleep
)

var stateStrings = map[DeviceState]string{
	StateRestore:           "restore",
	StateStart:             "start",
	StateJoin:              "join",
	StateSend:              "send",
	StateReqDeviceTime:     "req_device_time",
	StateReqPingSlotAck:    "req_ping_slot_ack",
	StateReqBeaconTiming:   "req_beacon_timing",
	StateBeaconAcquisition: "beacon_acquisition",
	StateSwitchClass:       "switch_class",
	StateCycle:             "cycle",
	StateSleep:             "sleep",
}

// String implements fmt.Stringer.
func (s DeviceState) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// defaultDataSize is the application payload size on the default port.
const defaultDataSize = 4

// Config holds the session controller configuration.
type Config struct {
	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	NetID   lorawan.NetID

	// Activation selects OTAA or ABP commissioning.
	Activation mac.Activation

	// DevAddr is the ABP device address. The zero value means a random
	// address is assigned on first boot.
	DevAddr lorawan.DevAddr

	ADR           bool
	PublicNetwork bool
	MaxRxError    time.Duration

	// UseBeaconTiming selects the deprecated beacon-timing MAC command for
	// time synchronization instead of the device-time command.
	UseBeaconTiming     bool
	PingSlotPeriodicity uint8

	Confirmed       bool
	ConfirmedTrials uint8
	Port            uint8
	Datarate        int

	Scheduler scheduler.Config
}

// UplinkSnapshot is the last issued uplink request. Confirm callbacks do not
// echo the payload back, so it is captured at request time.
type UplinkSnapshot struct {
	Confirmed bool
	Port      uint8
	Data      []byte
}

// Session is the controller-owned session state.
type Session struct {
	DeviceState DeviceState

	// WakeUpState is the state resumed when the uplink timer expires while
	// the device is activated.
	WakeUpState DeviceState

	// NextTx gates whether a new transmission may be started.
	NextTx bool

	Confirmed bool
	Port      uint8
	Data      []byte
	DataSize  uint8
	LedOn     bool

	LastUplink UplinkSnapshot
}

// Controller drives the device state machine.
type Controller struct {
	cfg    Config
	engine mac.Engine
	store  nvm.Store
	sched  *scheduler.Scheduler
	brd    board.Board
	pub    integration.Publisher
	comp   *compliance.Engine
	rnd    *rand.Rand

	sess         Session
	backupSize   uint8
	pendingClass mac.DeviceClass

	pending int32
	wake    chan struct{}
}

// New creates a new session controller and registers it as the MAC engine's
// callback handler.
func New(cfg Config, engine mac.Engine, store nvm.Store, brd board.Board, pub integration.Publisher) *Controller {
	c := Controller{
		cfg:    cfg,
		engine: engine,
		store:  store,
		sched:  scheduler.New(cfg.Scheduler, brd.RandomSeed()),
		brd:    brd,
		pub:    pub,
		rnd:    rand.New(rand.NewSource(brd.RandomSeed())),
		wake:   make(chan struct{}, 1),
	}
	c.comp = compliance.New(engine, &c, cfg.ADR)
	c.sess = Session{
		DeviceState: StateRestore,
		WakeUpState: StateStart,
		NextTx:      true,
		Confirmed:   cfg.Confirmed,
		Port:        cfg.Port,
		DataSize:    defaultDataSize,
	}

	engine.SetHandler(&c)
	engine.SetNotify(c.notifyMacPending)
	return &c
}

// Session returns a copy of the current session state.
func (c *Controller) Session() Session {
	return c.sess
}

// Compliance returns the compliance test engine.
func (c *Controller) Compliance() *compliance.Engine {
	return c.comp
}

// Run drives the state machine until ctx is canceled. The session context is
// stored on every Sleep entry and once more on shutdown.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.saveContext()
			return nil
		default:
		}

		if err := c.RunOnce(); err != nil {
			return err
		}
		if c.sess.DeviceState != StateSleep {
			continue
		}

		c.saveContext()
		if atomic.SwapInt32(&c.pending, 0) != 0 {
			// The engine queued callbacks while we were stepping.
			continue
		}

		select {
		case <-ctx.Done():
			c.saveContext()
			return nil
		case <-c.sched.C():
			c.onTxTimer()
		case <-c.wake:
		}
	}
}

// RunOnce executes a single pass: deliver pending MAC callbacks, handle an
// expired or short-circuited uplink timer, then one state-machine step.
func (c *Controller) RunOnce() error {
	c.engine.Tick()
	select {
	case <-c.sched.C():
		c.onTxTimer()
	default:
	}
	return c.step()
}

// onTxTimer resumes the state machine after the uplink timer expired. An
// unjoined device retries the join instead.
func (c *Controller) onTxTimer() {
	v, status := c.engine.GetParam(mac.MibNetworkActivation)
	if status != mac.StatusOK {
		return
	}
	if v.Activation == mac.ActivationNone {
		c.joinNetwork()
		return
	}
	c.sess.DeviceState = c.sess.WakeUpState
	c.sess.NextTx = true
}

func (c *Controller) notifyMacPending() {
	atomic.StoreInt32(&c.pending, 1)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) saveContext() {
	act, _ := c.engine.GetParam(mac.MibNetworkActivation)
	if act.Activation == mac.ActivationNone {
		return
	}
	addr, _ := c.engine.GetParam(mac.MibDevAddr)
	class, _ := c.engine.GetParam(mac.MibDeviceClass)
	adr, _ := c.engine.GetParam(mac.MibADR)

	err := c.store.Store(nvm.Context{
		DevEUI:      c.cfg.DevEUI,
		DevAddr:     addr.DevAddr,
		Activation:  act.Activation,
		DeviceClass: class.Class,
		ADR:         adr.Bool,
		StoredAt:    time.Now(),
	})
	if err != nil {
		log.WithError(err).Warning("session: store context error")
		return
	}
	log.Debug("session: context stored")
}

func (c *Controller) timeSyncState() DeviceState {
	if c.cfg.UseBeaconTiming {
		return StateReqBeaconTiming
	}
	return StateReqDeviceTime
}

func (c *Controller) publish(event string, v interface{}) {
	if c.pub == nil {
		return
	}
	if err := c.pub.PublishEvent(event, v); err != nil {
		log.WithError(err).WithField("event", event).Error("session: publish event error")
	}
}

func eventID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}

// SetConfirmedUplinks implements compliance.Session.
func (c *Controller) SetConfirmedUplinks(confirmed bool) {
	c.sess.Confirmed = confirmed
}

// EnterTestMode implements compliance.Session.
func (c *Controller) EnterTestMode(port, size uint8) {
	c.backupSize = c.sess.DataSize
	c.sess.Confirmed = false
	c.sess.Port = port
	c.sess.DataSize = size
}

// LeaveTestMode implements compliance.Session.
func (c *Controller) LeaveTestMode() {
	c.sess.Confirmed = c.cfg.Confirmed
	c.sess.Port = c.cfg.Port
	c.sess.DataSize = c.backupSize
}

// Rejoin implements compliance.Session.
func (c *Controller) Rejoin() {
	c.joinNetwork()
}

// ResumeSend implements compliance.Session.
func (c *Controller) ResumeSend() {
	c.sess.WakeUpState = StateSend
	c.sess.DeviceState = StateSend
}

// SwitchClass implements compliance.Session. The switch itself happens in
// the state machine, a new uplink is granted so the class change is reported
// right away.
func (c *Controller) SwitchClass(class mac.DeviceClass) {
	c.pendingClass = class
	c.sess.DeviceState = StateSwitchClass
	c.sess.NextTx = true
}
