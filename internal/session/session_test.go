package session

import (
	"context"
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"

	"github.com/loranode/lorawan-device-agent/internal/band"
	"github.com/loranode/lorawan-device-agent/internal/board"
	"github.com/loranode/lorawan-device-agent/internal/compliance"
	"github.com/loranode/lorawan-device-agent/internal/config"
	"github.com/loranode/lorawan-device-agent/internal/mac"
	"github.com/loranode/lorawan-device-agent/internal/mac/simulated"
	"github.com/loranode/lorawan-device-agent/internal/nvm"
	"github.com/loranode/lorawan-device-agent/internal/scheduler"
)

type memStore struct {
	ctx    *nvm.Context
	stores int
}

func (s *memStore) Restore() (nvm.Context, error) {
	if s.ctx == nil {
		return nvm.Context{}, nvm.ErrNoContext
	}
	return *s.ctx, nil
}

func (s *memStore) Store(ctx nvm.Context) error {
	s.ctx = &ctx
	s.stores++
	return nil
}

func testConfig() Config {
	return Config{
		DevEUI:     lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		JoinEUI:    lorawan.EUI64{8, 7, 6, 5, 4, 3, 2, 1},
		Activation: mac.ActivationOTAA,

		ADR:           true,
		PublicNetwork: true,
		MaxRxError:    20 * time.Millisecond,

		PingSlotPeriodicity: 4,

		Confirmed:       false,
		ConfirmedTrials: 8,
		Port:            3,
		Datarate:        3,

		Scheduler: scheduler.Config{
			Interval:     30 * time.Second,
			Jitter:       5 * time.Second,
			TestInterval: 5 * time.Second,
		},
	}
}

func newTestController(t *testing.T, cfg Config, sim simulated.Config, store nvm.Store) (*Controller, *simulated.Engine, *board.Simulated) {
	t.Helper()

	var conf config.Config
	conf.Device.Band.Name = "US915"
	require.NoError(t, band.Setup(conf))

	engine := simulated.NewEngine(sim)
	brd := board.NewSimulated()
	if store == nil {
		store = &memStore{}
	}
	return New(cfg, engine, store, brd, nil), engine, brd
}

// settle steps the controller until the pending callbacks are drained and
// the device sleeps.
func settle(t *testing.T, c *Controller) {
	t.Helper()
	for i := 0; i < 50; i++ {
		require.NoError(t, c.RunOnce())
	}
	require.Equal(t, StateSleep, c.Session().DeviceState)
}

func TestJoinAndClassBTransition(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)

	v, _ := engine.GetParam(mac.MibNetworkActivation)
	assert.Equal(mac.ActivationOTAA, v.Activation)

	// Time sync done, beacon acquired, waiting for the next slot to
	// negotiate the ping slots.
	assert.Equal(StateReqPingSlotAck, c.Session().WakeUpState)

	uplinks := engine.Uplinks()
	assert.Len(uplinks, 1)
	assert.EqualValues(3, uplinks[0].Port)
	assert.Len(uplinks[0].Data, 4)

	// Next cycle: ping-slot negotiation followed by the class switch.
	c.onTxTimer()
	settle(t, c)

	class, _ := engine.GetParam(mac.MibDeviceClass)
	assert.Equal(mac.ClassB, class.Class)
	assert.Equal(StateSend, c.Session().WakeUpState)
	assert.True(len(engine.Uplinks()) >= 2)

	last, ok := engine.LastUplink()
	assert.True(ok)
	assert.EqualValues(3, last.Port)
	assert.Len(last.Data, 4)
	assert.True(last.Data[1] <= 100)
}

func TestJoinRetry(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{JoinFailures: 2}, nil)

	settle(t, c)

	v, _ := engine.GetParam(mac.MibNetworkActivation)
	assert.Equal(mac.ActivationOTAA, v.Activation)
}

func TestJoinDutyCycleRestricted(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	engine.ForceNextResult(mac.Result{
		Status:        mac.StatusDutyCycleRestricted,
		DutyCycleWait: time.Minute,
	})

	assert.NoError(c.RunOnce()) // restore
	assert.NoError(c.RunOnce()) // start
	assert.NoError(c.RunOnce()) // join, rejected
	assert.Equal(StateCycle, c.Session().DeviceState)

	settle(t, c)
	v, _ := engine.GetParam(mac.MibNetworkActivation)
	assert.Equal(mac.ActivationNone, v.Activation)
	assert.True(c.sched.LastDelay() > 0)
}

func TestAbpActivation(t *testing.T) {
	assert := require.New(t)

	cfg := testConfig()
	cfg.Activation = mac.ActivationABP
	cfg.NetID = lorawan.NetID{0, 0, 1}
	c, engine, _ := newTestController(t, cfg, simulated.Config{}, nil)

	settle(t, c)

	v, _ := engine.GetParam(mac.MibNetworkActivation)
	assert.Equal(mac.ActivationABP, v.Activation)

	// A random address was assigned at commissioning.
	addr, _ := engine.GetParam(mac.MibDevAddr)
	assert.NotEqual(lorawan.DevAddr{}, addr.DevAddr)

	// No join round trip, the first uplink happens within the boot cycle.
	assert.True(len(engine.Uplinks()) >= 1)
}

func TestRestoredContextSkipsJoin(t *testing.T) {
	assert := require.New(t)

	store := &memStore{ctx: &nvm.Context{
		DevEUI:      lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		DevAddr:     lorawan.DevAddr{1, 2, 3, 4},
		Activation:  mac.ActivationOTAA,
		DeviceClass: mac.ClassA,
		ADR:         true,
		StoredAt:    time.Now(),
	}}
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, store)

	settle(t, c)

	assert.Len(engine.Uplinks(), 1)
}

func TestRunStoresContextOnShutdown(t *testing.T) {
	assert := require.New(t)

	store := &memStore{}
	c, _, _ := newTestController(t, testConfig(), simulated.Config{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	assert.NoError(<-done)

	assert.True(store.stores > 0)
	assert.Equal(mac.ActivationOTAA, store.ctx.Activation)
}

func TestFramePendingTriggersUplink(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)
	before := len(engine.Uplinks())

	engine.InjectDownlink(mac.McpsIndication{FramePending: true})
	settle(t, c)

	assert.True(len(engine.Uplinks()) > before)
}

func TestLedDownlink(t *testing.T) {
	assert := require.New(t)
	c, engine, brd := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)

	engine.InjectDownlink(mac.McpsIndication{Port: 1, Data: []byte{0x01}})
	settle(t, c)
	assert.True(brd.Indicator())

	// The indicator state is reported in the next payload.
	c.onTxTimer()
	settle(t, c)
	last, ok := engine.LastUplink()
	assert.True(ok)
	assert.EqualValues(1, last.Data[0])
}

func TestPayloadTooLargeSendsEmptyFrame(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)

	engine.SetTxNotPossible(true)
	c.onTxTimer()
	settle(t, c)

	last, ok := engine.LastUplink()
	assert.True(ok)
	assert.False(last.Confirmed)
	assert.Len(last.Data, 0)
}

func TestBeaconNotFoundResynchronizes(t *testing.T) {
	assert := require.New(t)
	c, _, _ := newTestController(t, testConfig(), simulated.Config{BeaconFailures: 1}, nil)

	settle(t, c)
	assert.Equal(StateReqDeviceTime, c.Session().WakeUpState)

	// Second attempt locks the beacon.
	c.onTxTimer()
	settle(t, c)
	assert.Equal(StateReqPingSlotAck, c.Session().WakeUpState)
}

func TestBeaconLostRevertsToClassA(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)
	c.onTxTimer()
	settle(t, c)

	class, _ := engine.GetParam(mac.MibDeviceClass)
	assert.Equal(mac.ClassB, class.Class)

	engine.InjectMlmeIndication(mac.MlmeIndication{
		Status: mac.EventBeaconLost,
		Type:   mac.MlmeIndBeaconLost,
	})
	settle(t, c)

	class, _ = engine.GetParam(mac.MibDeviceClass)
	assert.Equal(mac.ClassA, class.Class)
	assert.Equal(StateReqDeviceTime, c.Session().WakeUpState)
}

func TestComplianceActivationFlow(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	// Complete the Class B transition before the test protocol starts.
	settle(t, c)
	c.onTxTimer()
	settle(t, c)
	assert.Equal(StateSend, c.Session().WakeUpState)

	engine.InjectDownlink(mac.McpsIndication{
		Port: compliance.Port,
		Data: []byte{0x01, 0x01, 0x01, 0x01},
	})
	settle(t, c)

	assert.True(c.Compliance().Running())
	assert.False(c.Session().Confirmed)
	assert.EqualValues(compliance.Port, c.Session().Port)

	// The fixed test interval replaces the jittered one.
	c.onTxTimer()
	settle(t, c)
	assert.Equal(5*time.Second, c.sched.LastDelay())

	// The activating downlink itself is not counted, the counter starts
	// at zero.
	last, ok := engine.LastUplink()
	assert.True(ok)
	assert.EqualValues(compliance.Port, last.Port)
	assert.Equal([]byte{0x00, 0x00}, last.Data)

	// Deactivation restores the application traffic.
	engine.InjectDownlink(mac.McpsIndication{Port: compliance.Port, Data: []byte{0x00}})
	settle(t, c)

	assert.False(c.Compliance().Running())
	assert.EqualValues(3, c.Session().Port)

	c.onTxTimer()
	settle(t, c)
	last, ok = engine.LastUplink()
	assert.True(ok)
	assert.EqualValues(3, last.Port)
	assert.Len(last.Data, 4)
}

func TestComplianceClassSwitch(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)
	engine.InjectDownlink(mac.McpsIndication{
		Port: compliance.Port,
		Data: []byte{0x01, 0x01, 0x01, 0x01},
	})
	settle(t, c)

	engine.InjectDownlink(mac.McpsIndication{Port: compliance.Port, Data: []byte{9, 2}})
	settle(t, c)

	class, _ := engine.GetParam(mac.MibDeviceClass)
	assert.Equal(mac.ClassC, class.Class)

	// The class change is reported right away with the counter payload.
	last, ok := engine.LastUplink()
	assert.True(ok)
	assert.EqualValues(compliance.Port, last.Port)
	assert.Equal([]byte{0x00, 0x01}, last.Data)
}

func TestScheduleUplinkIndication(t *testing.T) {
	assert := require.New(t)
	c, engine, _ := newTestController(t, testConfig(), simulated.Config{}, nil)

	settle(t, c)
	before := len(engine.Uplinks())

	engine.InjectMlmeIndication(mac.MlmeIndication{Type: mac.MlmeIndScheduleUplink})
	settle(t, c)

	assert.True(len(engine.Uplinks()) > before)
}
