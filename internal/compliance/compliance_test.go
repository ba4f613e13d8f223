package compliance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loranode/lorawan-device-agent/internal/band"
	"github.com/loranode/lorawan-device-agent/internal/config"
	"github.com/loranode/lorawan-device-agent/internal/mac"
	"github.com/loranode/lorawan-device-agent/internal/mac/simulated"
)

type fakeSession struct {
	confirmed   bool
	inTestMode  bool
	port        uint8
	size        uint8
	rejoins     int
	resumeSends int
	switches    int
	class       mac.DeviceClass
}

func (s *fakeSession) SetConfirmedUplinks(confirmed bool) { s.confirmed = confirmed }

func (s *fakeSession) EnterTestMode(port, size uint8) {
	s.inTestMode = true
	s.port = port
	s.size = size
}

func (s *fakeSession) LeaveTestMode() { s.inTestMode = false }
func (s *fakeSession) Rejoin()        { s.rejoins++ }
func (s *fakeSession) ResumeSend()    { s.resumeSends++ }

func (s *fakeSession) SwitchClass(class mac.DeviceClass) {
	s.class = class
	s.switches++
}

func setup(t *testing.T) (*Engine, *fakeSession, *simulated.Engine) {
	t.Helper()

	var c config.Config
	c.Device.Band.Name = "US915"
	require.NoError(t, band.Setup(c))

	engine := simulated.NewEngine(simulated.Config{})
	dev := &fakeSession{confirmed: true}
	return New(engine, dev, false), dev, engine
}

func activated(t *testing.T) (*Engine, *fakeSession, *simulated.Engine) {
	t.Helper()
	e, dev, engine := setup(t)
	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01, 0x01}})
	require.True(t, e.Running())
	return e, dev, engine
}

func TestActivation(t *testing.T) {
	assert := require.New(t)
	e, dev, engine := setup(t)

	t.Run("Pattern mismatch is ignored", func(t *testing.T) {
		assert := require.New(t)
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01}})
		assert.False(e.Running())
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01, 0x02}})
		assert.False(e.Running())
	})

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01, 0x01}})
	assert.True(e.Running())

	rec := e.Record()
	assert.EqualValues(1, rec.StateCode)
	assert.EqualValues(0, rec.DownlinkCounter)
	assert.EqualValues(Port, rec.PortOverride)
	assert.EqualValues(2, rec.SizeOverride)

	assert.True(dev.inTestMode)
	assert.EqualValues(Port, dev.port)
	assert.EqualValues(2, dev.size)
	assert.False(dev.confirmed)

	v, _ := engine.GetParam(mac.MibADR)
	assert.True(v.Bool)
}

func TestActivationPatternWhileRunning(t *testing.T) {
	assert := require.New(t)
	e, _, _ := activated(t)

	// While running the pattern is a plain command: byte 0 selects the
	// echo state.
	e.CountDownlink()
	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01, 0x01}})

	assert.True(e.Running())
	assert.EqualValues(1, e.Record().StateCode)
	assert.EqualValues(1, e.Record().DownlinkCounter)
}

func TestDownlinkCounter(t *testing.T) {
	assert := require.New(t)
	e, _, _ := setup(t)

	// Dormant: nothing counts.
	e.CountDownlink()
	assert.EqualValues(0, e.Record().DownlinkCounter)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01, 0x01}})
	e.CountDownlink()
	e.CountDownlink()
	e.CountDownlink()
	assert.EqualValues(3, e.Record().DownlinkCounter)
	assert.Equal([]byte{0, 3}, e.PrepareUplink())
}

func TestDeactivate(t *testing.T) {
	assert := require.New(t)
	e, dev, _ := activated(t)

	e.CountDownlink()
	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0}})

	assert.False(e.Running())
	assert.False(dev.inTestMode)
	assert.EqualValues(0, e.Record().DownlinkCounter)
	assert.Zero(dev.rejoins)

	// A second deactivate while dormant is a no-op.
	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0}})
	assert.False(e.Running())
}

func TestDeactivateAndRejoin(t *testing.T) {
	assert := require.New(t)
	e, dev, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{6}})

	assert.False(e.Running())
	assert.False(dev.inTestMode)
	assert.Equal(1, dev.rejoins)
}

func TestConfirmedToggle(t *testing.T) {
	assert := require.New(t)
	e, dev, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{2}})
	assert.True(dev.confirmed)
	assert.True(e.Record().ConfirmedOverride)
	assert.EqualValues(1, e.Record().StateCode)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{3}})
	assert.False(dev.confirmed)
	assert.False(e.Record().ConfirmedOverride)
	assert.EqualValues(1, e.Record().StateCode)
}

func TestEchoIncrement(t *testing.T) {
	assert := require.New(t)
	e, _, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{4, 10, 20, 30}})
	assert.EqualValues(4, e.Record().StateCode)

	assert.Equal([]byte{4, 11, 21, 31}, e.PrepareUplink())

	// The echo is one-shot, afterwards the counter payload returns.
	assert.EqualValues(1, e.Record().StateCode)
	assert.Equal([]byte{0, 0}, e.PrepareUplink())
}

func TestEchoIncrementWrapsBytes(t *testing.T) {
	assert := require.New(t)
	e, _, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{4, 0xff}})
	assert.Equal([]byte{4, 0}, e.PrepareUplink())
}

func TestLinkCheck(t *testing.T) {
	assert := require.New(t)
	e, _, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{5}})
	e.HandleLinkCheck(&mac.MlmeConfirm{
		Status:       mac.EventOK,
		Request:      mac.MlmeLinkCheck,
		DemodMargin:  20,
		GatewayCount: 3,
	})

	assert.Equal([]byte{5, 20, 3}, e.PrepareUplink())

	// Reported one-shot.
	assert.Equal([]byte{0, 0}, e.PrepareUplink())
}

func TestLinkCheckDroppedWhenDormant(t *testing.T) {
	assert := require.New(t)
	e, _, _ := setup(t)

	e.HandleLinkCheck(&mac.MlmeConfirm{DemodMargin: 20, GatewayCount: 3})
	assert.False(e.Record().LinkCheckPending)
}

func TestContinuousWave(t *testing.T) {
	e, _, engine := activated(t)

	t.Run("Timeout only", func(t *testing.T) {
		assert := require.New(t)
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{7, 0x00, 0x10}})

		reqs := engine.ContinuousWaveRequests()
		assert.Len(reqs, 1)
		assert.EqualValues(16, reqs[0].Timeout)
		assert.EqualValues(1, e.Record().StateCode)
	})

	t.Run("Timeout, frequency and power", func(t *testing.T) {
		assert := require.New(t)
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{7, 0x01, 0x2c, 0x0d, 0x7e, 0xd4, 0x0e}})

		reqs := engine.ContinuousWaveRequests()
		assert.Len(reqs, 2)
		assert.EqualValues(300, reqs[1].Timeout)
		assert.EqualValues(88443600, reqs[1].Frequency)
		assert.EqualValues(14, reqs[1].Power)
	})

	t.Run("Unexpected size is skipped", func(t *testing.T) {
		assert := require.New(t)
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{7, 0x00, 0x10, 0x00}})
		assert.Len(engine.ContinuousWaveRequests(), 2)
	})
}

func TestSwitchClass(t *testing.T) {
	assert := require.New(t)
	e, dev, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{9, 2}})
	assert.Equal(1, dev.switches)
	assert.Equal(mac.ClassC, dev.class)

	t.Run("Missing class byte is skipped", func(t *testing.T) {
		assert := require.New(t)
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{9}})
		assert.Equal(1, dev.switches)
	})
}

func TestMacTransparentCommands(t *testing.T) {
	assert := require.New(t)
	e, dev, _ := activated(t)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{8}})
	assert.Equal(1, dev.resumeSends)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{10, 3}})
	assert.Equal(2, dev.resumeSends)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{11}})
	assert.Equal(3, dev.resumeSends)

	t.Run("Missing periodicity byte is skipped", func(t *testing.T) {
		assert := require.New(t)
		e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{10}})
		assert.Equal(3, dev.resumeSends)
	})
}

func TestDutyCycleRestoredOnDeactivate(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Device.Band.Name = "EU868"
	assert.NoError(band.Setup(c))

	engine := simulated.NewEngine(simulated.Config{})
	dev := &fakeSession{}
	e := New(engine, dev, false)

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0x01, 0x01, 0x01, 0x01}})
	assert.False(engine.DutyCycleEnabled())

	e.HandleDownlink(&mac.McpsIndication{Port: Port, Data: []byte{0}})
	assert.True(engine.DutyCycleEnabled())
}
