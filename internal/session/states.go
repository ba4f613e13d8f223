package session

import (
	"time"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/band"
	"github.com/loranode/lorawan-device-agent/internal/integration"
	"github.com/loranode/lorawan-device-agent/internal/mac"
	"github.com/loranode/lorawan-device-agent/internal/nvm"
)

// step executes the handler for the current state. A single call performs at
// most one state transition; the Sleep state is handled by the Run loop.
func (c *Controller) step() error {
	state := c.sess.DeviceState

	switch state {
	case StateRestore:
		c.handleRestore()
	case StateStart:
		if err := c.handleStart(); err != nil {
			return err
		}
	case StateJoin:
		c.handleJoin()
	case StateReqDeviceTime:
		c.handleReqDeviceTime()
	case StateReqBeaconTiming:
		c.handleReqBeaconTiming()
	case StateBeaconAcquisition:
		c.handleBeaconAcquisition()
	case StateReqPingSlotAck:
		c.handleReqPingSlotAck()
	case StateSend:
		c.handleSend()
	case StateSwitchClass:
		c.handleSwitchClass()
	case StateCycle:
		c.handleCycle()
	case StateSleep:
	default:
		c.sess.DeviceState = StateStart
	}

	if c.sess.DeviceState != state {
		stateCounter(c.sess.DeviceState.String()).Inc()
		log.WithFields(log.Fields{
			"from": state,
			"to":   c.sess.DeviceState,
		}).Debug("session: state changed")
	}
	return nil
}

// handleRestore loads the stored session context. Any restore failure means
// the device is commissioned from scratch.
func (c *Controller) handleRestore() {
	c.engine.SetParam(mac.MibDevEUI, mac.MibValue{EUI: c.cfg.DevEUI})
	c.engine.SetParam(mac.MibJoinEUI, mac.MibValue{EUI: c.cfg.JoinEUI})

	ctx, err := c.store.Restore()
	switch {
	case err == nil:
		c.engine.SetParam(mac.MibNetworkActivation, mac.MibValue{Activation: ctx.Activation})
		c.engine.SetParam(mac.MibDevAddr, mac.MibValue{DevAddr: ctx.DevAddr})
		c.engine.SetParam(mac.MibDeviceClass, mac.MibValue{Class: ctx.DeviceClass})
		c.engine.SetParam(mac.MibADR, mac.MibValue{Bool: ctx.ADR})

		log.WithFields(log.Fields{
			"dev_addr":   ctx.DevAddr,
			"activation": ctx.Activation,
			"class":      ctx.DeviceClass,
			"stored_at":  ctx.StoredAt,
		}).Info("session: context restored")

	case errors.Cause(err) == nvm.ErrNoContext:
		log.WithFields(log.Fields{
			"dev_eui":  c.cfg.DevEUI,
			"join_eui": c.cfg.JoinEUI,
		}).Info("session: no stored context, commissioning device")
		c.commission()

	default:
		log.WithError(err).Error("session: restore context error")
		c.commission()
	}

	c.sess.DeviceState = StateStart
}

// commission prepares the first-boot parameters. For ABP a device address is
// assigned when none is configured.
func (c *Controller) commission() {
	if c.cfg.Activation != mac.ActivationABP {
		return
	}

	c.engine.SetParam(mac.MibNetID, mac.MibValue{NetID: c.cfg.NetID})

	addr := c.cfg.DevAddr
	if addr == (lorawan.DevAddr{}) {
		r := c.rnd.Uint32() & 0x01ffffff
		addr = lorawan.DevAddr{byte(r >> 24), byte(r >> 16), byte(r >> 8), byte(r)}
		log.WithField("dev_addr", addr).Info("session: assigned random device address")
	}
	c.engine.SetParam(mac.MibDevAddr, mac.MibValue{DevAddr: addr})
}

// handleStart configures and starts the MAC layer.
func (c *Controller) handleStart() error {
	c.engine.SetParam(mac.MibPublicNetwork, mac.MibValue{Bool: c.cfg.PublicNetwork})
	c.engine.SetParam(mac.MibADR, mac.MibValue{Bool: c.cfg.ADR})
	c.engine.SetParam(mac.MibSystemMaxRxError, mac.MibValue{Duration: c.cfg.MaxRxError})
	c.engine.SetParam(mac.MibChannelsDatarate, mac.MibValue{Int: c.cfg.Datarate})
	c.engine.SetDutyCycle(band.DutyCycleEnforced())

	if err := c.engine.Start(); err != nil {
		return errors.Wrap(err, "start mac engine error")
	}

	v, _ := c.engine.GetParam(mac.MibNetworkActivation)
	if v.Activation == mac.ActivationNone {
		c.sess.DeviceState = StateJoin
		return nil
	}

	log.WithField("activation", v.Activation).Info("session: device already activated")
	c.sess.DeviceState = StateSend
	c.sess.NextTx = true
	return nil
}

// handleJoin activates the device. OTAA issues a join request, ABP activates
// by personalization and moves straight to time synchronization.
func (c *Controller) handleJoin() {
	if c.cfg.Activation == mac.ActivationABP {
		c.engine.SetParam(mac.MibNetworkActivation, mac.MibValue{Activation: mac.ActivationABP})
		addr, _ := c.engine.GetParam(mac.MibDevAddr)
		log.WithField("dev_addr", addr.DevAddr).Info("session: activated by personalization")

		c.publish(integration.EventJoin, integration.JoinEvent{
			ID:      eventID(),
			DevEUI:  c.cfg.DevEUI.String(),
			Time:    time.Now(),
			DevAddr: addr.DevAddr.String(),
		})
		c.sess.DeviceState = c.timeSyncState()
		c.sess.NextTx = true
		return
	}

	c.joinNetwork()
}

// joinNetwork issues an OTAA join request.
func (c *Controller) joinNetwork() {
	res := c.engine.Mlme(mac.MlmeRequest{
		Type:     mac.MlmeJoin,
		Datarate: c.cfg.Datarate,
	})
	joinCounter().Inc()

	switch {
	case res.OK():
		log.Info("session: joining network")
		c.sess.DeviceState = StateSleep
	case res.Status == mac.StatusDutyCycleRestricted:
		log.WithField("wait", res.DutyCycleWait).Info("session: join delayed by duty-cycle restriction")
		c.sess.DeviceState = StateCycle
	default:
		log.WithField("status", res.Status).Warning("session: join request error")
		c.sess.DeviceState = StateCycle
	}
}

func (c *Controller) handleReqDeviceTime() {
	if c.sess.NextTx {
		if c.engine.Mlme(mac.MlmeRequest{Type: mac.MlmeDeviceTime}).OK() {
			c.sess.WakeUpState = StateSend
		}
	}
	c.sess.DeviceState = StateSend
}

func (c *Controller) handleReqBeaconTiming() {
	if c.sess.NextTx {
		if c.engine.Mlme(mac.MlmeRequest{Type: mac.MlmeBeaconTiming}).OK() {
			c.sess.WakeUpState = StateSend
		}
	}
	c.sess.DeviceState = StateSend
}

func (c *Controller) handleBeaconAcquisition() {
	if c.sess.NextTx {
		c.engine.Mlme(mac.MlmeRequest{Type: mac.MlmeBeaconAcquisition})
		c.sess.NextTx = false
	}
	c.sess.DeviceState = StateSend
}

func (c *Controller) handleReqPingSlotAck() {
	if c.sess.NextTx {
		c.engine.Mlme(mac.MlmeRequest{Type: mac.MlmeLinkCheck})

		res := c.engine.Mlme(mac.MlmeRequest{
			Type:                mac.MlmePingSlotInfo,
			PingSlotPeriodicity: c.cfg.PingSlotPeriodicity,
		})
		if res.OK() {
			c.sess.WakeUpState = StateSend
		}
	}
	c.sess.DeviceState = StateSend
}

// handleSend transmits when a transmission is due. NextTx stays set when the
// request could not be issued so the next cycle retries.
func (c *Controller) handleSend() {
	if c.sess.NextTx {
		c.prepareFrame()
		issued := c.sendFrame()
		c.sess.NextTx = !issued
	}
	c.sess.DeviceState = StateCycle
}

// handleSwitchClass applies a class change requested over the air.
func (c *Controller) handleSwitchClass() {
	c.engine.SetParam(mac.MibDeviceClass, mac.MibValue{Class: c.pendingClass})
	log.WithField("class", c.pendingClass).Info("session: device class switched")
	c.sess.DeviceState = StateSend
}

// handleCycle arms the uplink timer and puts the device to sleep.
func (c *Controller) handleCycle() {
	c.sess.DeviceState = StateSleep
	c.sched.Schedule(c.comp.Running())
}
