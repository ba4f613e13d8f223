package session

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/compliance"
	"github.com/loranode/lorawan-device-agent/internal/integration"
	"github.com/loranode/lorawan-device-agent/internal/mac"
)

// OnMcpsConfirm implements mac.Handler.
func (c *Controller) OnMcpsConfirm(m *mac.McpsConfirm) {
	if m.Status != mac.EventOK {
		log.WithField("status", m.Status).Warning("session: uplink error")
		return
	}

	uplinkCounter(m.Confirmed).Inc()

	class, _ := c.engine.GetParam(mac.MibDeviceClass)
	log.WithFields(log.Fields{
		"f_cnt":     m.UplinkCounter,
		"class":     class.Class,
		"port":      c.sess.LastUplink.Port,
		"confirmed": m.Confirmed,
		"acked":     m.AckReceived,
		"dr":        m.Datarate,
		"tx_power":  m.TxPower,
	}).Info("session: uplink transmitted")

	c.publish(integration.EventUp, integration.UplinkEvent{
		ID:        eventID(),
		DevEUI:    c.cfg.DevEUI.String(),
		Time:      time.Now(),
		Confirmed: m.Confirmed,
		Acked:     m.AckReceived,
		Port:      c.sess.LastUplink.Port,
		Counter:   m.UplinkCounter,
		Datarate:  m.Datarate,
		TxPower:   m.TxPower,
		Data:      c.sess.LastUplink.Data,
	})
}

// OnMcpsIndication implements mac.Handler.
func (c *Controller) OnMcpsIndication(ind *mac.McpsIndication) {
	if ind.Status != mac.EventOK {
		log.WithField("status", ind.Status).Warning("session: downlink error")
		return
	}

	downlinkCounter(ind.RxSlot.String()).Inc()
	c.comp.CountDownlink()

	if ind.FramePending {
		// The server has more data queued, fetch it right away.
		c.sched.TriggerNow()
	}

	if ind.RxData {
		c.handleDownlinkData(ind)
	}

	log.WithFields(log.Fields{
		"f_cnt":   ind.DownlinkCounter,
		"port":    ind.Port,
		"rx_slot": ind.RxSlot,
		"rssi":    ind.RSSI,
		"snr":     ind.SNR,
		"size":    len(ind.Data),
	}).Info("session: downlink frame received")

	c.publish(integration.EventDown, integration.DownlinkEvent{
		ID:      eventID(),
		DevEUI:  c.cfg.DevEUI.String(),
		Time:    time.Now(),
		Port:    ind.Port,
		Counter: ind.DownlinkCounter,
		RxSlot:  ind.RxSlot.String(),
		RSSI:    ind.RSSI,
		SNR:     ind.SNR,
		Data:    ind.Data,
	})
}

func (c *Controller) handleDownlinkData(ind *mac.McpsIndication) {
	switch ind.Port {
	case 1, 2:
		if len(ind.Data) == 1 {
			c.sess.LedOn = ind.Data[0]&0x01 == 0x01
			c.brd.SetIndicator(c.sess.LedOn)
		}
	case compliance.Port:
		c.comp.HandleDownlink(ind)
	}
}

// OnMlmeConfirm implements mac.Handler.
func (c *Controller) OnMlmeConfirm(m *mac.MlmeConfirm) {
	switch m.Request {
	case mac.MlmeJoin:
		if m.Status != mac.EventOK {
			log.WithField("status", m.Status).Warning("session: join error, retrying")
			c.joinNetwork()
			return
		}

		addr, _ := c.engine.GetParam(mac.MibDevAddr)
		log.WithField("dev_addr", addr.DevAddr).Info("session: joined network")

		c.publish(integration.EventJoin, integration.JoinEvent{
			ID:      eventID(),
			DevEUI:  c.cfg.DevEUI.String(),
			Time:    time.Now(),
			DevAddr: addr.DevAddr.String(),
		})

		c.sess.DeviceState = c.timeSyncState()
		c.sess.NextTx = true

	case mac.MlmeLinkCheck:
		if m.Status == mac.EventOK {
			c.comp.HandleLinkCheck(m)
		}

	case mac.MlmeDeviceTime, mac.MlmeBeaconTiming:
		// Time synchronized, search for the beacon next.
		c.sess.WakeUpState = StateSend
		c.sess.DeviceState = StateBeaconAcquisition
		c.sess.NextTx = true

	case mac.MlmeBeaconAcquisition:
		if m.Status == mac.EventOK || m.Status == mac.EventBeaconLocked {
			log.Info("session: beacon acquired")
			c.sess.WakeUpState = StateReqPingSlotAck
		} else {
			log.WithField("status", m.Status).Warning("session: beacon not found, resynchronizing")
			c.sess.WakeUpState = c.timeSyncState()
		}

	case mac.MlmePingSlotInfo:
		if m.Status != mac.EventOK {
			c.sess.WakeUpState = StateReqPingSlotAck
			return
		}

		c.engine.SetParam(mac.MibDeviceClass, mac.MibValue{Class: mac.ClassB})
		log.WithField("class", mac.ClassB).Info("session: device class switched")

		c.sess.WakeUpState = StateSend
		c.sess.DeviceState = StateSend
		c.sess.NextTx = true
	}
}

// OnMlmeIndication implements mac.Handler.
func (c *Controller) OnMlmeIndication(ind *mac.MlmeIndication) {
	switch ind.Type {
	case mac.MlmeIndScheduleUplink:
		// The MAC layer has commands to send, e.g. ACKs or answers.
		c.sched.TriggerNow()

	case mac.MlmeIndBeaconLost:
		c.engine.SetParam(mac.MibDeviceClass, mac.MibValue{Class: mac.ClassA})
		log.Warning("session: beacon lost, reverting to class a")
		c.sess.WakeUpState = c.timeSyncState()

	case mac.MlmeIndBeacon:
		if ind.Status != mac.EventBeaconLocked {
			log.WithField("status", ind.Status).Debug("session: beacon not received")
			return
		}

		log.WithFields(log.Fields{
			"time":      ind.Beacon.Time,
			"frequency": ind.Beacon.Frequency,
			"dr":        ind.Beacon.Datarate,
			"rssi":      ind.Beacon.RSSI,
			"snr":       ind.Beacon.SNR,
		}).Info("session: beacon received")

		c.publish(integration.EventBeacon, integration.BeaconEvent{
			ID:        eventID(),
			DevEUI:    c.cfg.DevEUI.String(),
			Time:      ind.Beacon.Time,
			Frequency: ind.Beacon.Frequency,
			Datarate:  ind.Beacon.Datarate,
			RSSI:      ind.Beacon.RSSI,
			SNR:       ind.Beacon.SNR,
		})
	}
}
