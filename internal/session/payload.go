package session

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/mac"
)

// prepareFrame builds the payload for the next uplink. While the compliance
// test protocol runs it owns the payload; otherwise the sensor readings are
// packed.
func (c *Controller) prepareFrame() {
	if c.comp.Running() {
		c.sess.Data = c.comp.PrepareUplink()
		c.sess.DataSize = uint8(len(c.sess.Data))
		return
	}

	data := make([]byte, defaultDataSize)
	if c.sess.LedOn {
		data[0] = 1
	}
	data[1] = c.brd.PotiLevel()
	binary.BigEndian.PutUint16(data[2:], c.brd.BatteryVoltage())

	c.sess.Data = data
	c.sess.DataSize = defaultDataSize
}

// sendFrame issues the uplink request. When the payload does not fit the
// current datarate an empty frame is sent instead so pending MAC commands are
// flushed. It returns true when the request was accepted by the MAC layer.
func (c *Controller) sendFrame() bool {
	var req mac.McpsRequest

	if c.engine.QueryTxPossible(len(c.sess.Data)) != mac.StatusOK {
		req = mac.McpsRequest{
			Datarate: c.cfg.Datarate,
		}
	} else {
		req = mac.McpsRequest{
			Confirmed: c.sess.Confirmed,
			Port:      c.sess.Port,
			Data:      append([]byte(nil), c.sess.Data...),
			Datarate:  c.cfg.Datarate,
		}
		if req.Confirmed {
			req.Trials = c.cfg.ConfirmedTrials
		}
	}

	c.sess.LastUplink = UplinkSnapshot{
		Confirmed: req.Confirmed,
		Port:      req.Port,
		Data:      req.Data,
	}

	res := c.engine.Mcps(req)
	log.WithFields(log.Fields{
		"port":      req.Port,
		"confirmed": req.Confirmed,
		"size":      len(req.Data),
		"status":    res.Status,
	}).Debug("session: uplink request issued")

	if res.Status == mac.StatusDutyCycleRestricted {
		log.WithField("wait", res.DutyCycleWait).Info("session: uplink delayed by duty-cycle restriction")
	}
	return res.OK()
}
