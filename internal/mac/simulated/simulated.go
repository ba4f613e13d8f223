// Package simulated implements an in-process MAC engine. It models the
// request/confirm contract of the real MAC layer without any radio: accepted
// requests produce their confirm on the next Tick, downlinks are injected by
// the caller. It backs the device-agent binary when no hardware is present
// and drives the session controller in tests.
package simulated

import (
	"math/rand"
	"sync"

	"github.com/brocaar/lorawan"
	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/mac"
)

// Config holds the simulation knobs.
type Config struct {
	// JoinFailures is the number of join requests that fail before a
	// join is accepted.
	JoinFailures int

	// BeaconFailures is the number of beacon acquisitions that fail
	// before the beacon is locked.
	BeaconFailures int

	// Link-check report values.
	DemodMargin  uint8
	GatewayCount uint8
}

type event struct {
	mcpsConfirm *mac.McpsConfirm
	mcpsInd     *mac.McpsIndication
	mlmeConfirm *mac.MlmeConfirm
	mlmeInd     *mac.MlmeIndication
}

// Engine implements mac.Engine.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	handler mac.Handler
	notify  func()
	started bool

	params map[mac.MibType]mac.MibValue
	queue  []event

	dutyCycle       bool
	joinFailures    int
	beaconFailures  int
	uplinkCounter   uint32
	downlinkCounter uint32

	uplinks    []mac.McpsRequest
	cwRequests []mac.ContinuousWaveParams

	forcedResult  *mac.Result
	txNotPossible bool
}

// NewEngine creates a new simulated engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		params:    make(map[mac.MibType]mac.MibValue),
		dutyCycle: true,
	}
}

// SetHandler implements mac.Engine.
func (e *Engine) SetHandler(h mac.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// SetNotify implements mac.Engine.
func (e *Engine) SetNotify(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = f
}

// Start implements mac.Engine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
	log.Info("mac/simulated: engine started")
	return nil
}

// Tick implements mac.Engine. It delivers the events queued before this
// call; events enqueued by the callbacks themselves are delivered on the
// next Tick, preserving the run-to-completion ordering.
func (e *Engine) Tick() {
	e.mu.Lock()
	pending := e.queue
	e.queue = nil
	h := e.handler
	e.mu.Unlock()

	if h == nil {
		return
	}

	for _, ev := range pending {
		switch {
		case ev.mcpsConfirm != nil:
			h.OnMcpsConfirm(ev.mcpsConfirm)
		case ev.mcpsInd != nil:
			h.OnMcpsIndication(ev.mcpsInd)
		case ev.mlmeConfirm != nil:
			h.OnMlmeConfirm(ev.mlmeConfirm)
		case ev.mlmeInd != nil:
			h.OnMlmeIndication(ev.mlmeInd)
		}
	}
}

func (e *Engine) enqueue(ev event) {
	e.queue = append(e.queue, ev)
	if e.notify != nil {
		e.notify()
	}
}

// Mlme implements mac.Engine.
func (e *Engine) Mlme(req mac.MlmeRequest) mac.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.forcedResult != nil {
		r := *e.forcedResult
		e.forcedResult = nil
		return r
	}

	switch req.Type {
	case mac.MlmeJoin:
		if e.joinFailures < e.cfg.JoinFailures {
			e.joinFailures++
			e.enqueue(event{mlmeConfirm: &mac.MlmeConfirm{
				Status:  mac.EventJoinFail,
				Request: mac.MlmeJoin,
			}})
			return mac.Result{Status: mac.StatusOK}
		}

		e.params[mac.MibNetworkActivation] = mac.MibValue{Activation: mac.ActivationOTAA}
		if v, ok := e.params[mac.MibDevAddr]; !ok || v.DevAddr == (lorawan.DevAddr{}) {
			var addr lorawan.DevAddr
			rand.Read(addr[:])
			e.params[mac.MibDevAddr] = mac.MibValue{DevAddr: addr}
		}
		e.enqueue(event{mlmeConfirm: &mac.MlmeConfirm{
			Status:  mac.EventOK,
			Request: mac.MlmeJoin,
		}})

	case mac.MlmeLinkCheck:
		e.enqueue(event{mlmeConfirm: &mac.MlmeConfirm{
			Status:       mac.EventOK,
			Request:      mac.MlmeLinkCheck,
			DemodMargin:  e.cfg.DemodMargin,
			GatewayCount: e.cfg.GatewayCount,
		}})

	case mac.MlmeBeaconAcquisition:
		status := mac.EventOK
		if e.beaconFailures < e.cfg.BeaconFailures {
			e.beaconFailures++
			status = mac.EventBeaconNotFound
		}
		e.enqueue(event{mlmeConfirm: &mac.MlmeConfirm{
			Status:  status,
			Request: mac.MlmeBeaconAcquisition,
		}})

	case mac.MlmeTxCw, mac.MlmeTxCw1:
		e.cwRequests = append(e.cwRequests, req.CW)
		e.enqueue(event{mlmeConfirm: &mac.MlmeConfirm{
			Status:  mac.EventOK,
			Request: req.Type,
		}})

	default:
		// DeviceTime, BeaconTiming, PingSlotInfo.
		e.enqueue(event{mlmeConfirm: &mac.MlmeConfirm{
			Status:  mac.EventOK,
			Request: req.Type,
		}})
	}

	return mac.Result{Status: mac.StatusOK}
}

// Mcps implements mac.Engine.
func (e *Engine) Mcps(req mac.McpsRequest) mac.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.forcedResult != nil {
		r := *e.forcedResult
		e.forcedResult = nil
		return r
	}

	if v := e.params[mac.MibNetworkActivation]; v.Activation == mac.ActivationNone {
		return mac.Result{Status: mac.StatusNoNetworkJoined}
	}

	e.uplinks = append(e.uplinks, cloneRequest(req))
	e.uplinkCounter++
	e.enqueue(event{mcpsConfirm: &mac.McpsConfirm{
		Status:        mac.EventOK,
		Confirmed:     req.Confirmed,
		Datarate:      req.Datarate,
		AckReceived:   req.Confirmed,
		UplinkCounter: e.uplinkCounter,
	}})

	return mac.Result{Status: mac.StatusOK}
}

// QueryTxPossible implements mac.Engine.
func (e *Engine) QueryTxPossible(size int) mac.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.txNotPossible || size > mac.MaxAppDataSize {
		return mac.StatusLengthError
	}
	return mac.StatusOK
}

// SetDutyCycle implements mac.Engine.
func (e *Engine) SetDutyCycle(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dutyCycle = enabled
}

// GetParam implements mac.ParameterStore.
func (e *Engine) GetParam(t mac.MibType) (mac.MibValue, mac.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.params[t]
	if !ok {
		return mac.MibValue{}, mac.StatusOK
	}
	return v, mac.StatusOK
}

// SetParam implements mac.ParameterStore.
func (e *Engine) SetParam(t mac.MibType, v mac.MibValue) mac.Status {
	switch t {
	case mac.MibDeviceClass, mac.MibNetworkActivation, mac.MibDevAddr,
		mac.MibDevEUI, mac.MibJoinEUI, mac.MibNetID, mac.MibADR,
		mac.MibPublicNetwork, mac.MibSystemMaxRxError, mac.MibChannelsDatarate:
	default:
		return mac.StatusParameterInvalid
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.params[t] = v
	return mac.StatusOK
}

// InjectDownlink queues a downlink indication for delivery on the next
// Tick. The downlink counter is filled in by the engine.
func (e *Engine) InjectDownlink(ind mac.McpsIndication) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downlinkCounter++
	ind.Status = mac.EventOK
	ind.RxData = len(ind.Data) > 0
	ind.DownlinkCounter = e.downlinkCounter
	e.enqueue(event{mcpsInd: &ind})
}

// InjectMlmeIndication queues an MLME indication for delivery on the next
// Tick.
func (e *Engine) InjectMlmeIndication(ind mac.MlmeIndication) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueue(event{mlmeInd: &ind})
}

// ForceNextResult makes the next request return the given result without
// producing a confirm.
func (e *Engine) ForceNextResult(r mac.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forcedResult = &r
}

// SetTxNotPossible toggles QueryTxPossible failures.
func (e *Engine) SetTxNotPossible(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txNotPossible = v
}

// Uplinks returns a copy of all uplink requests issued so far.
func (e *Engine) Uplinks() []mac.McpsRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]mac.McpsRequest, len(e.uplinks))
	copy(out, e.uplinks)
	return out
}

// LastUplink returns the most recent uplink request, or false when no
// uplink was issued.
func (e *Engine) LastUplink() (mac.McpsRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.uplinks) == 0 {
		return mac.McpsRequest{}, false
	}
	return e.uplinks[len(e.uplinks)-1], true
}

// ContinuousWaveRequests returns the continuous-wave test requests issued
// so far.
func (e *Engine) ContinuousWaveRequests() []mac.ContinuousWaveParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]mac.ContinuousWaveParams, len(e.cwRequests))
	copy(out, e.cwRequests)
	return out
}

// DutyCycleEnabled returns the current duty-cycle enforcement flag.
func (e *Engine) DutyCycleEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dutyCycle
}

func cloneRequest(req mac.McpsRequest) mac.McpsRequest {
	out := req
	out.Data = append([]byte(nil), req.Data...)
	return out
}
