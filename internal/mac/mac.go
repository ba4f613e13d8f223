// Package mac defines the contract between the session controller and the
// external LoRaWAN MAC engine: typed MLME/MCPS requests, the synchronous
// confirm/indication callbacks fired during Tick, and the MIB-style
// parameter store.
package mac

import (
	"time"

	"github.com/brocaar/lorawan"
)

// MaxAppDataSize is the largest application payload the MAC accepts.
const MaxAppDataSize = 242

// Status is the result of a MAC request or parameter operation.
type Status int

// Request status codes.
const (
	StatusOK Status = iota
	StatusBusy
	StatusServiceUnknown
	StatusParameterInvalid
	StatusNoNetworkJoined
	StatusLengthError
	StatusDutyCycleRestricted
	StatusNoChannelFound
	StatusError
)

var statusStrings = map[Status]string{
	StatusOK:                  "OK",
	StatusBusy:                "Busy",
	StatusServiceUnknown:      "Service unknown",
	StatusParameterInvalid:    "Parameter invalid",
	StatusNoNetworkJoined:     "No network joined",
	StatusLengthError:         "Length error",
	StatusDutyCycleRestricted: "Duty-cycle restricted",
	StatusNoChannelFound:      "No channel found",
	StatusError:               "Unknown error",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return "Unknown error"
}

// Result is returned for every request. DutyCycleWait is only set when
// Status is StatusDutyCycleRestricted and carries the mandatory wait time.
type Result struct {
	Status        Status
	DutyCycleWait time.Duration
}

// OK returns true when the request was accepted.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// EventStatus is the status reported by a confirm or indication.
type EventStatus int

// Event status codes.
const (
	EventOK EventStatus = iota
	EventError
	EventTxTimeout
	EventRx1Timeout
	EventRx2Timeout
	EventJoinFail
	EventDownlinkRepeated
	EventBeaconLocked
	EventBeaconLost
	EventBeaconNotFound
)

var eventStatusStrings = map[EventStatus]string{
	EventOK:               "OK",
	EventError:            "Error",
	EventTxTimeout:        "Tx timeout",
	EventRx1Timeout:       "Rx 1 timeout",
	EventRx2Timeout:       "Rx 2 timeout",
	EventJoinFail:         "Join failed",
	EventDownlinkRepeated: "Downlink repeated",
	EventBeaconLocked:     "Beacon locked",
	EventBeaconLost:       "Beacon lost",
	EventBeaconNotFound:   "Beacon not found",
}

// String implements fmt.Stringer.
func (s EventStatus) String() string {
	if str, ok := eventStatusStrings[s]; ok {
		return str
	}
	return "Error"
}

// MlmeType identifies a MAC management request.
type MlmeType int

// MLME request types.
const (
	MlmeJoin MlmeType = iota
	MlmeLinkCheck
	MlmeDeviceTime
	MlmeBeaconTiming
	MlmeBeaconAcquisition
	MlmePingSlotInfo
	MlmeTxCw
	MlmeTxCw1
)

var mlmeTypeStrings = map[MlmeType]string{
	MlmeJoin:              "MLME_JOIN",
	MlmeLinkCheck:         "MLME_LINK_CHECK",
	MlmeDeviceTime:        "MLME_DEVICE_TIME",
	MlmeBeaconTiming:      "MLME_BEACON_TIMING",
	MlmeBeaconAcquisition: "MLME_BEACON_ACQUISITION",
	MlmePingSlotInfo:      "MLME_PING_SLOT_INFO",
	MlmeTxCw:              "MLME_TXCW",
	MlmeTxCw1:             "MLME_TXCW1",
}

// String implements fmt.Stringer.
func (t MlmeType) String() string {
	return mlmeTypeStrings[t]
}

// MlmeIndicationType identifies an unsolicited MAC management event.
type MlmeIndicationType int

// MLME indication types.
const (
	MlmeIndScheduleUplink MlmeIndicationType = iota
	MlmeIndBeaconLost
	MlmeIndBeacon
)

// ContinuousWaveParams holds the parameters of a continuous-wave
// transmission test.
type ContinuousWaveParams struct {
	Timeout   uint16
	Frequency uint32
	Power     uint8
}

// MlmeRequest is a MAC management request. Only the fields relevant for the
// given Type are read by the engine.
type MlmeRequest struct {
	Type                MlmeType
	Datarate            int
	PingSlotPeriodicity uint8
	CW                  ContinuousWaveParams
}

// McpsRequest is an application data (uplink) request.
type McpsRequest struct {
	Confirmed bool
	Port      uint8
	Data      []byte
	Datarate  int
	Trials    uint8
}

// McpsConfirm reports the outcome of an uplink request. The original
// request payload is not echoed back, callers must snapshot it themselves.
type McpsConfirm struct {
	Status        EventStatus
	Confirmed     bool
	Datarate      int
	TxPower       int
	Channel       int
	AckReceived   bool
	UplinkCounter uint32
}

// RxSlot identifies the receive window a downlink was received in.
type RxSlot int

// Receive windows.
const (
	RxSlot1 RxSlot = iota
	RxSlot2
	RxSlotC
	RxSlotCMulticast
	RxSlotBPing
	RxSlotBPingMulticast
)

var rxSlotStrings = map[RxSlot]string{
	RxSlot1:              "1",
	RxSlot2:              "2",
	RxSlotC:              "C",
	RxSlotCMulticast:     "C Multicast",
	RxSlotBPing:          "B Ping-Slot",
	RxSlotBPingMulticast: "B Multicast Ping-Slot",
}

// String implements fmt.Stringer.
func (s RxSlot) String() string {
	return rxSlotStrings[s]
}

// McpsIndication reports a received downlink frame.
type McpsIndication struct {
	Status          EventStatus
	Port            uint8
	Data            []byte
	FramePending    bool
	RxSlot          RxSlot
	DownlinkCounter uint32
	Datarate        int
	RSSI            int
	SNR             float64
	RxData          bool
}

// BeaconInfo describes a received network beacon.
type BeaconInfo struct {
	Time      time.Time
	Frequency uint32
	Datarate  int
	RSSI      int
	SNR       float64
}

// MlmeConfirm reports the outcome of a MAC management request. DemodMargin
// and GatewayCount are only set for link-check confirms.
type MlmeConfirm struct {
	Status       EventStatus
	Request      MlmeType
	DemodMargin  uint8
	GatewayCount uint8
}

// MlmeIndication reports an unsolicited MAC management event.
type MlmeIndication struct {
	Status EventStatus
	Type   MlmeIndicationType
	Beacon BeaconInfo
}

// Handler receives the confirm and indication callbacks. They are invoked
// synchronously from within Engine.Tick, on the caller's goroutine.
type Handler interface {
	OnMcpsConfirm(*McpsConfirm)
	OnMcpsIndication(*McpsIndication)
	OnMlmeConfirm(*MlmeConfirm)
	OnMlmeIndication(*MlmeIndication)
}

// DeviceClass is the LoRaWAN device class.
type DeviceClass int

// Device classes.
const (
	ClassA DeviceClass = iota
	ClassB
	ClassC
)

// String implements fmt.Stringer.
func (c DeviceClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	default:
		return "A"
	}
}

// Activation is the network activation state of the device.
type Activation int

// Activation states.
const (
	ActivationNone Activation = iota
	ActivationOTAA
	ActivationABP
)

// String implements fmt.Stringer.
func (a Activation) String() string {
	switch a {
	case ActivationOTAA:
		return "OTAA"
	case ActivationABP:
		return "ABP"
	default:
		return "none"
	}
}

// MibType identifies a session parameter in the parameter store.
type MibType int

// MIB parameter types.
const (
	MibDeviceClass MibType = iota
	MibNetworkActivation
	MibDevAddr
	MibDevEUI
	MibJoinEUI
	MibNetID
	MibADR
	MibPublicNetwork
	MibSystemMaxRxError
	MibChannelsDatarate
)

// MibValue carries the value of a MIB parameter. Only the field matching
// the MibType is meaningful.
type MibValue struct {
	Class      DeviceClass
	Activation Activation
	DevAddr    lorawan.DevAddr
	EUI        lorawan.EUI64
	NetID      lorawan.NetID
	Bool       bool
	Duration   time.Duration
	Int        int
}

// ParameterStore is the typed get/set interface to the MAC engine's session
// parameters.
type ParameterStore interface {
	GetParam(MibType) (MibValue, Status)
	SetParam(MibType, MibValue) Status
}

// Engine is the interface consumed by the session controller. The engine
// owns frame assembly, encryption and radio timing; the controller only
// issues requests and processes the resulting callbacks.
type Engine interface {
	ParameterStore

	// Start brings up the MAC layer. A failure here is fatal for the
	// device.
	Start() error

	// Tick drives the engine's internal processing and fires any pending
	// confirm/indication callbacks synchronously before returning.
	Tick()

	// SetHandler registers the callback receiver. Must be called before
	// Start.
	SetHandler(Handler)

	// SetNotify registers the pending-work hook, invoked whenever the
	// engine has processing queued for the next Tick. May be called from
	// any goroutine.
	SetNotify(func())

	// Mlme issues a MAC management request. The outcome arrives via
	// exactly one MlmeConfirm callback when the request was accepted.
	Mlme(MlmeRequest) Result

	// Mcps issues an uplink data request.
	Mcps(McpsRequest) Result

	// QueryTxPossible reports whether a payload of the given size fits
	// the current datarate. When it does not, the caller is expected to
	// flush MAC commands with an empty frame.
	QueryTxPossible(size int) Status

	// SetDutyCycle enables or disables regulatory duty-cycle enforcement.
	// Only meaningful in duty-cycle regions; certification tests disable
	// it temporarily.
	SetDutyCycle(enabled bool)
}
