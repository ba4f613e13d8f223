package session

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_session_state_count",
		Help: "The number of state-machine transitions (per target state).",
	}, []string{"state"})

	uc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_session_uplink_count",
		Help: "The number of transmitted uplink frames (per confirmation type).",
	}, []string{"confirmed"})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_session_downlink_count",
		Help: "The number of received downlink frames (per rx slot).",
	}, []string{"rx_slot"})

	jc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_session_join_request_count",
		Help: "The number of issued join requests.",
	})
)

func stateCounter(state string) prometheus.Counter {
	return sc.With(prometheus.Labels{"state": state})
}

func uplinkCounter(confirmed bool) prometheus.Counter {
	return uc.With(prometheus.Labels{"confirmed": strconv.FormatBool(confirmed)})
}

func downlinkCounter(rxSlot string) prometheus.Counter {
	return dc.With(prometheus.Labels{"rx_slot": rxSlot})
}

func joinCounter() prometheus.Counter {
	return jc
}
