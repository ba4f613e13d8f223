package compliance

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ac = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_compliance_activation_count",
		Help: "The number of times the compliance test protocol was activated.",
	})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_compliance_command_count",
		Help: "The number of decoded compliance commands (per state code).",
	}, []string{"state_code"})
)

func activationCounter() prometheus.Counter {
	return ac
}

func commandCounter(stateCode uint8) prometheus.Counter {
	return cc.With(prometheus.Labels{"state_code": strconv.Itoa(int(stateCode))})
}
