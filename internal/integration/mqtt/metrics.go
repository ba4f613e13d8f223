package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_integration_mqtt_event_count",
		Help: "The number of published events (per event type).",
	}, []string{"event"})

	mcc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_integration_mqtt_connect_count",
		Help: "The number of times the integration connected to the MQTT broker.",
	})

	mdc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_integration_mqtt_disconnect_count",
		Help: "The number of times the integration disconnected from the MQTT broker.",
	})
)

func eventCounter(event string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": event})
}

func connectCounter() prometheus.Counter {
	return mcc
}

func disconnectCounter() prometheus.Counter {
	return mdc
}
