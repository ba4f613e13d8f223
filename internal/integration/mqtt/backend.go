// Package mqtt implements an MQTT integration backend.
package mqtt

import (
	"bytes"
	"encoding/json"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/config"
)

// Backend implements an MQTT integration backend. Events are marshaled to
// JSON and published under a per-event topic rendered from the configured
// template.
type Backend struct {
	conn   paho.Client
	devEUI string
	qos    uint8

	eventTopicTemplate *template.Template
}

// NewBackend creates a new MQTT integration backend.
func NewBackend(c config.Config) (*Backend, error) {
	conf := c.Integration.MQTT

	b := Backend{
		devEUI: c.Device.DevEUIString,
		qos:    conf.QOS,
	}

	var err error
	b.eventTopicTemplate, err = template.New("event").Parse(conf.EventTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "parse event-topic template error")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetClientID(conf.ClientID)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	log.WithField("server", conf.Server).Info("integration/mqtt: connecting to mqtt broker")
	b.conn = paho.NewClient(opts)
	for {
		if token := b.conn.Connect(); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Error("integration/mqtt: connecting to broker error, will retry in 2s")
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return &b, nil
}

// PublishEvent implements integration.Publisher.
func (b *Backend) PublishEvent(event string, v interface{}) error {
	topic := bytes.NewBuffer(nil)
	err := b.eventTopicTemplate.Execute(topic, struct {
		DevEUI    string
		EventType string
	}{b.devEUI, event})
	if err != nil {
		return errors.Wrap(err, "execute event-topic template error")
	}

	jsonB, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event error")
	}

	log.WithFields(log.Fields{
		"event": event,
		"topic": topic.String(),
	}).Info("integration/mqtt: publishing event")
	eventCounter(event).Inc()

	if token := b.conn.Publish(topic.String(), b.qos, false, jsonB); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "publish event error")
	}
	return nil
}

// Close implements integration.Publisher.
func (b *Backend) Close() error {
	b.conn.Disconnect(250)
	return nil
}

func (b *Backend) onConnected(c paho.Client) {
	connectCounter().Inc()
	log.Info("integration/mqtt: connected to mqtt broker")
}

func (b *Backend) onConnectionLost(c paho.Client, err error) {
	disconnectCounter().Inc()
	log.WithError(err).Error("integration/mqtt: mqtt connection error")
}
