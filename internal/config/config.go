package config

import (
	"time"

	"github.com/brocaar/lorawan"
)

// Version defines the device-agent version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel int `mapstructure:"log_level"`
	} `mapstructure:"general"`

	Device struct {
		DevEUI        lorawan.EUI64
		DevEUIString  string `mapstructure:"dev_eui"`
		JoinEUI       lorawan.EUI64
		JoinEUIString string `mapstructure:"join_eui"`
		NetID         lorawan.NetID
		NetIDString   string `mapstructure:"net_id"`

		// Activation is "otaa" or "abp".
		Activation string `mapstructure:"activation"`

		// DevAddr used for ABP activation. When zero a random address
		// is assigned at commissioning.
		DevAddr       lorawan.DevAddr
		DevAddrString string `mapstructure:"dev_addr"`

		Band struct {
			Name string `mapstructure:"name"`
		} `mapstructure:"band"`

		ADR           bool          `mapstructure:"adr"`
		PublicNetwork bool          `mapstructure:"public_network"`
		MaxRxError    time.Duration `mapstructure:"max_rx_error"`

		ClassB struct {
			// UseBeaconTiming selects the deprecated BeaconTiming
			// command for time sync instead of DeviceTime.
			UseBeaconTiming     bool  `mapstructure:"use_beacon_timing"`
			PingSlotPeriodicity uint8 `mapstructure:"ping_slot_periodicity"`
		} `mapstructure:"class_b"`

		Uplink struct {
			Interval        time.Duration `mapstructure:"interval"`
			Jitter          time.Duration `mapstructure:"jitter"`
			TestInterval    time.Duration `mapstructure:"test_interval"`
			Confirmed       bool          `mapstructure:"confirmed"`
			ConfirmedTrials uint8         `mapstructure:"confirmed_trials"`
			Port            uint8         `mapstructure:"port"`
			Datarate        int           `mapstructure:"datarate"`
		} `mapstructure:"uplink"`
	} `mapstructure:"device"`

	NVM struct {
		// Backend is "file" or "redis".
		Backend string `mapstructure:"backend"`

		File struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"file"`

		Redis struct {
			Server    string        `mapstructure:"server"`
			Password  string        `mapstructure:"password"`
			Database  int           `mapstructure:"database"`
			KeyPrefix string        `mapstructure:"key_prefix"`
			TTL       time.Duration `mapstructure:"ttl"`
		} `mapstructure:"redis"`
	} `mapstructure:"nvm"`

	Integration struct {
		MQTT struct {
			Enabled              bool          `mapstructure:"enabled"`
			Server               string        `mapstructure:"server"`
			Username             string        `mapstructure:"username"`
			Password             string        `mapstructure:"password"`
			QOS                  uint8         `mapstructure:"qos"`
			CleanSession         bool          `mapstructure:"clean_session"`
			ClientID             string        `mapstructure:"client_id"`
			EventTopicTemplate   string        `mapstructure:"event_topic_template"`
			MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
		} `mapstructure:"mqtt"`
	} `mapstructure:"integration"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}

// C holds the global configuration.
var C Config
