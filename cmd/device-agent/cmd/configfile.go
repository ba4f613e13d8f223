package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/loranode/lorawan-device-agent/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}


# Device settings.
[device]
# Device EUI (8 bytes, hex encoded).
dev_eui="{{ .Device.DevEUIString }}"

# Join EUI (8 bytes, hex encoded).
join_eui="{{ .Device.JoinEUIString }}"

# Network identifier (3 bytes, hex encoded). Only used for ABP activation.
net_id="{{ .Device.NetIDString }}"

# Activation mode.
#
# Valid values are "otaa" and "abp".
activation="{{ .Device.Activation }}"

# Device address (4 bytes, hex encoded). Only used for ABP activation, a
# zero value means a random address is assigned on first boot.
dev_addr="{{ .Device.DevAddrString }}"

# Enable adaptive datarate.
adr={{ .Device.ADR }}

# The device operates on a public network.
public_network={{ .Device.PublicNetwork }}

# Maximum receive-window timing error compensation.
max_rx_error="{{ .Device.MaxRxError }}"


  # Region settings.
  [device.band]
  # Region name.
  #
  # Valid values: AS923, AU915, CN470, CN779, EU433, EU868, IN865, KR920,
  # RU864, US915.
  name="{{ .Device.Band.Name }}"


  # Class B settings.
  [device.class_b]
  # Use the deprecated beacon-timing MAC command for time synchronization
  # instead of device-time.
  use_beacon_timing={{ .Device.ClassB.UseBeaconTiming }}

  # Ping-slot periodicity (0 - 7).
  #
  # The device opens a ping slot every 2^periodicity seconds.
  ping_slot_periodicity={{ .Device.ClassB.PingSlotPeriodicity }}


  # Uplink settings.
  [device.uplink]
  # Transmission interval.
  interval="{{ .Device.Uplink.Interval }}"

  # Maximum random offset applied to the interval, in both directions.
  jitter="{{ .Device.Uplink.Jitter }}"

  # Fixed transmission interval while the certification test protocol runs.
  test_interval="{{ .Device.Uplink.TestInterval }}"

  # Send confirmed uplinks.
  confirmed={{ .Device.Uplink.Confirmed }}

  # Number of trials for confirmed uplinks.
  confirmed_trials={{ .Device.Uplink.ConfirmedTrials }}

  # Application port.
  port={{ .Device.Uplink.Port }}

  # Uplink datarate.
  datarate={{ .Device.Uplink.Datarate }}


# Non-volatile memory settings.
#
# The session context is stored so the device resumes its session after a
# restart instead of rejoining.
[nvm]
# Backend type.
#
# Valid values are "file" and "redis".
backend="{{ .NVM.Backend }}"

  # File backend settings.
  [nvm.file]
  # Path of the context file.
  path="{{ .NVM.File.Path }}"

  # Redis backend settings.
  [nvm.redis]
  # Server address.
  server="{{ .NVM.Redis.Server }}"

  # Password.
  password="{{ .NVM.Redis.Password }}"

  # Database index.
  database={{ .NVM.Redis.Database }}

  # Key prefix.
  key_prefix="{{ .NVM.Redis.KeyPrefix }}"

  # Context expiration. Zero means the context never expires.
  ttl="{{ .NVM.Redis.TTL }}"


# Integration settings.
[integration]

  # MQTT integration settings.
  [integration.mqtt]
  # Enable the MQTT integration.
  enabled={{ .Integration.MQTT.Enabled }}

  # Broker address, e.g. scheme://host:port where scheme is tcp, ssl or ws.
  server="{{ .Integration.MQTT.Server }}"

  # Connect with the given username (optional).
  username="{{ .Integration.MQTT.Username }}"

  # Connect with the given password (optional).
  password="{{ .Integration.MQTT.Password }}"

  # Quality of service level.
  #
  # 0: at most once, 1: at least once, 2: exactly once.
  qos={{ .Integration.MQTT.QOS }}

  # Clean session.
  clean_session={{ .Integration.MQTT.CleanSession }}

  # Client ID, set to a random value when empty.
  client_id="{{ .Integration.MQTT.ClientID }}"

  # Event topic template.
  event_topic_template="{{ .Integration.MQTT.EventTopicTemplate }}"

  # Maximum interval between reconnect attempts.
  max_reconnect_interval="{{ .Integration.MQTT.MaxReconnectInterval }}"


# Monitoring settings.
[monitoring]
# Bind address of the monitoring server, e.g. 0.0.0.0:8070. The server is
# disabled when empty.
bind="{{ .Monitoring.Bind }}"

# Expose Prometheus metrics on /metrics.
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Expose the healthcheck on /health.
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the device-agent configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
