package cmd

import (
	"bytes"
	"io/ioutil"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loranode/lorawan-device-agent/internal/config"
)

var (
	cfgFile string
	version string
)

var rootCmd = &cobra.Command{
	Use:   "device-agent",
	Short: "LoRaWAN Class B end-device agent",
	Long: `The LoRaWAN device agent emulates a Class B end-device: it joins the
network, synchronizes to the beacon, negotiates its ping slots and sends
periodic uplinks. It also implements the certification test protocol.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// default values
	viper.SetDefault("device.dev_eui", "0102030405060708")
	viper.SetDefault("device.join_eui", "0000000000000001")
	viper.SetDefault("device.net_id", "000000")
	viper.SetDefault("device.activation", "otaa")
	viper.SetDefault("device.dev_addr", "00000000")
	viper.SetDefault("device.band.name", "EU868")
	viper.SetDefault("device.adr", true)
	viper.SetDefault("device.public_network", true)
	viper.SetDefault("device.max_rx_error", 20*time.Millisecond)

	viper.SetDefault("device.class_b.use_beacon_timing", false)
	viper.SetDefault("device.class_b.ping_slot_periodicity", 4)

	viper.SetDefault("device.uplink.interval", 30*time.Second)
	viper.SetDefault("device.uplink.jitter", 5*time.Second)
	viper.SetDefault("device.uplink.test_interval", 5*time.Second)
	viper.SetDefault("device.uplink.confirmed", false)
	viper.SetDefault("device.uplink.confirmed_trials", 8)
	viper.SetDefault("device.uplink.port", 3)
	viper.SetDefault("device.uplink.datarate", 0)

	viper.SetDefault("nvm.backend", "file")
	viper.SetDefault("nvm.file.path", "device-agent.ctx")
	viper.SetDefault("nvm.redis.server", "localhost:6379")
	viper.SetDefault("nvm.redis.key_prefix", "device_agent:")

	viper.SetDefault("integration.mqtt.server", "tcp://localhost:1883")
	viper.SetDefault("integration.mqtt.clean_session", true)
	viper.SetDefault("integration.mqtt.event_topic_template", "device/{{ .DevEUI }}/event/{{ .EventType }}")
	viper.SetDefault("integration.mqtt.max_reconnect_interval", time.Minute)

	viper.SetDefault("monitoring.prometheus_endpoint", true)
	viper.SetDefault("monitoring.healthcheck_endpoint", true)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	config.Version = version

	if cfgFile != "" {
		b, err := ioutil.ReadFile(cfgFile)
		if err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
	} else {
		viper.SetConfigName("device-agent")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/device-agent")
		viper.AddConfigPath("/etc/device-agent")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	viperBindEnvs(config.C)

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}

	if err := config.C.Device.DevEUI.UnmarshalText([]byte(config.C.Device.DevEUIString)); err != nil {
		log.WithError(err).Fatal("decode dev_eui error")
	}
	if err := config.C.Device.JoinEUI.UnmarshalText([]byte(config.C.Device.JoinEUIString)); err != nil {
		log.WithError(err).Fatal("decode join_eui error")
	}
	if err := config.C.Device.NetID.UnmarshalText([]byte(config.C.Device.NetIDString)); err != nil {
		log.WithError(err).Fatal("decode net_id error")
	}
	if err := config.C.Device.DevAddr.UnmarshalText([]byte(config.C.Device.DevAddrString)); err != nil {
		log.WithError(err).Fatal("decode dev_addr error")
	}
}

func viperBindEnvs(iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			tv = strings.ToLower(t.Name)
		}
		if tv == "-" {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			viperBindEnvs(v.Interface(), append(parts, tv)...)
		default:
			// Bash doesn't allow env variable names with a dot so
			// bind the double underscore version.
			keyDot := strings.Join(append(parts, tv), ".")
			keyUnderscore := strings.Join(append(parts, tv), "__")
			viper.BindEnv(keyDot, strings.ToUpper(keyUnderscore))
		}
	}
}
