package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loranode/lorawan-device-agent/internal/band"
	"github.com/loranode/lorawan-device-agent/internal/board"
	"github.com/loranode/lorawan-device-agent/internal/config"
	"github.com/loranode/lorawan-device-agent/internal/integration"
	"github.com/loranode/lorawan-device-agent/internal/integration/mqtt"
	"github.com/loranode/lorawan-device-agent/internal/mac"
	"github.com/loranode/lorawan-device-agent/internal/mac/simulated"
	"github.com/loranode/lorawan-device-agent/internal/monitoring"
	"github.com/loranode/lorawan-device-agent/internal/nvm"
	"github.com/loranode/lorawan-device-agent/internal/scheduler"
	"github.com/loranode/lorawan-device-agent/internal/session"
)

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		printStartMessage,
		setupBand,
		setupMonitoring,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	store, err := nvm.Setup(config.C)
	if err != nil {
		return errors.Wrap(err, "setup nvm error")
	}

	var pub integration.Publisher = integration.Nop{}
	if config.C.Integration.MQTT.Enabled {
		pub, err = mqtt.NewBackend(config.C)
		if err != nil {
			return errors.Wrap(err, "setup mqtt integration error")
		}
	}

	brd := board.NewSimulated()
	engine := simulated.NewEngine(simulated.Config{
		DemodMargin:  20,
		GatewayCount: 1,
	})

	ctrl := session.New(sessionConfig(), engine, store, brd, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-done:
		return err
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping device-agent")
	}

	cancel()
	if err := <-done; err != nil {
		return err
	}
	if err := pub.Close(); err != nil {
		log.WithError(err).Error("close integration error")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version":    version,
		"dev_eui":    config.C.Device.DevEUI,
		"activation": config.C.Device.Activation,
		"band":       config.C.Device.Band.Name,
	}).Info("starting device-agent")
	return nil
}

func setupBand() error {
	if err := band.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup band error")
	}
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func sessionConfig() session.Config {
	d := config.C.Device

	activation := mac.ActivationOTAA
	if strings.EqualFold(d.Activation, "abp") {
		activation = mac.ActivationABP
	}

	return session.Config{
		DevEUI:     d.DevEUI,
		JoinEUI:    d.JoinEUI,
		NetID:      d.NetID,
		Activation: activation,
		DevAddr:    d.DevAddr,

		ADR:           d.ADR,
		PublicNetwork: d.PublicNetwork,
		MaxRxError:    d.MaxRxError,

		UseBeaconTiming:     d.ClassB.UseBeaconTiming,
		PingSlotPeriodicity: d.ClassB.PingSlotPeriodicity,

		Confirmed:       d.Uplink.Confirmed,
		ConfirmedTrials: d.Uplink.ConfirmedTrials,
		Port:            d.Uplink.Port,
		Datarate:        d.Uplink.Datarate,

		Scheduler: scheduler.Config{
			Interval:     d.Uplink.Interval,
			Jitter:       d.Uplink.Jitter,
			TestInterval: d.Uplink.TestInterval,
		},
	}
}
