package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acd/actronneo/internal/mqtt"
	"github.com/acd/actronneo/internal/nimbus"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// discoverSerial picks the first system on the account.
func discoverSerial(ctx context.Context, client *nimbus.Client) (string, error) {
	systems, err := client.ListSystems(ctx)
	if err != nil {
		return "", errors.Wrap(err, "list systems")
	}
	if len(systems) == 0 {
		return "", errors.New("no air-conditioning systems on this account")
	}
	for _, s := range systems {
		log.Infof("found system %s (%s, %s)", s.Serial, s.Description, s.Type)
	}
	return systems[0].Serial, nil
}

func startBridge(ctx context.Context, cfg *Config, api *Api) {
	client := mqtt.New(ctx, &mqtt.Config{
		Server:   cfg.MQTTServer,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	bridge := NewBridge(&BridgeConfig{
		Publish:     client.Publish,
		Subscribe:   client.Subscribe,
		TopicPrefix: cfg.MQTTPrefix,
		HassPrefix:  cfg.HassPrefix,
		Session:     client.Session,
	}, api)
	if err := bridge.Start(); err != nil {
		// subscriptions are kept and replayed once the broker is reachable
		log.WithError(err).Warn("MQTT bridge started without a broker connection")
	}
	go bridge.Run(ctx)
}

func run(ctx context.Context, cfg *Config) error {
	client := nimbus.New(cfg.nimbusConfig())

	serial := cfg.Serial
	if serial == "" {
		var err error
		if serial, err = discoverSerial(ctx, client); err != nil {
			return err
		}
		client.SetSerial(serial)
	}
	log.WithField("serial", serial).Info("using system")

	api := NewApi(ctx, client, serial, cfg.ZoneControl)
	go api.Poll(cfg.RefreshInterval.Duration)

	if cfg.MQTTServer != "" {
		startBridge(ctx, cfg, api)
	}

	errc := make(chan error, 1)
	go func() { errc <- launchWebserver(cfg.HTTPPort, api) }()

	select {
	case err := <-errc:
		return errors.Wrap(err, "webserver")
	case <-ctx.Done():
		return nil
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Info("shutting down")
}
