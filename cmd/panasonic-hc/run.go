package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/panasonic-hc/internal/climate"
	"github.com/chaz8081/panasonic-hc/internal/publish"
	"github.com/chaz8081/panasonic-hc/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring daemon",
	Long: `Stay connected to the controller, persist hourly energy samples to
the local database, and (when mqtt.broker is set) publish state and energy
to the MQTT broker. Reconnects automatically when the link drops.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.Default().With("subsystem", "daemon")

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var pub *publish.Publisher
	if cfg.MQTT.Broker != "" {
		pub, err = publish.Connect(publish.Options{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	mgr, err := newManager(cfg, db)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	ctrl := climate.NewController(mgr, climate.DispatcherOptions{
		AckTimeout: cfg.Command.AckTimeout,
		Retries:    cfg.Command.Retries,
		Policy:     queuePolicy(cfg),
	})

	// Every update flushes new energy samples to the store and mirrors the
	// snapshot to MQTT. lastFlush tracks how far the store is caught up.
	var lastFlush time.Time
	ctrl.OnUpdate(func() {
		flushEnergy(log, ctrl, db, pub, &lastFlush)
		if pub != nil {
			if err := pub.PublishState(ctrl.State()); err != nil {
				log.Warn("state publish failed", "error", err)
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = mgr.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}

	log.Info("daemon running", "device", cfg.Device.Address)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())
	return nil
}

// flushEnergy persists samples the store has not seen yet and forwards them
// to MQTT. The store's upsert keeps replays harmless.
func flushEnergy(log *slog.Logger, ctrl *climate.Controller, db *store.Store, pub *publish.Publisher, lastFlush *time.Time) {
	samples := ctrl.EnergySince(*lastFlush)
	for _, s := range samples {
		if err := db.SaveSample(s); err != nil {
			log.Warn("energy persist failed", "error", err)
			return
		}
		if pub != nil {
			if err := pub.PublishEnergy(s); err != nil {
				log.Warn("energy publish failed", "error", err)
			}
		}
		if s.HourStart.After(*lastFlush) {
			*lastFlush = s.HourStart
		}
	}
}
