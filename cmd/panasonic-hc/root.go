package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/panasonic-hc/internal/ble"
	"github.com/chaz8081/panasonic-hc/internal/climate"
	"github.com/chaz8081/panasonic-hc/internal/config"
	"github.com/chaz8081/panasonic-hc/internal/store"
)

var (
	configPath string
	address    string
)

var rootCmd = &cobra.Command{
	Use:   "panasonic-hc",
	Short: "BLE client for Panasonic H&C wired remote controllers",
	Long: `panasonic-hc talks to Panasonic H&C reverse-cycle air conditioners
through their BLE wired remote controller.

Typical workflow:
  panasonic-hc scan                 find nearby controllers
  panasonic-hc pair                 bond with the controller (confirm the code)
  panasonic-hc status               show the current climate state
  panasonic-hc set --temp 22.5      change a setting
  panasonic-hc run                  daemon: track state, log energy, publish MQTT

The device address comes from --address or from device.address in the
config file (default ~/.config/panasonic-hc/config.yaml).`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", "", "controller BLE address (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the config from --config, the default path, or built-in
// defaults, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	switch {
	case configPath != "":
		cfg, err = config.Load(configPath)
	default:
		defaultPath := config.DefaultConfigPath()
		if _, statErr := os.Stat(defaultPath); statErr == nil {
			cfg, err = config.Load(defaultPath)
		} else {
			cfg = config.Default()
		}
	}
	if err != nil {
		return nil, err
	}

	if address != "" {
		cfg.Device.Address = address
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	setupLogging(cfg.LogLevel)
	return cfg, nil
}

// setupLogging installs the default slog handler at the configured level.
func setupLogging(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// openStore opens the sqlite database named in the config, creating its
// directory if needed.
func openStore(cfg *config.Config) (*store.Store, error) {
	if dir := filepath.Dir(cfg.Database); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	return store.Open(cfg.Database)
}

// queuePolicy maps the config string to the dispatcher policy.
func queuePolicy(cfg *config.Config) climate.QueuePolicy {
	if cfg.Command.Queue == "fail_fast" {
		return climate.FailFast
	}
	return climate.QueueLatest
}

// newManager builds a connection manager for the configured device, with
// pairing challenges confirmed interactively on the terminal.
func newManager(cfg *config.Config, bonds ble.BondStore) (*ble.Manager, error) {
	if cfg.Device.Address == "" {
		return nil, fmt.Errorf("no device address: pass --address or set device.address (try `panasonic-hc scan`)")
	}

	mgr := ble.NewManager(ble.NewStackAdapter(), cfg.Device.Address, bonds, ble.ManagerOptions{
		ReconnectBase: cfg.Device.ReconnectBase,
		ReconnectMax:  cfg.Device.ReconnectMax,
		PairingWindow: cfg.Device.PairingWindow,
	})
	mgr.OnChallenge(confirmChallenge)
	return mgr, nil
}

// confirmChallenge shows the numeric comparison code and asks the user to
// verify it against the controller's display.
func confirmChallenge(ch ble.PairingChallenge) {
	fmt.Printf("\nPairing code: %06d\n", ch.Code)
	fmt.Print("Does this match the code on the controller display? [y/N] ")

	answer := make(chan bool, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			answer <- false
			return
		}
		line = strings.ToLower(strings.TrimSpace(line))
		answer <- line == "y" || line == "yes"
	}()

	select {
	case ok := <-answer:
		ch.Confirm(ok)
	case <-time.After(30 * time.Second):
		fmt.Println("\nNo answer, rejecting pairing.")
		ch.Confirm(false)
	}
}

// waitReady blocks until the controller has a fresh status snapshot.
func waitReady(ctrl *climate.Controller, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctrl.Machine().State() == climate.StateReady {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("device did not report status within %s", timeout)
}
