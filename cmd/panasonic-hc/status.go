package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/panasonic-hc/internal/climate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current climate state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctrl, cleanup, err := connectController()
	if err != nil {
		return err
	}
	defer cleanup()

	printSnapshot(ctrl.State())
	return nil
}

// connectController builds the full stack, connects, and waits for a fresh
// status snapshot. The returned cleanup tears everything down.
func connectController() (*climate.Controller, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	mgr, err := newManager(cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	ctrl := climate.NewController(mgr, climate.DispatcherOptions{
		AckTimeout: cfg.Command.AckTimeout,
		Retries:    cfg.Command.Retries,
		Policy:     queuePolicy(cfg),
	})

	cleanup := func() {
		mgr.Disconnect()
		db.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := waitReady(ctrl, 15*time.Second); err != nil {
		cleanup()
		return nil, nil, err
	}
	return ctrl, cleanup, nil
}

func printSnapshot(snap climate.Snapshot) {
	fmt.Printf("Power:       %s\n", onOff(snap.Power))
	fmt.Printf("Mode:        %s (hvac: %s)\n", snap.Mode, snap.HVACMode())
	fmt.Printf("Target:      %.1f°C\n", snap.TargetTemp)
	fmt.Printf("Fan:         %s\n", snap.FanSpeed)
	fmt.Printf("Powersave:   %s\n", onOff(snap.Powersave))
	if snap.HasCurrentTemp {
		fmt.Printf("Indoor:      %.1f°C\n", snap.CurrentTemp)
	}
	if snap.HasOutdoorTemp {
		fmt.Printf("Outdoor:     %.1f°C\n", snap.OutdoorTemp)
	}
	if snap.Stale {
		fmt.Println("(snapshot is stale: link is down)")
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
