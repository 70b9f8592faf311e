package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Bond with a controller",
	Long: `Connect to the controller and run the pairing flow. The controller
shows a numeric code on its display; confirm it here to complete bonding.
The credential is stored so later connections skip pairing.`,
	RunE: runPair,
}

var unpairCmd = &cobra.Command{
	Use:   "unpair",
	Short: "Drop the stored bonding credential",
	Long: `Remove the stored bonding credential for the controller. The next
connection will run the pairing flow again. Also unpair on the controller
itself, or it will reject the new bond.`,
	RunE: runUnpair,
}

func init() {
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(unpairCmd)
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Drop any stale credential so Connect runs the full pairing flow.
	if err := db.Delete(cfg.Device.Address); err != nil {
		return err
	}

	mgr, err := newManager(cfg, db)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.PairingWindow)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}

	fmt.Printf("Paired with %s.\n", cfg.Device.Address)
	return nil
}

func runUnpair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Device.Address == "" {
		return fmt.Errorf("no device address: pass --address or set device.address")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete(cfg.Device.Address); err != nil {
		return err
	}
	fmt.Printf("Removed bond credential for %s.\n", cfg.Device.Address)
	return nil
}
