package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/panasonic-hc/internal/ble"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby H&C controllers",
	Long: `Scan for BLE peripherals advertising the Panasonic H&C service and
print their addresses. Use the address with --address or device.address.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "how long to scan")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	fmt.Printf("Scanning for %s...\n", scanTimeout)
	devices, err := ble.ScanForControllers(ble.NewStackAdapter(), scanTimeout)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No controllers found. Make sure the controller is in range and advertising.")
		return nil
	}

	fmt.Printf("%-20s %-24s %s\n", "ADDRESS", "NAME", "RSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-20s %-24s %d dBm\n", d.Address, name, d.RSSI)
	}
	return nil
}
