package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var energySince time.Duration

var energyCmd = &cobra.Command{
	Use:   "energy",
	Short: "Show hourly energy consumption",
	Long: `Show hourly energy samples from the local database, as collected by
the run daemon. Live samples only arrive while a daemon is connected.`,
	RunE: runEnergy,
}

func init() {
	energyCmd.Flags().DurationVar(&energySince, "since", 24*time.Hour, "how far back to report")
	rootCmd.AddCommand(energyCmd)
}

func runEnergy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	samples, err := db.SamplesSince(time.Now().Add(-energySince))
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Printf("No energy samples in the last %s.\n", energySince)
		return nil
	}

	var total int
	fmt.Printf("%-25s %s\n", "HOUR", "ENERGY")
	for _, s := range samples {
		fmt.Printf("%-25s %d Wh\n", s.HourStart.Local().Format("2006-01-02 15:04"), s.EnergyWh)
		total += s.EnergyWh
	}
	fmt.Printf("%-25s %.2f kWh\n", "TOTAL", float64(total)/1000)
	return nil
}
