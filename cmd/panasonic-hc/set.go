package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/panasonic-hc/internal/hcproto"
)

var (
	setPower     string
	setMode      string
	setTemp      float64
	setFan       string
	setPowersave string
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings",
	Long: `Change settings on the unit. Each flag issues one command; the command
only succeeds once the device acknowledges it.

Examples:
  panasonic-hc set --power on --mode heat --temp 22.5
  panasonic-hc set --fan low
  panasonic-hc set --powersave on`,
	RunE: runSet,
}

func init() {
	setCmd.Flags().StringVar(&setPower, "power", "", "on or off")
	setCmd.Flags().StringVar(&setMode, "mode", "", "heat, cool, dry, fan_only, or auto")
	setCmd.Flags().Float64Var(&setTemp, "temp", 0, "target temperature in °C (16.0-32.0, 0.5 steps)")
	setCmd.Flags().StringVar(&setFan, "fan", "", "auto, low, medium, or high")
	setCmd.Flags().StringVar(&setPowersave, "powersave", "", "on or off")
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	if setPower == "" && setMode == "" && setTemp == 0 && setFan == "" && setPowersave == "" {
		return fmt.Errorf("nothing to set: pass at least one of --power, --mode, --temp, --fan, --powersave")
	}

	ctrl, cleanup, err := connectController()
	if err != nil {
		return err
	}
	defer cleanup()

	type step struct {
		name string
		run  func(context.Context) error
	}
	var steps []step

	if setPower != "" {
		on, err := parseOnOff(setPower)
		if err != nil {
			return fmt.Errorf("--power: %w", err)
		}
		steps = append(steps, step{"power", func(ctx context.Context) error {
			return ctrl.SetPower(ctx, on)
		}})
	}
	if setMode != "" {
		mode, err := hcproto.ParseMode(setMode)
		if err != nil {
			return fmt.Errorf("--mode: %w", err)
		}
		steps = append(steps, step{"mode", func(ctx context.Context) error {
			return ctrl.SetMode(ctx, mode)
		}})
	}
	if setTemp != 0 {
		steps = append(steps, step{"temp", func(ctx context.Context) error {
			return ctrl.SetTargetTemperature(ctx, setTemp)
		}})
	}
	if setFan != "" {
		fan, err := hcproto.ParseFanSpeed(setFan)
		if err != nil {
			return fmt.Errorf("--fan: %w", err)
		}
		steps = append(steps, step{"fan", func(ctx context.Context) error {
			return ctrl.SetFanSpeed(ctx, fan)
		}})
	}
	if setPowersave != "" {
		on, err := parseOnOff(setPowersave)
		if err != nil {
			return fmt.Errorf("--powersave: %w", err)
		}
		steps = append(steps, step{"powersave", func(ctx context.Context) error {
			return ctrl.SetPowersave(ctx, on)
		}})
	}

	for _, s := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.run(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("set %s: %w", s.name, err)
		}
		fmt.Printf("%s: ok\n", s.name)
	}

	printSnapshot(ctrl.State())
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}
