package main

import (
	"encoding/json"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battprof/pkg/runner"
	"github.com/charlie0129/battprof/pkg/tenma"
)

// withInstrument opens the instrument for a one-shot command. Afterwards the
// relays are released and the supply is closed.
func withInstrument(cmd *cobra.Command, flags *configFlags, sim *simulateFlags, fn func(inst *runner.Instrument, ch int) error) error {
	c, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}

	inst, err := runner.OpenInstrument(&c, sim.simulator(&c, ""))
	if err != nil {
		return err
	}
	defer func() {
		err := inst.Relays.Release()
		if err != nil {
			logrus.WithError(err).Error("failed to release relays")
		}
		err = inst.Close()
		if err != nil {
			logrus.WithError(err).Error("failed to close instrument")
		}
	}()

	return fn(inst, c.Channel)
}

func NewIdentifyCommand() *cobra.Command {
	flags := &configFlags{}
	sim := &simulateFlags{}

	cmd := &cobra.Command{
		Use:     "identify",
		Short:   "Print the identification of the power supply",
		GroupID: gInstrument,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInstrument(cmd, flags, sim, func(inst *runner.Instrument, _ int) error {
				id := inst.Supply.DeviceID()
				if id == "" {
					// the device check was skipped
					var err error
					id, err = inst.Supply.Identify()
					if err != nil {
						return err
					}
				}

				cmd.Printf("  Identification: %s\n", bold("%s", id))
				cmd.Printf("  Model: %s\n", bold("%s", tenma.Model(id)))
				cmd.Printf("  Supported: %s\n", bool2Text(inst.Model != ""))
				return nil
			})
		},
	}

	flags.registerInstrument(cmd)
	sim.register(cmd)

	return cmd
}

type statusJSON struct {
	DeviceID       string       `json:"deviceId"`
	Channel        int          `json:"channel"`
	Status         tenma.Status `json:"status"`
	VoltageSet     float64      `json:"voltageSet"`
	CurrentSet     float64      `json:"currentSet"`
	VoltageVolts   float64      `json:"voltageVolts"`
	CurrentAmperes float64      `json:"currentAmperes"`
}

func readStatus(inst *runner.Instrument, ch int) (*statusJSON, error) {
	st, err := inst.Supply.Status()
	if err != nil {
		return nil, err
	}

	out := &statusJSON{
		DeviceID: inst.Supply.DeviceID(),
		Channel:  ch,
		Status:   st,
	}

	reads := []struct {
		fn func(int) (float64, error)
		to *float64
	}{
		{inst.Supply.Voltage, &out.VoltageSet},
		{inst.Supply.Current, &out.CurrentSet},
		{inst.Supply.ActualVoltage, &out.VoltageVolts},
		{inst.Supply.ActualCurrent, &out.CurrentAmperes},
	}
	for _, r := range reads {
		*r.to, err = r.fn(ch)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func NewStatusCommand() *cobra.Command {
	flags := &configFlags{}
	sim := &simulateFlags{}
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Print the state and readings of the power supply",
		GroupID: gInstrument,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInstrument(cmd, flags, sim, func(inst *runner.Instrument, ch int) error {
				data, err := readStatus(inst, ch)
				if err != nil {
					return err
				}

				if asJSON {
					b, err := json.MarshalIndent(data, "", "  ")
					if err != nil {
						return err
					}
					cmd.Println(string(b))
					return nil
				}

				printStatus(cmd, data)
				return nil
			})
		},
	}

	flags.registerInstrument(cmd)
	sim.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, data *statusJSON) {
	st := data.Status

	cmd.Println(bold("Power supply:"))
	if data.DeviceID != "" {
		cmd.Printf("  Identification: %s\n", bold("%s", data.DeviceID))
	}
	cmd.Printf("  Output: %s\n", bool2Text(st.Output))

	mode := color.YellowString("constant current")
	cv := st.CH1ConstantVoltage
	if data.Channel == 2 {
		cv = st.CH2ConstantVoltage
	}
	if cv {
		mode = color.GreenString("constant voltage")
	}
	cmd.Printf("  Channel %d: %s\n", data.Channel, bold("%s", mode))
	cmd.Printf("  Tracking: %s\n", bold("%s", st.Tracking))
	cmd.Printf("  Beep: %s\n", bool2Text(st.Beep))
	cmd.Printf("  Panel locked: %s\n", bool2Text(st.Locked))
	cmd.Println()

	cmd.Println(bold("Channel %d:", data.Channel))
	cmd.Printf("  Set: %s\n", bold("%.3f V, %.3f A", data.VoltageSet, data.CurrentSet))
	cmd.Printf("  Actual: %s\n", bold("%.3f V, %.3f A", data.VoltageVolts, data.CurrentAmperes))
}

func NewOffCommand() *cobra.Command {
	flags := &configFlags{}
	sim := &simulateFlags{}

	cmd := &cobra.Command{
		Use:     "off",
		Short:   "Switch the supply output off and release the relays",
		GroupID: gInstrument,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInstrument(cmd, flags, sim, func(inst *runner.Instrument, _ int) error {
				err := inst.Supply.SetOutput(false)
				if err != nil {
					return err
				}
				logrus.Info("output switched off")
				return nil
			})
		},
	}

	flags.registerInstrument(cmd)
	sim.register(cmd)

	return cmd
}
