package main

import (
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battprof/pkg/runner"
)

func NewBeepCommand() *cobra.Command {
	flags := &configFlags{}
	sim := &simulateFlags{}

	cmd := &cobra.Command{
		Use:       "beep on|off",
		Short:     "Turn the beeper of the power supply on or off",
		GroupID:   gInstrument,
		ValidArgs: []string{"on", "off"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			on := args[0] == "on"
			return withInstrument(cmd, flags, sim, func(inst *runner.Instrument, _ int) error {
				err := inst.Supply.SetBeep(on)
				if err != nil {
					return err
				}
				cmd.Printf("  Beep: %s\n", bool2Text(on))
				return nil
			})
		},
	}

	flags.registerInstrument(cmd)
	sim.register(cmd)

	return cmd
}

func NewMemoryCommand() *cobra.Command {
	flags := &configFlags{}
	sim := &simulateFlags{}

	newSub := func(use, short string, fn func(inst *runner.Instrument, n int) error) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " <1-5>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return err
				}
				return withInstrument(cmd, flags, sim, func(inst *runner.Instrument, _ int) error {
					return fn(inst, n)
				})
			},
		}
		flags.registerInstrument(sub)
		sim.register(sub)
		return sub
	}

	cmd := &cobra.Command{
		Use:     "memory",
		Short:   "Store or recall panel settings of the power supply",
		GroupID: gInstrument,
	}

	cmd.AddCommand(
		newSub("store", "Store the present voltage and current in a memory slot", func(inst *runner.Instrument, n int) error {
			err := inst.Supply.Store(n)
			if err != nil {
				return err
			}
			logrus.WithField("slot", n).Info("panel setting stored")
			return nil
		}),
		newSub("recall", "Recall the voltage and current of a memory slot", func(inst *runner.Instrument, n int) error {
			err := inst.Supply.Recall(n)
			if err != nil {
				return err
			}
			logrus.WithField("slot", n).Info("panel setting recalled")
			return nil
		}),
	)

	return cmd
}
