package main

import (
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battprof/pkg/charger"
	"github.com/charlie0129/battprof/pkg/config"
	"github.com/charlie0129/battprof/pkg/events"
	"github.com/charlie0129/battprof/pkg/lut"
	"github.com/charlie0129/battprof/pkg/runner"
	"github.com/charlie0129/battprof/pkg/tenma"
)

type simulateFlags struct {
	enabled bool
	speed   float64
	// charge is the initial state of charge, 0 to 1. Negative picks one
	// that suits the mode.
	charge float64
}

func (s *simulateFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&s.enabled, "simulate", false, "use a simulated supply and cell instead of the serial port")
	fs.Float64Var(&s.speed, "simulate-speed", 60, "how many times faster simulated time runs")
	fs.Float64Var(&s.charge, "simulate-charge", -1, "initial state of charge of the simulated cell, 0 to 1")
}

// simulator returns nil unless --simulate is set.
func (s *simulateFlags) simulator(c *config.Config, mode charger.Mode) *tenma.Simulator {
	if !s.enabled {
		return nil
	}

	charge := s.charge
	if charge < 0 {
		charge = 0.05
		if mode == charger.ModeDischarge {
			charge = 0.95
		}
	}

	sim := tenma.NewSimulator(&tenma.Cell{
		CapacityAh:         c.TotalCapacity,
		ChargeAh:           charge * c.TotalCapacity,
		EmptyVoltage:       c.EmptyVoltage - 0.1,
		FullVoltage:        c.ConstantVoltage,
		InternalResistance: 0.1,
	})
	sim.SetTimeScale(s.speed)
	return sim
}

func NewChargeCommand() *cobra.Command {
	return newRunCommand(
		"charge",
		"Charge the cell with precharge, constant current and constant voltage",
		charger.ModeCharge,
		false,
	)
}

func NewDischargeCommand() *cobra.Command {
	return newRunCommand(
		"discharge",
		"Discharge the cell through the discharge resistor",
		charger.ModeDischarge,
		false,
	)
}

func NewProfileCommand() *cobra.Command {
	cmd := newRunCommand(
		"profile",
		"Charge or discharge the cell while recording a state-of-charge look-up table",
		charger.ModeCharge,
		true,
	)
	cmd.Long = `Charge (or with --discharge, discharge) the cell and interrupt the run
every 1/lut-steps of the rated energy. During an interruption the cell is
disconnected for the decay time, its open-circuit voltage is sampled and the
run resumes. Every sample becomes one row of the look-up table.`
	return cmd
}

func newRunCommand(use, short string, mode charger.Mode, profile bool) *cobra.Command {
	flags := &configFlags{}
	sim := &simulateFlags{}
	discharge := false

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: gRun,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}

			m := mode
			if discharge {
				m = charger.ModeDischarge
			}

			s := sim.simulator(&c, m)
			printRunConfig(cmd, &c, m, profile, s != nil)

			return runner.Run(cmd.Context(), runner.Options{
				Config:    c,
				Mode:      m,
				Profile:   profile,
				Simulator: s,
				OnEvent: func(ev events.Event) {
					printEvent(cmd, ev)
				},
			})
		},
	}

	flags.register(cmd)
	sim.register(cmd)
	if profile {
		cmd.Flags().BoolVar(&discharge, "discharge", false, "profile a discharge instead of a charge")
	}

	return cmd
}

func printRunConfig(cmd *cobra.Command, c *config.Config, mode charger.Mode, profile, simulated bool) {
	cmd.Println(bold("Run:"))
	cmd.Printf("  Mode: %s\n", bold("%s", mode))
	cmd.Printf("  Record look-up table: %s\n", bool2Text(profile))
	if simulated {
		cmd.Printf("  Power supply: %s\n", color.YellowString("simulated"))
	} else {
		cmd.Printf("  Power supply: %s\n", bold("%s @ %d baud, channel %d", c.SerialPort, c.BaudRate, c.Channel))
	}
	cmd.Printf("  Relay matrix: %s\n", bool2Text(len(c.RelayPins) > 0))
	if c.Schedule != "" {
		cmd.Printf("  Starts at: %s\n", bold("%s", c.Schedule))
	}
	if c.ListenAddr != "" {
		cmd.Printf("  Status server: %s\n", bold("http://%s", c.ListenAddr))
	}
	cmd.Println()

	cmd.Println(bold("Profile:"))
	if mode == charger.ModeCharge {
		cmd.Printf("  Precharge: %s\n", bold("%.3f A below %.2f V", c.PrechargeCurrent, c.PrechargeVoltage))
		cmd.Printf("  Constant current: %s\n", bold("%.3f A", c.ConstantCurrent))
		cmd.Printf("  Constant voltage: %s\n", bold("%.3f V until %.3f A", c.ConstantVoltage, c.EndOfCurrent))
	} else {
		cmd.Printf("  Discharge current: %s\n", bold("%.3f A through %.2f ohm", c.TypicalDischargeCurrent, c.SeriesDischargeResistor))
		cmd.Printf("  Empty voltage: %s\n", bold("%.3f V", c.EmptyVoltage))
	}
	cmd.Printf("  Current ceiling: %s\n", bold("%.3f A", c.MaxCurrent))

	if profile {
		cmd.Printf("  Capacity: %s\n", bold("%.3f Ah at %.2f V (%.3f Wh)", c.TotalCapacity, c.NominalVoltage, c.TotalCapacityWh()))
		cmd.Printf("  Look-up table: %s\n", bold("%d steps, %s rest", c.LutSteps, c.DecayTime))
	}
	cmd.Println()
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	switch ev.Name {
	case events.EnginePhase:
		p, err := events.DecodeAs[events.EnginePhaseEvent](ev)
		if err != nil {
			logrus.WithError(err).Debug("bad event")
			return
		}
		to := p.To
		if to == string(charger.StateDone) {
			to = color.GreenString(to)
		}
		cmd.Printf("%s %s -> %s\n", bold("phase:"), p.From, bold("%s", to))
	case events.ProfilerInterruption:
		p, err := events.DecodeAs[events.InterruptionEvent](ev)
		if err != nil {
			logrus.WithError(err).Debug("bad event")
			return
		}
		if p.Resumed {
			cmd.Printf("%s #%d resumed\n", bold("interruption:"), p.Index)
		} else {
			cmd.Printf("%s #%d at %.4f Wh, resting\n", bold("interruption:"), p.Index, p.EnergyWh)
		}
	case events.ProfilerLUT:
		e, err := events.DecodeAs[lut.Entry](ev)
		if err != nil {
			logrus.WithError(err).Debug("bad event")
			return
		}
		cmd.Printf("%s #%d %s %.0f mV (loaded %.0f mV)\n",
			bold("lut:"), e.Index, bold("%5.1f%%", e.StateOfChargePercent),
			e.OpenCircuitVoltageMillivolts, e.LoadedVoltageMillivolts)
	}
}
