package main

import (
	"encoding/json"
	"sort"

	"github.com/spf13/cobra"

	"github.com/charlie0129/battprof/pkg/client"
	"github.com/charlie0129/battprof/pkg/events"
	"github.com/charlie0129/battprof/pkg/lut"
)

const defaultRemoteAddr = "127.0.0.1:8642"

func NewRemoteCommand() *cobra.Command {
	addr := ""

	newClient := func(cmd *cobra.Command) (*client.Client, error) {
		if addr != "" {
			return client.NewClient(addr), nil
		}
		c, err := resolveConfig(cmd, nil)
		if err != nil {
			return nil, err
		}
		if c.ListenAddr != "" {
			return client.NewClient(c.ListenAddr), nil
		}
		return client.NewClient(defaultRemoteAddr), nil
	}

	cmd := &cobra.Command{
		Use:     "remote",
		Short:   "Query a run started with --listen",
		GroupID: gRun,
	}
	cmd.PersistentFlags().StringVarP(&addr, "addr", "a", "", "status server address (default: listenAddr from the config, or "+defaultRemoteAddr+")")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of the run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := newClient(cmd)
				if err != nil {
					return err
				}
				st, err := c.GetStatus(cmd.Context())
				if err != nil {
					return err
				}

				cmd.Println(bold("Run %s:", st.RunID))
				cmd.Printf("  Mode: %s\n", bold("%s", st.Mode))
				cmd.Printf("  State: %s\n", bold("%s", st.State))
				cmd.Printf("  Output: %s\n", bool2Text(st.Setpoint.Output))
				cmd.Printf("  Set: %s\n", bold("%.3f V, %.3f A", st.Setpoint.Voltage, st.Setpoint.Current))
				cmd.Printf("  Battery: %s\n", bold("%.3f V, %.3f A", st.Measurement.Voltage, st.Measurement.Current))
				cmd.Printf("  Battery attached: %s\n", bool2Text(st.Relays.BatteryEnabled))
				if p := st.Profiler; p != nil {
					cmd.Println()
					cmd.Println(bold("Profiler:"))
					cmd.Printf("  Energy: %s\n", bold("%.4f Wh", p.EnergyWh))
					cmd.Printf("  Next sample at: %s\n", bold("%.4f Wh", p.NextThresholdWh))
					cmd.Printf("  State of charge: %s\n", bold("%.1f%%", p.StateOfChargePercent))
					cmd.Printf("  Samples: %s\n", bold("%d", p.Interruptions))
					cmd.Printf("  Resting: %s\n", bool2Text(p.Interrupted))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "lut",
			Short: "Print the look-up table recorded so far",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := newClient(cmd)
				if err != nil {
					return err
				}
				entries, err := c.GetLUT(cmd.Context())
				if err != nil {
					return err
				}
				printEntries(cmd, entries)
				return nil
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the configuration of the run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := newClient(cmd)
				if err != nil {
					return err
				}
				conf, err := c.GetConfig(cmd.Context())
				if err != nil {
					return err
				}

				keys := make([]string, 0, len(conf))
				for k := range conf {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					cmd.Printf("  %s: %s\n", k, bold("%v", conf[k]))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version of the running battprof",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := newClient(cmd)
				if err != nil {
					return err
				}
				v, err := c.GetVersion(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("%s %s\n", v.Version, v.GitCommit)
				return nil
			},
		},
		&cobra.Command{
			Use:   "follow",
			Short: "Print events of the run as they happen",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := newClient(cmd)
				if err != nil {
					return err
				}
				return c.Follow(cmd.Context(), func(ev events.Event) {
					if ev.Name == "ready" {
						cmd.Printf("following run %s\n", bold("%s", string(ev.Data)))
						return
					}
					printEvent(cmd, ev)
				})
			},
		},
	)

	return cmd
}

func printEntries(cmd *cobra.Command, entries []lut.Entry) {
	if len(entries) == 0 {
		cmd.Println("no entries yet")
		return
	}
	for _, e := range entries {
		cmd.Printf("  #%-3d %s %s (loaded %.0f mV, %.4f Wh)\n",
			e.Index, bold("%5.1f%%", e.StateOfChargePercent),
			bold("%.0f mV", e.OpenCircuitVoltageMillivolts),
			e.LoadedVoltageMillivolts, e.EnergyWh)
	}
}

func printEntriesJSON(cmd *cobra.Command, entries []lut.Entry) error {
	if entries == nil {
		entries = []lut.Entry{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}
