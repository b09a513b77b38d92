package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"golang.org/x/term"

	"github.com/charlie0129/battprof/pkg/charger"
	"github.com/charlie0129/battprof/pkg/client"
	"github.com/charlie0129/battprof/pkg/config"
	"github.com/charlie0129/battprof/pkg/tenma"
)

var (
	logLevel   = "info"
	configPath = defaultConfigPath()
	envFile    = ".env"
)

var (
	gRun          = "Run:"
	gInstrument   = "Instrument:"
	gResults      = "Results:"
	commandGroups = []string{
		gRun,
		gInstrument,
		gResults,
	}
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "battprof.json"
	}
	return filepath.Join(home, ".battprof.json")
}

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrServerNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: no battprof status server is listening on that address")
		fmt.Fprintln(os.Stderr, "Was the run started with --listen?")
	case errors.Is(err, tenma.ErrUnsupportedDevice):
		fmt.Fprintln(os.Stderr, "\nError: the device on the serial port is not a supported power supply")
		fmt.Fprintln(os.Stderr, "  - Check --port and --baud")
		fmt.Fprintln(os.Stderr, "  - Or pass --skip-check if you know the supply speaks the TENMA protocol")
	case errors.Is(err, tenma.ErrCommunicationTimeout):
		fmt.Fprintln(os.Stderr, "\nError: the power supply did not answer")
		fmt.Fprintln(os.Stderr, "Is it switched on and connected over USB?")
	case errors.Is(err, charger.ErrCurrentCeiling), errors.Is(err, charger.ErrResistorSizing):
		fmt.Fprintln(os.Stderr, "\nError: the charge profile is unsafe, nothing was switched on")
	case errors.Is(err, config.ErrInvalidConfig):
		fmt.Fprintf(os.Stderr, "\nError: check %s and the command line flags\n", configPath)
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		handleCmdError(err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "battprof",
		Short: "battprof charges, discharges and profiles a Li-ion cell with a bench power supply",
		Long: `battprof charges, discharges and profiles a Li-ion cell with a TENMA or
KORAD bench power supply and a relay matrix.

A profiling run interrupts the charge or discharge at fixed energy steps,
lets the cell rest and records its open-circuit voltage, producing a
state-of-charge look-up table.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}
			return config.LoadEnvFile(envFile)
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&envFile, "env-file", envFile, "file with BATTPROF_* environment variables")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewChargeCommand(),
		NewDischargeCommand(),
		NewProfileCommand(),
		NewIdentifyCommand(),
		NewStatusCommand(),
		NewOffCommand(),
		NewBeepCommand(),
		NewMemoryCommand(),
		NewRemoteCommand(),
		NewResultsCommand(),
		NewVersionCommand(),
	)

	return cmd
}
