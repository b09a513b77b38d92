package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battprof/pkg/config"
)

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

// configFlags override single config values from the command line. Only
// flags that were set take effect.
type configFlags struct {
	port      string
	baud      int
	skipCheck bool
	channel   int

	maxSupplyVoltage        float64
	prechargeVoltage        float64
	prechargeCurrent        float64
	constantVoltage         float64
	constantCurrent         float64
	endOfCurrent            float64
	emptyVoltage            float64
	maxCurrent              float64
	typicalDischargeCurrent float64
	connectionResistance    float64
	dischargeResistor       float64

	capacity       float64
	nominalVoltage float64
	decay          time.Duration
	lutSteps       int
	poll           time.Duration

	relayPins  []string
	resultsDir string
	sqlitePath string
	mqttBroker string
	mqttTopic  string
	listen     string
	schedule   string
}

// registerInstrument adds the flags needed to reach the supply.
func (f *configFlags) registerInstrument(cmd *cobra.Command) {
	d := config.Default()
	fs := cmd.Flags()
	fs.StringVarP(&f.port, "port", "p", d.SerialPort, "serial port of the power supply")
	fs.IntVar(&f.baud, "baud", d.BaudRate, "baud rate of the serial port")
	fs.BoolVar(&f.skipCheck, "skip-check", d.SkipCheck, "do not check the device identification")
	fs.IntVar(&f.channel, "channel", d.Channel, "output channel (1 or 2)")
	fs.StringSliceVar(&f.relayPins, "relay-pins", nil, "GPIO pins of the relay matrix: negative-connect,battery-enable,resistor-bypass,positive-connect")
}

// register adds every flag.
func (f *configFlags) register(cmd *cobra.Command) {
	f.registerInstrument(cmd)

	d := config.Default()
	fs := cmd.Flags()
	fs.Float64Var(&f.maxSupplyVoltage, "max-supply-voltage", d.MaxSupplyVoltage, "highest voltage the supply can set, in V")
	fs.Float64Var(&f.prechargeVoltage, "precharge-voltage", d.PrechargeVoltage, "below this voltage the cell is precharged, in V")
	fs.Float64Var(&f.prechargeCurrent, "precharge-current", d.PrechargeCurrent, "precharge current, in A")
	fs.Float64Var(&f.constantVoltage, "cv", d.ConstantVoltage, "constant voltage (full charge) level, in V")
	fs.Float64Var(&f.constantCurrent, "cc", d.ConstantCurrent, "constant charge current, in A")
	fs.Float64Var(&f.endOfCurrent, "end-current", d.EndOfCurrent, "charging ends below this current, in A")
	fs.Float64Var(&f.emptyVoltage, "empty-voltage", d.EmptyVoltage, "discharging ends below this voltage, in V")
	fs.Float64Var(&f.maxCurrent, "max-current", d.MaxCurrent, "no current setting may exceed this, in A")
	fs.Float64Var(&f.typicalDischargeCurrent, "discharge-current", d.TypicalDischargeCurrent, "typical discharge current, in A")
	fs.Float64Var(&f.connectionResistance, "connection-resistance", d.SeriesConnectionResistance, "series resistance of the wiring, in ohm")
	fs.Float64Var(&f.dischargeResistor, "discharge-resistor", d.SeriesDischargeResistor, "series resistance of the discharge path, in ohm")

	fs.Float64Var(&f.capacity, "capacity", d.TotalCapacity, "rated capacity of the cell, in Ah")
	fs.Float64Var(&f.nominalVoltage, "nominal-voltage", d.NominalVoltage, "nominal voltage of the cell, in V")
	fs.DurationVar(&f.decay, "decay", d.DecayTime, "rest time before an open-circuit voltage sample")
	fs.IntVar(&f.lutSteps, "lut-steps", d.LutSteps, "number of look-up table entries")
	fs.DurationVar(&f.poll, "poll", d.PollInterval, "measurement interval")

	fs.StringVar(&f.resultsDir, "results-dir", d.ResultsDir, "directory for the CSV look-up table")
	fs.StringVar(&f.sqlitePath, "sqlite", "", "also store look-up table entries in this SQLite database")
	fs.StringVar(&f.mqttBroker, "mqtt-broker", "", "also publish look-up table entries to this MQTT broker")
	fs.StringVar(&f.mqttTopic, "mqtt-topic", d.MQTTTopic, "MQTT topic prefix")
	fs.StringVar(&f.listen, "listen", "", "serve the run status over HTTP on this address, e.g. 127.0.0.1:8642")
	fs.StringVar(&f.schedule, "schedule", "", "wait for this cron expression before starting, e.g. \"0 22 * * *\"")
}

func (f *configFlags) apply(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed

	if changed("port") {
		c.SerialPort = f.port
	}
	if changed("baud") {
		c.BaudRate = f.baud
	}
	if changed("skip-check") {
		c.SkipCheck = f.skipCheck
	}
	if changed("channel") {
		c.Channel = f.channel
	}
	if changed("relay-pins") {
		c.RelayPins = f.relayPins
	}

	floats := []struct {
		name string
		from float64
		to   *float64
	}{
		{"max-supply-voltage", f.maxSupplyVoltage, &c.MaxSupplyVoltage},
		{"precharge-voltage", f.prechargeVoltage, &c.PrechargeVoltage},
		{"precharge-current", f.prechargeCurrent, &c.PrechargeCurrent},
		{"cv", f.constantVoltage, &c.ConstantVoltage},
		{"cc", f.constantCurrent, &c.ConstantCurrent},
		{"end-current", f.endOfCurrent, &c.EndOfCurrent},
		{"empty-voltage", f.emptyVoltage, &c.EmptyVoltage},
		{"max-current", f.maxCurrent, &c.MaxCurrent},
		{"discharge-current", f.typicalDischargeCurrent, &c.TypicalDischargeCurrent},
		{"connection-resistance", f.connectionResistance, &c.SeriesConnectionResistance},
		{"discharge-resistor", f.dischargeResistor, &c.SeriesDischargeResistor},
		{"capacity", f.capacity, &c.TotalCapacity},
		{"nominal-voltage", f.nominalVoltage, &c.NominalVoltage},
	}
	for _, v := range floats {
		if changed(v.name) {
			*v.to = v.from
		}
	}

	if changed("decay") {
		c.DecayTime = f.decay
	}
	if changed("lut-steps") {
		c.LutSteps = f.lutSteps
	}
	if changed("poll") {
		c.PollInterval = f.poll
	}

	strs := []struct {
		name string
		from string
		to   *string
	}{
		{"results-dir", f.resultsDir, &c.ResultsDir},
		{"sqlite", f.sqlitePath, &c.SQLitePath},
		{"mqtt-broker", f.mqttBroker, &c.MQTTBroker},
		{"mqtt-topic", f.mqttTopic, &c.MQTTTopic},
		{"listen", f.listen, &c.ListenAddr},
		{"schedule", f.schedule, &c.Schedule},
	}
	for _, v := range strs {
		if changed(v.name) {
			*v.to = v.from
		}
	}
}

// resolveConfig layers the config file, the environment and the flags of
// cmd, in that order.
func resolveConfig(cmd *cobra.Command, f *configFlags) (config.Config, error) {
	file, err := config.NewFile(configPath)
	if err != nil {
		return config.Config{}, err
	}

	c := file.Config()
	err = config.ApplyEnv(&c)
	if err != nil {
		return config.Config{}, err
	}

	if f != nil {
		f.apply(cmd, &c)
	}

	return c, nil
}
