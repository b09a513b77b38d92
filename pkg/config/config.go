package config

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig is returned by Validate for values no run can use.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the resolved configuration of a single run. Every field holds a
// concrete value; defaults are applied by File.Config.
type Config struct {
	SerialPort string
	BaudRate   int
	SkipCheck  bool
	Channel    int

	MaxSupplyVoltage float64

	PrechargeVoltage        float64
	PrechargeCurrent        float64
	ConstantVoltage         float64
	ConstantCurrent         float64
	EndOfCurrent            float64
	EmptyVoltage            float64
	MaxCurrent              float64
	TypicalDischargeCurrent float64

	SeriesConnectionResistance float64
	SeriesDischargeResistor    float64

	// TotalCapacity is in Ah at NominalVoltage.
	TotalCapacity  float64
	NominalVoltage float64
	DecayTime      time.Duration
	LutSteps       int
	PollInterval   time.Duration

	RelayPins  []string
	ResultsDir string
	SQLitePath string

	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	ListenAddr string
	Schedule   string
}

// TotalCapacityWh returns the capacity in Wh.
func (c *Config) TotalCapacityWh() float64 {
	return c.TotalCapacity * c.NominalVoltage
}

// Validate checks values that would make a run meaningless. Current limits
// are checked separately by the charge profile.
func (c *Config) Validate() error {
	switch {
	case c.Channel < 1 || c.Channel > 2:
		return pkgerrors.Wrapf(ErrInvalidConfig, "channel must be 1 or 2, got %d", c.Channel)
	case c.LutSteps <= 0:
		return pkgerrors.Wrapf(ErrInvalidConfig, "lut steps must be positive, got %d", c.LutSteps)
	case c.TotalCapacity <= 0 || c.NominalVoltage <= 0:
		return pkgerrors.Wrapf(ErrInvalidConfig, "total capacity (%.3f Ah at %.2f V) must be positive", c.TotalCapacity, c.NominalVoltage)
	case c.PollInterval <= 0:
		return pkgerrors.Wrapf(ErrInvalidConfig, "poll interval must be positive, got %s", c.PollInterval)
	case c.DecayTime < 0:
		return pkgerrors.Wrapf(ErrInvalidConfig, "decay time must not be negative, got %s", c.DecayTime)
	case c.MaxSupplyVoltage <= 0:
		return pkgerrors.Wrapf(ErrInvalidConfig, "max supply voltage must be positive, got %.2f", c.MaxSupplyVoltage)
	case len(c.RelayPins) != 0 && len(c.RelayPins) != 4:
		return pkgerrors.Wrapf(ErrInvalidConfig, "relay pins must list exactly 4 pins, got %d", len(c.RelayPins))
	}
	return nil
}

func (c *Config) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"serialPort":                 c.SerialPort,
		"baudRate":                   c.BaudRate,
		"skipCheck":                  c.SkipCheck,
		"channel":                    c.Channel,
		"maxSupplyVoltage":           c.MaxSupplyVoltage,
		"prechargeVoltage":           c.PrechargeVoltage,
		"prechargeCurrent":           c.PrechargeCurrent,
		"constantVoltage":            c.ConstantVoltage,
		"constantCurrent":            c.ConstantCurrent,
		"endOfCurrent":               c.EndOfCurrent,
		"emptyVoltage":               c.EmptyVoltage,
		"maxCurrent":                 c.MaxCurrent,
		"typicalDischargeCurrent":    c.TypicalDischargeCurrent,
		"seriesConnectionResistance": c.SeriesConnectionResistance,
		"seriesDischargeResistor":    c.SeriesDischargeResistor,
		"totalCapacity":              fmt.Sprintf("%.0f mAh at %.2f V", c.TotalCapacity*1000, c.NominalVoltage),
		"decayTime":                  c.DecayTime.String(),
		"lutSteps":                   c.LutSteps,
		"pollInterval":               c.PollInterval.String(),
		"relayPins":                  c.RelayPins,
	}
}
