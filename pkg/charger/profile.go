package charger

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/config"
)

var (
	// ErrCurrentCeiling is returned when a configured current exceeds the
	// maximum allowed current.
	ErrCurrentCeiling = errors.New("current exceeds the maximum allowed current")
	// ErrResistorSizing is returned when the discharge resistor cannot
	// produce a usable supply voltage.
	ErrResistorSizing = errors.New("discharge resistor does not fit the supply limits")
)

// Mode selects the direction of a run.
type Mode string

const (
	ModeCharge    Mode = "charge"
	ModeDischarge Mode = "discharge"
)

// Profile holds the thresholds of a run. It is not modified once the
// engine is created.
type Profile struct {
	PrechargeVoltage        float64
	PrechargeCurrent        float64
	ConstantVoltage         float64
	ConstantCurrent         float64
	EndOfCurrent            float64
	EmptyVoltage            float64
	TypicalDischargeCurrent float64
	MaxCurrent              float64

	SeriesConnectionResistance float64
	SeriesDischargeResistor    float64

	MaxSupplyVoltage float64
}

// ProfileFromConfig picks the engine thresholds out of c.
func ProfileFromConfig(c *config.Config) Profile {
	return Profile{
		PrechargeVoltage:           c.PrechargeVoltage,
		PrechargeCurrent:           c.PrechargeCurrent,
		ConstantVoltage:            c.ConstantVoltage,
		ConstantCurrent:            c.ConstantCurrent,
		EndOfCurrent:               c.EndOfCurrent,
		EmptyVoltage:               c.EmptyVoltage,
		TypicalDischargeCurrent:    c.TypicalDischargeCurrent,
		MaxCurrent:                 c.MaxCurrent,
		SeriesConnectionResistance: c.SeriesConnectionResistance,
		SeriesDischargeResistor:    c.SeriesDischargeResistor,
		MaxSupplyVoltage:           c.MaxSupplyVoltage,
	}
}

// Validate rejects profiles that would drive the battery outside the
// allowed limits. It performs no I/O.
func (p Profile) Validate(mode Mode) error {
	currents := []struct {
		name  string
		value float64
	}{
		{"precharge current", p.PrechargeCurrent},
		{"constant current", p.ConstantCurrent},
		{"end-of-charge current", p.EndOfCurrent},
		{"typical discharge current", p.TypicalDischargeCurrent},
	}
	for _, c := range currents {
		if c.value > p.MaxCurrent {
			return pkgerrors.Wrapf(ErrCurrentCeiling, "%s %.0f mA > %.0f mA", c.name, c.value*1000, p.MaxCurrent*1000)
		}
	}

	if mode != ModeDischarge || p.SeriesDischargeResistor <= 0 {
		return nil
	}

	drop := p.SeriesDischargeResistor * p.TypicalDischargeCurrent
	if p.ConstantVoltage > drop {
		return pkgerrors.Wrapf(ErrResistorSizing,
			"%.2f Ohm at %.0f mA drops %.2f V, less than the %.2f V of a full battery: no positive supply voltage",
			p.SeriesDischargeResistor, p.TypicalDischargeCurrent*1000, drop, p.ConstantVoltage)
	}
	if drop-p.EmptyVoltage > p.MaxSupplyVoltage {
		return pkgerrors.Wrapf(ErrResistorSizing,
			"%.2f Ohm at %.0f mA needs %.2f V at the empty battery, more than the supply maximum %.2f V",
			p.SeriesDischargeResistor, p.TypicalDischargeCurrent*1000, drop-p.EmptyVoltage, p.MaxSupplyVoltage)
	}

	return nil
}

// DischargeSetpoint returns the supply voltage and OVP flag for a discharge.
// Without a discharge resistor the supply is simply set to the empty
// voltage.
func (p Profile) DischargeSetpoint() (float64, bool) {
	if p.SeriesDischargeResistor == 0 {
		return p.EmptyVoltage, false
	}
	return (p.SeriesDischargeResistor+p.SeriesConnectionResistance)*p.TypicalDischargeCurrent - p.EmptyVoltage, true
}

func (p Profile) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"prechargeVoltage":        p.PrechargeVoltage,
		"prechargeCurrent":        p.PrechargeCurrent,
		"constantVoltage":         p.ConstantVoltage,
		"constantCurrent":         p.ConstantCurrent,
		"endOfCurrent":            p.EndOfCurrent,
		"emptyVoltage":            p.EmptyVoltage,
		"typicalDischargeCurrent": p.TypicalDischargeCurrent,
		"maxCurrent":              p.MaxCurrent,
	}
}
