// Package lut stores the state-of-charge look-up table produced by a
// profiling run.
package lut

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one open-circuit voltage sample.
type Entry struct {
	RunID string `json:"runId"`
	// Index counts the interruptions of a run, starting at 1.
	Index                int     `json:"index"`
	Charge               bool    `json:"charge"`
	StateOfChargePercent float64 `json:"stateOfChargePercent"`
	// OpenCircuitVoltageMillivolts is the rested battery voltage.
	OpenCircuitVoltageMillivolts float64 `json:"openCircuitVoltageMillivolts"`
	// LoadedVoltageMillivolts is the battery voltage under load just before
	// the interruption.
	LoadedVoltageMillivolts float64   `json:"loadedVoltageMillivolts"`
	EnergyWh                float64   `json:"energyWh"`
	At                      time.Time `json:"at"`
}

func (e Entry) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"runId":         e.RunID,
		"index":         e.Index,
		"stateOfCharge": e.StateOfChargePercent,
		"ocvMillivolts": e.OpenCircuitVoltageMillivolts,
		"loadedMv":      e.LoadedVoltageMillivolts,
		"energyWh":      e.EnergyWh,
	}
}

// Sink receives entries in order.
type Sink interface {
	Append(e Entry) error
	Close() error
}
