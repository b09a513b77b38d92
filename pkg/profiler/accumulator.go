package profiler

import (
	"time"

	"github.com/charlie0129/battprof/pkg/bench"
)

// Accumulator integrates the energy moved into or out of the battery and
// tracks the next LUT threshold. It is not safe for concurrent use.
type Accumulator struct {
	totalWh float64
	stepWh  float64

	energyWh float64
	nextWh   float64

	last    time.Time
	hasLast bool
}

// NewAccumulator splits totalWh into steps equal LUT steps. The first
// threshold is one step.
func NewAccumulator(totalWh float64, steps int) *Accumulator {
	step := totalWh
	if steps > 0 {
		step = totalWh / float64(steps)
	}
	return &Accumulator{
		totalWh: totalWh,
		stepWh:  step,
		nextWh:  step,
	}
}

// Add integrates m since the previous reading. A reading of exactly 0 V
// means the output is not driving the battery yet and only resets the
// baseline.
func (a *Accumulator) Add(m bench.Measurement) {
	if m.Voltage == 0 {
		a.hasLast = false
		return
	}
	if !a.hasLast {
		a.last = m.At
		a.hasLast = true
		return
	}

	elapsed := m.At.Sub(a.last)
	if elapsed <= 0 {
		return
	}
	a.last = m.At

	power := m.Voltage * m.Current
	if power <= 0 {
		return
	}
	a.energyWh += power * elapsed.Hours()
}

// ResetBaseline starts the next integration interval at the given time.
func (a *Accumulator) ResetBaseline(at time.Time) {
	a.last = at
	a.hasLast = true
}

// Crossed reports whether the energy reached the next threshold.
func (a *Accumulator) Crossed() bool {
	return a.energyWh >= a.nextWh
}

// Advance moves the threshold one step past the current energy.
func (a *Accumulator) Advance() {
	a.nextWh = a.energyWh + a.stepWh
}

func (a *Accumulator) EnergyWh() float64 {
	return a.energyWh
}

func (a *Accumulator) NextThresholdWh() float64 {
	return a.nextWh
}

func (a *Accumulator) StepWh() float64 {
	return a.stepWh
}

// StateOfChargePercent is the energy so far relative to the total.
func (a *Accumulator) StateOfChargePercent() float64 {
	if a.totalWh <= 0 {
		return 0
	}
	return a.energyWh / a.totalWh * 100
}
