package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/charlie0129/battprof/pkg/bench"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(after time.Duration, volts, amps float64) bench.Measurement {
	return bench.Measurement{Voltage: volts, Current: amps, At: t0.Add(after)}
}

func TestAccumulatorIntegrates(t *testing.T) {
	a := NewAccumulator(10, 5)

	a.Add(reading(0, 4, 0.5))
	assert.Zero(t, a.EnergyWh(), "first reading only sets the baseline")

	a.Add(reading(30*time.Minute, 4, 0.5))
	assert.InDelta(t, 1.0, a.EnergyWh(), 1e-9)

	a.Add(reading(90*time.Minute, 4, 0.5))
	assert.InDelta(t, 3.0, a.EnergyWh(), 1e-9)
	assert.InDelta(t, 30.0, a.StateOfChargePercent(), 1e-9)
}

func TestAccumulatorZeroElapsedIsIdempotent(t *testing.T) {
	a := NewAccumulator(10, 5)
	a.Add(reading(0, 4, 1))

	m := reading(time.Hour, 4, 1)
	a.Add(m)
	before := a.EnergyWh()

	a.Add(m)
	a.Add(m)
	assert.Equal(t, before, a.EnergyWh())

	// a reading from the past adds nothing either
	a.Add(reading(30*time.Minute, 4, 1))
	assert.Equal(t, before, a.EnergyWh())
}

func TestAccumulatorMonotonic(t *testing.T) {
	a := NewAccumulator(10, 5)
	readings := []bench.Measurement{
		reading(0, 4, 0.25),
		reading(time.Minute, 4.1, 0.25),
		reading(2*time.Minute, 4.1, -0.1),
		reading(90*time.Second, 4.1, 0.25),
		reading(3*time.Minute, 0, 0),
		reading(4*time.Minute, 4.2, 0.1),
		reading(5*time.Minute, -4.2, 0.1),
		reading(6*time.Minute, 4.2, 0.05),
	}

	last := 0.0
	for i, m := range readings {
		a.Add(m)
		assert.GreaterOrEqual(t, a.EnergyWh(), last, "reading %d", i)
		last = a.EnergyWh()
	}
}

func TestAccumulatorNegativePower(t *testing.T) {
	a := NewAccumulator(10, 5)
	a.Add(reading(0, 4, -1))
	a.Add(reading(time.Hour, 4, -1))
	assert.Zero(t, a.EnergyWh())

	// the baseline still moved
	a.Add(reading(2*time.Hour, 4, 1))
	assert.InDelta(t, 4.0, a.EnergyWh(), 1e-9)
}

func TestAccumulatorZeroVoltageResetsBaseline(t *testing.T) {
	a := NewAccumulator(10, 5)
	a.Add(reading(0, 4, 1))
	a.Add(reading(time.Hour, 0, 1))
	a.Add(reading(2*time.Hour, 4, 1))
	assert.Zero(t, a.EnergyWh())

	a.Add(reading(3*time.Hour, 4, 1))
	assert.InDelta(t, 4.0, a.EnergyWh(), 1e-9)
}

func TestAccumulatorThresholds(t *testing.T) {
	a := NewAccumulator(10, 5)
	assert.Equal(t, 2.0, a.StepWh())
	assert.Equal(t, 2.0, a.NextThresholdWh())

	a.Add(reading(0, 4, 1))
	a.Add(reading(15*time.Minute, 4, 1))
	assert.False(t, a.Crossed())

	a.Add(reading(40*time.Minute, 4, 1))
	assert.True(t, a.Crossed())

	energy := a.EnergyWh()
	a.Advance()
	assert.False(t, a.Crossed())
	assert.InDelta(t, energy+2, a.NextThresholdWh(), 1e-9)
}

func TestAccumulatorResetBaseline(t *testing.T) {
	a := NewAccumulator(10, 5)
	a.Add(reading(0, 4, 1))

	a.ResetBaseline(t0.Add(time.Hour))
	a.Add(reading(90*time.Minute, 4, 1))
	assert.InDelta(t, 2.0, a.EnergyWh(), 1e-9)
}
