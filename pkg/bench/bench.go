// Package bench owns the supply setpoint and the relay wiring. Everything
// that touches the instrument does so through Bench.Do, which serializes
// the charge engine against the profiler.
package bench

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/relay"
)

// Supply is the part of the instrument the bench drives.
type Supply interface {
	SetVoltage(ch int, volts float64) error
	SetCurrent(ch int, amps float64) error
	ActualVoltage(ch int) (float64, error)
	ActualCurrent(ch int) (float64, error)
	SetOutput(on bool) error
	SetOverVoltageProtection(on bool) error
	SetOverCurrentProtection(on bool) error
}

// Setpoint is the last commanded supply configuration.
type Setpoint struct {
	Channel               int     `json:"channel"`
	Voltage               float64 `json:"voltage"`
	Current               float64 `json:"current"`
	Output                bool    `json:"output"`
	OverVoltageProtection bool    `json:"overVoltageProtection"`
	OverCurrentProtection bool    `json:"overCurrentProtection"`
}

func (s Setpoint) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"channel": s.Channel,
		"voltage": s.Voltage,
		"current": s.Current,
		"output":  s.Output,
		"ovp":     s.OverVoltageProtection,
		"ocp":     s.OverCurrentProtection,
	}
}

// Measurement is one reading. Voltage is the battery-side voltage derived
// from the supply reading and the relay wiring.
type Measurement struct {
	SupplyVoltage float64   `json:"supplyVoltage"`
	Voltage       float64   `json:"voltage"`
	Current       float64   `json:"current"`
	At            time.Time `json:"at"`
}

// Bench is the single owner of the setpoint and relay state.
type Bench struct {
	mu sync.Mutex

	supply Supply
	relays relay.Controller

	setpoint   Setpoint
	relayState relay.State
	last       Measurement

	// view is a copy of the fields above for readers that must not wait
	// for mu, which is held through whole interruptions.
	viewMu sync.RWMutex
	view   view

	now func() time.Time
}

type view struct {
	setpoint   Setpoint
	relayState relay.State
	last       Measurement
}

// New returns a Bench driving channel ch of supply. The supply output is
// assumed off until the first command.
func New(supply Supply, relays relay.Controller, ch int) *Bench {
	b := &Bench{
		supply:     supply,
		relays:     relays,
		setpoint:   Setpoint{Channel: ch},
		relayState: relays.State(),
		now:        time.Now,
	}
	b.publish()
	return b
}

// Do runs fn with exclusive access to the instrument.
func (b *Bench) Do(fn func(c *Control) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return fn(&Control{b: b})
}

// Snapshot returns the setpoint, the relay state and the last measurement.
// It does not wait for a running Do.
func (b *Bench) Snapshot() (Setpoint, relay.State, Measurement) {
	b.viewMu.RLock()
	defer b.viewMu.RUnlock()

	return b.view.setpoint, b.view.relayState, b.view.last
}

// publish copies the owned state to the view. Callers hold mu.
func (b *Bench) publish() {
	b.viewMu.Lock()
	defer b.viewMu.Unlock()

	b.view = view{
		setpoint:   b.setpoint,
		relayState: b.relayState,
		last:       b.last,
	}
}

// Shutdown turns the output off and releases the relays. Both steps are
// attempted; the first error is returned.
func (b *Bench) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error

	logrus.Info("disabling supply output")
	err := b.supply.SetOutput(false)
	if err != nil {
		logrus.WithError(err).Error("failed to disable supply output")
		firstErr = err
	} else {
		b.setpoint.Output = false
	}

	logrus.Info("releasing relays")
	err = b.relays.Release()
	if err != nil {
		logrus.WithError(err).Error("failed to release relays")
		if firstErr == nil {
			firstErr = err
		}
	}
	b.relayState = b.relays.State()
	b.publish()

	return firstErr
}

// BatteryVoltage derives the battery terminal voltage from a supply reading.
// With reversed polarity the battery discharges through the series
// resistor against the supply; without a known resistance the supply
// reading is used as is.
func BatteryVoltage(supplyVolts, amps float64, st relay.State) float64 {
	r := st.SeriesResistanceOhms
	if st.PolarityReversed {
		if r == 0 {
			return supplyVolts
		}
		return r*amps - supplyVolts
	}
	return supplyVolts - r*amps
}
