// Package relay switches the battery between the supply terminals: attach,
// detach and reverse polarity through the discharge resistor.
package relay

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
)

// Relay indices on the board.
const (
	NegativeConnect = 0
	BatteryEnable   = 1
	ResistorBypass  = 2
	PositiveConnect = 3
)

// OpenCircuitOhms is the series resistance reported while the battery is
// disconnected.
const OpenCircuitOhms = 1e9

// DefaultSettle is the delay after switching the battery-enable relay.
const DefaultSettle = 100 * time.Millisecond

// State is the physical wiring of the battery.
type State struct {
	BatteryEnabled       bool    `json:"batteryEnabled"`
	PolarityReversed     bool    `json:"polarityReversed"`
	SeriesResistanceOhms float64 `json:"seriesResistanceOhms"`
}

func (s State) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"batteryEnabled":       s.BatteryEnabled,
		"polarityReversed":     s.PolarityReversed,
		"seriesResistanceOhms": s.SeriesResistanceOhms,
	}
}

// Controller attaches and detaches the battery.
type Controller interface {
	// Attach switches the relays and returns the resulting state.
	Attach(enable, reverse bool) (State, error)
	// State returns the state set by the last Attach.
	State() State
	// Release de-energizes every relay.
	Release() error
}

// Pin is a single relay output.
type Pin interface {
	Out(l gpio.Level) error
}

// Matrix is the four-relay board.
type Matrix struct {
	mu    sync.Mutex
	pins  [4]Pin
	state State

	connectionOhms float64
	dischargeOhms  float64

	settle time.Duration
	sleep  func(time.Duration)
}

// NewMatrix returns a Matrix switching pins, indexed by the relay constants.
// connectionOhms is the resistance of the wiring, dischargeOhms the resistor
// inserted when the polarity is reversed.
func NewMatrix(pins [4]Pin, connectionOhms, dischargeOhms float64) *Matrix {
	return &Matrix{
		pins:           pins,
		connectionOhms: connectionOhms,
		dischargeOhms:  dischargeOhms,
		settle:         DefaultSettle,
		sleep:          time.Sleep,
		state: State{
			SeriesResistanceOhms: OpenCircuitOhms,
		},
	}
}

// SetSettle changes the delay after switching the battery-enable relay.
func (m *Matrix) SetSettle(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settle = d
}

func (m *Matrix) Attach(enable, reverse bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"enable":  enable,
		"reverse": reverse,
	}).Debug("switching relays")

	// Never switch polarity with the battery connected.
	err := m.set(BatteryEnable, false)
	if err != nil {
		return m.state, err
	}
	m.state.BatteryEnabled = false
	m.state.SeriesResistanceOhms = OpenCircuitOhms
	m.wait()

	for _, idx := range []int{PositiveConnect, NegativeConnect} {
		err = m.set(idx, reverse)
		if err != nil {
			return m.state, err
		}
	}
	err = m.set(ResistorBypass, !reverse)
	if err != nil {
		return m.state, err
	}

	err = m.set(BatteryEnable, enable)
	if err != nil {
		return m.state, err
	}

	m.state = State{
		BatteryEnabled:       enable,
		PolarityReversed:     reverse,
		SeriesResistanceOhms: SeriesResistance(enable, reverse, m.connectionOhms, m.dischargeOhms),
	}
	m.wait()

	return m.state, nil
}

func (m *Matrix) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Matrix) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logrus.Debug("releasing relays")

	var firstErr error
	for _, idx := range []int{BatteryEnable, PositiveConnect, NegativeConnect, ResistorBypass} {
		err := m.set(idx, false)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.state = State{SeriesResistanceOhms: OpenCircuitOhms}

	return firstErr
}

func (m *Matrix) set(idx int, on bool) error {
	logrus.WithFields(logrus.Fields{
		"relay": idx,
		"on":    on,
	}).Trace("setting relay")

	err := m.pins[idx].Out(gpio.Level(on))
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to set relay %d to %t", idx, on)
	}

	return nil
}

func (m *Matrix) wait() {
	if m.settle > 0 {
		m.sleep(m.settle)
	}
}

// SeriesResistance is the resistance between the supply and the battery for
// the given wiring.
func SeriesResistance(enable, reverse bool, connectionOhms, dischargeOhms float64) float64 {
	r := OpenCircuitOhms
	if enable {
		r = connectionOhms
	}
	if reverse {
		r += dischargeOhms
	}
	return r
}
