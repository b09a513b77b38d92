// Package benchtest provides a recording supply for tests.
package benchtest

import (
	"fmt"
	"sync"
)

// Recorder is a bench.Supply that records every call. Readings come from
// the Reading func, which defaults to 0 V / 0 A.
type Recorder struct {
	mu    sync.Mutex
	calls []string

	Voltage float64
	Current float64
	Output  bool
	OVP     bool
	OCP     bool

	// Reads counts ActualVoltage calls.
	Reads int

	// Reading returns the supply voltage and current. It is called with the
	// recorder locked and may only read its fields.
	Reading func(r *Recorder) (float64, float64)
	// Err, when set, is returned by every call.
	Err error
}

func (r *Recorder) record(format string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return r.Err
}

// Calls returns the recorded calls.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

// Reset clears the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = nil
}

func (r *Recorder) SetVoltage(ch int, volts float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Voltage = volts
	return r.record("VSET%d:%.3f", ch, volts)
}

func (r *Recorder) SetCurrent(ch int, amps float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Current = amps
	return r.record("ISET%d:%.3f", ch, amps)
}

func (r *Recorder) ActualVoltage(ch int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Reads++
	err := r.record("VOUT%d?", ch)
	v, _ := r.reading()
	return v, err
}

func (r *Recorder) ActualCurrent(ch int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.record("IOUT%d?", ch)
	_, i := r.reading()
	return i, err
}

func (r *Recorder) SetOutput(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Output = on
	return r.record("OUT%t", on)
}

func (r *Recorder) SetOverVoltageProtection(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.OVP = on
	return r.record("OVP%t", on)
}

func (r *Recorder) SetOverCurrentProtection(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.OCP = on
	return r.record("OCP%t", on)
}

func (r *Recorder) reading() (float64, float64) {
	if r.Reading == nil {
		return 0, 0
	}
	return r.Reading(r)
}
