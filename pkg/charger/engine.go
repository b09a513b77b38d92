// Package charger implements the charge and discharge state machine.
package charger

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/bench"
	"github.com/charlie0129/battprof/pkg/events"
)

// statusLogInterval throttles the Info progress log.
var statusLogInterval = 5 * time.Minute

// Engine drives one charge or discharge run. Every tick is one
// read-modify-write on the bench.
type Engine struct {
	bench        *bench.Bench
	profile      Profile
	mode         Mode
	pollInterval time.Duration
	hub          *events.Hub

	mu      sync.Mutex
	state   State
	history []State
	last    bench.Measurement

	lastStatusLog time.Time

	done chan struct{}
	once sync.Once
}

// New validates p and returns an idle Engine. No instrument I/O happens
// before Run.
func New(b *bench.Bench, p Profile, mode Mode, pollInterval time.Duration, hub *events.Hub) (*Engine, error) {
	if mode != ModeCharge && mode != ModeDischarge {
		return nil, pkgerrors.Errorf("unknown mode %q", mode)
	}
	if pollInterval <= 0 {
		return nil, pkgerrors.Errorf("poll interval must be positive, got %s", pollInterval)
	}
	err := p.Validate(mode)
	if err != nil {
		return nil, err
	}

	return &Engine{
		bench:        b,
		profile:      p,
		mode:         mode,
		pollInterval: pollInterval,
		hub:          hub,
		state:        StateIdle,
		history:      []State{StateIdle},
		done:         make(chan struct{}),
	}, nil
}

// Mode returns the direction of the run.
func (e *Engine) Mode() Mode {
	return e.mode
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// History returns every state entered, in order, starting with Idle.
func (e *Engine) History() []State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]State(nil), e.history...)
}

// LastMeasurement returns the reading of the last tick.
func (e *Engine) LastMeasurement() bench.Measurement {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run executes the state machine until Done, cancellation or an instrument
// error. Cancellation is not an error. The supply output is off whenever
// Run returns.
func (e *Engine) Run(ctx context.Context) (err error) {
	first := false
	e.once.Do(func() { first = true })
	if !first {
		return pkgerrors.New("engine already ran")
	}
	defer close(e.done)

	defer func() {
		offErr := e.bench.Do(func(c *bench.Control) error {
			return c.SetOutput(false)
		})
		if offErr != nil {
			logrus.WithError(offErr).Error("failed to disable output after run")
			if err == nil {
				err = offErr
			}
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	logrus.WithFields(e.profile.LogrusFields()).WithField("mode", e.mode).Info("starting run")

	if e.mode == ModeCharge {
		err = e.startCharge()
	} else {
		err = e.startDischarge()
	}
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			logrus.WithField("state", e.State()).Info("run cancelled")
			return nil
		}

		done, err := e.tick()
		if err != nil {
			return err
		}
		if done {
			e.enter(StateDone)
			if e.mode == ModeCharge {
				logrus.Info("battery fully charged")
			} else {
				logrus.Info("battery fully discharged")
			}
			return nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.pollInterval):
		}
	}
}

func (e *Engine) startCharge() error {
	p := e.profile

	return e.bench.Do(func(c *bench.Control) error {
		steps := []func() error{
			func() error { return c.SetOutput(false) },
			func() error { return c.SetCurrent(p.PrechargeCurrent) },
			func() error { return c.SetVoltage(p.ConstantVoltage) },
			func() error { return c.SetOverCurrentProtection(false) },
			func() error { return c.SetOverVoltageProtection(false) },
			func() error { _, err := c.Attach(true, false); return err },
			func() error { return c.SetOutput(true) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return pkgerrors.Wrap(err, "failed to start charging")
			}
		}
		e.enter(StatePrecharge)
		return nil
	})
}

func (e *Engine) startDischarge() error {
	p := e.profile
	volts, ovp := p.DischargeSetpoint()
	if !ovp {
		logrus.Warn("no discharge resistor configured, supply voltage is used as battery voltage")
	}

	return e.bench.Do(func(c *bench.Control) error {
		steps := []func() error{
			func() error { return c.SetOutput(false) },
			func() error { return c.SetCurrent(p.TypicalDischargeCurrent) },
			func() error { return c.SetVoltage(volts) },
			func() error { return c.SetOverVoltageProtection(ovp) },
			func() error { return c.SetOverCurrentProtection(false) },
			func() error { _, err := c.Attach(true, true); return err },
			func() error { return c.SetOutput(true) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return pkgerrors.Wrap(err, "failed to start discharging")
			}
		}
		e.enter(StateDischarge)
		return nil
	})
}

// tick measures once and advances the state machine. It returns true once
// the run is complete.
func (e *Engine) tick() (bool, error) {
	p := e.profile
	state := e.State()
	done := false

	err := e.bench.Do(func(c *bench.Control) error {
		m, err := c.Measure()
		if err != nil {
			return pkgerrors.Wrapf(err, "measurement failed in state %s", state)
		}
		e.record(state, m, c.RelayState().SeriesResistanceOhms)

		switch state {
		case StatePrecharge:
			if m.Voltage >= p.PrechargeVoltage {
				err = c.SetCurrent(p.ConstantCurrent)
				if err != nil {
					return err
				}
				e.enter(StateConstantCurrent)
			}
		case StateConstantCurrent:
			err = c.SetVoltage(p.ConstantVoltage + c.RelayState().SeriesResistanceOhms*m.Current)
			if err != nil {
				return err
			}
			if m.Voltage >= p.ConstantVoltage || m.Current < taperRatio*p.ConstantCurrent {
				e.enter(StateConstantVoltage)
			}
		case StateConstantVoltage:
			err = c.SetVoltage(p.ConstantVoltage + c.RelayState().SeriesResistanceOhms*m.Current)
			if err != nil {
				return err
			}
			done = m.Current <= p.EndOfCurrent
		case StateDischarge:
			done = m.Voltage <= p.EmptyVoltage
		default:
			return pkgerrors.Errorf("tick in unexpected state %s", state)
		}

		return nil
	})

	return done, err
}

func (e *Engine) record(state State, m bench.Measurement, seriesOhms float64) {
	e.mu.Lock()
	e.last = m
	logStatus := m.At.Sub(e.lastStatusLog) >= statusLogInterval
	if logStatus {
		e.lastStatusLog = m.At
	}
	e.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"state":      state,
		"voltage":    m.Voltage,
		"current":    m.Current,
		"supply":     m.SupplyVoltage,
		"seriesOhms": seriesOhms,
	})
	if logStatus {
		log.Info("run status")
	} else {
		log.Debug("tick")
	}
}

func (e *Engine) enter(s State) {
	e.mu.Lock()
	from := e.state
	e.state = s
	e.history = append(e.history, s)
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"from": from,
		"to":   s,
		"mode": e.mode,
	}).Info("entering state")

	e.hub.Publish(events.EnginePhase, events.EnginePhaseEvent{
		Mode: string(e.mode),
		From: string(from),
		To:   string(s),
		Ts:   time.Now().Unix(),
	})
}
