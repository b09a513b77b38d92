// Package profiler measures the capacity of a battery while the charger
// runs, pausing it at regular energy steps to sample the open-circuit
// voltage.
package profiler

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/charlie0129/battprof/pkg/bench"
	"github.com/charlie0129/battprof/pkg/charger"
	"github.com/charlie0129/battprof/pkg/events"
	"github.com/charlie0129/battprof/pkg/lut"
)

const (
	// ProbeCurrent is the current limit while sampling the open-circuit
	// voltage.
	ProbeCurrent = 0.001
	// DefaultSettle is the wait after rewiring the battery.
	DefaultSettle = time.Second
)

// Options configures a profiling run.
type Options struct {
	RunID            string
	PollInterval     time.Duration
	DecayTime        time.Duration
	Settle           time.Duration
	MaxSupplyVoltage float64
	TotalCapacityWh  float64
	Steps            int
}

// Status is a point-in-time view of the profiler.
type Status struct {
	RunID                string  `json:"runId"`
	EnergyWh             float64 `json:"energyWh"`
	NextThresholdWh      float64 `json:"nextThresholdWh"`
	StateOfChargePercent float64 `json:"stateOfChargePercent"`
	Interruptions        int     `json:"interruptions"`
	Interrupted          bool    `json:"interrupted"`
}

// Profiler runs the charger engine and builds the LUT next to it.
type Profiler struct {
	bench  *bench.Bench
	engine *charger.Engine
	sink   lut.Sink
	hub    *events.Hub
	opts   Options

	mu            sync.Mutex
	acc           *Accumulator
	interruptions int
	interrupted   bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Profiler for engine. Entries go to sink.
func New(b *bench.Bench, engine *charger.Engine, sink lut.Sink, hub *events.Hub, opts Options) (*Profiler, error) {
	if opts.PollInterval <= 0 {
		return nil, pkgerrors.Errorf("poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.TotalCapacityWh <= 0 {
		return nil, pkgerrors.Errorf("total capacity must be positive, got %g Wh", opts.TotalCapacityWh)
	}
	if opts.Steps <= 0 {
		return nil, pkgerrors.Errorf("LUT steps must be positive, got %d", opts.Steps)
	}
	if opts.Settle < 0 || opts.DecayTime < 0 {
		return nil, pkgerrors.New("settle and decay time must not be negative")
	}

	return &Profiler{
		bench:  b,
		engine: engine,
		sink:   sink,
		hub:    hub,
		opts:   opts,
		acc:    NewAccumulator(opts.TotalCapacityWh, opts.Steps),
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// Status returns the accumulated energy and interruption count.
func (p *Profiler) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		RunID:                p.opts.RunID,
		EnergyWh:             p.acc.EnergyWh(),
		NextThresholdWh:      p.acc.NextThresholdWh(),
		StateOfChargePercent: p.acc.StateOfChargePercent(),
		Interruptions:        p.interruptions,
		Interrupted:          p.interrupted,
	}
}

// Engine returns the engine being profiled.
func (p *Profiler) Engine() *charger.Engine {
	return p.engine
}

// Run starts the engine and profiles it until the engine finishes or ctx
// is cancelled. Cancellation is not an error.
func (p *Profiler) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"runId":    p.opts.RunID,
		"mode":     p.engine.Mode(),
		"totalWh":  p.opts.TotalCapacityWh,
		"stepWh":   p.acc.StepWh(),
		"decay":    p.opts.DecayTime,
		"maxVolts": p.opts.MaxSupplyVoltage,
	}).Info("starting profiler")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.engine.Run(gctx)
	})
	g.Go(func() error {
		return p.loop(gctx)
	})

	err := g.Wait()

	st := p.Status()
	logrus.WithFields(logrus.Fields{
		"energyWh":      st.EnergyWh,
		"interruptions": st.Interruptions,
		"state":         p.engine.State(),
	}).Info("profiler stopped")

	return err
}

func (p *Profiler) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.engine.Done():
			return nil
		case <-time.After(p.opts.PollInterval):
		}

		err := p.poll(ctx)
		if err != nil {
			return err
		}
	}
}

// poll measures once and interrupts the engine when the next threshold was
// crossed.
func (p *Profiler) poll(ctx context.Context) error {
	var m bench.Measurement
	err := p.bench.Do(func(c *bench.Control) error {
		var err error
		m, err = c.Measure()
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(err, "profiler measurement failed")
	}

	p.mu.Lock()
	p.acc.Add(m)
	crossed := p.acc.Crossed()
	p.mu.Unlock()

	if !crossed {
		return nil
	}

	select {
	case <-p.engine.Done():
		// finished while measuring, nothing to pause
		return nil
	default:
	}

	err = p.interrupt(ctx, m)
	if err != nil && ctx.Err() != nil {
		logrus.Info("interruption cancelled")
		return nil
	}
	return err
}

// interrupt pauses the engine, samples the open-circuit voltage and puts
// the bench back the way it was. The whole sequence holds the bench lock.
func (p *Profiler) interrupt(ctx context.Context, loaded bench.Measurement) error {
	p.mu.Lock()
	index := p.interruptions + 1
	energy := p.acc.EnergyWh()
	soc := p.acc.StateOfChargePercent()
	p.interrupted = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.interrupted = false
		p.mu.Unlock()
	}()

	log := logrus.WithFields(logrus.Fields{
		"index":    index,
		"energyWh": energy,
	})
	log.Info("interrupting for open-circuit measurement")

	p.hub.Publish(events.ProfilerInterruption, events.InterruptionEvent{
		Index:    index,
		EnergyWh: energy,
		Ts:       p.now().Unix(),
	})

	var ocv float64
	err := p.bench.Do(func(c *bench.Control) error {
		saved := c.Setpoint()
		wiring := c.RelayState()
		log.WithFields(saved.LogrusFields()).Debug("saved setpoint")

		steps := []struct {
			name string
			fn   func() error
		}{
			{"detach battery", func() error { _, err := c.Attach(false, false); return err }},
			{"disable output", func() error { return c.SetOutput(false) }},
			{"wait for decay", func() error { return p.sleep(ctx, p.opts.DecayTime) }},
			{"disable OVP", func() error { return c.SetOverVoltageProtection(false) }},
			{"set probe voltage", func() error { return c.SetVoltage(p.opts.MaxSupplyVoltage) }},
			{"set probe current", func() error { return c.SetCurrent(ProbeCurrent) }},
			{"enable output", func() error { return c.SetOutput(true) }},
			{"attach battery", func() error { _, err := c.Attach(true, false); return err }},
			{"settle", func() error { return p.sleep(ctx, p.opts.Settle) }},
			{"sample", func() error {
				m, err := c.Measure()
				ocv = m.Voltage
				return err
			}},
			{"detach battery", func() error { _, err := c.Attach(false, false); return err }},
			{"restore voltage", func() error { return c.SetVoltage(saved.Voltage) }},
			{"restore current", func() error { return c.SetCurrent(saved.Current) }},
			{"restore OCP", func() error { return c.SetOverCurrentProtection(saved.OverCurrentProtection) }},
			{"restore output", func() error { return c.SetOutput(saved.Output) }},
			{"reattach battery", func() error {
				_, err := c.Attach(wiring.BatteryEnabled, wiring.PolarityReversed)
				return err
			}},
			{"settle", func() error { return p.sleep(ctx, p.opts.Settle) }},
			{"restore OVP", func() error { return c.SetOverVoltageProtection(saved.OverVoltageProtection) }},
		}
		for _, step := range steps {
			if err := step.fn(); err != nil {
				return pkgerrors.Wrapf(err, "interruption %d: failed to %s", index, step.name)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	resumed := p.now()

	p.mu.Lock()
	p.acc.ResetBaseline(resumed)
	p.acc.Advance()
	p.interruptions = index
	next := p.acc.NextThresholdWh()
	p.mu.Unlock()

	entry := lut.Entry{
		RunID:                        p.opts.RunID,
		Index:                        index,
		Charge:                       p.engine.Mode() == charger.ModeCharge,
		StateOfChargePercent:         soc,
		OpenCircuitVoltageMillivolts: ocv * 1000,
		LoadedVoltageMillivolts:      loaded.Voltage * 1000,
		EnergyWh:                     energy,
		At:                           resumed,
	}
	log.WithFields(entry.LogrusFields()).WithField("nextWh", next).Info("resumed")

	if p.sink != nil {
		err = p.sink.Append(entry)
		if err != nil {
			// a lost row does not stop the run
			log.WithError(err).Error("failed to store LUT entry")
		}
	}

	p.hub.Publish(events.ProfilerLUT, entry)
	p.hub.Publish(events.ProfilerInterruption, events.InterruptionEvent{
		Index:    index,
		EnergyWh: energy,
		Resumed:  true,
		Ts:       resumed.Unix(),
	})

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
