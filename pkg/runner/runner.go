// Package runner wires the instrument, the charger and the profiler into
// one run, serves its status over HTTP and tears everything down exactly
// once.
package runner

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"

	"github.com/charlie0129/battprof/pkg/bench"
	"github.com/charlie0129/battprof/pkg/charger"
	"github.com/charlie0129/battprof/pkg/config"
	"github.com/charlie0129/battprof/pkg/events"
	"github.com/charlie0129/battprof/pkg/lut"
	"github.com/charlie0129/battprof/pkg/profiler"
	"github.com/charlie0129/battprof/pkg/tenma"
)

// settleTime is the profiler settle delay, replaced in tests.
var settleTime = profiler.DefaultSettle

// Options selects what to run.
type Options struct {
	Config config.Config
	Mode   charger.Mode
	// Profile runs the capacity profiler next to the charger.
	Profile bool
	// Simulator replaces the serial port when not nil.
	Simulator *tenma.Simulator
	// OnEvent receives every published event on its own goroutine.
	OnEvent func(events.Event)
}

type run struct {
	id   string
	conf config.Config

	inst     *Instrument
	bench    *bench.Bench
	engine   *charger.Engine
	profiler *profiler.Profiler
	sink     lut.Sink
	memory   *lut.Memory
	hub      *events.Hub
	server   *server

	stopEvents func()
	once       sync.Once
}

// Run performs one charge, discharge or profiling run. Configuration
// errors are returned before any instrument I/O. SIGINT and SIGTERM cancel
// the run gracefully; cancellation is not an error.
func Run(ctx context.Context, opts Options) error {
	conf := opts.Config
	err := conf.Validate()
	if err != nil {
		return err
	}
	profile := charger.ProfileFromConfig(&conf)
	err = profile.Validate(opts.Mode)
	if err != nil {
		return err
	}

	r := &run{
		id:     xid.New().String(),
		conf:   conf,
		memory: &lut.Memory{},
		hub:    events.NewHub(),
	}
	log := logrus.WithField("runId", r.id)
	log.WithFields(conf.LogrusFields()).Info("config loaded")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer handleSignals(ctx, cancel)()

	if conf.Schedule != "" {
		err = waitForSchedule(ctx, conf.Schedule, time.Now)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	atexit.Register(r.cleanup)
	defer r.cleanup()

	if opts.OnEvent != nil {
		r.stopEvents = forward(r.hub, opts.OnEvent)
	}

	r.inst, err = OpenInstrument(&conf, opts.Simulator)
	if err != nil {
		return err
	}
	r.bench = bench.New(r.inst.Supply, r.inst.Relays, conf.Channel)

	r.engine, err = charger.New(r.bench, profile, opts.Mode, conf.PollInterval, r.hub)
	if err != nil {
		return err
	}

	if opts.Profile {
		r.sink, err = openSinks(&conf, r.id, opts.Mode == charger.ModeCharge, r.memory)
		if err != nil {
			return err
		}
		r.profiler, err = profiler.New(r.bench, r.engine, r.sink, r.hub, profiler.Options{
			RunID:            r.id,
			PollInterval:     conf.PollInterval,
			DecayTime:        conf.DecayTime,
			Settle:           settleTime,
			MaxSupplyVoltage: conf.MaxSupplyVoltage,
			TotalCapacityWh:  conf.TotalCapacityWh(),
			Steps:            conf.LutSteps,
		})
		if err != nil {
			return err
		}
	}

	if conf.ListenAddr != "" {
		r.server, err = startServer(conf.ListenAddr, r)
		if err != nil {
			return err
		}
	}

	if r.profiler != nil {
		err = r.profiler.Run(ctx)
	} else {
		err = r.engine.Run(ctx)
	}
	if err != nil {
		return err
	}

	log.WithField("state", r.engine.State()).Info("run finished")
	return nil
}

// cleanup releases everything the run opened. It runs once, from Run or
// from an atexit handler.
func (r *run) cleanup() {
	r.once.Do(func() {
		logrus.Debug("cleaning up")

		// ends event streams so the server can shut down
		r.hub.Close()
		if r.stopEvents != nil {
			r.stopEvents()
		}

		if r.server != nil {
			r.server.Shutdown()
		}

		if r.bench != nil {
			// errors are logged by Shutdown
			_ = r.bench.Shutdown()
		}

		if r.inst != nil {
			err := r.inst.Close()
			if err != nil {
				logrus.WithError(err).Error("failed to close instrument")
			}
		}

		if r.sink != nil {
			err := r.sink.Close()
			if err != nil {
				logrus.WithError(err).Error("failed to close results")
			}
		}
	})
}

func openSinks(c *config.Config, runID string, charge bool, mem *lut.Memory) (lut.Sink, error) {
	sinks := lut.Multi{mem}

	csvSink, err := lut.NewCSVSink(c.ResultsDir, charge)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, csvSink)

	if c.SQLitePath != "" {
		s, err := lut.NewSQLiteSink(c.SQLitePath)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if c.MQTTBroker != "" {
		s, err := lut.NewMQTTSink(lut.MQTTOptions{
			Broker:   c.MQTTBroker,
			Username: c.MQTTUsername,
			Password: c.MQTTPassword,
			Topic:    c.MQTTTopic,
			RunID:    runID,
		})
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		logrus.WithField("topic", s.Topic()).Info("publishing results over MQTT")
		sinks = append(sinks, s)
	}

	return sinks, nil
}

// handleSignals cancels the run on SIGINT or SIGTERM. The returned func
// stops listening.
func handleSignals(ctx context.Context, cancel context.CancelFunc) func() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigc:
			logrus.Infof("caught signal \"%s\": shutting down.", sig)
			cancel()
		case <-ctx.Done():
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigc)
		close(done)
	}
}

// forward calls fn for every hub event until the hub is closed. The
// returned func waits for the last call.
func forward(hub *events.Hub, fn func(events.Event)) func() {
	ch := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fn(ev)
		}
	}()
	return func() {
		hub.Unsubscribe(ch)
		<-done
	}
}
