package tenma

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/relay"
)

// SimulatedID is the identification string of the simulator.
const SimulatedID = "TENMA 72-2540 V2.1"

// Cell is a simple battery model: open-circuit voltage rises linearly with
// charge, from EmptyVoltage when empty to FullVoltage at CapacityAh and
// beyond it when overcharged.
type Cell struct {
	CapacityAh         float64
	ChargeAh           float64
	EmptyVoltage       float64
	FullVoltage        float64
	InternalResistance float64
}

// OpenCircuitVoltage of the cell at its current charge.
func (c *Cell) OpenCircuitVoltage() float64 {
	if c.CapacityAh <= 0 {
		return c.EmptyVoltage
	}
	return c.EmptyVoltage + (c.FullVoltage-c.EmptyVoltage)*c.ChargeAh/c.CapacityAh
}

// Simulator is a Connection emulating a single-channel supply wired to a
// Cell. Simulated time runs TimeScale times faster than the clock.
type Simulator struct {
	mu sync.Mutex

	cell      *Cell
	now       func() time.Time
	last      time.Time
	timeScale float64

	voltageSet float64
	currentSet float64
	output     bool
	beep       bool
	memory     [5][2]float64

	connected  bool
	reversed   bool
	seriesOhms float64

	pending   []byte
	commands  []string
	closed    bool
	unplugged bool
}

// NewSimulator returns a simulator with the cell attached directly to the
// output, as if wired by hand.
func NewSimulator(cell *Cell) *Simulator {
	return &Simulator{
		cell:      cell,
		now:       time.Now,
		last:      time.Now(),
		timeScale: 1,
		connected: true,
	}
}

// SetTimeScale makes simulated time pass f times faster.
func (s *Simulator) SetTimeScale(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	s.timeScale = f
}

// Commands returns every command received so far.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

// Output reports whether the simulated output is on.
func (s *Simulator) Output() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.output
}

// Closed reports whether Close was called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Unplug drops every later command unanswered, so queries time out.
func (s *Simulator) Unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unplugged = true
}

// Charge returns the charge held by the cell in Ah.
func (s *Simulator) Charge() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	return s.cell.ChargeAh
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.advance()
	if s.unplugged {
		return len(p), nil
	}

	cmd := string(p)
	s.commands = append(s.commands, cmd)
	s.handle(cmd)

	return len(p), nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}

	// nothing pending behaves like a read timeout
	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	return n, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *Simulator) handle(cmd string) {
	switch {
	case cmd == "*IDN?":
		s.reply(SimulatedID)
	case cmd == "STATUS?":
		s.pending = append(s.pending, s.status())
	case strings.HasPrefix(cmd, "ISET") && strings.HasSuffix(cmd, "?"):
		s.reply(fmt.Sprintf("%06.3f", s.currentSet))
	case strings.HasPrefix(cmd, "VSET") && strings.HasSuffix(cmd, "?"):
		s.reply(fmt.Sprintf("%05.2f", s.voltageSet))
	case strings.HasPrefix(cmd, "IOUT"):
		_, i := s.operatingPoint()
		s.reply(fmt.Sprintf("%05.3f", i))
	case strings.HasPrefix(cmd, "VOUT"):
		v, _ := s.operatingPoint()
		s.reply(fmt.Sprintf("%05.2f", v))
	case strings.HasPrefix(cmd, "ISET"):
		s.currentSet = parseSetting(cmd)
	case strings.HasPrefix(cmd, "VSET"):
		s.voltageSet = parseSetting(cmd)
	case strings.HasPrefix(cmd, "OUT"):
		s.output = strings.HasSuffix(cmd, "1")
	case strings.HasPrefix(cmd, "BEEP"):
		s.beep = strings.HasSuffix(cmd, "1")
	case strings.HasPrefix(cmd, "OVP"), strings.HasPrefix(cmd, "OCP"):
		// protection trips are not simulated
	case strings.HasPrefix(cmd, "RCL"):
		if n := memoryIndex(cmd[3:]); n >= 0 {
			s.voltageSet, s.currentSet = s.memory[n][0], s.memory[n][1]
		}
	case strings.HasPrefix(cmd, "SAV"):
		if n := memoryIndex(cmd[3:]); n >= 0 {
			s.memory[n] = [2]float64{s.voltageSet, s.currentSet}
		}
	default:
		logrus.WithField("cmd", cmd).Warn("simulator: unknown command")
	}
}

func (s *Simulator) reply(r string) {
	s.pending = append(s.pending, r...)
}

func (s *Simulator) status() byte {
	var b byte
	if !s.currentLimited() {
		b |= 1 << 0
	}
	if s.beep {
		b |= 1 << 4
	}
	b |= 1 << 5 // unlocked
	if s.output {
		b |= 1 << 6
	}
	return b
}

func (s *Simulator) currentLimited() bool {
	_, i := s.operatingPoint()
	return s.output && s.connected && i >= s.currentSet
}

// operatingPoint returns the output voltage and current of the supply.
func (s *Simulator) operatingPoint() (float64, float64) {
	if !s.output {
		return 0, 0
	}
	if !s.connected {
		return s.voltageSet, 0
	}

	ocv := s.cell.OpenCircuitVoltage()
	r := s.seriesOhms + s.cell.InternalResistance
	if r <= 0 {
		r = 1e-3
	}

	if !s.reversed {
		i := (s.voltageSet - ocv) / r
		if i <= 0 {
			// supply cannot sink, the cell holds the terminals up
			return ocv, 0
		}
		if i > s.currentSet {
			return ocv + s.currentSet*r, s.currentSet
		}
		return s.voltageSet, i
	}

	// reversed: supply and cell drive the loop in series
	i := (s.voltageSet + ocv) / r
	if i > s.currentSet {
		v := s.currentSet*r - ocv
		if v < 0 {
			return 0, ocv / r
		}
		return v, s.currentSet
	}
	return s.voltageSet, i
}

// advance integrates the cell charge up to now.
func (s *Simulator) advance() {
	now := s.now()
	hours := now.Sub(s.last).Hours() * s.timeScale
	s.last = now
	if hours <= 0 {
		return
	}

	_, i := s.operatingPoint()
	if s.reversed {
		i = -i
	}

	c := s.cell
	c.ChargeAh += i * hours
	// not clamped at CapacityAh: an overcharged cell keeps rising above
	// FullVoltage, which tapers the current at constant voltage
	if c.ChargeAh < 0 {
		c.ChargeAh = 0
	}
}

func (s *Simulator) wire(connected, reversed bool, seriesOhms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	s.connected = connected
	s.reversed = reversed
	s.seriesOhms = seriesOhms
}

func parseSetting(cmd string) float64 {
	idx := strings.IndexByte(cmd, ':')
	if idx < 0 {
		return 0
	}
	v, err := strconv.ParseFloat(cmd[idx+1:], 64)
	if err != nil {
		return 0
	}
	return v
}

func memoryIndex(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 5 {
		return -1
	}
	return n - 1
}

// Relays returns a relay.Controller that rewires the simulated cell the
// way the relay board would.
func (s *Simulator) Relays(connectionOhms, dischargeOhms float64) relay.Controller {
	return &simulatedRelays{
		sim:            s,
		connectionOhms: connectionOhms,
		dischargeOhms:  dischargeOhms,
		state:          relay.State{SeriesResistanceOhms: relay.OpenCircuitOhms},
	}
}

type simulatedRelays struct {
	mu    sync.Mutex
	sim   *Simulator
	state relay.State

	connectionOhms float64
	dischargeOhms  float64
}

func (r *simulatedRelays) Attach(enable, reverse bool) (relay.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = relay.State{
		BatteryEnabled:       enable,
		PolarityReversed:     reverse,
		SeriesResistanceOhms: relay.SeriesResistance(enable, reverse, r.connectionOhms, r.dischargeOhms),
	}
	r.sim.wire(enable, reverse, r.state.SeriesResistanceOhms)

	return r.state, nil
}

func (r *simulatedRelays) State() relay.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *simulatedRelays) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = relay.State{SeriesResistanceOhms: relay.OpenCircuitOhms}
	r.sim.wire(false, false, 0)

	return nil
}
