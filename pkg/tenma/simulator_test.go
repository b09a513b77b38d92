package tenma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func newTestSimulator(chargeAh float64) (*Supply, *Simulator, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	sim := NewSimulator(&Cell{
		CapacityAh:         0.5,
		ChargeAh:           chargeAh,
		EmptyVoltage:       3.0,
		FullVoltage:        4.2,
		InternalResistance: 0.1,
	})
	sim.now = clock.now
	sim.last = clock.t

	s := New(sim)
	s.SetTurnaround(0)

	return s, sim, clock
}

func TestSimulatorIdentify(t *testing.T) {
	s, _, _ := newTestSimulator(0.25)

	model, err := s.CheckDevice()
	require.NoError(t, err)
	assert.Equal(t, "72-2540", model)
}

func TestSimulatorSettings(t *testing.T) {
	s, sim, _ := newTestSimulator(0.25)

	require.NoError(t, s.SetVoltage(1, 4.05))
	require.NoError(t, s.SetCurrent(1, 0.25))
	require.NoError(t, s.Store(1))
	require.NoError(t, s.SetVoltage(1, 1))
	require.NoError(t, s.Recall(1))

	v, err := s.Voltage(1)
	require.NoError(t, err)
	assert.InDelta(t, 4.05, v, 1e-9)

	i, err := s.Current(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, i, 1e-9)

	assert.Contains(t, sim.Commands(), "SAV1")
}

func TestSimulatorOutputOff(t *testing.T) {
	s, _, _ := newTestSimulator(0.25)

	require.NoError(t, s.SetVoltage(1, 4.2))
	require.NoError(t, s.SetCurrent(1, 0.25))

	v, err := s.ActualVoltage(1)
	require.NoError(t, err)
	assert.Zero(t, v)

	st, err := s.Status()
	require.NoError(t, err)
	assert.False(t, st.Output)
}

func TestSimulatorUnplugged(t *testing.T) {
	s, sim, _ := newTestSimulator(0.25)
	require.NoError(t, s.SetOutput(true))

	sim.Unplug()

	_, err := s.ActualVoltage(1)
	assert.ErrorIs(t, err, ErrCommunicationTimeout)
	// lost on the way
	require.NoError(t, s.SetOutput(false))
	assert.True(t, sim.Output())
}

func TestSimulatorConstantCurrentCharge(t *testing.T) {
	s, sim, clock := newTestSimulator(0.25)

	require.NoError(t, s.SetVoltage(1, 4.2))
	require.NoError(t, s.SetCurrent(1, 0.25))
	require.NoError(t, s.SetOutput(true))

	// open-circuit voltage is 3.6 V, so the supply limits current
	i, err := s.ActualCurrent(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, i, 1e-9)

	v, err := s.ActualVoltage(1)
	require.NoError(t, err)
	assert.InDelta(t, 3.625, v, 0.006)

	st, err := s.Status()
	require.NoError(t, err)
	assert.False(t, st.CH1ConstantVoltage)
	assert.True(t, st.Output)

	clock.t = clock.t.Add(time.Hour / 10)
	assert.InDelta(t, 0.275, sim.Charge(), 1e-9)
}

func TestSimulatorConstantVoltageTapers(t *testing.T) {
	s, sim, clock := newTestSimulator(0.5)
	_, err := sim.Relays(0.94, 126.55).Attach(true, false)
	require.NoError(t, err)

	require.NoError(t, s.SetCurrent(1, 0.25))
	require.NoError(t, s.SetVoltage(1, 4.25))
	require.NoError(t, s.SetOutput(true))

	first, err := s.ActualCurrent(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.048, first, 0.001)

	for i := 0; i < 10; i++ {
		clock.t = clock.t.Add(time.Hour / 10)
		assert.Greater(t, sim.Charge(), 0.5)
	}

	later, err := s.ActualCurrent(1)
	require.NoError(t, err)
	assert.Less(t, later, 0.025)
}

func TestSimulatorReversedDischarge(t *testing.T) {
	s, sim, clock := newTestSimulator(0.25)
	relays := sim.Relays(0.94, 126.55)

	_, err := relays.Attach(true, true)
	require.NoError(t, err)

	require.NoError(t, s.SetCurrent(1, 0.036))
	require.NoError(t, s.SetVoltage(1, (126.55+0.94)*0.036-3.1))
	require.NoError(t, s.SetOutput(true))

	i, err := s.ActualCurrent(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.036, i, 1e-9)

	// battery voltage is R*I - V
	v, err := s.ActualVoltage(1)
	require.NoError(t, err)
	r := 126.55 + 0.94
	assert.InDelta(t, 3.6, r*i-v, 0.05)

	clock.t = clock.t.Add(time.Hour)
	assert.InDelta(t, 0.25-0.036, sim.Charge(), 1e-9)

	require.NoError(t, relays.Release())
	assert.False(t, relays.State().BatteryEnabled)
}

func TestSimulatorClose(t *testing.T) {
	s, sim, _ := newTestSimulator(0.25)

	require.NoError(t, s.Close())
	assert.True(t, sim.Closed())
	assert.Error(t, s.SetOutput(false))
}
