package bench

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/battprof/pkg/bench/benchtest"
	"github.com/charlie0129/battprof/pkg/relay"
)

func TestBatteryVoltage(t *testing.T) {
	tests := []struct {
		name  string
		volts float64
		amps  float64
		state relay.State
		want  float64
	}{
		{
			name: "forward", volts: 4.435, amps: 0.25,
			state: relay.State{BatteryEnabled: true, SeriesResistanceOhms: 0.94},
			want:  4.2,
		},
		{
			name: "reversed", volts: 1.0, amps: 0.036,
			state: relay.State{BatteryEnabled: true, PolarityReversed: true, SeriesResistanceOhms: 127.49},
			want:  127.49*0.036 - 1.0,
		},
		{
			name: "reversed without resistor", volts: 3.7, amps: 0.036,
			state: relay.State{BatteryEnabled: true, PolarityReversed: true},
			want:  3.7,
		},
		{
			name: "no relays", volts: 3.9, amps: 0.1,
			state: relay.State{BatteryEnabled: true},
			want:  3.9,
		},
		{
			name: "detached, no current", volts: 0, amps: 0,
			state: relay.State{SeriesResistanceOhms: relay.OpenCircuitOhms},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BatteryVoltage(tt.volts, tt.amps, tt.state), 1e-9)
		})
	}
}

func TestControlTracksSetpoint(t *testing.T) {
	rec := &benchtest.Recorder{}
	b := New(rec, relay.NewNoop(), 1)

	err := b.Do(func(c *Control) error {
		if err := c.SetVoltage(4.05); err != nil {
			return err
		}
		if err := c.SetCurrent(0.25); err != nil {
			return err
		}
		if err := c.SetOverVoltageProtection(true); err != nil {
			return err
		}
		if err := c.SetOverCurrentProtection(true); err != nil {
			return err
		}
		if _, err := c.Attach(true, true); err != nil {
			return err
		}
		return c.SetOutput(true)
	})
	require.NoError(t, err)

	sp, st, _ := b.Snapshot()
	assert.Equal(t, Setpoint{
		Channel:               1,
		Voltage:               4.05,
		Current:               0.25,
		Output:                true,
		OverVoltageProtection: true,
		OverCurrentProtection: true,
	}, sp)
	assert.Equal(t, relay.State{BatteryEnabled: true, PolarityReversed: true}, st)
}

func TestSnapshotDuringDo(t *testing.T) {
	b := New(&benchtest.Recorder{}, relay.NewNoop(), 1)

	changed := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func(c *Control) error {
			if err := c.SetVoltage(30); err != nil {
				return err
			}
			close(changed)
			<-release
			return nil
		})
	}()

	<-changed
	snap := make(chan Setpoint)
	go func() {
		sp, _, _ := b.Snapshot()
		snap <- sp
	}()

	select {
	case sp := <-snap:
		assert.InDelta(t, 30, sp.Voltage, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot waited for Do")
	}

	close(release)
	require.NoError(t, <-done)
}

func TestControlFailedWriteKeepsSetpoint(t *testing.T) {
	rec := &benchtest.Recorder{}
	b := New(rec, relay.NewNoop(), 1)
	require.NoError(t, b.Do(func(c *Control) error { return c.SetVoltage(4.2) }))

	rec.Err = errors.New("unplugged")
	assert.Error(t, b.Do(func(c *Control) error { return c.SetVoltage(30) }))

	sp, _, _ := b.Snapshot()
	assert.InDelta(t, 4.2, sp.Voltage, 1e-9)
}

func TestMeasure(t *testing.T) {
	rec := &benchtest.Recorder{
		Reading: func(r *benchtest.Recorder) (float64, float64) {
			return 4.435, 0.25
		},
	}
	b := New(rec, &fixedRelays{state: relay.State{BatteryEnabled: true, SeriesResistanceOhms: 0.94}}, 2)

	var m Measurement
	err := b.Do(func(c *Control) error {
		var err error
		m, err = c.Measure()
		return err
	})
	require.NoError(t, err)

	assert.InDelta(t, 4.2, m.Voltage, 1e-9)
	assert.InDelta(t, 4.435, m.SupplyVoltage, 1e-9)
	assert.InDelta(t, 0.25, m.Current, 1e-9)
	assert.False(t, m.At.IsZero())
	assert.Equal(t, []string{"VOUT2?", "IOUT2?"}, rec.Calls())

	_, _, last := b.Snapshot()
	assert.Equal(t, m, last)
}

func TestShutdown(t *testing.T) {
	rec := &benchtest.Recorder{}
	relays := relay.NewNoop()
	b := New(rec, relays, 1)
	require.NoError(t, b.Do(func(c *Control) error {
		if _, err := c.Attach(true, false); err != nil {
			return err
		}
		return c.SetOutput(true)
	}))

	require.NoError(t, b.Shutdown())

	assert.False(t, rec.Output)
	sp, st, _ := b.Snapshot()
	assert.False(t, sp.Output)
	assert.False(t, st.BatteryEnabled)
}

func TestShutdownReleasesRelaysOnSupplyError(t *testing.T) {
	rec := &benchtest.Recorder{Err: errors.New("unplugged")}
	relays := &fixedRelays{state: relay.State{BatteryEnabled: true}}
	b := New(rec, relays, 1)

	assert.Error(t, b.Shutdown())
	assert.True(t, relays.released)
}

type fixedRelays struct {
	state    relay.State
	released bool
}

func (f *fixedRelays) Attach(enable, reverse bool) (relay.State, error) {
	return f.state, nil
}

func (f *fixedRelays) State() relay.State {
	return f.state
}

func (f *fixedRelays) Release() error {
	f.released = true
	f.state = relay.State{}
	return nil
}
