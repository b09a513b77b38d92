package tenma

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn replies with a fixed answer per command.
type scriptedConn struct {
	replies  map[string]string
	written  []string
	pending  []byte
	chunk    int
	writeErr error
	closed   bool
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cmd := string(p)
	c.written = append(c.written, cmd)
	c.pending = append(c.pending, c.replies[cmd]...)
	return len(p), nil
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	n := len(p)
	if c.chunk > 0 && n > c.chunk {
		n = c.chunk
	}
	n = copy(p[:n], c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func newScripted(replies map[string]string) (*Supply, *scriptedConn, *[]time.Duration) {
	conn := &scriptedConn{replies: replies}
	s := New(conn)
	var sleeps []time.Duration
	s.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return s, conn, &sleeps
}

func TestSetCommands(t *testing.T) {
	s, conn, sleeps := newScripted(nil)

	require.NoError(t, s.SetCurrent(1, 0.25))
	require.NoError(t, s.SetVoltage(1, 4.2))
	require.NoError(t, s.SetVoltage(2, 30))
	require.NoError(t, s.SetOutput(true))
	require.NoError(t, s.SetOutput(false))
	require.NoError(t, s.SetBeep(false))
	require.NoError(t, s.SetOverVoltageProtection(true))
	require.NoError(t, s.SetOverCurrentProtection(false))
	require.NoError(t, s.Recall(2))
	require.NoError(t, s.Store(3))

	assert.Equal(t, []string{
		"ISET1:0.250",
		"VSET1:04.20",
		"VSET2:30.00",
		"OUT1",
		"OUT0",
		"BEEP0",
		"OVP1",
		"OCP0",
		"RCL2",
		"SAV3",
	}, conn.written)

	require.Len(t, *sleeps, 10)
	assert.Equal(t, 50*time.Millisecond, (*sleeps)[0])
	assert.Equal(t, 100*time.Millisecond, (*sleeps)[9])
}

func TestMemoryRange(t *testing.T) {
	s, conn, _ := newScripted(nil)

	assert.Error(t, s.Recall(0))
	assert.Error(t, s.Store(6))
	assert.Empty(t, conn.written)
}

func TestNoTurnaround(t *testing.T) {
	s, _, sleeps := newScripted(nil)
	s.SetTurnaround(0)

	require.NoError(t, s.SetOutput(false))
	assert.Empty(t, *sleeps)
}

func TestQueries(t *testing.T) {
	s, _, _ := newScripted(map[string]string{
		"ISET1?": "0.2500",
		"VSET1?": "04.20",
		"IOUT1?": "0.123",
		"VOUT1?": "03.98",
	})

	i, err := s.Current(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, i, 1e-9)

	v, err := s.Voltage(1)
	require.NoError(t, err)
	assert.InDelta(t, 4.2, v, 1e-9)

	i, err = s.ActualCurrent(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.123, i, 1e-9)

	v, err = s.ActualVoltage(1)
	require.NoError(t, err)
	assert.InDelta(t, 3.98, v, 1e-9)
}

func TestQueryChunkedReply(t *testing.T) {
	s, conn, _ := newScripted(map[string]string{"VOUT1?": "12.34"})
	conn.chunk = 2

	v, err := s.ActualVoltage(1)
	require.NoError(t, err)
	assert.InDelta(t, 12.34, v, 1e-9)
}

func TestQueryTimeout(t *testing.T) {
	s, _, _ := newScripted(map[string]string{"VOUT1?": "1.2"})

	_, err := s.ActualVoltage(1)
	assert.ErrorIs(t, err, ErrCommunicationTimeout)

	_, err = s.ActualCurrent(1)
	assert.ErrorIs(t, err, ErrCommunicationTimeout)
}

func TestQueryMalformed(t *testing.T) {
	s, _, _ := newScripted(map[string]string{"VOUT1?": "ab.cd"})

	_, err := s.ActualVoltage(1)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestWriteError(t *testing.T) {
	s, conn, _ := newScripted(nil)
	conn.writeErr = errors.New("unplugged")

	assert.Error(t, s.SetOutput(false))
	_, err := s.ActualVoltage(1)
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	s, _, _ := newScripted(map[string]string{"STATUS?": string([]byte{0b0111_0001})})
	require.NoError(t, s.SetOverVoltageProtection(true))

	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, Status{
		CH1ConstantVoltage:    true,
		CH2ConstantVoltage:    false,
		Tracking:              TrackingIndependent,
		Beep:                  true,
		Locked:                false,
		Output:                true,
		OverVoltageProtection: true,
		OverCurrentProtection: false,
	}, st)
}

func TestDecodeStatusTracking(t *testing.T) {
	tests := []struct {
		b    byte
		want Tracking
	}{
		{b: 0b0000, want: TrackingIndependent},
		{b: 0b0100, want: TrackingSeries},
		{b: 0b1000, want: TrackingUnknown},
		{b: 0b1100, want: TrackingParallel},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			st := DecodeStatus(tt.b)
			assert.Equal(t, tt.want, st.Tracking)
			assert.True(t, st.Locked)
			assert.False(t, st.Output)
		})
	}
}

func TestCheckDevice(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		model   string
		wantErr error
	}{
		{name: "tenma", reply: "TENMA 72-2540 V2.1", model: "72-2540"},
		{name: "korad", reply: "KORAD KA3005P V5.8", model: "KA3005P"},
		{name: "short tenma", reply: "TENMA 72-2535", model: "72-2535"},
		{name: "too short", reply: "TEN", wantErr: ErrUnsupportedDevice},
		{name: "other vendor", reply: "RIGOL DP832 V1.00 0", wantErr: ErrUnsupportedDevice},
		{name: "no answer", reply: "", wantErr: ErrCommunicationTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newScripted(map[string]string{"*IDN?": tt.reply})

			model, err := s.CheckDevice()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.model, model)
			assert.Equal(t, tt.reply, s.DeviceID())
		})
	}
}

func TestClose(t *testing.T) {
	s, conn, _ := newScripted(nil)
	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
}
