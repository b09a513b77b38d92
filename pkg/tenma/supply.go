// Package tenma talks to TENMA/KORAD 72-2540 family bench power supplies
// over their ASCII serial protocol.
package tenma

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var (
	// ErrCommunicationTimeout is returned when the device stops sending
	// before a complete reply was received.
	ErrCommunicationTimeout = errors.New("communication timeout")
	// ErrMalformedReply is returned when a reply cannot be parsed.
	ErrMalformedReply = errors.New("malformed reply")
	// ErrUnsupportedDevice is returned by CheckDevice for unknown instruments.
	ErrUnsupportedDevice = errors.New("device not found or not supported")
)

const (
	// DefaultTurnaround is how long the device needs after a set command.
	DefaultTurnaround = 50 * time.Millisecond
	// DefaultReadTimeout bounds every read on a serial port.
	DefaultReadTimeout = time.Second
)

// Connection is a half-duplex byte stream to the instrument. Read must
// return (0, nil) or io.EOF when its bounded wait elapses without data.
type Connection interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Supply is a power supply wrapping a Connection. It is safe for concurrent
// use; every request/response pair is serialized.
type Supply struct {
	mu   sync.Mutex
	conn Connection

	turnaround time.Duration
	sleep      func(time.Duration)

	// The device does not report OVP/OCP, so the last commanded values
	// are tracked here.
	ovp bool
	ocp bool

	deviceID string
}

// New returns a Supply over conn.
func New(conn Connection) *Supply {
	return &Supply{
		conn:       conn,
		turnaround: DefaultTurnaround,
		sleep:      time.Sleep,
	}
}

// Open opens a serial port (8N1) and returns a Supply on it.
func Open(port string, baud int) (*Supply, error) {
	logrus.WithFields(logrus.Fields{
		"port": port,
		"baud": baud,
	}).Debug("opening serial port")

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", port)
	}

	err = p.SetReadTimeout(DefaultReadTimeout)
	if err != nil {
		_ = p.Close()
		return nil, pkgerrors.Wrapf(err, "failed to set read timeout on %s", port)
	}

	return New(p), nil
}

// SetTurnaround changes the delay after set commands. Zero disables it.
func (s *Supply) SetTurnaround(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turnaround = d
}

// Close closes the underlying connection.
func (s *Supply) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.Debug("closing power supply connection")

	return s.conn.Close()
}

// send writes a command without reply and waits the given number of
// turnaround periods for the device to settle.
func (s *Supply) send(cmd string, turnarounds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.write(cmd)
	if err != nil {
		return err
	}

	if s.turnaround > 0 {
		s.sleep(time.Duration(turnarounds) * s.turnaround)
	}

	return nil
}

// query writes cmd and reads exactly n reply bytes.
func (s *Supply) query(cmd string, n int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.write(cmd)
	if err != nil {
		return "", err
	}

	b, err := s.read(n)
	if err != nil {
		return string(b), pkgerrors.Wrapf(err, "no complete reply to %s (got %q)", cmd, b)
	}

	logrus.WithFields(logrus.Fields{
		"cmd":   cmd,
		"reply": string(b),
	}).Trace("received reply")

	return string(b), nil
}

func (s *Supply) queryFloat(cmd string, n int) (float64, error) {
	reply, err := s.query(cmd, n)
	if err != nil {
		return 0, err
	}

	// Some firmware pads replies with NUL or trailing garbage bytes.
	trimmed := strings.TrimRight(strings.TrimSpace(reply), "\x00")
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrMalformedReply, "reply %q to %s", reply, cmd)
	}

	return v, nil
}

func (s *Supply) write(cmd string) error {
	logrus.WithField("cmd", cmd).Trace("sending command")

	_, err := s.conn.Write([]byte(cmd))
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to send %s", cmd)
	}

	return nil
}

// read reads until n bytes arrived. The bytes received so far are returned
// alongside ErrCommunicationTimeout when the connection runs dry.
func (s *Supply) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := s.conn.Read(buf[got:])
		got += m
		if err != nil && !errors.Is(err, io.EOF) {
			return buf[:got], pkgerrors.Wrap(err, "read failed")
		}
		if m == 0 {
			return buf[:got], ErrCommunicationTimeout
		}
	}

	return buf, nil
}
