package tenma

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Reply lengths of the query commands.
const (
	currentSettingReplyLen = 6
	valueReplyLen          = 5
	statusReplyLen         = 1
	identifyReplyLen       = 18
)

// SetCurrent sets the output current limit of ch in amperes.
func (s *Supply) SetCurrent(ch int, amps float64) error {
	return s.send(fmt.Sprintf("ISET%d:%05.3f", ch, amps), 1)
}

// Current returns the output current setting of ch.
func (s *Supply) Current(ch int) (float64, error) {
	return s.queryFloat(fmt.Sprintf("ISET%d?", ch), currentSettingReplyLen)
}

// SetVoltage sets the output voltage of ch in volts.
func (s *Supply) SetVoltage(ch int, volts float64) error {
	return s.send(fmt.Sprintf("VSET%d:%05.2f", ch, volts), 1)
}

// Voltage returns the output voltage setting of ch.
func (s *Supply) Voltage(ch int) (float64, error) {
	return s.queryFloat(fmt.Sprintf("VSET%d?", ch), valueReplyLen)
}

// ActualCurrent returns the measured output current of ch.
func (s *Supply) ActualCurrent(ch int) (float64, error) {
	return s.queryFloat(fmt.Sprintf("IOUT%d?", ch), valueReplyLen)
}

// ActualVoltage returns the measured output voltage of ch.
func (s *Supply) ActualVoltage(ch int) (float64, error) {
	return s.queryFloat(fmt.Sprintf("VOUT%d?", ch), valueReplyLen)
}

// SetOutput turns the output on or off.
func (s *Supply) SetOutput(on bool) error {
	return s.send("OUT"+bit(on), 1)
}

// SetBeep turns the beeper on or off.
func (s *Supply) SetBeep(on bool) error {
	return s.send("BEEP"+bit(on), 1)
}

// SetOverVoltageProtection turns OVP on or off.
func (s *Supply) SetOverVoltageProtection(on bool) error {
	err := s.send("OVP"+bit(on), 1)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ovp = on
	s.mu.Unlock()

	return nil
}

// SetOverCurrentProtection turns OCP on or off.
func (s *Supply) SetOverCurrentProtection(on bool) error {
	err := s.send("OCP"+bit(on), 1)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ocp = on
	s.mu.Unlock()

	return nil
}

// Recall recalls panel setting n (1..5).
func (s *Supply) Recall(n int) error {
	if n < 1 || n > 5 {
		return pkgerrors.Errorf("memory number must be within 1..5, got %d", n)
	}

	return s.send(fmt.Sprintf("RCL%d", n), 1)
}

// Store stores the panel setting in memory n (1..5).
func (s *Supply) Store(n int) error {
	if n < 1 || n > 5 {
		return pkgerrors.Errorf("memory number must be within 1..5, got %d", n)
	}

	// storing takes the device twice as long
	return s.send(fmt.Sprintf("SAV%d", n), 2)
}

func bit(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
