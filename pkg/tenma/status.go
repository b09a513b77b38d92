package tenma

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Tracking is the channel coupling mode.
type Tracking string

const (
	TrackingIndependent Tracking = "independent"
	TrackingSeries      Tracking = "series"
	TrackingParallel    Tracking = "parallel"
	TrackingUnknown     Tracking = "unknown"
)

// Status is the decoded STATUS? byte plus the protection flags last
// commanded through this Supply.
type Status struct {
	// CH1ConstantVoltage is false when channel 1 is in constant-current mode.
	CH1ConstantVoltage bool     `json:"ch1ConstantVoltage"`
	CH2ConstantVoltage bool     `json:"ch2ConstantVoltage"`
	Tracking           Tracking `json:"tracking"`
	Beep               bool     `json:"beep"`
	Locked             bool     `json:"locked"`
	Output             bool     `json:"output"`

	OverVoltageProtection bool `json:"overVoltageProtection"`
	OverCurrentProtection bool `json:"overCurrentProtection"`
}

func (s Status) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"ch1ConstantVoltage":    s.CH1ConstantVoltage,
		"ch2ConstantVoltage":    s.CH2ConstantVoltage,
		"tracking":              s.Tracking,
		"beep":                  s.Beep,
		"locked":                s.Locked,
		"output":                s.Output,
		"overVoltageProtection": s.OverVoltageProtection,
		"overCurrentProtection": s.OverCurrentProtection,
	}
}

// DecodeStatus decodes the status byte:
//
//	bit 0    CH1 0=CC 1=CV
//	bit 1    CH2 0=CC 1=CV
//	bit 2-3  tracking 00=independent 01=series 11=parallel
//	bit 4    beep
//	bit 5    0=locked 1=unlocked
//	bit 6    output
func DecodeStatus(b byte) Status {
	var tracking Tracking
	switch (b >> 2) & 0b11 {
	case 0b00:
		tracking = TrackingIndependent
	case 0b01:
		tracking = TrackingSeries
	case 0b11:
		tracking = TrackingParallel
	default:
		tracking = TrackingUnknown
	}

	return Status{
		CH1ConstantVoltage: b&(1<<0) != 0,
		CH2ConstantVoltage: b&(1<<1) != 0,
		Tracking:           tracking,
		Beep:               b&(1<<4) != 0,
		Locked:             b&(1<<5) == 0,
		Output:             b&(1<<6) != 0,
	}
}

// Status queries the supply status.
func (s *Supply) Status() (Status, error) {
	reply, err := s.query("STATUS?", statusReplyLen)
	if err != nil {
		return Status{}, err
	}
	if len(reply) != statusReplyLen {
		return Status{}, pkgerrors.Wrapf(ErrMalformedReply, "status reply %q", reply)
	}

	st := DecodeStatus(reply[0])

	s.mu.Lock()
	st.OverVoltageProtection = s.ovp
	st.OverCurrentProtection = s.ocp
	s.mu.Unlock()

	return st, nil
}
