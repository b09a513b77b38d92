package tenma

import (
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manufacturers whose identification strings are accepted by CheckDevice.
var Manufacturers = []string{"TENMA", "KORAD"}

// Identify returns the *IDN? string, e.g. "TENMA 72-2540 V2.1". Devices
// that answer with fewer than the usual 18 bytes are tolerated.
func (s *Supply) Identify() (string, error) {
	reply, err := s.query("*IDN?", identifyReplyLen)
	if err != nil && !(errors.Is(err, ErrCommunicationTimeout) && reply != "") {
		return "", err
	}

	id := strings.TrimSpace(strings.TrimRight(reply, "\x00"))

	s.mu.Lock()
	s.deviceID = id
	s.mu.Unlock()

	return id, nil
}

// DeviceID returns the id read by the last Identify.
func (s *Supply) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deviceID
}

// Model extracts the model name from an identification string.
func Model(id string) string {
	if len(id) <= 6 {
		return ""
	}
	end := 13
	if len(id) < end {
		end = len(id)
	}
	return strings.TrimSpace(id[6:end])
}

// CheckDevice identifies the device and returns its model, or
// ErrUnsupportedDevice for anything that is not a known supply.
func (s *Supply) CheckDevice() (string, error) {
	id, err := s.Identify()
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to identify device")
	}

	if len(id) < 5 {
		return "", pkgerrors.Wrapf(ErrUnsupportedDevice, "id %q", id)
	}

	supported := false
	for _, m := range Manufacturers {
		if strings.HasPrefix(id, m) {
			supported = true
			break
		}
	}
	if !supported {
		return "", pkgerrors.Wrapf(ErrUnsupportedDevice, "id %q", id)
	}

	model := Model(id)
	logrus.WithFields(logrus.Fields{
		"id":    id,
		"model": model,
	}).Info("device found")

	return model, nil
}
