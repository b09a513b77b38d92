package relay

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// DefaultAttachTimeout bounds the GPIO driver initialization.
const DefaultAttachTimeout = 5 * time.Second

// hostInit is replaced in tests.
var hostInit = func() error {
	_, err := host.Init()
	return err
}

// pinByName is replaced in tests.
var pinByName = func(name string) Pin {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil
	}
	return p
}

// OpenGPIO opens the four relay outputs by name, in relay index order.
// All outputs start de-energized.
func OpenGPIO(names []string, timeout time.Duration, connectionOhms, dischargeOhms float64) (*Matrix, error) {
	if len(names) != 4 {
		return nil, pkgerrors.Errorf("need exactly 4 relay pins, got %d", len(names))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hostInit()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to initialize GPIO host drivers")
		}
	case <-time.After(timeout):
		return nil, pkgerrors.Errorf("GPIO host drivers not ready after %s", timeout)
	}

	var pins [4]Pin
	for i, name := range names {
		p := pinByName(name)
		if p == nil {
			return nil, pkgerrors.Errorf("relay %d: no GPIO pin named %s", i, name)
		}
		err := p.Out(gpio.Low)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "relay %d: failed to drive pin %s", i, name)
		}
		pins[i] = p
	}

	logrus.WithField("pins", names).Info("relay matrix attached")

	return NewMatrix(pins, connectionOhms, dischargeOhms), nil
}

// Select opens the GPIO matrix, falling back to Noop when no pins are
// configured or the board cannot be attached.
func Select(names []string, timeout time.Duration, connectionOhms, dischargeOhms float64) Controller {
	if len(names) == 0 {
		logrus.Warn("no relay pins configured, attach and detach the battery manually")
		return NewNoop()
	}

	m, err := OpenGPIO(names, timeout, connectionOhms, dischargeOhms)
	if err != nil {
		logrus.WithError(err).Warn("relays not available, attach and detach the battery manually")
		return NewNoop()
	}

	return m
}
