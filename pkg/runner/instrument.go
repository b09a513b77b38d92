package runner

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/config"
	"github.com/charlie0129/battprof/pkg/relay"
	"github.com/charlie0129/battprof/pkg/tenma"
)

// Instrument is an opened supply and relay controller.
type Instrument struct {
	Supply *tenma.Supply
	Relays relay.Controller
	// Model is empty when the device check was skipped.
	Model string
}

// openSerial is replaced in tests.
var openSerial = tenma.Open

// OpenInstrument opens the supply on the configured serial port, or sim
// when it is not nil, and selects the relay controller. Unless skipCheck is
// set, the device must identify as a supported supply.
func OpenInstrument(c *config.Config, sim *tenma.Simulator) (*Instrument, error) {
	var supply *tenma.Supply
	var relays relay.Controller

	if sim != nil {
		logrus.Warn("using the simulated power supply")
		supply = tenma.New(sim)
		supply.SetTurnaround(0)
		relays = sim.Relays(c.SeriesConnectionResistance, c.SeriesDischargeResistor)
	} else {
		var err error
		supply, err = openSerial(c.SerialPort, c.BaudRate)
		if err != nil {
			return nil, err
		}
	}

	inst := &Instrument{Supply: supply}

	if c.SkipCheck {
		logrus.Warn("skipping device check")
	} else {
		model, err := supply.CheckDevice()
		if err != nil {
			_ = supply.Close()
			return nil, err
		}
		inst.Model = model
		logrus.WithFields(logrus.Fields{
			"id":    supply.DeviceID(),
			"model": model,
		}).Info("power supply connected")
	}

	if relays == nil {
		relays = relay.Select(c.RelayPins, relay.DefaultAttachTimeout, c.SeriesConnectionResistance, c.SeriesDischargeResistor)
	}
	inst.Relays = relays

	return inst, nil
}

// Close closes the supply. The output and the relays are left as they are.
func (i *Instrument) Close() error {
	logrus.Info("closing power supply connection")
	return i.Supply.Close()
}
