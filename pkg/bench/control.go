package bench

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/relay"
)

// Control is handed to Bench.Do callbacks. It must not be retained.
type Control struct {
	b *Bench
}

// Measure reads current and voltage and derives the battery voltage.
func (c *Control) Measure() (Measurement, error) {
	b := c.b
	ch := b.setpoint.Channel

	volts, err := b.supply.ActualVoltage(ch)
	if err != nil {
		return Measurement{}, err
	}
	amps, err := b.supply.ActualCurrent(ch)
	if err != nil {
		return Measurement{}, err
	}

	m := Measurement{
		SupplyVoltage: volts,
		Voltage:       BatteryVoltage(volts, amps, b.relayState),
		Current:       amps,
		At:            b.now(),
	}
	b.last = m
	b.publish()

	return m, nil
}

func (c *Control) SetVoltage(volts float64) error {
	err := c.b.supply.SetVoltage(c.b.setpoint.Channel, volts)
	if err != nil {
		return err
	}
	c.b.setpoint.Voltage = volts
	c.b.publish()
	return nil
}

func (c *Control) SetCurrent(amps float64) error {
	err := c.b.supply.SetCurrent(c.b.setpoint.Channel, amps)
	if err != nil {
		return err
	}
	c.b.setpoint.Current = amps
	c.b.publish()
	return nil
}

func (c *Control) SetOutput(on bool) error {
	err := c.b.supply.SetOutput(on)
	if err != nil {
		return err
	}
	c.b.setpoint.Output = on
	c.b.publish()
	return nil
}

func (c *Control) SetOverVoltageProtection(on bool) error {
	err := c.b.supply.SetOverVoltageProtection(on)
	if err != nil {
		return err
	}
	c.b.setpoint.OverVoltageProtection = on
	c.b.publish()
	return nil
}

func (c *Control) SetOverCurrentProtection(on bool) error {
	err := c.b.supply.SetOverCurrentProtection(on)
	if err != nil {
		return err
	}
	c.b.setpoint.OverCurrentProtection = on
	c.b.publish()
	return nil
}

// Attach switches the relays. The stored relay state always reflects what
// the controller reports, also on failure.
func (c *Control) Attach(enable, reverse bool) (relay.State, error) {
	st, err := c.b.relays.Attach(enable, reverse)
	c.b.relayState = st
	c.b.publish()
	if err != nil {
		return st, err
	}

	logrus.WithFields(st.LogrusFields()).Debug("battery wiring changed")

	return st, nil
}

func (c *Control) Setpoint() Setpoint {
	return c.b.setpoint
}

func (c *Control) RelayState() relay.State {
	return c.b.relayState
}
