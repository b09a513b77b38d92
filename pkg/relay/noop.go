package relay

import "sync"

// Noop is used when no relay board is present. It only records the
// requested flags and reports zero series resistance.
type Noop struct {
	mu    sync.Mutex
	state State
}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Attach(enable, reverse bool) (State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.state = State{
		BatteryEnabled:   enable,
		PolarityReversed: reverse,
	}

	return n.state, nil
}

func (n *Noop) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.state
}

func (n *Noop) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.state = State{}

	return nil
}
