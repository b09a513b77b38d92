package lut

import "sync"

// Multi appends to several sinks. Every sink receives every entry; the
// first error is returned.
type Multi []Sink

func (m Multi) Append(e Entry) error {
	var firstErr error
	for _, s := range m {
		if err := s.Append(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Memory keeps entries in memory, for the status server.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

func (m *Memory) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of the entries so far.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Entry{}, m.entries...)
}

func (m *Memory) Close() error {
	return nil
}
