package events

import "encoding/json"

// Event names
const (
	EnginePhase          = "engine.phase"
	ProfilerLUT          = "profiler.lut"
	ProfilerInterruption = "profiler.interruption"
)

// Event is a named JSON payload, sent as a server-sent event by the status
// server.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// EnginePhaseEvent is the payload of engine.phase.
type EnginePhaseEvent struct {
	Mode string `json:"mode"`
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// InterruptionEvent is the payload of profiler.interruption. It is sent
// when the profiler pauses the engine and again when it resumes.
type InterruptionEvent struct {
	Index    int     `json:"index"`
	EnergyWh float64 `json:"energyWh"`
	Resumed  bool    `json:"resumed"`
	Ts       int64   `json:"ts"`
}

// The payload of profiler.lut is a lut.Entry.

// DecodeAs decodes the event payload into T. An empty payload yields the
// zero value.
//
//	payload, err := events.DecodeAs[events.EnginePhaseEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
