package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(EnginePhase, EnginePhaseEvent{Mode: "charge", From: "Idle", To: "Precharge", Ts: 1})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, EnginePhase, ev.Name)
		p, err := DecodeAs[EnginePhaseEvent](ev)
		require.NoError(t, err)
		assert.Equal(t, "Precharge", p.To)
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(ProfilerInterruption, InterruptionEvent{Index: i})
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestUnsubscribeAndClose(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok)

	h.Close()
	_, ok = <-b
	assert.False(t, ok)

	c := h.Subscribe()
	_, ok = <-c
	assert.False(t, ok)

	// publishing after close is a no-op
	h.Publish(EnginePhase, EnginePhaseEvent{})
}

func TestNilHub(t *testing.T) {
	var h *Hub
	h.Publish(EnginePhase, EnginePhaseEvent{})
	h.Close()
}

func TestDecodeAsEmpty(t *testing.T) {
	p, err := DecodeAs[InterruptionEvent](Event{Name: ProfilerInterruption})
	require.NoError(t, err)
	assert.Zero(t, p)
}
