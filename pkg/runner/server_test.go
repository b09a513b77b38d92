package runner

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/battprof/pkg/bench"
	"github.com/charlie0129/battprof/pkg/bench/benchtest"
	"github.com/charlie0129/battprof/pkg/charger"
	"github.com/charlie0129/battprof/pkg/events"
	"github.com/charlie0129/battprof/pkg/lut"
	"github.com/charlie0129/battprof/pkg/relay"
	"github.com/charlie0129/battprof/pkg/version"
)

func newTestRun(t *testing.T) *run {
	conf := testConfig()
	b := bench.New(&benchtest.Recorder{}, relay.NewNoop(), 1)
	require.NoError(t, b.Do(func(c *bench.Control) error {
		return c.SetVoltage(4.05)
	}))

	e, err := charger.New(b, charger.ProfileFromConfig(&conf), charger.ModeCharge, conf.PollInterval, nil)
	require.NoError(t, err)

	return &run{
		id:     "run1",
		conf:   conf,
		bench:  b,
		engine: e,
		memory: &lut.Memory{},
		hub:    events.NewHub(),
	}
}

func get(t *testing.T, r *run, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	setupRoutes(r).ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	r := newTestRun(t)

	w := get(t, r, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "run1", st.RunID)
	assert.Equal(t, charger.ModeCharge, st.Mode)
	assert.Equal(t, charger.StateIdle, st.State)
	assert.Equal(t, []charger.State{charger.StateIdle}, st.History)
	assert.Equal(t, 4.05, st.Setpoint.Voltage)
	assert.Nil(t, st.Profiler)
}

func TestGetLUT(t *testing.T) {
	r := newTestRun(t)

	w := get(t, r, "/lut")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	require.NoError(t, r.memory.Append(lut.Entry{RunID: "run1", Index: 1, StateOfChargePercent: 5}))
	w = get(t, r, "/lut")
	var entries []lut.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 5.0, entries[0].StateOfChargePercent)
}

func TestGetConfigAndVersion(t *testing.T) {
	r := newTestRun(t)
	r.conf.MQTTPassword = "secret"

	w := get(t, r, "/config")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lutSteps": 20`)
	assert.NotContains(t, w.Body.String(), "secret")

	w = get(t, r, "/version")
	var v VersionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, version.Version, v.Version)
}

func TestNotFound(t *testing.T) {
	w := get(t, newTestRun(t), "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamEvents(t *testing.T) {
	r := newTestRun(t)
	srv := httptest.NewServer(setupRoutes(r))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(substr string) {
		timeout := time.After(5 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream ended before %q", substr)
				if strings.Contains(l, substr) {
					return
				}
			case <-timeout:
				t.Fatalf("no %q in event stream", substr)
			}
		}
	}

	// subscribed once the ready event arrives
	waitFor("ready")
	r.hub.Publish(events.EnginePhase, events.EnginePhaseEvent{From: "Idle", To: "Precharge"})
	waitFor(events.EnginePhase)
	waitFor(`"to":"Precharge"`)

	// closing the hub ends the stream
	r.hub.Close()
	for range lines {
	}
}
