package lut

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(idx int) Entry {
	return Entry{
		RunID:                        "run1",
		Index:                        idx,
		Charge:                       true,
		StateOfChargePercent:         5.0 * float64(idx),
		OpenCircuitVoltageMillivolts: 3600 + float64(idx),
		LoadedVoltageMillivolts:      3700 + float64(idx),
		EnergyWh:                     0.0925 * float64(idx),
		At:                           time.Date(2024, 1, 1, 0, idx, 0, 0, time.UTC),
	}
}

func TestCSVSinkCharge(t *testing.T) {
	dir := t.TempDir()

	s, err := NewCSVSink(dir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "charge-cycle.csv"), s.Path())

	require.NoError(t, s.Append(testEntry(1)))
	require.NoError(t, s.Append(testEntry(2)))

	// rows are flushed before Close
	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "stateOfCharge,lowLoadVoltage,highLoadVoltage\n5.0,3601,3701\n10.0,3602,3702\n", string(b))

	require.NoError(t, s.Close())
}

func TestCSVSinkDischarge(t *testing.T) {
	dir := t.TempDir()

	s, err := NewCSVSink(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.Append(testEntry(1)))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(dir, "discharge-cycle.csv"))
	require.NoError(t, err)
	assert.Equal(t, "stateOfCharge,voltage\n5.0,3601\n", string(b))
}

func TestCSVSinkNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "charge-cycle.csv")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "charge-cycle-01.csv"), []byte("keep"), 0644))

	s, err := NewCSVSink(dir, true)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, filepath.Join(dir, "charge-cycle-02.csv"), s.Path())
	b, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(b))
}

func TestCSVSinkExhausted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "discharge-cycle.csv"), nil, 0644))
	for i := 1; i <= maxSuffix; i++ {
		name := filepath.Join(dir, "discharge-cycle-"+twoDigits(i)+".csv")
		require.NoError(t, os.WriteFile(name, nil, 0644))
	}

	_, err := NewCSVSink(dir, false)
	assert.Error(t, err)
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10), byte('0' + i%10)})
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lut.sqlite3")

	s, err := NewSQLiteSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Append(testEntry(1)))
	require.NoError(t, s.Append(testEntry(2)))
	other := testEntry(1)
	other.RunID = "run2"
	other.At = other.At.Add(time.Hour)
	require.NoError(t, s.Append(other))

	// duplicate index within a run
	assert.Error(t, s.Append(testEntry(2)))

	entries, err := s.Entries("run1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, testEntry(1), entries[0])
	assert.Equal(t, testEntry(2), entries[1])

	runs, err := s.Runs()
	require.NoError(t, err)
	assert.Equal(t, []string{"run1", "run2"}, runs)

	require.NoError(t, s.Close())

	// reopening keeps existing rows
	s, err = NewSQLiteSink(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err = s.Entries("run2")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTTClient struct {
	mqtt.Client
	published    []publishedMessage
	err          error
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, publishedMessage{topic: topic, qos: qos, payload: payload.([]byte)})
	return &doneToken{err: c.err}
}

func (c *fakeMQTTClient) IsConnected() bool {
	return !c.disconnected
}

func (c *fakeMQTTClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func TestMQTTSink(t *testing.T) {
	client := &fakeMQTTClient{}
	s := newMQTTSink(client, "lab/battprof/", "run1")
	assert.Equal(t, "lab/battprof/run1/lut", s.Topic())

	require.NoError(t, s.Append(testEntry(3)))
	require.Len(t, client.published, 1)
	assert.Equal(t, "lab/battprof/run1/lut", client.published[0].topic)
	assert.Equal(t, byte(1), client.published[0].qos)

	var got Entry
	require.NoError(t, json.Unmarshal(client.published[0].payload, &got))
	assert.Equal(t, testEntry(3), got)

	client.err = errors.New("broker gone")
	assert.Error(t, s.Append(testEntry(4)))

	require.NoError(t, s.Close())
	assert.True(t, client.disconnected)
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost":               "tcp://localhost:1883",
		"10.0.0.2:1884":           "tcp://10.0.0.2:1884",
		"ssl://broker.lan":        "ssl://broker.lan:1883",
		"ws://broker.lan:9001":    "ws://broker.lan:9001",
		"tcp://mqtt.example:1883": "tcp://mqtt.example:1883",
	}
	for in, want := range tests {
		assert.Equal(t, want, BrokerURL(in), in)
	}
}

type failingSink struct {
	appended int
	closed   bool
}

func (f *failingSink) Append(Entry) error {
	f.appended++
	return errors.New("disk full")
}

func (f *failingSink) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestMulti(t *testing.T) {
	mem := &Memory{}
	bad := &failingSink{}
	m := Multi{bad, mem}

	assert.Error(t, m.Append(testEntry(1)))
	assert.Error(t, m.Append(testEntry(2)))

	// every sink gets every entry
	assert.Equal(t, 2, bad.appended)
	assert.Equal(t, []Entry{testEntry(1), testEntry(2)}, mem.Entries())

	assert.Error(t, m.Close())
	assert.True(t, bad.closed)
}

func TestMemoryEntriesIsCopy(t *testing.T) {
	mem := &Memory{}
	assert.Empty(t, mem.Entries())

	require.NoError(t, mem.Append(testEntry(1)))
	got := mem.Entries()
	got[0].Index = 99
	assert.Equal(t, 1, mem.Entries()[0].Index)
}
