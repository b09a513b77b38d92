package config

import (
	"encoding/json"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		SerialPort:                 ptr.To(defaultSerialPort()),
		BaudRate:                   ptr.To(115200),
		SkipCheck:                  ptr.To(false),
		Channel:                    ptr.To(1),
		MaxSupplyVoltage:           ptr.To(30.0),
		PrechargeVoltage:           ptr.To(3.00),
		PrechargeCurrent:           ptr.To(0.010),
		ConstantVoltage:            ptr.To(4.20),
		ConstantCurrent:            ptr.To(0.250), // between 0.5 and 1 C
		EndOfCurrent:               ptr.To(0.025),
		EmptyVoltage:               ptr.To(3.10),
		MaxCurrent:                 ptr.To(1.000),
		TypicalDischargeCurrent:    ptr.To(0.036),
		SeriesConnectionResistance: ptr.To(0.94),
		SeriesDischargeResistor:    ptr.To(118.8 + 7.75),
		TotalCapacity:              ptr.To(0.500),
		NominalVoltage:             ptr.To(3.7),
		DecayTimeSeconds:           ptr.To(15 * 60.0),
		LutSteps:                   ptr.To(20),
		PollIntervalSeconds:        ptr.To(1.0),
		ResultsDir:                 ptr.To("."),
		MQTTTopic:                  ptr.To("battprof"),
	}
)

func defaultSerialPort() string {
	if runtime.GOOS == "windows" {
		return "COM99"
	}
	// try /dev/ttyACM0 without udev rules
	return "/dev/ttyACM0"
}

// Default returns the built-in configuration.
func Default() Config {
	return NewFileFromConfig(nil, "").Config()
}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk representation. Absent fields fall back to
// the defaults.
type RawFileConfig struct {
	SerialPort *string `json:"serialPort,omitempty"`
	BaudRate   *int    `json:"baudRate,omitempty"`
	SkipCheck  *bool   `json:"skipCheck,omitempty"`
	Channel    *int    `json:"channel,omitempty"`

	MaxSupplyVoltage *float64 `json:"maxSupplyVoltage,omitempty"`

	PrechargeVoltage        *float64 `json:"prechargeVoltage,omitempty"`
	PrechargeCurrent        *float64 `json:"prechargeCurrent,omitempty"`
	ConstantVoltage         *float64 `json:"constantVoltage,omitempty"`
	ConstantCurrent         *float64 `json:"constantCurrent,omitempty"`
	EndOfCurrent            *float64 `json:"endOfCurrent,omitempty"`
	EmptyVoltage            *float64 `json:"emptyVoltage,omitempty"`
	MaxCurrent              *float64 `json:"maxCurrent,omitempty"`
	TypicalDischargeCurrent *float64 `json:"typicalDischargeCurrent,omitempty"`

	SeriesConnectionResistance *float64 `json:"seriesConnectionResistance,omitempty"`
	SeriesDischargeResistor    *float64 `json:"seriesDischargeResistor,omitempty"`

	TotalCapacity       *float64 `json:"totalCapacity,omitempty"`
	NominalVoltage      *float64 `json:"nominalVoltage,omitempty"`
	DecayTimeSeconds    *float64 `json:"decayTimeSeconds,omitempty"`
	LutSteps            *int     `json:"lutSteps,omitempty"`
	PollIntervalSeconds *float64 `json:"pollIntervalSeconds,omitempty"`

	RelayPins  []string `json:"relayPins,omitempty"`
	ResultsDir *string  `json:"resultsDir,omitempty"`
	SQLitePath *string  `json:"sqlitePath,omitempty"`

	MQTTBroker   *string `json:"mqttBroker,omitempty"`
	MQTTUsername *string `json:"mqttUsername,omitempty"`
	MQTTPassword *string `json:"mqttPassword,omitempty"`
	MQTTTopic    *string `json:"mqttTopic,omitempty"`

	ListenAddr *string `json:"listenAddr,omitempty"`
	Schedule   *string `json:"schedule,omitempty"`
}

// Config resolves the file contents against the defaults.
func (f *File) Config() Config {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.c, defaultFileConfig

	relayPins := append([]string(nil), c.RelayPins...)

	return Config{
		SerialPort: ptr.Deref(c.SerialPort, *d.SerialPort),
		BaudRate:   ptr.Deref(c.BaudRate, *d.BaudRate),
		SkipCheck:  ptr.Deref(c.SkipCheck, *d.SkipCheck),
		Channel:    ptr.Deref(c.Channel, *d.Channel),

		MaxSupplyVoltage: ptr.Deref(c.MaxSupplyVoltage, *d.MaxSupplyVoltage),

		PrechargeVoltage:        ptr.Deref(c.PrechargeVoltage, *d.PrechargeVoltage),
		PrechargeCurrent:        ptr.Deref(c.PrechargeCurrent, *d.PrechargeCurrent),
		ConstantVoltage:         ptr.Deref(c.ConstantVoltage, *d.ConstantVoltage),
		ConstantCurrent:         ptr.Deref(c.ConstantCurrent, *d.ConstantCurrent),
		EndOfCurrent:            ptr.Deref(c.EndOfCurrent, *d.EndOfCurrent),
		EmptyVoltage:            ptr.Deref(c.EmptyVoltage, *d.EmptyVoltage),
		MaxCurrent:              ptr.Deref(c.MaxCurrent, *d.MaxCurrent),
		TypicalDischargeCurrent: ptr.Deref(c.TypicalDischargeCurrent, *d.TypicalDischargeCurrent),

		SeriesConnectionResistance: ptr.Deref(c.SeriesConnectionResistance, *d.SeriesConnectionResistance),
		SeriesDischargeResistor:    ptr.Deref(c.SeriesDischargeResistor, *d.SeriesDischargeResistor),

		TotalCapacity:  ptr.Deref(c.TotalCapacity, *d.TotalCapacity),
		NominalVoltage: ptr.Deref(c.NominalVoltage, *d.NominalVoltage),
		DecayTime:      seconds(ptr.Deref(c.DecayTimeSeconds, *d.DecayTimeSeconds)),
		LutSteps:       ptr.Deref(c.LutSteps, *d.LutSteps),
		PollInterval:   seconds(ptr.Deref(c.PollIntervalSeconds, *d.PollIntervalSeconds)),

		RelayPins:  relayPins,
		ResultsDir: ptr.Deref(c.ResultsDir, *d.ResultsDir),
		SQLitePath: ptr.Deref(c.SQLitePath, ""),

		MQTTBroker:   ptr.Deref(c.MQTTBroker, ""),
		MQTTUsername: ptr.Deref(c.MQTTUsername, ""),
		MQTTPassword: ptr.Deref(c.MQTTPassword, ""),
		MQTTTopic:    ptr.Deref(c.MQTTTopic, *d.MQTTTopic),

		ListenAddr: ptr.Deref(c.ListenAddr, ""),
		Schedule:   ptr.Deref(c.Schedule, ""),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}
