package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Environment variables that override the config file.
const (
	EnvSerialPort   = "BATTPROF_SERIAL_PORT"
	EnvBaudRate     = "BATTPROF_BAUD_RATE"
	EnvMQTTBroker   = "BATTPROF_MQTT_BROKER"
	EnvMQTTUsername = "BATTPROF_MQTT_USERNAME"
	EnvMQTTPassword = "BATTPROF_MQTT_PASSWORD"
	EnvListenAddr   = "BATTPROF_LISTEN"
)

// LoadEnvFile loads a .env file into the process environment. A missing
// file is not an error. Variables already set are not overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}

	err := godotenv.Load(path)
	if err == nil {
		logrus.WithField("path", path).Debug("loaded env file")
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}

	return pkgerrors.Wrapf(err, "failed to load env file %s", path)
}

// ApplyEnv overrides fields of c with the BATTPROF_* environment variables
// that are set.
func ApplyEnv(c *Config) error {
	if v, ok := os.LookupEnv(EnvSerialPort); ok && v != "" {
		c.SerialPort = v
	}

	if v, ok := os.LookupEnv(EnvBaudRate); ok && v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return pkgerrors.Wrapf(ErrInvalidConfig, "%s=%q is not a number", EnvBaudRate, v)
		}
		c.BaudRate = baud
	}

	if v, ok := os.LookupEnv(EnvMQTTBroker); ok {
		c.MQTTBroker = v
	}
	if v, ok := os.LookupEnv(EnvMQTTUsername); ok {
		c.MQTTUsername = v
	}
	if v, ok := os.LookupEnv(EnvMQTTPassword); ok {
		c.MQTTPassword = v
	}
	if v, ok := os.LookupEnv(EnvListenAddr); ok {
		c.ListenAddr = v
	}

	return nil
}
