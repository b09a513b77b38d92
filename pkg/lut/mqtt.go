package lut

import (
	"encoding/json"
	"net"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	mqttQoS          = 1
	mqttTimeout      = 5 * time.Second
	mqttDefaultPort  = "1883"
	mqttDisconnectMs = 250
)

// MQTTSink publishes every entry as JSON to <topic>/<runID>/lut.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	Username string
	Password string
	Topic    string
	RunID    string
}

// BrokerURL normalizes a broker address: the scheme defaults to tcp and the
// port to 1883.
func BrokerURL(broker string) string {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	scheme, hostport, _ := strings.Cut(broker, "://")
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(hostport, mqttDefaultPort)
	}
	return scheme + "://" + hostport
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(o MQTTOptions) (*MQTTSink, error) {
	url := BrokerURL(o.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID("battprof-" + o.RunID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logrus.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logrus.WithField("broker", url).Info("connected to MQTT broker")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		client.Disconnect(0)
		return nil, pkgerrors.Errorf("timed out connecting to MQTT broker %s", url)
	}
	if err := token.Error(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to MQTT broker %s", url)
	}

	return newMQTTSink(client, o.Topic, o.RunID), nil
}

func newMQTTSink(client mqtt.Client, topic, runID string) *MQTTSink {
	return &MQTTSink{
		client: client,
		topic:  strings.TrimSuffix(topic, "/") + "/" + runID + "/lut",
	}
}

// Topic returns the topic entries are published to.
func (s *MQTTSink) Topic() string {
	return s.topic
}

func (s *MQTTSink) Append(e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal entry")
	}

	token := s.client.Publish(s.topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return pkgerrors.Errorf("timed out publishing to %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return pkgerrors.Wrapf(err, "failed to publish to %s", s.topic)
	}

	logrus.WithFields(logrus.Fields{
		"topic": s.topic,
		"index": e.Index,
	}).Debug("published entry")

	return nil
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectMs)
		logrus.Debug("disconnected from MQTT broker")
	}
	return nil
}
