package forward

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

const (
	// Grace period for in-flight messages on disconnect (ms)
	disconnectQuiesce = 250

	// Upper bound for one publish acknowledgement
	publishTimeout = 2 * time.Second
)

// Forwarder republishes readings to an MQTT broker, one topic per
// device channel. Forwarding is best effort; a slow or absent broker
// costs messages, never ingest throughput.
type Forwarder struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *zap.Logger
}

func NewForwarder(cfg config.MQTTConfig, logger *zap.Logger) *Forwarder {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password())
	}

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.BrokerURL))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	return &Forwarder{
		client: mqtt.NewClient(opts),
		prefix: cfg.TopicPrefix,
		qos:    byte(cfg.QoS),
		logger: logger,
	}
}

// Connect starts the broker session. Retries run inside the paho
// client, the call returns immediately.
func (f *Forwarder) Connect() {
	f.client.Connect()
}

// Forward publishes a single reading.
func (f *Forwarder) Forward(reading types.Reading) {
	if !f.client.IsConnectionOpen() {
		f.logger.Debug("MQTT broker not connected, reading skipped",
			zap.String("device_id", reading.DeviceID))
		return
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		f.logger.Error("Failed to marshal reading", zap.Error(err))
		return
	}

	topic := f.topicFor(reading)
	token := f.client.Publish(topic, f.qos, false, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		f.logger.Warn("MQTT publish failed",
			zap.String("topic", topic),
			zap.Error(token.Error()))
	}
}

func (f *Forwarder) topicFor(reading types.Reading) string {
	return fmt.Sprintf("%s/%s/%d", f.prefix, reading.DeviceID, reading.Channel)
}

// Close disconnects from the broker.
func (f *Forwarder) Close() {
	f.client.Disconnect(disconnectQuiesce)
	f.logger.Info("MQTT forwarder stopped")
}
