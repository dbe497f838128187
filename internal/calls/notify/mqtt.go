package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	calls "callwatch/internal/calls/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes call messages to per-branch MQTT topics.
type MQTTPublisher struct {
	client   mqttClient
	resolver TopicResolver
	qos      byte
	retained bool
	timeout  time.Duration
}

// NewMQTTPublisher connects to the broker. Failing to connect is an error.
func NewMQTTPublisher(cfg MQTTConfig, resolver TopicResolver, logger zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt publisher: empty broker")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt publisher: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt publisher: connect: %w", err)
	}
	return newMQTTPublisher(client, cfg, resolver), nil
}

func newMQTTPublisher(client mqttClient, cfg MQTTConfig, resolver TopicResolver) *MQTTPublisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{
		client:   client,
		resolver: resolver,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  timeout,
	}
}

// Publish sends the notification to the branch topic.
func (p *MQTTPublisher) Publish(ctx context.Context, n calls.Notification) error {
	if p == nil || p.client == nil {
		return errors.New("mqtt publisher: nil client")
	}
	payload, err := Encode(n)
	if err != nil {
		return err
	}
	topic := p.resolver.Topic(n.TopicKey)
	token := p.client.Publish(topic, p.qos, p.retained, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Disconnect(250)
	return nil
}
