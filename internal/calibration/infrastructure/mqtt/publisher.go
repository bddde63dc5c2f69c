package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds broker connection settings.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Publisher delivers payloads to data logger command topics.
type Publisher struct {
	client         pahomqtt.Client
	qos            byte
	publishTimeout time.Duration
}

// NewPublisher connects to the broker.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt publisher: empty broker url")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cems-cloud"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt publisher: connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt publisher: connect: %w", err)
	}
	return &Publisher{client: client, qos: cfg.QoS, publishTimeout: cfg.PublishTimeout}, nil
}

// Publish delivers one payload. Honors both the publish timeout and ctx.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p == nil || p.client == nil {
		return errors.New("mqtt publisher: not connected")
	}
	if topic == "" {
		return errors.New("mqtt publisher: empty topic")
	}

	token := p.client.Publish(topic, p.qos, false, payload)
	done := make(chan bool, 1)
	go func() { done <- token.WaitTimeout(p.publishTimeout) }()
	select {
	case completed := <-done:
		if !completed {
			return fmt.Errorf("mqtt publisher: publish to %s timed out", topic)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publisher: publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
