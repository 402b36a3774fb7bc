// Package events publishes session events (counted reps, coach feedback) to
// an MQTT broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var log = logger.For("Events")

// Envelope is the JSON body of every published message.
type Envelope struct {
	Session   string    `json:"session"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// Options configures an MQTTPublisher.
type Options struct {
	Broker      string // host:port or URL; tcp:// is assumed without a scheme
	ClientID    string
	TopicPrefix string
	QoS         byte
	Metrics     *metrics.Metrics
}

// MQTTPublisher publishes to <prefix>/<session>/<kind>.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	metrics *metrics.Metrics

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(ctx context.Context, opts Options) (*MQTTPublisher, error) {
	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	p := newPublisher(nil, opts)

	co := mqtt.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		log.Info("MQTT connected to %s as %s", broker, opts.ClientID)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		log.Warn("MQTT connection lost, will auto-reconnect: %v", err)
	}
	p.client = mqtt.NewClient(co)

	log.Info("Connecting to MQTT broker %s", broker)
	token := p.client.Connect()
	if err := waitToken(ctx, token, connectTimeout); err != nil {
		p.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnected(true)
	return p, nil
}

// NewWithClient wraps an existing client, typically already connected.
func NewWithClient(client mqtt.Client, opts Options) *MQTTPublisher {
	p := newPublisher(client, opts)
	p.connected = client.IsConnected()
	return p
}

func newPublisher(client mqtt.Client, opts Options) *MQTTPublisher {
	prefix := strings.Trim(opts.TopicPrefix, "/")
	if prefix == "" {
		prefix = "pose-coach"
	}
	return &MQTTPublisher{
		client:    client,
		prefix:    prefix,
		qos:       opts.QoS,
		metrics:   opts.Metrics,
		published: make(map[string]uint64),
	}
}

// Topic returns the topic for a session event.
func (p *MQTTPublisher) Topic(sessionID, kind string) string {
	return p.prefix + "/" + sessionID + "/" + kind
}

// Publish sends v wrapped in an Envelope and waits for the broker ack
// (QoS > 0) or the local write (QoS 0).
func (p *MQTTPublisher) Publish(ctx context.Context, sessionID, kind string, v any) error {
	if !p.isConnected() {
		p.fail()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(Envelope{Session: sessionID, Kind: kind, Timestamp: time.Now(), Data: v})
	if err != nil {
		p.fail()
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	topic := p.Topic(sessionID, kind)
	if err := waitToken(ctx, p.client.Publish(topic, p.qos, false, payload), publishTimeout); err != nil {
		p.fail()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.EventsPublished.Add(1)
	}
	log.Debug("Published %s (%d bytes)", topic, len(payload))
	return nil
}

// Close disconnects with a short grace period.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info("MQTT disconnected")
	}
	p.setConnected(false)
	return nil
}

// Stats returns publisher statistics
func (p *MQTTPublisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Connected: p.connected, Published: published, Errors: p.errors}
}

func (p *MQTTPublisher) fail() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.EventErrors.Add(1)
	}
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func waitToken(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
