package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/pose-coach/internal/metrics"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the publisher calls.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	messages  []message
	next      *fakeToken
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Disconnect(uint)   { c.connected = false }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next != nil {
		t := c.next
		c.next = nil
		return t
	}
	c.messages = append(c.messages, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(nil, true)
}

func TestPublishEnvelope(t *testing.T) {
	client := &fakeClient{connected: true}
	m := metrics.New()
	p := NewWithClient(client, Options{TopicPrefix: "/gym/", QoS: 1, Metrics: m})

	err := p.Publish(context.Background(), "s1", "rep", map[string]any{"rep_count": 3})
	require.NoError(t, err)

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "gym/s1/rep", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var env struct {
		Session string         `json:"session"`
		Kind    string         `json:"kind"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, "s1", env.Session)
	assert.Equal(t, "rep", env.Kind)
	assert.Equal(t, 3.0, env.Data["rep_count"])

	st := p.Stats()
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Published["gym/s1/rep"])
	assert.Equal(t, uint64(1), m.EventsPublished.Load())
}

func TestDefaultTopicPrefix(t *testing.T) {
	p := NewWithClient(&fakeClient{connected: true}, Options{})
	assert.Equal(t, "pose-coach/abc/feedback", p.Topic("abc", "feedback"))
}

func TestPublishErrors(t *testing.T) {
	m := metrics.New()

	p := NewWithClient(&fakeClient{}, Options{Metrics: m})
	assert.Error(t, p.Publish(context.Background(), "s", "rep", nil), "not connected")

	client := &fakeClient{connected: true, next: newToken(errors.New("broker refused"), true)}
	p = NewWithClient(client, Options{Metrics: m})
	err := p.Publish(context.Background(), "s", "rep", nil)
	assert.ErrorContains(t, err, "broker refused")

	p = NewWithClient(&fakeClient{connected: true}, Options{Metrics: m})
	err = p.Publish(context.Background(), "s", "rep", func() {})
	assert.Error(t, err, "unmarshalable payload")

	assert.Equal(t, uint64(3), m.EventErrors.Load())
	assert.Equal(t, uint64(0), m.EventsPublished.Load())
}

func TestPublishHonoursContext(t *testing.T) {
	client := &fakeClient{connected: true, next: newToken(nil, false)}
	p := NewWithClient(client, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, "s", "rep", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), p.Stats().Errors)
}

func TestClose(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewWithClient(client, Options{})
	require.NoError(t, p.Close())
	assert.False(t, client.connected)
	assert.False(t, p.Stats().Connected)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), "s", "rep", 1))
}
