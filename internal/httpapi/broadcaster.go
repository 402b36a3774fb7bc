package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
	"github.com/dj-oyu/pose-coach/internal/session"
)

// SerializedEvent holds a payload pre-serialized in both SSE formats.
type SerializedEvent struct {
	Payload      session.Payload
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // structpb.Struct, base64 encoded for SSE
}

// Serialize encodes p once for every client format.
func Serialize(p session.Payload) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("json remarshal: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Payload:      p,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

type subscriber struct {
	session string // empty receives every session
	ch      chan *SerializedEvent
}

// PayloadBroadcaster manages fanout of session payloads to SSE and MJPEG
// clients.
type PayloadBroadcaster struct {
	mu      sync.Mutex
	clients map[int]subscriber
	nextID  int
	metrics *metrics.Metrics
}

// NewPayloadBroadcaster creates an empty broadcaster. m may be nil.
func NewPayloadBroadcaster(m *metrics.Metrics) *PayloadBroadcaster {
	return &PayloadBroadcaster{
		clients: make(map[int]subscriber),
		metrics: m,
	}
}

// Subscribe adds a client for sessionID and returns its event channel.
func (b *PayloadBroadcaster) Subscribe(sessionID string) (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 4)
	b.clients[id] = subscriber{session: sessionID, ch: ch}
	if b.metrics != nil {
		b.metrics.SSEClients.Add(1)
	}

	logger.Debug("Broadcaster", "Client #%d subscribed to %q (total clients: %d)", id, sessionID, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *PayloadBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *PayloadBroadcaster) removeLocked(id int) {
	sub, ok := b.clients[id]
	if !ok {
		return
	}
	close(sub.ch)
	delete(b.clients, id)
	if b.metrics != nil {
		b.metrics.SSEClients.Add(-1)
	}
	logger.Debug("Broadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
}

// EndSession disconnects the clients watching sessionID alone.
func (b *PayloadBroadcaster) EndSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.clients {
		if sub.session == sessionID {
			b.removeLocked(id)
		}
	}
}

// ClientCount returns the number of subscribers.
func (b *PayloadBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast delivers ev to matching clients. Slow clients miss events.
func (b *PayloadBroadcaster) Broadcast(ev *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.clients {
		if sub.session != "" && sub.session != ev.Payload.Session {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
