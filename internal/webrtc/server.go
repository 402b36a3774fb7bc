// Package webrtc fans session payloads out to browsers over WebRTC data
// channels.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/pose-coach/internal/logger"
	"github.com/dj-oyu/pose-coach/internal/metrics"
)

// ChannelLabel is the data channel the browser opens for payloads.
const ChannelLabel = "pose"

var log = logger.For("WebRTC")

// ErrTooManyClients is returned by HandleOffer when the client limit is hit.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC client
type Client struct {
	id            string
	session       string // empty receives every session
	peerConn      *webrtc.PeerConnection
	dataChan      chan []byte
	closeChan     chan struct{}
	open          chan *webrtc.DataChannel
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}

	// Reduce DTLS retransmission timeout (faster connection, less CPU on retries)
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if maxClients <= 0 {
		maxClients = 1
	}
	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer answers a browser offer. The browser is expected to open a
// data channel labelled ChannelLabel; payloads for sessionID (or all
// sessions when empty) are sent on it.
func (s *Server) HandleOffer(offerJSON []byte, sessionID string) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("expected an offer, got %q", offer.Type.String())
	}

	// Check client limit
	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        generateClientID(),
		session:   sessionID,
		peerConn:  peerConn,
		dataChan:  make(chan []byte, 24), // ~2 seconds at 12 fps
		closeChan: make(chan struct{}),
		open:      make(chan *webrtc.DataChannel, 1),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			log.Debug("Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			select {
			case client.open <- dc:
			default:
			}
		})
	})

	// Handle peer connection state changes (more comprehensive than ICE state)
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			log.Info("Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering to complete
	<-gatherComplete
	log.Debug("ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}

	go s.sendPayloads(client)

	log.Info("Client %s connected (session=%q)", client.id, sessionID)
	return answerJSON, nil
}

// SendPayload queues an encoded payload for every client watching sessionID.
func (s *Server) SendPayload(sessionID string, data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if client.session != "" && client.session != sessionID {
			continue
		}
		// Non-blocking send
		select {
		case client.dataChan <- data:
		default:
			client.framesDropped.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCDropped.Add(1)
			}
		}
	}
}

// sendPayloads waits for the data channel to open, then forwards payloads.
// Payloads queued before the channel opens are delivered once it does.
func (s *Server) sendPayloads(client *Client) {
	var dc *webrtc.DataChannel
	select {
	case <-client.closeChan:
		return
	case dc = <-client.open:
	}
	log.Debug("Client %s data channel open", client.id)

	for {
		select {
		case <-client.closeChan:
			return
		case data := <-client.dataChan:
			if err := dc.SendText(string(data)); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					log.Warn("Error sending payload to client %s: %v", client.id, err)
				}
				return
			}
			if n := client.framesSent.Add(1); n%120 == 0 {
				log.Debug("Sent %d payloads to client %s", n, client.id)
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}
	s.closeClient(client)
}

func (s *Server) closeClient(client *Client) {
	close(client.closeChan)
	client.peerConn.Close()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(-1)
	}
	log.Info("Client %s disconnected (sent: %d, dropped: %d)",
		client.id, client.framesSent.Load(), client.framesDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats describes one client.
type ClientStats struct {
	Session       string `json:"session,omitempty"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]ClientStats {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]ClientStats, len(s.clients))
	for id, client := range s.clients {
		stats[id] = ClientStats{
			Session:       client.session,
			FramesSent:    client.framesSent.Load(),
			FramesDropped: client.framesDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.clientsMu.Unlock()

	for _, client := range clients {
		s.closeClient(client)
	}
	return nil
}

func generateClientID() string {
	return "client-" + uuid.NewString()[:8]
}
