package services

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"solver-backend/internal/events"
	"solver-backend/internal/models"
)

const (
	pushWriteTimeout = 10 * time.Second
	pushPingInterval = 30 * time.Second
)

// pushClient one websocket subscriber
type pushClient struct {
	conn *websocket.Conn
	user string // empty means subscribed to all events
	send chan interface{}
}

// PushService fans intent lifecycle events out to websocket subscribers.
// It registers itself as an event sink, so every published event reaches
// connected clients without a broker round trip. Clients subscribed with
// a user address only see that user's intents.
type PushService struct {
	mu      sync.RWMutex
	clients map[*pushClient]struct{}
}

// NewPushService creates the websocket push hub
func NewPushService() *PushService {
	return &PushService{clients: make(map[*pushClient]struct{})}
}

// Register attaches a websocket connection to the hub and services it
// until the peer disconnects. Blocks for the connection lifetime.
func (s *PushService) Register(conn *websocket.Conn, user string) {
	client := &pushClient{
		conn: conn,
		user: user,
		send: make(chan interface{}, 32),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"user":        user,
		"subscribers": s.count(),
	}).Info("Websocket subscriber connected")

	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *PushService) readLoop(client *pushClient) {
	defer s.drop(client)
	for {
		// Inbound messages are discarded; the read loop exists to detect
		// disconnects and process control frames.
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *PushService) writeLoop(client *pushClient) {
	ticker := time.NewTicker(pushPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
			if err := client.conn.WriteJSON(payload); err != nil {
				s.drop(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.drop(client)
				return
			}
		}
	}
}

func (s *PushService) drop(client *pushClient) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
	s.mu.Unlock()
	client.conn.Close()
}

func (s *PushService) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// OnIntentEvent implements events.Sink
func (s *PushService) OnIntentEvent(event string, intent *models.Intent) {
	payload := events.IntentEventPayload{
		Event:     event,
		Nullifier: intent.Nullifier,
		IntentID:  intent.IntentID,
		User:      intent.User,
		Status:    intent.Status,
		MatchID:   intent.MatchID,
		TxHash:    intent.SettlementTxHash,
		Timestamp: time.Now(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.user != "" && client.user != intent.User {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow subscriber; skip rather than block the publisher.
		}
	}
}

// Shutdown closes every subscriber connection
func (s *PushService) Shutdown() {
	s.mu.Lock()
	clients := make([]*pushClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()

	for _, client := range clients {
		s.drop(client)
	}
}
