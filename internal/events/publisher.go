package events

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"solver-backend/internal/clients"
	"solver-backend/internal/models"
)

// Event names published on intent and match lifecycle changes
const (
	EventIntentAdmitted  = "admitted"
	EventIntentMatched   = "matched"
	EventIntentSettled   = "settled"
	EventIntentExpired   = "expired"
	EventIntentCancelled = "cancelled"
	EventIntentFailed    = "failed"
	EventIntentPending   = "pending" // rollback to the book
)

// Sink receives every published event in-process. The websocket push
// service registers itself as a sink so connected clients see lifecycle
// changes without going through the broker.
type Sink interface {
	OnIntentEvent(event string, intent *models.Intent)
}

// IntentEventPayload wire format for intent lifecycle events
type IntentEventPayload struct {
	Event     string              `json:"event"`
	Nullifier string              `json:"nullifier"`
	IntentID  string              `json:"intent_id"`
	User      string              `json:"user"`
	Status    models.IntentStatus `json:"status"`
	MatchID   string              `json:"match_id,omitempty"`
	TxHash    string              `json:"tx_hash,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// MatchEventPayload wire format for match lifecycle events
type MatchEventPayload struct {
	Event      string    `json:"event"`
	MatchID    string    `json:"match_id"`
	NullifierA string    `json:"nullifier_a"`
	NullifierB string    `json:"nullifier_b"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits lifecycle events to NATS and any registered sinks.
// A nil NATS client is tolerated so the service runs without a broker.
type Publisher struct {
	nats          *clients.NATSClient
	subjectPrefix string
	sinks         []Sink
}

// NewPublisher creates an event publisher
func NewPublisher(natsClient *clients.NATSClient, subjectPrefix string) *Publisher {
	if subjectPrefix == "" {
		subjectPrefix = "solver"
	}
	return &Publisher{nats: natsClient, subjectPrefix: subjectPrefix}
}

// RegisterSink adds an in-process event receiver. Not safe to call after
// publishing starts; sinks are registered during container wiring.
func (p *Publisher) RegisterSink(sink Sink) {
	p.sinks = append(p.sinks, sink)
}

// PublishIntentEvent emits an intent lifecycle event
func (p *Publisher) PublishIntentEvent(event string, intent *models.Intent) {
	if p == nil || intent == nil {
		return
	}

	for _, sink := range p.sinks {
		sink.OnIntentEvent(event, intent)
	}

	payload := IntentEventPayload{
		Event:     event,
		Nullifier: intent.Nullifier,
		IntentID:  intent.IntentID,
		User:      intent.User,
		Status:    intent.Status,
		MatchID:   intent.MatchID,
		TxHash:    intent.SettlementTxHash,
		Timestamp: time.Now(),
	}
	p.publish(fmt.Sprintf("%s.intent.%s", p.subjectPrefix, event), payload)
}

// PublishMatchEvent emits a match lifecycle event
func (p *Publisher) PublishMatchEvent(event string, match *models.Match) {
	if p == nil || match == nil {
		return
	}

	payload := MatchEventPayload{
		Event:      event,
		MatchID:    match.ID,
		NullifierA: match.NullifierA,
		NullifierB: match.NullifierB,
		Timestamp:  time.Now(),
	}
	p.publish(fmt.Sprintf("%s.match.%s", p.subjectPrefix, event), payload)
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p.nats == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to marshal event payload")
		return
	}
	if err := p.nats.Publish(subject, data); err != nil {
		log.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
	}
}
