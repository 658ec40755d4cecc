package notify

import (
	"context"
	"encoding/json"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

// TransitionEvent describes one lifecycle move of a fulfillment request.
type TransitionEvent struct {
	RequestID     uuid.UUID `json:"request_id"`
	RequestNumber string    `json:"request_number"`
	FromStatus    string    `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	ActorID       uuid.UUID `json:"actor_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier delivers transition events. Delivery is best effort: the
// workflow never fails because a notification could not be sent.
type Notifier interface {
	RequestTransitioned(ctx context.Context, event TransitionEvent)
}

// LogNotifier writes events to the structured log. It is the default
// when no Pub/Sub topic is configured.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) RequestTransitioned(ctx context.Context, event TransitionEvent) {
	if n == nil || n.logg == nil {
		return
	}
	lctx := n.logg.WithFields(ctx, map[string]any{
		"request_number": event.RequestNumber,
		"from_status":    event.FromStatus,
		"to_status":      event.ToStatus,
	})
	n.logg.Info(lctx, "request transitioned")
}

// PubSubNotifier publishes events to the fulfillment topic.
type PubSubNotifier struct {
	publisher *pubsubv2.Publisher
	logg      *logger.Logger
}

func NewPubSubNotifier(publisher *pubsubv2.Publisher, logg *logger.Logger) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher, logg: logg}
}

func (n *PubSubNotifier) RequestTransitioned(ctx context.Context, event TransitionEvent) {
	if n == nil || n.publisher == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		if n.logg != nil {
			n.logg.Error(ctx, "marshaling transition event", err)
		}
		return
	}

	result := n.publisher.Publish(ctx, &pubsubv2.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": "request.transitioned",
			"to_status":  event.ToStatus,
		},
	})

	// Resolve off the request path; publish failures only get logged.
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := result.Get(bg); err != nil && n.logg != nil {
			lctx := n.logg.WithRequestNumber(bg, event.RequestNumber)
			n.logg.Error(lctx, "publishing transition event", err)
		}
	}()
}
