package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PLPLedger/internal/event"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventStream holds every outbound envelope.
const EventStream = "PLP_EVENTS"

// OutboundPublisher publishes persisted envelopes to NATS for downstream
// consumers. Subjects follow plp.events.{event_type}[.{market_id}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	log       zerolog.Logger
}

// PublishableEvent is an envelope ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       *string         `json:"market_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPublishableEvent converts a logged envelope.
func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	pe := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if env.MarketID != uuid.Nil {
		id := env.MarketID.String()
		pe.MarketID = &id
	}
	return pe
}

// Subject returns the outbound subject for evt.
func (evt PublishableEvent) Subject() string {
	subject := "plp.events." + evt.EventType
	if evt.MarketID != nil {
		subject += "." + *evt.MarketID
	}
	return subject
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can read the event log directly
				op.log.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The global sequence doubles as the JetStream dedup id.
	_, err = op.js.Publish(ctx, evt.Subject(), data,
		jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{"plp.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", EventStream).Msg("ensured outbound stream")
	return nil
}
