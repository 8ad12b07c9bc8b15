package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// CommandStream holds every inbound command subject.
const CommandStream = "PLP_COMMANDS"

// NATSSubscriber subscribes to JetStream command subjects and feeds raw
// messages to the ingestion loop. NATS is the high-throughput surface; the
// gateway covers interactive callers.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is an undecoded command from NATS.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK once the engine has the command
	NakFunc   func() // NAK on failure (redelivered)
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one subject per command.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "plp.cmd.create_market", EventType: "CreateMarket", ConsumerName: "plp-create-market", StreamName: CommandStream},
		{Subject: "plp.cmd.buy", EventType: "Buy", ConsumerName: "plp-buy", StreamName: CommandStream},
		{Subject: "plp.cmd.extend_market", EventType: "ExtendMarket", ConsumerName: "plp-extend-market", StreamName: CommandStream},
		{Subject: "plp.cmd.resolve_market", EventType: "ResolveMarket", ConsumerName: "plp-resolve-market", StreamName: CommandStream},
		{Subject: "plp.cmd.claim", EventType: "Claim", ConsumerName: "plp-claim", StreamName: CommandStream},
		{Subject: "plp.cmd.claim_platform_tokens", EventType: "ClaimPlatformTokens", ConsumerName: "plp-claim-platform", StreamName: CommandStream},
		{Subject: "plp.cmd.init_team_vesting", EventType: "InitTeamVesting", ConsumerName: "plp-init-team-vesting", StreamName: CommandStream},
		{Subject: "plp.cmd.init_founder_vesting", EventType: "InitFounderVesting", ConsumerName: "plp-init-founder-vesting", StreamName: CommandStream},
		{Subject: "plp.cmd.claim_vesting", EventType: "ClaimVesting", ConsumerName: "plp-claim-vesting", StreamName: CommandStream},
	}
}

// EventTypeForSubject resolves the command type of an inbound subject.
func EventTypeForSubject(subjects []SubjectConfig, subject string) (string, bool) {
	for _, cfg := range subjects {
		if cfg.Subject == subject {
			return cfg.EventType, true
		}
	}
	return "", false
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       logger,
	}
}

// Subscribe creates a durable consumer per subject.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command stream if it doesn't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{"plp.cmd.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("plpledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
