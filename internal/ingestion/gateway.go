package ingestion

import (
	"context"

	"PLPLedger/internal/core"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"

	"github.com/rs/zerolog"
)

// Gateway is the interactive ingress used by the gRPC and HTTP servers.
// NATS stays the bulk path; both share one Sequencer.
type Gateway struct {
	seq *Sequencer
	log zerolog.Logger
}

func NewGateway(seq *Sequencer, logger zerolog.Logger) *Gateway {
	return &Gateway{seq: seq, log: logger}
}

// Execute parses a JSON command and runs it to completion. Malformed input
// is reported as InvalidArgument and never reaches the engine.
func (g *Gateway) Execute(ctx context.Context, eventType string, data []byte) (*core.Result, error) {
	cmd, err := ParseCommand(eventType, data)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, eventType, err)
	}
	return g.Submit(ctx, cmd)
}

// Submit runs an already-typed command.
func (g *Gateway) Submit(ctx context.Context, cmd event.Event) (*core.Result, error) {
	result, err := g.seq.Submit(ctx, cmd)
	if err != nil {
		g.log.Debug().Err(err).
			Str("command", cmd.EventType().String()).
			Str("key", cmd.IdempotencyKey()).
			Msg("gateway command failed")
	}
	return result, err
}
