package ingestion

import (
	"context"
	"errors"

	"PLPLedger/internal/errs"

	"github.com/rs/zerolog"
)

// RunIngestionLoop drains raw NATS messages into the engine. A message is
// ACKed once the engine has decided it (applied, duplicate, or rejected)
// and NAKed only when the decision never happened.
func RunIngestionLoop(ctx context.Context, rawChan <-chan RawEvent, seq *Sequencer, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			handleRaw(ctx, raw, seq, logger)
		}
	}
}

func handleRaw(ctx context.Context, raw RawEvent, seq *Sequencer, logger zerolog.Logger) {
	cmd, err := ParseRawEvent(raw)
	if err != nil {
		// Redelivery cannot fix a malformed payload.
		logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
		ack(raw)
		return
	}

	_, err = seq.Submit(ctx, cmd)
	var domainErr *errs.Error
	switch {
	case err == nil, errors.As(err, &domainErr):
		ack(raw)
	default:
		logger.Error().Err(err).
			Str("subject", raw.Subject).
			Str("key", cmd.IdempotencyKey()).
			Msg("command not processed")
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
