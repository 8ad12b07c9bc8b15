package core

import (
	"context"
	"fmt"

	"PLPLedger/internal/event"
)

// ReplayEnvelope re-applies one logged envelope and verifies the hash chain.
// Rejections advance the chain without touching state. The launch service
// is never called: YesWins resolutions carry their recorded receipt.
func (c *Engine) ReplayEnvelope(ctx context.Context, env *event.EventEnvelope) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay: expected sequence %d, got %d", c.sequence, env.Sequence)
	}
	if prev := c.hasher.GetPrevHash(); env.PrevHash != prev {
		return fmt.Errorf("replay: chain broken at seq %d: prev %x, log says %x", env.Sequence, prev, env.PrevHash)
	}

	evt, err := event.Decode(env)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	if rejected, ok := evt.(*event.CommandRejected); ok {
		c.hasher.ComputeHash(c.sequence, rejectionDigest(rejected))
		c.sequence++
	} else {
		c.replaying = true
		_, err := c.ProcessEvent(ctx, evt)
		c.replaying = false
		if err != nil {
			return fmt.Errorf("replay seq %d (%s): %w", env.Sequence, env.EventType, err)
		}
	}

	if got := c.hasher.GetPrevHash(); got != env.StateHash {
		return fmt.Errorf("replay: state hash mismatch at seq %d: computed %x, logged %x", env.Sequence, got, env.StateHash)
	}

	c.sequenceValidator.RestorePartition(IngestPartition, env.SourceSequence+1)
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// Replay applies envelopes in order and returns how many were applied.
func (c *Engine) Replay(ctx context.Context, envs []*event.EventEnvelope) (int, error) {
	for i, env := range envs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := c.ReplayEnvelope(ctx, env); err != nil {
			return i, err
		}
	}
	return len(envs), nil
}
