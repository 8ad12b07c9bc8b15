package core

import (
	"context"

	"PLPLedger/internal/event"
)

// Submission is one request to the engine goroutine. Exactly one of Cmd and
// Snapshot is set.
type Submission struct {
	Ctx      context.Context
	Cmd      event.Event
	Reply    chan<- Reply
	Snapshot chan<- *SnapshotState
}

// Reply carries the outcome of a command back to its submitter.
type Reply struct {
	Result *Result
	Err    error
}

// Run owns the engine until ctx is done or in is closed. Every command and
// snapshot request is serialized through it.
func (c *Engine) Run(ctx context.Context, in <-chan Submission) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-in:
			if !ok {
				return nil
			}
			c.serve(ctx, sub)
		}
	}
}

func (c *Engine) serve(ctx context.Context, sub Submission) {
	if sub.Snapshot != nil {
		sub.Snapshot <- c.CreateSnapshotState()
		return
	}

	cmdCtx := sub.Ctx
	if cmdCtx == nil {
		cmdCtx = ctx
	}
	result, err := c.ProcessEvent(cmdCtx, sub.Cmd)
	if err != nil && sub.Reply == nil {
		c.log.Warn().Err(err).
			Str("command", sub.Cmd.EventType().String()).
			Str("key", sub.Cmd.IdempotencyKey()).
			Msg("command failed")
	}
	if sub.Reply != nil {
		sub.Reply <- Reply{Result: result, Err: err}
	}
}

// Submit sends cmd to a running engine and waits for its reply.
func Submit(ctx context.Context, in chan<- Submission, cmd event.Event) (*Result, error) {
	reply := make(chan Reply, 1)
	select {
	case in <- Submission{Ctx: ctx, Cmd: cmd, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestSnapshot asks a running engine for a consistent snapshot.
func RequestSnapshot(ctx context.Context, in chan<- Submission) (*SnapshotState, error) {
	out := make(chan *SnapshotState, 1)
	select {
	case in <- Submission{Snapshot: out}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-out:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
