package ingestion

import (
	"context"
	"sync"
	"time"

	"PLPLedger/internal/core"
	"PLPLedger/internal/event"
)

// Sequencer is the only writer of source sequence and timestamp. Every
// ingress path (NATS, gateway) submits through one Sequencer so the order
// of stamps equals the order the engine sees.
type Sequencer struct {
	mu       sync.Mutex
	next     int64
	lastTime time.Time
	now      func() time.Time
	engine   chan<- core.Submission
}

// NewSequencer starts stamping at next, which must be the engine's
// expected sequence for core.IngestPartition after recovery.
func NewSequencer(next int64, engine chan<- core.Submission) *Sequencer {
	return &Sequencer{
		next:   next,
		now:    time.Now,
		engine: engine,
	}
}

// SetClock replaces the wall clock; tests pin time with it.
func (s *Sequencer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Next returns the sequence the next command will carry.
func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Submit stamps cmd and waits for the engine's reply. The sequence is only
// consumed once the engine has accepted the submission.
func (s *Sequencer) Submit(ctx context.Context, cmd event.Event) (*core.Result, error) {
	reply := make(chan core.Reply, 1)
	if err := s.enqueue(ctx, cmd, reply); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sequencer) enqueue(ctx context.Context, cmd event.Event, reply chan<- core.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := cmd.Header()
	meta.Sequence = s.next
	meta.Timestamp = s.stamp()

	select {
	case s.engine <- core.Submission{Ctx: ctx, Cmd: cmd, Reply: reply}:
		s.next++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stamp returns a UTC timestamp at microsecond precision that never goes
// backwards.
func (s *Sequencer) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if t.Before(s.lastTime) {
		t = s.lastTime
	}
	s.lastTime = t
	return t
}
