package ingestion_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"PLPLedger/internal/core"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/ingestion"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records every submission and answers with reply.
type fakeEngine struct {
	mu   sync.Mutex
	seen []event.Event
}

func (f *fakeEngine) run(ctx context.Context, in <-chan core.Submission, reply func(event.Event) core.Reply) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-in:
			f.mu.Lock()
			f.seen = append(f.seen, sub.Cmd)
			f.mu.Unlock()
			sub.Reply <- reply(sub.Cmd)
		}
	}
}

func (f *fakeEngine) commands() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.seen...)
}

func okReply(cmd event.Event) core.Reply {
	return core.Reply{Result: &core.Result{Sequence: cmd.SourceSequence()}}
}

func TestSequencer_StampsContiguousSequences(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan core.Submission)
	eng := &fakeEngine{}
	go eng.run(ctx, in, okReply)

	seq := ingestion.NewSequencer(7, in)
	for i := 0; i < 3; i++ {
		_, err := seq.Submit(ctx, &event.Claim{Meta: event.Meta{Key: uuid.NewString()}})
		require.NoError(t, err)
	}

	cmds := eng.commands()
	require.Len(t, cmds, 3)
	for i, cmd := range cmds {
		assert.Equal(t, int64(7+i), cmd.SourceSequence())
	}
	assert.Equal(t, int64(10), seq.Next())
}

func TestSequencer_TimestampNeverGoesBackwards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan core.Submission)
	eng := &fakeEngine{}
	go eng.run(ctx, in, okReply)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	seq := ingestion.NewSequencer(1, in)
	seq.SetClock(func() time.Time { t := clock[i]; i++; return t })

	for range clock {
		_, err := seq.Submit(ctx, &event.Claim{})
		require.NoError(t, err)
	}

	cmds := eng.commands()
	assert.Equal(t, base, cmds[0].Header().Timestamp)
	assert.Equal(t, base, cmds[1].Header().Timestamp, "clock skew must not rewind")
	assert.Equal(t, base.Add(time.Second), cmds[2].Header().Timestamp)
}

func TestSequencer_CancelledBeforeAcceptDoesNotConsume(t *testing.T) {
	in := make(chan core.Submission) // nobody reading
	seq := ingestion.NewSequencer(1, in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := seq.Submit(ctx, &event.Claim{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), seq.Next())
}

func TestIngestionLoop_AckAndNak(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan core.Submission)
	eng := &fakeEngine{}
	go eng.run(ctx, in, func(cmd event.Event) core.Reply {
		switch cmd.IdempotencyKey() {
		case "rejected":
			return core.Reply{Err: errs.InvalidState("market", "not active")}
		case "broken":
			return core.Reply{Err: context.DeadlineExceeded}
		}
		return okReply(cmd)
	})

	seq := ingestion.NewSequencer(1, in)
	rawChan := make(chan ingestion.RawEvent)
	done := make(chan error, 1)
	go func() { done <- ingestion.RunIngestionLoop(ctx, rawChan, seq, zerolog.Nop()) }()

	type outcome struct{ acked, naked bool }
	send := func(eventType string, payload map[string]interface{}) *outcome {
		o := &outcome{}
		var wg sync.WaitGroup
		wg.Add(1)
		raw := rawFromJSON(t, eventType, payload)
		raw.AckFunc = func() { o.acked = true; wg.Done() }
		raw.NakFunc = func() { o.naked = true; wg.Done() }
		rawChan <- raw
		wg.Wait()
		return o
	}
	claim := func(key string) map[string]interface{} {
		return map[string]interface{}{"idempotency_key": key, "caller": callerID, "market_id": marketID}
	}

	assert.Equal(t, &outcome{acked: true}, send("Claim", claim("ok")))
	assert.Equal(t, &outcome{acked: true}, send("Claim", claim("rejected")), "domain rejections are final")
	assert.Equal(t, &outcome{naked: true}, send("Claim", claim("broken")), "infrastructure errors are redelivered")
	assert.Equal(t, &outcome{acked: true}, send("Claim", map[string]interface{}{}), "malformed payloads are dropped")

	assert.Len(t, eng.commands(), 3)

	close(rawChan)
	require.NoError(t, <-done)
}

func TestGateway_MalformedIsInvalidArgument(t *testing.T) {
	in := make(chan core.Submission)
	gw := ingestion.NewGateway(ingestion.NewSequencer(1, in), zerolog.Nop())

	_, err := gw.Execute(context.Background(), "Buy", []byte(`{"side":"YES"}`))
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestPublishableEvent_Subject(t *testing.T) {
	id := uuid.MustParse(marketID)
	env := &event.EventEnvelope{
		Sequence:  42,
		EventType: event.EventTypeBuy,
		MarketID:  id,
		Payload:   []byte(`{"amount":1}`),
	}
	pe := ingestion.NewPublishableEvent(env)
	assert.Equal(t, "plp.events.Buy."+marketID, pe.Subject())
	assert.Len(t, pe.StateHash, 64)

	env.MarketID = uuid.Nil
	assert.Equal(t, "plp.events.Buy", ingestion.NewPublishableEvent(env).Subject())
}
