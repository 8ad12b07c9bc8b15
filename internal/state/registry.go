package state

import (
	"bytes"
	"sort"

	"PLPLedger/internal/errs"

	"github.com/google/uuid"
)

// Registry is the in-memory entity store. Reads return clones so a caller
// can mutate freely and commit with Put* only when the whole operation
// succeeds.
// Not thread-safe; only accessed from the single-threaded engine.
type Registry struct {
	markets   map[uuid.UUID]*Market
	positions map[PositionKey]*Position
	schedules map[uuid.UUID]*VestingSchedule
	treasury  *Treasury
}

type PositionKey struct {
	MarketID uuid.UUID
	Owner    uuid.UUID
}

func NewRegistry(treasury *Treasury) *Registry {
	if treasury == nil {
		treasury = NewTreasury(uuid.Nil)
	}
	return &Registry{
		markets:   make(map[uuid.UUID]*Market),
		positions: make(map[PositionKey]*Position),
		schedules: make(map[uuid.UUID]*VestingSchedule),
		treasury:  treasury,
	}
}

// Market loads a market by id.
func (r *Registry) Market(id uuid.UUID) (*Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, errs.NotFound("market", id.String())
	}
	return m.Clone(), nil
}

func (r *Registry) HasMarket(id uuid.UUID) bool {
	_, ok := r.markets[id]
	return ok
}

// Position returns the position or false if the owner never traded.
func (r *Registry) Position(marketID, owner uuid.UUID) (*Position, bool) {
	pos, ok := r.positions[PositionKey{MarketID: marketID, Owner: owner}]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// Schedule loads a vesting schedule by id.
func (r *Registry) Schedule(id uuid.UUID) (*VestingSchedule, error) {
	s, ok := r.schedules[id]
	if !ok {
		return nil, errs.NotFound("schedule", id.String())
	}
	return s.Clone(), nil
}

func (r *Registry) Treasury() *Treasury {
	return r.treasury.Clone()
}

func (r *Registry) PutMarket(m *Market) {
	r.markets[m.ID] = m
}

func (r *Registry) PutPosition(p *Position) {
	r.positions[PositionKey{MarketID: p.MarketID, Owner: p.Owner}] = p
}

func (r *Registry) PutSchedule(s *VestingSchedule) {
	r.schedules[s.ID] = s
}

func (r *Registry) PutTreasury(t *Treasury) {
	r.treasury = t
}

// AllMarkets returns every market ordered by id (for snapshots).
func (r *Registry) AllMarkets() []*Market {
	result := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		result = append(result, m.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result
}

// AllPositions returns every position ordered by (market, owner).
func (r *Registry) AllPositions() []*Position {
	result := make([]*Position, 0, len(r.positions))
	for _, p := range r.positions {
		result = append(result, p.Clone())
	}
	sortPositions(result)
	return result
}

// MarketPositions returns the positions held in one market.
func (r *Registry) MarketPositions(marketID uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for key, p := range r.positions {
		if key.MarketID == marketID {
			result = append(result, p.Clone())
		}
	}
	sortPositions(result)
	return result
}

// AllSchedules returns every vesting schedule ordered by id.
func (r *Registry) AllSchedules() []*VestingSchedule {
	result := make([]*VestingSchedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		result = append(result, s.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result
}

func sortPositions(ps []*Position) {
	sort.Slice(ps, func(i, j int) bool {
		if c := bytes.Compare(ps[i].MarketID[:], ps[j].MarketID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(ps[i].Owner[:], ps[j].Owner[:]) < 0
	})
}
