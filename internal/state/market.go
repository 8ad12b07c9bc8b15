// internal/state/market.go
package state

import (
	"PLPLedger/internal/amm"

	"github.com/google/uuid"
)

// Phase of a market's funding lifecycle
type Phase uint8

const (
	PhasePrediction Phase = iota
	PhaseFunding
)

// Resolution of a market. Monotonic: once not Unresolved, never changes.
type Resolution uint8

const (
	ResolutionUnresolved Resolution = iota
	ResolutionYesWins
	ResolutionNoWins
	ResolutionRefund
)

func (p Phase) String() string {
	switch p {
	case PhasePrediction:
		return "Prediction"
	case PhaseFunding:
		return "Funding"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates phase transitions
func (p Phase) CanTransitionTo(next Phase) bool {
	return p == PhasePrediction && next == PhaseFunding
}

func (r Resolution) String() string {
	switch r {
	case ResolutionUnresolved:
		return "Unresolved"
	case ResolutionYesWins:
		return "YesWins"
	case ResolutionNoWins:
		return "NoWins"
	case ResolutionRefund:
		return "Refund"
	default:
		return "Unknown"
	}
}

// ParseResolution is the inverse of String.
func ParseResolution(s string) (Resolution, bool) {
	for _, r := range []Resolution{ResolutionUnresolved, ResolutionYesWins, ResolutionNoWins, ResolutionRefund} {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// CanTransitionTo validates resolution transitions
func (r Resolution) CanTransitionTo(next Resolution) bool {
	validTransitions := map[Resolution][]Resolution{
		ResolutionUnresolved: {
			ResolutionYesWins,
			ResolutionNoWins,
			ResolutionRefund,
		},
	}

	for _, allowed := range validTransitions[r] {
		if next == allowed {
			return true
		}
	}
	return false
}

func (r Resolution) IsResolved() bool {
	return r != ResolutionUnresolved
}

// TokenLaunch records the asset acquired with the pool on YesWins.
type TokenLaunch struct {
	AssetID        string `json:"asset_id"`
	TokensReceived int64  `json:"tokens_received"`
}

// TokenAllocation splits the acquired tokens. Voters receive the remainder.
type TokenAllocation struct {
	Platform int64 `json:"platform"`
	Team     int64 `json:"team"`
	Voters   int64 `json:"voters"`
}

// Market is one YES/NO prediction. All amounts are lamports (1e-9 SOL) except
// share and token counts.
type Market struct {
	ID          uuid.UUID
	Creator     uuid.UUID
	Name        string
	Symbol      string
	MetadataURI string
	MetadataCID string

	TargetPool  int64
	PoolBalance int64 // Mirror of the market vault; never exceeds what is held

	YesPool int64 // AMM reserves
	NoPool  int64

	TotalYesShares int64 // Cumulative; never decremented
	TotalNoShares  int64

	ExpiryTime int64 // Unix seconds
	Phase      Phase
	Resolution Resolution

	DistributionPool int64 // Frozen at NoWins resolution

	Token                 Once[TokenLaunch]
	Allocation            Once[TokenAllocation]
	PlatformTokensClaimed bool
	FounderExcess         Once[int64]
	TeamVesting           Once[uuid.UUID] // schedule id
	FounderVesting        Once[uuid.UUID]

	CreatedAt  int64
	ResolvedAt int64
	Version    int64 // Optimistic concurrency control
}

// Reserve returns the AMM reserve for side.
func (m *Market) Reserve(side amm.Side) int64 {
	if side == amm.SideYes {
		return m.YesPool
	}
	return m.NoPool
}

// TotalShares returns cumulative shares issued on side.
func (m *Market) TotalShares(side amm.Side) int64 {
	if side == amm.SideYes {
		return m.TotalYesShares
	}
	return m.TotalNoShares
}

// RemainingCapacity is target_pool - pool_balance, floored at zero.
func (m *Market) RemainingCapacity() int64 {
	if m.PoolBalance >= m.TargetPool {
		return 0
	}
	return m.TargetPool - m.PoolBalance
}

func (m *Market) IsExpired(now int64) bool {
	return now >= m.ExpiryTime
}

// Clone returns a deep copy. Once fields hold values, so a struct copy suffices.
func (m *Market) Clone() *Market {
	c := *m
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (m *Market) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = append(buf, m.ID[:]...)
	buf = append(buf, m.Creator[:]...)

	buf = appendInt64LE(buf, m.TargetPool)
	buf = appendInt64LE(buf, m.PoolBalance)
	buf = appendInt64LE(buf, m.YesPool)
	buf = appendInt64LE(buf, m.NoPool)
	buf = appendInt64LE(buf, m.TotalYesShares)
	buf = appendInt64LE(buf, m.TotalNoShares)
	buf = appendInt64LE(buf, m.ExpiryTime)

	buf = append(buf, byte(m.Phase), byte(m.Resolution))

	buf = appendInt64LE(buf, m.DistributionPool)

	if t, ok := m.Token.Get(); ok {
		buf = append(buf, 1)
		buf = appendString(buf, t.AssetID)
		buf = appendInt64LE(buf, t.TokensReceived)
	} else {
		buf = append(buf, 0)
	}

	if a, ok := m.Allocation.Get(); ok {
		buf = append(buf, 1)
		buf = appendInt64LE(buf, a.Platform)
		buf = appendInt64LE(buf, a.Team)
		buf = appendInt64LE(buf, a.Voters)
	} else {
		buf = append(buf, 0)
	}

	buf = appendBool(buf, m.PlatformTokensClaimed)
	buf = appendInt64LE(buf, m.FounderExcess.Value())
	buf = appendBool(buf, m.TeamVesting.IsSet())
	buf = appendBool(buf, m.FounderVesting.IsSet())

	return buf
}
