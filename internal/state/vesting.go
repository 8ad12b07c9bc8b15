package state

import "github.com/google/uuid"

// VestingKind distinguishes what a schedule pays out.
type VestingKind uint8

const (
	VestingKindTeamTokens      VestingKind = iota + 1 // Launched tokens, team tranche
	VestingKindFounderCurrency                        // Excess pool lamports
)

func (k VestingKind) String() string {
	switch k {
	case VestingKindTeamTokens:
		return "team_tokens"
	case VestingKindFounderCurrency:
		return "founder_currency"
	default:
		return "unknown"
	}
}

// scheduleNamespace seeds deterministic schedule ids.
var scheduleNamespace = uuid.MustParse("6f1c7a4e-2d0b-5c8e-9a53-41e2b7d90c11")

// VestingScheduleID derives the schedule id for (market, kind). There is at
// most one schedule of each kind per market.
func VestingScheduleID(marketID uuid.UUID, kind VestingKind) uuid.UUID {
	return uuid.NewSHA1(scheduleNamespace, append(marketID[:], byte(kind)))
}

// VestingSchedule is an immediate tranche plus a linearly vested tranche.
// TotalAmount == ImmediateAmount + VestingAmount; ClaimedAmount only grows.
type VestingSchedule struct {
	ID               uuid.UUID
	MarketID         uuid.UUID
	Kind             VestingKind
	Beneficiary      uuid.UUID
	TotalAmount      int64
	ImmediateAmount  int64
	VestingAmount    int64
	ClaimedAmount    int64
	ImmediateClaimed bool
	VestingStart     int64 // Unix seconds
	VestingDuration  int64 // Seconds
	Version          int64
}

func (s *VestingSchedule) Clone() *VestingSchedule {
	c := *s
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (s *VestingSchedule) CanonicalBytes() []byte {
	buf := make([]byte, 0, 112)
	buf = append(buf, s.ID[:]...)
	buf = append(buf, s.MarketID[:]...)
	buf = append(buf, byte(s.Kind))
	buf = append(buf, s.Beneficiary[:]...)
	buf = appendInt64LE(buf, s.TotalAmount)
	buf = appendInt64LE(buf, s.ImmediateAmount)
	buf = appendInt64LE(buf, s.VestingAmount)
	buf = appendInt64LE(buf, s.ClaimedAmount)
	buf = appendBool(buf, s.ImmediateClaimed)
	buf = appendInt64LE(buf, s.VestingStart)
	buf = appendInt64LE(buf, s.VestingDuration)
	return buf
}
