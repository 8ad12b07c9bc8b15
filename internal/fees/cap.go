package fees

import (
	"fmt"
	"strings"

	"PLPLedger/internal/errs"
)

// CapPolicy decides what happens when a deposit's net would overfill the
// target pool during the Prediction phase.
type CapPolicy uint8

const (
	// CapClamp charges only the largest deposit whose net fits.
	CapClamp CapPolicy = iota
	// CapReject refuses the whole deposit.
	CapReject
)

func (p CapPolicy) String() string {
	if p == CapReject {
		return "reject"
	}
	return "clamp"
}

// ParseCapPolicy accepts "clamp" or "reject".
func ParseCapPolicy(s string) (CapPolicy, error) {
	switch strings.ToLower(s) {
	case "clamp", "cap", "":
		return CapClamp, nil
	case "reject":
		return CapReject, nil
	}
	return 0, fmt.Errorf("unknown cap policy %q", s)
}

// Charge is the amount actually taken from a depositor.
type Charge struct {
	Gross  int64 // Charged to the participant
	Fee    int64
	Net    int64 // Enters the pool and is priced by the AMM
	Capped bool
}

// CapDeposit applies the trade fee to deposit and limits the net to
// remaining. Under CapClamp the gross is reduced to the largest g such that
// g - floor(g*bps/10000) <= remaining, and fee and net are recomputed from g
// with the same forward formula, so no rounding gap is left for the
// participant to exploit.
func (s Schedule) CapDeposit(deposit, remaining int64, policy CapPolicy) (Charge, error) {
	fee, net, err := s.TradeFee(deposit)
	if err != nil {
		return Charge{}, err
	}
	if net <= remaining {
		return Charge{Gross: deposit, Fee: fee, Net: net}, nil
	}
	if remaining <= 0 {
		return Charge{}, errs.CapacityExceeded("target_pool", "pool already at target")
	}
	if policy == CapReject {
		return Charge{}, errs.Newf(errs.KindCapacityExceeded, "amount",
			"net deposit %d exceeds remaining capacity %d", net, remaining)
	}

	gross, err := s.maxGrossForNet(remaining, deposit)
	if err != nil {
		return Charge{}, err
	}
	fee, net, err = s.TradeFee(gross)
	if err != nil {
		return Charge{}, err
	}
	return Charge{Gross: gross, Fee: fee, Net: net, Capped: true}, nil
}

// maxGrossForNet finds the largest g <= upper with net(g) <= target. net is
// non-decreasing in g, so a binary search over [target, upper] converges.
func (s Schedule) maxGrossForNet(target, upper int64) (int64, error) {
	lo, hi := target, upper // net(target) <= target always holds
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		_, net, err := s.TradeFee(mid)
		if err != nil {
			return 0, err
		}
		if net <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}
