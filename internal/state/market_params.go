package state

import (
	"fmt"

	"PLPLedger/internal/amm"
	"PLPLedger/internal/fees"
)

// MarketParams are the deployment-wide economic parameters every market is
// created and traded under.
type MarketParams struct {
	Fees                   fees.Schedule
	CapPolicy              fees.CapPolicy
	MinInvestment          int64   // Lamports; smallest accepted deposit
	MinLiquidity           int64   // AMM reserve floor
	CreationFee            int64   // Lamports charged to the creator
	MinTargetPool          int64   // Lamports
	AllowedTargetPools     []int64 // Empty: any target >= MinTargetPool
	MaxMetadataURILen      int
	MaxMetadataCIDLen      int
	VestingDuration        int64 // Seconds
	FounderExcessThreshold int64 // Lamports; 0 disables the founder carve-out
}

var (
	// Default market params (mainnet launch values)
	DefaultMarketParams = MarketParams{
		Fees:                   fees.DefaultSchedule(),
		CapPolicy:              fees.CapClamp,
		MinInvestment:          10_000_000,  // 0.01 SOL
		MinLiquidity:           10_000_000,  // 0.01 SOL
		CreationFee:            15_000_000,  // 0.015 SOL
		MinTargetPool:          500_000_000, // 0.5 SOL
		MaxMetadataURILen:      200,
		MaxMetadataCIDLen:      59,
		VestingDuration:        31_104_000,     // 12 x 30 days
		FounderExcessThreshold: 50_000_000_000, // 50 SOL
	}
)

// AMMParams returns the bounds the engine prices a net deposit with. The
// minimum investment applies to the gross deposit in CheckTrade, so the AMM
// only needs the net to be positive.
func (p *MarketParams) AMMParams() amm.Params {
	return amm.Params{MinTrade: 1, MinLiquidity: p.MinLiquidity}
}

// IsAllowedTarget reports whether target may be used for a new market.
func (p *MarketParams) IsAllowedTarget(target int64) bool {
	if target < p.MinTargetPool {
		return false
	}
	if len(p.AllowedTargetPools) == 0 {
		return true
	}
	for _, t := range p.AllowedTargetPools {
		if t == target {
			return true
		}
	}
	return false
}

// ValidateMarketParams checks that market parameters are within valid ranges.
func ValidateMarketParams(params *MarketParams) error {
	if err := params.Fees.Validate(); err != nil {
		return err
	}
	if params.MinInvestment <= 0 {
		return fmt.Errorf("min_investment must be > 0, got %d", params.MinInvestment)
	}
	if params.MinLiquidity <= 0 {
		return fmt.Errorf("min_liquidity must be > 0, got %d", params.MinLiquidity)
	}
	if params.CreationFee < 0 {
		return fmt.Errorf("creation_fee must be >= 0, got %d", params.CreationFee)
	}
	if params.MinTargetPool <= params.MinLiquidity {
		return fmt.Errorf("min_target_pool (%d) must be > min_liquidity (%d)", params.MinTargetPool, params.MinLiquidity)
	}
	for _, t := range params.AllowedTargetPools {
		if t < params.MinTargetPool {
			return fmt.Errorf("allowed target pool %d below min_target_pool %d", t, params.MinTargetPool)
		}
	}
	if params.MaxMetadataURILen <= 0 || params.MaxMetadataCIDLen <= 0 {
		return fmt.Errorf("metadata limits must be > 0")
	}
	if params.VestingDuration <= 0 {
		return fmt.Errorf("vesting_duration must be > 0, got %d", params.VestingDuration)
	}
	if params.FounderExcessThreshold < 0 {
		return fmt.Errorf("founder_excess_threshold must be >= 0, got %d", params.FounderExcessThreshold)
	}
	return nil
}
