package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"PLPLedger/internal/amm"
	"PLPLedger/internal/event"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// ParseRawEvent converts a RawEvent into a typed command. Source sequence
// and timestamp are left zero; the Sequencer stamps them.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	return ParseCommand(raw.EventType, raw.Data)
}

// ParseCommand decodes and validates one command payload.
func ParseCommand(eventType string, data []byte) (event.Event, error) {
	switch eventType {
	case "CreateMarket":
		return parseCreateMarket(data)
	case "Buy":
		return parseBuy(data)
	case "ExtendMarket":
		return parseMarketCommand(data, func(h event.Meta, id uuid.UUID) event.Event {
			return &event.ExtendMarket{Meta: h, Market: id}
		})
	case "ResolveMarket":
		return parseMarketCommand(data, func(h event.Meta, id uuid.UUID) event.Event {
			return &event.ResolveMarket{Meta: h, Market: id}
		})
	case "Claim":
		return parseMarketCommand(data, func(h event.Meta, id uuid.UUID) event.Event {
			return &event.Claim{Meta: h, Market: id}
		})
	case "ClaimPlatformTokens":
		return parseMarketCommand(data, func(h event.Meta, id uuid.UUID) event.Event {
			return &event.ClaimPlatformTokens{Meta: h, Market: id}
		})
	case "InitFounderVesting":
		return parseMarketCommand(data, func(h event.Meta, id uuid.UUID) event.Event {
			return &event.InitFounderVesting{Meta: h, Market: id}
		})
	case "InitTeamVesting":
		return parseInitTeamVesting(data)
	case "ClaimVesting":
		return parseClaimVesting(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Shape is checked here; economic limits are the engine's business.

type headerJSON struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	Caller         string `json:"caller" validate:"required,uuid"`
}

func (h headerJSON) meta() event.Meta {
	return event.Meta{Key: h.IdempotencyKey, Caller: uuid.MustParse(h.Caller)}
}

func decode(name string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	return nil
}

type createMarketJSON struct {
	headerJSON
	Name        string `json:"name" validate:"required,max=64"`
	Symbol      string `json:"symbol" validate:"required,max=16"`
	MetadataURI string `json:"metadata_uri" validate:"omitempty,max=256"`
	MetadataCID string `json:"metadata_cid" validate:"required,max=128"`
	TargetPool  int64  `json:"target_pool" validate:"gt=0"`
	ExpiryTime  int64  `json:"expiry_time" validate:"gt=0"`
}

func parseCreateMarket(data []byte) (*event.CreateMarket, error) {
	var j createMarketJSON
	if err := decode("CreateMarket", data, &j); err != nil {
		return nil, err
	}
	return &event.CreateMarket{
		Meta:        j.meta(),
		Name:        j.Name,
		Symbol:      j.Symbol,
		MetadataURI: j.MetadataURI,
		MetadataCID: j.MetadataCID,
		TargetPool:  j.TargetPool,
		ExpiryTime:  j.ExpiryTime,
	}, nil
}

type buyJSON struct {
	headerJSON
	MarketID string `json:"market_id" validate:"required,uuid"`
	Side     string `json:"side" validate:"required"`
	Amount   int64  `json:"amount" validate:"gt=0"`
}

func parseBuy(data []byte) (*event.Buy, error) {
	var j buyJSON
	if err := decode("Buy", data, &j); err != nil {
		return nil, err
	}
	side, ok := amm.ParseSide(strings.ToUpper(strings.TrimSpace(j.Side)))
	if !ok {
		return nil, fmt.Errorf("parse side: %q is not YES or NO", j.Side)
	}
	return &event.Buy{
		Meta:   j.meta(),
		Market: uuid.MustParse(j.MarketID),
		Side:   side,
		Amount: j.Amount,
	}, nil
}

type marketJSON struct {
	headerJSON
	MarketID string `json:"market_id" validate:"required,uuid"`
}

func parseMarketCommand(data []byte, build func(event.Meta, uuid.UUID) event.Event) (event.Event, error) {
	var j marketJSON
	if err := decode("market command", data, &j); err != nil {
		return nil, err
	}
	return build(j.meta(), uuid.MustParse(j.MarketID)), nil
}

type initTeamVestingJSON struct {
	headerJSON
	MarketID    string `json:"market_id" validate:"required,uuid"`
	TotalSupply int64  `json:"total_supply" validate:"gt=0"`
	TeamWallet  string `json:"team_wallet" validate:"omitempty,uuid"`
}

func parseInitTeamVesting(data []byte) (*event.InitTeamVesting, error) {
	var j initTeamVestingJSON
	if err := decode("InitTeamVesting", data, &j); err != nil {
		return nil, err
	}
	cmd := &event.InitTeamVesting{
		Meta:        j.meta(),
		Market:      uuid.MustParse(j.MarketID),
		TotalSupply: j.TotalSupply,
	}
	if j.TeamWallet != "" {
		cmd.TeamWallet = uuid.MustParse(j.TeamWallet)
	}
	return cmd, nil
}

type claimVestingJSON struct {
	headerJSON
	ScheduleID string `json:"schedule_id" validate:"required,uuid"`
}

func parseClaimVesting(data []byte) (*event.ClaimVesting, error) {
	var j claimVestingJSON
	if err := decode("ClaimVesting", data, &j); err != nil {
		return nil, err
	}
	return &event.ClaimVesting{Meta: j.meta(), Schedule: uuid.MustParse(j.ScheduleID)}, nil
}
