package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event for the log payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// New returns an empty command of type et.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeCreateMarket:
		return &CreateMarket{}, nil
	case EventTypeBuy:
		return &Buy{}, nil
	case EventTypeExtendMarket:
		return &ExtendMarket{}, nil
	case EventTypeResolveMarket:
		return &ResolveMarket{}, nil
	case EventTypeClaim:
		return &Claim{}, nil
	case EventTypeInitTeamVesting:
		return &InitTeamVesting{}, nil
	case EventTypeInitFounderVesting:
		return &InitFounderVesting{}, nil
	case EventTypeClaimVesting:
		return &ClaimVesting{}, nil
	case EventTypeClaimPlatformTokens:
		return &ClaimPlatformTokens{}, nil
	case EventTypeCommandRejected:
		return &CommandRejected{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Decode rebuilds a logged command from its envelope.
func Decode(env *EventEnvelope) (Event, error) {
	evt, err := New(env.EventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return evt, nil
}
