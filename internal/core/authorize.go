package core

import (
	"PLPLedger/internal/state"

	"github.com/google/uuid"
)

// Role is a permission checked before a privileged transition.
type Role uint8

const (
	RoleCreator Role = iota + 1 // The market's creator
	RoleAdmin                   // The treasury admin
)

// Authorizer answers authorize(caller, role) for a market.
type Authorizer interface {
	Authorize(caller uuid.UUID, role Role, m *state.Market) bool
}

// RegistryAuthorizer resolves roles from engine state: creators from the
// market, the admin from the treasury.
type RegistryAuthorizer struct {
	registry *state.Registry
}

func NewRegistryAuthorizer(registry *state.Registry) *RegistryAuthorizer {
	return &RegistryAuthorizer{registry: registry}
}

func (a *RegistryAuthorizer) Authorize(caller uuid.UUID, role Role, m *state.Market) bool {
	switch role {
	case RoleCreator:
		return m != nil && caller == m.Creator
	case RoleAdmin:
		return a.registry.Treasury().IsAdmin(caller)
	default:
		return false
	}
}

// SetAuthorizer replaces the role source (tests, external identity services).
func (c *Engine) SetAuthorizer(a Authorizer) {
	c.authorizer = a
}
