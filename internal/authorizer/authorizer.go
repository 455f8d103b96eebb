// Package authorizer implements the resource-level per-IP authorization
// side channel of spec §4.8: validating a (resourceType, resourceItem,
// resourceCode, ip) tuple against a Resource's stored admit secret.
package authorizer

import "dtltunnel/internal/resource"

// Status strings mirror the original's exact vocabulary (spec §6).
const (
	StatusAuthNotConfigured = "Auth not configured"
	StatusInvalidIP         = "Invalid IP"
	StatusInvalidData       = "Invalid data"
	StatusInvalidMessage    = "Invalid message"
	StatusAccessProvided    = "Access provided"
	StatusAccessBlocked     = "Access blocked"
	StatusFailedToReadData  = "Failed to read data"
	StatusAuthTimeout       = "Auth timeout"
	StatusAuthError         = "Auth error"
)

// Authorizer resolves a Resource from (resourceType, resourceItem) and
// calls its Authorize.
type Authorizer struct {
	Store *resource.Store
}

func New(store *resource.Store) *Authorizer {
	return &Authorizer{Store: store}
}

// Authorize validates the tuple and returns the status message to reply
// with (spec §6's authorization HTTP endpoint).
func (a *Authorizer) Authorize(ip, resourceType, resourceItem, resourceCode string) string {
	if ip == "" {
		return StatusInvalidIP
	}
	if resourceType == "" || resourceItem == "" {
		return StatusInvalidData
	}
	if resourceCode == "" {
		return StatusInvalidMessage
	}

	res, ok := a.Store.Lookup(resource.Kind(resourceType), resourceItem)
	if !ok {
		return StatusInvalidData
	}

	if res.State() != resource.Bound {
		return StatusAuthNotConfigured
	}

	if res.Authorize(ip, resourceCode) {
		return StatusAccessProvided
	}
	return StatusAccessBlocked
}
