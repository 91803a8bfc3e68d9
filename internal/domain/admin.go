/**
 * @description
 * Domain models for protocol administration: role identities and the audit
 * trail of role grants. Role checks are re-validated at each manager boundary
 * rather than trusted transitively from the orchestrator.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role names a capability that can be granted to a principal.
type Role string

const (
	RoleAdmin      Role = "admin"       // configuration mutations, pause, recovery
	RoleOperator   Role = "operator"    // may sign payment intents
	RoleMonitor    Role = "monitor"     // may process refunds and fund the pool
	RoleRenewalBot Role = "renewal_bot" // may execute auto-renewals
)

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleMonitor, RoleRenewalBot:
		return true
	}
	return false
}

// RoleGrant is one entry in the auditable record of who granted what to whom.
type RoleGrant struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Principal string    `json:"principal"`
	GrantedBy string    `json:"granted_by"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}
