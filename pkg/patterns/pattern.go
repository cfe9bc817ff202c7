// Package patterns renders human-readable messages for audit verdicts from
// organization-scoped, priority-ordered response patterns.
package patterns

import (
	"time"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
)

// DefaultPriority is assigned to patterns created without a priority.
const DefaultPriority = 1000

// ResponsePattern maps one audit code to a message template for an
// organization. Lower priority values take precedence.
type ResponsePattern struct {
	ID             int64      `json:"id" yaml:"id"`
	OrganizationID string     `json:"organization_id" yaml:"organization_id"`
	Priority       int        `json:"priority" yaml:"priority"`
	Condition      audit.Code `json:"condition" yaml:"condition"`
	Template       string     `json:"template" yaml:"template"`
	IsActive       bool       `json:"is_active" yaml:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
}

// Live reports whether p is active and not expired at now.
func (p ResponsePattern) Live(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}
