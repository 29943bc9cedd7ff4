package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is how often members are expected to contribute.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	GroupActive    GroupStatus = "active"
	GroupInactive  GroupStatus = "inactive"
	GroupCompleted GroupStatus = "completed"
	GroupSuspended GroupStatus = "suspended"
)

// Group represents a rotating-savings group ("chama").
// A group owns its memberships, contributions, payouts and ledger records.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group. Unique across groups.
	Name string

	Description string

	// ContributionAmount is what each member pays per round (positive, 2 decimal places).
	ContributionAmount decimal.Decimal

	Frequency Frequency

	// MinMembers is informational; nothing enforces a deadline for reaching it.
	MinMembers int

	// MaxMembers caps the number of active memberships.
	MaxMembers int

	Status GroupStatus

	// WalletAddress is the ledger address contributions must be sent to.
	WalletAddress string

	// CreatedBy is the user ID of the group creator.
	CreatedBy string

	CreatedAt time.Time

	// StartDate opens the first round. Zero means the group started at CreatedAt.
	StartDate time.Time

	// EndDate is informational.
	EndDate time.Time
}

// Role is a member's role inside a group.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTreasurer Role = "treasurer"
	RoleSecretary Role = "secretary"
	RoleMember    Role = "member"
)

// MembershipStatus is the state of a membership.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipInactive  MembershipStatus = "inactive"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipLeft      MembershipStatus = "left"
)

// Membership links one user to one group exactly once.
type Membership struct {
	ID      string
	GroupID string

	// UserID references the external identity system.
	UserID string

	// Email and WalletAddress are snapshotted from the identity system at join time.
	Email         string
	WalletAddress string

	Role   Role
	Status MembershipStatus

	// Position is the stable rotation slot, assigned as max(existing)+1 at join time.
	Position int

	// HasReceivedPayout flips to true only when this member's payout completes.
	// Once set, the membership can no longer leave and its position is frozen.
	HasReceivedPayout bool

	// TotalContributed is the running sum of confirmed contributions.
	TotalContributed decimal.Decimal

	JoinedAt time.Time
	LeftAt   *time.Time
}

// IsActive reports whether the membership counts toward rounds and rotation.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipActive
}
