package memberships

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/db/models"
)

// MembershipDTO is the transport shape for a raw membership record.
type MembershipDTO struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	UserID    uuid.UUID `json:"user_id"`
	Points    int64     `json:"points"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MembershipWithTenant includes basic tenant metadata + membership info.
type MembershipWithTenant struct {
	MembershipID uuid.UUID `json:"membership_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	UserID       uuid.UUID `json:"user_id"`
	TenantName   string    `json:"tenant_name"`
	TenantSlug   string    `json:"tenant_slug"`
	Points       int64     `json:"points"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// MemberDTO is a tenant-side view of a member with the current tier name.
type MemberDTO struct {
	MembershipID uuid.UUID `json:"membership_id"`
	UserID       uuid.UUID `json:"user_id"`
	Points       int64     `json:"points"`
	TierName     *string   `json:"tier_name,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ToDTO converts a model to the external DTO.
func ToDTO(m *models.CustomerMembership) *MembershipDTO {
	if m == nil {
		return nil
	}

	return &MembershipDTO{
		ID:        m.ID,
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Points:    m.Points,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func copyStringPointer(src *string) *string {
	if src == nil {
		return nil
	}
	dst := *src
	return &dst
}
