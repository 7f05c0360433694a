package memberships

import (
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
)

type membershipWithTenantRow struct {
	models.CustomerMembership
	TenantName string `gorm:"column:tenant_name"`
	TenantSlug string `gorm:"column:tenant_slug"`
}

type memberRow struct {
	models.CustomerMembership
	TierName *string `gorm:"column:tier_name"`
}

func membershipWithTenantFromRow(row membershipWithTenantRow) MembershipWithTenant {
	return MembershipWithTenant{
		MembershipID: row.ID,
		TenantID:     row.TenantID,
		UserID:       row.UserID,
		TenantName:   row.TenantName,
		TenantSlug:   row.TenantSlug,
		Points:       row.Points,
		Active:       row.Active,
		CreatedAt:    row.CreatedAt,
	}
}

func membershipRowsToDTO(rows []membershipWithTenantRow) []MembershipWithTenant {
	out := make([]MembershipWithTenant, 0, len(rows))
	for _, row := range rows {
		out = append(out, membershipWithTenantFromRow(row))
	}
	return out
}

func memberRowsToDTO(rows []memberRow) []MemberDTO {
	out := make([]MemberDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, MemberDTO{
			MembershipID: row.ID,
			UserID:       row.UserID,
			Points:       row.Points,
			TierName:     copyStringPointer(row.TierName),
			Active:       row.Active,
			CreatedAt:    row.CreatedAt,
		})
	}
	return out
}
