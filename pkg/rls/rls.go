package rls

import (
	"fmt"

	"gorm.io/gorm"
)

// WithTenant scopes the current postgres transaction to one organization so row-level
// security policies on the core tables apply.
func WithTenant(tx *gorm.DB, tenantID int64) error {
	return tx.Exec(
		"SELECT set_config('app.current_org_id', ?, true)",
		fmt.Sprintf("%d", tenantID),
	).Error
}
