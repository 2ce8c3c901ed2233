package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Member is the person record the ledger points at. The current-assignment
// pointers are written only by the history ledger.
type Member struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	FullName         string        `gorm:"type:varchar(200);not null" json:"full_name"`
	CurrentGroupID   *snowflake.ID `gorm:"index" json:"current_group_id,omitempty"`
	CurrentOfficerID *snowflake.ID `gorm:"index" json:"current_officer_id,omitempty"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (Member) TableName() string { return "members" }

// Pointer names a current-assignment column on the member record.
type Pointer string

const (
	PointerNone    Pointer = ""
	PointerGroup   Pointer = "current_group_id"
	PointerOfficer Pointer = "current_officer_id"
)

// Valid reports whether p names a writable pointer column.
func (p Pointer) Valid() bool {
	return p == PointerGroup || p == PointerOfficer
}
