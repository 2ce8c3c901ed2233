package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Axis is a category of temporal assignment tracked independently per member.
type Axis string

const (
	AxisGroup   Axis = "group"
	AxisOfficer Axis = "officer"
	AxisLeader  Axis = "leader"
)

func (a Axis) Valid() bool {
	switch a {
	case AxisGroup, AxisOfficer, AxisLeader:
		return true
	default:
		return false
	}
}

// History is one interval during which a member held an assignment on an axis.
// An open row has no end date and points at the live entity; closing it replaces
// the live reference with a snapshot of the entity's name.
type History struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID   `gorm:"not null;index" json:"organization_id"`
	Axis      Axis           `gorm:"type:varchar(16);not null;index:idx_history_member_axis,priority:2" json:"axis"`
	MemberID  snowflake.ID   `gorm:"not null;index:idx_history_member_axis,priority:1" json:"member_id"`
	LiveRefID *snowflake.ID  `gorm:"index" json:"live_ref_id,omitempty"`
	Snapshot  *string        `gorm:"type:varchar(1024)" json:"snapshot,omitempty"`
	ParentID  *snowflake.ID  `gorm:"index" json:"parent_id,omitempty"`
	StartDate time.Time      `gorm:"not null" json:"start_date"`
	EndDate   *time.Time     `json:"end_date,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (History) TableName() string { return "assignment_histories" }

// Open reports whether the row is the member's current assignment on its axis.
func (h History) Open() bool {
	return h.EndDate == nil
}

// WindowEnd returns the row's end date, or today for an open row.
func (h History) WindowEnd(today time.Time) time.Time {
	if h.EndDate != nil {
		return *h.EndDate
	}
	return today
}
