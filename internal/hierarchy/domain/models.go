package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Group is a node of an organization's group tree.
type Group struct {
	ID             snowflake.ID                      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID                      `gorm:"not null;index" json:"organization_id"`
	ParentID       *snowflake.ID                     `gorm:"index" json:"parent_id,omitempty"`
	Name           string                            `gorm:"type:varchar(120);not null" json:"name"`
	Slug           string                            `gorm:"type:varchar(160);not null" json:"slug"`
	SortOrder      int                               `gorm:"not null;default:0" json:"order"`
	ChildIDs       datatypes.JSONSlice[snowflake.ID] `gorm:"column:child_ids;not null" json:"child_ids"`
	MemberCount    int64                             `gorm:"not null;default:0" json:"member_count"`
	LeaderMemberID *snowflake.ID                     `json:"leader_member_id,omitempty"`
	CreatedAt      time.Time                         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                         `gorm:"not null" json:"updated_at"`
	DeletedAt      gorm.DeletedAt                    `gorm:"index" json:"-"`
}

func (Group) TableName() string { return "org_groups" }

// HasChild reports whether id is listed in the group's child ids.
func (g Group) HasChild(id snowflake.ID) bool {
	for _, child := range g.ChildIDs {
		if child == id {
			return true
		}
	}
	return false
}

// TreeNode is a read-only nested view of a group and its descendants.
type TreeNode struct {
	Group    Group      `json:"group"`
	Depth    int        `json:"depth"`
	Children []TreeNode `json:"children,omitempty"`
}

// CountDrift reports a counter that did not match its recomputed value.
type CountDrift struct {
	GroupID  snowflake.ID `json:"group_id"`
	Name     string       `json:"name"`
	Stored   int64        `json:"stored"`
	Actual   int64        `json:"actual"`
	LeaderOK bool         `json:"leader_ok"`
}
