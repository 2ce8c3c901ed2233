package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Officer is a flat, named title a member can hold (e.g. Treasurer).
type Officer struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID   `gorm:"not null;index" json:"organization_id"`
	Name        string         `gorm:"type:varchar(120);not null" json:"name"`
	SortOrder   int            `gorm:"not null;default:0" json:"order"`
	MemberCount int64          `gorm:"not null;default:0" json:"member_count"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Officer) TableName() string { return "officers" }

type CountDrift struct {
	OfficerID snowflake.ID `json:"officer_id"`
	Name      string       `json:"name"`
	Stored    int64        `json:"stored"`
	Actual    int64        `json:"actual"`
}
