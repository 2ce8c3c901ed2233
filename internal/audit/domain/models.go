package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeMember ActorType = "member"
	ActorTypeSystem ActorType = "system"
)

const (
	ActionGroupCreated       = "group.created"
	ActionGroupRenamed       = "group.renamed"
	ActionGroupReordered     = "group.reordered"
	ActionGroupMoved         = "group.moved"
	ActionGroupDeleted       = "group.deleted"
	ActionGroupLeaderChanged = "group.leader_changed"
	ActionGroupRecounted     = "group.recounted"
	ActionOfficerCreated     = "officer.created"
	ActionOfficerRenamed     = "officer.renamed"
	ActionOfficerDeleted     = "officer.deleted"
	ActionOfficerRecounted   = "officer.recounted"
	ActionMemberCreated      = "member.created"
	ActionHistoryUpdated     = "history.updated"
	ActionHistoryDeleted     = "history.deleted"
)

const (
	TargetGroup   = "group"
	TargetOfficer = "officer"
	TargetMember  = "member"
	TargetHistory = "history"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	ActorType  string            `gorm:"type:varchar(32);not null" json:"actor_type"`
	ActorID    *snowflake.ID     `json:"actor_id,omitempty"`
	Action     string            `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string            `gorm:"type:varchar(32);not null" json:"target_type"`
	TargetID   *snowflake.ID     `gorm:"index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry describes one audited change. The organization and actor come from the context.
type Entry struct {
	Action     string
	TargetType string
	TargetID   snowflake.ID
	Metadata   map[string]any
}
