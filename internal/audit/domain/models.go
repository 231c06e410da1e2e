package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem      ActorType = "system"
	ActorTypeOperatorKey ActorType = "operator_key"
	ActorTypeScheduler   ActorType = "scheduler"
)

const (
	ActionRecoveryApplied       = "recovery.action_applied"
	ActionEarningCalculated     = "earning.calculated"
	ActionEarningRecalculated   = "earning.recalculated"
	ActionEarningPaymentUpdated = "earning.payment_status_updated"
	ActionOperatorKeyCreated    = "operator_key.created"
	ActionOperatorKeyRevoked    = "operator_key.revoked"
)

const (
	TargetSubmission  = "submission"
	TargetEarning     = "earning"
	TargetOperatorKey = "operator_key"
)

// AuditLog is an append-only record of an operator or system action.
type AuditLog struct {
	ID         snowflake.ID      `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
