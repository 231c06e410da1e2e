package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

func ValidRole(role string) bool {
	return role == RoleOperator || role == RoleViewer
}

// OperatorKey is a hashed bearer credential for the operator surface.
type OperatorKey struct {
	ID         snowflake.ID `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	Name       string       `json:"name" gorm:"type:text;not null"`
	KeyPrefix  string       `json:"key_prefix" gorm:"type:text;not null;uniqueIndex"`
	KeyHash    string       `json:"-" gorm:"type:text;not null"`
	Role       string       `json:"role" gorm:"type:text;not null"`
	IsActive   bool         `json:"is_active" gorm:"not null;default:true"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (OperatorKey) TableName() string { return "operator_keys" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *OperatorKey) error
	FindByPrefix(ctx context.Context, db *gorm.DB, prefix string) (*OperatorKey, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OperatorKey, error)
	List(ctx context.Context, db *gorm.DB) ([]OperatorKey, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
