package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusFailed:  {PaymentStatusPending},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates the payout status graph.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

const EarningTypeFootage = "footage"

// Earning is the payout owed for one submission.
type Earning struct {
	ID            snowflake.ID                  `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	SubmissionID  snowflake.ID                  `json:"submission_id,string" gorm:"not null;uniqueIndex"`
	DriverID      string                        `json:"driver_id" gorm:"type:text;not null;index"`
	AmountCents   int64                         `json:"amount_cents" gorm:"not null"`
	Currency      string                        `json:"currency" gorm:"type:text;not null"`
	EarningType   string                        `json:"earning_type" gorm:"type:text;not null"`
	PaymentStatus PaymentStatus                 `json:"payment_status" gorm:"type:text;not null"`
	Tier          string                        `json:"tier" gorm:"type:text;not null"`
	Breakdown     datatypes.JSONType[Breakdown] `json:"breakdown"`
	EarnedAt      time.Time                     `json:"earned_at" gorm:"not null"`
	PaidAt        *time.Time                    `json:"paid_at,omitempty"`
	CreatedAt     time.Time                     `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time                     `json:"updated_at" gorm:"not null"`
}

func (Earning) TableName() string { return "earnings" }

// DriverEarnings aggregates a driver's earnings. It is derived from the
// earnings table and rebuilt on every change.
type DriverEarnings struct {
	DriverID             string    `json:"driver_id" gorm:"primaryKey;type:text"`
	TotalEarningsCents   int64     `json:"total_earnings_cents" gorm:"not null"`
	MonthlyEarningsCents int64     `json:"monthly_earnings_cents" gorm:"not null"`
	PaidEarningsCents    int64     `json:"paid_earnings_cents" gorm:"not null"`
	CompletedSubmissions int64     `json:"completed_submissions" gorm:"not null"`
	UpdatedAt            time.Time `json:"updated_at" gorm:"not null"`
}

func (DriverEarnings) TableName() string { return "driver_earnings" }

// Bounty is one edge-case award.
type Bounty struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Factor     float64 `json:"factor"`
	Amount     float64 `json:"amount"`
}

// Breakdown snapshots every component of a calculation. Amounts are in
// currency units; only TotalCents is rounded.
type Breakdown struct {
	Minutes        float64  `json:"minutes"`
	Tier           string   `json:"tier"`
	TierRate       float64  `json:"tier_rate"`
	Base           float64  `json:"base"`
	QualityBonus   float64  `json:"quality_bonus"`
	DensityBonus   float64  `json:"density_bonus"`
	VolumeBonus    float64  `json:"volume_bonus"`
	ConditionBonus float64  `json:"conditions_bonus"`
	Subtotal       float64  `json:"subtotal"`
	Cap            float64  `json:"cap"`
	Capped         bool     `json:"capped"`
	Bounties       []Bounty `json:"bounties"`
	BountyTotal    float64  `json:"bounty_total"`
	Total          float64  `json:"total"`
	TotalCents     int64    `json:"total_cents"`
	Currency       string   `json:"currency"`
}

// DriverSummary is the read model served to the driver dashboard.
type DriverSummary struct {
	DriverEarnings
	Tier     string    `json:"tier"`
	Recent   []Earning `json:"recent"`
	Currency string    `json:"currency"`
}
