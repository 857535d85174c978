package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HoldStatus is the deposit authorization lifecycle. Local rows are a cache of
// the payment processor's state and reconcile on read/webhook; transient
// states (authorizing/capturing/releasing) may be polled until stable.
type HoldStatus string

const (
	HoldNone            HoldStatus = "none"
	HoldRequiresPayment HoldStatus = "requires_payment"
	HoldAuthorizing     HoldStatus = "authorizing"
	HoldAuthorized      HoldStatus = "authorized"
	HoldCapturing       HoldStatus = "capturing"
	HoldCaptured        HoldStatus = "captured"
	HoldReleasing       HoldStatus = "releasing"
	HoldReleased        HoldStatus = "released"
	HoldFailed          HoldStatus = "failed"
	HoldExpired         HoldStatus = "expired"
	HoldCanceled        HoldStatus = "canceled"
)

// Stable reports whether polling can stop (terminal or settled states).
func (s HoldStatus) Stable() bool {
	switch s {
	case HoldAuthorized, HoldCaptured, HoldReleased, HoldFailed, HoldExpired, HoldCanceled:
		return true
	}
	return false
}

// Released reports whether the authorization no longer holds funds.
func (s HoldStatus) Released() bool {
	return s == HoldReleased || s == HoldCanceled || s == HoldExpired
}

// DepositHold is the single source of truth for a booking's deposit
// authorization (one row per booking; Booking carries denormalized pointers).
type DepositHold struct {
	DepositHoldID uuid.UUID `gorm:"column:deposit_hold_id;type:uuid;primaryKey" json:"deposit_hold_id"`
	BookingID     uuid.UUID `gorm:"column:booking_id;type:uuid;not null;uniqueIndex" json:"booking_id"`

	ProcessorIntentID string `gorm:"column:processor_intent_id;index" json:"processor_intent_id"`
	ClientSecret      string `gorm:"column:client_secret" json:"-"`

	AmountCents   int64 `gorm:"column:amount_cents;not null" json:"amount_cents"`
	CapturedCents int64 `gorm:"column:captured_cents;not null;default:0" json:"captured_cents"`
	ReleasedCents int64 `gorm:"column:released_cents;not null;default:0" json:"released_cents"`

	Status        HoldStatus `gorm:"column:status;type:varchar(20);not null;default:'none';index" json:"status"`
	CaptureReason string     `gorm:"column:capture_reason" json:"capture_reason"`
	ReleaseReason string     `gorm:"column:release_reason" json:"release_reason"`

	ExpiresAt *time.Time `gorm:"column:expires_at" json:"expires_at"`

	// Last raw processor payload seen (webhook or poll), for reconciliation.
	RawProcessorState datatypes.JSON `gorm:"column:raw_processor_state;type:jsonb" json:"-"`
	LastEventID       string         `gorm:"column:last_event_id" json:"-"`

	CreatedAt time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (DepositHold) TableName() string {
	return "DepositHolds"
}

func (d *DepositHold) BeforeCreate(tx *gorm.DB) error {
	if d.DepositHoldID == uuid.Nil {
		d.DepositHoldID = uuid.New()
	}
	return nil
}
