package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingStatus is the contract-level state (persisted as string).
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Terminal reports whether no further status transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// ReturnState is the drop-off workflow state, advanced strictly in order.
type ReturnState string

const (
	ReturnNotStarted     ReturnState = "not_started"
	ReturnInitiated      ReturnState = "initiated"
	ReturnIntakeDone     ReturnState = "intake_done"
	ReturnEvidenceDone   ReturnState = "evidence_done"
	ReturnIssuesReviewed ReturnState = "issues_reviewed"
	ReturnCloseoutDone   ReturnState = "closeout_done"
)

// DeliveryProgress tracks remote/delivery handovers (none for counter pickups).
type DeliveryProgress string

const (
	DeliveryNone      DeliveryProgress = "none"
	DeliveryScheduled DeliveryProgress = "scheduled"
	DeliveryEnRoute   DeliveryProgress = "en_route"
	DeliveryArrived   DeliveryProgress = "arrived"
	DeliveryHandedOff DeliveryProgress = "handed_off"
)

// atLeastArrived is the backup-activation floor for delivery bookings.
var deliveryRank = map[DeliveryProgress]int{
	DeliveryNone: 0, DeliveryScheduled: 1, DeliveryEnRoute: 2, DeliveryArrived: 3, DeliveryHandedOff: 4,
}

// AtLeast reports whether p has reached floor in the delivery sequence.
func (p DeliveryProgress) AtLeast(floor DeliveryProgress) bool {
	return deliveryRank[p] >= deliveryRank[floor]
}

// DepositStatus mirrors the deposit hold's lifecycle on the booking row.
type DepositStatus string

// Booking is the rental contract aggregate. Bookings are never hard-deleted;
// a dead booking reaches a terminal status instead.
type Booking struct {
	BookingID uuid.UUID `gorm:"column:booking_id;type:uuid;primaryKey" json:"booking_id"`
	Code      string    `gorm:"column:code;not null;uniqueIndex" json:"code"`

	CustomerName  string `gorm:"column:customer_name;not null" json:"customer_name"`
	CustomerEmail string `gorm:"column:customer_email;not null" json:"customer_email"`
	CustomerPhone string `gorm:"column:customer_phone" json:"customer_phone"`

	LocationID uuid.UUID  `gorm:"column:location_id;type:uuid;not null;index" json:"location_id"`
	CategoryID uuid.UUID  `gorm:"column:category_id;type:uuid;not null;index" json:"category_id"`
	UnitID     *uuid.UUID `gorm:"column:unit_id;type:uuid;index" json:"unit_id"`

	// Rental window, [start, end) in UTC.
	StartAt time.Time `gorm:"column:start_at;not null;index" json:"start_at"`
	EndAt   time.Time `gorm:"column:end_at;not null;index" json:"end_at"`

	Status      BookingStatus `gorm:"column:status;type:varchar(16);not null;default:'pending';index" json:"status"`
	ReturnState ReturnState   `gorm:"column:return_state;type:varchar(20);not null;default:'not_started'" json:"return_state"`

	DeliveryMode     bool             `gorm:"column:delivery_mode;not null;default:false" json:"delivery_mode"`
	DeliveryProgress DeliveryProgress `gorm:"column:delivery_progress;type:varchar(16);not null;default:'none'" json:"delivery_progress"`

	// Pricing: a booking points at most one locked snapshot; edits clear the
	// pointer and require an explicit re-lock.
	PricingSnapshotID *uuid.UUID `gorm:"column:pricing_snapshot_id;type:uuid" json:"pricing_snapshot_id"`
	TotalCents        int64      `gorm:"column:total_cents;not null;default:0" json:"total_cents"`
	UpgradeFeeCentsPD int64      `gorm:"column:upgrade_fee_cents_pd;not null;default:0" json:"upgrade_fee_cents_pd"`
	PreUpgradeCents   int64      `gorm:"column:pre_upgrade_cents;not null;default:0" json:"pre_upgrade_cents"`

	// Deposit pointers; DepositHold row is the source of truth.
	DepositHoldID *uuid.UUID    `gorm:"column:deposit_hold_id;type:uuid" json:"deposit_hold_id"`
	DepositStatus DepositStatus `gorm:"column:deposit_status;type:varchar(20);not null;default:'none'" json:"deposit_status"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at" json:"confirmed_at"`
	ActivatedAt *time.Time `gorm:"column:activated_at" json:"activated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at" json:"cancelled_at"`

	CreatedAt time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Booking) TableName() string {
	return "Bookings"
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.BookingID == uuid.Nil {
		b.BookingID = uuid.New()
	}
	return nil
}

// TotalDays is the whole rental-day count of the window (partial days round up).
func (b *Booking) TotalDays() int {
	d := b.EndAt.Sub(b.StartAt)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
