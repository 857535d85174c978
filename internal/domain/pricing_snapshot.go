package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PricingSnapshot is a frozen price breakdown captured when a quote is locked
// onto a booking. Rows are write-once: edits to the booking produce a new
// unlocked quote and a fresh row on re-lock, never an in-place update.
type PricingSnapshot struct {
	SnapshotID uuid.UUID `gorm:"column:snapshot_id;type:uuid;primaryKey" json:"snapshot_id"`
	BookingID  uuid.UUID `gorm:"column:booking_id;type:uuid;not null;index" json:"booking_id"`

	// Inputs, kept for auditability of the computation.
	DailyRateCents    int64     `gorm:"column:daily_rate_cents;not null" json:"daily_rate_cents"`
	TotalDays         int       `gorm:"column:total_days;not null" json:"total_days"`
	PickupDate        time.Time `gorm:"column:pickup_date;not null" json:"pickup_date"`
	DriverAgeBand     string    `gorm:"column:driver_age_band;type:varchar(16)" json:"driver_age_band"`
	ProtectionCentsPD int64     `gorm:"column:protection_cents_pd;not null;default:0" json:"protection_cents_pd"`
	AddOnsCents       int64     `gorm:"column:add_ons_cents;not null;default:0" json:"add_ons_cents"`
	UpgradeFeeCentsPD int64     `gorm:"column:upgrade_fee_cents_pd;not null;default:0" json:"upgrade_fee_cents_pd"`

	// Breakdown, all cents.
	VehicleBaseCents      int64 `gorm:"column:vehicle_base_cents;not null" json:"vehicle_base_cents"`
	WeekendSurchargeCents int64 `gorm:"column:weekend_surcharge_cents;not null" json:"weekend_surcharge_cents"`
	DurationDiscountCents int64 `gorm:"column:duration_discount_cents;not null" json:"duration_discount_cents"`
	DailyFeesCents        int64 `gorm:"column:daily_fees_cents;not null" json:"daily_fees_cents"`
	SubtotalCents         int64 `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	PSTCents              int64 `gorm:"column:pst_cents;not null" json:"pst_cents"`
	GSTCents              int64 `gorm:"column:gst_cents;not null" json:"gst_cents"`
	TaxCents              int64 `gorm:"column:tax_cents;not null" json:"tax_cents"`
	TotalCents            int64 `gorm:"column:total_cents;not null" json:"total_cents"`

	LockedAt  time.Time `gorm:"column:locked_at;not null" json:"locked_at"`
	CreatedAt time.Time `gorm:"column:createdAt" json:"createdAt"`
}

func (PricingSnapshot) TableName() string {
	return "PricingSnapshots"
}

func (s *PricingSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.SnapshotID == uuid.Nil {
		s.SnapshotID = uuid.New()
	}
	return nil
}
