package pricing

import (
	"time"

	"rentline-backend/internal/domain"

	"github.com/google/uuid"
)

// AgeBandUnder25 triggers the young-driver daily surcharge.
const AgeBandUnder25 = "under25"

// Rates holds the tariff constants. Percentages are whole percents so the
// engine can stay in integer arithmetic end to end.
type Rates struct {
	WeekendSurchargePct  int // applied to the per-day base for each Sat/Sun day
	WeeklyDiscountPct    int // >= WeeklyThresholdDays
	MonthlyDiscountPct   int // >= MonthlyThresholdDays (wins over weekly)
	WeeklyThresholdDays  int
	MonthlyThresholdDays int
	MaxDays              int

	GovernmentLevyCentsPerDay int64
	AccessRecoveryCentsPerDay int64
	YoungDriverCentsPerDay    int64

	PSTPct int
	GSTPct int
}

// DefaultRates is the BC tariff the business runs on.
var DefaultRates = Rates{
	WeekendSurchargePct:  15,
	WeeklyDiscountPct:    10,
	MonthlyDiscountPct:   20,
	WeeklyThresholdDays:  7,
	MonthlyThresholdDays: 30,
	MaxDays:              30,

	GovernmentLevyCentsPerDay: 150,
	AccessRecoveryCentsPerDay: 95,
	YoungDriverCentsPerDay:    1500,

	PSTPct: 7,
	GSTPct: 5,
}

// QuoteInput is everything a price depends on. Identical inputs always yield
// an identical Breakdown.
type QuoteInput struct {
	DailyRateCents        int64
	TotalDays             int
	PickupDate            time.Time
	DriverAgeBand         string // "" or AgeBandUnder25
	ProtectionCentsPerDay int64
	AddOnsCents           int64
	UpgradeFeeCentsPerDay int64
}

// Breakdown is the computed price, all amounts in cents. Line items are
// rounded for display; Total is rounded exactly once from the unrounded sum,
// so Total is authoritative and SubtotalCents+TaxCents may differ by a cent.
type Breakdown struct {
	VehicleBaseCents      int64 `json:"vehicle_base_cents"`
	WeekendSurchargeCents int64 `json:"weekend_surcharge_cents"`
	DurationDiscountCents int64 `json:"duration_discount_cents"`
	DailyFeesCents        int64 `json:"daily_fees_cents"`
	SubtotalCents         int64 `json:"subtotal_cents"`
	PSTCents              int64 `json:"pst_cents"`
	GSTCents              int64 `json:"gst_cents"`
	TaxCents              int64 `json:"tax_cents"`
	TotalCents            int64 `json:"total_cents"`
}

// Compute prices a rental. Pure: no clock, no randomness, no I/O.
func Compute(in QuoteInput, r Rates) (*Breakdown, error) {
	if in.TotalDays < 1 {
		return nil, domain.Validationf("rental must be at least 1 day")
	}
	if in.TotalDays > r.MaxDays {
		return nil, domain.Validationf("rental duration %d days exceeds maximum of %d days", in.TotalDays, r.MaxDays)
	}
	if in.DailyRateCents <= 0 {
		return nil, domain.Validationf("daily rate must be positive")
	}
	if in.ProtectionCentsPerDay < 0 || in.AddOnsCents < 0 || in.UpgradeFeeCentsPerDay < 0 {
		return nil, domain.Validationf("optional amounts must not be negative")
	}

	days := int64(in.TotalDays)
	weekendDays := int64(countWeekendDays(in.PickupDate, in.TotalDays))

	// Exact integer arithmetic on scaled numerators. base is cents; surcharge
	// carries /100; discount /10_000; tax lines /1_000_000.
	baseC := in.DailyRateCents * days
	surcharge100 := in.DailyRateCents * int64(r.WeekendSurchargePct) * weekendDays

	discountPct := int64(0)
	switch {
	case in.TotalDays >= r.MonthlyThresholdDays:
		discountPct = int64(r.MonthlyDiscountPct)
	case in.TotalDays >= r.WeeklyThresholdDays:
		discountPct = int64(r.WeeklyDiscountPct)
	}
	// Tiered discount applies to the vehicle portion (base + weekend surcharge);
	// daily fees accrue regardless.
	discount10k := (baseC*100 + surcharge100) * discountPct

	feesPerDay := r.GovernmentLevyCentsPerDay + r.AccessRecoveryCentsPerDay
	if in.DriverAgeBand == AgeBandUnder25 {
		feesPerDay += r.YoungDriverCentsPerDay
	}
	feesC := feesPerDay * days

	flatC := feesC + in.AddOnsCents + in.ProtectionCentsPerDay*days + in.UpgradeFeeCentsPerDay*days

	subtotal10k := baseC*10_000 + surcharge100*100 - discount10k + flatC*10_000
	pst1m := subtotal10k * int64(r.PSTPct)
	gst1m := subtotal10k * int64(r.GSTPct)
	total1m := subtotal10k*100 + pst1m + gst1m

	return &Breakdown{
		VehicleBaseCents:      baseC,
		WeekendSurchargeCents: divRound(surcharge100, 100),
		DurationDiscountCents: divRound(discount10k, 10_000),
		DailyFeesCents:        feesC,
		SubtotalCents:         divRound(subtotal10k, 10_000),
		PSTCents:              divRound(pst1m, 1_000_000),
		GSTCents:              divRound(gst1m, 1_000_000),
		TaxCents:              divRound(pst1m+gst1m, 1_000_000),
		TotalCents:            divRound(total1m, 1_000_000),
	}, nil
}

// Snapshot freezes a breakdown into a persistable row. The caller owns the
// transaction; pricing never touches storage.
func Snapshot(bookingID uuid.UUID, in QuoteInput, bd *Breakdown, lockedAt time.Time) *domain.PricingSnapshot {
	return &domain.PricingSnapshot{
		BookingID:             bookingID,
		DailyRateCents:        in.DailyRateCents,
		TotalDays:             in.TotalDays,
		PickupDate:            in.PickupDate,
		DriverAgeBand:         in.DriverAgeBand,
		ProtectionCentsPD:     in.ProtectionCentsPerDay,
		AddOnsCents:           in.AddOnsCents,
		UpgradeFeeCentsPD:     in.UpgradeFeeCentsPerDay,
		VehicleBaseCents:      bd.VehicleBaseCents,
		WeekendSurchargeCents: bd.WeekendSurchargeCents,
		DurationDiscountCents: bd.DurationDiscountCents,
		DailyFeesCents:        bd.DailyFeesCents,
		SubtotalCents:         bd.SubtotalCents,
		PSTCents:              bd.PSTCents,
		GSTCents:              bd.GSTCents,
		TaxCents:              bd.TaxCents,
		TotalCents:            bd.TotalCents,
		LockedAt:              lockedAt,
	}
}

func countWeekendDays(pickup time.Time, days int) int {
	n := 0
	for i := 0; i < days; i++ {
		wd := pickup.AddDate(0, 0, i).Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			n++
		}
	}
	return n
}

// divRound divides with half-up rounding (amounts are non-negative here).
func divRound(num, den int64) int64 {
	return (num + den/2) / den
}
