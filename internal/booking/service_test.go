package booking

import (
	"context"
	"testing"
	"time"

	"rentline-backend/internal/domain"
	"rentline-backend/internal/fleet"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

type fakeReleaser struct {
	calls    int
	released bool
}

func (f *fakeReleaser) ReleaseHold(ctx context.Context, bookingID uuid.UUID, reason string, bypass bool) (bool, bool, error) {
	f.calls++
	if f.released {
		return false, true, nil
	}
	f.released = true
	return true, false, nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) BookingEvent(ctx context.Context, event string, b *domain.Booking) {
	f.events = append(f.events, event)
}

type bookingFixture struct {
	svc      *Service
	fleet    *fleet.Service
	db       *gorm.DB
	releaser *fakeReleaser
	notifier *fakeNotifier
	cat      *domain.VehicleCategory
	loc      *domain.Location
}

func setupBookingTest(t *testing.T) *bookingFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Location{}, &domain.VehicleCategory{}, &domain.VehicleUnit{},
		&domain.Booking{}, &domain.ReservationHold{}, &domain.PricingSnapshot{},
		&domain.StepCompletion{}, &domain.AuditLog{},
	))

	fleetSvc := &fleet.Service{DB: db}
	releaser := &fakeReleaser{}
	notifier := &fakeNotifier{}
	svc := &Service{DB: db, Fleet: fleetSvc, Deposits: releaser, Notify: notifier}

	cat := &domain.VehicleCategory{Code: "CMP", Name: "Compact", DailyRateCents: 10000, CleaningBufferHrs: 2}
	require.NoError(t, db.Create(cat).Error)
	loc := &domain.Location{Code: "YVR", Name: "Vancouver Airport", City: "Vancouver"}
	require.NoError(t, db.Create(loc).Error)
	for _, vin := range []string{"3HGCM82633A200001", "3HGCM82633A200002"} {
		require.NoError(t, db.Create(&domain.VehicleUnit{
			VIN: vin, Plate: "BC-" + vin[len(vin)-4:], CategoryID: cat.CategoryID,
			LocationID: loc.LocationID, Status: domain.UnitAvailable,
		}).Error)
	}

	return &bookingFixture{svc: svc, fleet: fleetSvc, db: db, releaser: releaser, notifier: notifier, cat: cat, loc: loc}
}

// Monday pickup, 3 whole days, no weekend overlap.
func (f *bookingFixture) quoteReq() QuoteRequest {
	return QuoteRequest{
		CategoryID: f.cat.CategoryID,
		StartAt:    time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC),
		EndAt:      time.Date(2026, 4, 9, 10, 0, 0, 0, time.UTC),
	}
}

func (f *bookingFixture) checkout(t *testing.T) *domain.Booking {
	t.Helper()
	req := f.quoteReq()
	hold, err := f.fleet.HoldCategory(context.Background(), f.cat.CategoryID, f.loc.LocationID,
		req.StartAt, req.EndAt, "sess-test", 0)
	require.NoError(t, err)
	b, err := f.svc.Checkout(context.Background(), CheckoutInput{
		HoldID:        hold.HoldID,
		CustomerName:  "Dana Ortiz",
		CustomerEmail: "dana@example.com",
		QuoteRequest:  req,
	})
	require.NoError(t, err)
	return b
}

func TestCheckout_CreatesPendingBookingAndConsumesHold(t *testing.T) {
	f := setupBookingTest(t)
	b := f.checkout(t)

	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, domain.ReturnNotStarted, b.ReturnState)
	assert.NotEmpty(t, b.Code)
	assert.Positive(t, b.TotalCents)
	assert.Nil(t, b.PricingSnapshotID, "checkout quote is unlocked")

	var hold domain.ReservationHold
	require.NoError(t, f.db.First(&hold).Error)
	require.NotNil(t, hold.ConsumedByBookingID)
	assert.Equal(t, b.BookingID, *hold.ConsumedByBookingID)

	var steps domain.StepCompletion
	require.NoError(t, f.db.Where("booking_id = ?", b.BookingID).First(&steps).Error)
	assert.False(t, steps.IdentityVerified)
}

func TestCheckout_HoldMismatchRejected(t *testing.T) {
	f := setupBookingTest(t)
	req := f.quoteReq()
	hold, err := f.fleet.HoldCategory(context.Background(), f.cat.CategoryID, f.loc.LocationID,
		req.StartAt, req.EndAt, "sess-test", 0)
	require.NoError(t, err)

	// Dates shifted after the hold was taken.
	shifted := req
	shifted.StartAt = req.StartAt.AddDate(0, 0, 1)
	shifted.EndAt = req.EndAt.AddDate(0, 0, 1)
	_, err = f.svc.Checkout(context.Background(), CheckoutInput{
		HoldID:        hold.HoldID,
		CustomerName:  "Dana Ortiz",
		CustomerEmail: "dana@example.com",
		QuoteRequest:  shifted,
	})
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestCheckout_ExpiredHoldRejected(t *testing.T) {
	f := setupBookingTest(t)
	req := f.quoteReq()
	hold, err := f.fleet.HoldCategory(context.Background(), f.cat.CategoryID, f.loc.LocationID,
		req.StartAt, req.EndAt, "sess-test", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.ReservationHold{}).Where("hold_id = ?", hold.HoldID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err = f.svc.Checkout(context.Background(), CheckoutInput{
		HoldID:        hold.HoldID,
		CustomerName:  "Dana Ortiz",
		CustomerEmail: "dana@example.com",
		QuoteRequest:  req,
	})
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// Nothing half-created.
	var bookings int64
	require.NoError(t, f.db.Model(&domain.Booking{}).Count(&bookings).Error)
	assert.Equal(t, int64(0), bookings)
}

func TestLockPricing_SnapshotImmutableAcrossEdit(t *testing.T) {
	f := setupBookingTest(t)
	b := f.checkout(t)

	snap, err := f.svc.LockPricing(context.Background(), b.BookingID, QuoteRequest{}, nil)
	require.NoError(t, err)
	lockedTotal := snap.TotalCents

	// Edit the dates: the pointer clears, the snapshot row does not change.
	newEnd := b.EndAt.AddDate(0, 0, 2)
	edited, err := f.svc.Edit(context.Background(), b.BookingID, EditInput{EndAt: &newEnd})
	require.NoError(t, err)
	assert.Nil(t, edited.PricingSnapshotID)

	var stored domain.PricingSnapshot
	require.NoError(t, f.db.Where("snapshot_id = ?", snap.SnapshotID).First(&stored).Error)
	assert.Equal(t, lockedTotal, stored.TotalCents)

	// Re-lock points at a new row; the old snapshot survives for audit.
	snap2, err := f.svc.LockPricing(context.Background(), b.BookingID, QuoteRequest{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, snap.SnapshotID, snap2.SnapshotID)
	assert.Greater(t, snap2.TotalCents, lockedTotal, "two more days cost more")

	var count int64
	require.NoError(t, f.db.Model(&domain.PricingSnapshot{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestConfirm_RequiresLockedPricing(t *testing.T) {
	f := setupBookingTest(t)
	b := f.checkout(t)

	_, err := f.svc.Confirm(context.Background(), b.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	_, err = f.svc.LockPricing(context.Background(), b.BookingID, QuoteRequest{}, nil)
	require.NoError(t, err)

	got, err := f.svc.Confirm(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.Contains(t, f.notifier.events, "booking.confirmed")

	// Confirming again is a no-op, not an error.
	again, err := f.svc.Confirm(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, again.Status)
}

func TestEdit_ActiveBookingRejected(t *testing.T) {
	f := setupBookingTest(t)
	b := f.checkout(t)
	require.NoError(t, f.db.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Update("status", domain.BookingActive).Error)

	newEnd := b.EndAt.AddDate(0, 0, 1)
	_, err := f.svc.Edit(context.Background(), b.BookingID, EditInput{EndAt: &newEnd})
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestCancel_ReleasesUnitAndDepositOnce(t *testing.T) {
	f := setupBookingTest(t)
	b := f.checkout(t)
	_, err := f.svc.LockPricing(context.Background(), b.BookingID, QuoteRequest{}, nil)
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	_, err = f.fleet.AssignUnit(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Update("deposit_status", string(domain.HoldAuthorized)).Error)

	got, err := f.svc.Cancel(context.Background(), b.BookingID, "customer request", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	assert.Nil(t, got.UnitID)
	assert.Equal(t, 1, f.releaser.calls)

	var u domain.VehicleUnit
	require.NoError(t, f.db.Where("current_booking_id IS NULL AND status = ?", domain.UnitAvailable).First(&u).Error)

	// Idempotent: a second cancel neither errors nor re-releases.
	again, err := f.svc.Cancel(context.Background(), b.BookingID, "duplicate click", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, again.Status)
	assert.Equal(t, 1, f.releaser.calls)
}

func TestCancel_ActiveBookingRejected(t *testing.T) {
	f := setupBookingTest(t)
	b := f.checkout(t)
	require.NoError(t, f.db.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Update("status", domain.BookingActive).Error)

	_, err := f.svc.Cancel(context.Background(), b.BookingID, "too late", nil)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestQuote_BadWindow(t *testing.T) {
	f := setupBookingTest(t)
	req := f.quoteReq()
	req.EndAt = req.StartAt
	_, _, err := f.svc.Quote(context.Background(), req)
	require.Error(t, err)
}
