package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"rentline-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupFleetTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Location{}, &domain.VehicleCategory{}, &domain.VehicleUnit{},
		&domain.Booking{}, &domain.ReservationHold{}, &domain.StepCompletion{},
		&domain.AuditLog{},
	))
	return &Service{DB: db}, db
}

func seedCategory(t *testing.T, db *gorm.DB, rateCents int64, bufferHrs int) *domain.VehicleCategory {
	cat := &domain.VehicleCategory{
		Code:              "CMP-" + uuid.NewString()[:8],
		Name:              "Compact",
		DailyRateCents:    rateCents,
		CleaningBufferHrs: bufferHrs,
	}
	require.NoError(t, db.Create(cat).Error)
	return cat
}

func seedLocation(t *testing.T, db *gorm.DB) *domain.Location {
	loc := &domain.Location{Code: "YVR-" + uuid.NewString()[:8], Name: "Vancouver Airport"}
	require.NoError(t, db.Create(loc).Error)
	return loc
}

func seedUnit(t *testing.T, db *gorm.DB, cat *domain.VehicleCategory, loc *domain.Location, vin string) *domain.VehicleUnit {
	u := &domain.VehicleUnit{
		VIN:        vin,
		Plate:      "BC-" + vin[len(vin)-4:],
		CategoryID: cat.CategoryID,
		LocationID: loc.LocationID,
		Status:     domain.UnitAvailable,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedBooking(t *testing.T, db *gorm.DB, cat *domain.VehicleCategory, loc *domain.Location, start, end time.Time) *domain.Booking {
	b := &domain.Booking{
		Code:          "BK-TEST-" + uuid.NewString()[:8],
		CustomerName:  "Dana Ortiz",
		CustomerEmail: "dana@example.com",
		LocationID:    loc.LocationID,
		CategoryID:    cat.CategoryID,
		StartAt:       start,
		EndAt:         end,
		Status:        domain.BookingConfirmed,
		ReturnState:   domain.ReturnNotStarted,
	}
	require.NoError(t, db.Create(b).Error)
	require.NoError(t, db.Create(&domain.StepCompletion{BookingID: b.BookingID}).Error)
	return b
}

func window(dayOffset, days int) (time.Time, time.Time) {
	start := time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC).AddDate(0, 0, dayOffset)
	return start, start.AddDate(0, 0, days)
}

func TestAssignUnit_LastUnitSingleWinner(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	seedUnit(t, db, cat, loc, "1HGCM82633A004352")

	start, end := window(0, 3)
	b1 := seedBooking(t, db, cat, loc, start, end)
	b2 := seedBooking(t, db, cat, loc, start, end)

	got, err := svc.AssignUnit(context.Background(), b1.BookingID, nil)
	require.NoError(t, err)
	require.NotNil(t, got.UnitID)

	_, err = svc.AssignUnit(context.Background(), b2.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err), "second claim on the last unit must conflict, got %v", err)

	var onRent int64
	require.NoError(t, db.Model(&domain.VehicleUnit{}).Where("status = ?", domain.UnitOnRent).Count(&onRent).Error)
	assert.Equal(t, int64(1), onRent)
}

func TestAssignUnit_Idempotent(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	seedUnit(t, db, cat, loc, "1HGCM82633A004353")

	start, end := window(0, 2)
	b := seedBooking(t, db, cat, loc, start, end)

	first, err := svc.AssignUnit(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	second, err := svc.AssignUnit(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, *first.UnitID, *second.UnitID)
}

func TestAssignUnit_CleaningBufferBlocksAdjacentWindow(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2) // 2h buffer either side
	loc := seedLocation(t, db)
	unit := seedUnit(t, db, cat, loc, "1HGCM82633A004354")

	// Existing rental on the unit ends at start+3d 10:00.
	start, end := window(0, 3)
	prior := seedBooking(t, db, cat, loc, start, end)
	require.NoError(t, db.Model(&domain.Booking{}).Where("booking_id = ?", prior.BookingID).
		Update("unit_id", unit.UnitID).Error)

	// New window starting one hour after the prior drop-off falls inside the
	// padded window and must be rejected.
	tooSoon := seedBooking(t, db, cat, loc, end.Add(1*time.Hour), end.Add(49*time.Hour))
	_, err := svc.AssignUnit(context.Background(), tooSoon.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// Three hours clears the 2h buffer.
	clear := seedBooking(t, db, cat, loc, end.Add(3*time.Hour), end.Add(51*time.Hour))
	got, err := svc.AssignUnit(context.Background(), clear.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, unit.UnitID, *got.UnitID)
}

func TestAssignUnit_TerminalBookingRejected(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	seedUnit(t, db, cat, loc, "1HGCM82633A004355")

	start, end := window(0, 2)
	b := seedBooking(t, db, cat, loc, start, end)
	require.NoError(t, db.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Update("status", domain.BookingCancelled).Error)

	_, err := svc.AssignUnit(context.Background(), b.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestFindAvailable_ActiveHoldShrinksPool(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	seedUnit(t, db, cat, loc, "1HGCM82633A004356")
	seedUnit(t, db, cat, loc, "1HGCM82633A004357")

	start, end := window(0, 3)
	now := time.Now().UTC()

	hold := &domain.ReservationHold{
		CategoryID: cat.CategoryID,
		LocationID: loc.LocationID,
		StartAt:    start,
		EndAt:      end,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
	require.NoError(t, db.Create(hold).Error)

	free, err := svc.FindAvailable(context.Background(), cat.CategoryID, loc.LocationID, start, end)
	require.NoError(t, err)
	assert.Len(t, free, 1)

	// Expired holds free up inventory without any sweeper.
	require.NoError(t, db.Model(&domain.ReservationHold{}).Where("hold_id = ?", hold.HoldID).
		Update("expires_at", now.Add(-time.Minute)).Error)
	free, err = svc.FindAvailable(context.Background(), cat.CategoryID, loc.LocationID, start, end)
	require.NoError(t, err)
	assert.Len(t, free, 2)
}

func TestHoldCategory_PoolExhausted(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	seedUnit(t, db, cat, loc, "1HGCM82633A004358")

	start, end := window(0, 3)

	_, err := svc.HoldCategory(context.Background(), cat.CategoryID, loc.LocationID, start, end, "sess-1", 0)
	require.NoError(t, err)

	// The single unit is spoken for; a second hold must not be granted.
	_, err = svc.HoldCategory(context.Background(), cat.CategoryID, loc.LocationID, start, end, "sess-2", 0)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestConsumeHold_ExpiredAndReplay(t *testing.T) {
	_, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)

	start, end := window(0, 2)
	now := time.Now().UTC()
	hold := &domain.ReservationHold{
		CategoryID: cat.CategoryID,
		LocationID: loc.LocationID,
		StartAt:    start,
		EndAt:      end,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
	require.NoError(t, db.Create(hold).Error)

	bookingID := uuid.New()
	require.NoError(t, ConsumeHold(db, hold.HoldID, bookingID, now))

	// Second consumption of the same hold fails.
	err := ConsumeHold(db, hold.HoldID, uuid.New(), now)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// Expired holds cannot be consumed even if never used.
	expired := &domain.ReservationHold{
		CategoryID: cat.CategoryID,
		LocationID: loc.LocationID,
		StartAt:    start,
		EndAt:      end,
		ExpiresAt:  now.Add(-time.Minute),
	}
	require.NoError(t, db.Create(expired).Error)
	err = ConsumeHold(db, expired.HoldID, uuid.New(), now)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestReleaseUnit_StatusValidation(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	unit := seedUnit(t, db, cat, loc, "1HGCM82633A004359")

	start, end := window(0, 2)
	b := seedBooking(t, db, cat, loc, start, end)
	_, err := svc.AssignUnit(context.Background(), b.BookingID, nil)
	require.NoError(t, err)

	_, err = svc.ReleaseUnit(context.Background(), b.BookingID, domain.UnitStatus("scrapped"), nil)
	require.Error(t, err)

	got, err := svc.ReleaseUnit(context.Background(), b.BookingID, domain.UnitMaintenance, nil)
	require.NoError(t, err)
	assert.Nil(t, got.UnitID)

	var u domain.VehicleUnit
	require.NoError(t, db.Where("unit_id = ?", unit.UnitID).First(&u).Error)
	assert.Equal(t, domain.UnitMaintenance, u.Status)
	assert.Nil(t, u.CurrentBookingID)
}

func TestHoldUnit_PinnedHoldBlocksAssignment(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	unit := seedUnit(t, db, cat, loc, "1HGCM82633A004390")

	start, end := window(0, 3)
	hold, err := svc.HoldUnit(context.Background(), unit.UnitID, start, end, "sess-pin", 0)
	require.NoError(t, err)
	require.NotNil(t, hold.UnitID)
	assert.Equal(t, unit.UnitID, *hold.UnitID)
	assert.Equal(t, cat.CategoryID, hold.CategoryID)

	// The only unit is pinned, so a walk-up booking cannot take it.
	b := seedBooking(t, db, cat, loc, start, end)
	_, err = svc.AssignUnit(context.Background(), b.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// Lapse the hold; the same booking now assigns.
	require.NoError(t, db.Model(&domain.ReservationHold{}).Where("hold_id = ?", hold.HoldID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)
	got, err := svc.AssignUnit(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, unit.UnitID, *got.UnitID)
}

func TestHoldUnit_BusyUnitRejected(t *testing.T) {
	svc, db := setupFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	unit := seedUnit(t, db, cat, loc, "1HGCM82633A004391")

	start, end := window(0, 3)
	prior := seedBooking(t, db, cat, loc, start, end)
	_, err := svc.AssignUnit(context.Background(), prior.BookingID, nil)
	require.NoError(t, err)

	_, err = svc.HoldUnit(context.Background(), unit.UnitID, start, end, "sess-late", 0)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

// Shared-cache DSN so every pooled connection sees one database; a plain
// :memory: DSN gives each connection its own empty schema.
func setupSharedFleetTest(t *testing.T) (*Service, *gorm.DB) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Location{}, &domain.VehicleCategory{}, &domain.VehicleUnit{},
		&domain.Booking{}, &domain.ReservationHold{}, &domain.StepCompletion{},
		&domain.AuditLog{},
	))
	return &Service{DB: db}, db
}

func TestAssignUnit_ConcurrentScarcityOneWinner(t *testing.T) {
	svc, db := setupSharedFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	unit := seedUnit(t, db, cat, loc, "1HGCM82633A004400")

	start, end := window(0, 3)
	const n = 8
	bookings := make([]*domain.Booking, n)
	for i := range bookings {
		bookings[i] = seedBooking(t, db, cat, loc, start, end)
	}

	errs := make([]error, n)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			<-gate
			_, errs[i] = svc.AssignUnit(context.Background(), bookings[i].BookingID, nil)
		}(i)
	}
	close(gate)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, domain.IsConflict(err), "loser got %v", err)
	}
	assert.Equal(t, 1, winners)

	var onRent int64
	require.NoError(t, db.Model(&domain.VehicleUnit{}).
		Where("status = ?", domain.UnitOnRent).Count(&onRent).Error)
	assert.Equal(t, int64(1), onRent)

	var assigned int64
	require.NoError(t, db.Model(&domain.Booking{}).
		Where("unit_id = ?", unit.UnitID).Count(&assigned).Error)
	assert.Equal(t, int64(1), assigned)
}

func TestHoldCategory_ConcurrentLastUnitOneHold(t *testing.T) {
	svc, db := setupSharedFleetTest(t)
	cat := seedCategory(t, db, 10000, 2)
	loc := seedLocation(t, db)
	seedUnit(t, db, cat, loc, "1HGCM82633A004401")

	start, end := window(0, 3)
	const n = 6
	errs := make([]error, n)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			<-gate
			_, errs[i] = svc.HoldCategory(context.Background(), cat.CategoryID, loc.LocationID,
				start, end, "sess-race", 0)
		}(i)
	}
	close(gate)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, domain.IsConflict(err), "loser got %v", err)
	}
	assert.Equal(t, 1, winners)

	// Oversold inserts rolled back: one live hold survives.
	var held int64
	require.NoError(t, db.Model(&domain.ReservationHold{}).
		Where("expires_at > ? AND consumed_by_booking_id IS NULL", time.Now().UTC()).
		Count(&held).Error)
	assert.Equal(t, int64(1), held)
}
