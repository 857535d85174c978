package deposits

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rentline-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeAuthorizer simulates manual-capture intents in memory and counts calls.
type fakeAuthorizer struct {
	intents      map[string]*IntentResult
	seq          int
	createCalls  int
	captureCalls int
	cancelCalls  int
	getCalls     int
	failNext     error
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{intents: map[string]*IntentResult{}}
}

func (f *fakeAuthorizer) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*IntentResult, error) {
	f.createCalls++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.seq++
	in := &IntentResult{
		ID:          fmt.Sprintf("pi_fake_%d", f.seq),
		Status:      "requires_capture", // card confirmed instantly in tests
		AmountCents: amountCents,
	}
	f.intents[in.ID] = in
	return in, nil
}

func (f *fakeAuthorizer) Capture(ctx context.Context, intentID string, amountCents int64) (*IntentResult, error) {
	f.captureCalls++
	in, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("no such intent")
	}
	in.Status = "succeeded"
	in.AmountReceived = amountCents
	return in, nil
}

func (f *fakeAuthorizer) Cancel(ctx context.Context, intentID string) (*IntentResult, error) {
	f.cancelCalls++
	in, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("no such intent")
	}
	in.Status = "canceled"
	return in, nil
}

func (f *fakeAuthorizer) Get(ctx context.Context, intentID string) (*IntentResult, error) {
	f.getCalls++
	in, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("no such intent")
	}
	return in, nil
}

func setupDepositTest(t *testing.T) (*Service, *fakeAuthorizer, *gorm.DB, *domain.Booking) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Booking{}, &domain.DepositHold{}, &domain.StepCompletion{}, &domain.AuditLog{},
	))

	auth := newFakeAuthorizer()
	svc := &Service{DB: db, Authorizer: auth, Currency: "cad"}

	b := &domain.Booking{
		Code:          "BK-DEP-0001",
		CustomerName:  "Dana Ortiz",
		CustomerEmail: "dana@example.com",
		LocationID:    uuid.New(),
		CategoryID:    uuid.New(),
		StartAt:       time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC),
		EndAt:         time.Date(2026, 4, 9, 10, 0, 0, 0, time.UTC),
		Status:        domain.BookingConfirmed,
	}
	require.NoError(t, db.Create(b).Error)
	require.NoError(t, db.Create(&domain.StepCompletion{BookingID: b.BookingID}).Error)
	return svc, auth, db, b
}

func TestCreateHold_AuthorizesAndSyncsBooking(t *testing.T) {
	svc, auth, db, b := setupDepositTest(t)

	res, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)
	assert.Equal(t, domain.HoldAuthorized, res.Hold.Status)
	assert.Equal(t, int64(50000), res.Hold.AmountCents)
	require.NotNil(t, res.Hold.ExpiresAt)
	assert.Equal(t, 1, auth.createCalls)

	var after domain.Booking
	require.NoError(t, db.Where("booking_id = ?", b.BookingID).First(&after).Error)
	require.NotNil(t, after.DepositHoldID)
	assert.Equal(t, string(domain.HoldAuthorized), string(after.DepositStatus))

	var sc domain.StepCompletion
	require.NoError(t, db.Where("booking_id = ?", b.BookingID).First(&sc).Error)
	assert.True(t, sc.PaymentSettled, "authorized deposit settles the payment step")
}

func TestCreateHold_IdempotentWhileInFlight(t *testing.T) {
	svc, auth, _, b := setupDepositTest(t)

	first, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)

	again, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)
	assert.True(t, again.AlreadyExists)
	assert.Equal(t, first.Hold.DepositHoldID, again.Hold.DepositHoldID)
	assert.Equal(t, 1, auth.createCalls, "no duplicate authorization")
}

func TestCreateHold_RearmsFailedHold(t *testing.T) {
	svc, auth, db, b := setupDepositTest(t)

	first, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)
	require.NoError(t, db.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", first.Hold.DepositHoldID).
		Update("status", domain.HoldFailed).Error)

	res, err := svc.CreateHold(context.Background(), b.BookingID, 60000, nil)
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)
	// Same row, fresh intent: one row per booking always.
	assert.Equal(t, first.Hold.DepositHoldID, res.Hold.DepositHoldID)
	assert.Equal(t, int64(60000), res.Hold.AmountCents)
	assert.Equal(t, 2, auth.createCalls)

	var rows int64
	require.NoError(t, db.Model(&domain.DepositHold{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestCreateHold_Validation(t *testing.T) {
	svc, _, db, b := setupDepositTest(t)

	_, err := svc.CreateHold(context.Background(), b.BookingID, 0, nil)
	require.Error(t, err)

	require.NoError(t, db.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Update("status", domain.BookingCancelled).Error)
	_, err = svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestCreateHold_ProcessorFailureSurfaces(t *testing.T) {
	svc, auth, db, b := setupDepositTest(t)
	auth.failNext = errors.New("card network timeout")

	_, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.Error(t, err)
	var ee *domain.ExternalServiceError
	assert.ErrorAs(t, err, &ee)

	var rows int64
	require.NoError(t, db.Model(&domain.DepositHold{}).Count(&rows).Error)
	assert.Equal(t, int64(0), rows, "no local row for a failed create")
}

func TestCaptureHold_PartialReleasesRemainder(t *testing.T) {
	svc, _, db, b := setupDepositTest(t)
	_, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)

	part := int64(12000)
	res, err := svc.CaptureHold(context.Background(), b.BookingID, &part, "fuel not replaced", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), res.CapturedCents)
	assert.Equal(t, int64(38000), res.ReleasedCents)
	assert.Equal(t, domain.HoldCaptured, res.Hold.Status)
	assert.Equal(t, "fuel not replaced", res.Hold.CaptureReason)

	var after domain.Booking
	require.NoError(t, db.Where("booking_id = ?", b.BookingID).First(&after).Error)
	assert.Equal(t, string(domain.HoldCaptured), string(after.DepositStatus))
}

func TestCaptureHold_Guards(t *testing.T) {
	svc, _, _, b := setupDepositTest(t)
	_, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)

	// Reason is mandatory.
	_, err = svc.CaptureHold(context.Background(), b.BookingID, nil, "  ", nil)
	require.Error(t, err)

	// Amount above the hold is invalid.
	over := int64(50001)
	_, err = svc.CaptureHold(context.Background(), b.BookingID, &over, "damage", nil)
	require.Error(t, err)

	// Captured funds cannot be captured again.
	_, err = svc.CaptureHold(context.Background(), b.BookingID, nil, "damage to bumper", nil)
	require.NoError(t, err)
	_, err = svc.CaptureHold(context.Background(), b.BookingID, nil, "again", nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestReleaseHold_IdempotentSingleProcessorCall(t *testing.T) {
	svc, auth, _, b := setupDepositTest(t)
	_, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)

	released, already, err := svc.ReleaseHold(context.Background(), b.BookingID, "rental closed clean", false)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, already)
	assert.Equal(t, 1, auth.cancelCalls)

	released, already, err = svc.ReleaseHold(context.Background(), b.BookingID, "double click", false)
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, already)
	assert.Equal(t, 1, auth.cancelCalls, "replay makes no processor call")
}

func TestReleaseHold_CapturedFundsStay(t *testing.T) {
	svc, _, _, b := setupDepositTest(t)
	_, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)
	_, err = svc.CaptureHold(context.Background(), b.BookingID, nil, "damage", nil)
	require.NoError(t, err)

	_, _, err = svc.ReleaseHold(context.Background(), b.BookingID, "oops", true)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestRefresh_StableSkipsProcessor(t *testing.T) {
	svc, auth, db, b := setupDepositTest(t)
	res, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)

	// authorized is stable: no poll.
	_, err = svc.Refresh(context.Background(), b.BookingID)
	require.NoError(t, err)
	assert.Equal(t, 0, auth.getCalls)

	// Force a transient state, flip the processor side, then poll.
	require.NoError(t, db.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", res.Hold.DepositHoldID).
		Update("status", domain.HoldAuthorizing).Error)
	auth.intents[res.Hold.ProcessorIntentID].Status = "requires_capture"

	hold, err := svc.Refresh(context.Background(), b.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldAuthorized, hold.Status)

	var after domain.Booking
	require.NoError(t, db.Where("booking_id = ?", b.BookingID).First(&after).Error)
	assert.Equal(t, string(domain.HoldAuthorized), string(after.DepositStatus))
}

func TestReconcile_EventReplayIsNoOp(t *testing.T) {
	svc, _, db, b := setupDepositTest(t)
	res, err := svc.CreateHold(context.Background(), b.BookingID, 50000, nil)
	require.NoError(t, err)

	intent := &IntentResult{ID: res.Hold.ProcessorIntentID, Status: "canceled", AmountCents: 50000}
	_, err = svc.reconcile(context.Background(), res.Hold, intent, "evt_001")
	require.NoError(t, err)

	var hold domain.DepositHold
	require.NoError(t, db.Where("deposit_hold_id = ?", res.Hold.DepositHoldID).First(&hold).Error)
	assert.Equal(t, domain.HoldReleased, hold.Status)
	assert.Equal(t, "evt_001", hold.LastEventID)

	// Same event id again: nothing changes even with contradictory payload.
	bogus := &IntentResult{ID: res.Hold.ProcessorIntentID, Status: "succeeded", AmountReceived: 50000}
	_, err = svc.reconcile(context.Background(), &hold, bogus, "evt_001")
	require.NoError(t, err)
	require.NoError(t, db.Where("deposit_hold_id = ?", res.Hold.DepositHoldID).First(&hold).Error)
	assert.Equal(t, domain.HoldReleased, hold.Status)
	assert.Equal(t, int64(0), hold.CapturedCents)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.HoldStatus{
		"requires_payment_method": domain.HoldRequiresPayment,
		"requires_confirmation":   domain.HoldAuthorizing,
		"requires_action":         domain.HoldAuthorizing,
		"processing":              domain.HoldAuthorizing,
		"requires_capture":        domain.HoldAuthorized,
		"succeeded":               domain.HoldCaptured,
		"canceled":                domain.HoldReleased,
		"payment_failed":          domain.HoldFailed,
		"something_new":           domain.HoldFailed,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), in)
	}
}
