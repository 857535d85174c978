package handover

import (
	"context"
	"testing"
	"time"

	"rentline-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) BookingEvent(ctx context.Context, event string, b *domain.Booking) {
	f.events = append(f.events, event)
}

func setupHandoverTest(t *testing.T) (*Service, *gorm.DB, *fakeNotifier) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Booking{}, &domain.StepCompletion{}, &domain.PricingSnapshot{}, &domain.AuditLog{},
	))
	n := &fakeNotifier{}
	return &Service{DB: db, Notify: n}, db, n
}

func seedConfirmed(t *testing.T, db *gorm.DB, delivery bool) *domain.Booking {
	b := &domain.Booking{
		Code:          "BK-HO-" + uuid.NewString()[:8],
		CustomerName:  "Dana Ortiz",
		CustomerEmail: "dana@example.com",
		LocationID:    uuid.New(),
		CategoryID:    uuid.New(),
		StartAt:       time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC),
		EndAt:         time.Date(2026, 4, 9, 10, 0, 0, 0, time.UTC),
		Status:        domain.BookingConfirmed,
		ReturnState:   domain.ReturnNotStarted,
		DeliveryMode:  delivery,
	}
	if delivery {
		b.DeliveryProgress = domain.DeliveryScheduled
	} else {
		b.DeliveryProgress = domain.DeliveryNone
	}
	snapID := uuid.New()
	b.PricingSnapshotID = &snapID
	require.NoError(t, db.Create(b).Error)
	require.NoError(t, db.Create(&domain.StepCompletion{BookingID: b.BookingID}).Error)
	return b
}

func completeAllSteps(t *testing.T, svc *Service, db *gorm.DB, bookingID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.RecordIdentity(ctx, bookingID, IdentityCheck{DocType: "drivers_licence"}, nil)
	require.NoError(t, err)
	_, err = svc.RecordAgreement(ctx, bookingID, AgreementSignature{SignatureRef: "sig-001"}, nil)
	require.NoError(t, err)
	_, err = svc.RecordInspection(ctx, bookingID, Inspection{Checklist: map[string]bool{"tires": true, "lights": true}}, nil)
	require.NoError(t, err)
	_, err = svc.AddPhotos(ctx, bookingID, Photos{Refs: []string{"p1", "p2", "p3", "p4"}}, nil)
	require.NoError(t, err)
	// Payment and unit assignment are owned by other services; set directly.
	require.NoError(t, db.Model(&domain.StepCompletion{}).Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{"payment_settled": true, "unit_assigned": true}).Error)
}

func TestRecordSteps_IdempotentReplay(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	ctx := context.Background()

	first, err := svc.RecordIdentity(ctx, b.BookingID, IdentityCheck{DocType: "drivers_licence"}, nil)
	require.NoError(t, err)
	assert.True(t, first.IdentityVerified)

	// Replay keeps the original doc type and writes no second audit row.
	again, err := svc.RecordIdentity(ctx, b.BookingID, IdentityCheck{DocType: "passport"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "drivers_licence", again.IdentityDocType)

	var audits int64
	require.NoError(t, db.Model(&domain.AuditLog{}).Where("action = ?", "handover.identity_verified").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestRecordIdentity_RequiresDocType(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	_, err := svc.RecordIdentity(context.Background(), b.BookingID, IdentityCheck{}, nil)
	require.Error(t, err)
}

func TestAddPhotos_Cumulative(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	ctx := context.Background()

	sc, err := svc.AddPhotos(ctx, b.BookingID, Photos{Refs: []string{"front", "rear"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sc.PhotoCount)

	sc, err = svc.AddPhotos(ctx, b.BookingID, Photos{Refs: []string{"left", "right"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sc.PhotoCount)

	_, err = svc.AddPhotos(ctx, b.BookingID, Photos{}, nil)
	require.Error(t, err)
}

func TestActivate_GateNamesEveryMissingStep(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)

	_, err := svc.Activate(context.Background(), b.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	for _, step := range []string{"identity check", "payment & deposit", "agreement signature", "vehicle inspection", "handover photos", "unit assignment"} {
		assert.Contains(t, err.Error(), step)
	}
}

func TestActivate_AllStepsDone(t *testing.T) {
	svc, db, n := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	completeAllSteps(t, svc, db, b.BookingID)

	got, err := svc.Activate(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingActive, got.Status)
	require.NotNil(t, got.ActivatedAt)
	assert.Contains(t, n.events, "booking.activated")

	// Replay returns the active booking unchanged.
	again, err := svc.Activate(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingActive, again.Status)
}

func TestActivate_ThreePhotosNotEnough(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	completeAllSteps(t, svc, db, b.BookingID)
	require.NoError(t, db.Model(&domain.StepCompletion{}).Where("booking_id = ?", b.BookingID).
		Updates(map[string]interface{}{"photo_count": 3}).Error)

	_, err := svc.Activate(context.Background(), b.BookingID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handover photos")
}

func TestBackupActivate_ReasonAndPhotoFloor(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	ctx := context.Background()

	// Too-short reason.
	_, err := svc.BackupActivate(ctx, b.BookingID, BackupInput{Reason: "rush"}, nil)
	require.Error(t, err)

	// Proper reason but zero photos.
	_, err = svc.BackupActivate(ctx, b.BookingID, BackupInput{Reason: "terminal offline at counter"}, nil)
	require.Error(t, err)

	_, err = svc.AddPhotos(ctx, b.BookingID, Photos{Refs: []string{"front"}}, nil)
	require.NoError(t, err)

	got, err := svc.BackupActivate(ctx, b.BookingID, BackupInput{Reason: "terminal offline at counter"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingActive, got.Status)

	var sc domain.StepCompletion
	require.NoError(t, db.Where("booking_id = ?", b.BookingID).First(&sc).Error)
	assert.True(t, sc.BackupActivation)
	assert.Equal(t, "terminal offline at counter", sc.BackupReason)

	var audits int64
	require.NoError(t, db.Model(&domain.AuditLog{}).Where("action = ?", "booking.backup_activated").Count(&audits).Error)
	assert.Equal(t, int64(1), audits, "backup activation is recorded distinctly")
}

func TestBackupActivate_DeliveryNeedsArrived(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, true)
	ctx := context.Background()
	_, err := svc.AddPhotos(ctx, b.BookingID, Photos{Refs: []string{"front"}}, nil)
	require.NoError(t, err)

	_, err = svc.BackupActivate(ctx, b.BookingID, BackupInput{Reason: "customer waiting curbside"}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	_, err = svc.SetDeliveryProgress(ctx, b.BookingID, domain.DeliveryEnRoute, nil)
	require.NoError(t, err)
	_, err = svc.SetDeliveryProgress(ctx, b.BookingID, domain.DeliveryArrived, nil)
	require.NoError(t, err)

	got, err := svc.BackupActivate(ctx, b.BookingID, BackupInput{Reason: "customer waiting curbside"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingActive, got.Status)
}

func TestSetDeliveryProgress_NeverBackwards(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, true)
	ctx := context.Background()

	got, err := svc.SetDeliveryProgress(ctx, b.BookingID, domain.DeliveryArrived, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryArrived, got.DeliveryProgress)

	// Regression attempt is a silent no-op.
	got, err = svc.SetDeliveryProgress(ctx, b.BookingID, domain.DeliveryEnRoute, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryArrived, got.DeliveryProgress)

	_, err = svc.SetDeliveryProgress(ctx, b.BookingID, domain.DeliveryProgress("teleported"), nil)
	require.Error(t, err)

	// Counter pickups have no delivery leg.
	counter := seedConfirmed(t, db, false)
	_, err = svc.SetDeliveryProgress(ctx, counter.BookingID, domain.DeliveryEnRoute, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestActivate_PendingConfirmsImplicitly(t *testing.T) {
	svc, db, _ := setupHandoverTest(t)
	b := seedConfirmed(t, db, false)
	completeAllSteps(t, svc, db, b.BookingID)
	require.NoError(t, db.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Update("status", domain.BookingPending).Error)

	got, err := svc.Activate(context.Background(), b.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingActive, got.Status)
	require.NotNil(t, got.ConfirmedAt)

	// Without locked pricing the implicit confirm is refused.
	b2 := seedConfirmed(t, db, false)
	completeAllSteps(t, svc, db, b2.BookingID)
	require.NoError(t, db.Model(&domain.Booking{}).Where("booking_id = ?", b2.BookingID).
		Updates(map[string]interface{}{"status": domain.BookingPending, "pricing_snapshot_id": nil}).Error)
	_, err = svc.Activate(context.Background(), b2.BookingID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}
