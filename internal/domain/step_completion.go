package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StepCompletion records which handover/return checklist steps a booking has
// satisfied. One row per booking. The row gates transitions (predicates are
// read from it); it never drives them directly.
//
// Each ops step has its own typed fields rather than a generic string-keyed
// map, so the activation gate can check them exhaustively.
type StepCompletion struct {
	StepCompletionID uuid.UUID `gorm:"column:step_completion_id;type:uuid;primaryKey" json:"step_completion_id"`
	BookingID        uuid.UUID `gorm:"column:booking_id;type:uuid;not null;uniqueIndex" json:"booking_id"`

	// Identity check.
	IdentityVerified bool   `gorm:"column:identity_verified;not null;default:false" json:"identity_verified"`
	IdentityDocType  string `gorm:"column:identity_doc_type;type:varchar(32)" json:"identity_doc_type"`

	// Payment & deposit (set by the deposit orchestrator when authorized).
	PaymentSettled bool `gorm:"column:payment_settled;not null;default:false" json:"payment_settled"`

	// Rental agreement signature.
	AgreementSigned bool   `gorm:"column:agreement_signed;not null;default:false" json:"agreement_signed"`
	SignatureRef    string `gorm:"column:signature_ref" json:"signature_ref"`

	// Pre-handover vehicle inspection.
	InspectionDone      bool           `gorm:"column:inspection_done;not null;default:false" json:"inspection_done"`
	InspectionChecklist datatypes.JSON `gorm:"column:inspection_checklist;type:jsonb" json:"inspection_checklist"`

	// Handover photo evidence (external storage refs).
	HandoverPhotos datatypes.JSON `gorm:"column:handover_photos;type:jsonb" json:"handover_photos"`
	PhotoCount     int            `gorm:"column:photo_count;not null;default:0" json:"photo_count"`

	// Unit assignment (set by the fleet service).
	UnitAssigned bool `gorm:"column:unit_assigned;not null;default:false" json:"unit_assigned"`

	// Return workflow stamps: one {state, actor_id, at} entry per transition.
	ReturnStamps    datatypes.JSON `gorm:"column:return_stamps;type:jsonb" json:"return_stamps"`
	ReturnException bool           `gorm:"column:return_exception;not null;default:false" json:"return_exception"`
	ExceptionReason string         `gorm:"column:exception_reason" json:"exception_reason"`

	// Backup activation record, distinct from normal activation.
	BackupActivation bool   `gorm:"column:backup_activation;not null;default:false" json:"backup_activation"`
	BackupReason     string `gorm:"column:backup_reason" json:"backup_reason"`

	CreatedAt time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (StepCompletion) TableName() string {
	return "StepCompletions"
}

func (s *StepCompletion) BeforeCreate(tx *gorm.DB) error {
	if s.StepCompletionID == uuid.Nil {
		s.StepCompletionID = uuid.New()
	}
	return nil
}
