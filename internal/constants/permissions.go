package constants

// Roles for staff accounts.
const (
	Agent      = "agent"
	Manager    = "manager"
	Admin      = "admin"
	Superadmin = "superadmin"
)

// Permissions gating privileged operations.
const (
	ViewData        = "view_data"
	CreateBooking   = "create_booking"
	EditBooking     = "edit_booking"
	CancelBooking   = "cancel_booking"
	RecordSteps     = "record_steps"
	ActivateBooking = "activate_booking"
	BackupActivate  = "backup_activate"
	RecordReturn    = "record_return"
	FinalizeBooking = "finalize_booking"
	ManageFleet     = "manage_fleet"
	CaptureDeposit  = "capture_deposit"
	ReleaseDeposit  = "release_deposit"
)
