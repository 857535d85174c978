package constants

// PermissionRoles maps each permission to roles allowed to perform it.
// Finalizing a contract is deliberately narrower than recording return steps
// (separation of duties between the counter agent and the duty manager).
var PermissionRoles = map[string][]string{
	ViewData:        {Agent, Manager, Admin, Superadmin},
	CreateBooking:   {Agent, Manager, Admin, Superadmin},
	EditBooking:     {Agent, Manager, Admin, Superadmin},
	CancelBooking:   {Manager, Admin, Superadmin},
	RecordSteps:     {Agent, Manager, Admin, Superadmin},
	ActivateBooking: {Agent, Manager, Admin, Superadmin},
	BackupActivate:  {Manager, Admin, Superadmin},
	RecordReturn:    {Agent, Manager, Admin, Superadmin},
	FinalizeBooking: {Manager, Admin, Superadmin},
	ManageFleet:     {Manager, Admin, Superadmin},
	CaptureDeposit:  {Manager, Admin, Superadmin},
	ReleaseDeposit:  {Manager, Admin, Superadmin},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
