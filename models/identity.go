package models

// Role is the portal a caller is signed into.
type Role string

const (
	RolePatient   Role = "patient"
	RoleDoctor    Role = "doctor"
	RoleNurse     Role = "nurse"
	RoleLab       Role = "lab"
	RolePharmacy  Role = "pharmacy"
	RoleBilling   Role = "billing"
	RoleReception Role = "reception"
	RoleAdmin     Role = "admin"
)

var knownRoles = map[Role]bool{
	RolePatient: true, RoleDoctor: true, RoleNurse: true, RoleLab: true,
	RolePharmacy: true, RoleBilling: true, RoleReception: true, RoleAdmin: true,
}

// Valid reports whether r is one of the hospital portals.
func (r Role) Valid() bool { return knownRoles[r] }

// IsStaff is true for every role except patient.
func (r Role) IsStaff() bool { return r.Valid() && r != RolePatient }

// Caller is the authenticated identity supplied by the session middleware.
type Caller struct {
	UserID string
	Role   Role
}

// CanAccessPatient reports whether the caller may read the billing data of patientID.
// Staff may read any patient; a patient only their own.
func (c Caller) CanAccessPatient(patientID string) bool {
	if c.Role.IsStaff() {
		return true
	}
	return c.Role == RolePatient && c.UserID != "" && c.UserID == patientID
}

// HasRole reports whether the caller holds one of roles.
func (c Caller) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}
