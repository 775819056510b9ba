package engine

// Role is the capability a user holds in the surrounding application. The
// engine only uses it to check who may be a client or a teacher on a booking.
type Role string

const (
	RoleDirector   Role = "director"
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDirector, RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// IsStaff reports whether the role administers bookings and terms.
func (r Role) IsStaff() bool {
	return r == RoleDirector || r == RoleSuperAdmin || r == RoleAdmin
}

type User struct {
	ID        UserID
	FirstName string
	LastName  string
	Email     string
	Role      Role
}

func (u User) FullName() string { return u.FirstName + " " + u.LastName }

// Child is a student booked for by their parent, who is the paying client.
type Child struct {
	ID        ChildID
	FirstName string
	LastName  string
	ParentID  UserID
}

// checkChild verifies an optional child belongs to clientID.
func checkChild(child *Child, clientID UserID) error {
	if child != nil && child.ParentID != clientID {
		return &FieldError{Field: "child", Code: CodeChildNotOwned}
	}
	return nil
}
