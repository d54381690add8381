package model

import "time"

// Role is the portal role of a user. It is fixed when the account is created.
type Role string

const (
	RoleAdmin     Role = "Admin"
	RoleVolunteer Role = "Volunteer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleVolunteer
}

// DateLayout is the wire format of Session.DateOfSession.
const DateLayout = "2006-01-02"

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID    string
	Role  Role
	Email string
}

// User is an Admin or a Volunteer account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	Role         Role      `json:"role"`
	IsAvailable  bool      `json:"isAvailable"`
	JoinDate     time.Time `json:"joinDate"`
	Attended     []string  `json:"attended"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserPatch carries optional user field updates; nil fields are left untouched.
type UserPatch struct {
	Username     *string
	Email        *string
	Phone        *string
	Address      *string
	PasswordHash *string
	IsAvailable  *bool
}

// VolunteerRef is a volunteer reference resolved to its display fields.
// Fields the caller did not ask for are left empty.
type VolunteerRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// AttendanceRecord is one volunteer's presence flag inside a session roster.
type AttendanceRecord struct {
	Volunteer VolunteerRef `json:"volunteer"`
	IsPresent bool         `json:"isPresent"`
}

// Session is a scheduled visit to a school.
type Session struct {
	ID                       string             `json:"id"`
	Name                     string             `json:"name"`
	Address                  string             `json:"address"`
	DateOfSession            time.Time          `json:"dateOfSession"`
	Class                    string             `json:"class"`
	ExpectedNumberOfStudents int                `json:"expectedNumberOfStudents"`
	NumberOfVolunteer        int                `json:"numberOfVolunteer"`
	Remarks                  *string            `json:"remarks,omitempty"`
	Volunteers               []AttendanceRecord `json:"volunteers"`
	CreatedAt                time.Time          `json:"createdAt"`
}

// Record returns the roster entry for volunteerID, if any.
func (s *Session) Record(volunteerID string) (AttendanceRecord, bool) {
	for _, rec := range s.Volunteers {
		if rec.Volunteer.ID == volunteerID {
			return rec, true
		}
	}
	return AttendanceRecord{}, false
}

// SessionPatch carries optional session field updates; nil fields are left untouched.
type SessionPatch struct {
	Name                     *string
	Address                  *string
	DateOfSession            *time.Time
	Class                    *string
	ExpectedNumberOfStudents *int
	NumberOfVolunteer        *int
	Remarks                  *string
}

// Empty reports whether the patch changes nothing.
func (p SessionPatch) Empty() bool {
	return p.Name == nil && p.Address == nil && p.DateOfSession == nil && p.Class == nil &&
		p.ExpectedNumberOfStudents == nil && p.NumberOfVolunteer == nil && p.Remarks == nil
}

// SessionSummary is the history projection of a session.
type SessionSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	DateOfSession time.Time `json:"dateOfSession"`
}

// VolunteerStats is a volunteer listed with the number of sessions attended.
type VolunteerStats struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	IsAvailable      bool   `json:"isAvailable"`
	SessionsAttended int    `json:"sessionsAttended"`
}

// Profile is the caller's own account view.
type Profile struct {
	User
	SessionsAttended int `json:"sessionsAttended"`
}

// TaskState is the progress of an assigned task.
type TaskState string

const (
	TaskPending    TaskState = "Pending"
	TaskInProgress TaskState = "In Progress"
	TaskCompleted  TaskState = "Completed"
)

// Task is a piece of work assigned to a volunteer by an admin.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	AssignedTo   string    `json:"assignedTo"`
	DateAssigned time.Time `json:"dateAssigned"`
	State        TaskState `json:"state"`
	Failed       bool      `json:"failed"`
}
