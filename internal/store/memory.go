package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"volunteerportal/internal/model"
)

type rosterEntry struct {
	volunteerID string
	present     bool
}

type memSession struct {
	session model.Session
	roster  []rosterEntry
}

// Memory is a mutex-guarded repository for dev/testing. Every operation is
// serialized, which gives the same atomicity as the Postgres transactions.
type Memory struct {
	mu        sync.Mutex
	users     map[string]*model.User
	userOrder []string
	attended  map[string][]string
	sessions  map[string]*memSession
	order     []string
	tasks     []model.Task
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*model.User),
		attended: make(map[string][]string),
		sessions: make(map[string]*memSession),
	}
}

func (m *Memory) copyUser(u *model.User) *model.User {
	out := *u
	out.Attended = append([]string{}, m.attended[u.ID]...)
	return &out
}

func (m *Memory) copySession(ms *memSession) *model.Session {
	out := ms.session
	if ms.session.Remarks != nil {
		r := *ms.session.Remarks
		out.Remarks = &r
	}
	out.Volunteers = make([]model.AttendanceRecord, 0, len(ms.roster))
	for _, e := range ms.roster {
		ref := model.VolunteerRef{ID: e.volunteerID}
		if u, ok := m.users[e.volunteerID]; ok {
			ref.Username, ref.Email, ref.Phone, ref.Address, ref.Role = u.Username, u.Email, u.Phone, u.Address, u.Role
		}
		out.Volunteers = append(out.Volunteers, model.AttendanceRecord{Volunteer: ref, IsPresent: e.present})
	}
	return &out
}

func (m *Memory) emailTaken(email, exceptID string) bool {
	for id, u := range m.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// CreateUser inserts a user, assigning an id when empty.
func (m *Memory) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailTaken(u.Email, "") {
		return model.ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.JoinDate.IsZero() {
		u.JoinDate = now
	}
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Attended == nil {
		u.Attended = []string{}
	}
	stored := *u
	stored.Attended = nil
	m.users[u.ID] = &stored
	m.userOrder = append(m.userOrder, u.ID)
	return nil
}

// GetUser returns a copy of the user, or nil when absent.
func (m *Memory) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return m.copyUser(u), nil
}

// FindUserByLogin matches identifier against email (case-insensitive) or
// username. An email match wins over a username match.
func (m *Memory) FindUserByLogin(_ context.Context, identifier string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var byName *model.User
	for _, id := range m.userOrder {
		u := m.users[id]
		if strings.EqualFold(u.Email, identifier) {
			return m.copyUser(u), nil
		}
		if byName == nil && u.Username == identifier {
			byName = u
		}
	}
	if byName == nil {
		return nil, nil
	}
	return m.copyUser(byName), nil
}

// FindUserByUsername returns the oldest user with that username, or nil.
func (m *Memory) FindUserByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.userOrder {
		if u := m.users[id]; u.Username == username {
			return m.copyUser(u), nil
		}
	}
	return nil, nil
}

// EmailExists reports whether any user has the email.
func (m *Memory) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emailTaken(email, ""), nil
}

// ListUsers returns users in creation order, filtered by role when non-empty.
func (m *Memory) ListUsers(_ context.Context, role model.Role) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.User
	for _, id := range m.userOrder {
		u := m.users[id]
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, *m.copyUser(u))
	}
	return out, nil
}

// UpdateUser applies the non-nil patch fields and returns the updated user,
// or nil when absent.
func (m *Memory) UpdateUser(_ context.Context, id string, p model.UserPatch) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	if p.Email != nil && m.emailTaken(*p.Email, id) {
		return nil, model.ErrDuplicateEmail
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.IsAvailable != nil {
		u.IsAvailable = *p.IsAvailable
	}
	u.UpdatedAt = time.Now().UTC()
	return m.copyUser(u), nil
}

// DeleteVolunteer removes the volunteer, its roster records, attended set
// and tasks.
func (m *Memory) DeleteVolunteer(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.Role != model.RoleVolunteer {
		return false, nil
	}
	delete(m.users, id)
	delete(m.attended, id)
	m.userOrder = slices.DeleteFunc(m.userOrder, func(v string) bool { return v == id })
	for _, ms := range m.sessions {
		ms.roster = slices.DeleteFunc(ms.roster, func(e rosterEntry) bool { return e.volunteerID == id })
	}
	m.tasks = slices.DeleteFunc(m.tasks, func(t model.Task) bool { return t.AssignedTo == id })
	return true, nil
}

// CreateSession inserts a session, assigning an id when empty.
func (m *Memory) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTaken(s.Name, "") {
		return model.ErrDuplicateSessionName
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	if s.Volunteers == nil {
		s.Volunteers = []model.AttendanceRecord{}
	}
	stored := *s
	stored.Volunteers = nil
	m.sessions[s.ID] = &memSession{session: stored}
	m.order = append(m.order, s.ID)
	return nil
}

func (m *Memory) nameTaken(name, exceptID string) bool {
	for id, ms := range m.sessions {
		if id != exceptID && ms.session.Name == name {
			return true
		}
	}
	return false
}

// GetSession returns a copy of the session with its roster, or nil.
func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return m.copySession(ms), nil
}

// SessionNameExists reports whether a session already uses name.
func (m *Memory) SessionNameExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nameTaken(name, ""), nil
}

// ListSessions returns every session, latest date first, ties in creation order.
func (m *Memory) ListSessions(_ context.Context) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.copySession(m.sessions[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateOfSession.After(out[j].DateOfSession)
	})
	return out, nil
}

// UpdateSession applies the non-nil patch fields. It reports false when the
// session does not exist.
func (m *Memory) UpdateSession(_ context.Context, id string, p model.SessionPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	if p.Name != nil && m.nameTaken(*p.Name, id) {
		return false, model.ErrDuplicateSessionName
	}
	s := &ms.session
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.DateOfSession != nil {
		s.DateOfSession = *p.DateOfSession
	}
	if p.Class != nil {
		s.Class = *p.Class
	}
	if p.ExpectedNumberOfStudents != nil {
		s.ExpectedNumberOfStudents = *p.ExpectedNumberOfStudents
	}
	if p.NumberOfVolunteer != nil {
		s.NumberOfVolunteer = *p.NumberOfVolunteer
	}
	if p.Remarks != nil {
		r := *p.Remarks
		s.Remarks = &r
	}
	return true, nil
}

// UpsertAttendance overwrites the record for the volunteer in place or
// appends a new one. The volunteer is checked under the same lock as
// DeleteVolunteer.
func (m *Memory) UpsertAttendance(_ context.Context, sessionID, volunteerID string, present bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if u, ok := m.users[volunteerID]; !ok || u.Role != model.RoleVolunteer {
		return false, model.ErrUnknownVolunteer
	}
	idx := slices.IndexFunc(ms.roster, func(e rosterEntry) bool { return e.volunteerID == volunteerID })
	if idx >= 0 {
		ms.roster[idx].present = present
	} else {
		ms.roster = append(ms.roster, rosterEntry{volunteerID: volunteerID, present: present})
	}
	if present {
		m.addAttended(volunteerID, sessionID)
	}
	return true, nil
}

func (m *Memory) addAttended(userID string, sessionIDs ...string) {
	if _, ok := m.users[userID]; !ok {
		return
	}
	for _, sid := range sessionIDs {
		if !slices.Contains(m.attended[userID], sid) {
			m.attended[userID] = append(m.attended[userID], sid)
		}
	}
}

// CountAttended counts sessions where the volunteer is marked present.
func (m *Memory) CountAttended(_ context.Context, volunteerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ms := range m.sessions {
		for _, e := range ms.roster {
			if e.volunteerID == volunteerID && e.present {
				n++
			}
		}
	}
	return n, nil
}

// AttendanceCounts returns the present count of every volunteer with at
// least one present record.
func (m *Memory) AttendanceCounts(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, ms := range m.sessions {
		for _, e := range ms.roster {
			if e.present {
				counts[e.volunteerID]++
			}
		}
	}
	return counts, nil
}

// ListAttended returns the sessions where the volunteer is marked present,
// in session creation order.
func (m *Memory) ListAttended(_ context.Context, volunteerID string) ([]model.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.SessionSummary
	for _, id := range m.order {
		ms := m.sessions[id]
		for _, e := range ms.roster {
			if e.volunteerID == volunteerID && e.present {
				s := ms.session
				out = append(out, model.SessionSummary{ID: s.ID, Name: s.Name, Address: s.Address, DateOfSession: s.DateOfSession})
				break
			}
		}
	}
	return out, nil
}

// AddAttended adds sessionIDs to the volunteer's attended set.
func (m *Memory) AddAttended(_ context.Context, volunteerID string, sessionIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAttended(volunteerID, sessionIDs...)
	return nil
}

// CreateTask inserts a task, assigning an id when empty.
func (m *Memory) CreateTask(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = model.TaskPending
	}
	m.tasks = append(m.tasks, *t)
	return nil
}

// ListTasks returns the user's tasks, oldest first.
func (m *Memory) ListTasks(_ context.Context, userID string) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Task
	for _, t := range m.tasks {
		if t.AssignedTo == userID {
			out = append(out, t)
		}
	}
	return out, nil
}
