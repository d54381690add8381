package attendance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/authz"
	"volunteerportal/internal/model"
	"volunteerportal/internal/password"
	"volunteerportal/internal/queue"
	"volunteerportal/internal/store"
)

type fakeRecorder struct {
	mu       sync.Mutex
	marks    map[bool]int
	sessions int
	removed  int
	failures map[string]model.Kind
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{marks: map[bool]int{}, failures: map[string]model.Kind{}}
}

func (f *fakeRecorder) AttendanceMarked(present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[present]++
}

func (f *fakeRecorder) SessionCreated() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
}

func (f *fakeRecorder) VolunteerRemoved() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
}

func (f *fakeRecorder) OperationFailed(op string, kind model.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = kind
}

func (f *fakeRecorder) ObserveOperation(string, time.Duration) {}

type fixture struct {
	svc     *attendance.Service
	repo    attendance.Repository
	events  *queue.InMemory
	metrics *fakeRecorder
	admin   model.Actor
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, store.NewMemory(), attendance.Options{})
}

func newFixtureWith(t *testing.T, repo attendance.Repository, opts attendance.Options) *fixture {
	t.Helper()
	enforcer, err := authz.NewEnforcer("")
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	f := &fixture{repo: repo, events: queue.NewInMemory(64), metrics: newFakeRecorder()}
	opts.Events = f.events
	opts.Metrics = f.metrics
	opts.AllowAdminSignup = true
	f.svc = attendance.NewService(repo, enforcer, password.NewBcrypt(bcrypt.MinCost), opts)
	f.admin = f.register(t, "coordinator", model.RoleAdmin)
	return f
}

func (f *fixture) register(t *testing.T, username string, role model.Role) model.Actor {
	t.Helper()
	u, err := f.svc.Register(context.Background(), attendance.RegisterInput{
		Username: username,
		Email:    username + "@ngo.org",
		Password: "secret1",
		Phone:    "555-0100",
		Address:  "1 Main St",
		Role:     string(role),
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", username, err)
	}
	return model.Actor{ID: u.ID, Role: u.Role, Email: u.Email}
}

func (f *fixture) session(t *testing.T, name, date string) *model.Session {
	t.Helper()
	students, volunteers := 30, 3
	s, err := f.svc.CreateSession(context.Background(), f.admin, attendance.CreateSessionInput{
		Name:                     name,
		Address:                  "12 School Rd",
		DateOfSession:            date,
		Class:                    "5",
		ExpectedNumberOfStudents: &students,
		NumberOfVolunteer:        &volunteers,
	})
	if err != nil {
		t.Fatalf("CreateSession(%s) error = %v", name, err)
	}
	return s
}

func (f *fixture) mark(t *testing.T, sessionID, volunteerID string, present bool) *model.Session {
	t.Helper()
	s, err := f.svc.MarkAttendance(context.Background(), f.admin, attendance.MarkInput{
		SessionID: sessionID, VolunteerID: volunteerID, IsPresent: &present,
	})
	if err != nil {
		t.Fatalf("MarkAttendance(%s, %v) error = %v", volunteerID, present, err)
	}
	return s
}

func (f *fixture) count(t *testing.T, volunteerID string) int {
	t.Helper()
	n, err := f.svc.GetAttendanceCount(context.Background(), f.admin, volunteerID)
	if err != nil {
		t.Fatalf("GetAttendanceCount(%s) error = %v", volunteerID, err)
	}
	return n
}

func wantKind(t *testing.T, err error, kind model.Kind) {
	t.Helper()
	if got := model.KindOf(err); got != kind {
		t.Fatalf("error kind = %q (%v), want %q", got, err, kind)
	}
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestHeartlandAcademyScenario(t *testing.T) {
	f := newFixture(t)
	v1 := f.register(t, "vol_one", model.RoleVolunteer)
	v2 := f.register(t, "vol_two", model.RoleVolunteer)
	s := f.session(t, "Heartland Academy", "2024-03-01")

	f.mark(t, s.ID, v1.ID, true)
	got := f.mark(t, s.ID, v2.ID, false)

	if len(got.Volunteers) != 2 {
		t.Fatalf("roster = %+v, want two records", got.Volunteers)
	}
	if r := got.Volunteers[0]; r.Volunteer.ID != v1.ID || !r.IsPresent {
		t.Errorf("first record = %+v, want v1 present", r)
	}
	if r := got.Volunteers[1]; r.Volunteer.ID != v2.ID || r.IsPresent {
		t.Errorf("second record = %+v, want v2 absent", r)
	}
	if ref := got.Volunteers[0].Volunteer; ref.Username != "vol_one" || ref.Email != "vol_one@ngo.org" || ref.Phone != "" {
		t.Errorf("volunteer ref = %+v, want username and email only", ref)
	}
	if n := f.count(t, v1.ID); n != 1 {
		t.Errorf("count(v1) = %d, want 1", n)
	}
	if n := f.count(t, v2.ID); n != 0 {
		t.Errorf("count(v2) = %d, want 0", n)
	}

	f.mark(t, s.ID, v2.ID, true)
	if n := f.count(t, v2.ID); n != 1 {
		t.Errorf("count(v2) after correction = %d, want 1", n)
	}
}

func TestMarkAttendance_Idempotent(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")

	first := f.mark(t, s.ID, v.ID, true)
	second := f.mark(t, s.ID, v.ID, true)

	if len(first.Volunteers) != 1 || len(second.Volunteers) != 1 {
		t.Fatalf("roster sizes = %d, %d, want 1, 1", len(first.Volunteers), len(second.Volunteers))
	}
	if first.Volunteers[0] != second.Volunteers[0] {
		t.Errorf("records differ: %+v vs %+v", first.Volunteers[0], second.Volunteers[0])
	}
}

func TestMarkAttendance_OverwriteKeepsAttended(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")

	f.mark(t, s.ID, v.ID, true)
	got := f.mark(t, s.ID, v.ID, false)

	if len(got.Volunteers) != 1 || got.Volunteers[0].IsPresent {
		t.Fatalf("roster = %+v, want single absent record", got.Volunteers)
	}
	if n := f.count(t, v.ID); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	profile, err := f.svc.GetProfile(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(profile.Attended) != 1 || profile.Attended[0] != s.ID {
		t.Errorf("attended = %v, want [%s] retained", profile.Attended, s.ID)
	}
	if profile.SessionsAttended != 0 {
		t.Errorf("sessionsAttended = %d, want 0", profile.SessionsAttended)
	}
}

func TestGetAttendanceCount_MatchesPresentRecords(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	marks := []bool{true, false, true, true, false}
	for i, present := range marks {
		s := f.session(t, fmt.Sprintf("School %d", i), fmt.Sprintf("2024-01-%02d", i+1))
		f.mark(t, s.ID, v.ID, present)
	}
	if n := f.count(t, v.ID); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	own, err := f.svc.GetAttendanceCount(context.Background(), v, v.ID)
	if err != nil || own != 3 {
		t.Errorf("own count = %d, %v, want 3", own, err)
	}
	other := f.register(t, "vol_two", model.RoleVolunteer)
	_, err = f.svc.GetAttendanceCount(context.Background(), other, v.ID)
	wantKind(t, err, model.KindAuthorization)
}

func TestMarkAttendance_Errors(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")
	ctx := context.Background()

	tests := []struct {
		name  string
		actor model.Actor
		in    attendance.MarkInput
		want  model.Kind
	}{
		{"volunteer caller", v, attendance.MarkInput{SessionID: s.ID, VolunteerID: v.ID, IsPresent: boolPtr(true)}, model.KindAuthorization},
		{"volunteer caller with bad input", v, attendance.MarkInput{}, model.KindAuthorization},
		{"anonymous", model.Actor{}, attendance.MarkInput{SessionID: s.ID, VolunteerID: v.ID, IsPresent: boolPtr(true)}, model.KindAuthorization},
		{"missing session id", f.admin, attendance.MarkInput{VolunteerID: v.ID, IsPresent: boolPtr(true)}, model.KindValidation},
		{"missing flag", f.admin, attendance.MarkInput{SessionID: s.ID, VolunteerID: v.ID}, model.KindValidation},
		{"unknown session", f.admin, attendance.MarkInput{SessionID: "nope", VolunteerID: v.ID, IsPresent: boolPtr(true)}, model.KindNotFound},
		{"unknown volunteer", f.admin, attendance.MarkInput{SessionID: s.ID, VolunteerID: "nope", IsPresent: boolPtr(true)}, model.KindNotFound},
		{"admin as volunteer", f.admin, attendance.MarkInput{SessionID: s.ID, VolunteerID: f.admin.ID, IsPresent: boolPtr(true)}, model.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.MarkAttendance(ctx, tt.actor, tt.in)
			wantKind(t, err, tt.want)
		})
	}

	got, _ := f.repo.GetSession(ctx, s.ID)
	if len(got.Volunteers) != 0 {
		t.Errorf("failed marks changed the roster: %+v", got.Volunteers)
	}
	if f.metrics.failures["mark_attendance"] != model.KindNotFound {
		t.Errorf("last recorded failure = %q", f.metrics.failures["mark_attendance"])
	}
}

func TestMarkAttendance_MissingFieldsListed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkAttendance(context.Background(), f.admin, attendance.MarkInput{})
	var e *model.Error
	if !errors.As(err, &e) || e.Kind != model.KindValidation {
		t.Fatalf("error = %v, want validation", err)
	}
	want := []string{"isPresent", "sessionId", "volunteerId"}
	if fmt.Sprint(e.Fields) != fmt.Sprint(want) {
		t.Errorf("fields = %v, want %v", e.Fields, want)
	}
}

func TestMarkAttendance_ConcurrentVolunteers(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "A", "2024-01-01")
	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, f.register(t, fmt.Sprintf("vol_%d", i), model.RoleVolunteer).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.MarkAttendance(context.Background(), f.admin, attendance.MarkInput{
				SessionID: s.ID, VolunteerID: id, IsPresent: boolPtr(true),
			})
			if err != nil {
				t.Error(err)
			}
		}(id)
	}
	wg.Wait()

	got, _ := f.repo.GetSession(context.Background(), s.ID)
	if len(got.Volunteers) != len(ids) {
		t.Fatalf("roster size = %d, want %d", len(got.Volunteers), len(ids))
	}
	for _, id := range ids {
		if rec, ok := got.Record(id); !ok || !rec.IsPresent {
			t.Errorf("volunteer %s missing or absent", id)
		}
	}
}

func TestMarkAttendance_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")
	f.mark(t, s.ID, v.ID, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, _ := f.events.Consume(ctx)
	select {
	case msg := <-ch:
		evt, err := attendance.DecodeMarked(msg)
		if err != nil {
			t.Fatalf("DecodeMarked() error = %v", err)
		}
		if evt.SessionID != s.ID || evt.VolunteerID != v.ID || !evt.IsPresent || evt.MarkedBy != f.admin.ID {
			t.Errorf("event = %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("no event published")
	}
	if f.metrics.marks[true] != 1 {
		t.Errorf("present marks = %d, want 1", f.metrics.marks[true])
	}
}

func TestGetAttendanceHistory(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	a := f.session(t, "A", "2024-05-01")
	b := f.session(t, "B", "2024-01-01")
	c := f.session(t, "C", "2024-03-01")
	f.mark(t, b.ID, v.ID, true)
	f.mark(t, a.ID, v.ID, true)
	f.mark(t, c.ID, v.ID, false)

	history, err := f.svc.GetAttendanceHistory(context.Background(), v, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].ID != a.ID || history[1].ID != b.ID {
		t.Fatalf("history = %+v, want [A B]", history)
	}
	if history[0].Name != "A" || history[0].Address != "12 School Rd" || history[0].DateOfSession.Format(model.DateLayout) != "2024-05-01" {
		t.Errorf("summary = %+v", history[0])
	}

	empty := f.register(t, "vol_two", model.RoleVolunteer)
	h, err := f.svc.GetAttendanceHistory(context.Background(), empty, empty.ID)
	if err != nil || h == nil || len(h) != 0 {
		t.Errorf("empty history = %v, %v", h, err)
	}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "Heartland Academy", "2024-03-01")
	if s.ID == "" || len(s.Volunteers) != 0 || s.Volunteers == nil {
		t.Errorf("created session = %+v", s)
	}
	if f.metrics.sessions != 1 {
		t.Errorf("sessions created metric = %d", f.metrics.sessions)
	}

	_, err := f.svc.CreateSession(ctx, f.admin, attendance.CreateSessionInput{
		Name: "Heartland Academy", Address: "x", DateOfSession: "2024-04-01", Class: "1",
		ExpectedNumberOfStudents: intPtr(1), NumberOfVolunteer: intPtr(1),
	})
	wantKind(t, err, model.KindConflict)

	_, err = f.svc.CreateSession(ctx, f.admin, attendance.CreateSessionInput{Name: "  ", Class: "1"})
	var e *model.Error
	if !errors.As(err, &e) || e.Kind != model.KindValidation {
		t.Fatalf("error = %v, want validation", err)
	}
	want := "[address dateOfSession expectedNumberOfStudents name numberOfVolunteer]"
	if fmt.Sprint(e.Fields) != want {
		t.Errorf("fields = %v, want %s", e.Fields, want)
	}

	_, err = f.svc.CreateSession(ctx, f.admin, attendance.CreateSessionInput{
		Name: "Bad date", Address: "x", DateOfSession: "01/03/2024", Class: "1",
		ExpectedNumberOfStudents: intPtr(1), NumberOfVolunteer: intPtr(-1),
	})
	wantKind(t, err, model.KindValidation)

	v := f.register(t, "vol_one", model.RoleVolunteer)
	_, err = f.svc.CreateSession(ctx, v, attendance.CreateSessionInput{
		Name: "Volunteer's own", Address: "x", DateOfSession: "2024-04-01", Class: "1",
		ExpectedNumberOfStudents: intPtr(1), NumberOfVolunteer: intPtr(1),
	})
	wantKind(t, err, model.KindAuthorization)
	sessions, err := f.svc.ListSessions(ctx, f.admin)
	if err != nil || len(sessions) != 1 {
		t.Errorf("sessions after denied create = %d, %v, want 1", len(sessions), err)
	}
}

func TestUpdateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "A", "2024-01-01")
	f.session(t, "B", "2024-01-02")

	got, err := f.svc.UpdateSession(ctx, f.admin, s.ID, attendance.UpdateSessionInput{
		ExpectedNumberOfStudents: intPtr(45),
		Remarks:                  strPtr("bring books"),
		Name:                     strPtr(""),
	})
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if got.ExpectedNumberOfStudents != 45 || got.Name != "A" || got.Class != "5" || got.Remarks == nil || *got.Remarks != "bring books" {
		t.Errorf("updated session = %+v", got)
	}

	got, err = f.svc.UpdateSession(ctx, f.admin, s.ID, attendance.UpdateSessionInput{DateOfSession: strPtr("2024-02-02")})
	if err != nil || got.DateOfSession.Format(model.DateLayout) != "2024-02-02" {
		t.Errorf("date update = %+v, %v", got, err)
	}

	_, err = f.svc.UpdateSession(ctx, f.admin, s.ID, attendance.UpdateSessionInput{Name: strPtr("B")})
	wantKind(t, err, model.KindConflict)
	_, err = f.svc.UpdateSession(ctx, f.admin, "missing", attendance.UpdateSessionInput{Class: strPtr("6")})
	wantKind(t, err, model.KindNotFound)
	_, err = f.svc.UpdateSession(ctx, f.admin, "missing", attendance.UpdateSessionInput{})
	wantKind(t, err, model.KindNotFound)
	_, err = f.svc.UpdateSession(ctx, f.admin, s.ID, attendance.UpdateSessionInput{DateOfSession: strPtr("tomorrow")})
	wantKind(t, err, model.KindValidation)
}

func TestUpdateSession_NonAdminChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "A", "2024-01-01")
	v := f.register(t, "vol_one", model.RoleVolunteer)

	for _, actor := range []model.Actor{v, {}} {
		_, err := f.svc.UpdateSession(ctx, actor, s.ID, attendance.UpdateSessionInput{
			Name:                     strPtr("Renamed"),
			ExpectedNumberOfStudents: intPtr(99),
			DateOfSession:            strPtr("2025-01-01"),
		})
		wantKind(t, err, model.KindAuthorization)
	}

	got, err := f.repo.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "A" || got.ExpectedNumberOfStudents != 30 || got.DateOfSession.Format(model.DateLayout) != "2024-01-01" {
		t.Errorf("session changed by denied update: %+v", got)
	}
}

func TestListSessions_ProjectionByRole(t *testing.T) {
	f := newFixture(t)
	v := f.register(t, "vol_one", model.RoleVolunteer)
	older := f.session(t, "Older", "2024-01-01")
	f.session(t, "Newer", "2024-06-01")
	f.mark(t, older.ID, v.ID, true)

	adminView, err := f.svc.ListSessions(context.Background(), f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(adminView) != 2 || adminView[0].Name != "Newer" {
		t.Fatalf("admin view order = %+v", adminView)
	}
	ref := adminView[1].Volunteers[0].Volunteer
	if ref.Phone != "555-0100" || ref.Address != "1 Main St" || ref.Role != model.RoleVolunteer {
		t.Errorf("admin ref = %+v, want full contact", ref)
	}

	volView, err := f.svc.ListSessions(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	ref = volView[1].Volunteers[0].Volunteer
	if ref.Username != "vol_one" || ref.Phone != "" || ref.Role != "" {
		t.Errorf("volunteer ref = %+v, want username and email only", ref)
	}

	_, err = f.svc.ListSessions(context.Background(), model.Actor{})
	wantKind(t, err, model.KindAuthorization)
}

func TestRemoveVolunteer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)
	other := f.register(t, "vol_two", model.RoleVolunteer)
	a := f.session(t, "A", "2024-01-01")
	b := f.session(t, "B", "2024-01-02")
	f.mark(t, a.ID, v.ID, true)
	f.mark(t, b.ID, v.ID, false)
	f.mark(t, a.ID, other.ID, true)

	wantKind(t, f.svc.RemoveVolunteer(ctx, other, v.ID), model.KindAuthorization)
	if n := f.count(t, v.ID); n != 1 {
		t.Fatalf("unauthorized remove changed state, count = %d", n)
	}

	if err := f.svc.RemoveVolunteer(ctx, f.admin, v.ID); err != nil {
		t.Fatalf("RemoveVolunteer() error = %v", err)
	}
	_, err := f.svc.GetAttendanceCount(ctx, f.admin, v.ID)
	wantKind(t, err, model.KindNotFound)

	sessions, _ := f.svc.ListSessions(ctx, f.admin)
	for _, s := range sessions {
		if _, ok := s.Record(v.ID); ok {
			t.Errorf("session %s still references removed volunteer", s.Name)
		}
	}
	if n := f.count(t, other.ID); n != 1 {
		t.Errorf("other volunteer count = %d, want 1", n)
	}

	err = f.svc.RemoveVolunteer(ctx, f.admin, v.ID)
	wantKind(t, err, model.KindNotFound)
	if err.Error() != "not_found: volunteer not found" {
		t.Errorf("message = %q", err.Error())
	}
	wantKind(t, f.svc.RemoveVolunteer(ctx, f.admin, f.admin.ID), model.KindNotFound)
	if f.metrics.removed != 1 {
		t.Errorf("removed metric = %d, want 1", f.metrics.removed)
	}
}

func TestEditVolunteer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)
	f.register(t, "vol_two", model.RoleVolunteer)

	u, err := f.svc.EditVolunteer(ctx, f.admin, v.ID, attendance.EditVolunteerInput{
		Phone:       strPtr("555-0199"),
		Username:    strPtr(" "),
		NewPassword: strPtr("changed1"),
	})
	if err != nil {
		t.Fatalf("EditVolunteer() error = %v", err)
	}
	if u.Phone != "555-0199" || u.Username != "vol_one" {
		t.Errorf("edited user = %+v", u)
	}
	if _, err := f.svc.Authenticate(ctx, attendance.LoginInput{Identifier: "vol_one", Password: "changed1"}); err != nil {
		t.Errorf("login with new password failed: %v", err)
	}
	_, err = f.svc.Authenticate(ctx, attendance.LoginInput{Identifier: "vol_one", Password: "secret1"})
	wantKind(t, err, model.KindAuthorization)

	_, err = f.svc.EditVolunteer(ctx, f.admin, v.ID, attendance.EditVolunteerInput{Email: strPtr("VOL_TWO@ngo.org")})
	wantKind(t, err, model.KindConflict)
	_, err = f.svc.EditVolunteer(ctx, f.admin, v.ID, attendance.EditVolunteerInput{Email: strPtr("not-an-email")})
	wantKind(t, err, model.KindValidation)
	_, err = f.svc.EditVolunteer(ctx, f.admin, f.admin.ID, attendance.EditVolunteerInput{Phone: strPtr("1")})
	wantKind(t, err, model.KindNotFound)
	_, err = f.svc.EditVolunteer(ctx, v, v.ID, attendance.EditVolunteerInput{Phone: strPtr("1")})
	wantKind(t, err, model.KindAuthorization)
}

func TestListVolunteersAndUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.register(t, "vol_one", model.RoleVolunteer)
	v2 := f.register(t, "vol_two", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")
	f.mark(t, s.ID, v1.ID, true)

	stats, err := f.svc.ListVolunteers(ctx, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 || stats[0].ID != v1.ID || stats[0].SessionsAttended != 1 || stats[1].ID != v2.ID || stats[1].SessionsAttended != 0 {
		t.Errorf("stats = %+v", stats)
	}
	users, err := f.svc.ListUsers(ctx, f.admin)
	if err != nil || len(users) != 3 {
		t.Errorf("ListUsers() = %d users, %v", len(users), err)
	}
	_, err = f.svc.ListVolunteers(ctx, v1)
	wantKind(t, err, model.KindAuthorization)
}

func TestSetAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)

	u, err := f.svc.SetAvailability(ctx, v, attendance.AvailabilityInput{IsAvailable: boolPtr(false)})
	if err != nil || u.IsAvailable {
		t.Fatalf("SetAvailability() = %+v, %v", u, err)
	}
	_, err = f.svc.SetAvailability(ctx, v, attendance.AvailabilityInput{})
	wantKind(t, err, model.KindValidation)

	ghost := model.Actor{ID: "ghost", Role: model.RoleVolunteer}
	_, err = f.svc.SetAvailability(ctx, ghost, attendance.AvailabilityInput{IsAvailable: boolPtr(true)})
	wantKind(t, err, model.KindNotFound)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)

	_, err := f.svc.Register(ctx, attendance.RegisterInput{
		Username: "someone", Email: "VOL_ONE@ngo.org", Password: "secret1", Phone: "1", Address: "x",
	})
	wantKind(t, err, model.KindConflict)

	_, err = f.svc.Register(ctx, attendance.RegisterInput{
		Username: "a-b", Email: "ab@ngo.org", Password: "123", Phone: "1", Address: "x",
	})
	var e *model.Error
	if !errors.As(err, &e) || fmt.Sprint(e.Fields) != "[password username]" {
		t.Errorf("register validation = %v", err)
	}

	for _, id := range []string{"vol_one", "vol_one@ngo.org", "VOL_ONE@NGO.ORG"} {
		u, err := f.svc.Authenticate(ctx, attendance.LoginInput{Identifier: id, Password: "secret1"})
		if err != nil || u.ID != v.ID {
			t.Errorf("Authenticate(%q) = %v, %v", id, u, err)
		}
	}
	_, err = f.svc.Authenticate(ctx, attendance.LoginInput{Identifier: "nobody", Password: "secret1"})
	wantKind(t, err, model.KindAuthorization)
}

func TestRegister_AdminSignupDisabled(t *testing.T) {
	enforcer, _ := authz.NewEnforcer("")
	svc := attendance.NewService(store.NewMemory(), enforcer, password.NewBcrypt(bcrypt.MinCost), attendance.Options{})
	_, err := svc.Register(context.Background(), attendance.RegisterInput{
		Username: "boss", Email: "boss@ngo.org", Password: "secret1", Phone: "1", Address: "x", Role: "Admin",
	})
	wantKind(t, err, model.KindAuthorization)

	u, err := svc.Register(context.Background(), attendance.RegisterInput{
		Username: "helper", Email: "helper@ngo.org", Password: "secret1", Phone: "1", Address: "x",
	})
	if err != nil || u.Role != model.RoleVolunteer || !u.IsAvailable {
		t.Errorf("default registration = %+v, %v", u, err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)

	u, err := f.svc.UpdateProfile(ctx, v, attendance.UpdateProfileInput{Address: strPtr("2 Side St"), Phone: strPtr("")})
	if err != nil || u.Address != "2 Side St" || u.Phone != "555-0100" {
		t.Fatalf("UpdateProfile() = %+v, %v", u, err)
	}

	_, err = f.svc.UpdateProfile(ctx, v, attendance.UpdateProfileInput{NewPassword: "newpass"})
	wantKind(t, err, model.KindValidation)
	_, err = f.svc.UpdateProfile(ctx, v, attendance.UpdateProfileInput{CurrentPassword: "wrong", NewPassword: "newpass"})
	wantKind(t, err, model.KindValidation)

	if _, err := f.svc.UpdateProfile(ctx, v, attendance.UpdateProfileInput{CurrentPassword: "secret1", NewPassword: "newpass"}); err != nil {
		t.Fatalf("password change error = %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, attendance.LoginInput{Identifier: "vol_one", Password: "newpass"}); err != nil {
		t.Errorf("login with changed password: %v", err)
	}
}

func TestTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)

	task, err := f.svc.AssignTask(ctx, f.admin, attendance.AssignTaskInput{
		Username: "vol_one", Title: "Prepare kits", Description: "Pack twenty reading kits",
	})
	if err != nil {
		t.Fatalf("AssignTask() error = %v", err)
	}
	if task.State != model.TaskPending || task.AssignedTo != v.ID {
		t.Errorf("task = %+v", task)
	}

	_, err = f.svc.AssignTask(ctx, f.admin, attendance.AssignTaskInput{Username: "coordinator", Title: "t", Description: "long enough text"})
	wantKind(t, err, model.KindValidation)
	_, err = f.svc.AssignTask(ctx, f.admin, attendance.AssignTaskInput{Username: "ghost", Title: "t", Description: "long enough text"})
	wantKind(t, err, model.KindNotFound)
	_, err = f.svc.AssignTask(ctx, f.admin, attendance.AssignTaskInput{Username: "vol_one", Title: "t", Description: "short"})
	wantKind(t, err, model.KindValidation)

	tasks, err := f.svc.ListTasks(ctx, v)
	if err != nil || len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Errorf("ListTasks() = %+v, %v", tasks, err)
	}
}

type recordingRepo struct {
	*store.Memory
	mu    sync.Mutex
	added map[string][]string
}

func (r *recordingRepo) AddAttended(ctx context.Context, volunteerID string, sessionIDs ...string) error {
	r.mu.Lock()
	r.added[volunteerID] = append(r.added[volunteerID], sessionIDs...)
	r.mu.Unlock()
	return r.Memory.AddAttended(ctx, volunteerID, sessionIDs...)
}

func TestReconcile(t *testing.T) {
	repo := &recordingRepo{Memory: store.NewMemory(), added: map[string][]string{}}
	f := newFixtureWith(t, repo, attendance.Options{})
	ctx := context.Background()
	v1 := f.register(t, "vol_one", model.RoleVolunteer)
	v2 := f.register(t, "vol_two", model.RoleVolunteer)
	a := f.session(t, "A", "2024-01-01")
	b := f.session(t, "B", "2024-01-02")
	f.mark(t, a.ID, v1.ID, true)
	f.mark(t, b.ID, v1.ID, false)

	if err := f.svc.ReconcileAttended(ctx, v1.ID); err != nil {
		t.Fatalf("ReconcileAttended() error = %v", err)
	}
	if got := repo.added[v1.ID]; len(got) != 1 || got[0] != a.ID {
		t.Errorf("reconciled = %v, want [%s]", got, a.ID)
	}
	wantKind(t, f.svc.ReconcileAttended(ctx, "ghost"), model.KindNotFound)

	f.mark(t, b.ID, v2.ID, true)
	n, err := f.svc.ReconcileAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ReconcileAll() = %d, %v", n, err)
	}
	if got := repo.added[v2.ID]; len(got) != 1 || got[0] != b.ID {
		t.Errorf("reconciled v2 = %v", got)
	}
}

type slowRepo struct {
	*store.Memory
}

func (r slowRepo) GetSession(ctx context.Context, id string) (*model.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOperationTimeoutIsInternal(t *testing.T) {
	f := newFixtureWith(t, slowRepo{Memory: store.NewMemory()}, attendance.Options{Timeout: 20 * time.Millisecond})
	v := f.register(t, "vol_one", model.RoleVolunteer)

	_, err := f.svc.MarkAttendance(context.Background(), f.admin, attendance.MarkInput{
		SessionID: "any", VolunteerID: v.ID, IsPresent: boolPtr(true),
	})
	wantKind(t, err, model.KindInternal)
	if err.(*model.Error).Message != "service temporarily unavailable, please retry" {
		t.Errorf("message = %q, want generic", err.(*model.Error).Message)
	}
}

// removingRepo deletes the volunteer just before the roster write, as a
// concurrent RemoveVolunteer would.
type removingRepo struct {
	*store.Memory
}

func (r removingRepo) UpsertAttendance(ctx context.Context, sessionID, volunteerID string, present bool) (bool, error) {
	if _, err := r.Memory.DeleteVolunteer(ctx, volunteerID); err != nil {
		return false, err
	}
	return r.Memory.UpsertAttendance(ctx, sessionID, volunteerID, present)
}

func TestMarkAttendance_VolunteerRemovedBeforeWrite(t *testing.T) {
	f := newFixtureWith(t, removingRepo{Memory: store.NewMemory()}, attendance.Options{})
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")

	_, err := f.svc.MarkAttendance(ctx, f.admin, attendance.MarkInput{
		SessionID: s.ID, VolunteerID: v.ID, IsPresent: boolPtr(false),
	})
	wantKind(t, err, model.KindNotFound)

	sessions, err := f.svc.ListSessions(ctx, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	for _, sess := range sessions {
		if _, ok := sess.Record(v.ID); ok {
			t.Errorf("session %s holds a record for the removed volunteer", sess.Name)
		}
	}
}

func TestMarkAttendance_FullEventQueueDoesNotStall(t *testing.T) {
	f := newFixtureWith(t, store.NewMemory(), attendance.Options{Timeout: 500 * time.Millisecond})
	v := f.register(t, "vol_one", model.RoleVolunteer)
	s := f.session(t, "A", "2024-01-01")

	// Nobody consumes f.events, so it fills after 64 marks.
	for i := 0; i < 64; i++ {
		f.mark(t, s.ID, v.ID, i%2 == 0)
	}
	start := time.Now()
	f.mark(t, s.ID, v.ID, true)
	if d := time.Since(start); d > 250*time.Millisecond {
		t.Errorf("mark with a full event queue took %v", d)
	}
	if n := f.count(t, v.ID); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

// slowAddRepo makes each volunteer's reconcile take a noticeable time.
type slowAddRepo struct {
	*store.Memory
}

func (r slowAddRepo) AddAttended(ctx context.Context, volunteerID string, sessionIDs ...string) error {
	select {
	case <-time.After(15 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Memory.AddAttended(ctx, volunteerID, sessionIDs...)
}

func TestReconcileAll_TimeoutAppliesPerVolunteer(t *testing.T) {
	f := newFixtureWith(t, slowAddRepo{Memory: store.NewMemory()}, attendance.Options{Timeout: 60 * time.Millisecond})
	s := f.session(t, "A", "2024-01-01")
	for i := 0; i < 8; i++ {
		v := f.register(t, fmt.Sprintf("vol_%d", i), model.RoleVolunteer)
		f.mark(t, s.ID, v.ID, true)
	}

	n, err := f.svc.ReconcileAll(context.Background())
	if err != nil || n != 8 {
		t.Fatalf("ReconcileAll() = %d, %v, want 8, nil", n, err)
	}
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.register(t, "vol_one", model.RoleVolunteer)

	marked := func(volunteerID string, present bool) queue.Message {
		msg, err := attendance.EncodeMarked(attendance.MarkedEvent{SessionID: "s1", VolunteerID: volunteerID, IsPresent: present})
		if err != nil {
			t.Fatal(err)
		}
		return msg
	}

	tests := []struct {
		name string
		msg  queue.Message
		want string
	}{
		{"present mark", marked(v.ID, true), attendance.OutcomeOK},
		{"absent mark", marked(v.ID, false), attendance.OutcomeSkipped},
		{"removed volunteer", marked("gone", true), attendance.OutcomeSkipped},
		{"other type", queue.Message{Type: "task.assigned", Body: []byte(`{}`)}, attendance.OutcomeSkipped},
		{"malformed body", queue.Message{Type: attendance.EventMarked, Body: []byte(`{"isPresent":true}`)}, attendance.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.svc.HandleEvent(ctx, tt.msg); got != tt.want {
				t.Errorf("HandleEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}
