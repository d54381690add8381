package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/model"
)

var (
	_ attendance.Repository = (*Memory)(nil)
	_ attendance.Repository = (*Postgres)(nil)
)

func seedUser(t *testing.T, repo attendance.Repository, username, email string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: "digest",
		Phone:        "555-0100",
		Address:      "1 Main St",
		Role:         role,
		IsAvailable:  true,
	}
	if err := repo.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	return u
}

func seedSession(t *testing.T, repo attendance.Repository, name, date string) *model.Session {
	t.Helper()
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		t.Fatal(err)
	}
	s := &model.Session{Name: name, Address: "School Rd", DateOfSession: d, Class: "5", ExpectedNumberOfStudents: 30, NumberOfVolunteer: 3}
	if err := repo.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("CreateSession(%s) error = %v", name, err)
	}
	return s
}

// runRepositoryContract exercises behavior every Repository must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) attendance.Repository) {
	ctx := context.Background()

	t.Run("duplicate email", func(t *testing.T) {
		repo := newRepo(t)
		seedUser(t, repo, "alice", "alice@ngo.org", model.RoleVolunteer)
		err := repo.CreateUser(ctx, &model.User{Username: "alice2", Email: "ALICE@ngo.org", PasswordHash: "x", Role: model.RoleVolunteer})
		if !errors.Is(err, model.ErrDuplicateEmail) {
			t.Fatalf("CreateUser() error = %v, want ErrDuplicateEmail", err)
		}
		ok, err := repo.EmailExists(ctx, "Alice@NGO.org")
		if err != nil || !ok {
			t.Fatalf("EmailExists() = %v, %v, want true", ok, err)
		}
	})

	t.Run("duplicate session name", func(t *testing.T) {
		repo := newRepo(t)
		seedSession(t, repo, "Heartland Academy", "2024-03-01")
		err := repo.CreateSession(ctx, &model.Session{Name: "Heartland Academy", Address: "x", Class: "1"})
		if !errors.Is(err, model.ErrDuplicateSessionName) {
			t.Fatalf("CreateSession() error = %v, want ErrDuplicateSessionName", err)
		}
		other := seedSession(t, repo, "Riverside", "2024-03-02")
		name := "Heartland Academy"
		if _, err := repo.UpdateSession(ctx, other.ID, model.SessionPatch{Name: &name}); !errors.Is(err, model.ErrDuplicateSessionName) {
			t.Fatalf("UpdateSession() error = %v, want ErrDuplicateSessionName", err)
		}
	})

	t.Run("upsert keeps one record per volunteer", func(t *testing.T) {
		repo := newRepo(t)
		v1 := seedUser(t, repo, "v1", "v1@ngo.org", model.RoleVolunteer)
		v2 := seedUser(t, repo, "v2", "v2@ngo.org", model.RoleVolunteer)
		s := seedSession(t, repo, "Heartland Academy", "2024-03-01")

		for _, step := range []struct {
			id      string
			present bool
		}{{v1.ID, true}, {v2.ID, true}, {v1.ID, false}, {v1.ID, true}, {v1.ID, false}} {
			found, err := repo.UpsertAttendance(ctx, s.ID, step.id, step.present)
			if err != nil || !found {
				t.Fatalf("UpsertAttendance() = %v, %v", found, err)
			}
		}

		got, err := repo.GetSession(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Volunteers) != 2 {
			t.Fatalf("roster size = %d, want 2", len(got.Volunteers))
		}
		if got.Volunteers[0].Volunteer.ID != v1.ID || got.Volunteers[0].IsPresent {
			t.Errorf("first record = %+v, want v1 absent", got.Volunteers[0])
		}
		if got.Volunteers[1].Volunteer.ID != v2.ID || !got.Volunteers[1].IsPresent {
			t.Errorf("second record = %+v, want v2 present", got.Volunteers[1])
		}
		if got.Volunteers[0].Volunteer.Email != "v1@ngo.org" {
			t.Errorf("volunteer ref not resolved: %+v", got.Volunteers[0].Volunteer)
		}

		u, err := repo.GetUser(ctx, v1.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(u.Attended) != 1 || u.Attended[0] != s.ID {
			t.Errorf("attended = %v, want [%s] retained after absent mark", u.Attended, s.ID)
		}
		n, err := repo.CountAttended(ctx, v1.ID)
		if err != nil || n != 0 {
			t.Errorf("CountAttended(v1) = %d, %v, want 0", n, err)
		}
		counts, err := repo.AttendanceCounts(ctx)
		if err != nil || counts[v2.ID] != 1 || counts[v1.ID] != 0 {
			t.Errorf("AttendanceCounts() = %v, %v", counts, err)
		}
	})

	t.Run("upsert on missing session", func(t *testing.T) {
		repo := newRepo(t)
		v := seedUser(t, repo, "v1", "v1@ngo.org", model.RoleVolunteer)
		found, err := repo.UpsertAttendance(ctx, "missing", v.ID, true)
		if err != nil || found {
			t.Fatalf("UpsertAttendance() = %v, %v, want false, nil", found, err)
		}
	})

	t.Run("upsert for removed or non-volunteer user", func(t *testing.T) {
		repo := newRepo(t)
		admin := seedUser(t, repo, "boss", "boss@ngo.org", model.RoleAdmin)
		v := seedUser(t, repo, "v1", "v1@ngo.org", model.RoleVolunteer)
		s := seedSession(t, repo, "A", "2024-01-01")

		// A removal that lands between the service's existence check and the
		// write must leave no roster record behind.
		if ok, err := repo.DeleteVolunteer(ctx, v.ID); err != nil || !ok {
			t.Fatalf("DeleteVolunteer() = %v, %v", ok, err)
		}
		for _, id := range []string{v.ID, admin.ID, "nobody"} {
			if _, err := repo.UpsertAttendance(ctx, s.ID, id, true); !errors.Is(err, model.ErrUnknownVolunteer) {
				t.Errorf("UpsertAttendance(%s) error = %v, want ErrUnknownVolunteer", id, err)
			}
		}
		got, err := repo.GetSession(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Volunteers) != 0 {
			t.Errorf("roster = %+v, want empty", got.Volunteers)
		}
		if found, err := repo.UpsertAttendance(ctx, "missing", "nobody", true); err != nil || found {
			t.Errorf("UpsertAttendance(missing session) = %v, %v, want false, nil", found, err)
		}
	})

	t.Run("delete volunteer cascades", func(t *testing.T) {
		repo := newRepo(t)
		admin := seedUser(t, repo, "boss", "boss@ngo.org", model.RoleAdmin)
		v := seedUser(t, repo, "v1", "v1@ngo.org", model.RoleVolunteer)
		other := seedUser(t, repo, "v2", "v2@ngo.org", model.RoleVolunteer)
		s1 := seedSession(t, repo, "A", "2024-01-01")
		s2 := seedSession(t, repo, "B", "2024-01-02")
		for _, sid := range []string{s1.ID, s2.ID} {
			if _, err := repo.UpsertAttendance(ctx, sid, v.ID, true); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := repo.UpsertAttendance(ctx, s1.ID, other.ID, true); err != nil {
			t.Fatal(err)
		}
		if err := repo.CreateTask(ctx, &model.Task{Title: "t", Description: "long enough", AssignedTo: v.ID, DateAssigned: time.Now()}); err != nil {
			t.Fatal(err)
		}

		if ok, err := repo.DeleteVolunteer(ctx, admin.ID); err != nil || ok {
			t.Fatalf("DeleteVolunteer(admin) = %v, %v, want false", ok, err)
		}
		if ok, err := repo.DeleteVolunteer(ctx, v.ID); err != nil || !ok {
			t.Fatalf("DeleteVolunteer(v) = %v, %v, want true", ok, err)
		}
		if ok, err := repo.DeleteVolunteer(ctx, v.ID); err != nil || ok {
			t.Fatalf("second DeleteVolunteer(v) = %v, %v, want false", ok, err)
		}

		if u, _ := repo.GetUser(ctx, v.ID); u != nil {
			t.Error("volunteer still present")
		}
		sessions, err := repo.ListSessions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, s := range sessions {
			if _, ok := s.Record(v.ID); ok {
				t.Errorf("session %s still references removed volunteer", s.Name)
			}
		}
		if got, _ := repo.GetSession(ctx, s1.ID); len(got.Volunteers) != 1 {
			t.Errorf("other volunteer's record lost: %+v", got.Volunteers)
		}
		if tasks, _ := repo.ListTasks(ctx, v.ID); len(tasks) != 0 {
			t.Errorf("tasks not removed: %v", tasks)
		}
	})

	t.Run("history in creation order", func(t *testing.T) {
		repo := newRepo(t)
		v := seedUser(t, repo, "v1", "v1@ngo.org", model.RoleVolunteer)
		late := seedSession(t, repo, "Late", "2024-06-01")
		early := seedSession(t, repo, "Early", "2024-01-01")
		absent := seedSession(t, repo, "Absent", "2024-02-01")
		for _, step := range []struct {
			sid     string
			present bool
		}{{early.ID, true}, {late.ID, true}, {absent.ID, false}} {
			if _, err := repo.UpsertAttendance(ctx, step.sid, v.ID, step.present); err != nil {
				t.Fatal(err)
			}
		}
		history, err := repo.ListAttended(ctx, v.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 2 || history[0].Name != "Late" || history[1].Name != "Early" {
			t.Fatalf("history = %+v, want [Late Early]", history)
		}

		sessions, err := repo.ListSessions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if sessions[0].Name != "Late" || sessions[2].Name != "Early" {
			t.Errorf("ListSessions order = %s,%s,%s", sessions[0].Name, sessions[1].Name, sessions[2].Name)
		}
	})

	t.Run("partial updates", func(t *testing.T) {
		repo := newRepo(t)
		v := seedUser(t, repo, "v1", "v1@ngo.org", model.RoleVolunteer)
		s := seedSession(t, repo, "A", "2024-01-01")

		students := 45
		if ok, err := repo.UpdateSession(ctx, s.ID, model.SessionPatch{ExpectedNumberOfStudents: &students}); err != nil || !ok {
			t.Fatalf("UpdateSession() = %v, %v", ok, err)
		}
		got, _ := repo.GetSession(ctx, s.ID)
		if got.ExpectedNumberOfStudents != 45 || got.Name != "A" || got.Class != "5" {
			t.Errorf("session after patch = %+v", got)
		}
		if ok, err := repo.UpdateSession(ctx, "missing", model.SessionPatch{ExpectedNumberOfStudents: &students}); err != nil || ok {
			t.Errorf("UpdateSession(missing) = %v, %v, want false", ok, err)
		}

		off := false
		u, err := repo.UpdateUser(ctx, v.ID, model.UserPatch{IsAvailable: &off})
		if err != nil || u == nil || u.IsAvailable || u.Email != "v1@ngo.org" {
			t.Errorf("UpdateUser() = %+v, %v", u, err)
		}
		if u, err := repo.UpdateUser(ctx, "missing", model.UserPatch{IsAvailable: &off}); err != nil || u != nil {
			t.Errorf("UpdateUser(missing) = %+v, %v, want nil", u, err)
		}
	})

	t.Run("login lookup", func(t *testing.T) {
		repo := newRepo(t)
		v := seedUser(t, repo, "vol_one", "one@ngo.org", model.RoleVolunteer)
		for _, id := range []string{"vol_one", "ONE@ngo.org"} {
			u, err := repo.FindUserByLogin(ctx, id)
			if err != nil || u == nil || u.ID != v.ID {
				t.Errorf("FindUserByLogin(%q) = %+v, %v", id, u, err)
			}
		}
		if u, err := repo.FindUserByLogin(ctx, "nobody"); err != nil || u != nil {
			t.Errorf("FindUserByLogin(nobody) = %+v, %v", u, err)
		}
	})
}
