package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"volunteerportal/internal/authz"
	"volunteerportal/internal/model"
	"volunteerportal/internal/validation"
)

// CreateSessionInput is the payload of CreateSession.
type CreateSessionInput struct {
	Name                     string  `json:"name" validate:"required"`
	Address                  string  `json:"address" validate:"required"`
	DateOfSession            string  `json:"dateOfSession" validate:"required,datetime=2006-01-02"`
	Class                    string  `json:"class" validate:"required"`
	ExpectedNumberOfStudents *int    `json:"expectedNumberOfStudents" validate:"required,min=0"`
	NumberOfVolunteer        *int    `json:"numberOfVolunteer" validate:"required,min=0"`
	Remarks                  *string `json:"remarks"`
}

// UpdateSessionInput carries the fields to change. Absent or blank text
// fields are left untouched.
type UpdateSessionInput struct {
	Name                     *string `json:"name"`
	Address                  *string `json:"address"`
	DateOfSession            *string `json:"dateOfSession" validate:"omitempty,datetime=2006-01-02"`
	Class                    *string `json:"class"`
	ExpectedNumberOfStudents *int    `json:"expectedNumberOfStudents" validate:"omitempty,min=0"`
	NumberOfVolunteer        *int    `json:"numberOfVolunteer" validate:"omitempty,min=0"`
	Remarks                  *string `json:"remarks"`
}

// CreateSession registers a new session with an empty roster. Session names
// are unique.
func (s *Service) CreateSession(ctx context.Context, actor model.Actor, in CreateSessionInput) (_ *model.Session, err error) {
	ctx, done := s.begin(ctx, "create_session")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.CreateSession, authz.Target{}); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	in.DateOfSession = strings.TrimSpace(in.DateOfSession)
	in.Class = strings.TrimSpace(in.Class)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	date, _ := time.Parse(model.DateLayout, in.DateOfSession)

	exists, err := s.repo.SessionNameExists(ctx, in.Name)
	if err != nil {
		return nil, fmt.Errorf("check session name: %w", err)
	}
	if exists {
		return nil, duplicateSession(in.Name)
	}

	sess := &model.Session{
		Name:                     in.Name,
		Address:                  in.Address,
		DateOfSession:            date,
		Class:                    in.Class,
		ExpectedNumberOfStudents: *in.ExpectedNumberOfStudents,
		NumberOfVolunteer:        *in.NumberOfVolunteer,
		Remarks:                  in.Remarks,
		Volunteers:               []model.AttendanceRecord{},
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, model.ErrDuplicateSessionName) {
			return nil, duplicateSession(in.Name)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionCreated()
	s.log.Info().Str("session_id", sess.ID).Str("name", sess.Name).Str("actor", actor.ID).Msg("session created")
	return sess, nil
}

// UpdateSession merges the present fields into the session and returns it.
func (s *Service) UpdateSession(ctx context.Context, actor model.Actor, sessionID string, in UpdateSessionInput) (_ *model.Session, err error) {
	ctx, done := s.begin(ctx, "update_session")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.UpdateSession, authz.Target{}); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, model.Invalid("missing required fields", "sessionId")
	}
	in.DateOfSession = nonBlank(in.DateOfSession)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	patch := model.SessionPatch{
		Name:                     nonBlank(in.Name),
		Address:                  nonBlank(in.Address),
		Class:                    nonBlank(in.Class),
		ExpectedNumberOfStudents: in.ExpectedNumberOfStudents,
		NumberOfVolunteer:        in.NumberOfVolunteer,
		Remarks:                  in.Remarks,
	}
	if in.DateOfSession != nil {
		date, _ := time.Parse(model.DateLayout, *in.DateOfSession)
		patch.DateOfSession = &date
	}

	if !patch.Empty() {
		found, err := s.repo.UpdateSession(ctx, sessionID, patch)
		if err != nil {
			if errors.Is(err, model.ErrDuplicateSessionName) {
				return nil, duplicateSession(*patch.Name)
			}
			return nil, fmt.Errorf("update session: %w", err)
		}
		if !found {
			return nil, model.NotFound("session", sessionID)
		}
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, model.NotFound("session", sessionID)
	}
	project(sess, false)
	return sess, nil
}

// ListSessions returns every session, latest date first. Only actors allowed
// to view contacts see the full details of rostered volunteers.
func (s *Service) ListSessions(ctx context.Context, actor model.Actor) (_ []model.Session, err error) {
	ctx, done := s.begin(ctx, "list_sessions")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.ListSessions, authz.Target{}); err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	full := true
	if err := s.policy.Authorize(actor, authz.ViewContacts, authz.Target{}); err != nil {
		if model.KindOf(err) != model.KindAuthorization {
			return nil, err
		}
		full = false
	}
	for i := range sessions {
		project(&sessions[i], full)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func duplicateSession(name string) error {
	return model.Conflict(fmt.Sprintf("session %q already exists", name))
}
