package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"volunteerportal/internal/authz"
	"volunteerportal/internal/model"
	"volunteerportal/internal/validation"
)

// MarkInput is the payload of MarkAttendance.
type MarkInput struct {
	SessionID   string `json:"sessionId" validate:"required"`
	VolunteerID string `json:"volunteerId" validate:"required"`
	IsPresent   *bool  `json:"isPresent" validate:"required"`
}

// MarkAttendance records whether a volunteer was present at a session.
// Marking the same pair again overwrites the flag in place; a present mark
// also adds the session to the volunteer's attended set, which a later
// absent mark never removes.
func (s *Service) MarkAttendance(ctx context.Context, actor model.Actor, in MarkInput) (_ *model.Session, err error) {
	ctx, done := s.begin(ctx, "mark_attendance")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.MarkAttendance, authz.Target{}); err != nil {
		return nil, err
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.VolunteerID = strings.TrimSpace(in.VolunteerID)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	sess, err := s.repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, model.NotFound("session", in.SessionID)
	}
	if err := s.requireVolunteer(ctx, in.VolunteerID); err != nil {
		return nil, err
	}

	present := *in.IsPresent
	found, err := s.repo.UpsertAttendance(ctx, in.SessionID, in.VolunteerID, present)
	if errors.Is(err, model.ErrUnknownVolunteer) {
		return nil, model.NotFound("volunteer", in.VolunteerID)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	if !found {
		return nil, model.NotFound("session", in.SessionID)
	}

	sess, err = s.repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if sess == nil {
		return nil, model.NotFound("session", in.SessionID)
	}
	project(sess, false)

	s.metrics.AttendanceMarked(present)
	s.publishMarked(ctx, MarkedEvent{
		SessionID:   in.SessionID,
		VolunteerID: in.VolunteerID,
		IsPresent:   present,
		MarkedBy:    actor.ID,
	})
	s.log.Info().
		Str("session_id", in.SessionID).
		Str("volunteer_id", in.VolunteerID).
		Bool("present", present).
		Str("actor", actor.ID).
		Msg("attendance marked")
	return sess, nil
}

// GetAttendanceCount returns the number of sessions the volunteer was marked
// present at.
func (s *Service) GetAttendanceCount(ctx context.Context, actor model.Actor, volunteerID string) (_ int, err error) {
	ctx, done := s.begin(ctx, "attendance_count")
	defer done(&err)

	volunteerID = strings.TrimSpace(volunteerID)
	if err := s.policy.Authorize(actor, authz.CountAttendance, authz.Target{OwnerID: volunteerID}); err != nil {
		return 0, err
	}
	if volunteerID == "" {
		return 0, model.Invalid("missing required fields", "volunteerId")
	}
	if err := s.requireVolunteer(ctx, volunteerID); err != nil {
		return 0, err
	}
	n, err := s.repo.CountAttended(ctx, volunteerID)
	if err != nil {
		return 0, fmt.Errorf("count attended: %w", err)
	}
	return n, nil
}

// GetAttendanceHistory lists the sessions the volunteer was marked present at,
// in session creation order.
func (s *Service) GetAttendanceHistory(ctx context.Context, actor model.Actor, volunteerID string) (_ []model.SessionSummary, err error) {
	ctx, done := s.begin(ctx, "attendance_history")
	defer done(&err)

	volunteerID = strings.TrimSpace(volunteerID)
	if err := s.policy.Authorize(actor, authz.AttendanceHistory, authz.Target{OwnerID: volunteerID}); err != nil {
		return nil, err
	}
	if volunteerID == "" {
		return nil, model.Invalid("missing required fields", "volunteerId")
	}
	if err := s.requireVolunteer(ctx, volunteerID); err != nil {
		return nil, err
	}
	history, err := s.repo.ListAttended(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("list attended: %w", err)
	}
	if history == nil {
		history = []model.SessionSummary{}
	}
	return history, nil
}

// ReconcileAttended re-adds to the volunteer's attended set every session
// whose roster marks the volunteer present. It never removes entries.
func (s *Service) ReconcileAttended(ctx context.Context, volunteerID string) (err error) {
	ctx, done := s.begin(ctx, "reconcile_attended")
	defer done(&err)

	if err := s.requireVolunteer(ctx, volunteerID); err != nil {
		return err
	}
	return s.reconcile(ctx, volunteerID)
}

// ReconcileAll runs ReconcileAttended for every volunteer and returns how
// many were reconciled. Each volunteer gets its own operation timeout;
// volunteers removed while the pass runs are skipped.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	volunteers, err := s.reconcileTargets(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range volunteers {
		err := s.ReconcileAttended(ctx, v.ID)
		if model.KindOf(err) == model.KindNotFound {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Service) reconcileTargets(ctx context.Context) (_ []model.User, err error) {
	ctx, done := s.begin(ctx, "reconcile_all")
	defer done(&err)

	volunteers, err := s.repo.ListUsers(ctx, model.RoleVolunteer)
	if err != nil {
		return nil, fmt.Errorf("list volunteers: %w", err)
	}
	return volunteers, nil
}

func (s *Service) reconcile(ctx context.Context, volunteerID string) error {
	history, err := s.repo.ListAttended(ctx, volunteerID)
	if err != nil {
		return fmt.Errorf("list attended: %w", err)
	}
	if len(history) == 0 {
		return nil
	}
	ids := make([]string, 0, len(history))
	for _, h := range history {
		ids = append(ids, h.ID)
	}
	if err := s.repo.AddAttended(ctx, volunteerID, ids...); err != nil {
		return fmt.Errorf("add attended: %w", err)
	}
	return nil
}

// requireVolunteer fails with not found unless id names a Volunteer.
func (s *Service) requireVolunteer(ctx context.Context, id string) error {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u == nil || u.Role != model.RoleVolunteer {
		return model.NotFound("volunteer", id)
	}
	return nil
}
