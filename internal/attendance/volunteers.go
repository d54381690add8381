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

// EditVolunteerInput carries an admin's changes to a volunteer account.
// Absent or blank fields keep their current value.
type EditVolunteerInput struct {
	Username    *string `json:"username" validate:"omitempty,min=3,username"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone"`
	NewPassword *string `json:"newPassword" validate:"omitempty,min=5"`
}

// RemoveVolunteer deletes the volunteer and every roster record that refers
// to it. Nothing is removed if any step fails.
func (s *Service) RemoveVolunteer(ctx context.Context, actor model.Actor, volunteerID string) (err error) {
	ctx, done := s.begin(ctx, "remove_volunteer")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.RemoveVolunteer, authz.Target{}); err != nil {
		return err
	}
	volunteerID = strings.TrimSpace(volunteerID)
	if volunteerID == "" {
		return model.Invalid("missing required fields", "volunteerId")
	}
	removed, err := s.repo.DeleteVolunteer(ctx, volunteerID)
	if err != nil {
		return fmt.Errorf("delete volunteer: %w", err)
	}
	if !removed {
		return model.NotFound("volunteer", "")
	}
	s.metrics.VolunteerRemoved()
	s.log.Info().Str("volunteer_id", volunteerID).Str("actor", actor.ID).Msg("volunteer removed")
	return nil
}

// EditVolunteer updates a volunteer's contact details and, when a new
// password is given, replaces the stored credential.
func (s *Service) EditVolunteer(ctx context.Context, actor model.Actor, volunteerID string, in EditVolunteerInput) (_ *model.User, err error) {
	ctx, done := s.begin(ctx, "edit_volunteer")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.EditVolunteer, authz.Target{}); err != nil {
		return nil, err
	}
	volunteerID = strings.TrimSpace(volunteerID)
	if volunteerID == "" {
		return nil, model.Invalid("missing required fields", "volunteerId")
	}
	in.Username = nonBlank(in.Username)
	in.Email = nonBlank(in.Email)
	in.Phone = nonBlank(in.Phone)
	in.NewPassword = nonBlank(in.NewPassword)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.requireVolunteer(ctx, volunteerID); err != nil {
		return nil, err
	}

	patch := model.UserPatch{Username: in.Username, Email: in.Email, Phone: in.Phone}
	if in.Email != nil {
		lower := strings.ToLower(*in.Email)
		patch.Email = &lower
	}
	if in.NewPassword != nil {
		digest, err := s.hasher.Hash(*in.NewPassword)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		patch.PasswordHash = &digest
	}

	u, err := s.repo.UpdateUser(ctx, volunteerID, patch)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			return nil, model.Conflict("email already in use")
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if u == nil {
		return nil, model.NotFound("volunteer", volunteerID)
	}
	s.log.Info().Str("volunteer_id", volunteerID).Bool("password_changed", in.NewPassword != nil).Msg("volunteer updated")
	return u, nil
}

// ListVolunteers returns every volunteer with the number of sessions attended.
func (s *Service) ListVolunteers(ctx context.Context, actor model.Actor) (_ []model.VolunteerStats, err error) {
	ctx, done := s.begin(ctx, "list_volunteers")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.ListVolunteers, authz.Target{}); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, model.RoleVolunteer)
	if err != nil {
		return nil, fmt.Errorf("list volunteers: %w", err)
	}
	counts, err := s.repo.AttendanceCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("attendance counts: %w", err)
	}
	out := make([]model.VolunteerStats, 0, len(users))
	for _, u := range users {
		out = append(out, model.VolunteerStats{
			ID:               u.ID,
			Username:         u.Username,
			Email:            u.Email,
			Phone:            u.Phone,
			IsAvailable:      u.IsAvailable,
			SessionsAttended: counts[u.ID],
		})
	}
	return out, nil
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context, actor model.Actor) (_ []model.User, err error) {
	ctx, done := s.begin(ctx, "list_users")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.ListUsers, authz.Target{}); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}
