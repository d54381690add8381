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

// RegisterInput is the public sign-up payload.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=5"`
	Phone    string `json:"phone" validate:"required"`
	Address  string `json:"address" validate:"required"`
	JoinDate string `json:"joinDate" validate:"omitempty,datetime=2006-01-02"`
	Role     string `json:"role" validate:"omitempty,oneof=Admin Volunteer"`
}

// LoginInput identifies a user by email or username.
type LoginInput struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// UpdateProfileInput carries the caller's changes to their own account.
// Blank fields keep their current value.
type UpdateProfileInput struct {
	Username        *string `json:"username" validate:"omitempty,min=3,username"`
	Phone           *string `json:"phone"`
	Address         *string `json:"address"`
	IsAvailable     *bool   `json:"isAvailable"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword" validate:"omitempty,min=5"`
}

// AvailabilityInput is the payload of SetAvailability.
type AvailabilityInput struct {
	IsAvailable *bool `json:"isAvailable" validate:"required"`
}

// Register creates an account. Emails are unique and compared case-insensitively.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *model.User, err error) {
	ctx, done := s.begin(ctx, "register")
	defer done(&err)

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.JoinDate = strings.TrimSpace(in.JoinDate)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	role := model.RoleVolunteer
	if in.Role != "" {
		role = model.Role(in.Role)
	}
	if role == model.RoleAdmin && !s.allowAdminSignup {
		return nil, model.Unauthorized("admin accounts cannot be self-registered")
	}

	exists, err := s.repo.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, model.Conflict("user with this email already exists")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	joined := time.Now().UTC()
	if in.JoinDate != "" {
		joined, _ = time.Parse(model.DateLayout, in.JoinDate)
	}
	u := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		Phone:        in.Phone,
		Address:      in.Address,
		Role:         role,
		IsAvailable:  true,
		JoinDate:     joined,
		Attended:     []string{},
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			return nil, model.Conflict("user with this email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

// Authenticate checks credentials. Unknown identifiers and wrong passwords
// fail with the same error.
func (s *Service) Authenticate(ctx context.Context, in LoginInput) (_ *model.User, err error) {
	ctx, done := s.begin(ctx, "authenticate")
	defer done(&err)

	in.Identifier = strings.TrimSpace(in.Identifier)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	u, err := s.repo.FindUserByLogin(ctx, in.Identifier)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if u == nil || !s.hasher.Verify(in.Password, u.PasswordHash) {
		return nil, model.Unauthorized("invalid credentials")
	}
	return u, nil
}

// CurrentUser returns the account behind actor, failing with an
// authorization error when it no longer exists or its role changed.
func (s *Service) CurrentUser(ctx context.Context, actor model.Actor) (_ *model.User, err error) {
	ctx, done := s.begin(ctx, "current_user")
	defer done(&err)

	u, err := s.repo.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil || u.Role != actor.Role {
		return nil, model.Unauthorized("account no longer active")
	}
	return u, nil
}

// GetProfile returns the caller's account with their attendance count.
func (s *Service) GetProfile(ctx context.Context, actor model.Actor) (_ *model.Profile, err error) {
	ctx, done := s.begin(ctx, "get_profile")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.ReadProfile, authz.Target{OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, model.NotFound("user", actor.ID)
	}
	n, err := s.repo.CountAttended(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("count attended: %w", err)
	}
	return &model.Profile{User: *u, SessionsAttended: n}, nil
}

// UpdateProfile applies the caller's changes to their own account. A new
// password is only accepted together with the correct current password.
func (s *Service) UpdateProfile(ctx context.Context, actor model.Actor, in UpdateProfileInput) (_ *model.User, err error) {
	ctx, done := s.begin(ctx, "update_profile")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.UpdateProfile, authz.Target{OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	in.Username = nonBlank(in.Username)
	in.Phone = nonBlank(in.Phone)
	in.Address = nonBlank(in.Address)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.NewPassword != "" && in.CurrentPassword == "" {
		return nil, model.Invalid("missing required fields", "currentPassword")
	}

	u, err := s.repo.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, model.NotFound("user", actor.ID)
	}

	patch := model.UserPatch{
		Username:    in.Username,
		Phone:       in.Phone,
		Address:     in.Address,
		IsAvailable: in.IsAvailable,
	}
	if in.NewPassword != "" {
		if !s.hasher.Verify(in.CurrentPassword, u.PasswordHash) {
			return nil, model.Invalid("current password is incorrect", "currentPassword")
		}
		digest, err := s.hasher.Hash(in.NewPassword)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		patch.PasswordHash = &digest
	}

	updated, err := s.repo.UpdateUser(ctx, actor.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if updated == nil {
		return nil, model.NotFound("user", actor.ID)
	}
	return updated, nil
}

// SetAvailability sets the caller's own availability flag.
func (s *Service) SetAvailability(ctx context.Context, actor model.Actor, in AvailabilityInput) (_ *model.User, err error) {
	ctx, done := s.begin(ctx, "set_availability")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.SetAvailability, authz.Target{OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	u, err := s.repo.UpdateUser(ctx, actor.ID, model.UserPatch{IsAvailable: in.IsAvailable})
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if u == nil {
		return nil, model.NotFound("user", actor.ID)
	}
	s.log.Info().Str("user_id", actor.ID).Bool("available", *in.IsAvailable).Msg("availability updated")
	return u, nil
}
