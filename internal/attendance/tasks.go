package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"volunteerportal/internal/authz"
	"volunteerportal/internal/model"
	"volunteerportal/internal/validation"
)

// AssignTaskInput is the payload of AssignTask.
type AssignTaskInput struct {
	Username    string `json:"username" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required,min=10,max=300"`
}

// AssignTask gives a pending task to a volunteer.
func (s *Service) AssignTask(ctx context.Context, actor model.Actor, in AssignTaskInput) (_ *model.Task, err error) {
	ctx, done := s.begin(ctx, "assign_task")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.AssignTask, authz.Target{}); err != nil {
		return nil, err
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	u, err := s.repo.FindUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if u == nil {
		return nil, model.NotFound("user", in.Username)
	}
	if u.Role == model.RoleAdmin {
		return nil, model.Invalid("tasks cannot be assigned to admins", "username")
	}

	task := &model.Task{
		Title:        in.Title,
		Description:  in.Description,
		AssignedTo:   u.ID,
		DateAssigned: time.Now().UTC(),
		State:        model.TaskPending,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// ListTasks returns the caller's tasks, oldest first.
func (s *Service) ListTasks(ctx context.Context, actor model.Actor) (_ []model.Task, err error) {
	ctx, done := s.begin(ctx, "list_tasks")
	defer done(&err)

	if err := s.policy.Authorize(actor, authz.ListTasks, authz.Target{OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasks(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}
