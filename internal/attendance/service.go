package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"volunteerportal/internal/authz"
	"volunteerportal/internal/logging"
	"volunteerportal/internal/model"
	"volunteerportal/internal/password"
	"volunteerportal/internal/queue"
)

// Repository is the persistence contract the service depends on.
// Lookups return (nil, nil) when the entity does not exist.
type Repository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	FindUserByLogin(ctx context.Context, identifier string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	ListUsers(ctx context.Context, role model.Role) ([]model.User, error)
	UpdateUser(ctx context.Context, id string, p model.UserPatch) (*model.User, error)
	// DeleteVolunteer removes a Volunteer and every roster record that
	// references it in one transaction. It reports false when no Volunteer
	// with that id exists.
	DeleteVolunteer(ctx context.Context, id string) (bool, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SessionNameExists(ctx context.Context, name string) (bool, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	UpdateSession(ctx context.Context, id string, p model.SessionPatch) (bool, error)

	// UpsertAttendance inserts or updates the (session, volunteer) record and,
	// when present is true, adds the session to the volunteer's attended set,
	// atomically. It reports false when the session does not exist and fails
	// with model.ErrUnknownVolunteer unless volunteerID names a Volunteer at
	// the time of the write.
	UpsertAttendance(ctx context.Context, sessionID, volunteerID string, present bool) (bool, error)
	CountAttended(ctx context.Context, volunteerID string) (int, error)
	AttendanceCounts(ctx context.Context) (map[string]int, error)
	ListAttended(ctx context.Context, volunteerID string) ([]model.SessionSummary, error)
	AddAttended(ctx context.Context, volunteerID string, sessionIDs ...string) error

	CreateTask(ctx context.Context, t *model.Task) error
	ListTasks(ctx context.Context, userID string) ([]model.Task, error)
}

// EventPublisher receives attendance events for asynchronous consumers.
type EventPublisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Recorder collects operational metrics.
type Recorder interface {
	AttendanceMarked(present bool)
	SessionCreated()
	VolunteerRemoved()
	OperationFailed(op string, kind model.Kind)
	ObserveOperation(op string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) AttendanceMarked(bool)                  {}
func (nopRecorder) SessionCreated()                        {}
func (nopRecorder) VolunteerRemoved()                      {}
func (nopRecorder) OperationFailed(string, model.Kind)     {}
func (nopRecorder) ObserveOperation(string, time.Duration) {}

// Options tunes a Service. Zero values select defaults.
type Options struct {
	// Timeout bounds every operation's persistence work.
	Timeout time.Duration
	// AllowAdminSignup lets Register create Admin accounts.
	AllowAdminSignup bool
	Events           EventPublisher
	Metrics          Recorder
}

// Service implements the attendance engine, the session registry and the
// account operations around them.
type Service struct {
	repo             Repository
	policy           authz.Policy
	hasher           password.Hasher
	events           EventPublisher
	metrics          Recorder
	timeout          time.Duration
	allowAdminSignup bool
	log              zerolog.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, policy authz.Policy, hasher password.Hasher, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	return &Service{
		repo:             repo,
		policy:           policy,
		hasher:           hasher,
		events:           opts.Events,
		metrics:          opts.Metrics,
		timeout:          opts.Timeout,
		allowAdminSignup: opts.AllowAdminSignup,
		log:              logging.With("attendance"),
	}
}

// begin bounds an operation with the persistence timeout. The returned
// finish func must be deferred with the operation's named error: it converts
// untagged failures into internal errors, logs them and records metrics.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, func(errp *error) {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		s.metrics.ObserveOperation(op, time.Since(start))
		if *errp == nil {
			return
		}
		var tagged *model.Error
		if !errors.As(*errp, &tagged) {
			cause := *errp
			if timedOut {
				cause = fmt.Errorf("%s timed out after %s: %w", op, s.timeout, cause)
			}
			tagged = model.Internal(cause)
			*errp = tagged
		}
		if tagged.Kind == model.KindInternal {
			s.log.Error().Err(tagged.Err).Str("op", op).Msg("operation failed")
		}
		s.metrics.OperationFailed(op, tagged.Kind)
	}
}

// project keeps only the requested display fields of every roster reference.
func project(sess *model.Session, full bool) {
	for i := range sess.Volunteers {
		ref := &sess.Volunteers[i].Volunteer
		if !full {
			ref.Phone, ref.Address, ref.Role = "", "", ""
		}
	}
	if sess.Volunteers == nil {
		sess.Volunteers = []model.AttendanceRecord{}
	}
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

// nonBlank returns p trimmed, or nil when p is absent or blank.
func nonBlank(p *string) *string {
	v := trimmed(p)
	if v == nil || *v == "" {
		return nil
	}
	return v
}
