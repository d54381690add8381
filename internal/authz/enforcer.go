// Package authz decides which actor may perform which portal operation.
// Decisions come from a casbin RBAC model with a role hierarchy
// (Admin inherits Volunteer) and a per-rule scope: "any" target or "self"
// (the target must be owned by the actor).
package authz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	portal "volunteerportal/internal/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Operation is an (object, action) pair checked by the policy.
type Operation struct {
	Object string
	Action string
}

func (o Operation) String() string { return o.Object + ":" + o.Action }

var (
	MarkAttendance    = Operation{"attendance", "mark"}
	CountAttendance   = Operation{"attendance", "count"}
	AttendanceHistory = Operation{"attendance", "history"}
	CreateSession     = Operation{"session", "create"}
	UpdateSession     = Operation{"session", "update"}
	ListSessions      = Operation{"session", "list"}
	ViewContacts      = Operation{"session", "contacts"}
	RemoveVolunteer   = Operation{"volunteer", "remove"}
	EditVolunteer     = Operation{"volunteer", "edit"}
	ListVolunteers    = Operation{"volunteer", "list"}
	ListUsers         = Operation{"user", "list"}
	ReadProfile       = Operation{"profile", "read"}
	UpdateProfile     = Operation{"profile", "update"}
	SetAvailability   = Operation{"availability", "set"}
	AssignTask        = Operation{"task", "assign"}
	ListTasks         = Operation{"task", "list"}
)

// Target describes what an operation acts on. OwnerID is the user that owns
// the target; it only matters for self-scoped rules.
type Target struct {
	OwnerID string
}

// Policy authorizes an actor to perform an operation on a target.
type Policy interface {
	Authorize(actor portal.Actor, op Operation, target Target) error
}

// Enforcer is the casbin-backed Policy.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer from the embedded model. When policyPath
// names an existing file the policy is read from it, otherwise the embedded
// policy is used.
func NewEnforcer(policyPath string) (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	var e *casbin.SyncedEnforcer
	if policyPath != "" && fileExists(policyPath) {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(e, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	return &Enforcer{enforcer: e}, nil
}

// loadPolicy feeds CSV policy lines into the enforcer.
func loadPolicy(e *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		ptype, rule := parts[0], parts[1:]
		var err error
		switch ptype {
		case "p":
			_, err = e.AddPolicy(rule)
		case "g":
			_, err = e.AddGroupingPolicy(rule)
		default:
			err = fmt.Errorf("unknown policy type %q", ptype)
		}
		if err != nil {
			return fmt.Errorf("add policy %q: %w", line, err)
		}
	}
	return nil
}

// Allowed reports whether the actor may perform op on target.
func (e *Enforcer) Allowed(actor portal.Actor, op Operation, target Target) (bool, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return false, nil
	}
	return e.enforcer.Enforce(string(actor.Role), op.Object, op.Action, actor.ID, target.OwnerID)
}

// Authorize returns an authorization error unless the actor may perform op.
func (e *Enforcer) Authorize(actor portal.Actor, op Operation, target Target) error {
	ok, err := e.Allowed(actor, op, target)
	if err != nil {
		return portal.Internal(fmt.Errorf("authorize %s: %w", op, err))
	}
	if !ok {
		return portal.Unauthorized(fmt.Sprintf("%s is not allowed to %s %s", roleName(actor.Role), op.Action, op.Object))
	}
	return nil
}

func roleName(r portal.Role) string {
	if r == "" {
		return "anonymous"
	}
	return string(r)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
