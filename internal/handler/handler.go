// Package handler exposes the portal service over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/auth"
	"volunteerportal/internal/model"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the /v1 API.
type Handler struct {
	svc    *attendance.Service
	issuer *auth.Issuer
	checks map[string]HealthCheck
}

// New creates a handler. checks are reported by /healthz.
func New(svc *attendance.Service, issuer *auth.Issuer, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, issuer: issuer, checks: checks}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)

	public := r.Group("/v1/auth")
	public.POST("/register", h.register)
	public.POST("/login", h.login)
	public.POST("/refresh", h.refresh)

	v1 := r.Group("/v1", auth.ActorAuth(h.issuer))
	v1.GET("/sessions", h.listSessions)
	v1.POST("/sessions", h.createSession)
	v1.PATCH("/sessions/:id", h.updateSession)
	v1.PUT("/attendance", h.markAttendance)

	v1.GET("/volunteers", h.listVolunteers)
	v1.PUT("/volunteers/:id", h.editVolunteer)
	v1.DELETE("/volunteers/:id", h.removeVolunteer)
	v1.GET("/volunteers/:id/attendance", h.volunteerAttendance)
	v1.GET("/users", h.listUsers)
	v1.POST("/tasks", h.assignTask)

	v1.GET("/me", h.getProfile)
	v1.PUT("/me", h.updateProfile)
	v1.PUT("/me/availability", h.setAvailability)
	v1.GET("/me/attendance-history", h.myHistory)
	v1.GET("/me/tasks", h.myTasks)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	writeErrorStatus(c, statusOf(model.KindOf(err)), err)
}

func writeErrorStatus(c *gin.Context, status int, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		e = model.Internal(err)
	}
	_ = c.Error(err)
	body := gin.H{"error": e.Message}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	c.AbortWithStatusJSON(status, body)
}

// bind decodes the JSON body into dst, answering 400 on malformed input.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}
