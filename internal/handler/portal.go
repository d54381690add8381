package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/auth"
)

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.svc.ListSessions(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) createSession(c *gin.Context) {
	var req attendance.CreateSessionInput
	if !bind(c, &req) {
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "session created", "session": sess})
}

func (h *Handler) updateSession(c *gin.Context) {
	var req attendance.UpdateSessionInput
	if !bind(c, &req) {
		return
	}
	sess, err := h.svc.UpdateSession(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session updated", "session": sess})
}

func (h *Handler) markAttendance(c *gin.Context) {
	var req attendance.MarkInput
	if !bind(c, &req) {
		return
	}
	sess, err := h.svc.MarkAttendance(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance updated", "session": sess})
}

func (h *Handler) listVolunteers(c *gin.Context) {
	volunteers, err := h.svc.ListVolunteers(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volunteers": volunteers})
}

func (h *Handler) editVolunteer(c *gin.Context) {
	var req attendance.EditVolunteerInput
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.EditVolunteer(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "volunteer updated", "volunteer": u})
}

func (h *Handler) removeVolunteer(c *gin.Context) {
	if err := h.svc.RemoveVolunteer(c.Request.Context(), auth.ActorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "volunteer deleted"})
}

func (h *Handler) volunteerAttendance(c *gin.Context) {
	ctx, actor, id := c.Request.Context(), auth.ActorFrom(c), c.Param("id")
	count, err := h.svc.GetAttendanceCount(ctx, actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := h.svc.GetAttendanceHistory(ctx, actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volunteerId": id, "count": count, "sessions": history})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.svc.ListUsers(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) assignTask(c *gin.Context) {
	var req attendance.AssignTaskInput
	if !bind(c, &req) {
		return
	}
	task, err := h.svc.AssignTask(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "task assigned", "task": task})
}

func (h *Handler) getProfile(c *gin.Context) {
	profile, err := h.svc.GetProfile(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req attendance.UpdateProfileInput
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.UpdateProfile(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated", "user": u})
}

func (h *Handler) setAvailability(c *gin.Context) {
	var req attendance.AvailabilityInput
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.SetAvailability(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "availability updated", "isAvailable": u.IsAvailable})
}

func (h *Handler) myHistory(c *gin.Context) {
	actor := auth.ActorFrom(c)
	history, err := h.svc.GetAttendanceHistory(c.Request.Context(), actor, actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": history})
}

func (h *Handler) myTasks(c *gin.Context) {
	tasks, err := h.svc.ListTasks(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
