package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/auth"
	"volunteerportal/internal/model"
)

func (h *Handler) register(c *gin.Context) {
	var req attendance.RegisterInput
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "user registered", "user": u})
}

func (h *Handler) login(c *gin.Context) {
	var req attendance.LoginInput
	if !bind(c, &req) {
		return
	}
	u, err := h.svc.Authenticate(c.Request.Context(), req)
	if err != nil {
		writeCredentialError(c, err)
		return
	}
	h.issueTokens(c, u)
}

func (h *Handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !bind(c, &req) {
		return
	}
	claims, err := h.issuer.Parse(req.RefreshToken, auth.TypeRefresh)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	u, err := h.svc.CurrentUser(c.Request.Context(), claims.Actor())
	if err != nil {
		writeCredentialError(c, err)
		return
	}
	h.issueTokens(c, u)
}

func (h *Handler) issueTokens(c *gin.Context, u *model.User) {
	tokens, err := h.issuer.Issue(model.Actor{ID: u.ID, Role: u.Role, Email: u.Email})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         u,
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"expiresAt":    tokens.AccessExp.Unix(),
	})
}

// writeCredentialError answers failed logins with 401 instead of 403.
func writeCredentialError(c *gin.Context, err error) {
	if model.KindOf(err) == model.KindAuthorization {
		writeErrorStatus(c, http.StatusUnauthorized, err)
		return
	}
	writeError(c, err)
}
