package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	moderatorSubject     = "local:moderator"
	moderatorDisplayName = "Moderator"
)

type loginRequestPayload struct {
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	if h.passwords == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorPayload{
			Error:   "login_disabled",
			Message: "Moderator login is not configured.",
		})
		return
	}
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "Request body must be a JSON object with a password.")
		return
	}
	if err := h.passwords.Verify(request.Password); err != nil {
		h.logger.Warn("moderator login rejected", zap.String("client_ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{
			Error:   "invalid_credentials",
			Message: "The password is incorrect.",
		})
		return
	}

	issued, err := h.tokens.IssueSessionToken(c.Request.Context(), auth.Identity{
		UserID:      moderatorSubject,
		DisplayName: moderatorDisplayName,
		Roles:       []string{auth.RoleModerator},
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorPayload{
			Error:   "token_issue_failed",
			Message: "Something on our side failed. Please try again later.",
		})
		return
	}

	h.setSessionCookie(c, issued.Value, issued.ExpiresAt)
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: issued.Value,
		TokenType:   "Bearer",
		ExpiresAt:   issued.ExpiresAt,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.setSessionCookie(c, "", time.Unix(0, 0))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) setSessionCookie(c *gin.Context, value string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(c.Writer, cookie)
}

func (h *httpHandler) authorizeModerator(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{
			Error:   "unauthorized",
			Message: "Sign in as a moderator to continue.",
		})
		return
	}
	if !claims.HasRole(auth.RoleModerator) {
		c.AbortWithStatusJSON(http.StatusForbidden, errorPayload{
			Error:   "forbidden",
			Message: "This account cannot moderate the campaign.",
		})
		return
	}
	moderatorID, err := h.moderators.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve moderator", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorPayload{
			Error:   "internal_error",
			Message: "Something on our side failed. Please try again later.",
		})
		return
	}
	c.Set(moderatorIDContextKey, moderatorID)
	c.Next()
}
