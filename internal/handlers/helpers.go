package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shopflow/internal/apperr"
	"shopflow/internal/middleware"
	"shopflow/internal/services"
)

// Response — общий конверт успешного ответа.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse — тело ошибки, его же пишет middleware.AbortWithError.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionData — токены в JSON дублируют cookie для клиентов без cookie.
type SessionData struct {
	Account          any       `json:"account"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type CookieOptions struct {
	Secure bool
	Domain string
}

const refreshCookiePath = "/api/v1/auth"

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return false
	}
	return true
}

func accountIDFromCtx(c *gin.Context) (string, bool) {
	id, ok := middleware.AccountID(c)
	if !ok {
		respondError(c, apperr.New(apperr.KindUnauthorized, "authentication required"))
	}
	return id, ok
}

func sessionData(s *services.Session) SessionData {
	return SessionData{
		Account:          s.Account,
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}
}

func setSessionCookies(c *gin.Context, opts CookieOptions, s *services.Session) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AccessCookie, s.AccessToken, maxAge(s.AccessExpiresAt), "/", opts.Domain, opts.Secure, true)
	c.SetCookie(middleware.RefreshCookie, s.RefreshToken, maxAge(s.RefreshExpiresAt), refreshCookiePath, opts.Domain, opts.Secure, true)
}

func clearSessionCookies(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AccessCookie, "", -1, "/", opts.Domain, opts.Secure, true)
	c.SetCookie(middleware.RefreshCookie, "", -1, refreshCookiePath, opts.Domain, opts.Secure, true)
}

func maxAge(expiresAt time.Time) int {
	secs := int(time.Until(expiresAt).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
