package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"shopflow/internal/apperr"
	"shopflow/internal/models"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"

	ctxAccountID = "account_id"
	ctxRole      = "role"
	ctxAccount   = "account"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Account, error)
}

// AccessToken: сначала cookie, потом Authorization: Bearer.
func AccessToken(c *gin.Context) string {
	if v, err := c.Cookie(AccessCookie); err == nil && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := auth.Authenticate(c.Request.Context(), AccessToken(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(ctxAccountID, acc.ID)
		c.Set(ctxRole, acc.Role)
		c.Set(ctxAccount, acc)
		c.Next()
	}
}

func AccountID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxAccountID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func CurrentAccount(c *gin.Context) (*models.Account, bool) {
	v, ok := c.Get(ctxAccount)
	if !ok {
		return nil, false
	}
	acc, ok := v.(*models.Account)
	return acc, ok
}

// AbortWithError пишет тело ошибки: {"success":false,"code","message"}.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	kind := apperr.KindOf(err)
	c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{
		"success": false,
		"code":    kind.Code(),
		"message": apperr.PublicMessage(err),
	})
}
