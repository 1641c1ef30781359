package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"shopflow/internal/authz"
	"shopflow/internal/handlers"
	"shopflow/internal/middleware"
	"shopflow/internal/rate"
)

type Deps struct {
	Auth          *handlers.AuthHandler
	Users         *handlers.UserHandler
	Health        *handlers.HealthHandler
	Authenticator middleware.Authenticator
	// по одному лимитеру на класс; отсутствующий класс не ограничивается
	Limiters map[rate.Class]rate.Limiter
	Metrics  http.Handler
	Logger   *slog.Logger
}

func SetupRoutes(r *gin.Engine, d Deps) *gin.Engine {
	limit := func(class rate.Class) gin.HandlerFunc {
		l, ok := d.Limiters[class]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(class, l, d.Logger)
	}
	requireAuth := middleware.Auth(d.Authenticator)

	// ---- service
	r.GET("/healthz", d.Health.Liveness)
	r.GET("/readyz", d.Health.Readiness)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")

	// ---- auth (public)
	auth := api.Group("/auth")
	{
		auth.POST("/register", limit(rate.ClassGeneral), d.Auth.Register)
		auth.POST("/login", limit(rate.ClassLogin), d.Auth.Login)
		auth.POST("/verify-email", limit(rate.ClassEmailVerification), d.Auth.VerifyEmail)
		auth.POST("/resend-verification", limit(rate.ClassEmailVerification), d.Auth.ResendVerification)
		auth.POST("/forgot-password", limit(rate.ClassPasswordReset), d.Auth.ForgotPassword)
		auth.POST("/reset-password", limit(rate.ClassPasswordReset), d.Auth.ResetPassword)
		auth.POST("/refresh-token", limit(rate.ClassGeneral), d.Auth.RefreshToken)
		auth.POST("/logout", limit(rate.ClassGeneral), requireAuth, d.Auth.Logout)
	}

	// ---- users (JWT); лимитер раньше Auth, иначе отказ всё равно читает store
	users := api.Group("/users", limit(rate.ClassGeneral), requireAuth)
	{
		users.GET("/me", d.Users.Me)
		users.PATCH("/me", d.Users.UpdateProfile)
		users.DELETE("/me", d.Users.DeleteMe)
		users.POST("/change-password", d.Users.ChangePassword)
	}

	// ---- admin
	admin := api.Group("/admin", limit(rate.ClassGeneral), requireAuth, middleware.RequireRoles(authz.RoleAdmin))
	{
		admin.PATCH("/users/:id/status", d.Users.SetStatus)
	}

	return r
}
