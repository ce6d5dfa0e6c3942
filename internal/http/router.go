package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/config"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/http/handler"
	httpmiddleware "github.com/Sanglm2207/my-microservices-app/internal/http/middleware"
	"github.com/Sanglm2207/my-microservices-app/internal/middleware"
)

// Limiters groups the throttles applied to the API. Sensitive covers the
// credential endpoints on top of the general budget.
type Limiters struct {
	General   *middleware.RateLimiter
	Sensitive *middleware.RateLimiter
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, limiters Limiters, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", authHandler.Health)

	internal := r.Group("/internal")
	{
		internal.GET("/users/:id", authHandler.InternalUser)
	}

	sensitive := limiters.Sensitive.Handler()
	authenticated := []gin.HandlerFunc{authMiddleware.Authenticate}
	fullyAuthenticated := []gin.HandlerFunc{authMiddleware.Authenticate, httpmiddleware.RequireTwoFactor}

	api := r.Group("/api/v1/auth", limiters.General.Handler())
	{
		api.POST("/register", sensitive, authHandler.Register)
		api.POST("/login", sensitive, authHandler.Login)
		api.POST("/login/2fa", sensitive, authHandler.LoginTwoFactor)
		api.POST("/refresh", authHandler.Refresh)
		api.POST("/logout", authHandler.Logout)
		api.GET("/verify-email", authHandler.VerifyEmail)
		api.POST("/forgot-password", sensitive, authHandler.ForgotPassword)
		api.POST("/reset-password", sensitive, authHandler.ResetPassword)

		api.POST("/2fa/setup", append(authenticated, authHandler.TwoFactorSetup)...)
		api.POST("/2fa/verify", append(authenticated, authHandler.TwoFactorVerify)...)

		api.GET("/me", append(fullyAuthenticated, authHandler.Me)...)
		api.POST("/change-password", append(fullyAuthenticated, authHandler.ChangePassword)...)
		api.POST("/sessions/revoke", append(fullyAuthenticated, authHandler.RevokeSessions)...)

		admin := api.Group("/admin", append(fullyAuthenticated, httpmiddleware.RequireRole(domain.RoleAdmin))...)
		admin.POST("/users/:id/sessions/revoke", authHandler.AdminRevokeSessions)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
