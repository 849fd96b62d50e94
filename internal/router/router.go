package router

import (
	"net/http"
	"os"
	"strings"

	"aa-backend/internal/handlers"
	"aa-backend/internal/middleware"
	"aa-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware CORS middleware.
// Priority: CORS_ALLOWED_ORIGINS environment variable > default (*)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			allowedOrigins = allowedOrigins[:0]
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowedOrigin := range allowedOrigins {
				if allowedOrigin == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SetupRouter wires all HTTP routes
func SetupRouter(
	chainHandler *handlers.ChainHandler,
	triggerHandler *handlers.TriggerHandler,
	jobsHandler *handlers.JobsHandler,
	authHandler *handlers.AuthHandler,
	pushService *services.JobPushService,
) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	logger := logrus.New()
	authMiddleware := middleware.NewAuthMiddleware(logger)
	localhostOnly := middleware.NewLocalhostOnly(logger, nil)

	// ============ Health Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/ready", handlers.ReadyCheckHandler)

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Job Status Stream ============
	r.GET("/ws/jobs", func(c *gin.Context) {
		pushService.HandleWebSocket(c.Writer, c.Request)
	})

	// ============ API Routes ============
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth())
	{
		v1.GET("/auth/verify", authHandler.VerifyTokenHandler)

		v1.POST("/disbursements", chainHandler.DisburseHandler)

		v1.POST("/otp/send", chainHandler.SendOtpHandler)
		v1.POST("/otp/verify", chainHandler.VerifyOtpHandler)
		v1.POST("/redeem", chainHandler.RedeemHandler)

		v1.GET("/wallets/:address/balance", chainHandler.BalanceHandler)

		v1.POST("/triggers", triggerHandler.AddTriggerHandler)
		v1.PATCH("/triggers/:id/params", triggerHandler.UpdateTriggerParamsHandler)
		v1.GET("/triggers/:id", triggerHandler.GetTriggerHandler)

		v1.GET("/jobs/:id", jobsHandler.GetJobHandler)

		admin := v1.Group("")
		admin.Use(authMiddleware.RequireAdmin(), localhostOnly.Restrict())
		{
			admin.POST("/tokens/assign", chainHandler.AssignTokensHandler)
			admin.POST("/tokens/transfer", chainHandler.TransferTokensHandler)
			admin.POST("/accounts/fund", chainHandler.FundAccountHandler)
		}
	}

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message":    "Endpoint not found",
			"path":       c.Request.URL.Path,
			"suggestion": "Check documentation for available /api/v1 endpoints",
		})
	})

	return r
}
