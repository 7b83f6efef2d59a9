package handler

import (
	"coinbank/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires middleware and routes. m may be nil.
func SetupRouter(h *Handler, logger *zap.Logger, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())
	if m != nil {
		r.Use(MetricsMiddleware(m))
	}

	api := r.Group("/api/v1")
	{
		users := api.Group("/users")
		{
			users.POST("", h.Register)
			users.GET("", h.ListUsers)
			users.GET("/:id", h.GetUser)
			users.PUT("/:id", h.UpdateUser)
			users.PATCH("/:id", h.PatchUser)
			users.DELETE("/:id", h.DeleteUser)

			users.PATCH("/:id/balance", h.AdjustBalance)
			users.GET("/:id/ledger", h.ListLedger)
		}

		auth := api.Group("/auth")
		{
			auth.POST("/signin", h.SignIn)
		}

		api.POST("/transfers", h.Transfer)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	return r
}
