package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"encorely/controllers"
	"encorely/database"
)

func SetupRoutes(r *gin.Engine, importController *controllers.ImportController) {
	db := database.GetDB()

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(503, gin.H{
				"status":    "unhealthy",
				"error":     "database connection error",
				"timestamp": time.Now().Unix(),
			})
			return
		}

		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := sqlDB.PingContext(pingCtx); err != nil {
			c.JSON(503, gin.H{
				"status":    "unhealthy",
				"error":     "database ping failed",
				"timestamp": time.Now().Unix(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":    "healthy",
			"database":  "connected",
			"timestamp": time.Now().Unix(),
		})
	})

	api := r.Group("/api")

	api.POST("/import/:artist/start", importController.StartImport)
	api.GET("/import/:artist/status", importController.GetStatus)
	api.GET("/import/:artist/stream", importController.StreamStatus)
	api.GET("/imports/history", importController.GetHistory)
}
