package rest

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	router.GET("/healthz", handler.HealthCheck)

	api := router.Group("/api")
	{
		patients := api.Group("/patients/:pid")
		patients.POST("/register", handler.RegisterPatient)
		patients.GET("", handler.GetPatient)
		patients.GET("/history", handler.GetHistory)
		patients.POST("/anchor", handler.Anchor)
		patients.POST("/verify", handler.Verify)
		patients.GET("/fetch", handler.Fetch)
		patients.PUT("/private", handler.PutPrivate)
		patients.GET("/private", handler.GetPrivate)

		api.GET("/anchors/orphans", handler.ListOrphans)
	}
}
