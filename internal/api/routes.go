package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.POST("/valuations/lookup", handler.LookupComps)
		api.POST("/valuations/estimate", handler.EstimateValue)
		api.POST("/valuations/:subject_id/refresh", handler.RefreshComps)
		api.DELETE("/valuations/:subject_id/cache", handler.ClearCache)
		api.GET("/valuations/:subject_id/geojson", handler.GetCompsGeoJSON)

		api.POST("/manual-comps", handler.AddManualComp)
		api.DELETE("/manual-comps/:id", handler.DeleteManualComp)

		api.GET("/subjects/:id/manual-comps", handler.ListManualComps)
		api.GET("/subjects/:id/analyses", handler.ListAnalyses)
		api.GET("/subjects/:id/progress", handler.GetProgress)

		api.POST("/analyses", handler.SaveAnalysis)
		api.GET("/analyses/:id", handler.GetAnalysis)
		api.DELETE("/analyses/:id", handler.DeleteAnalysis)

		api.POST("/sales", handler.ImportSales)
		api.POST("/update-coordinates", handler.UpdateCoordinates)
	}
}
