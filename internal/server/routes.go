package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillgraph/backend/internal/server/middleware"
	"github.com/skillgraph/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Edge routes
	apiRoutes.GET("/edges", routes.GetEdgesHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.POST("/edges", routes.CreateEdgeHandler, middleware.RequirePermission("edge.create"))
	apiRoutes.POST("/edges/bulk", routes.CreateEdgesBulkHandler, middleware.RequirePermission("edge.create"))
	apiRoutes.PATCH("/edges/:id", routes.UpdateEdgeHandler, middleware.RequirePermission("edge.update"))
	apiRoutes.DELETE("/edges/:id", routes.DeleteEdgeHandler, middleware.RequirePermission("edge.delete"))

	// Graph routes
	apiRoutes.GET("/graph/traverse", routes.TraverseHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.GET("/teams/:id/graph", routes.TeamGraphHandler, middleware.RequirePermission("graph.view"))

	// Analytics routes, authorized per resource in the handler
	apiRoutes.GET("/people/:id/recommendations", routes.GetRecommendationsHandler)
	apiRoutes.GET("/teams/:id/coverage", routes.GetCoverageHandler)

	apiRoutes.POST("/entities/:kind/:id/detach", routes.DetachEntityHandler, middleware.RequirePermission("entity.detach"))
}
