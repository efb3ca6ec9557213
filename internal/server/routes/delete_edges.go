package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
)

// DeleteEdgeHandler removes an edge. Deleting a missing edge also answers 204.
func DeleteEdgeHandler(c echo.Context) error {
	app, _ := appContext(c)

	start := time.Now()
	err := app.Engine.DeleteEdge(c.Request().Context(), c.Param("id"))
	metrics.Observe("delete_edge", start, err)
	if err != nil {
		return engineError(c, "delete_edge", err)
	}

	return c.NoContent(http.StatusNoContent)
}
