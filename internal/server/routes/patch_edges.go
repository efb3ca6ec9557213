package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/pkg/common"
)

// UpdateEdgeHandler changes the type, strength or metadata of an edge.
func UpdateEdgeHandler(c echo.Context) error {
	type updateEdgeData struct {
		ID string `param:"id" validate:"required"`
		common.EdgePatch
	}

	app, _ := appContext(c)

	data := new(updateEdgeData)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request params")
	}

	start := time.Now()
	edge, err := app.Engine.UpdateEdge(c.Request().Context(), data.ID, data.EdgePatch)
	metrics.Observe("update_edge", start, err)
	if err != nil {
		return engineError(c, "update_edge", err)
	}

	return c.JSON(http.StatusOK, edge)
}
