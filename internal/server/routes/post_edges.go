package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/pkg/common"
)

// CreateEdgeHandler creates one edge, recorded as created by the caller.
func CreateEdgeHandler(c echo.Context) error {
	app, user := appContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	spec := new(common.EdgeSpec)
	if err := c.Bind(spec); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(spec); err != nil {
		return badRequest(c, "Invalid request params")
	}
	spec.CreatedBy = user.UserID

	start := time.Now()
	edge, err := app.Engine.CreateEdge(c.Request().Context(), *spec)
	metrics.Observe("create_edge", start, err)
	if err != nil {
		return engineError(c, "create_edge", err)
	}

	return c.JSON(http.StatusCreated, edge)
}

// CreateEdgesBulkHandler creates every valid edge of the batch. It answers 207
// when at least one item was rejected.
func CreateEdgesBulkHandler(c echo.Context) error {
	type bulkRequest struct {
		Edges []common.EdgeSpec `json:"edges" validate:"max=1000"`
	}

	app, user := appContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	data := new(bulkRequest)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Too many edges in one request, the limit is 1000")
	}
	for i := range data.Edges {
		data.Edges[i].CreatedBy = user.UserID
	}

	start := time.Now()
	res := app.Engine.CreateEdgesBulk(c.Request().Context(), data.Edges)
	metrics.Observe("create_edges_bulk", start, nil)
	metrics.ObserveBulk(len(res.Created), len(res.Failed))

	status := http.StatusCreated
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, res)
}
