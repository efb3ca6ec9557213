package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/pkg/common"
)

// GetEdgesHandler lists edges matching the query filters. node_id and
// node_kind anchor the query on one entity, direction picks its side.
func GetEdgesHandler(c echo.Context) error {
	app, _ := appContext(c)

	filter := common.EdgeFilter{
		IDs:               splitList(c.QueryParams()["ids"]),
		RelationshipTypes: relationshipTypes(c),
		CreatedBy:         c.QueryParam("created_by"),
	}

	nodeID, nodeKind := c.QueryParam("node_id"), c.QueryParam("node_kind")
	if (nodeID == "") != (nodeKind == "") {
		return badRequest(c, "node_id and node_kind must be given together")
	}
	if nodeID != "" {
		filter.Nodes = []common.EntityRef{{ID: nodeID, Kind: common.EntityKind(nodeKind)}}
		filter.Direction = common.Direction(c.QueryParam("direction"))
		if filter.Direction == "" {
			filter.Direction = common.DirectionBoth
		}
	}

	var err error
	if filter.StrengthMin, err = optionalFloat(c, "strength_min"); err != nil {
		return badRequest(c, "Invalid strength_min")
	}
	if filter.StrengthMax, err = optionalFloat(c, "strength_max"); err != nil {
		return badRequest(c, "Invalid strength_max")
	}
	if filter.CreatedAfter, err = optionalTime(c, "created_after"); err != nil {
		return badRequest(c, "Invalid created_after, expected RFC 3339")
	}
	if filter.CreatedBefore, err = optionalTime(c, "created_before"); err != nil {
		return badRequest(c, "Invalid created_before, expected RFC 3339")
	}

	start := time.Now()
	edges, err := app.Engine.GetEdges(c.Request().Context(), filter)
	metrics.Observe("get_edges", start, err)
	if err != nil {
		return engineError(c, "get_edges", err)
	}

	return c.JSON(http.StatusOK, edges)
}
