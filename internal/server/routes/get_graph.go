package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/graph"
)

// TraverseHandler returns the subgraph reachable from one entity.
func TraverseHandler(c echo.Context) error {
	type traverseParams struct {
		ID        string `query:"id" validate:"required"`
		Kind      string `query:"kind" validate:"required,oneof=person skill project"`
		Direction string `query:"direction" validate:"omitempty,oneof=outgoing incoming both"`
	}

	app, _ := appContext(c)

	params := new(traverseParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	depth, err := depthParam(c, app.MaxDepth)
	if err != nil {
		return badRequest(c, "Invalid max_depth")
	}

	start := time.Now()
	res, err := app.Engine.Traverse(c.Request().Context(), graph.TraverseParams{
		Start:             common.EntityRef{ID: params.ID, Kind: common.EntityKind(params.Kind)},
		Direction:         common.Direction(params.Direction),
		RelationshipTypes: relationshipTypes(c),
		MaxDepth:          depth,
	})
	metrics.Observe("traverse", start, err)
	if err != nil {
		return engineError(c, "traverse", err)
	}
	metrics.ObserveTraversal("traverse", len(res.Nodes))

	return c.JSON(http.StatusOK, res)
}

// TeamGraphHandler returns the subgraph around all members of a team.
func TeamGraphHandler(c echo.Context) error {
	type teamGraphParams struct {
		TeamID    string `param:"id" validate:"required"`
		Direction string `query:"direction" validate:"omitempty,oneof=outgoing incoming both"`
	}

	app, _ := appContext(c)

	params := new(teamGraphParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	depth, err := depthParam(c, app.MaxDepth)
	if err != nil {
		return badRequest(c, "Invalid max_depth")
	}

	var kinds []common.EntityKind
	for _, k := range splitList(c.QueryParams()["node_kinds"]) {
		kind := common.EntityKind(k)
		if !kind.IsValid() {
			return badRequest(c, "Unknown node kind "+k)
		}
		kinds = append(kinds, kind)
	}

	start := time.Now()
	res, err := app.Engine.TeamGraph(c.Request().Context(), graph.TeamGraphParams{
		TeamID:            params.TeamID,
		Direction:         common.Direction(params.Direction),
		RelationshipTypes: relationshipTypes(c),
		NodeKinds:         kinds,
		MaxDepth:          depth,
	})
	metrics.Observe("team_graph", start, err)
	if err != nil {
		return engineError(c, "team_graph", err)
	}
	metrics.ObserveTraversal("team_graph", len(res.Nodes))

	return c.JSON(http.StatusOK, res)
}
