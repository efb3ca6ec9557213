package routes

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/server/middleware"
	"github.com/skillgraph/backend/pkg/common"
)

func appContext(c echo.Context) (*middleware.App, *middleware.AppUser) {
	cc := c.(*middleware.AppContext)
	return cc.App, cc.User
}

// splitList accepts both repeated and comma separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func relationshipTypes(c echo.Context) []common.RelationshipType {
	raw := splitList(c.QueryParams()["relationship_types"])
	if len(raw) == 0 {
		return nil
	}
	types := make([]common.RelationshipType, len(raw))
	for i, t := range raw {
		types[i] = common.RelationshipType(t)
	}
	return types
}

// depthParam reads max_depth. An absent value is nil so the engine applies
// its default; requested depths are capped at limit.
func depthParam(c echo.Context, limit int) (*int, error) {
	if c.QueryParam("max_depth") == "" {
		return nil, nil
	}
	var depth int
	if err := echo.QueryParamsBinder(c).Int("max_depth", &depth).BindError(); err != nil {
		return nil, err
	}
	if limit > 0 && depth > limit {
		depth = limit
	}
	return &depth, nil
}

func optionalFloat(c echo.Context, name string) (*float64, error) {
	if c.QueryParam(name) == "" {
		return nil, nil
	}
	var v float64
	if err := echo.QueryParamsBinder(c).Float64(name, &v).BindError(); err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalTime(c echo.Context, name string) (*time.Time, error) {
	if c.QueryParam(name) == "" {
		return nil, nil
	}
	var v time.Time
	if err := echo.QueryParamsBinder(c).Time(name, &v, time.RFC3339).BindError(); err != nil {
		return nil, err
	}
	return &v, nil
}
