package middleware

import (
	"context"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/queue"
	"github.com/skillgraph/backend/pkg/graph"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// TeamRoles looks up a person's role in a team. It returns store.ErrNotFound
// when the person is not a member.
type TeamRoles interface {
	TeamMemberRole(ctx context.Context, teamID, personID string) (string, error)
}

type App struct {
	Engine         *graph.Engine
	Teams          TeamRoles
	Queue          queue.Publisher
	Key            keyfunc.Keyfunc
	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
	// MaxDepth caps the depth a client may request on traversals.
	MaxDepth int
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
