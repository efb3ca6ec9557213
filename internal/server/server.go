package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/skillgraph/backend/internal/backend"
	"github.com/skillgraph/backend/internal/queue"
	mid "github.com/skillgraph/backend/internal/server/middleware"
	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/logger"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("8M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var k keyfunc.Keyfunc
	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		var err error
		k, err = keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
	} else {
		logger.Warn("AUTH_URL not set, only the master API key is accepted")
	}

	b, err := backend.Open(ctx)
	if err != nil {
		logger.Fatal("Failed to open store", "err", err)
	}
	defer b.Close()

	app := &mid.App{
		Engine:         b.NewEngine(),
		Teams:          b.Store,
		Key:            k,
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
		MaxDepth:       int(util.GetEnvNumeric("GRAPH_MAX_DEPTH", 6)),
	}

	if util.GetEnvBool("QUEUE_ENABLED", true) {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = queue.NewPublisher(ch)
	} else {
		logger.Warn("Queue disabled, detach requests will be rejected")
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port, "store", b.Kind)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
