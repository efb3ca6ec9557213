// Package backend opens the store selected by the environment and builds the
// graph engine on top of it. Server and worker share it.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillgraph/backend/internal/migrations"
	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/graph"
	"github.com/skillgraph/backend/pkg/logger"
	"github.com/skillgraph/backend/pkg/store"
	"github.com/skillgraph/backend/pkg/store/embedded"
	pgstore "github.com/skillgraph/backend/pkg/store/pgx"
)

const (
	Postgres = "postgres"
	Embedded = "embedded"
)

// TeamRoles is implemented by both stores.
type TeamRoles interface {
	TeamMemberRole(ctx context.Context, teamID, personID string) (string, error)
}

type GraphStore interface {
	store.Store
	TeamRoles
}

type Backend struct {
	Kind  string
	Store GraphStore
	// Pool is nil for the embedded store.
	Pool *pgxpool.Pool

	closers []func()
}

// Close releases the store, newest resource first.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Open connects the store named by STORE_BACKEND. Postgres is migrated first
// unless MIGRATE_ON_START is false.
func Open(ctx context.Context) (*Backend, error) {
	kind := util.GetEnvString("STORE_BACKEND", Postgres)
	switch kind {
	case Postgres:
		return openPostgres(ctx)
	case Embedded:
		return openEmbedded(ctx)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", kind)
	}
}

func openPostgres(ctx context.Context) (*Backend, error) {
	dsn := util.GetEnv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		if err := migrations.Up(util.GetEnvString("MIGRATIONS_PATH", "file://migrations"), dsn); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := pgstore.NewStorageWithConnection(pool,
		pgstore.WithTimeout(util.GetEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second)),
		pgstore.WithReadRetries(int(util.GetEnvNumeric("DB_READ_RETRIES", 3)), 100*time.Millisecond),
	)
	logger.Info("Using postgres store")

	return &Backend{Kind: Postgres, Store: s, Pool: pool, closers: []func(){pool.Close}}, nil
}

func openEmbedded(ctx context.Context) (*Backend, error) {
	path := util.GetEnv("BADGER_PATH")
	s, err := embedded.Open(embedded.Config{
		Path:       path,
		SyncWrites: util.GetEnvBool("BADGER_SYNC_WRITES", false),
	})
	if err != nil {
		return nil, err
	}
	closeStore := func() {
		if err := s.Close(); err != nil {
			logger.Error("Failed to close embedded store", "err", err)
		}
	}
	if path == "" {
		logger.Warn("Using in-memory embedded store, data is lost on exit")
	} else {
		logger.Info("Using embedded store", "path", path)
	}

	if seed := util.GetEnv("SEED_FILE"); seed != "" {
		if err := loadSeedFile(ctx, s, seed); err != nil {
			closeStore()
			return nil, err
		}
	}

	return &Backend{Kind: Embedded, Store: s, closers: []func(){closeStore}}, nil
}

// EngineConfig reads the engine limits from the environment.
func EngineConfig() graph.Config {
	def := graph.DefaultConfig()
	return graph.Config{
		RecommendationCeiling:      int(util.GetEnvNumeric("RECOMMEND_MAX_RESULTS", def.RecommendationCeiling)),
		RecommendationDefaultDepth: int(util.GetEnvNumeric("RECOMMEND_DEFAULT_DEPTH", def.RecommendationDefaultDepth)),
		BulkConcurrency:            int(util.GetEnvNumeric("BULK_CONCURRENCY", def.BulkConcurrency)),
	}
}

// NewEngine builds the graph engine over the backend's store.
func (b *Backend) NewEngine() *graph.Engine {
	return graph.NewEngine(b.Store, EngineConfig())
}
