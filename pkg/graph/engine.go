package graph

import (
	"time"

	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/store"
)

// Config holds the tunables of the engine.
type Config struct {
	// RecommendationCeiling caps the number of rows RecommendSkills returns,
	// whatever limit the caller asks for.
	RecommendationCeiling int
	// RecommendationDefaultDepth is used when RecommendSkills gets a
	// non-positive depth.
	RecommendationDefaultDepth int
	// BulkConcurrency bounds how many items of a bulk create run at once.
	BulkConcurrency int
}

// DefaultConfig returns the configuration used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		RecommendationCeiling:      50,
		RecommendationDefaultDepth: 2,
		BulkConcurrency:            8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RecommendationCeiling <= 0 {
		c.RecommendationCeiling = def.RecommendationCeiling
	}
	if c.RecommendationDefaultDepth <= 0 {
		c.RecommendationDefaultDepth = def.RecommendationDefaultDepth
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = def.BulkConcurrency
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the time source used for edge timestamps. Readings are
// converted to UTC and truncated to microseconds.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator replaces the generator used for new edge ids.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// Engine is the graph relationship engine. It is stateless between calls and
// safe for concurrent use; the store is the sole owner of graph state.
type Engine struct {
	store    store.Store
	registry *Registry
	cfg      Config
	now      func() time.Time
	newID    func() (string, error)
}

// NewEngine creates an engine on top of s.
func NewEngine(s store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		registry: NewRegistry(s),
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    util.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	// Timestamps are kept at the precision PostgreSQL stores so the edge a
	// write returns equals the edge a later read returns.
	clock := e.now
	e.now = func() time.Time {
		return clock().UTC().Truncate(time.Microsecond)
	}
	return e
}

// Registry returns the entity registry the engine validates against.
func (e *Engine) Registry() *Registry {
	return e.registry
}
