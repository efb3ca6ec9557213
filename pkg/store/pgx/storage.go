// Package pgx implements store.Store on PostgreSQL through pgx.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Storage is a store.Store backed by PostgreSQL. Every call runs under its
// own timeout. Reads are retried on failure, writes are not.
type Storage struct {
	conn        pgxIConn
	timeout     time.Duration
	readRetries int
	backoff     time.Duration
	anchorChunk int
}

var _ store.Store = (*Storage)(nil)

type StorageOption func(*Storage)

// WithTimeout sets the per-call query timeout.
func WithTimeout(d time.Duration) StorageOption {
	return func(s *Storage) {
		s.timeout = d
	}
}

// WithReadRetries sets how many times a failed read is attempted.
func WithReadRetries(n int, backoff time.Duration) StorageOption {
	return func(s *Storage) {
		s.readRetries = n
		s.backoff = backoff
	}
}

// NewStorageWithConnection creates a Storage on an existing pool or
// connection.
func NewStorageWithConnection(conn pgxIConn, opts ...StorageOption) *Storage {
	s := &Storage{
		conn:        conn,
		timeout:     5 * time.Second,
		readRetries: 3,
		backoff:     100 * time.Millisecond,
		anchorChunk: 1000,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// read runs fn under the query timeout and retries it. fn reports a missing
// row with found == false so that a miss is never retried.
func read[T any](ctx context.Context, s *Storage, fn func(ctx context.Context) (T, bool, error)) (T, error) {
	type result struct {
		v     T
		found bool
	}
	res, err := util.RetryWithContext(ctx, s.readRetries, s.backoff, func(ctx context.Context) (result, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, found, err := fn(qctx)
		return result{v: v, found: found}, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !res.found {
		var zero T
		return zero, store.ErrNotFound
	}
	return res.v, nil
}

func (s *Storage) write(ctx context.Context, fn func(ctx context.Context) error) error {
	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(qctx)
}

var entityTables = map[common.EntityKind]string{
	common.KindPerson:  `SELECT id, name, '' FROM people WHERE id = ANY($1)`,
	common.KindSkill:   `SELECT id, name, COALESCE(category, '') FROM skills WHERE id = ANY($1)`,
	common.KindProject: `SELECT id, title, '' FROM projects WHERE id = ANY($1)`,
}

func (s *Storage) GetEntity(ctx context.Context, ref common.EntityRef) (*common.Entity, error) {
	ents, err := s.GetEntities(ctx, []common.EntityRef{ref})
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, store.ErrNotFound
	}
	return &ents[0], nil
}

func (s *Storage) GetEntities(ctx context.Context, refs []common.EntityRef) ([]common.Entity, error) {
	byKind := make(map[common.EntityKind][]string)
	for _, ref := range refs {
		if _, ok := entityTables[ref.Kind]; !ok {
			continue
		}
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.ID)
	}

	out := make([]common.Entity, 0, len(refs))
	for _, kind := range common.EntityKinds {
		ids := store.DedupeStrings(byKind[kind])
		if len(ids) == 0 {
			continue
		}
		ents, err := read(ctx, s, func(ctx context.Context) ([]common.Entity, bool, error) {
			rows, err := s.conn.Query(ctx, entityTables[kind], ids)
			if err != nil {
				return nil, false, err
			}
			ents, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Entity, error) {
				ent := common.Entity{Kind: kind}
				err := row.Scan(&ent.ID, &ent.Label, &ent.Category)
				return ent, err
			})
			return ents, true, err
		})
		if err != nil {
			return nil, fmt.Errorf("get %s entities: %w", kind, err)
		}
		out = append(out, ents...)
	}
	return out, nil
}

const edgeColumns = `id, source_id, source_kind, target_id, target_kind, relationship_type,
       strength, metadata, created_by, created_at, updated_at`

func scanEdge(row pgxv5.CollectableRow) (common.Edge, error) {
	return scanEdgeRow(row)
}

func scanEdgeRow(row pgxv5.Row) (common.Edge, error) {
	var (
		e                      common.Edge
		sourceKind, targetKind string
		relType                string
		meta                   []byte
	)
	err := row.Scan(
		&e.ID, &e.SourceID, &sourceKind, &e.TargetID, &targetKind, &relType,
		&e.Strength, &meta, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	e.SourceKind = common.EntityKind(sourceKind)
	e.TargetKind = common.EntityKind(targetKind)
	e.RelationshipType = common.RelationshipType(relType)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata of edge %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func (s *Storage) GetEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error) {
	if len(filter.Nodes) <= s.anchorChunk {
		return s.queryEdges(ctx, filter)
	}

	// Large frontiers are split so a single statement stays bounded; an edge
	// between two chunks can come back twice.
	seen := make(map[string]struct{})
	out := make([]common.Edge, 0)
	err := store.ChunkRange(len(filter.Nodes), s.anchorChunk, func(start, end int) error {
		part := filter
		part.Nodes = filter.Nodes[start:end]
		edges, err := s.queryEdges(ctx, part)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) queryEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error) {
	sql, args := buildEdgeQuery(filter)
	edges, err := read(ctx, s, func(ctx context.Context) ([]common.Edge, bool, error) {
		rows, err := s.conn.Query(ctx, sql, args...)
		if err != nil {
			return nil, false, err
		}
		edges, err := pgxv5.CollectRows(rows, scanEdge)
		return edges, true, err
	})
	if err != nil {
		return nil, fmt.Errorf("get edges: %w", err)
	}
	return edges, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

const insertEdgeSQL = `
INSERT INTO edges (id, source_id, source_kind, target_id, target_kind, relationship_type,
                   strength, metadata, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (s *Storage) InsertEdge(ctx context.Context, e common.Edge) error {
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context) error {
		_, err := s.conn.Exec(ctx, insertEdgeSQL,
			e.ID, e.SourceID, string(e.SourceKind), e.TargetID, string(e.TargetKind), string(e.RelationshipType),
			e.Strength, meta, e.CreatedBy, e.CreatedAt, e.UpdatedAt,
		)
		return err
	})
}

const lockEdgeSQL = `SELECT ` + edgeColumns + `
FROM edges
WHERE id = $1
FOR UPDATE`

const updateEdgeSQL = `
UPDATE edges
SET relationship_type = $2, strength = $3, metadata = $4, updated_at = $5
WHERE id = $1`

// UpdateEdge locks the row, applies the change and writes it back in one
// transaction.
func (s *Storage) UpdateEdge(ctx context.Context, id string, apply func(*common.Edge) error) (*common.Edge, error) {
	var updated common.Edge
	err := s.write(ctx, func(ctx context.Context) error {
		return pgxv5.BeginFunc(ctx, s.conn, func(tx pgxv5.Tx) error {
			cur, err := scanEdgeRow(tx.QueryRow(ctx, lockEdgeSQL, id))
			if errors.Is(err, pgxv5.ErrNoRows) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			next := cur
			if err := apply(&next); err != nil {
				return err
			}
			meta, err := encodeMetadata(next.Metadata)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, updateEdgeSQL, id, string(next.RelationshipType), next.Strength, meta, next.UpdatedAt)
			if err != nil {
				return err
			}
			next.ID = cur.ID
			next.SourceID, next.SourceKind = cur.SourceID, cur.SourceKind
			next.TargetID, next.TargetKind = cur.TargetID, cur.TargetKind
			next.UpdatedAt = next.UpdatedAt.UTC()
			updated = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Storage) DeleteEdge(ctx context.Context, id string) error {
	return s.write(ctx, func(ctx context.Context) error {
		_, err := s.conn.Exec(ctx, `DELETE FROM edges WHERE id = $1`, id)
		return err
	})
}

func (s *Storage) GetTeam(ctx context.Context, teamID string) (*common.Team, error) {
	return read(ctx, s, func(ctx context.Context) (*common.Team, bool, error) {
		var t common.Team
		err := s.conn.QueryRow(ctx, `SELECT id, name FROM teams WHERE id = $1`, teamID).Scan(&t.ID, &t.Name)
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return &t, true, nil
	})
}

func (s *Storage) GetTeamMembers(ctx context.Context, teamID string) ([]string, error) {
	return read(ctx, s, func(ctx context.Context) ([]string, bool, error) {
		rows, err := s.conn.Query(ctx, `SELECT person_id FROM team_members WHERE team_id = $1 ORDER BY person_id`, teamID)
		if err != nil {
			return nil, false, err
		}
		ids, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
		return ids, true, err
	})
}

// TeamMemberRole returns the role a person holds in a team, or
// store.ErrNotFound if they are not a member.
func (s *Storage) TeamMemberRole(ctx context.Context, teamID, personID string) (string, error) {
	return read(ctx, s, func(ctx context.Context) (string, bool, error) {
		var role string
		err := s.conn.QueryRow(ctx,
			`SELECT role FROM team_members WHERE team_id = $1 AND person_id = $2`,
			teamID, personID,
		).Scan(&role)
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return role, true, nil
	})
}

// EdgeIDsForEntity returns the ids of every edge with ref as an endpoint.
func (s *Storage) EdgeIDsForEntity(ctx context.Context, ref common.EntityRef) ([]string, error) {
	return read(ctx, s, func(ctx context.Context) ([]string, bool, error) {
		rows, err := s.conn.Query(ctx, `
SELECT id FROM edges WHERE source_kind = $1 AND source_id = $2
UNION
SELECT id FROM edges WHERE target_kind = $1 AND target_id = $2
ORDER BY id`, string(ref.Kind), ref.ID)
		if err != nil {
			return nil, false, err
		}
		ids, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
		return ids, true, err
	})
}
