// Package embedded implements store.Store on an embedded badger database.
//
// It backs the engine tests and single-process local development. Values are
// JSON; edges are additionally indexed by endpoint so node-anchored queries
// do not scan every edge.
//
// Key layout:
//
//	entity/<kind>/<id>          common.Entity
//	edge/<id>                   common.Edge
//	out/<kind>/<id>/<edge id>   empty, edge index by source
//	in/<kind>/<id>/<edge id>    empty, edge index by target
//	team/<id>                   common.Team
//	member/<team id>/<person>   role
package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/logger"
	"github.com/skillgraph/backend/pkg/store"
)

// Config configures the badger database.
type Config struct {
	// Path is the data directory. An empty path opens an in-memory database.
	Path string
	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool
}

const maxConflictRetries = 5

// Store is a store.Store backed by badger. Every mutation is one badger
// transaction.
type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error("[Badger] " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn("[Badger] " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug("[Badger] " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*Store, error) {
	return Open(Config{})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, rerunning it when a concurrent
// transaction committed a key fn read.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func entityKey(ref common.EntityRef) []byte {
	return []byte("entity/" + string(ref.Kind) + "/" + ref.ID)
}

func edgeKey(id string) []byte {
	return []byte("edge/" + id)
}

func outPrefix(ref common.EntityRef) []byte {
	return []byte("out/" + string(ref.Kind) + "/" + ref.ID + "/")
}

func inPrefix(ref common.EntityRef) []byte {
	return []byte("in/" + string(ref.Kind) + "/" + ref.ID + "/")
}

func teamKey(id string) []byte {
	return []byte("team/" + id)
}

func memberPrefix(teamID string) []byte {
	return []byte("member/" + teamID + "/")
}

func checkID(what, id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("invalid %s id %q", what, id)
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// suffixes returns the last key segment of every key under prefix.
func suffixes(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out
}

func (s *Store) GetEntity(ctx context.Context, ref common.EntityRef) (*common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ent common.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, entityKey(ref), &ent)
	})
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (s *Store) GetEntities(ctx context.Context, refs []common.EntityRef) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(refs))
	err := s.db.View(func(txn *badger.Txn) error {
		seen := make(map[common.EntityRef]struct{}, len(refs))
		for _, ref := range refs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}

			var ent common.Entity
			err := getJSON(txn, entityKey(ref), &ent)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, ent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// candidateEdgeIDs narrows the scan using the most selective part of filter.
// A nil result with ok false means every edge has to be scanned.
func candidateEdgeIDs(txn *badger.Txn, filter common.EdgeFilter) (ids []string, ok bool) {
	if len(filter.IDs) > 0 {
		return store.DedupeStrings(filter.IDs), true
	}
	if len(filter.Nodes) == 0 {
		return nil, false
	}
	for _, ref := range filter.Nodes {
		if filter.Direction != common.DirectionIncoming {
			ids = append(ids, suffixes(txn, outPrefix(ref))...)
		}
		if filter.Direction != common.DirectionOutgoing {
			ids = append(ids, suffixes(txn, inPrefix(ref))...)
		}
	}
	return store.DedupeStrings(ids), true
}

func (s *Store) GetEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]common.Edge, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		ids, indexed := candidateEdgeIDs(txn, filter)
		if indexed {
			for _, id := range ids {
				var edge common.Edge
				err := getJSON(txn, edgeKey(id), &edge)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if store.MatchEdge(edge, filter) {
					out = append(out, edge)
				}
			}
			return nil
		}

		prefix := []byte("edge/")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var edge common.Edge
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &edge)
			})
			if err != nil {
				return err
			}
			if store.MatchEdge(edge, filter) {
				out = append(out, edge)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeEdge(txn *badger.Txn, edge common.Edge) error {
	if err := setJSON(txn, edgeKey(edge.ID), edge); err != nil {
		return err
	}
	if err := txn.Set(append(outPrefix(edge.Source()), edge.ID...), nil); err != nil {
		return err
	}
	return txn.Set(append(inPrefix(edge.Target()), edge.ID...), nil)
}

func dropEdge(txn *badger.Txn, edge common.Edge) error {
	if err := txn.Delete(edgeKey(edge.ID)); err != nil {
		return err
	}
	if err := txn.Delete(append(outPrefix(edge.Source()), edge.ID...)); err != nil {
		return err
	}
	return txn.Delete(append(inPrefix(edge.Target()), edge.ID...))
}

func (s *Store) InsertEdge(ctx context.Context, edge common.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID("edge", edge.ID); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return writeEdge(txn, edge)
	})
}

// UpdateEdge runs the read, apply and write in one transaction. A conflicting
// writer makes the transaction fail and update retries it on fresh data.
func (s *Store) UpdateEdge(ctx context.Context, id string, apply func(*common.Edge) error) (*common.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var updated common.Edge
	err := s.update(func(txn *badger.Txn) error {
		var cur common.Edge
		if err := getJSON(txn, edgeKey(id), &cur); err != nil {
			return err
		}
		next := cur
		if err := apply(&next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.SourceID, next.SourceKind = cur.SourceID, cur.SourceKind
		next.TargetID, next.TargetKind = cur.TargetID, cur.TargetKind
		if err := writeEdge(txn, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		var old common.Edge
		err := getJSON(txn, edgeKey(id), &old)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return dropEdge(txn, old)
	})
}

func (s *Store) GetTeam(ctx context.Context, teamID string) (*common.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var team common.Team
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, teamKey(teamID), &team)
	})
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *Store) GetTeamMembers(ctx context.Context, teamID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var members []string
	err := s.db.View(func(txn *badger.Txn) error {
		members = suffixes(txn, memberPrefix(teamID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// PutEntity creates or replaces an entity.
func (s *Store) PutEntity(ctx context.Context, ent common.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ent.Kind.IsValid() {
		return fmt.Errorf("invalid entity kind %q", ent.Kind)
	}
	if err := checkID(string(ent.Kind), ent.ID); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, entityKey(ent.Ref()), ent)
	})
}

// DeleteEntity removes an entity and leaves its edges in place. Cleaning them
// up is a separate, explicit step.
func (s *Store) DeleteEntity(ctx context.Context, ref common.EntityRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete(entityKey(ref))
	})
}

// PutTeam creates or replaces a team.
func (s *Store) PutTeam(ctx context.Context, team common.Team) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID("team", team.ID); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, teamKey(team.ID), team)
	})
}

// AddTeamMember adds a person to an existing team with the given role.
func (s *Store) AddTeamMember(ctx context.Context, teamID, personID, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID("person", personID); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(teamKey(teamID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		return txn.Set(append(memberPrefix(teamID), personID...), []byte(role))
	})
}

func (s *Store) RemoveTeamMember(ctx context.Context, teamID, personID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete(append(memberPrefix(teamID), personID...))
	})
}

// TeamMemberRole returns the role a person holds in a team, or
// store.ErrNotFound if they are not a member.
func (s *Store) TeamMemberRole(ctx context.Context, teamID, personID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var role string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(memberPrefix(teamID), personID...))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		role = string(val)
		return err
	})
	return role, err
}

// EdgeIDsForEntity returns the ids of every edge with ref as an endpoint,
// read from the endpoint index alone.
func (s *Store) EdgeIDsForEntity(ctx context.Context, ref common.EntityRef) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		ids = append(suffixes(txn, outPrefix(ref)), suffixes(txn, inPrefix(ref))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids = store.DedupeStrings(ids)
	slices.Sort(ids)
	return ids, nil
}
