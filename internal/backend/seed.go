package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/logger"
	"github.com/skillgraph/backend/pkg/store/embedded"
)

// Seed is the development fixture format loaded into the embedded store.
type Seed struct {
	Entities []common.Entity `json:"entities"`
	Teams    []struct {
		common.Team
		Members []struct {
			PersonID string `json:"person_id"`
			Role     string `json:"role"`
		} `json:"members"`
	} `json:"teams"`
}

// LoadSeed decodes a Seed from r and writes it into s.
func LoadSeed(ctx context.Context, s *embedded.Store, r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, ent := range seed.Entities {
		if !ent.Kind.IsValid() {
			return fmt.Errorf("seed entity %q: unknown kind %q", ent.ID, ent.Kind)
		}
		if err := s.PutEntity(ctx, ent); err != nil {
			return fmt.Errorf("seed entity %s: %w", ent.Ref(), err)
		}
	}
	for _, team := range seed.Teams {
		if err := s.PutTeam(ctx, team.Team); err != nil {
			return fmt.Errorf("seed team %q: %w", team.ID, err)
		}
		for _, m := range team.Members {
			role := m.Role
			if role == "" {
				role = "member"
			}
			if err := s.AddTeamMember(ctx, team.ID, m.PersonID, role); err != nil {
				return fmt.Errorf("seed member %q of %q: %w", m.PersonID, team.ID, err)
			}
		}
	}

	logger.Info("Seed loaded", "entities", len(seed.Entities), "teams", len(seed.Teams))
	return nil
}

func loadSeedFile(ctx context.Context, s *embedded.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return LoadSeed(ctx, s, f)
}
