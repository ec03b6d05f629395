package workspace

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
)

func envIndex(ws *domain.Workspace, id string) int {
	return slices.IndexFunc(ws.Environments, func(e domain.Environment) bool { return e.ID == id })
}

func prepareEnvironment(env domain.Environment) (domain.Environment, error) {
	if err := validateName("name", env.Name); err != nil {
		return env, err
	}
	if err := env.Auth.Validate(); err != nil {
		return env, err
	}
	env = env.Clone()
	if env.Variables == nil {
		env.Variables = []domain.Variable{}
	}
	for i := range env.Variables {
		if env.Variables[i].ID == "" {
			env.Variables[i].ID = newID()
		}
	}
	if env.Metadata == nil {
		env.Metadata = map[string]string{}
	}
	if env.Auth.Type == "" {
		env.Auth = domain.NoAuth()
	}
	return env, nil
}

// AddEnvironment appends an environment. The first environment of a
// workspace becomes active.
func (s *Store) AddEnvironment(env domain.Environment) (domain.Environment, error) {
	env, err := prepareEnvironment(env)
	if err != nil {
		return domain.Environment{}, fmt.Errorf("add environment: %w", err)
	}
	if env.ID == "" {
		env.ID = newID()
	}

	err = s.mutate("add environment", func(ws *domain.Workspace) error {
		if envIndex(ws, env.ID) >= 0 {
			return errors.ValidationError{Field: "id", Message: "duplicate environment id " + env.ID}
		}
		ws.Environments = append(ws.Environments, env)
		if ws.ActiveEnvironmentID == "" {
			ws.ActiveEnvironmentID = env.ID
		}
		return nil
	})
	if err != nil {
		return domain.Environment{}, err
	}
	s.logger.Debug("added environment", slog.String("id", env.ID), slog.String("name", env.Name))
	return env.Clone(), nil
}

// UpdateEnvironment replaces an environment by id.
func (s *Store) UpdateEnvironment(env domain.Environment) error {
	env, err := prepareEnvironment(env)
	if err != nil {
		return fmt.Errorf("update environment: %w", err)
	}
	return s.mutate("update environment", func(ws *domain.Workspace) error {
		i := envIndex(ws, env.ID)
		if i < 0 {
			return fmt.Errorf("environment %s: %w", env.ID, errors.ErrNotFound)
		}
		ws.Environments[i] = env
		return nil
	})
}

// DeleteEnvironment removes an environment. When it was active the head of
// the remaining list becomes active, or none.
func (s *Store) DeleteEnvironment(id string) error {
	return s.mutate("delete environment", func(ws *domain.Workspace) error {
		i := envIndex(ws, id)
		if i < 0 {
			return fmt.Errorf("environment %s: %w", id, errors.ErrNotFound)
		}
		ws.Environments = slices.Delete(ws.Environments, i, i+1)
		if ws.ActiveEnvironmentID == id {
			ws.ActiveEnvironmentID = ""
			if len(ws.Environments) > 0 {
				ws.ActiveEnvironmentID = ws.Environments[0].ID
			}
		}
		return nil
	})
}

// SetActiveEnvironment selects the active environment. An empty id selects
// none.
func (s *Store) SetActiveEnvironment(id string) error {
	return s.mutate("set active environment", func(ws *domain.Workspace) error {
		if id != "" && envIndex(ws, id) < 0 {
			return fmt.Errorf("environment %s: %w", id, errors.ErrNotFound)
		}
		ws.ActiveEnvironmentID = id
		return nil
	})
}

// DuplicateEnvironment copies an environment, with fresh ids, directly
// after the original.
func (s *Store) DuplicateEnvironment(id string) (domain.Environment, error) {
	var dup domain.Environment
	err := s.mutate("duplicate environment", func(ws *domain.Workspace) error {
		i := envIndex(ws, id)
		if i < 0 {
			return fmt.Errorf("environment %s: %w", id, errors.ErrNotFound)
		}
		dup = ws.Environments[i].Clone()
		dup.ID = newID()
		dup.Name += " (copy)"
		for j := range dup.Variables {
			dup.Variables[j].ID = newID()
		}
		ws.Environments = slices.Insert(ws.Environments, i+1, dup)
		return nil
	})
	if err != nil {
		return domain.Environment{}, err
	}
	return dup.Clone(), nil
}
