package workspace

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
)

// Keys must be addressable by the placeholder grammar.
var variableKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// variables returns the variable list of an environment, or the global list
// when environmentID is empty.
func variables(ws *domain.Workspace, environmentID string) (*[]domain.Variable, error) {
	if environmentID == "" {
		return &ws.GlobalVariables, nil
	}
	i := envIndex(ws, environmentID)
	if i < 0 {
		return nil, fmt.Errorf("environment %s: %w", environmentID, errors.ErrNotFound)
	}
	return &ws.Environments[i].Variables, nil
}

func validateVariable(v domain.Variable) error {
	if !variableKeyPattern.MatchString(v.Key) {
		return errors.ValidationError{Field: "key", Message: "must match [A-Za-z0-9_]+"}
	}
	return nil
}

// AddVariable appends a variable to an environment, or to the global scope
// when environmentID is empty. Duplicate keys are allowed; resolution uses
// the first enabled one.
func (s *Store) AddVariable(environmentID string, v domain.Variable) (domain.Variable, error) {
	if err := validateVariable(v); err != nil {
		return domain.Variable{}, fmt.Errorf("add variable: %w", err)
	}
	if v.ID == "" {
		v.ID = newID()
	}
	err := s.mutate("add variable", func(ws *domain.Workspace) error {
		list, err := variables(ws, environmentID)
		if err != nil {
			return err
		}
		*list = append(*list, v)
		return nil
	})
	if err != nil {
		return domain.Variable{}, err
	}
	return v, nil
}

// UpdateVariable replaces a variable in place, keeping its position.
func (s *Store) UpdateVariable(environmentID string, v domain.Variable) error {
	if err := validateVariable(v); err != nil {
		return fmt.Errorf("update variable: %w", err)
	}
	return s.mutate("update variable", func(ws *domain.Workspace) error {
		list, err := variables(ws, environmentID)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(*list, func(x domain.Variable) bool { return x.ID == v.ID })
		if i < 0 {
			return fmt.Errorf("variable %s: %w", v.ID, errors.ErrNotFound)
		}
		(*list)[i] = v
		return nil
	})
}

// DeleteVariable removes a variable from its scope.
func (s *Store) DeleteVariable(environmentID, variableID string) error {
	return s.mutate("delete variable", func(ws *domain.Workspace) error {
		list, err := variables(ws, environmentID)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(*list, func(x domain.Variable) bool { return x.ID == variableID })
		if i < 0 {
			return fmt.Errorf("variable %s: %w", variableID, errors.ErrNotFound)
		}
		*list = slices.Delete(*list, i, i+1)
		return nil
	})
}

// SetVariable updates the first variable with key in the scope, or adds a
// new enabled one.
func (s *Store) SetVariable(environmentID, key, value string, secret bool) (domain.Variable, error) {
	v := domain.Variable{Key: key, Value: value, Enabled: true, Secret: secret}
	if err := validateVariable(v); err != nil {
		return domain.Variable{}, fmt.Errorf("set variable: %w", err)
	}
	err := s.mutate("set variable", func(ws *domain.Workspace) error {
		list, err := variables(ws, environmentID)
		if err != nil {
			return err
		}
		if i := slices.IndexFunc(*list, func(x domain.Variable) bool { return x.Key == key }); i >= 0 {
			v.ID = (*list)[i].ID
			(*list)[i] = v
			return nil
		}
		v.ID = newID()
		*list = append(*list, v)
		return nil
	})
	if err != nil {
		return domain.Variable{}, err
	}
	return v, nil
}
