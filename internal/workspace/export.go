package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
)

// Format is a workspace export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q", s)}
	}
}

// Export writes the active workspace. YAML output uses the same field names
// as the JSON form.
func (s *Store) Export(w io.Writer, format Format) error {
	ws, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("export workspace: %w", err)
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}

	if format == FormatYAML {
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("encode workspace: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode workspace yaml: %w", err)
		}
		return enc.Close()
	}

	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Import stores a workspace read from r. The imported workspace keeps its
// id unless that id is already taken. It does not become active.
func (s *Store) Import(r io.Reader, format Format) (*domain.Workspace, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}

	if format == FormatYAML {
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("decode workspace yaml: %w", err)
		}
		raw, err = json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("decode workspace yaml: %w", err)
		}
	}

	var ws domain.Workspace
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}
	if err := validateName("name", ws.Name); err != nil {
		return nil, fmt.Errorf("import workspace: %w", err)
	}
	normalize(&ws)

	if ws.ID == "" {
		ws.ID = newID()
	} else if _, ok, err := s.kv.Get(workspaceKey(ws.ID)); err != nil {
		return nil, fmt.Errorf("import workspace: %w", err)
	} else if ok {
		ws.ID = newID()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = s.now()
	}
	ws.UpdatedAt = s.now()

	s.mu.Lock()
	s.write(&ws)
	s.mu.Unlock()

	s.logger.Info("imported workspace", slog.String("id", ws.ID), slog.String("name", ws.Name))
	return ws.Clone(), nil
}
