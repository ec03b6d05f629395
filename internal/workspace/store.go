// Package workspace owns the persisted workspace aggregate: environments,
// variables, collections, saved requests and history. Every mutation is
// applied in memory and then written through a storage.KV; write failures
// are logged rather than returned.
package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
	"github.com/shhac/grpcdesk/internal/storage"
)

const (
	workspacePrefix    = "workspaces/"
	activeWorkspaceKey = "state/active"

	// DefaultHistoryLimit caps the history list of a workspace.
	DefaultHistoryLimit = 100
)

// Summary identifies a stored workspace.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SwitchFunc is called after the active workspace changes. next is "" when
// no workspace is active any more.
type SwitchFunc func(prev, next string)

// Options tunes a Store.
type Options struct {
	HistoryLimit int
}

// Store is the single owner of workspace state.
type Store struct {
	mu           sync.Mutex
	kv           storage.KV
	logger       *slog.Logger
	active       *domain.Workspace
	historyLimit int
	onSwitch     []SwitchFunc
	now          func() time.Time
}

// NewStore creates a store over kv. Call Load to restore the last active
// workspace.
func NewStore(kv storage.KV, logger *slog.Logger, opts Options) *Store {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		kv:           kv,
		logger:       logger,
		historyLimit: limit,
		now:          time.Now,
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func workspaceKey(id string) string {
	return workspacePrefix + id
}

// OnSwitch registers a hook run whenever the active workspace changes.
func (s *Store) OnSwitch(fn SwitchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwitch = append(s.onSwitch, fn)
}

// Load restores the workspace that was active when the store last ran.
// A missing or unreadable record leaves no workspace active.
func (s *Store) Load() error {
	data, ok, err := s.kv.Get(activeWorkspaceKey)
	if err != nil {
		return fmt.Errorf("read active workspace: %w", err)
	}
	if !ok {
		return nil
	}
	ws, err := s.read(string(data))
	if err != nil {
		s.logger.Warn("failed to restore active workspace",
			slog.String("id", string(data)),
			slog.Any("error", err))
		return nil
	}

	s.mu.Lock()
	s.active = ws
	s.mu.Unlock()

	s.logger.Info("restored workspace", slog.String("id", ws.ID), slog.String("name", ws.Name))
	return nil
}

func (s *Store) read(id string) (*domain.Workspace, error) {
	data, ok, err := s.kv.Get(workspaceKey(id))
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, errors.ErrNotFound)
	}
	var ws domain.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode workspace %s: %w", id, err)
	}
	normalize(&ws)
	return &ws, nil
}

// normalize fills nil collections left by older or hand-edited records.
func normalize(ws *domain.Workspace) {
	if ws.Environments == nil {
		ws.Environments = []domain.Environment{}
	}
	if ws.GlobalVariables == nil {
		ws.GlobalVariables = []domain.Variable{}
	}
	if ws.Collections == nil {
		ws.Collections = []domain.Collection{}
	}
	if ws.Folders == nil {
		ws.Folders = map[string]domain.Folder{}
	}
	if ws.Requests == nil {
		ws.Requests = map[string]domain.SavedRequest{}
	}
	if ws.History == nil {
		ws.History = []domain.HistoryEntry{}
	}
}

// write persists ws. Errors are logged, never returned.
func (s *Store) write(ws *domain.Workspace) {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode workspace", slog.String("id", ws.ID), slog.Any("error", err))
		return
	}
	if err := s.kv.Set(workspaceKey(ws.ID), data); err != nil {
		s.logger.Error("failed to persist workspace", slog.String("id", ws.ID), slog.Any("error", err))
		return
	}
	s.logger.Debug("persisted workspace", slog.String("id", ws.ID), slog.Int("bytes", len(data)))
}

func (s *Store) writeActiveID(id string) {
	var err error
	if id == "" {
		err = s.kv.Delete(activeWorkspaceKey)
	} else {
		err = s.kv.Set(activeWorkspaceKey, []byte(id))
	}
	if err != nil {
		s.logger.Error("failed to persist active workspace", slog.String("id", id), slog.Any("error", err))
	}
}

// mutate applies fn to the active workspace and persists the result. The
// write happens under the store lock so records land in mutation order.
func (s *Store) mutate(op string, fn func(ws *domain.Workspace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return fmt.Errorf("%s: %w", op, errors.ErrNoActiveWorkspace)
	}
	if err := fn(s.active); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.active.UpdatedAt = s.now()
	s.write(s.active)
	return nil
}

// view runs fn against the active workspace under the lock.
func (s *Store) view(fn func(ws *domain.Workspace)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return errors.ErrNoActiveWorkspace
	}
	fn(s.active)
	return nil
}

func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}

// Create stores a new empty workspace. It does not become active.
func (s *Store) Create(name string) (*domain.Workspace, error) {
	if err := validateName("name", name); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws := domain.NewWorkspace(newID(), strings.TrimSpace(name))
	ws.CreatedAt = s.now()
	ws.UpdatedAt = ws.CreatedAt

	s.mu.Lock()
	s.write(ws)
	s.mu.Unlock()

	s.logger.Info("created workspace", slog.String("id", ws.ID), slog.String("name", ws.Name))
	return ws.Clone(), nil
}

// List returns every stored workspace, ordered by name.
func (s *Store) List() ([]Summary, error) {
	keys, err := s.kv.Keys(workspacePrefix)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		ws, err := s.read(strings.TrimPrefix(key, workspacePrefix))
		if err != nil {
			s.logger.Warn("skipping unreadable workspace", slog.String("key", key), slog.Any("error", err))
			continue
		}
		out = append(out, Summary{ID: ws.ID, Name: ws.Name, UpdatedAt: ws.UpdatedAt})
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Find returns the first stored workspace whose id or name matches.
func (s *Store) Find(idOrName string) (Summary, bool, error) {
	all, err := s.List()
	if err != nil {
		return Summary{}, false, err
	}
	for _, sum := range all {
		if sum.ID == idOrName {
			return sum, true, nil
		}
	}
	for _, sum := range all {
		if strings.EqualFold(sum.Name, idOrName) {
			return sum, true, nil
		}
	}
	return Summary{}, false, nil
}

// Open makes the workspace active. Switch hooks run after the lock is
// released so they may call back into the store.
func (s *Store) Open(id string) error {
	ws, err := s.read(id)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}

	s.mu.Lock()
	prev := ""
	if s.active != nil {
		prev = s.active.ID
	}
	s.active = ws
	s.writeActiveID(ws.ID)
	hooks := slices.Clone(s.onSwitch)
	s.mu.Unlock()

	s.logger.Info("opened workspace", slog.String("id", ws.ID), slog.String("name", ws.Name))
	for _, fn := range hooks {
		fn(prev, ws.ID)
	}
	return nil
}

// OpenOrCreate opens the workspace matching idOrName, creating it first
// when none exists.
func (s *Store) OpenOrCreate(idOrName string) (Summary, error) {
	sum, ok, err := s.Find(idOrName)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		ws, err := s.Create(idOrName)
		if err != nil {
			return Summary{}, err
		}
		sum = Summary{ID: ws.ID, Name: ws.Name, UpdatedAt: ws.UpdatedAt}
	}
	if s.ActiveID() == sum.ID {
		return sum, nil
	}
	return sum, s.Open(sum.ID)
}

// Delete removes a stored workspace. Deleting the active one leaves no
// workspace active.
func (s *Store) Delete(id string) error {
	if _, ok, err := s.kv.Get(workspaceKey(id)); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	} else if !ok {
		return fmt.Errorf("delete workspace %s: %w", id, errors.ErrNotFound)
	}

	s.mu.Lock()
	if err := s.kv.Delete(workspaceKey(id)); err != nil {
		s.logger.Error("failed to delete workspace", slog.String("id", id), slog.Any("error", err))
	}
	var hooks []SwitchFunc
	if s.active != nil && s.active.ID == id {
		s.active = nil
		s.writeActiveID("")
		hooks = slices.Clone(s.onSwitch)
	}
	s.mu.Unlock()

	s.logger.Info("deleted workspace", slog.String("id", id))
	for _, fn := range hooks {
		fn(id, "")
	}
	return nil
}

// Rename renames a stored workspace.
func (s *Store) Rename(id, name string) error {
	if err := validateName("name", name); err != nil {
		return fmt.Errorf("rename workspace: %w", err)
	}
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.ID == id {
		s.active.Name = name
		s.active.UpdatedAt = s.now()
		s.write(s.active)
		return nil
	}
	ws, err := s.read(id)
	if err != nil {
		return fmt.Errorf("rename workspace: %w", err)
	}
	ws.Name = name
	ws.UpdatedAt = s.now()
	s.write(ws)
	return nil
}

// ActiveID returns the id of the active workspace, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// Active summarises the active workspace.
func (s *Store) Active() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Summary{}, false
	}
	return Summary{ID: s.active.ID, Name: s.active.Name, UpdatedAt: s.active.UpdatedAt}, true
}

// Snapshot returns a deep copy of the active workspace.
func (s *Store) Snapshot() (*domain.Workspace, error) {
	var out *domain.Workspace
	if err := s.view(func(ws *domain.Workspace) { out = ws.Clone() }); err != nil {
		return nil, err
	}
	return out, nil
}

// SetActiveTab records the active tab id on the workspace.
func (s *Store) SetActiveTab(tabID string) error {
	return s.mutate("set active tab", func(ws *domain.Workspace) error {
		ws.ActiveTabID = tabID
		return nil
	})
}
