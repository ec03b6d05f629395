// Package tabs holds the open request tabs: ordering, activation, dirty
// tracking and the per-tab response state written by the session manager.
package tabs

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
)

const defaultBody = "{}"

// OpenRequest describes a tab created from method selection.
type OpenRequest struct {
	Service string // fully qualified service name
	Method  domain.Method
	// Environment seeds the tab's environment selection and its metadata,
	// auth and TLS. Nil leaves empty defaults. The registry never picks an
	// environment itself; callers pass the one new tabs should start from
	// (the CLI passes the workspace's active environment).
	Environment *domain.Environment
}

// Patch is a partial tab edit. Nil fields are left untouched.
type Patch struct {
	Title                      *string
	Body                       *string
	Messages                   *[]domain.ClientStreamMessage
	Metadata                   map[string]string
	DisableEnvironmentMetadata *bool
	Auth                       *domain.AuthConfig
	TLS                        *domain.TLSConfig
	ClearTLS                   bool
	RequestHost                *string
	RequestPort                *int
	ClearEndpoint              bool
	SelectedEnvironmentID      *string
}

func (p Patch) empty() bool {
	return p.Title == nil && p.Body == nil && p.Messages == nil && p.Metadata == nil &&
		p.DisableEnvironmentMetadata == nil && p.Auth == nil && p.TLS == nil && !p.ClearTLS &&
		p.RequestHost == nil && p.RequestPort == nil && !p.ClearEndpoint && p.SelectedEnvironmentID == nil
}

// Registry is the ordered set of open tabs. All methods are safe for
// concurrent use; tabs handed out are copies.
type Registry struct {
	mu       sync.RWMutex
	tabs     []*domain.RequestTab
	activeID string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		now:    time.Now,
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Open creates a tab for a method, or activates the tab already open for
// it. The boolean reports whether a new tab was created.
func (r *Registry) Open(req OpenRequest) (*domain.RequestTab, bool) {
	service := req.Service
	if service == "" {
		service = req.Method.ServiceName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tabs {
		if t.SavedRequestID == "" && t.Service == service && t.Method == req.Method.Name {
			r.activeID = t.ID
			r.logger.Debug("activated existing tab",
				slog.String("id", t.ID),
				slog.String("method", t.FullMethod()))
			return t.Clone(), false
		}
	}

	body := req.Method.SampleBody
	if body == "" {
		body = defaultBody
	}
	tab := &domain.RequestTab{
		ID:        newID(),
		Title:     req.Method.Name,
		Service:   service,
		Method:    req.Method.Name,
		Shape:     req.Method.Shape(),
		Body:      body,
		Metadata:  map[string]string{},
		Auth:      domain.NoAuth(),
		Status:    domain.StatusIdle,
		CreatedAt: r.now(),
	}
	if env := req.Environment; env != nil {
		tab.SelectedEnvironmentID = env.ID
		if md := domain.CloneMetadata(env.Metadata); md != nil {
			tab.Metadata = md
		}
		tab.Auth = env.Auth.Clone()
		tab.TLS = env.TLS.Clone()
	}

	r.insert(tab)
	return tab.Clone(), true
}

// OpenSaved opens a saved request, activating its tab if already open.
func (r *Registry) OpenSaved(saved domain.SavedRequest, environmentID string) *domain.RequestTab {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tabs {
		if t.SavedRequestID == saved.ID {
			r.activeID = t.ID
			return t.Clone()
		}
	}

	saved = saved.Clone()
	tab := &domain.RequestTab{
		ID:                    newID(),
		Title:                 saved.Name,
		Service:               saved.Service,
		Method:                saved.Method,
		Shape:                 saved.Shape,
		Body:                  saved.Body,
		Metadata:              saved.Metadata,
		Auth:                  saved.Auth,
		TLS:                   saved.TLS,
		SelectedEnvironmentID: environmentID,
		SavedRequestID:        saved.ID,
		Status:                domain.StatusIdle,
		CreatedAt:             r.now(),
	}
	if tab.Metadata == nil {
		tab.Metadata = map[string]string{}
	}
	tab.Messages = r.seedMessages(saved.Messages)

	r.insert(tab)
	return tab.Clone()
}

// OpenHistory opens a new tab replaying a history entry against its
// recorded endpoint.
func (r *Registry) OpenHistory(entry domain.HistoryEntry) *domain.RequestTab {
	host := entry.Endpoint.Host
	port := entry.Endpoint.Port
	tls := entry.TLS

	tab := &domain.RequestTab{
		ID:                    newID(),
		Title:                 entry.Method,
		Service:               entry.Service,
		Method:                entry.Method,
		Shape:                 entry.Shape,
		Body:                  entry.Request,
		Metadata:              domain.CloneMetadata(entry.Metadata),
		Auth:                  entry.Auth.Clone(),
		TLS:                   &tls,
		RequestHost:           &host,
		RequestPort:           &port,
		SelectedEnvironmentID: entry.EnvironmentID,
		Status:                domain.StatusIdle,
		CreatedAt:             r.now(),
	}
	if tab.Metadata == nil {
		tab.Metadata = map[string]string{}
	}
	tab.Messages = r.seedMessages(entry.Messages)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(tab)
	return tab.Clone()
}

func (r *Registry) seedMessages(bodies []string) []domain.ClientStreamMessage {
	if len(bodies) == 0 {
		return nil
	}
	out := make([]domain.ClientStreamMessage, len(bodies))
	for i, b := range bodies {
		out[i] = domain.ClientStreamMessage{ID: newID(), Body: b}
	}
	return out
}

// insert appends and activates a tab. Caller holds the lock.
func (r *Registry) insert(tab *domain.RequestTab) {
	r.tabs = append(r.tabs, tab)
	r.activeID = tab.ID
	r.logger.Debug("opened tab",
		slog.String("id", tab.ID),
		slog.String("method", tab.FullMethod()),
		slog.String("shape", string(tab.Shape)))
}

func (r *Registry) index(id string) int {
	return slices.IndexFunc(r.tabs, func(t *domain.RequestTab) bool { return t.ID == id })
}

// Get returns a copy of the tab.
func (r *Registry) Get(id string) (*domain.RequestTab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.index(id)
	if i < 0 {
		return nil, false
	}
	return r.tabs[i].Clone(), true
}

// List returns copies of all tabs in display order.
func (r *Registry) List() []*domain.RequestTab {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.RequestTab, len(r.tabs))
	for i, t := range r.tabs {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of open tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// ActiveID returns the active tab id, or "" when no tab is open.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Active returns a copy of the active tab.
func (r *Registry) Active() (*domain.RequestTab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.index(r.activeID)
	if i < 0 {
		return nil, false
	}
	return r.tabs[i].Clone(), true
}

// Activate makes the tab active.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index(id) < 0 {
		return fmt.Errorf("activate %s: %w", id, errors.ErrTabNotFound)
	}
	r.activeID = id
	return nil
}

// Update merges a patch into the tab. Any configuration change marks the
// tab dirty.
func (r *Registry) Update(id string, p Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return fmt.Errorf("update %s: %w", id, errors.ErrTabNotFound)
	}
	if p.empty() {
		return nil
	}

	t := r.tabs[i]
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Body != nil {
		t.Body = *p.Body
	}
	if p.Messages != nil {
		t.Messages = append([]domain.ClientStreamMessage(nil), (*p.Messages)...)
	}
	if p.Metadata != nil {
		t.Metadata = domain.CloneMetadata(p.Metadata)
	}
	if p.DisableEnvironmentMetadata != nil {
		t.DisableEnvironmentMetadata = *p.DisableEnvironmentMetadata
	}
	if p.Auth != nil {
		t.Auth = p.Auth.Clone()
	}
	switch {
	case p.ClearTLS:
		t.TLS = nil
	case p.TLS != nil:
		t.TLS = p.TLS.Clone()
	}
	if p.ClearEndpoint {
		t.RequestHost = nil
		t.RequestPort = nil
	}
	if p.RequestHost != nil {
		h := *p.RequestHost
		t.RequestHost = &h
	}
	if p.RequestPort != nil {
		port := *p.RequestPort
		t.RequestPort = &port
	}
	if p.SelectedEnvironmentID != nil {
		t.SelectedEnvironmentID = *p.SelectedEnvironmentID
	}
	t.IsDirty = true
	return nil
}

// Apply runs fn against the live tab under the registry lock without
// touching the dirty flag. It reports false when the tab is not open, which
// makes late completions for closed tabs a no-op.
func (r *Registry) Apply(id string, fn func(*domain.RequestTab)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return false
	}
	fn(r.tabs[i])
	return true
}

// MarkClean clears the dirty flag and links the tab to its saved request.
func (r *Registry) MarkClean(id, savedRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return fmt.Errorf("mark clean %s: %w", id, errors.ErrTabNotFound)
	}
	r.tabs[i].IsDirty = false
	if savedRequestID != "" {
		r.tabs[i].SavedRequestID = savedRequestID
	}
	return nil
}

// Close removes a tab. When the active tab closes, the tab that followed it
// becomes active, or the new last tab, or none.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return fmt.Errorf("close %s: %w", id, errors.ErrTabNotFound)
	}
	r.tabs = slices.Delete(r.tabs, i, i+1)

	if r.activeID == id {
		switch {
		case len(r.tabs) == 0:
			r.activeID = ""
		case i < len(r.tabs):
			r.activeID = r.tabs[i].ID
		default:
			r.activeID = r.tabs[len(r.tabs)-1].ID
		}
	}
	r.logger.Debug("closed tab", slog.String("id", id), slog.Int("count", len(r.tabs)))
	return nil
}

// CloseAll drops every tab and returns the closed ids.
func (r *Registry) CloseAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.tabs))
	for i, t := range r.tabs {
		ids[i] = t.ID
	}
	r.tabs = nil
	r.activeID = ""
	return ids
}

// AppendStreamMessage appends a streamed message to its tab in arrival
// order. Events for unknown tabs are dropped.
func (r *Registry) AppendStreamMessage(evt domain.StreamEvent) bool {
	return r.Apply(evt.TabID, func(t *domain.RequestTab) {
		t.StreamingMessages = append(t.StreamingMessages, domain.StreamMessage{
			ID:        evt.TabID + "-" + strconv.Itoa(evt.Index),
			Index:     evt.Index,
			Data:      evt.Data,
			Timestamp: evt.Timestamp,
		})
	})
}

// QueueMessage appends an unsent client-stream message.
func (r *Registry) QueueMessage(id, body string) (domain.ClientStreamMessage, error) {
	msg := domain.ClientStreamMessage{ID: newID(), Body: body}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return domain.ClientStreamMessage{}, fmt.Errorf("queue message on %s: %w", id, errors.ErrTabNotFound)
	}
	r.tabs[i].Messages = append(r.tabs[i].Messages, msg)
	r.tabs[i].IsDirty = true
	return msg, nil
}

// RemoveMessage removes a queued client-stream message.
func (r *Registry) RemoveMessage(id, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return fmt.Errorf("remove message on %s: %w", id, errors.ErrTabNotFound)
	}
	t := r.tabs[i]
	j := slices.IndexFunc(t.Messages, func(m domain.ClientStreamMessage) bool { return m.ID == messageID })
	if j < 0 {
		return fmt.Errorf("message %s: %w", messageID, errors.ErrNotFound)
	}
	t.Messages = slices.Delete(t.Messages, j, j+1)
	t.IsDirty = true
	return nil
}
