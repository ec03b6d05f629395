// Package session drives the call lifecycle of request tabs: it builds the
// effective configuration, dispatches to the backend, tracks client-stream
// progress and correlates streamed events back to their tab.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shhac/grpcdesk/internal/callconfig"
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
	"github.com/shhac/grpcdesk/internal/events"
	"github.com/shhac/grpcdesk/internal/tabs"
	"github.com/shhac/grpcdesk/internal/vars"
)

// ErrClosed is reported by Start when the manager closed before the
// subscription completed.
var ErrClosed = stderrors.New("session manager closed")

// UnresolvedFunc is notified when a dispatch leaves placeholders unresolved.
// The call still proceeds.
type UnresolvedFunc func(tabID string, unresolved []domain.UnresolvedVariable)

// Options configures a Manager.
type Options struct {
	CallConfig   callconfig.Options
	Tracer       trace.Tracer
	OnUnresolved UnresolvedFunc
}

// streamState is what the manager remembers about an open client stream.
type streamState struct {
	config domain.EffectiveCallConfig
	opened time.Time
	sent   []string
	envID  string
}

// Manager is the call session manager.
type Manager struct {
	backend Backend
	source  EventSource
	tabs    *tabs.Registry
	store   WorkspaceSource
	logger  *slog.Logger
	opts    Options
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.Mutex
	started  bool
	closed   bool
	listener *events.Listener
	pumpDone chan struct{}
	streams  map[string]*streamState
}

// NewManager creates a manager. Call Start to begin receiving stream events.
func NewManager(backend Backend, source EventSource, registry *tabs.Registry, store WorkspaceSource, logger *slog.Logger, opts Options) *Manager {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("grpcdesk/session")
	}
	return &Manager{
		backend: backend,
		source:  source,
		tabs:    registry,
		store:   store,
		logger:  logger,
		opts:    opts,
		tracer:  tracer,
		now:     time.Now,
		streams: make(map[string]*streamState),
	}
}

// Start subscribes to stream events once. The returned channel reports the
// subscription outcome. If Close runs while the subscription is still in
// flight, the late subscription is cancelled immediately and ErrClosed is
// reported. The subscription lives as long as ctx; once ctx ends, Start may
// be called again to resubscribe.
func (m *Manager) Start(ctx context.Context) <-chan error {
	result := make(chan error, 1)

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		result <- ErrClosed
		return result
	case m.started:
		m.mu.Unlock()
		result <- nil
		return result
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		l, err := m.source.Subscribe(ctx)
		if err != nil {
			m.logger.Error("failed to subscribe to stream events", slog.Any("error", err))
			m.mu.Lock()
			m.started = false
			m.mu.Unlock()
			result <- err
			return
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			l.Cancel()
			m.logger.Debug("cancelled subscription that completed after close")
			result <- ErrClosed
			return
		}
		m.listener = l
		m.pumpDone = make(chan struct{})
		done := m.pumpDone
		m.mu.Unlock()

		go m.pump(l, done)
		result <- nil
	}()
	return result
}

func (m *Manager) pump(l *events.Listener, done chan struct{}) {
	defer close(done)
	defer m.detach(l)
	for {
		select {
		case evt := <-l.C:
			if !m.tabs.AppendStreamMessage(evt) {
				m.logger.Debug("dropped stream event for closed tab",
					slog.String("tab_id", evt.TabID),
					slog.Int("index", evt.Index))
			}
		case <-l.Done():
			return
		}
	}
}

// detach forgets a listener that ended on its own so Start can subscribe
// again. Close clears the listener first, making this a no-op there.
func (m *Manager) detach(l *events.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == l {
		m.listener = nil
		m.pumpDone = nil
		m.started = false
		m.logger.Warn("stream event subscription ended")
	}
}

// Close unsubscribes and tears down open streams. Safe to call twice.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	l, done := m.listener, m.pumpDone
	m.listener = nil
	open := make([]string, 0, len(m.streams))
	for id := range m.streams {
		open = append(open, id)
	}
	m.streams = make(map[string]*streamState)
	m.mu.Unlock()

	m.cancelStreams(open)
	if l != nil {
		l.Cancel()
		<-done
	}
}

func (m *Manager) cancelStreams(tabIDs []string) {
	canceler, ok := m.backend.(StreamCanceler)
	if !ok {
		return
	}
	for _, id := range tabIDs {
		canceler.CancelStream(id)
	}
}

// Reset closes every tab and open stream. Used when the active workspace
// changes.
func (m *Manager) Reset() {
	m.mu.Lock()
	open := make([]string, 0, len(m.streams))
	for id := range m.streams {
		open = append(open, id)
	}
	m.streams = make(map[string]*streamState)
	m.mu.Unlock()

	m.cancelStreams(open)
	ids := m.tabs.CloseAll()
	m.logger.Debug("reset sessions", slog.Int("count", len(ids)))
}

// CloseTab closes a tab, cancelling its stream if one is open. Completions
// arriving later for the tab are ignored.
func (m *Manager) CloseTab(tabID string) error {
	m.mu.Lock()
	_, open := m.streams[tabID]
	delete(m.streams, tabID)
	m.mu.Unlock()

	if open {
		m.cancelStreams([]string{tabID})
	}
	return m.tabs.Close(tabID)
}

func (m *Manager) workspace() (*domain.Workspace, error) {
	ws, err := m.store.Snapshot()
	if stderrors.Is(err, errors.ErrNoActiveWorkspace) {
		return nil, nil
	}
	return ws, err
}

func (m *Manager) notifyUnresolved(tabID string, unresolved []domain.UnresolvedVariable) {
	if len(unresolved) == 0 {
		return
	}
	placeholders := make([]string, len(unresolved))
	for i, u := range unresolved {
		placeholders[i] = u.Placeholder
	}
	m.logger.Warn("unresolved variables",
		slog.String("tab_id", tabID),
		slog.Any("placeholders", placeholders))
	if m.opts.OnUnresolved != nil {
		m.opts.OnUnresolved(tabID, unresolved)
	}
}

// validateBody parses the resolved body as JSON.
func validateBody(field, body string) error {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return errors.ValidationError{Field: field, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func (m *Manager) startSpan(ctx context.Context, name string, tab *domain.RequestTab) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("tab.id", tab.ID),
		attribute.String("rpc.service", tab.Service),
		attribute.String("rpc.method", tab.Method),
		attribute.String("rpc.shape", string(tab.Shape)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

// Send dispatches the tab. Single-shot and server-streamed tabs run the
// call to completion; client-streamed and bidirectional tabs open their
// stream and wait for messages.
func (m *Manager) Send(ctx context.Context, tabID string) error {
	tab, ok := m.tabs.Get(tabID)
	if !ok {
		return fmt.Errorf("send %s: %w", tabID, errors.ErrTabNotFound)
	}
	switch tab.Shape {
	case domain.ShapeUnary, domain.ShapeServerStream:
		return m.sendUnary(ctx, tab)
	case domain.ShapeClientStream, domain.ShapeBidiStream:
		return m.openStream(ctx, tab)
	default:
		return fmt.Errorf("send %s: %w: %q", tabID, errors.ErrUnsupportedShape, tab.Shape)
	}
}

func (m *Manager) sendUnary(ctx context.Context, tab *domain.RequestTab) (err error) {
	ctx, span := m.startSpan(ctx, "session.send", tab)
	defer func() { endSpan(span, err) }()

	ws, err := m.workspace()
	if err != nil {
		return err
	}
	body := vars.Resolve(tab.Body, callconfig.VariableContext(ws, tab.SelectedEnvironmentID))
	if err := validateBody("body", body.Resolved); err != nil {
		return m.fail(tab.ID, err, 0)
	}

	cfg := callconfig.Build(tab, ws, m.opts.CallConfig)
	m.notifyUnresolved(tab.ID, vars.MergeUnresolved(body.Unresolved, cfg.Unresolved))

	m.tabs.Apply(tab.ID, func(t *domain.RequestTab) {
		t.Status = domain.StatusSending
		t.IsLoading = true
		t.IsStreaming = t.Shape == domain.ShapeServerStream
		t.Response = ""
		t.Failure = nil
		t.StreamingMessages = nil
		t.StatusCode = 0
		t.StatusMessage = ""
	})

	m.logger.Debug("dispatching call",
		slog.String("tab_id", tab.ID),
		slog.String("method", tab.FullMethod()),
		slog.String("address", cfg.Endpoint.Address()))

	start := m.now()
	result, err := m.backend.ExecuteUnaryOrServerStream(ctx, UnaryCall{
		TabID:   tab.ID,
		Service: tab.Service,
		Method:  tab.Method,
		Shape:   tab.Shape,
		Body:    body.Resolved,
		Config:  cfg,
	})
	elapsed := m.now().Sub(start)
	if err != nil {
		return m.fail(tab.ID, err, elapsed)
	}

	m.complete(tab.ID, result, elapsed, domain.HistoryEntry{
		Endpoint:      cfg.Endpoint,
		Service:       tab.Service,
		Method:        tab.Method,
		Shape:         tab.Shape,
		Request:       body.Resolved,
		Metadata:      cfg.Metadata,
		Auth:          cfg.Auth,
		TLS:           cfg.TLS,
		EnvironmentID: tab.SelectedEnvironmentID,
	})
	return nil
}

// fail records a classified failure on the tab and returns it.
func (m *Manager) fail(tabID string, err error, elapsed time.Duration) error {
	callErr := errors.Classify(err)
	failure := callErr.Failure()
	applied := m.tabs.Apply(tabID, func(t *domain.RequestTab) {
		f := failure
		t.Status = domain.StatusFailed
		t.IsLoading = false
		t.IsStreaming = false
		t.StreamConnectionOpen = false
		t.Failure = &f
		t.Response = failure.Message
		t.StatusCode = failure.Code
		t.StatusMessage = failure.Message
		t.Duration = elapsed
	})
	m.logger.Warn("call failed",
		slog.String("tab_id", tabID),
		slog.Int("code", failure.Code),
		slog.String("error", failure.Message),
		slog.Bool("tab_open", applied))
	return callErr
}

// complete records a successful terminal result and its history entry.
// Nothing happens when the tab was closed in the meantime.
func (m *Manager) complete(tabID string, result *domain.CallResult, elapsed time.Duration, entry domain.HistoryEntry) {
	if result == nil {
		result = &domain.CallResult{}
	}
	// Streamed events may still be queued for the pump, so sizes come from
	// the backend's own totals.
	size := result.ResponseSize
	if size == 0 {
		size = len(result.Response)
	}
	count := result.MessageCount
	applied := m.tabs.Apply(tabID, func(t *domain.RequestTab) {
		t.Status = domain.StatusCompleted
		t.IsLoading = false
		t.IsStreaming = false
		t.StreamConnectionOpen = false
		t.Failure = nil
		t.Response = result.Response
		t.StatusCode = result.StatusCode
		t.StatusMessage = result.StatusMessage
		t.Duration = elapsed
		t.ResponseSize = size
	})
	if !applied {
		m.logger.Debug("ignoring completion for closed tab", slog.String("tab_id", tabID))
		return
	}

	entry.Response = result.Response
	entry.Duration = elapsed
	entry.ResponseSize = size
	entry.StatusCode = result.StatusCode
	entry.StatusMessage = result.StatusMessage
	entry.MessageCount = count
	if _, err := m.store.RecordHistory(entry); err != nil {
		m.logger.Warn("failed to record history", slog.String("tab_id", tabID), slog.Any("error", err))
	}

	m.logger.Info("call completed",
		slog.String("tab_id", tabID),
		slog.String("method", entry.Service+"/"+entry.Method),
		slog.Duration("duration", elapsed),
		slog.Int("response_size", size))
}

func (m *Manager) openStream(ctx context.Context, tab *domain.RequestTab) (err error) {
	if tab.StreamConnectionOpen {
		return nil
	}
	ctx, span := m.startSpan(ctx, "session.open_stream", tab)
	defer func() { endSpan(span, err) }()

	ws, err := m.workspace()
	if err != nil {
		return err
	}
	cfg := callconfig.Build(tab, ws, m.opts.CallConfig)
	m.notifyUnresolved(tab.ID, cfg.Unresolved)

	m.tabs.Apply(tab.ID, func(t *domain.RequestTab) {
		t.Status = domain.StatusSending
		t.IsLoading = true
		t.Response = ""
		t.Failure = nil
		t.StreamingMessages = nil
		t.StatusCode = 0
		t.StatusMessage = ""
		for i := range t.Messages {
			t.Messages[i].Sent = false
			t.Messages[i].Timestamp = nil
		}
	})

	opened := m.now()
	err = m.backend.OpenClientStream(ctx, StreamCall{
		TabID:   tab.ID,
		Service: tab.Service,
		Method:  tab.Method,
		Shape:   tab.Shape,
		Config:  cfg,
	})
	if err != nil {
		return m.fail(tab.ID, err, m.now().Sub(opened))
	}

	applied := m.tabs.Apply(tab.ID, func(t *domain.RequestTab) {
		t.Status = domain.StatusStreamOpen
		t.IsLoading = false
		t.IsStreaming = true
		t.StreamConnectionOpen = true
	})
	if !applied {
		m.cancelStreams([]string{tab.ID})
		return nil
	}

	m.mu.Lock()
	m.streams[tab.ID] = &streamState{
		config: cfg,
		opened: opened,
		envID:  tab.SelectedEnvironmentID,
	}
	m.mu.Unlock()

	m.logger.Debug("stream opened",
		slog.String("tab_id", tab.ID),
		slog.String("method", tab.FullMethod()),
		slog.String("address", cfg.Endpoint.Address()))
	return nil
}

// SendMessage sends one queued client-stream message. A message is sent at
// most once.
func (m *Manager) SendMessage(ctx context.Context, tabID, messageID string) (err error) {
	tab, ok := m.tabs.Get(tabID)
	if !ok {
		return fmt.Errorf("send message %s: %w", tabID, errors.ErrTabNotFound)
	}
	if !tab.StreamConnectionOpen {
		return fmt.Errorf("send message %s: %w", tabID, errors.ErrStreamNotOpen)
	}
	i := slices.IndexFunc(tab.Messages, func(msg domain.ClientStreamMessage) bool { return msg.ID == messageID })
	if i < 0 {
		return fmt.Errorf("message %s: %w", messageID, errors.ErrNotFound)
	}
	if tab.Messages[i].Sent {
		return fmt.Errorf("message %s: %w", messageID, errors.ErrMessageAlreadySent)
	}

	ctx, span := m.startSpan(ctx, "session.send_message", tab)
	span.SetAttributes(attribute.String("message.id", messageID))
	defer func() { endSpan(span, err) }()

	ws, err := m.workspace()
	if err != nil {
		return err
	}
	body := vars.Resolve(tab.Messages[i].Body, callconfig.VariableContext(ws, tab.SelectedEnvironmentID))
	if err := validateBody("message", body.Resolved); err != nil {
		return err
	}
	m.notifyUnresolved(tabID, body.Unresolved)

	m.tabs.Apply(tabID, func(t *domain.RequestTab) {
		t.Status = domain.StatusSending
	})

	if err := m.backend.SendStreamMessage(ctx, tabID, messageID, body.Resolved); err != nil {
		elapsed := m.elapsedSinceOpen(tabID)
		m.dropStream(tabID)
		m.cancelStreams([]string{tabID})
		return m.fail(tabID, err, elapsed)
	}

	sentAt := m.now()
	m.tabs.Apply(tabID, func(t *domain.RequestTab) {
		if j := slices.IndexFunc(t.Messages, func(msg domain.ClientStreamMessage) bool { return msg.ID == messageID }); j >= 0 {
			t.Messages[j].Sent = true
			t.Messages[j].Timestamp = &sentAt
		}
		t.Status = domain.StatusStreamOpen
	})

	m.mu.Lock()
	if st, ok := m.streams[tabID]; ok {
		st.sent = append(st.sent, body.Resolved)
	}
	m.mu.Unlock()
	return nil
}

// SendPending sends every unsent queued message in order, stopping at the
// first failure. It returns how many were sent.
func (m *Manager) SendPending(ctx context.Context, tabID string) (int, error) {
	tab, ok := m.tabs.Get(tabID)
	if !ok {
		return 0, fmt.Errorf("send pending %s: %w", tabID, errors.ErrTabNotFound)
	}
	var pending []string
	for _, msg := range tab.Messages {
		if !msg.Sent {
			pending = append(pending, msg.ID)
		}
	}
	if len(pending) == 0 {
		return 0, fmt.Errorf("send pending %s: %w", tabID, errors.ErrNoQueuedMessages)
	}

	for n, id := range pending {
		if err := m.SendMessage(ctx, tabID, id); err != nil {
			return n, err
		}
	}
	return len(pending), nil
}

// Finish half-closes the stream and records the terminal response. It is
// rejected without contacting the backend when no message was sent.
func (m *Manager) Finish(ctx context.Context, tabID string) (err error) {
	tab, ok := m.tabs.Get(tabID)
	if !ok {
		return fmt.Errorf("finish %s: %w", tabID, errors.ErrTabNotFound)
	}
	if tab.SentCount() == 0 {
		return fmt.Errorf("finish %s: %w", tabID, errors.ErrNothingSent)
	}
	if !tab.StreamConnectionOpen {
		return fmt.Errorf("finish %s: %w", tabID, errors.ErrStreamNotOpen)
	}

	ctx, span := m.startSpan(ctx, "session.finish", tab)
	defer func() { endSpan(span, err) }()

	m.tabs.Apply(tabID, func(t *domain.RequestTab) {
		t.Status = domain.StatusFinishing
		t.IsLoading = true
	})

	result, err := m.backend.FinishStream(ctx, tabID)
	elapsed := m.elapsedSinceOpen(tabID)
	st := m.dropStream(tabID)
	if err != nil {
		return m.fail(tabID, err, elapsed)
	}

	entry := domain.HistoryEntry{
		Service:       tab.Service,
		Method:        tab.Method,
		Shape:         tab.Shape,
		EnvironmentID: tab.SelectedEnvironmentID,
	}
	if st != nil {
		entry.Endpoint = st.config.Endpoint
		entry.Metadata = st.config.Metadata
		entry.Auth = st.config.Auth
		entry.TLS = st.config.TLS
		entry.Messages = st.sent
		entry.EnvironmentID = st.envID
	}
	m.complete(tabID, result, elapsed, entry)
	return nil
}

func (m *Manager) dropStream(tabID string) *streamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.streams[tabID]
	delete(m.streams, tabID)
	return st
}

func (m *Manager) elapsedSinceOpen(tabID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.streams[tabID]; ok {
		return m.now().Sub(st.opened)
	}
	return 0
}
