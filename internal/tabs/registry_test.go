package tabs

import (
	"testing"
	"time"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
	"github.com/shhac/grpcdesk/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func method(name string) domain.Method {
	return domain.Method{Name: name, ServiceName: "helloworld.Greeter"}
}

func openN(t *testing.T, r *Registry, names ...string) []string {
	t.Helper()
	ids := make([]string, len(names))
	for i, n := range names {
		tab, created := r.Open(OpenRequest{Method: method(n)})
		require.True(t, created)
		ids[i] = tab.ID
	}
	return ids
}

func TestOpen_Defaults(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())

	tab, created := r.Open(OpenRequest{Method: domain.Method{
		Name:           "Chat",
		ServiceName:    "chat.Chat",
		IsClientStream: true,
		IsServerStream: true,
	}})

	require.True(t, created)
	assert.NotEmpty(t, tab.ID)
	assert.Equal(t, "chat.Chat", tab.Service)
	assert.Equal(t, domain.ShapeBidiStream, tab.Shape)
	assert.Equal(t, "{}", tab.Body)
	assert.Equal(t, domain.AuthNone, tab.Auth.Kind())
	assert.Empty(t, tab.Metadata)
	assert.Nil(t, tab.TLS)
	assert.Empty(t, tab.SelectedEnvironmentID, "no environment is chosen on the caller's behalf")
	assert.Equal(t, domain.StatusIdle, tab.Status)
	assert.False(t, tab.IsDirty)
	assert.Equal(t, tab.ID, r.ActiveID())
}

func TestOpen_SeedsFromEnvironmentAndSample(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	env := &domain.Environment{
		ID:       "env-1",
		Metadata: map[string]string{"x-team": "core"},
		Auth:     domain.BearerToken("{{env.token}}"),
		TLS:      &domain.TLSConfig{Enabled: true},
	}

	m := method("SayHello")
	m.SampleBody = `{"name":""}`
	tab, _ := r.Open(OpenRequest{Method: m, Environment: env})

	assert.Equal(t, "env-1", tab.SelectedEnvironmentID)
	assert.Equal(t, `{"name":""}`, tab.Body)
	assert.Equal(t, "core", tab.Metadata["x-team"])
	assert.Equal(t, domain.AuthBearer, tab.Auth.Kind())
	require.NotNil(t, tab.TLS)
	assert.True(t, tab.TLS.Enabled)

	// The environment itself is not aliased.
	tab.Metadata["x-team"] = "changed"
	assert.Equal(t, "core", env.Metadata["x-team"])
}

func TestOpen_DuplicateMethodActivatesExisting(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	ids := openN(t, r, "SayHello", "SayGoodbye")
	require.Equal(t, ids[1], r.ActiveID())

	tab, created := r.Open(OpenRequest{Method: method("SayHello")})

	assert.False(t, created)
	assert.Equal(t, ids[0], tab.ID)
	assert.Equal(t, ids[0], r.ActiveID())
	assert.Equal(t, 2, r.Len())
}

func TestClose_Activation(t *testing.T) {
	tests := []struct {
		name       string
		open       []string
		active     int
		close      int
		wantActive int // index into open, -1 for none
	}{
		{"middle active activates next", []string{"A", "B", "C"}, 1, 1, 2},
		{"last active activates new last", []string{"A", "B", "C"}, 2, 2, 1},
		{"first active activates next", []string{"A", "B", "C"}, 0, 0, 1},
		{"inactive close keeps active", []string{"A", "B", "C"}, 0, 2, 0},
		{"only tab leaves none", []string{"A"}, 0, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(logging.NewNopLogger())
			ids := openN(t, r, tt.open...)
			require.NoError(t, r.Activate(ids[tt.active]))

			require.NoError(t, r.Close(ids[tt.close]))

			if tt.wantActive < 0 {
				assert.Equal(t, "", r.ActiveID())
				_, ok := r.Active()
				assert.False(t, ok)
				return
			}
			assert.Equal(t, ids[tt.wantActive], r.ActiveID())
		})
	}
}

func TestClose_Unknown(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	assert.ErrorIs(t, r.Close("missing"), errors.ErrTabNotFound)
	assert.ErrorIs(t, r.Activate("missing"), errors.ErrTabNotFound)
}

func TestUpdate_MarksDirty(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	id := openN(t, r, "SayHello")[0]

	require.NoError(t, r.Update(id, Patch{}))
	tab, _ := r.Get(id)
	assert.False(t, tab.IsDirty, "empty patch is not an edit")

	body := `{"name":"x"}`
	host := "example.com"
	require.NoError(t, r.Update(id, Patch{
		Body:        &body,
		Metadata:    map[string]string{"k": "v"},
		RequestHost: &host,
	}))

	tab, _ = r.Get(id)
	assert.True(t, tab.IsDirty)
	assert.Equal(t, body, tab.Body)
	assert.Equal(t, "v", tab.Metadata["k"])
	assert.True(t, tab.ManualEndpoint())

	require.NoError(t, r.Update(id, Patch{ClearEndpoint: true}))
	tab, _ = r.Get(id)
	assert.False(t, tab.ManualEndpoint())

	require.NoError(t, r.MarkClean(id, "saved-1"))
	tab, _ = r.Get(id)
	assert.False(t, tab.IsDirty)
	assert.Equal(t, "saved-1", tab.SavedRequestID)

	assert.ErrorIs(t, r.Update("missing", Patch{Body: &body}), errors.ErrTabNotFound)
}

func TestApply_DoesNotDirtyAndIgnoresClosedTabs(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	id := openN(t, r, "SayHello")[0]

	ok := r.Apply(id, func(tab *domain.RequestTab) {
		tab.Status = domain.StatusSending
		tab.IsLoading = true
	})
	require.True(t, ok)

	tab, _ := r.Get(id)
	assert.Equal(t, domain.StatusSending, tab.Status)
	assert.False(t, tab.IsDirty)

	require.NoError(t, r.Close(id))
	called := false
	assert.False(t, r.Apply(id, func(*domain.RequestTab) { called = true }))
	assert.False(t, called)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	id := openN(t, r, "SayHello")[0]

	tab, _ := r.Get(id)
	tab.Body = "mutated"
	tab.Metadata["k"] = "v"

	again, _ := r.Get(id)
	assert.Equal(t, "{}", again.Body)
	assert.Empty(t, again.Metadata)
}

func TestAppendStreamMessage(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	id := openN(t, r, "Watch")[0]
	now := time.Now()

	for _, idx := range []int{0, 1, 2} {
		assert.True(t, r.AppendStreamMessage(domain.StreamEvent{TabID: id, Index: idx, Data: "m", Timestamp: now}))
	}
	// Arrival order wins over index.
	assert.True(t, r.AppendStreamMessage(domain.StreamEvent{TabID: id, Index: 1, Data: "late"}))

	assert.False(t, r.AppendStreamMessage(domain.StreamEvent{TabID: "ghost", Index: 0}))
	assert.Equal(t, 1, r.Len())

	tab, _ := r.Get(id)
	require.Len(t, tab.StreamingMessages, 4)
	assert.Equal(t, id+"-0", tab.StreamingMessages[0].ID)
	assert.Equal(t, id+"-2", tab.StreamingMessages[2].ID)
	assert.Equal(t, "late", tab.StreamingMessages[3].Data)
	assert.False(t, tab.IsDirty)
}

func TestQueueAndRemoveMessage(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	id := openN(t, r, "Upload")[0]

	first, err := r.QueueMessage(id, `{"n":1}`)
	require.NoError(t, err)
	_, err = r.QueueMessage(id, `{"n":2}`)
	require.NoError(t, err)

	require.NoError(t, r.RemoveMessage(id, first.ID))
	assert.ErrorIs(t, r.RemoveMessage(id, first.ID), errors.ErrNotFound)

	tab, _ := r.Get(id)
	require.Len(t, tab.Messages, 1)
	assert.Equal(t, `{"n":2}`, tab.Messages[0].Body)
	assert.False(t, tab.Messages[0].Sent)
}

func TestOpenSaved(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	saved := domain.SavedRequest{
		ID:       "req-1",
		Name:     "Hello world",
		Service:  "helloworld.Greeter",
		Method:   "SayHello",
		Shape:    domain.ShapeClientStream,
		Body:     `{}`,
		Messages: []string{`{"a":1}`, `{"a":2}`},
		Auth:     domain.Basic("u", "p"),
	}

	tab := r.OpenSaved(saved, "env-1")
	assert.Equal(t, "Hello world", tab.Title)
	assert.Equal(t, "req-1", tab.SavedRequestID)
	assert.Equal(t, "env-1", tab.SelectedEnvironmentID)
	require.Len(t, tab.Messages, 2)
	assert.NotEqual(t, tab.Messages[0].ID, tab.Messages[1].ID)
	assert.NotNil(t, tab.Metadata)

	again := r.OpenSaved(saved, "env-1")
	assert.Equal(t, tab.ID, again.ID)
	assert.Equal(t, 1, r.Len())
}

func TestOpenHistory(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	entry := domain.HistoryEntry{
		Endpoint: domain.Endpoint{Host: "api.internal", Port: 9000},
		Service:  "helloworld.Greeter",
		Method:   "SayHello",
		Shape:    domain.ShapeUnary,
		Request:  `{"name":"World"}`,
		TLS:      domain.TLSConfig{Enabled: true},
	}

	tab := r.OpenHistory(entry)
	assert.Equal(t, `{"name":"World"}`, tab.Body)
	require.NotNil(t, tab.RequestHost)
	assert.Equal(t, "api.internal", *tab.RequestHost)
	assert.Equal(t, 9000, *tab.RequestPort)
	assert.True(t, tab.TLS.Enabled)
	assert.Equal(t, tab.ID, r.ActiveID())
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())
	ids := openN(t, r, "A", "B")

	assert.ElementsMatch(t, ids, r.CloseAll())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "", r.ActiveID())
}
