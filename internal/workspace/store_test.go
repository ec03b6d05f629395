package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
	"github.com/shhac/grpcdesk/internal/logging"
	"github.com/shhac/grpcdesk/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *storage.MemoryKV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	s := NewStore(kv, logging.NewNopLogger(), Options{})
	ws, err := s.Create("Test")
	require.NoError(t, err)
	require.NoError(t, s.Open(ws.ID))
	return s, kv
}

func stored(t *testing.T, kv *storage.MemoryKV, id string) domain.Workspace {
	t.Helper()
	data, ok, err := kv.Get(workspaceKey(id))
	require.NoError(t, err)
	require.True(t, ok)
	var ws domain.Workspace
	require.NoError(t, json.Unmarshal(data, &ws))
	return ws
}

func TestStore_NoActiveWorkspace(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(), logging.NewNopLogger(), Options{})

	_, err := s.Snapshot()
	assert.ErrorIs(t, err, errors.ErrNoActiveWorkspace)
	_, err = s.AddEnvironment(domain.Environment{Name: "dev"})
	assert.ErrorIs(t, err, errors.ErrNoActiveWorkspace)
}

func TestStore_CreateOpenLoad(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := NewStore(kv, logging.NewNopLogger(), Options{})

	_, err := s.Create("  ")
	var vErr errors.ValidationError
	assert.ErrorAs(t, err, &vErr)

	a, err := s.Create("Alpha")
	require.NoError(t, err)
	b, err := s.Create("beta")
	require.NoError(t, err)

	var switches [][2]string
	s.OnSwitch(func(prev, next string) { switches = append(switches, [2]string{prev, next}) })

	require.NoError(t, s.Open(a.ID))
	require.NoError(t, s.Open(b.ID))
	assert.Equal(t, [][2]string{{"", a.ID}, {a.ID, b.ID}}, switches)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)

	// A fresh store over the same KV restores the active workspace.
	restored := NewStore(kv, logging.NewNopLogger(), Options{})
	require.NoError(t, restored.Load())
	assert.Equal(t, b.ID, restored.ActiveID())

	assert.ErrorIs(t, s.Open("missing"), errors.ErrNotFound)
}

func TestStore_OpenOrCreate(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(), logging.NewNopLogger(), Options{})

	first, err := s.OpenOrCreate("default")
	require.NoError(t, err)
	second, err := s.OpenOrCreate("DEFAULT")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, s.ActiveID())
}

func TestStore_DeleteAndRename(t *testing.T) {
	s, kv := newTestStore(t)
	id := s.ActiveID()

	require.NoError(t, s.Rename(id, "Renamed"))
	assert.Equal(t, "Renamed", stored(t, kv, id).Name)

	var next string
	s.OnSwitch(func(_, n string) { next = n + "!" })
	require.NoError(t, s.Delete(id))
	assert.Equal(t, "", s.ActiveID())
	assert.Equal(t, "!", next)

	_, ok, _ := kv.Get(workspaceKey(id))
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(id), errors.ErrNotFound)
}

func TestStore_PersistsEveryMutation(t *testing.T) {
	s, kv := newTestStore(t)
	before := kv.WriteCount()

	_, err := s.AddEnvironment(domain.Environment{Name: "dev", Host: "dev.local", Port: 9000})
	require.NoError(t, err)

	assert.Greater(t, kv.WriteCount(), before)
	ws := stored(t, kv, s.ActiveID())
	require.Len(t, ws.Environments, 1)
	assert.Equal(t, "dev.local", ws.Environments[0].Host)
}

type failingKV struct{ *storage.MemoryKV }

func (failingKV) Set(string, []byte) error { return fmt.Errorf("disk full") }

func TestStore_WriteFailuresAreNotReturned(t *testing.T) {
	mem := storage.NewMemoryKV()
	ws := domain.NewWorkspace("ws-1", "Test")
	data, err := json.Marshal(ws)
	require.NoError(t, err)
	require.NoError(t, mem.Set(workspaceKey(ws.ID), data))

	s := NewStore(failingKV{mem}, logging.NewNopLogger(), Options{})
	require.NoError(t, s.Open(ws.ID))

	_, err = s.CreateCollection("c")
	assert.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Collections, 1)
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.AddEnvironment(domain.Environment{Name: "dev", Metadata: map[string]string{"a": "1"}})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	snap.Environments[0].Metadata["a"] = "changed"

	again, _ := s.Snapshot()
	assert.Equal(t, "1", again.Environments[0].Metadata["a"])
}

func TestEnvironments(t *testing.T) {
	s, _ := newTestStore(t)

	a, err := s.AddEnvironment(domain.Environment{Name: "A"})
	require.NoError(t, err)
	b, err := s.AddEnvironment(domain.Environment{Name: "B"})
	require.NoError(t, err)
	c, err := s.AddEnvironment(domain.Environment{Name: "C"})
	require.NoError(t, err)

	snap, _ := s.Snapshot()
	assert.Equal(t, a.ID, snap.ActiveEnvironmentID, "first environment becomes active")
	assert.Equal(t, domain.AuthNone, snap.Environments[0].Auth.Type)

	require.NoError(t, s.SetActiveEnvironment(c.ID))
	require.NoError(t, s.DeleteEnvironment(c.ID))
	snap, _ = s.Snapshot()
	assert.Equal(t, a.ID, snap.ActiveEnvironmentID, "deleting active promotes list head")

	require.NoError(t, s.DeleteEnvironment(b.ID))
	snap, _ = s.Snapshot()
	assert.Equal(t, a.ID, snap.ActiveEnvironmentID, "deleting inactive keeps active")

	require.NoError(t, s.DeleteEnvironment(a.ID))
	snap, _ = s.Snapshot()
	assert.Equal(t, "", snap.ActiveEnvironmentID)
	assert.Empty(t, snap.Environments)

	assert.ErrorIs(t, s.SetActiveEnvironment("missing"), errors.ErrNotFound)
	assert.NoError(t, s.SetActiveEnvironment(""))
}

func TestUpdateEnvironment_ValidatesAuth(t *testing.T) {
	s, _ := newTestStore(t)
	env, err := s.AddEnvironment(domain.Environment{Name: "dev"})
	require.NoError(t, err)

	env.Auth = domain.AuthConfig{Type: domain.AuthBearer}
	assert.Error(t, s.UpdateEnvironment(env))

	env.Auth = domain.BearerToken("t")
	env.Host = "prod"
	require.NoError(t, s.UpdateEnvironment(env))

	snap, _ := s.Snapshot()
	assert.Equal(t, "prod", snap.Environments[0].Host)

	env.ID = "missing"
	assert.ErrorIs(t, s.UpdateEnvironment(env), errors.ErrNotFound)
}

func TestDuplicateEnvironment(t *testing.T) {
	s, _ := newTestStore(t)
	a, err := s.AddEnvironment(domain.Environment{
		Name:      "dev",
		Variables: []domain.Variable{{Key: "who", Value: "World", Enabled: true}},
	})
	require.NoError(t, err)
	_, err = s.AddEnvironment(domain.Environment{Name: "prod"})
	require.NoError(t, err)

	dup, err := s.DuplicateEnvironment(a.ID)
	require.NoError(t, err)

	snap, _ := s.Snapshot()
	require.Len(t, snap.Environments, 3)
	assert.Equal(t, dup.ID, snap.Environments[1].ID)
	assert.Equal(t, "dev (copy)", dup.Name)
	assert.NotEqual(t, a.Variables[0].ID, dup.Variables[0].ID)
	assert.Equal(t, "World", dup.Variables[0].Value)
}

func TestVariables(t *testing.T) {
	s, _ := newTestStore(t)
	env, err := s.AddEnvironment(domain.Environment{Name: "dev"})
	require.NoError(t, err)

	v, err := s.AddVariable(env.ID, domain.Variable{Key: "who", Value: "World", Enabled: true})
	require.NoError(t, err)
	_, err = s.AddVariable("", domain.Variable{Key: "region", Value: "eu", Enabled: true})
	require.NoError(t, err)

	_, err = s.AddVariable(env.ID, domain.Variable{Key: "bad key"})
	var vErr errors.ValidationError
	assert.ErrorAs(t, err, &vErr)
	_, err = s.AddVariable("missing", domain.Variable{Key: "k"})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	v.Value = "Gopher"
	require.NoError(t, s.UpdateVariable(env.ID, v))

	set, err := s.SetVariable("", "region", "us", true)
	require.NoError(t, err)

	snap, _ := s.Snapshot()
	assert.Equal(t, "Gopher", snap.Environments[0].Variables[0].Value)
	require.Len(t, snap.GlobalVariables, 1)
	assert.Equal(t, set.ID, snap.GlobalVariables[0].ID)
	assert.Equal(t, "us", snap.GlobalVariables[0].Value)
	assert.True(t, snap.GlobalVariables[0].Secret)

	require.NoError(t, s.DeleteVariable(env.ID, v.ID))
	assert.ErrorIs(t, s.DeleteVariable(env.ID, v.ID), errors.ErrNotFound)
}

func TestCollections_Tree(t *testing.T) {
	s, _ := newTestStore(t)

	col, err := s.CreateCollection("Greeter")
	require.NoError(t, err)
	outer, err := s.CreateFolder(col.ID, "", "outer")
	require.NoError(t, err)
	inner, err := s.CreateFolder(col.ID, outer.ID, "inner")
	require.NoError(t, err)

	rootReq, err := s.SaveRequest(domain.SavedRequest{Name: "root", CollectionID: col.ID, Service: "s", Method: "m"})
	require.NoError(t, err)
	innerReq, err := s.SaveRequest(domain.SavedRequest{Name: "deep", CollectionID: col.ID, FolderID: inner.ID})
	require.NoError(t, err)

	tree, err := s.Tree(col.ID)
	require.NoError(t, err)
	assert.Equal(t, "Greeter", tree.Name)
	require.Len(t, tree.Requests, 1)
	assert.Equal(t, rootReq.ID, tree.Requests[0].ID)
	require.Len(t, tree.Folders, 1)
	require.Len(t, tree.Folders[0].Folders, 1)
	assert.Equal(t, innerReq.ID, tree.Folders[0].Folders[0].Requests[0].ID)

	_, err = s.SaveRequest(domain.SavedRequest{Name: "x", CollectionID: "missing"})
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = s.Tree("missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMoveFolder_RejectsCycles(t *testing.T) {
	s, _ := newTestStore(t)
	col, _ := s.CreateCollection("c")
	a, _ := s.CreateFolder(col.ID, "", "a")
	b, _ := s.CreateFolder(col.ID, a.ID, "b")
	c, _ := s.CreateFolder(col.ID, b.ID, "c")

	var vErr errors.ValidationError
	assert.ErrorAs(t, s.MoveFolder(a.ID, col.ID, a.ID), &vErr)
	assert.ErrorAs(t, s.MoveFolder(a.ID, col.ID, c.ID), &vErr)

	// Moving c up to the root is fine.
	require.NoError(t, s.MoveFolder(c.ID, col.ID, ""))
	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Folders[b.ID].FolderIDs)
	assert.Equal(t, []string{a.ID, c.ID}, snap.Collections[0].FolderIDs)
	assert.Equal(t, "", snap.Folders[c.ID].ParentID)
}

func TestMoveFolder_AcrossCollections(t *testing.T) {
	s, _ := newTestStore(t)
	src, _ := s.CreateCollection("src")
	dst, _ := s.CreateCollection("dst")
	f, _ := s.CreateFolder(src.ID, "", "f")
	sub, _ := s.CreateFolder(src.ID, f.ID, "sub")
	req, err := s.SaveRequest(domain.SavedRequest{Name: "r", CollectionID: src.ID, FolderID: sub.ID})
	require.NoError(t, err)

	require.NoError(t, s.MoveFolder(f.ID, dst.ID, ""))

	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Collections[0].FolderIDs)
	assert.Equal(t, []string{f.ID}, snap.Collections[1].FolderIDs)
	assert.Equal(t, dst.ID, snap.Folders[sub.ID].CollectionID)
	assert.Equal(t, dst.ID, snap.Requests[req.ID].CollectionID)
}

func TestDeleteFolder_Recursive(t *testing.T) {
	s, _ := newTestStore(t)
	col, _ := s.CreateCollection("c")
	a, _ := s.CreateFolder(col.ID, "", "a")
	b, _ := s.CreateFolder(col.ID, a.ID, "b")
	req, err := s.SaveRequest(domain.SavedRequest{Name: "r", CollectionID: col.ID, FolderID: b.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFolder(a.ID))

	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Folders)
	assert.NotContains(t, snap.Requests, req.ID)
	assert.Empty(t, snap.Collections[0].FolderIDs)
}

func TestSavedRequests_ReplaceMoveDelete(t *testing.T) {
	s, _ := newTestStore(t)
	col, _ := s.CreateCollection("c")
	f, _ := s.CreateFolder(col.ID, "", "f")
	req, err := s.SaveRequest(domain.SavedRequest{Name: "r", CollectionID: col.ID, Body: "{}"})
	require.NoError(t, err)

	replacement := req
	replacement.Body = `{"a":1}`
	replacement.FolderID = f.ID // location is not changed by replace
	require.NoError(t, s.ReplaceSavedRequest(replacement))

	got, err := s.SavedRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, got.Body)
	assert.Equal(t, "", got.FolderID)

	require.NoError(t, s.MoveRequest(req.ID, col.ID, f.ID))
	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Collections[0].RequestIDs)
	assert.Equal(t, []string{req.ID}, snap.Folders[f.ID].RequestIDs)

	require.NoError(t, s.DeleteSavedRequest(req.ID))
	snap, _ = s.Snapshot()
	assert.Empty(t, snap.Folders[f.ID].RequestIDs)
	assert.ErrorIs(t, s.DeleteSavedRequest(req.ID), errors.ErrNotFound)
}

func TestDeleteCollection(t *testing.T) {
	s, _ := newTestStore(t)
	col, _ := s.CreateCollection("c")
	f, _ := s.CreateFolder(col.ID, "", "f")
	_, err := s.SaveRequest(domain.SavedRequest{Name: "r", CollectionID: col.ID, FolderID: f.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCollection(col.ID))
	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Collections)
	assert.Empty(t, snap.Folders)
	assert.Empty(t, snap.Requests)
}

func TestHistory_CappedMostRecentFirst(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := NewStore(kv, logging.NewNopLogger(), Options{HistoryLimit: 3})
	ws, _ := s.Create("h")
	require.NoError(t, s.Open(ws.ID))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		e, err := s.RecordHistory(domain.HistoryEntry{Method: fmt.Sprintf("M%d", i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	all, err := s.History(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "M4", all[0].Method)
	assert.Equal(t, "M2", all[2].Method)

	two, _ := s.History(2)
	assert.Len(t, two, 2)

	entry, err := s.HistoryEntry(ids[3])
	require.NoError(t, err)
	assert.Equal(t, "M3", entry.Method)

	require.NoError(t, s.DeleteHistory(ids[4]))
	assert.ErrorIs(t, s.DeleteHistory(ids[0]), errors.ErrNotFound)

	require.NoError(t, s.ClearHistory())
	all, _ = s.History(0)
	assert.Empty(t, all)
}

func TestExportImport(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			s, _ := newTestStore(t)
			env, err := s.AddEnvironment(domain.Environment{
				Name:      "dev",
				Port:      50051,
				Auth:      domain.BearerToken("{{env.token}}"),
				Variables: []domain.Variable{{Key: "token", Value: "secret", Enabled: true, Secret: true}},
				TLS:       &domain.TLSConfig{Enabled: true},
			})
			require.NoError(t, err)
			_, err = s.RecordHistory(domain.HistoryEntry{Method: "SayHello", Duration: 1500 * time.Millisecond})
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, s.Export(&buf, format))

			imported, err := s.Import(&buf, format)
			require.NoError(t, err)

			assert.NotEqual(t, s.ActiveID(), imported.ID, "colliding id is replaced")
			assert.Equal(t, "Test", imported.Name)
			require.Len(t, imported.Environments, 1)
			got := imported.Environments[0]
			assert.Equal(t, env.ID, got.ID)
			assert.Equal(t, 50051, got.Port)
			assert.Equal(t, "{{env.token}}", got.Auth.Bearer.Token)
			assert.True(t, got.TLS.Enabled)
			assert.True(t, got.Variables[0].Secret)
			require.Len(t, imported.History, 1)
			assert.Equal(t, 1500*time.Millisecond, imported.History[0].Duration)
			assert.NotNil(t, imported.Folders)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
