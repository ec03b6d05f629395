package domain

import "time"

// Workspace is the aggregate root for environments, collections and history.
type Workspace struct {
	ID                  string                  `json:"id"`
	Name                string                  `json:"name"`
	Environments        []Environment           `json:"environments"`
	ActiveEnvironmentID string                  `json:"activeEnvironmentId,omitempty"`
	GlobalVariables     []Variable              `json:"globalVariables"`
	Collections         []Collection            `json:"collections"`
	Folders             map[string]Folder       `json:"folders"`
	Requests            map[string]SavedRequest `json:"requests"`
	History             []HistoryEntry          `json:"history"`
	ActiveTabID         string                  `json:"activeTabId,omitempty"`
	CreatedAt           time.Time               `json:"createdAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`
}

// NewWorkspace returns an empty workspace with initialised collections.
func NewWorkspace(id, name string) *Workspace {
	return &Workspace{
		ID:              id,
		Name:            name,
		Environments:    []Environment{},
		GlobalVariables: []Variable{},
		Collections:     []Collection{},
		Folders:         map[string]Folder{},
		Requests:        map[string]SavedRequest{},
		History:         []HistoryEntry{},
	}
}

// Environment returns the environment with the given id.
func (w *Workspace) Environment(id string) (*Environment, bool) {
	if id == "" {
		return nil, false
	}
	for i := range w.Environments {
		if w.Environments[i].ID == id {
			return &w.Environments[i], true
		}
	}
	return nil, false
}

// ActiveEnvironment returns the active environment, if any.
func (w *Workspace) ActiveEnvironment() (*Environment, bool) {
	return w.Environment(w.ActiveEnvironmentID)
}

// Clone returns a deep copy of the workspace.
func (w *Workspace) Clone() *Workspace {
	if w == nil {
		return nil
	}
	c := *w
	c.Environments = make([]Environment, len(w.Environments))
	for i, e := range w.Environments {
		c.Environments[i] = e.Clone()
	}
	c.GlobalVariables = append([]Variable{}, w.GlobalVariables...)
	c.Collections = make([]Collection, len(w.Collections))
	for i, col := range w.Collections {
		col.FolderIDs = append([]string{}, col.FolderIDs...)
		col.RequestIDs = append([]string{}, col.RequestIDs...)
		c.Collections[i] = col
	}
	c.Folders = make(map[string]Folder, len(w.Folders))
	for id, f := range w.Folders {
		f.FolderIDs = append([]string{}, f.FolderIDs...)
		f.RequestIDs = append([]string{}, f.RequestIDs...)
		c.Folders[id] = f
	}
	c.Requests = make(map[string]SavedRequest, len(w.Requests))
	for id, r := range w.Requests {
		c.Requests[id] = r.Clone()
	}
	c.History = append([]HistoryEntry{}, w.History...)
	return &c
}
