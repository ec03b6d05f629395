package workspace

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
)

func collectionIndex(ws *domain.Workspace, id string) int {
	return slices.IndexFunc(ws.Collections, func(c domain.Collection) bool { return c.ID == id })
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(x string) bool { return x == id })
}

// children returns the child id lists of a parent: the folder itself, or
// the collection root when parentID is empty.
func children(ws *domain.Workspace, collectionID, parentID string) (folders, requests *[]string, commit func(), err error) {
	if parentID == "" {
		i := collectionIndex(ws, collectionID)
		if i < 0 {
			return nil, nil, nil, fmt.Errorf("collection %s: %w", collectionID, errors.ErrNotFound)
		}
		c := &ws.Collections[i]
		return &c.FolderIDs, &c.RequestIDs, func() {}, nil
	}
	f, ok := ws.Folders[parentID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("folder %s: %w", parentID, errors.ErrNotFound)
	}
	if f.CollectionID != collectionID {
		return nil, nil, nil, errors.ValidationError{Field: "parentId", Message: "folder belongs to another collection"}
	}
	return &f.FolderIDs, &f.RequestIDs, func() { ws.Folders[parentID] = f }, nil
}

// descendants returns id and every folder nested below it.
func descendants(ws *domain.Workspace, id string) []string {
	out := []string{id}
	for i := 0; i < len(out); i++ {
		out = append(out, ws.Folders[out[i]].FolderIDs...)
	}
	return out
}

// CreateCollection adds an empty collection.
func (s *Store) CreateCollection(name string) (domain.Collection, error) {
	if err := validateName("name", name); err != nil {
		return domain.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	c := domain.Collection{ID: newID(), Name: strings.TrimSpace(name), FolderIDs: []string{}, RequestIDs: []string{}}
	err := s.mutate("create collection", func(ws *domain.Workspace) error {
		ws.Collections = append(ws.Collections, c)
		return nil
	})
	return c, err
}

// RenameCollection renames a collection.
func (s *Store) RenameCollection(id, name string) error {
	if err := validateName("name", name); err != nil {
		return fmt.Errorf("rename collection: %w", err)
	}
	return s.mutate("rename collection", func(ws *domain.Workspace) error {
		i := collectionIndex(ws, id)
		if i < 0 {
			return fmt.Errorf("collection %s: %w", id, errors.ErrNotFound)
		}
		ws.Collections[i].Name = strings.TrimSpace(name)
		return nil
	})
}

// DeleteCollection removes a collection with all its folders and requests.
func (s *Store) DeleteCollection(id string) error {
	return s.mutate("delete collection", func(ws *domain.Workspace) error {
		i := collectionIndex(ws, id)
		if i < 0 {
			return fmt.Errorf("collection %s: %w", id, errors.ErrNotFound)
		}
		ws.Collections = slices.Delete(ws.Collections, i, i+1)
		for fid, f := range ws.Folders {
			if f.CollectionID == id {
				delete(ws.Folders, fid)
			}
		}
		for rid, r := range ws.Requests {
			if r.CollectionID == id {
				delete(ws.Requests, rid)
			}
		}
		return nil
	})
}

// CreateFolder adds a folder under parentID, or at the collection root when
// parentID is empty.
func (s *Store) CreateFolder(collectionID, parentID, name string) (domain.Folder, error) {
	if err := validateName("name", name); err != nil {
		return domain.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	f := domain.Folder{
		ID:           newID(),
		Name:         strings.TrimSpace(name),
		CollectionID: collectionID,
		ParentID:     parentID,
		FolderIDs:    []string{},
		RequestIDs:   []string{},
	}
	err := s.mutate("create folder", func(ws *domain.Workspace) error {
		folders, _, commit, err := children(ws, collectionID, parentID)
		if err != nil {
			return err
		}
		*folders = append(*folders, f.ID)
		commit()
		ws.Folders[f.ID] = f
		return nil
	})
	return f, err
}

// RenameFolder renames a folder.
func (s *Store) RenameFolder(id, name string) error {
	if err := validateName("name", name); err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	return s.mutate("rename folder", func(ws *domain.Workspace) error {
		f, ok := ws.Folders[id]
		if !ok {
			return fmt.Errorf("folder %s: %w", id, errors.ErrNotFound)
		}
		f.Name = strings.TrimSpace(name)
		ws.Folders[id] = f
		return nil
	})
}

// DeleteFolder removes a folder, its nested folders and their requests.
func (s *Store) DeleteFolder(id string) error {
	return s.mutate("delete folder", func(ws *domain.Workspace) error {
		f, ok := ws.Folders[id]
		if !ok {
			return fmt.Errorf("folder %s: %w", id, errors.ErrNotFound)
		}
		folders, _, commit, err := children(ws, f.CollectionID, f.ParentID)
		if err != nil {
			return err
		}
		*folders = removeID(*folders, id)
		commit()

		for _, fid := range descendants(ws, id) {
			for _, rid := range ws.Folders[fid].RequestIDs {
				delete(ws.Requests, rid)
			}
			delete(ws.Folders, fid)
		}
		return nil
	})
}

// MoveFolder re-parents a folder, possibly into another collection. Moving
// a folder into itself or one of its descendants is rejected.
func (s *Store) MoveFolder(id, collectionID, parentID string) error {
	return s.mutate("move folder", func(ws *domain.Workspace) error {
		f, ok := ws.Folders[id]
		if !ok {
			return fmt.Errorf("folder %s: %w", id, errors.ErrNotFound)
		}
		subtree := descendants(ws, id)
		if parentID != "" && slices.Contains(subtree, parentID) {
			return errors.ValidationError{Field: "parentId", Message: "cannot move a folder into itself or a descendant"}
		}

		// Validate the destination before detaching.
		if _, _, _, err := children(ws, collectionID, parentID); err != nil {
			return err
		}

		oldFolders, _, commitOld, err := children(ws, f.CollectionID, f.ParentID)
		if err != nil {
			return err
		}
		*oldFolders = removeID(*oldFolders, id)
		commitOld()

		newFolders, _, commitNew, err := children(ws, collectionID, parentID)
		if err != nil {
			return err
		}
		*newFolders = append(*newFolders, id)
		commitNew()

		f = ws.Folders[id]
		f.ParentID = parentID
		ws.Folders[id] = f

		if f.CollectionID != collectionID {
			for _, fid := range subtree {
				sub := ws.Folders[fid]
				sub.CollectionID = collectionID
				ws.Folders[fid] = sub
				for _, rid := range sub.RequestIDs {
					r := ws.Requests[rid]
					r.CollectionID = collectionID
					ws.Requests[rid] = r
				}
			}
		}
		return nil
	})
}

// SaveRequest stores a new saved request under its CollectionID and
// FolderID.
func (s *Store) SaveRequest(req domain.SavedRequest) (domain.SavedRequest, error) {
	if err := validateName("name", req.Name); err != nil {
		return domain.SavedRequest{}, fmt.Errorf("save request: %w", err)
	}
	if err := req.Auth.Validate(); err != nil {
		return domain.SavedRequest{}, fmt.Errorf("save request: %w", err)
	}
	req = req.Clone()
	req.ID = newID()
	err := s.mutate("save request", func(ws *domain.Workspace) error {
		_, requests, commit, err := children(ws, req.CollectionID, req.FolderID)
		if err != nil {
			return err
		}
		*requests = append(*requests, req.ID)
		commit()
		ws.Requests[req.ID] = req
		return nil
	})
	if err != nil {
		return domain.SavedRequest{}, err
	}
	return req.Clone(), nil
}

// ReplaceSavedRequest replaces the content of a saved request. Its location
// in the tree is kept.
func (s *Store) ReplaceSavedRequest(req domain.SavedRequest) error {
	if err := req.Auth.Validate(); err != nil {
		return fmt.Errorf("replace saved request: %w", err)
	}
	return s.mutate("replace saved request", func(ws *domain.Workspace) error {
		old, ok := ws.Requests[req.ID]
		if !ok {
			return fmt.Errorf("saved request %s: %w", req.ID, errors.ErrNotFound)
		}
		next := req.Clone()
		next.CollectionID = old.CollectionID
		next.FolderID = old.FolderID
		if next.Name == "" {
			next.Name = old.Name
		}
		ws.Requests[req.ID] = next
		return nil
	})
}

// DeleteSavedRequest removes a saved request.
func (s *Store) DeleteSavedRequest(id string) error {
	return s.mutate("delete saved request", func(ws *domain.Workspace) error {
		r, ok := ws.Requests[id]
		if !ok {
			return fmt.Errorf("saved request %s: %w", id, errors.ErrNotFound)
		}
		_, requests, commit, err := children(ws, r.CollectionID, r.FolderID)
		if err != nil {
			return err
		}
		*requests = removeID(*requests, id)
		commit()
		delete(ws.Requests, id)
		return nil
	})
}

// MoveRequest moves a saved request to another folder or collection root.
func (s *Store) MoveRequest(id, collectionID, folderID string) error {
	return s.mutate("move request", func(ws *domain.Workspace) error {
		r, ok := ws.Requests[id]
		if !ok {
			return fmt.Errorf("saved request %s: %w", id, errors.ErrNotFound)
		}
		if _, _, _, err := children(ws, collectionID, folderID); err != nil {
			return err
		}

		_, oldRequests, commitOld, err := children(ws, r.CollectionID, r.FolderID)
		if err != nil {
			return err
		}
		*oldRequests = removeID(*oldRequests, id)
		commitOld()

		_, newRequests, commitNew, err := children(ws, collectionID, folderID)
		if err != nil {
			return err
		}
		*newRequests = append(*newRequests, id)
		commitNew()

		r.CollectionID = collectionID
		r.FolderID = folderID
		ws.Requests[id] = r
		return nil
	})
}

// SavedRequest returns a saved request by id.
func (s *Store) SavedRequest(id string) (domain.SavedRequest, error) {
	var (
		out domain.SavedRequest
		ok  bool
	)
	if err := s.view(func(ws *domain.Workspace) {
		var r domain.SavedRequest
		r, ok = ws.Requests[id]
		out = r.Clone()
	}); err != nil {
		return domain.SavedRequest{}, err
	}
	if !ok {
		return domain.SavedRequest{}, fmt.Errorf("saved request %s: %w", id, errors.ErrNotFound)
	}
	return out, nil
}

// Tree returns an ordered read view of a collection.
func (s *Store) Tree(collectionID string) (domain.CollectionNode, error) {
	var (
		node domain.CollectionNode
		err  error
	)
	if verr := s.view(func(ws *domain.Workspace) {
		i := collectionIndex(ws, collectionID)
		if i < 0 {
			err = fmt.Errorf("collection %s: %w", collectionID, errors.ErrNotFound)
			return
		}
		c := ws.Collections[i]
		node = buildNode(ws, c.ID, c.Name, c.FolderIDs, c.RequestIDs)
	}); verr != nil {
		return domain.CollectionNode{}, verr
	}
	return node, err
}

func buildNode(ws *domain.Workspace, id, name string, folderIDs, requestIDs []string) domain.CollectionNode {
	node := domain.CollectionNode{ID: id, Name: name}
	for _, fid := range folderIDs {
		f, ok := ws.Folders[fid]
		if !ok {
			continue
		}
		node.Folders = append(node.Folders, buildNode(ws, f.ID, f.Name, f.FolderIDs, f.RequestIDs))
	}
	for _, rid := range requestIDs {
		if r, ok := ws.Requests[rid]; ok {
			node.Requests = append(node.Requests, r.Clone())
		}
	}
	return node
}
