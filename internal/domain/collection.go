package domain

// Collection is the root of a saved-request tree. Folders live in the
// workspace arena and are referenced by id.
type Collection struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	FolderIDs  []string `json:"folderIds"`
	RequestIDs []string `json:"requestIds"`
}

// Folder is a node of a collection tree. ParentID is empty for top-level
// folders of the collection.
type Folder struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CollectionID string   `json:"collectionId"`
	ParentID     string   `json:"parentId,omitempty"`
	FolderIDs    []string `json:"folderIds"`
	RequestIDs   []string `json:"requestIds"`
}

// SavedRequest is an immutable snapshot of a call configuration. Updates
// replace the whole value.
type SavedRequest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CollectionID string            `json:"collectionId"`
	FolderID     string            `json:"folderId,omitempty"` // empty when owned by the collection root
	Service      string            `json:"service"`
	Method       string            `json:"method"`
	Shape        MethodShape       `json:"shape"`
	Body         string            `json:"body"`
	Messages     []string          `json:"messages,omitempty"` // client-stream message bodies
	Metadata     map[string]string `json:"metadata,omitempty"`
	Auth         AuthConfig        `json:"auth"`
	TLS          *TLSConfig        `json:"tls,omitempty"`
}

// Clone returns a deep copy of the saved request.
func (r SavedRequest) Clone() SavedRequest {
	c := r
	c.Messages = append([]string(nil), r.Messages...)
	c.Metadata = CloneMetadata(r.Metadata)
	c.Auth = r.Auth.Clone()
	c.TLS = r.TLS.Clone()
	return c
}

// CollectionNode is a read view of one level of a collection tree.
type CollectionNode struct {
	ID       string
	Name     string
	Folders  []CollectionNode
	Requests []SavedRequest
}
