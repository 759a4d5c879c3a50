package docmodel

import (
	"strings"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/types"
)

// pathIndex is a point-in-time view of the tree, rebuilt from
// AllNodes for each path-based operation. Path = ordered join of
// ancestor names (invariant I5); paths are derived, never stored, so
// there is nothing to keep in sync between calls.
type pathIndex struct {
	byID           map[string]types.NodeMeta
	childrenByName map[string]map[string]types.NodeMeta // parentID -> name -> node
}

func (m *Manager) buildIndex() pathIndex {
	nodes := m.eng.AllNodes()
	idx := pathIndex{
		byID:           make(map[string]types.NodeMeta, len(nodes)),
		childrenByName: make(map[string]map[string]types.NodeMeta),
	}
	for _, n := range nodes {
		idx.byID[n.ID] = n
		if idx.childrenByName[n.ParentID] == nil {
			idx.childrenByName[n.ParentID] = make(map[string]types.NodeMeta)
		}
		idx.childrenByName[n.ParentID][n.Name] = n
	}
	return idx
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func splitDirName(path string) ([]string, string) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, ""
	}
	return segments[:len(segments)-1], segments[len(segments)-1]
}

func (idx pathIndex) resolve(path string) (types.NodeMeta, bool) {
	segments := splitPath(path)
	parentID := ""
	var node types.NodeMeta
	for _, seg := range segments {
		kids, ok := idx.childrenByName[parentID]
		if !ok {
			return types.NodeMeta{}, false
		}
		n, ok := kids[seg]
		if !ok {
			return types.NodeMeta{}, false
		}
		node = n
		parentID = n.ID
	}
	if len(segments) == 0 {
		return types.NodeMeta{}, false
	}
	return node, true
}

// pathOf derives a node's display path by walking parent pointers to
// the root, the same best-effort reconstruction engine.Snapshot uses.
// The visited set is defense in depth: the engine rejects merges that
// would introduce a parent cycle, but a stale or corrupted snapshot
// should make pathOf return a truncated path, not hang.
func (idx pathIndex) pathOf(id string) string {
	var parts []string
	visited := make(map[string]bool)
	cur := id
	for cur != "" && !visited[cur] {
		visited[cur] = true
		n, ok := idx.byID[cur]
		if !ok {
			break
		}
		parts = append([]string{n.Name}, parts...)
		cur = n.ParentID
	}
	return "/" + strings.Join(parts, "/")
}

func (m *Manager) pathsForNodeIDsLocked(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	idx := m.buildIndex()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.pathOf(id))
	}
	return out
}

// ensureAncestors creates any missing folder nodes along segments,
// returning the id of the final segment's node (the immediate parent
// for whatever gets created at the full path). Mutates idx in place
// so repeated lookups within one call see nodes just created.
func (m *Manager) ensureAncestors(idx *pathIndex, segments []string) (string, error) {
	parentID := ""
	for _, seg := range segments {
		if kids, ok := idx.childrenByName[parentID]; ok {
			if n, ok := kids[seg]; ok && !n.Deleted {
				parentID = n.ID
				continue
			}
		}
		id, err := m.eng.CreateNode(parentID, seg, types.NodeKindFolder)
		if err != nil {
			return "", err
		}
		meta, _ := m.eng.Node(id)
		if idx.childrenByName[parentID] == nil {
			idx.childrenByName[parentID] = make(map[string]types.NodeMeta)
		}
		idx.childrenByName[parentID][seg] = meta
		idx.byID[id] = meta
		parentID = id
	}
	return parentID, nil
}

// ListAllPaths returns every node's derived path, including deleted
// (soft-deleted) nodes — callers filter on NodeMeta.Deleted themselves.
func (m *Manager) ListAllPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	out := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		out = append(out, idx.pathOf(id))
	}
	return out
}

func (m *Manager) GetFileMeta(path string) (types.NodeMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	return idx.resolve(path)
}

// LiveBlobHashes returns the distinct blobHash values reachable from
// non-deleted binary nodes: the reference set both blob catch-up (is
// a hash worth asking peers for) and garbage collection (is a stored
// blob still referenced) check against.
func (m *Manager) LiveBlobHashes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, n := range m.eng.AllNodes() {
		if n.Deleted || n.Kind != types.NodeKindBinary || n.BlobHash == "" {
			continue
		}
		seen[n.BlobHash] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}

func (m *Manager) GetTextContent(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	node, ok := idx.resolve(path)
	if !ok {
		return "", peverr.Malformed("no such path %q", path)
	}
	if node.Kind != types.NodeKindFile {
		return "", peverr.Malformed("%q is not a text file", path)
	}
	return m.eng.GetText(node.ID)
}

// SetTextContent idempotently writes text at path, creating any
// missing ancestor folders and the file itself if absent.
func (m *Manager) SetTextContent(path string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.buildIndex()
	node, ok := idx.resolve(path)
	var nodeID string
	if ok {
		if node.Kind != types.NodeKindFile {
			return peverr.Malformed("%q is not a text file", path)
		}
		nodeID = node.ID
	} else {
		dir, name := splitDirName(path)
		parentID, err := m.ensureAncestors(&idx, dir)
		if err != nil {
			return err
		}
		id, err := m.eng.CreateNode(parentID, name, types.NodeKindFile)
		if err != nil {
			return err
		}
		nodeID = id
	}
	if err := m.eng.SetText(nodeID, text); err != nil {
		return err
	}
	m.emitChanged([]string{path})
	return nil
}

func (m *Manager) CreateFolder(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	dir, name := splitDirName(path)
	parentID, err := m.ensureAncestors(&idx, dir)
	if err != nil {
		return "", err
	}
	id, err := m.eng.CreateNode(parentID, name, types.NodeKindFolder)
	if err != nil {
		return "", err
	}
	m.emitChanged([]string{path})
	return id, nil
}

func (m *Manager) CreateFile(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	dir, name := splitDirName(path)
	parentID, err := m.ensureAncestors(&idx, dir)
	if err != nil {
		return "", err
	}
	id, err := m.eng.CreateNode(parentID, name, types.NodeKindFile)
	if err != nil {
		return "", err
	}
	m.emitChanged([]string{path})
	return id, nil
}

// CreateBinary creates a binary node pointing at an already-stored
// blob. Callers add the blob to BlobStore first (invariant I4: a
// blobHash may reference content that's locally absent, but a freshly
// created node should not start in that state).
func (m *Manager) CreateBinary(path, blobHash string, size int64, mimeType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	dir, name := splitDirName(path)
	parentID, err := m.ensureAncestors(&idx, dir)
	if err != nil {
		return "", err
	}
	id, err := m.eng.CreateNode(parentID, name, types.NodeKindBinary)
	if err != nil {
		return "", err
	}
	if err := m.eng.SetBlobHash(id, blobHash, size); err != nil {
		return "", err
	}
	if mimeType != "" {
		if err := m.eng.SetMimeType(id, mimeType); err != nil {
			return "", err
		}
	}
	m.emitChanged([]string{path})
	return id, nil
}

// Move relocates the node at path to be a child of newParentPath (""
// for the vault root).
func (m *Manager) Move(path, newParentPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	node, ok := idx.resolve(path)
	if !ok {
		return peverr.Malformed("no such path %q", path)
	}
	newParentID := ""
	if newParentPath != "" {
		parent, ok := idx.resolve(newParentPath)
		if !ok {
			return peverr.Malformed("no such path %q", newParentPath)
		}
		if parent.Kind != types.NodeKindFolder {
			return peverr.Malformed("%q is not a folder", newParentPath)
		}
		newParentID = parent.ID
	}
	if err := m.eng.SetParent(node.ID, newParentID); err != nil {
		return err
	}
	m.emitChanged([]string{path})
	return nil
}

func (m *Manager) Rename(path, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	node, ok := idx.resolve(path)
	if !ok {
		return peverr.Malformed("no such path %q", path)
	}
	if err := m.eng.SetName(node.ID, newName); err != nil {
		return err
	}
	m.emitChanged([]string{path})
	return nil
}

// Delete soft-deletes the node at path; GC may later tombstone-compact it.
func (m *Manager) Delete(path string) error {
	return m.setDeleted(path, true)
}

// Undelete reverses a soft-delete, losslessly since content is never
// dropped on delete (invariant I3/merge property 5).
func (m *Manager) Undelete(path string) error {
	return m.setDeleted(path, false)
}

func (m *Manager) setDeleted(path string, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.buildIndex()
	node, ok := idx.resolve(path)
	if !ok {
		return peverr.Malformed("no such path %q", path)
	}
	if err := m.eng.SetDeleted(node.ID, deleted); err != nil {
		return err
	}
	m.emitChanged([]string{path})
	return nil
}
