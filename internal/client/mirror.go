// Package client holds the client side of a chat: a local mirror of the tree and the HTTP API
// client that the streaming session talks to.
package client

import (
	"sync"
	"time"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
)

// Mirror is a concurrency-safe copy of one chat tree. Optimistic placeholders are keyed by their
// client id until Reconcile gives them the server id; afterwards both ids resolve to the node.
type Mirror struct {
	mu    sync.RWMutex
	t     *tree.Tree
	alias map[string]string
	// placeholders holds the current id of every node still awaiting its final content.
	placeholders map[string]bool
}

func NewMirror() *Mirror {
	return &Mirror{
		t:            tree.New(),
		alias:        make(map[string]string),
		placeholders: make(map[string]bool),
	}
}

// Load replaces the mirror with a server snapshot and returns orphaned node ids.
func (m *Mirror) Load(nodes []tree.Node) ([]string, error) {
	t, orphans, err := tree.FromNodes(nodes)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	m.alias = make(map[string]string)
	m.placeholders = make(map[string]bool)
	for _, n := range nodes {
		if n.ClientID != "" && n.ClientID != n.ID {
			m.alias[n.ClientID] = n.ID
		}
	}
	return orphans, nil
}

func (m *Mirror) resolve(id string) string {
	if sid, ok := m.alias[id]; ok {
		return sid
	}
	return id
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.Len()
}

func (m *Mirror) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.Has(m.resolve(id))
}

func (m *Mirror) Get(id string) (tree.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.Get(m.resolve(id))
}

func (m *Mirror) Root() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.Root()
}

func (m *Mirror) Tail() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.Tail()
}

// ActivePath returns a copy of root..tail.
func (m *Mirror) ActivePath() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.t.ActivePath()
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Messages returns the nodes along the active path.
func (m *Mirror) Messages() []tree.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.t.ActivePath()
	out := make([]tree.Node, 0, len(p))
	for _, id := range p {
		if n, ok := m.t.Get(id); ok {
			out = append(out, n)
		}
	}
	return out
}

func (m *Mirror) AddMessage(n tree.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ParentID = m.resolve(n.ParentID)
	return m.t.Append(n)
}

func (m *Mirror) EditMessage(id, content string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.Edit(m.resolve(id), content, at)
}

func (m *Mirror) DeleteMessage(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed, err := m.t.Delete(m.resolve(id))
	if err != nil {
		return nil, err
	}
	for _, rid := range removed {
		delete(m.placeholders, rid)
	}
	return removed, nil
}

func (m *Mirror) SwitchBranch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SwitchBranch(m.resolve(id))
}

func (m *Mirror) IsPlaceholder(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placeholders[m.resolve(id)]
}

// AddPlaceholder appends an empty node addressed by clientID.
func (m *Mirror) AddPlaceholder(clientID, parentID, speakerID string, isBot bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.t.Append(tree.Node{
		ID:        clientID,
		ParentID:  m.resolve(parentID),
		SpeakerID: speakerID,
		IsBot:     isBot,
		CreatedAt: at,
		ClientID:  clientID,
	}); err != nil {
		return err
	}
	m.placeholders[clientID] = true
	return nil
}

// Reconcile renames the placeholder clientID to serverID.
func (m *Mirror) Reconcile(clientID, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.t.Rekey(clientID, serverID); err != nil {
		return err
	}
	m.alias[clientID] = serverID
	if m.placeholders[clientID] {
		delete(m.placeholders, clientID)
		m.placeholders[serverID] = true
	}
	return nil
}

// SetMessage writes final content and clears the placeholder mark.
func (m *Mirror) SetMessage(id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id = m.resolve(id)
	if err := m.t.Edit(id, content, time.Time{}); err != nil {
		return err
	}
	delete(m.placeholders, id)
	return nil
}

func (m *Mirror) Remove(id string) error {
	_, err := m.DeleteMessage(id)
	return err
}
