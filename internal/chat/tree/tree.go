// Package tree is the branching chat tree shared by the server decode path and the client mirror.
//
// Nodes live in an arena: a dense slot table addressed by int32, an id → slot map, and children
// stored as slot lists. Parent links are slot indices, so renaming a node (placeholder
// reconciliation) only touches the id map. Append only attaches under existing slots, Delete
// removes whole subtrees and SwitchBranch never rewrites a parent link, so no node can become its
// own ancestor.
//
// A Tree is not safe for concurrent use.
package tree

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("tree: node not found")
	ErrDuplicateID   = errors.New("tree: duplicate node id")
	ErrRootExists    = errors.New("tree: chat already has a root")
	ErrUnknownParent = errors.New("tree: parent not found")
	ErrMissingID     = errors.New("tree: missing node id")
)

const none int32 = -1

// Node is the exported view of a tree node. ChildIDs and ActiveChildIndex are derived from the
// arena on read and ignored by Append.
type Node struct {
	ID               string     `json:"id"`
	ParentID         string     `json:"parent_id,omitempty"`
	ChildIDs         []string   `json:"child_ids"`
	ActiveChildIndex *int       `json:"active_child_index"`
	SpeakerID        string     `json:"speaker_id"`
	Message          string     `json:"message"`
	IsBot            bool       `json:"is_bot"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
}

type slot struct {
	id        string
	speakerID string
	message   string
	isBot     bool
	createdAt time.Time
	updatedAt *time.Time
	clientID  string

	parent   int32
	children []int32
	active   int32
	live     bool
}

type Tree struct {
	slots []slot
	index map[string]int32
	free  []int32
	root  int32
	tail  int32

	path      []string
	pathValid bool
}

func New() *Tree {
	return &Tree{index: make(map[string]int32), root: none, tail: none}
}

func (t *Tree) Len() int { return len(t.index) }

func (t *Tree) Has(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Root returns the root id, or "" for an empty tree.
func (t *Tree) Root() string { return t.idOf(t.root) }

// Tail returns the last node of the active path, or "" for an empty tree.
func (t *Tree) Tail() string { return t.idOf(t.tail) }

func (t *Tree) idOf(i int32) string {
	if i == none {
		return ""
	}
	return t.slots[i].id
}

func (t *Tree) Get(id string) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.export(i), true
}

func (t *Tree) export(i int32) Node {
	s := &t.slots[i]
	n := Node{
		ID:        s.id,
		ParentID:  t.idOf(s.parent),
		ChildIDs:  make([]string, 0, len(s.children)),
		SpeakerID: s.speakerID,
		Message:   s.message,
		IsBot:     s.isBot,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		ClientID:  s.clientID,
	}
	for _, c := range s.children {
		n.ChildIDs = append(n.ChildIDs, t.slots[c].id)
	}
	if s.active != none {
		idx := int(s.active)
		n.ActiveChildIndex = &idx
	}
	return n
}

// Nodes returns every live node in slot order.
func (t *Tree) Nodes() []Node {
	out := make([]Node, 0, len(t.index))
	for i := range t.slots {
		if t.slots[i].live {
			out = append(out, t.export(int32(i)))
		}
	}
	return out
}

func (t *Tree) alloc(s slot) int32 {
	s.live = true
	if n := len(t.free); n > 0 {
		i := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[i] = s
		return i
	}
	t.slots = append(t.slots, s)
	return int32(len(t.slots) - 1)
}

func (t *Tree) release(i int32) {
	delete(t.index, t.slots[i].id)
	t.slots[i] = slot{parent: none, active: none}
	t.free = append(t.free, i)
}

func (t *Tree) invalidatePath() {
	t.path = nil
	t.pathValid = false
}

// Append attaches n under n.ParentID (or as root when ParentID is empty and the tree is empty).
// The new node becomes the active child of its parent, every ancestor is rewired toward it and it
// becomes the tail.
func (t *Tree) Append(n Node) error {
	if n.ID == "" {
		return ErrMissingID
	}
	if t.Has(n.ID) {
		return ErrDuplicateID
	}
	parent := none
	if n.ParentID == "" {
		if t.Len() > 0 {
			return ErrRootExists
		}
	} else {
		p, ok := t.index[n.ParentID]
		if !ok {
			return ErrUnknownParent
		}
		parent = p
	}

	i := t.alloc(slot{
		id:        n.ID,
		speakerID: n.SpeakerID,
		message:   n.Message,
		isBot:     n.IsBot,
		createdAt: n.CreatedAt,
		updatedAt: n.UpdatedAt,
		clientID:  n.ClientID,
		parent:    parent,
		active:    none,
	})
	t.index[n.ID] = i
	if parent == none {
		t.root = i
	} else {
		p := &t.slots[parent]
		p.children = append(p.children, i)
	}
	t.rewire(i)
	t.tail = i
	t.invalidatePath()
	return nil
}

// Edit replaces the message of id. Tree shape, active indices and the tail are untouched.
func (t *Tree) Edit(id, message string, at time.Time) error {
	i, ok := t.index[id]
	if !ok {
		return ErrNotFound
	}
	t.slots[i].message = message
	if !at.IsZero() {
		ts := at
		t.slots[i].updatedAt = &ts
	}
	return nil
}

// Delete removes id and its entire descendant closure, returning the removed ids (id first).
func (t *Tree) Delete(id string) ([]string, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, ErrNotFound
	}

	closure := t.closure(i)
	tailRemoved := false
	for _, c := range closure {
		if c == t.tail {
			tailRemoved = true
			break
		}
	}

	parent := t.slots[i].parent
	if parent != none {
		p := &t.slots[parent]
		pos := indexOf(p.children, i)
		if pos >= 0 {
			p.children = append(p.children[:pos], p.children[pos+1:]...)
			p.active = clampActive(p.active, int32(pos), int32(len(p.children)))
		}
	}

	removed := make([]string, 0, len(closure))
	for _, c := range closure {
		removed = append(removed, t.slots[c].id)
		t.release(c)
	}

	if parent == none {
		t.root = none
		t.tail = none
	} else if tailRemoved {
		t.tail = t.walkDown(parent)
	}
	t.invalidatePath()
	return removed, nil
}

// clampActive keeps the previously selected sibling selected when an earlier sibling is removed;
// when the selected child itself is removed the index is clamped to the new length.
func clampActive(active, removedPos, newLen int32) int32 {
	if newLen == 0 {
		return none
	}
	switch {
	case active == none:
		return newLen - 1
	case removedPos < active:
		active--
	case active > newLen-1:
		active = newLen - 1
	}
	return active
}

func (t *Tree) closure(i int32) []int32 {
	out := []int32{i}
	for k := 0; k < len(out); k++ {
		out = append(out, t.slots[out[k]].children...)
	}
	return out
}

// SwitchBranch makes id the end of the active path by pointing every ancestor's active index
// toward it. Cost is O(depth). If id has children of its own, the tail continues along id's own
// active path.
func (t *Tree) SwitchBranch(id string) error {
	i, ok := t.index[id]
	if !ok {
		return ErrNotFound
	}
	t.rewire(i)
	t.tail = t.walkDown(i)
	t.invalidatePath()
	return nil
}

// rewire walks upward from i and sets each ancestor's active index to the previously visited
// node. A broken link stops the walk; the prefix already rewired stays rewired.
func (t *Tree) rewire(i int32) {
	cur := i
	for steps := 0; steps <= len(t.slots); steps++ {
		p := t.slots[cur].parent
		if p == none {
			return
		}
		pos := indexOf(t.slots[p].children, cur)
		if pos < 0 {
			return
		}
		t.slots[p].active = int32(pos)
		cur = p
	}
}

func (t *Tree) walkDown(i int32) int32 {
	if i == none {
		return none
	}
	cur := i
	for steps := 0; steps <= len(t.slots); steps++ {
		s := &t.slots[cur]
		if s.active == none || int(s.active) >= len(s.children) {
			return cur
		}
		cur = s.children[s.active]
	}
	return cur
}

// ActivePath returns root..tail. The result is memoized until the next structural mutation and
// must not be modified by the caller.
func (t *Tree) ActivePath() []string {
	if t.pathValid {
		return t.path
	}
	var path []string
	cur := t.root
	for steps := 0; cur != none && steps <= len(t.slots); steps++ {
		s := &t.slots[cur]
		path = append(path, s.id)
		if s.active == none || int(s.active) >= len(s.children) {
			break
		}
		cur = s.children[s.active]
	}
	t.path = path
	t.pathValid = true
	return path
}

// Rekey renames a node. Used when an optimistic placeholder learns its server-assigned id.
func (t *Tree) Rekey(oldID, newID string) error {
	if newID == "" {
		return ErrMissingID
	}
	i, ok := t.index[oldID]
	if !ok {
		return ErrNotFound
	}
	if oldID == newID {
		return nil
	}
	if t.Has(newID) {
		return ErrDuplicateID
	}
	delete(t.index, oldID)
	t.index[newID] = i
	t.slots[i].id = newID
	t.invalidatePath()
	return nil
}

func indexOf(xs []int32, v int32) int {
	for k, x := range xs {
		if x == v {
			return k
		}
	}
	return -1
}

// ClampActiveIndex applies the Delete clamp rule to a stored active index after the child at
// removedPos was dropped, leaving newLen children. Used by the store, which keeps indices as
// nullable ints.
func ClampActiveIndex(active *int, removedPos, newLen int) *int {
	cur := none
	if active != nil {
		cur = int32(*active)
	}
	out := clampActive(cur, int32(removedPos), int32(newLen))
	if out == none {
		return nil
	}
	v := int(out)
	return &v
}
