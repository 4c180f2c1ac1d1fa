package tree

import (
	"errors"
	"fmt"
	"sort"
)

var ErrMultipleRoots = errors.New("tree: more than one root")

// FromNodes rebuilds a tree from stored rows. Child order follows each parent's ChildIDs; rows
// that claim a parent but are missing from its ChildIDs are appended after the listed children in
// CreatedAt order. Rows whose parent does not exist are dropped and returned as orphans. An out of
// range ActiveChildIndex is clamped to the last child.
func FromNodes(nodes []Node) (*Tree, []string, error) {
	t := New()

	byID := make(map[string]Node, len(nodes))
	claimedBy := make(map[string][]Node)
	var roots []Node
	for _, n := range nodes {
		if n.ID == "" {
			return nil, nil, ErrMissingID
		}
		if _, dup := byID[n.ID]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		byID[n.ID] = n
		if n.ParentID == "" {
			roots = append(roots, n)
		} else {
			claimedBy[n.ParentID] = append(claimedBy[n.ParentID], n)
		}
	}
	if len(roots) > 1 {
		return nil, nil, ErrMultipleRoots
	}
	if len(roots) == 0 {
		orphans := make([]string, 0, len(nodes))
		for _, n := range nodes {
			orphans = append(orphans, n.ID)
		}
		sort.Strings(orphans)
		return t, orphans, nil
	}

	place := func(n Node, parent int32) int32 {
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
		return i
	}

	t.root = place(roots[0], none)
	queue := []int32{t.root}
	for k := 0; k < len(queue); k++ {
		pi := queue[k]
		pid := t.slots[pi].id
		stored := byID[pid]

		listed := make(map[string]bool, len(stored.ChildIDs))
		var ordered []Node
		for _, cid := range stored.ChildIDs {
			c, ok := byID[cid]
			if !ok || c.ParentID != pid || listed[cid] {
				continue
			}
			listed[cid] = true
			ordered = append(ordered, c)
		}
		var extra []Node
		for _, c := range claimedBy[pid] {
			if !listed[c.ID] {
				extra = append(extra, c)
			}
		}
		sort.SliceStable(extra, func(a, b int) bool { return extra[a].CreatedAt.Before(extra[b].CreatedAt) })
		ordered = append(ordered, extra...)

		for _, c := range ordered {
			ci := place(c, pi)
			t.slots[pi].children = append(t.slots[pi].children, ci)
			queue = append(queue, ci)
		}

		n := int32(len(t.slots[pi].children))
		switch {
		case n == 0:
			t.slots[pi].active = none
		case stored.ActiveChildIndex == nil:
			t.slots[pi].active = n - 1
		case int32(*stored.ActiveChildIndex) < 0 || int32(*stored.ActiveChildIndex) >= n:
			t.slots[pi].active = n - 1
		default:
			t.slots[pi].active = int32(*stored.ActiveChildIndex)
		}
	}

	var orphans []string
	for _, n := range nodes {
		if !t.Has(n.ID) {
			orphans = append(orphans, n.ID)
		}
	}
	sort.Strings(orphans)
	t.tail = t.walkDown(t.root)
	return t, orphans, nil
}

// Validate checks the structural invariants. It is O(n) and meant for tests and decode checks.
func (t *Tree) Validate() error {
	if t.Len() == 0 {
		if t.root != none || t.tail != none {
			return errors.New("tree: empty tree with root or tail set")
		}
		return nil
	}
	if t.root == none {
		return errors.New("tree: non-empty tree without root")
	}
	roots := 0
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if got, ok := t.index[s.id]; !ok || got != int32(i) {
			return fmt.Errorf("tree: index mismatch for %s", s.id)
		}
		if s.parent == none {
			roots++
		} else {
			p := &t.slots[s.parent]
			if !p.live {
				return fmt.Errorf("tree: %s has a dead parent", s.id)
			}
			count := 0
			for _, c := range p.children {
				if c == int32(i) {
					count++
				}
			}
			if count != 1 {
				return fmt.Errorf("tree: %s listed %d times by its parent", s.id, count)
			}
		}
		if len(s.children) == 0 && s.active != none {
			return fmt.Errorf("tree: %s has an active index but no children", s.id)
		}
		if len(s.children) > 0 && (s.active < 0 || int(s.active) >= len(s.children)) {
			return fmt.Errorf("tree: %s active index %d out of range", s.id, s.active)
		}
		for _, c := range s.children {
			if !t.slots[c].live || t.slots[c].parent != int32(i) {
				return fmt.Errorf("tree: %s lists a child that does not point back", s.id)
			}
		}
	}
	if roots != 1 {
		return fmt.Errorf("tree: %d roots", roots)
	}
	path := t.ActivePath()
	if len(path) == 0 || path[len(path)-1] != t.Tail() {
		return errors.New("tree: active path does not end at tail")
	}
	if len(path) > t.Len() {
		return errors.New("tree: active path cycles")
	}
	return nil
}
