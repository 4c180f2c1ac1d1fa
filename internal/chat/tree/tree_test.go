package tree

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func mustAppend(t *testing.T, tr *Tree, id, parent string) {
	t.Helper()
	if err := tr.Append(Node{ID: id, ParentID: parent, SpeakerID: "s", Message: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Append(%s under %q): %v", id, parent, err)
	}
}

func mustValidate(t *testing.T, tr *Tree) {
	t.Helper()
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func activeIndex(t *testing.T, tr *Tree, id string) int {
	t.Helper()
	n, ok := tr.Get(id)
	if !ok {
		t.Fatalf("node %s missing", id)
	}
	if n.ActiveChildIndex == nil {
		return -1
	}
	return *n.ActiveChildIndex
}

// Builds:
//
//	r ─ a ─ b ─ c
//	    │   └── d
//	    └── e ─ f
func branchy(t *testing.T) *Tree {
	tr := New()
	mustAppend(t, tr, "r", "")
	mustAppend(t, tr, "a", "r")
	mustAppend(t, tr, "b", "a")
	mustAppend(t, tr, "c", "b")
	mustAppend(t, tr, "d", "b")
	mustAppend(t, tr, "e", "a")
	mustAppend(t, tr, "f", "e")
	mustValidate(t, tr)
	return tr
}

func TestAppendRootOnlyOnEmptyTree(t *testing.T) {
	tr := New()
	if tr.Tail() != "" || tr.Root() != "" {
		t.Fatalf("empty tree should have no root/tail")
	}
	mustAppend(t, tr, "r", "")
	if tr.Root() != "r" || tr.Tail() != "r" {
		t.Fatalf("root=%q tail=%q, want r/r", tr.Root(), tr.Tail())
	}
	err := tr.Append(Node{ID: "r2"})
	if !errors.Is(err, ErrRootExists) {
		t.Fatalf("second root err=%v, want ErrRootExists", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("failed append mutated tree: len=%d", tr.Len())
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	tr := New()
	mustAppend(t, tr, "r", "")
	cases := []struct {
		name string
		n    Node
		want error
	}{
		{"missing_id", Node{ParentID: "r"}, ErrMissingID},
		{"duplicate", Node{ID: "r", ParentID: "r"}, ErrDuplicateID},
		{"unknown_parent", Node{ID: "x", ParentID: "nope"}, ErrUnknownParent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tr.Append(tc.n); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
	mustValidate(t, tr)
}

func TestAppendMovesActiveBranchAndTail(t *testing.T) {
	tr := branchy(t)
	if got := tr.Tail(); got != "f" {
		t.Fatalf("tail=%q, want f", got)
	}
	if got := activeIndex(t, tr, "a"); got != 1 {
		t.Fatalf("a.active=%d, want 1", got)
	}
	// Appending under an off-path node pulls the active path over to it.
	mustAppend(t, tr, "g", "c")
	if got := tr.Tail(); got != "g" {
		t.Fatalf("tail=%q, want g", got)
	}
	if got := activeIndex(t, tr, "a"); got != 0 {
		t.Fatalf("a.active=%d, want 0", got)
	}
	if got := activeIndex(t, tr, "b"); got != 0 {
		t.Fatalf("b.active=%d, want 0", got)
	}
	mustValidate(t, tr)
}

func TestSwitchBranchRewiresEveryAncestor(t *testing.T) {
	tr := branchy(t)
	if err := tr.SwitchBranch("d"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	if tr.Tail() != "d" {
		t.Fatalf("tail=%q, want d", tr.Tail())
	}
	if got := activeIndex(t, tr, "b"); got != 1 {
		t.Fatalf("b.active=%d, want 1", got)
	}
	if got := activeIndex(t, tr, "a"); got != 0 {
		t.Fatalf("a.active=%d, want 0", got)
	}
	want := []string{"r", "a", "b", "d"}
	if got := tr.ActivePath(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("path=%v, want %v", got, want)
	}
	mustValidate(t, tr)

	if err := tr.SwitchBranch("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch to missing err=%v", err)
	}
}

func TestSwitchBranchToInnerNodeFollowsItsActivePath(t *testing.T) {
	tr := branchy(t)
	if err := tr.SwitchBranch("b"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	if tr.Tail() != "d" {
		t.Fatalf("tail=%q, want d (b's own active child)", tr.Tail())
	}
	mustValidate(t, tr)
}

func TestEditTouchesOnlyContent(t *testing.T) {
	tr := branchy(t)
	before := fmt.Sprint(tr.ActivePath())
	at := time.Now()
	if err := tr.Edit("b", "edited", at); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	n, _ := tr.Get("b")
	if n.Message != "edited" || n.UpdatedAt == nil || !n.UpdatedAt.Equal(at) {
		t.Fatalf("edit not applied: %+v", n)
	}
	if got := fmt.Sprint(tr.ActivePath()); got != before || tr.Tail() != "f" {
		t.Fatalf("edit changed the active path: %s", got)
	}
	if err := tr.Edit("zzz", "x", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("edit missing err=%v", err)
	}
}

func TestDeleteRemovesDescendantClosure(t *testing.T) {
	tr := branchy(t)
	removed, err := tr.Delete("b")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fmt.Sprint(removed) != "[b c d]" {
		t.Fatalf("removed=%v", removed)
	}
	for _, id := range []string{"b", "c", "d"} {
		if tr.Has(id) {
			t.Fatalf("%s survived delete", id)
		}
	}
	for _, n := range tr.Nodes() {
		for _, c := range n.ChildIDs {
			if c == "b" || c == "c" || c == "d" {
				t.Fatalf("%s still references deleted %s", n.ID, c)
			}
		}
	}
	// e was active and was shifted down from index 1 to 0.
	if got := activeIndex(t, tr, "a"); got != 0 {
		t.Fatalf("a.active=%d, want 0", got)
	}
	if tr.Tail() != "f" {
		t.Fatalf("tail=%q, want f", tr.Tail())
	}
	mustValidate(t, tr)
}

func TestDeleteOnActivePathRecomputesTail(t *testing.T) {
	tr := branchy(t)
	if _, err := tr.Delete("e"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := activeIndex(t, tr, "a"); got != 0 {
		t.Fatalf("a.active=%d, want 0", got)
	}
	// b's active child is d (last appended).
	if tr.Tail() != "d" {
		t.Fatalf("tail=%q, want d", tr.Tail())
	}
	mustValidate(t, tr)

	if _, err := tr.Delete("c"); err != nil {
		t.Fatalf("Delete c: %v", err)
	}
	if _, err := tr.Delete("d"); err != nil {
		t.Fatalf("Delete d: %v", err)
	}
	if got := activeIndex(t, tr, "b"); got != -1 {
		t.Fatalf("b.active=%d, want null", got)
	}
	if tr.Tail() != "b" {
		t.Fatalf("tail=%q, want b", tr.Tail())
	}
	mustValidate(t, tr)
}

func TestDeleteRootEmptiesTree(t *testing.T) {
	tr := branchy(t)
	removed, err := tr.Delete("r")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(removed) != 7 || tr.Len() != 0 || tr.Root() != "" || tr.Tail() != "" {
		t.Fatalf("root delete left state: removed=%d len=%d root=%q tail=%q", len(removed), tr.Len(), tr.Root(), tr.Tail())
	}
	mustValidate(t, tr)
	mustAppend(t, tr, "r2", "")
	mustValidate(t, tr)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	tr := branchy(t)
	if _, err := tr.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if tr.Len() != 7 {
		t.Fatalf("len=%d", tr.Len())
	}
}

func TestClampActive(t *testing.T) {
	cases := []struct {
		active, removed, newLen, want int32
	}{
		{2, 2, 2, 1},
		{0, 0, 2, 0},
		{1, 0, 2, 0},
		{2, 0, 2, 1},
		{2, 1, 2, 1},
		{0, 1, 2, 0},
		{0, 0, 0, none},
	}
	for _, tc := range cases {
		if got := clampActive(tc.active, tc.removed, tc.newLen); got != tc.want {
			t.Fatalf("clampActive(%d,%d,%d)=%d, want %d", tc.active, tc.removed, tc.newLen, got, tc.want)
		}
	}
}

func TestClampActiveIndexNullable(t *testing.T) {
	two := 2
	if got := ClampActiveIndex(&two, 2, 2); got == nil || *got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	if got := ClampActiveIndex(&two, 0, 0); got != nil {
		t.Fatalf("got %v, want nil", *got)
	}
	if got := ClampActiveIndex(nil, 0, 3); got == nil || *got != 2 {
		t.Fatalf("nil active should clamp to last child, got %v", got)
	}
}

func TestActivePathIsMemoizedUntilMutation(t *testing.T) {
	tr := branchy(t)
	p1 := tr.ActivePath()
	p2 := tr.ActivePath()
	if &p1[0] != &p2[0] {
		t.Fatalf("ActivePath recomputed without a mutation")
	}
	mustAppend(t, tr, "x", "f")
	p3 := tr.ActivePath()
	if p3[len(p3)-1] != "x" {
		t.Fatalf("path not refreshed after append: %v", p3)
	}
}

func TestRekeyKeepsShape(t *testing.T) {
	tr := branchy(t)
	if err := tr.Rekey("e", "e-server"); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	f, _ := tr.Get("f")
	if f.ParentID != "e-server" {
		t.Fatalf("child parent=%q, want e-server", f.ParentID)
	}
	if err := tr.Rekey("f", "a"); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("rekey onto existing id err=%v", err)
	}
	mustValidate(t, tr)
}

func TestFromNodesRoundTripAndRepair(t *testing.T) {
	tr := branchy(t)
	if err := tr.SwitchBranch("c"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	back, orphans, err := FromNodes(tr.Nodes())
	if err != nil || len(orphans) != 0 {
		t.Fatalf("FromNodes err=%v orphans=%v", err, orphans)
	}
	if back.Tail() != "c" || fmt.Sprint(back.ActivePath()) != fmt.Sprint(tr.ActivePath()) {
		t.Fatalf("decoded path=%v tail=%q", back.ActivePath(), back.Tail())
	}
	mustValidate(t, back)

	bad := 9
	rows := []Node{
		{ID: "r", ChildIDs: []string{"a", "ghost"}, ActiveChildIndex: &bad},
		{ID: "a", ParentID: "r"},
		{ID: "late", ParentID: "r", CreatedAt: time.Now()},
		{ID: "lost", ParentID: "nowhere"},
	}
	repaired, orphans, err := FromNodes(rows)
	if err != nil {
		t.Fatalf("FromNodes: %v", err)
	}
	if fmt.Sprint(orphans) != "[lost]" {
		t.Fatalf("orphans=%v", orphans)
	}
	r, _ := repaired.Get("r")
	if fmt.Sprint(r.ChildIDs) != "[a late]" || *r.ActiveChildIndex != 1 {
		t.Fatalf("repaired root=%+v", r)
	}
	mustValidate(t, repaired)

	if _, _, err := FromNodes([]Node{{ID: "x"}, {ID: "y"}}); !errors.Is(err, ErrMultipleRoots) {
		t.Fatalf("two roots err=%v", err)
	}
}

func TestRandomMutationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New()
	next := 0
	pick := func() string {
		nodes := tr.Nodes()
		return nodes[rng.Intn(len(nodes))].ID
	}
	for step := 0; step < 3000; step++ {
		if tr.Len() == 0 {
			mustAppend(t, tr, fmt.Sprintf("n%d", next), "")
			next++
			continue
		}
		switch op := rng.Intn(10); {
		case op < 5:
			mustAppend(t, tr, fmt.Sprintf("n%d", next), pick())
			next++
		case op < 7:
			id := pick()
			if err := tr.SwitchBranch(id); err != nil {
				t.Fatalf("switch: %v", err)
			}
			if n, _ := tr.Get(id); len(n.ChildIDs) == 0 && tr.Tail() != id {
				t.Fatalf("switch to leaf %s left tail %s", id, tr.Tail())
			}
		case op < 8:
			if err := tr.Edit(pick(), "x", time.Now()); err != nil {
				t.Fatalf("edit: %v", err)
			}
		default:
			id := pick()
			removed, err := tr.Delete(id)
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			for _, r := range removed {
				if tr.Has(r) {
					t.Fatalf("deleted %s still present", r)
				}
			}
		}
		if err := tr.Validate(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
}
