package chat

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestChildrenRoundTripAndTreeProjection(t *testing.T) {
	parent := uuid.New()
	a, b := uuid.New(), uuid.New()
	idx := 1
	cid := "client-1"
	n := &ChatNode{
		ID:               uuid.New(),
		ChatID:           uuid.New(),
		ParentID:         &parent,
		ActiveChildIndex: &idx,
		SpeakerID:        uuid.New(),
		Message:          "hi",
		IsBot:            true,
		ClientID:         &cid,
		CreatedAt:        time.Now(),
	}
	if got := n.Children(); len(got) != 0 {
		t.Fatalf("empty child_ids decoded as %v", got)
	}
	n.SetChildren([]uuid.UUID{a, b})
	got := n.Children()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("children=%v", got)
	}

	tn := n.ToTreeNode()
	if tn.ParentID != parent.String() || tn.ClientID != cid || !tn.IsBot {
		t.Fatalf("tree node=%+v", tn)
	}
	if len(tn.ChildIDs) != 2 || tn.ChildIDs[1] != b.String() || *tn.ActiveChildIndex != 1 {
		t.Fatalf("tree node children=%v active=%v", tn.ChildIDs, tn.ActiveChildIndex)
	}
}

func TestChatSpeakersTolerateGarbage(t *testing.T) {
	c := &Chat{SpeakerIDs: []byte("not json")}
	if got := c.Speakers(); len(got) != 0 {
		t.Fatalf("speakers=%v", got)
	}
	c.SetSpeakers(nil)
	if string(c.SpeakerIDs) != "[]" {
		t.Fatalf("nil speakers encoded as %s", c.SpeakerIDs)
	}
}
