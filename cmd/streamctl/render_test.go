package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
	"github.com/yungbote/branchchat-backend/internal/stream"
)

func TestLivePrinterPrintsSuffixes(t *testing.T) {
	var out bytes.Buffer
	p := newLivePrinter(&out)
	p.Update(1, "Hel")
	p.Update(2, "Hello")
	p.Update(3, "Bye")
	p.Done()
	if got, want := out.String(), "Hello\nBye\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestRenderTranscriptUsesSpeakerNames(t *testing.T) {
	nodes := []tree.Node{
		{ID: "a", SpeakerID: "u", Message: "hi\n"},
		{ID: "b", SpeakerID: "missing", Message: "hello", IsBot: true},
	}
	speakers := []stream.Speaker{{ID: "u", Name: "You", IsUser: true}}
	got := renderTranscript(nodes, speakers)
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "You") || !strings.HasSuffix(lines[0], ": hi") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "missing") || !strings.HasSuffix(lines[1], ": hello") {
		t.Fatalf("line 1 = %q", lines[1])
	}
}
