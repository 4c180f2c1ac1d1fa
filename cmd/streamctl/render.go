package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
	"github.com/yungbote/branchchat-backend/internal/stream"
)

var (
	userStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// livePrinter writes the growing buffer text. Appends print only the new suffix; a rewrite
// reprints the whole text on a fresh line.
type livePrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func newLivePrinter(w io.Writer) *livePrinter { return &livePrinter{w: w} }

func (p *livePrinter) Update(_ uint64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.w, text[len(p.printed):])
	} else {
		fmt.Fprint(p.w, "\n"+text)
	}
	p.printed = text
}

func (p *livePrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.w)
	}
	p.printed = ""
}

func speakerLabel(n tree.Node, byID map[string]stream.Speaker) string {
	name := n.SpeakerID
	style := botStyle
	if sp, ok := byID[n.SpeakerID]; ok {
		name = sp.Name
		if sp.Color != "" {
			style = style.Foreground(lipgloss.Color(sp.Color))
		} else if sp.IsUser {
			style = userStyle
		}
	}
	return style.Render(name)
}

// renderTranscript prints the active path, one "speaker: message" block per node.
func renderTranscript(nodes []tree.Node, speakers []stream.Speaker) string {
	byID := make(map[string]stream.Speaker, len(speakers))
	for _, sp := range speakers {
		byID[sp.ID] = sp
	}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(speakerLabel(n, byID))
		b.WriteString(": ")
		b.WriteString(strings.TrimRight(n.Message, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
