package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"astrachat/internal/domain"
)

var (
	colorAccent = lipgloss.Color("12")
	colorDim    = lipgloss.Color("8")
	colorError  = lipgloss.Color("9")

	styleHeader    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleUser      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleAssistant = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleDim       = lipgloss.NewStyle().Foreground(colorDim)
	styleError     = lipgloss.NewStyle().Foreground(colorError)
	styleModelTag  = lipgloss.NewStyle().Bold(true).Underline(true)
)

const inputHeight = 3

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteByte('\n')
	b.WriteString(m.transcript.View())
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	b.WriteByte('\n')
	b.WriteString(m.statusView())
	return b.String()
}

func (m *Model) layout() {
	m.input.SetWidth(m.width)
	m.transcript.Width = m.width
	// Header, input and status line take the rest.
	h := m.height - inputHeight - 3
	if h < 1 {
		h = 1
	}
	m.transcript.Height = h
}

func (m Model) headerView() string {
	title := domain.DefaultTitle
	if conv := currentConversation(m.snapshot); conv != nil {
		title = conv.Title
		if folder := folderOf(m.snapshot.Folders, conv.ID); folder != "" {
			title = folder + " / " + title
		}
	}
	pos := ""
	if n := len(m.snapshot.Conversations); n > 1 {
		pos = styleDim.Render(fmt.Sprintf("  [%d conversations]", n))
	}
	return styleHeader.Render(title) + pos
}

func (m Model) statusView() string {
	parts := []string{
		fmt.Sprintf("%d msgs", m.counters.Messages),
		fmt.Sprintf("~%d tokens", m.counters.Tokens),
	}
	if m.busy {
		parts = append(parts, m.spin.View()+"generating (esc to stop)")
	}
	status := styleDim.Render(strings.Join(parts, "  "))
	if m.notice != "" {
		note := m.notice
		if m.noticeKind == domain.NotifyError {
			note = styleError.Render(note)
		} else {
			note = styleDim.Render(note)
		}
		status += "  " + note
	}
	return status
}

// refreshTranscript re-renders the current conversation into the
// viewport. When follow is set the view sticks to the bottom, which is
// where streaming appends land.
func (m *Model) refreshTranscript(follow bool) {
	conv := currentConversation(m.snapshot)
	if conv == nil {
		m.transcript.SetContent(styleDim.Render("No conversation. Ctrl+N starts one."))
		return
	}

	renderer := m.markdownRenderer()
	var b strings.Builder
	for i := range conv.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.renderMessage(&conv.Messages[i], renderer))
	}
	m.transcript.SetContent(b.String())
	if follow {
		m.transcript.GotoBottom()
	}
}

func (m *Model) renderMessage(msg *domain.Message, renderer *glamour.TermRenderer) string {
	var b strings.Builder

	switch msg.Role {
	case domain.RoleUser:
		b.WriteString(styleUser.Render("You"))
		b.WriteByte('\n')
		b.WriteString(msg.Content)
		b.WriteByte('\n')
		return b.String()
	default:
	}

	label := "Assistant"
	if msg.Streaming {
		label += " " + styleDim.Render("(streaming)")
	}
	if n := len(msg.Alternatives); n > 1 {
		label += " " + styleDim.Render(fmt.Sprintf("[%d/%d  alt+←/→]", msg.CurrentIndex+1, n))
	}
	b.WriteString(styleAssistant.Render(label))
	b.WriteByte('\n')

	if len(msg.Ensemble) > 0 {
		for _, r := range msg.Ensemble {
			tag := styleModelTag.Render(r.Model)
			switch {
			case r.Failed:
				tag += " " + styleError.Render("(failed)")
			case r.Streaming:
				tag += " " + styleDim.Render("(streaming)")
			}
			b.WriteString(tag)
			b.WriteByte('\n')
			b.WriteString(renderMarkdown(renderer, r.Content))
			b.WriteByte('\n')
		}
		return b.String()
	}

	b.WriteString(renderMarkdown(renderer, msg.Content))
	b.WriteByte('\n')
	return b.String()
}

// markdownRenderer builds a width-fitted glamour renderer. Streaming
// updates arrive many times a second, so a failed build degrades to plain
// text instead of erroring the frame.
func (m *Model) markdownRenderer() *glamour.TermRenderer {
	width := m.width
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil || content == "" {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func folderOf(folders []domain.Folder, convID string) string {
	for _, f := range folders {
		for _, id := range f.Conversations {
			if id == convID {
				return f.Name
			}
		}
	}
	return ""
}
