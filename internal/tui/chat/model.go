// Package chat is the terminal front end. It renders the conversation
// state pushed by the engine and turns keystrokes into engine intents;
// all chat semantics live behind the Controller interface.
package chat

import (
	"log/slog"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"astrachat/internal/domain"
)

// Controller is the engine surface the TUI drives. The TUI never mutates
// chat state itself.
type Controller interface {
	Send(text, conversationID string, streaming bool) error
	Regenerate(userText, assistantMessageID, conversationID string, alternatives []string, currentIndex int, streaming bool) error
	Stop()
	Busy() bool

	NewConversation() domain.Conversation
	SelectConversation(id string) bool
	DeleteConversation(id string) bool
	SelectAlternative(convID, msgID string, index int) bool
	ArchiveAll()

	Current() *domain.Conversation
	Conversations() []domain.Conversation
	Folders() []domain.Folder
	Counters() domain.Counters
}

// Options configures the chat model.
type Options struct {
	Controller Controller
	Logger     *slog.Logger
	// Streaming is the default streaming flag on outbound generate commands.
	Streaming bool
}

// Model is the root Bubble Tea model.
type Model struct {
	ctrl      Controller
	logger    *slog.Logger
	streaming bool

	input      textarea.Model
	transcript viewport.Model
	spin       spinner.Model

	snapshot   domain.Snapshot
	counters   domain.Counters
	busy       bool
	notice     string
	noticeKind domain.NotificationKind

	width    int
	height   int
	ready    bool
	quitting bool
}

// New creates the chat model. A first snapshot is pulled synchronously so
// the initial frame is not blank.
func New(opts Options) Model {
	ti := textarea.New()
	ti.Placeholder = "Type a message..."
	ti.ShowLineNumbers = false
	ti.SetHeight(3)
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := Model{
		ctrl:      opts.Controller,
		logger:    logger,
		streaming: opts.Streaming,
		input:     ti,
		spin:      sp,
	}
	m.pullState()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshTranscript(true)
		m.ready = true
		return m, nil

	case StateMsg:
		m.snapshot = msg.Snapshot
		m.counters = msg.Counters
		m.busy = msg.Busy
		m.refreshTranscript(true)
		return m, nil

	case NoticeMsg:
		m.notice = msg.Text
		m.noticeKind = msg.Kind
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.logger.Warn("send failed", "error", msg.err)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		if m.busy {
			m.ctrl.Stop()
			return m, nil
		}

	case "enter":
		text := m.input.Value()
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		ctrl, streaming := m.ctrl, m.streaming
		return m, func() tea.Msg {
			return sendResultMsg{err: ctrl.Send(text, "", streaming)}
		}

	case "alt+enter":
		m.input.InsertString("\n")
		return m, nil

	case "ctrl+n":
		m.ctrl.NewConversation()
		return m, nil

	case "ctrl+up":
		m.cycleConversation(-1)
		return m, nil

	case "ctrl+down":
		m.cycleConversation(1)
		return m, nil

	case "ctrl+x":
		if conv := m.ctrl.Current(); conv != nil {
			m.ctrl.DeleteConversation(conv.ID)
		}
		return m, nil

	case "ctrl+r":
		return m, m.regenerateLast()

	case "alt+left":
		m.cycleAlternative(-1)
		return m, nil

	case "alt+right":
		m.cycleAlternative(1)
		return m, nil

	case "ctrl+a":
		m.ctrl.ArchiveAll()
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// regenerateLast re-runs the last assistant answer in the current
// conversation, appending a new alternative.
func (m Model) regenerateLast() tea.Cmd {
	conv := currentConversation(m.snapshot)
	if conv == nil || m.busy {
		return nil
	}
	asst, userText := lastExchange(conv)
	if asst == nil {
		return nil
	}
	alts := asst.Alternatives
	if len(alts) == 0 {
		alts = []string{asst.Content}
	}
	ctrl, streaming := m.ctrl, m.streaming
	convID, msgID := conv.ID, asst.ID
	idx := len(alts)
	return func() tea.Msg {
		return sendResultMsg{err: ctrl.Regenerate(userText, msgID, convID, alts, idx, streaming)}
	}
}

// cycleAlternative steps the last assistant message through its stored
// answers.
func (m *Model) cycleAlternative(delta int) {
	conv := currentConversation(m.snapshot)
	if conv == nil {
		return
	}
	asst, _ := lastExchange(conv)
	if asst == nil || len(asst.Alternatives) < 2 {
		return
	}
	next := asst.CurrentIndex + delta
	if next < 0 || next >= len(asst.Alternatives) {
		return
	}
	m.ctrl.SelectAlternative(conv.ID, asst.ID, next)
}

// cycleConversation selects the previous or next conversation.
func (m *Model) cycleConversation(delta int) {
	convs := m.snapshot.Conversations
	if len(convs) == 0 {
		return
	}
	idx := 0
	for i, c := range convs {
		if c.ID == m.snapshot.CurrentConversationID {
			idx = i
			break
		}
	}
	idx += delta
	if idx < 0 || idx >= len(convs) {
		return
	}
	m.ctrl.SelectConversation(convs[idx].ID)
}

// pullState reads the engine's state directly. Used once at startup;
// afterwards StateMsg pushes keep the model current.
func (m *Model) pullState() {
	m.snapshot = domain.Snapshot{Conversations: m.ctrl.Conversations(), Folders: m.ctrl.Folders()}
	if conv := m.ctrl.Current(); conv != nil {
		m.snapshot.CurrentConversationID = conv.ID
	}
	m.counters = m.ctrl.Counters()
	m.busy = m.ctrl.Busy()
}

func currentConversation(snap domain.Snapshot) *domain.Conversation {
	for i := range snap.Conversations {
		if snap.Conversations[i].ID == snap.CurrentConversationID {
			return &snap.Conversations[i]
		}
	}
	return nil
}

// lastExchange returns the last assistant message and the user text that
// preceded it.
func lastExchange(conv *domain.Conversation) (*domain.Message, string) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role != domain.RoleAssistant {
			continue
		}
		userText := ""
		for j := i - 1; j >= 0; j-- {
			if conv.Messages[j].Role == domain.RoleUser {
				userText = conv.Messages[j].Content
				break
			}
		}
		return &conv.Messages[i], userText
	}
	return nil, ""
}
