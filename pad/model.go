package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/drunkenbot/lyricghost/session"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	draftStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	ghostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	previewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	statusStyles = map[session.StatusKind]lipgloss.Style{
		session.StatusLoading: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		session.StatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		session.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
)

const helpText = "tab/→ accept · shift+tab new suggestion · esc dismiss · ctrl+c quit"

// model is the pad UI. Session events leave through dispatch; session
// output comes back as ghostMsg, statusMsg and replaceMsg.
type model struct {
	editor   textarea.Model
	dispatch func(session.Event)
	title    string

	ghostDraft string
	ghost      string
	status     session.Status
	width      int
}

func newModel(dispatch func(session.Event), title string) model {
	editor := textarea.New()
	editor.Placeholder = "Start writing a lyric…"
	editor.CharLimit = 0
	editor.ShowLineNumbers = false
	editor.Prompt = "┃ "
	editor.SetWidth(72)
	editor.SetHeight(8)
	editor.Focus()

	return model{editor: editor, dispatch: dispatch, title: title, width: 72}
}

func (m model) Init() tea.Cmd { return textarea.Blink }

// ghostVisible reports whether the last rendered ghost still belongs to the editor text.
func (m model) ghostVisible() bool {
	return m.ghost != "" && m.ghostDraft == m.editor.Value()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width-4, 20)
		m.editor.SetWidth(m.width)
		m.editor.SetHeight(max(msg.Height-10, 3))
		return m, nil

	case ghostMsg:
		m.ghostDraft, m.ghost = msg.draft, msg.ghost
		return m, nil

	case statusMsg:
		m.status = session.Status(msg)
		return m, nil

	case replaceMsg:
		m.editor.SetValue(string(msg))
		m.editor.CursorEnd()
		return m, nil

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			m.dispatch(session.PointerMoved{})
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit
		case "tab":
			if m.ghostVisible() {
				m.dispatch(session.Accept{})
			}
			return m, nil
		case "right":
			if m.ghostVisible() {
				m.dispatch(session.Accept{})
				return m, nil
			}
		case "shift+tab":
			m.dispatch(session.Refresh{})
			return m, nil
		case "esc":
			m.dispatch(session.Dismiss{})
			return m, nil
		}
	}

	before := m.editor.Value()
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	if after := m.editor.Value(); after != before {
		m.dispatch(session.Edit{Text: after})
	}
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.editor.View())
	b.WriteString("\n")
	b.WriteString(previewStyle.Width(m.width).Render(m.preview()))
	b.WriteString("\n")
	if m.status.Text != "" {
		b.WriteString(statusStyles[m.status.Kind].Render(m.status.Text))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(helpText))
	return b.String()
}

// preview shows the current line followed by the ghost continuation.
func (m model) preview() string {
	text := m.editor.Value()
	last := text
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		last = text[i+1:]
	}
	if !m.ghostVisible() {
		return draftStyle.Render(last)
	}
	return draftStyle.Render(last) + ghostStyle.Render(m.ghost)
}
