// Package tui is an interactive terminal session driver.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
)

const helpText = "Enter to ask. /set <llm|router_llm|embedding_model> <model>, /models, /quit."

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryNotice
	entryError
)

type entry struct {
	kind     entryKind
	pipeline domain.PipelineName
	text     string
}

// Model is the bubbletea model for one session.
type Model struct {
	ctx       context.Context
	sessions  ports.SessionService
	sessionID string

	input    textinput.Model
	viewport viewport.Model
	ready    bool

	transcript  []entry
	answer      *ports.RoutedAnswer
	answerEntry int
	settings    domain.Settings
	status      string
}

func New(ctx context.Context, sessions ports.SessionService, info domain.SessionInfo) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the documents"
	ti.CharLimit = 0
	ti.Focus()

	m := Model{
		ctx:       ctx,
		sessions:  sessions,
		sessionID: info.ID,
		input:     ti,
		viewport:  viewport.New(0, 0),
		settings:  info.Settings,
		status:    helpText,
	}
	if info.Greeting != "" {
		m.transcript = append(m.transcript, entry{kind: entryNotice, text: info.Greeting})
	}
	return m
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, chatFrame := chatBoxStyle.GetFrameSize()
		_, inputFrame := inputBoxStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-inputFrame-chatFrame-3)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.cancelAnswer()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.answer != nil {
				m.cancelAnswer()
				m.status = "Answer cancelled."
				m.refresh()
			}
			return m, nil
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.Reset()
			return m.handleLine(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerStartedMsg:
		m.answer = msg.answer
		m.answerEntry = len(m.transcript)
		m.transcript = append(m.transcript, entry{kind: entryAssistant, pipeline: msg.answer.Decision.Pipeline})
		m.status = fmt.Sprintf("Answering with the %s pipeline. Esc cancels.", msg.answer.Decision.Pipeline)
		m.refresh()
		return m, nextToken(msg.answer)

	case tokenMsg:
		if msg.answer != m.answer {
			return m, nil
		}
		m.transcript[m.answerEntry].text += msg.text
		m.refresh()
		return m, nextToken(msg.answer)

	case streamEndMsg:
		if msg.answer != m.answer {
			return m, nil
		}
		m.answer = nil
		if msg.err != nil {
			m.transcript = append(m.transcript, entry{kind: entryError, text: msg.err.Error()})
			m.status = "Answer failed."
		} else {
			m.status = helpText
		}
		m.refresh()
		return m, nil

	case settingsUpdatedMsg:
		m.settings = msg.update.Settings
		m.transcript = append(m.transcript, entry{kind: entryNotice, text: msg.update.Notice})
		m.refresh()
		return m, nil

	case noticeMsg:
		m.transcript = append(m.transcript, entry{kind: entryNotice, text: msg.text})
		m.refresh()
		return m, nil

	case errMsg:
		m.transcript = append(m.transcript, entry{kind: entryError, text: msg.err.Error()})
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleLine(line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		m.cancelAnswer()
		m.transcript = append(m.transcript, entry{kind: entryUser, text: line})
		m.refresh()
		return m, m.ask(line)
	}

	cmd, err := parseCommand(line)
	if err != nil {
		m.transcript = append(m.transcript, entry{kind: entryError, text: err.Error()})
		m.refresh()
		return m, nil
	}
	switch cmd.name {
	case "quit":
		m.cancelAnswer()
		return m, tea.Quit
	case "models":
		return m, m.listModels()
	default:
		return m, m.updateSettings(cmd.setting, cmd.model)
	}
}

func (m *Model) cancelAnswer() {
	if m.answer != nil {
		m.answer.Stream.Close()
		m.answer = nil
	}
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		answer, err := m.sessions.Query(m.ctx, m.sessionID, question)
		if err != nil {
			return errMsg{err: err}
		}
		return answerStartedMsg{answer: answer}
	}
}

func nextToken(answer *ports.RoutedAnswer) tea.Cmd {
	return func() tea.Msg {
		if answer.Stream.Next() {
			return tokenMsg{answer: answer, text: answer.Stream.Token()}
		}
		return streamEndMsg{answer: answer, err: answer.Stream.Err()}
	}
}

func (m Model) updateSettings(setting, model string) tea.Cmd {
	return func() tea.Msg {
		update, err := m.sessions.UpdateSettings(m.ctx, m.sessionID, map[string]string{setting: model})
		if err != nil {
			return errMsg{err: err}
		}
		return settingsUpdatedMsg{update: update}
	}
}

func (m Model) listModels() tea.Cmd {
	return func() tea.Msg {
		catalog := m.sessions.Catalog()
		var b strings.Builder
		writeList := func(setting string, specs []domain.ModelSpec) {
			ids := make([]string, 0, len(specs))
			for _, spec := range specs {
				ids = append(ids, spec.ID)
			}
			fmt.Fprintf(&b, "%s: %s\n", setting, strings.Join(ids, ", "))
		}
		writeList(domain.SettingLLM, catalog.Chat)
		writeList(domain.SettingRouterLLM, catalog.Router)
		writeList(domain.SettingEmbeddingModel, catalog.Embedding)
		return noticeMsg{text: strings.TrimSpace(b.String())}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for _, e := range m.transcript {
		switch e.kind {
		case entryUser:
			b.WriteString(userStyle.Render("you: ") + e.text)
		case entryAssistant:
			b.WriteString(pipelineStyle.Render("["+string(e.pipeline)+"] ") + e.text)
		case entryNotice:
			b.WriteString(noticeStyle.Render(e.text))
		case entryError:
			b.WriteString(errorStyle.Render("error: " + e.text))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("Corpus Router") + "  " + statusStyle.Render(fmt.Sprintf(
		"llm=%s router=%s embedding=%s", m.settings.LLM, m.settings.EffectiveRouterLLM(), m.settings.EmbeddingModel))
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		chatBoxStyle.Render(m.viewport.View()),
		inputBoxStyle.Render(m.input.View()),
		statusStyle.Render(m.status),
	)
}

// Run opens a session, drives it until the user quits and closes it.
func Run(ctx context.Context, sessions ports.SessionService) error {
	info, err := sessions.Open(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = sessions.Close(info.ID) }()

	program := tea.NewProgram(New(ctx, sessions, info), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
