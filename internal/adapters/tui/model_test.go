package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

type sessionsFake struct {
	tokens  []string
	updates []map[string]string
}

func (f *sessionsFake) Open(context.Context) (domain.SessionInfo, error) {
	return domain.SessionInfo{ID: "tui-1", Greeting: "Hello!"}, nil
}

func (f *sessionsFake) Get(id string) (domain.SessionInfo, error) {
	return domain.SessionInfo{ID: id}, nil
}

func (f *sessionsFake) Query(ctx context.Context, _ string, _ string) (*ports.RoutedAnswer, error) {
	return &ports.RoutedAnswer{
		Decision: domain.RouteDecision{Pipeline: domain.PipelineVector},
		Stream:   stream.FromTokens(ctx, f.tokens...),
	}, nil
}

func (f *sessionsFake) UpdateSettings(_ context.Context, _ string, updates map[string]string) (domain.SettingsUpdate, error) {
	f.updates = append(f.updates, updates)
	if updates[domain.SettingRouterLLM] == "missing" {
		return domain.SettingsUpdate{}, domain.WrapError(domain.ErrUnknownModel, "catalog lookup", errors.New("router_llm \"missing\" is not offered"))
	}
	return domain.SettingsUpdate{
		Settings: domain.Settings{LLM: "chat-a", RouterLLM: updates[domain.SettingRouterLLM]},
		Notice:   "We are now using " + updates[domain.SettingRouterLLM] + " for routing queries.",
	}, nil
}

func (f *sessionsFake) Close(string) error { return nil }

func (f *sessionsFake) Catalog() domain.Catalog {
	return domain.Catalog{
		Chat:      []domain.ModelSpec{{ID: "chat-a"}},
		Router:    []domain.ModelSpec{{ID: "gpt-4o-mini"}, {ID: "chat-a"}},
		Embedding: []domain.ModelSpec{{ID: "hashing"}},
	}
}

// drive feeds msg to the model and keeps running returned commands until
// the model goes idle.
func drive(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	for i := 0; msg != nil && i < 100; i++ {
		next, cmd := m.Update(msg)
		m = next.(Model)
		if cmd == nil {
			return m
		}
		msg = cmd()
	}
	return m
}

func typeLine(t *testing.T, m Model, line string) Model {
	t.Helper()
	m.input.SetValue(line)
	return drive(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func newTestModel(sessions *sessionsFake) Model {
	info, _ := sessions.Open(context.Background())
	m := New(context.Background(), sessions, info)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func TestQuestionStreamsIntoTranscript(t *testing.T) {
	m := newTestModel(&sessionsFake{tokens: []string{"He ", "went ", "to ", "RISD."}})

	m = typeLine(t, m, "What did he do at RISD?")

	if m.answer != nil {
		t.Fatalf("answer must be finished after the stream ends")
	}
	last := m.transcript[len(m.transcript)-1]
	if last.kind != entryAssistant || last.text != "He went to RISD." || last.pipeline != domain.PipelineVector {
		t.Fatalf("unexpected assistant entry %+v", last)
	}
	if !strings.Contains(m.renderTranscript(), "[vector] He went to RISD.") {
		t.Fatalf("transcript must label the pipeline")
	}
}

func TestSetCommandUpdatesSettings(t *testing.T) {
	sessions := &sessionsFake{}
	m := newTestModel(sessions)

	m = typeLine(t, m, "/set router_llm gpt-4o-mini")
	if len(sessions.updates) != 1 || sessions.updates[0][domain.SettingRouterLLM] != "gpt-4o-mini" {
		t.Fatalf("expected one router update, got %v", sessions.updates)
	}
	if m.settings.RouterLLM != "gpt-4o-mini" {
		t.Fatalf("settings header not refreshed: %+v", m.settings)
	}
	if !strings.Contains(m.renderTranscript(), "We are now using gpt-4o-mini for routing queries.") {
		t.Fatalf("notice missing from transcript")
	}

	m = typeLine(t, m, "/set router_llm missing")
	if last := m.transcript[len(m.transcript)-1]; last.kind != entryError {
		t.Fatalf("rejected update must be shown as an error, got %+v", last)
	}
	if m.settings.RouterLLM != "gpt-4o-mini" {
		t.Fatalf("rejected update must keep settings, got %+v", m.settings)
	}
}

func TestModelsCommandListsCatalog(t *testing.T) {
	m := newTestModel(&sessionsFake{})
	m = typeLine(t, m, "/models")

	if !strings.Contains(m.renderTranscript(), "router_llm: gpt-4o-mini, chat-a") {
		t.Fatalf("catalog not listed: %s", m.renderTranscript())
	}
}

func TestParseCommand(t *testing.T) {
	if cmd, err := parseCommand("/set llm chat-a"); err != nil || cmd.setting != "llm" || cmd.model != "chat-a" {
		t.Fatalf("unexpected parse result %+v / %v", cmd, err)
	}
	if _, err := parseCommand("/set llm"); err == nil {
		t.Fatalf("expected usage error")
	}
	if _, err := parseCommand("/temperature 0.5"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if cmd, _ := parseCommand("/exit"); cmd.name != "quit" {
		t.Fatalf("exit must quit, got %+v", cmd)
	}
}
