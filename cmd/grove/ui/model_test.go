package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"grove/internal/chat"
	"grove/internal/engagement"
	"grove/internal/engine"
	"grove/internal/moments"
	"grove/internal/narrative"
	"grove/internal/storage"
	"grove/internal/triggers"
)

type failingResponder struct{}

func (failingResponder) Respond(context.Context, []chat.Message, string) (string, error) {
	return "", errors.New("quota exceeded")
}

func (failingResponder) Name() string { return "failing" }

func newModel(t *testing.T, responder chat.Responder) Model {
	t.Helper()
	e := engine.New(engine.Options{
		Store:        storage.NewMemory(),
		Narrative:    narrative.New(narrative.Schema{}),
		Synchronous:  true,
		NewSessionID: func() string { return "session-ui" },
	})
	t.Cleanup(e.Close)

	styles := NewStyles(LightTheme())
	m := New(Config{Engine: e, Responder: responder, Styles: &styles})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func press(t *testing.T, m Model, key tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(tea.KeyMsg{Type: key})
	return updated.(Model), cmd
}

func send(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	m, cmd := press(t, m, tea.KeyEnter)
	if cmd == nil {
		return m
	}
	msg := cmd()
	if _, ok := msg.(replyMsg); !ok {
		return m
	}
	updated, _ := m.Update(msg)
	return updated.(Model)
}

func lastEntry(m Model) entry {
	return m.entries[len(m.entries)-1]
}

func TestSubmitRecordsExchange(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})

	m = send(t, m, "what is the ratchet?")

	snap := m.engine.Bus().State()
	if snap.ExchangeCount != 1 {
		t.Fatalf("expected 1 exchange, got %d", snap.ExchangeCount)
	}
	if len(m.history) != 2 || m.history[0].Role != chat.RoleUser || m.history[1].Role != chat.RoleModel {
		t.Fatalf("unexpected chat history: %+v", m.history)
	}
	if m.pending {
		t.Fatalf("expected pending to clear after the reply")
	}
	if m.lastTurn == nil {
		t.Fatalf("expected the turn to be kept")
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
}

func TestEmptyInputIsIgnored(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})
	_, cmd := press(t, m, tea.KeyEnter)
	if cmd != nil {
		t.Fatalf("expected no command for empty input")
	}
}

func TestResponderErrorIsShown(t *testing.T) {
	m := newModel(t, failingResponder{})

	m = send(t, m, "hello")

	if got := m.engine.Bus().State().ExchangeCount; got != 0 {
		t.Fatalf("failed replies must not count as exchanges, got %d", got)
	}
	if e := lastEntry(m); e.kind != entryError || !strings.Contains(e.text, "quota exceeded") {
		t.Fatalf("expected an error entry, got %+v", e)
	}
}

func TestSlashCommands(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})

	m = send(t, m, "/lens engineer")
	if got := m.engine.Narrative().ActiveLens(); got != "engineer" {
		t.Fatalf("expected lens engineer, got %q", got)
	}

	m = send(t, m, "/sprout s1 gpu ratchet")
	if got := m.engine.Bus().State().SproutsCaptured; got != 1 {
		t.Fatalf("expected 1 sprout, got %d", got)
	}

	m = send(t, m, "/topic ratchet The Ratchet")
	if topics := m.engine.Bus().State().TopicsExplored; len(topics) != 1 || topics[0] != "ratchet" {
		t.Fatalf("unexpected topics: %v", topics)
	}

	m = send(t, m, "/bogus")
	if e := lastEntry(m); e.kind != entryError || !strings.Contains(e.text, "unknown command") {
		t.Fatalf("expected unknown command error, got %+v", e)
	}

	m, _ = press(t, m, tea.KeyEsc)
	if !m.quitting {
		t.Fatalf("expected esc to quit")
	}
}

func TestResetStartsNewSession(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})
	m = send(t, m, "hello")
	m = send(t, m, "/reset")

	snap := m.engine.Bus().State()
	if snap.ExchangeCount != 0 || snap.TotalExchangeCount != 0 {
		t.Fatalf("expected counters to reset, got %d/%d", snap.ExchangeCount, snap.TotalExchangeCount)
	}
	if len(m.history) != 0 {
		t.Fatalf("expected chat history to clear")
	}
}

func TestTabUsesTopSuggestion(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})
	if len(m.prompts) == 0 {
		t.Skip("no default prompts eligible at arrival")
	}
	want := m.prompts[0].Prompt.ID

	m, _ = press(t, m, tea.KeyTab)

	if m.input.Value() == "" {
		t.Fatalf("expected input to hold the suggestion")
	}
	used := m.engine.Library().Used()
	found := false
	for _, id := range used {
		found = found || id == want
	}
	if !found {
		t.Fatalf("expected %s to be marked used, got %v", want, used)
	}
}

func countEvents(m Model, t engagement.EventType) int {
	n := 0
	for _, ev := range m.engine.Bus().History() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestRevealIsShownOnceAndAcknowledged(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})
	m.engine.Bus().SetTriggers([]triggers.Trigger{{
		ID:         "first-exchange",
		Reveal:     engagement.RevealSimulation,
		Priority:   10,
		Enabled:    true,
		Conditions: triggers.All(triggers.Leaf("exchangeCount", triggers.OpGte, 1)),
	}})

	m = send(t, m, "hello")
	if m.reveal != engagement.RevealSimulation {
		t.Fatalf("expected the simulation reveal to surface, got %q", m.reveal)
	}
	m = send(t, m, "hello again")
	if got := countEvents(m, engagement.EventRevealShown); got != 1 {
		t.Fatalf("expected one REVEAL_SHOWN, got %d", got)
	}

	m = send(t, m, "/accept")

	snap := m.engine.Bus().State()
	if !snap.HasAcknowledged(engagement.RevealSimulation) {
		t.Fatalf("expected simulation to be acknowledged")
	}
	if m.reveal != "" {
		t.Fatalf("expected the current reveal to clear, got %q", m.reveal)
	}

	m = send(t, m, "/decline")
	if e := lastEntry(m); e.kind != entryError {
		t.Fatalf("expected an error with no reveal pending, got %+v", e)
	}
}

func TestCompleteShowsReactions(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})

	m = send(t, m, "/complete ratchet")

	if m.reveal != engagement.RevealJourneyCompletion {
		t.Fatalf("expected the journey completion reveal ahead of the queue head, got %q", m.reveal)
	}
	found := false
	for _, e := range m.entries {
		found = found || strings.Contains(e.text, "Journey complete:")
	}
	if !found {
		t.Fatalf("expected the journey-complete moment to render")
	}
	if !m.engine.Bus().State().Flags[moments.ShownFlag("journey-complete")] {
		t.Fatalf("expected the moment to be recorded as shown")
	}
}

func TestViewShowsEngagementPanel(t *testing.T) {
	m := newModel(t, chat.EchoResponder{})
	view := m.View()

	for _, want := range []string{"grove", "Engagement", "ARRIVAL", "Drift"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected view to contain %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("ratchet", 10); got != "ratchet" {
		t.Fatalf("short strings pass through, got %q", got)
	}
	if got := truncate("knowledge commons", 8); got != "knowled…" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
