package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"grove/internal/chat"
	"grove/internal/contextfields"
	"grove/internal/engagement"
	"grove/internal/engine"
	"grove/internal/logging"
)

const (
	sidebarWidth   = 34
	historyTurns   = 20
	defaultTick    = 30 * time.Second
	defaultTimeout = 60 * time.Second
)

// Config wires the model to the engine and the LLM collaborator.
type Config struct {
	Engine    *engine.Engine
	Responder chat.Responder
	// Timeout bounds one responder call.
	Timeout time.Duration
	// TickEvery drives time milestones.
	TickEvery time.Duration
	Styles    *Styles
}

type entryKind int

const (
	entryUser entryKind = iota
	entryReply
	entryNotice
	entryError
)

type entry struct {
	kind entryKind
	text string
}

// replyMsg carries the responder's answer back into Update.
type replyMsg struct {
	query string
	reply string
	err   error
}

type tickMsg time.Time

// Model is the bubbletea model for the grove chat.
type Model struct {
	engine    *engine.Engine
	responder chat.Responder
	timeout   time.Duration
	tickEvery time.Duration
	styles    Styles
	renderer  *glamour.TermRenderer

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool

	entries  []entry
	history  []chat.Message
	prompts  []contextfields.ScoredPrompt
	lastTurn *engine.Turn
	reveal   engagement.RevealType
	pending  bool
	quitting bool
}

// New builds the model. The engine stays owned by the caller.
func New(cfg Config) Model {
	styles := DefaultStyles()
	if cfg.Styles != nil {
		styles = *cfg.Styles
	}
	if cfg.Responder == nil {
		cfg.Responder = chat.EchoResponder{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = defaultTick
	}

	ti := textinput.New()
	ti.Placeholder = "Ask anything, or /help"
	ti.CharLimit = 2000
	ti.Prompt = styles.Prompt.Render("› ")
	ti.Focus()

	vp := viewport.New(80, 20)

	var renderer *glamour.TermRenderer
	if styles.Theme.IsDark {
		renderer, _ = glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(80))
	} else {
		renderer, _ = glamour.NewTermRenderer(glamour.WithStandardStyle("light"), glamour.WithWordWrap(80))
	}

	m := Model{
		engine:    cfg.Engine,
		responder: cfg.Responder,
		timeout:   cfg.Timeout,
		tickEvery: cfg.TickEvery,
		styles:    styles,
		renderer:  renderer,
		input:     ti,
		viewport:  vp,
	}
	m.prompts = m.engine.NextPrompts(contextfields.SurfaceSuggestion)
	if len(m.engine.Bus().History()) == 0 {
		m.prompts = m.engine.WelcomePrompts()
	}
	m.addEntry(entryNotice, fmt.Sprintf("Session %s · responder %s", m.engine.Bus().State().SessionID, m.responder.Name()))
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			m.usePrompt(0)
			return m, nil
		case "ctrl+d":
			m.dismissInjection()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case "enter":
			return m.submit()
		}

	case replyMsg:
		m.pending = false
		m.handleReply(msg)
		return m, nil

	case tickMsg:
		for _, minutes := range m.engine.Tick() {
			m.addEntry(entryNotice, fmt.Sprintf("%d minutes in", minutes))
		}
		m.showReactions(m.engine.TakeReactions())
		m.refreshReveal()
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	mainWidth := max(width-sidebarWidth-2, 20)
	// header, divider, input, footer
	m.viewport.Width = mainWidth
	m.viewport.Height = max(height-4, 3)
	m.input.Width = mainWidth - 4
	if m.renderer != nil {
		style := "light"
		if m.styles.Theme.IsDark {
			style = "dark"
		}
		if r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(mainWidth-4)); err == nil {
			m.renderer = r
		}
	}
	m.ready = true
	m.refreshViewport()
}

// submit sends the input as a chat message, or runs it as a slash command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.pending {
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m, m.command(text)
	}

	m.addEntry(entryUser, text)
	m.pending = true
	return m, m.ask(text)
}

// ask calls the responder off the UI goroutine.
func (m Model) ask(query string) tea.Cmd {
	history := append([]chat.Message(nil), m.history...)
	responder, timeout := m.responder, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reply, err := responder.Respond(ctx, history, query)
		return replyMsg{query: query, reply: reply, err: err}
	}
}

func (m *Model) handleReply(msg replyMsg) {
	if msg.err != nil {
		logging.Get(logging.CategoryTUI).Warn("responder failed: %v", msg.err)
		m.addEntry(entryError, fmt.Sprintf("No reply: %v", msg.err))
		return
	}

	before := m.engine.Bus().State().Stage
	turn := m.engine.RecordExchange(msg.query, msg.reply)
	m.lastTurn = &turn

	m.history = append(m.history,
		chat.Message{Role: chat.RoleUser, Text: msg.query},
		chat.Message{Role: chat.RoleModel, Text: msg.reply},
	)
	if len(m.history) > 2*historyTurns {
		m.history = m.history[len(m.history)-2*historyTurns:]
	}

	m.addEntry(entryReply, msg.reply)
	if turn.Stage != before {
		m.addEntry(entryNotice, fmt.Sprintf("Stage %s → %s", before, turn.Stage))
	}
	if turn.Injected && turn.SuggestedJourney != nil {
		j := turn.SuggestedJourney
		note := "Drifting? Try the journey: " + j.Title
		if j.Description != "" {
			note += " (" + j.Description + ")"
		}
		m.addEntry(entryNotice, note+"  [ctrl+d to dismiss]")
	}
	m.showReactions(turn.Reactions)
	m.refreshReveal()
	m.prompts = m.engine.NextPrompts(contextfields.SurfaceSuggestion)
}

// refreshReveal surfaces the top queued reveal once and records it as shown.
func (m *Model) refreshReveal() {
	if m.reveal != "" {
		return
	}
	queue := m.engine.Bus().RevealQueue()
	if len(queue) == 0 {
		return
	}
	m.showReveal(queue[0].Type)
}

func (m *Model) showReveal(r engagement.RevealType) {
	m.engine.Bus().Emit(engagement.RevealShown{RevealType: r})
	m.reveal = r
	m.addEntry(entryNotice, fmt.Sprintf("Reveal unlocked: %s  [/accept or /decline]", r))
}

// showReactions renders what an event surfaced at once. An immediate reveal
// takes the reveal slot ahead of the queue head.
func (m *Model) showReactions(r engine.Reactions) {
	lens := m.engine.Narrative().ActiveLens()
	for _, mo := range r.Moments {
		heading, body := mo.Content.For(lens)
		if heading != "" {
			body = heading + ": " + body
		}
		m.addEntry(entryNotice, body)
		if err := m.engine.ShowMoment(mo.ID); err != nil {
			logging.Get(logging.CategoryTUI).Warn("show moment %s: %v", mo.ID, err)
		}
	}
	if len(r.Reveals) > 0 && m.reveal == "" {
		m.showReveal(r.Reveals[0].Type)
	}
}

func (m *Model) acknowledge(action engagement.RevealAction) {
	if m.reveal == "" {
		m.addEntry(entryError, "No reveal to respond to.")
		return
	}
	m.engine.Bus().AcknowledgeReveal(m.reveal, action)
	m.addEntry(entryNotice, fmt.Sprintf("Reveal %s %s.", m.reveal, action))
	m.reveal = ""
	m.refreshReveal()
}

func (m *Model) dismissInjection() {
	if m.lastTurn == nil || !m.lastTurn.Injected {
		return
	}
	m.engine.DismissInjection()
	m.lastTurn.Injected = false
	m.addEntry(entryNotice, "Journey suggestion dismissed.")
}

// usePrompt fills the input with the i-th suggested prompt and records it as
// selected.
func (m *Model) usePrompt(i int) {
	if i < 0 || i >= len(m.prompts) {
		return
	}
	p, err := m.engine.SelectPrompt(m.prompts[i].Prompt.ID)
	if err != nil {
		m.addEntry(entryError, err.Error())
		return
	}
	text := p.ExecutionPrompt
	if text == "" {
		text = p.Label
	}
	m.input.SetValue(text)
	m.input.CursorEnd()
	m.prompts = m.engine.NextPrompts(contextfields.SurfaceSuggestion)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const helpText = `/lens <id>            select a lens
/topic <id> [label]   mark a topic explored
/sprout <id> [tags]   capture a sprout
/complete [lens]      finish the current journey
/accept, /decline     respond to the current reveal
/dismiss              dismiss the journey suggestion
/prompts              list suggested prompts
/reset                start over
/quit                 exit
tab uses the top suggestion`

func (m *Model) command(line string) tea.Cmd {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit
	case "/help":
		m.addEntry(entryNotice, helpText)
	case "/lens":
		if len(args) != 1 {
			m.addEntry(entryError, "usage: /lens <id>")
			break
		}
		if err := m.engine.SelectLens(args[0]); err != nil {
			m.addEntry(entryError, err.Error())
			break
		}
		m.history = nil
		m.addEntry(entryNotice, "Lens: "+args[0])
	case "/topic":
		if len(args) == 0 {
			m.addEntry(entryError, "usage: /topic <id> [label]")
			break
		}
		m.engine.ExploreTopic(args[0], strings.Join(args[1:], " "))
		m.addEntry(entryNotice, "Explored "+args[0])
	case "/sprout":
		if len(args) == 0 {
			m.addEntry(entryError, "usage: /sprout <id> [tags...]")
			break
		}
		m.engine.CaptureSprout(args[0], args[1:]...)
		m.addEntry(entryNotice, "Sprout captured: "+args[0])
	case "/complete":
		lens := m.engine.Narrative().ActiveLens()
		if len(args) > 0 {
			lens = args[0]
		}
		m.addEntry(entryNotice, "Journey completed.")
		m.showReactions(m.engine.CompleteJourney(lens, float64(m.engine.Bus().State().MinutesActive), 0))
	case "/accept":
		m.acknowledge(engagement.ActionAccepted)
	case "/decline":
		m.acknowledge(engagement.ActionDeclined)
	case "/dismiss":
		m.dismissInjection()
	case "/prompts":
		if len(m.prompts) == 0 {
			m.addEntry(entryNotice, "No suggestions right now.")
		}
		for i, sp := range m.prompts {
			m.addEntry(entryNotice, fmt.Sprintf("%d. %s", i+1, sp.Prompt.Label))
		}
	case "/reset":
		m.engine.Reset()
		m.history = nil
		m.lastTurn = nil
		m.reveal = ""
		m.entries = nil
		m.addEntry(entryNotice, "New session "+m.engine.Bus().State().SessionID)
	default:
		m.addEntry(entryError, fmt.Sprintf("unknown command %s (try /help)", name))
	}

	m.showReactions(m.engine.TakeReactions())
	m.refreshReveal()
	m.prompts = m.engine.NextPrompts(contextfields.SurfaceSuggestion)
	return nil
}

// =============================================================================
// VIEW
// =============================================================================

func (m *Model) addEntry(kind entryKind, text string) {
	m.entries = append(m.entries, entry{kind: kind, text: text})
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	var sb strings.Builder
	for _, e := range m.entries {
		sb.WriteString(m.renderEntry(e))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderEntry(e entry) string {
	switch e.kind {
	case entryUser:
		return m.styles.Prompt.Render("you ") + m.styles.UserInput.Render(e.text)
	case entryReply:
		text := e.text
		if m.renderer != nil {
			if out, err := m.renderer.Render(text); err == nil {
				text = strings.TrimRight(out, "\n")
			}
		}
		return m.styles.Reply.Render(text)
	case entryError:
		return m.styles.Error.Render("! " + e.text)
	default:
		return m.styles.Notice.Render("· " + e.text)
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading…"
	}

	header := m.styles.Header.Width(m.width).Render("grove")
	status := ""
	if m.pending {
		status = m.styles.Muted.Render(" thinking…")
	}
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.styles.RenderDivider(m.viewport.Width),
		m.input.View()+status,
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Panel.Render(main), m.sidebar())
	footer := m.styles.Footer.Render("enter send · tab suggestion · ctrl+d dismiss · /help · esc quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) sidebar() string {
	snap := m.engine.Bus().State()
	es := m.engine.Bus().EntropyState()
	s := m.styles
	inner := sidebarWidth - 4

	lens := m.engine.Narrative().ActiveLens()
	if lens == "" {
		lens = snap.LensID()
	}
	if lens == "" {
		lens = "none"
	}

	var sb strings.Builder
	sb.WriteString(s.Title.Render("Engagement") + "\n")
	sb.WriteString(s.StageBadge(snap.Stage) + "\n\n")
	fmt.Fprintf(&sb, "%s %s\n", s.Label.Render("lens     "), s.Body.Render(lens))
	fmt.Fprintf(&sb, "%s %d/%d\n", s.Label.Render("exchanges"), snap.ExchangeCount, snap.TotalExchangeCount)
	fmt.Fprintf(&sb, "%s %d\n", s.Label.Render("topics   "), len(snap.TopicsExplored))
	fmt.Fprintf(&sb, "%s %d\n", s.Label.Render("sprouts  "), snap.SproutsCaptured)
	fmt.Fprintf(&sb, "%s %dm\n\n", s.Label.Render("active   "), snap.MinutesActive)

	sb.WriteString(s.Title.Render("Drift") + "\n")
	sb.WriteString(s.EntropyMeter(es.LastScore, es.LastClassification, inner-6) + "\n")
	if es.CooldownRemaining > 0 {
		sb.WriteString(s.Muted.Render(fmt.Sprintf("cooldown %d", es.CooldownRemaining)) + "\n")
	}

	if len(snap.ActiveMoments) > 0 {
		sb.WriteString("\n" + s.Title.Render("Moments") + "\n")
		for _, id := range snap.ActiveMoments {
			sb.WriteString(s.Body.Render("• "+truncate(id, inner-2)) + "\n")
		}
	}

	sb.WriteString("\n" + s.Title.Render("Try next") + "\n")
	if len(m.prompts) == 0 {
		sb.WriteString(s.Muted.Render("nothing yet") + "\n")
	}
	for i, sp := range m.prompts {
		sb.WriteString(s.Body.Render(fmt.Sprintf("%d. %s", i+1, truncate(sp.Prompt.Label, inner-3))) + "\n")
	}

	height := max(m.height-2, 0)
	return s.Sidebar.Width(sidebarWidth - 2).Height(max(height-2, 0)).Render(sb.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
