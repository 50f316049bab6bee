// Package main provides the snchat CLI entry point.
// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"snchat/cmd/snchat/ui"
	"snchat/internal/client"
	"snchat/internal/config"
	"snchat/internal/decode"
	"snchat/internal/poll"
	"snchat/internal/session"
	"snchat/internal/store"
	"snchat/internal/transcript"
)

// Messages for tea updates
type (
	transcriptMsg  transcript.Message
	loadingMsg     bool
	agentTypingMsg bool
	settledMsg     poll.State
	reauthMsg      struct{}
	errorMsg       error
)

// chatModel is the main model for the interactive chat interface.
type chatModel struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    ui.Styles
	renderer  *glamour.TermRenderer

	// State
	messages    []transcript.Message
	isLoading   bool
	agentTyping bool
	needsLogin  bool
	err         error
	width       int
	height      int
	ready       bool
	cfg         config.Config

	// Backend
	conv    *session.Conversation
	history *store.HistoryStore
	events  chan tea.Msg
}

// initChat wires the conversation pipeline and builds the chat model.
func initChat(cfg config.Config, backend *client.Client, history *store.HistoryStore) chatModel {
	styles := ui.NewStyles(ui.ThemeByName(cfg.UI.Theme))

	ti := textinput.New()
	ti.Placeholder = "Type a message... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	var renderer *glamour.TermRenderer
	if styles.Theme.IsDark {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
	} else {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(80),
		)
	}

	events := make(chan tea.Msg, 64)

	transcriptStore := transcript.NewStore()
	conv := session.New(backend, transcriptStore, session.Config{
		UseServiceNow: cfg.Chat.UseServiceNow,
		DebugMessages: cfg.Chat.DebugMessages,
		Poll: poll.Config{
			MaxAttempts: cfg.Polling.MaxAttempts,
			Interval:    cfg.GetPollInterval(),
			Decode:      decode.Options{Unknown: decode.UnknownPolicy(cfg.Chat.UnknownItemPolicy)},
		},
	}, session.Hooks{
		OnLoading:        func(v bool) { events <- loadingMsg(v) },
		OnSpinner:        func(v bool) { events <- agentTypingMsg(v) },
		OnReauthRequired: func() { events <- reauthMsg{} },
		OnSettled:        func(s poll.State) { events <- settledMsg(s) },
	})

	// One observer fans out to the UI and, when enabled, to history.
	var persist func(transcript.Message)
	if history != nil {
		persist = func(msg transcript.Message) {
			_ = history.SaveMessage(conv.SessionID(), msg)
		}
	}
	transcriptStore.OnAppend(func(msg transcript.Message) {
		if persist != nil {
			persist(msg)
		}
		events <- transcriptMsg(msg)
	})

	return chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		styles:    styles,
		renderer:  renderer,
		messages:  starterMessages(),
		cfg:       cfg,
		conv:      conv,
		history:   history,
		events:    events,
	}
}

// starterMessages seeds the empty transcript view with prompts a new user
// can pick up. Display only; they are never persisted.
func starterMessages() []transcript.Message {
	starters := []string{
		"What can you help me with?",
		"I need to reset my password",
		"Create an incident for my broken laptop",
		"Check the status of my open tickets",
	}
	text := "Welcome to snchat. Some things you can ask:"
	for _, s := range starters {
		text += "\n  · " + s
	}
	return []transcript.Message{{
		Role: transcript.RoleSystem,
		Kind: transcript.KindPlain,
		Text: text,
	}}
}

// waitForEvent bridges the conversation's callbacks into the tea loop.
func (m chatModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.waitForEvent(),
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.conv.Cancel()
			return m, tea.Quit

		case tea.KeyCtrlS:
			m.conv.SetUseServiceNow(!m.conv.UseServiceNow())
			return m, nil

		case tea.KeyEnter:
			return m.handleSubmit()
		}

		m.textinput, tiCmd = m.textinput.Update(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4

		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-8),
			)
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case spinner.TickMsg:
		if m.isLoading || m.agentTyping {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case transcriptMsg:
		m.messages = append(m.messages, transcript.Message(msg))
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, m.waitForEvent()

	case loadingMsg:
		m.isLoading = bool(msg)
		if m.isLoading {
			return m, tea.Batch(m.spinner.Tick, m.waitForEvent())
		}
		return m, m.waitForEvent()

	case agentTypingMsg:
		m.agentTyping = bool(msg)
		if m.agentTyping {
			return m, tea.Batch(m.spinner.Tick, m.waitForEvent())
		}
		return m, m.waitForEvent()

	case settledMsg:
		m.agentTyping = false
		return m, m.waitForEvent()

	case reauthMsg:
		m.needsLogin = true
		return m, m.waitForEvent()

	case errorMsg:
		m.err = msg
		return m, m.waitForEvent()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.textinput.Reset()
	m.err = nil

	conv := m.conv
	submit := func() tea.Msg {
		// Errors surface in the transcript; nothing to report here.
		_ = conv.Submit(context.Background(), input)
		return nil
	}
	return m, tea.Batch(m.spinner.Tick, submit)
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	m.textinput.Reset()

	switch parts[0] {
	case "/quit", "/exit", "/q":
		m.conv.Cancel()
		return m, tea.Quit

	case "/clear":
		m.messages = nil
		m.viewport.SetContent("")
		return m, nil

	case "/servicenow":
		m.conv.SetUseServiceNow(!m.conv.UseServiceNow())
		return m, nil

	case "/session":
		m.messages = append(m.messages, transcript.Message{
			Role: transcript.RoleSystem,
			Kind: transcript.KindPlain,
			Text: "Session: " + m.conv.SessionID(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil

	case "/help":
		help := `## Commands

| Command | Description |
|---------|-------------|
| /help | Show this help message |
| /clear | Clear the visible history |
| /servicenow | Toggle ServiceNow mode (also Ctrl+S) |
| /session | Show the session id |
| /quit, /exit, /q | Exit |

## Tips
- **Enter** sends a message
- **Ctrl+C** or **Esc** exits
- Sending while an answer is pending cancels the previous request
`
		m.messages = append(m.messages, transcript.Message{
			Role: transcript.RoleAssistant,
			Kind: transcript.KindPlain,
			Text: help,
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil

	default:
		m.messages = append(m.messages, transcript.Message{
			Role: transcript.RoleSystem,
			Kind: transcript.KindPlain,
			Text: fmt.Sprintf("Unknown command %q. Try /help.", parts[0]),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	}
}

func (m chatModel) renderHistory() string {
	var sb strings.Builder

	for _, msg := range m.messages {
		switch msg.Role {
		case transcript.RoleUser:
			userStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Primary).
				MarginTop(1)
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.Text))
			sb.WriteString("\n\n")

		case transcript.RoleAssistant:
			name := "Assistant"
			if msg.Source == transcript.SourceServiceNow {
				name = "ServiceNow"
			}
			assistantStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Accent).
				MarginTop(1)
			sb.WriteString(assistantStyle.Render(name) + "\n")
			switch msg.Kind {
			case transcript.KindLink:
				sb.WriteString(m.styles.Link.Render(msg.Text))
			case transcript.KindPicker:
				sb.WriteString(m.styles.Picker.Render(msg.Text))
			default:
				sb.WriteString(m.safeRenderMarkdown(msg.Text))
			}
			sb.WriteString("\n")

		case transcript.RoleSystem:
			sb.WriteString(m.styles.System.Render("• "+msg.Text) + "\n")

		case transcript.RoleDebug:
			sb.WriteString(m.styles.Debug.Render(msg.Text) + "\n")

		case transcript.RoleError:
			sb.WriteString(m.styles.Error.Render(msg.Text) + "\n")
		}
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery.
func (m chatModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()

	chatView := m.styles.Content.Render(m.viewport.View())
	if m.agentTyping {
		chatView += "\n" + m.styles.Spinner.Render(m.spinner.View()) + " Agent is typing..."
	} else if m.isLoading {
		chatView += "\n" + m.styles.Spinner.Render(m.spinner.View()) + " Waiting for response..."
	}
	if m.err != nil {
		chatView += "\n" + m.styles.Error.Render("Error: "+m.err.Error())
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.Theme.Accent).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	footer := m.renderFooter()

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		chatView,
		inputArea,
		footer,
	)
}

func (m chatModel) renderHeader() string {
	title := m.styles.Header.Render(" snchat ")
	mode := m.styles.Badge.Render("GPT")
	if m.conv.UseServiceNow() {
		mode = m.styles.Badge.Render("ServiceNow")
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", mode)
}

func (m chatModel) renderFooter() string {
	hints := "Enter send · Ctrl+S toggle ServiceNow · /help commands · Ctrl+C quit"
	if m.needsLogin {
		hints = "Session expired. Run `snchat login` and restart."
	}
	return m.styles.Footer.Render(hints)
}

// runInteractiveChat starts the interactive chat interface.
func runInteractiveChat(cfg config.Config) error {
	backend, err := client.New(cfg.Server.BaseURL, cfg.GetServerTimeout())
	if err != nil {
		return err
	}
	if cfg.Server.Username != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := backend.Login(ctx, cfg.Server.Username, cfg.Server.Password)
		cancel()
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}

	var history *store.HistoryStore
	if cfg.History.Enabled {
		history, err = store.NewHistoryStore(cfg.History.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer history.Close()
	}

	p := tea.NewProgram(
		initChat(cfg, backend, history),
		tea.WithAltScreen(),
	)
	_, err = p.Run()
	return err
}
