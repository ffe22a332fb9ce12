package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aegis-chat/aegis"
)

var (
	peerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selfStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Message is a line to render in the transcript, fed into the bubbletea
// program via Program.Send from the session's receive loop.
type Message struct {
	prefix string
	text   string
	local  bool
}

// NewMessage formats one received peer message for display.
func NewMessage(timestamp time.Time, text []byte) Message {
	return Message{
		prefix: fmt.Sprintf("[%s] peer: ", timestamp.Format(time.TimeOnly)),
		text:   string(text),
	}
}

func newLocalMessage(timestamp time.Time, text string) Message {
	return Message{
		prefix: fmt.Sprintf("[%s] you: ", timestamp.Format(time.TimeOnly)),
		text:   text,
		local:  true,
	}
}

type model struct {
	session  *aegis.Session
	input    textinput.Model
	viewport viewport.Model
	lines    []string
	ready    bool
}

func initialModel(s *aegis.Session) model {
	ti := textinput.New()
	ti.Placeholder = "say something..."
	ti.Focus()
	ti.CharLimit = 4096
	ti.Prompt = "> "

	return model{session: s, input: ti}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 1
		inputHeight := 1
		vpHeight := msg.Height - headerHeight - inputHeight
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.viewport.SetContent(strings.Join(m.lines, "\n"))

	case Message:
		style := peerStyle
		if msg.local {
			style = selfStyle
		}
		m.lines = append(m.lines, dimStyle.Render(msg.prefix)+style.Render(msg.text))
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			now := time.Now()
			m.lines = append(m.lines, dimStyle.Render(newLocalMessage(now, text).prefix)+selfStyle.Render(text))
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
			cmds = append(cmds, m.sendCmd(text, now))
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// sendCmd encrypts and transmits text, recording it in local history on
// success. Errors surface as a dimmed line rather than crashing the TUI.
func (m model) sendCmd(text string, ts time.Time) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.session.Send(ctx, []byte(text)); err != nil {
			return Message{prefix: "[error] ", text: err.Error()}
		}
		if s := m.session.Store(); s != nil {
			_ = s.AddChatEntry(m.session.SessionID(), []byte(text), ts, true)
		}
		return nil
	}
}

func (m model) View() string {
	if !m.ready {
		return "initializing..."
	}
	return m.viewport.View() + "\n" + m.input.View()
}
