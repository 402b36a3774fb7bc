package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dj-oyu/pose-coach/internal/coverage"
)

const retryInterval = 2 * time.Second

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	valueStyle   = lipgloss.NewStyle().Bold(true)
	repsStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	fullStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	absentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	coachStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).BorderForeground(lipgloss.Color("63"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type keyMap struct {
	Quit      key.Binding
	Reconnect key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Reconnect: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reconnect"),
	),
}

// Messages
type (
	sessionPickedMsg struct {
		id  string
		err error
	}
	frameMsg       frame
	streamEndedMsg struct {
		session string
		err     error
	}
	retryMsg struct{}
)

// model is the dashboard state. A fixed session comes from the command
// line; otherwise the newest running session is followed.
type model struct {
	client  *client
	fixed   string
	session string

	spinner spinner.Model
	last    *frame
	frames  int
	status  string
	err     error

	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg
}

func newModel(c *client, sessionID string) model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = dimStyle
	return model{
		client:  c,
		fixed:   sessionID,
		spinner: sp,
		status:  "looking for a session",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.pickSession())
}

func (m model) pickSession() tea.Cmd {
	if m.fixed != "" {
		id := m.fixed
		return func() tea.Msg { return sessionPickedMsg{id: id} }
	}
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		list, err := c.sessions(ctx)
		if err != nil {
			return sessionPickedMsg{err: err}
		}
		if len(list) == 0 {
			return sessionPickedMsg{}
		}
		return sessionPickedMsg{id: list[len(list)-1].ID}
	}
}

// subscribe starts the SSE reader. Its messages arrive through m.events.
func (m *model) subscribe() tea.Cmd {
	m.stop()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.events = make(chan tea.Msg, 16)

	ctx, c, id, ch := m.ctx, m.client, m.session, m.events
	go func() {
		err := c.stream(ctx, id, func(f frame) error {
			select {
			case ch <- frameMsg(f):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		select {
		case ch <- streamEndedMsg{session: id, err: err}:
		default: // nobody is reading a replaced stream
		}
		close(ch)
	}()
	return waitForEvent(ch)
}

func (m *model) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func retryLater() tea.Cmd {
	return tea.Tick(retryInterval, func(time.Time) tea.Msg { return retryMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.stop()
			return m, tea.Quit
		case key.Matches(msg, keys.Reconnect):
			m.stop()
			m.session, m.last, m.frames = "", nil, 0
			m.status = "looking for a session"
			return m, m.pickSession()
		}
		return m, nil

	case sessionPickedMsg:
		m.err = msg.err
		if msg.err != nil || msg.id == "" {
			if msg.err == nil {
				m.status = "no running session"
			}
			return m, retryLater()
		}
		m.session = msg.id
		m.status = "connected"
		return m, m.subscribe()

	case frameMsg:
		if msg.Session != m.session {
			return m, nil
		}
		f := frame(msg)
		m.last = &f
		m.frames++
		m.err = nil
		return m, waitForEvent(m.events)

	case streamEndedMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.session = ""
		m.status = "session ended"
		m.err = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
		return m, retryLater()

	case retryMsg:
		if m.session != "" {
			return m, nil
		}
		return m, m.pickSession()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	title := "posewatch"
	if m.session != "" {
		title += "  " + dimStyle.Render(m.session)
	}
	b.WriteString(titleStyle.Render(title) + "\n\n")

	if m.last == nil {
		b.WriteString(m.spinner.View() + " " + m.status + "\n")
	} else {
		b.WriteString(m.renderFrame(*m.last))
		if m.session == "" {
			b.WriteString("\n" + m.spinner.View() + " " + m.status + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("%s %s · %s %s",
		keys.Reconnect.Help().Key, keys.Reconnect.Help().Desc,
		keys.Quit.Help().Key, keys.Quit.Help().Desc)))
	return b.String()
}

func (m model) renderFrame(f frame) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	ex := f.Exercise
	name := ex.DisplayName
	if name == "" {
		name = ex.Name
	}
	row("exercise", valueStyle.Render(name))
	row("reps", repsStyle.Render(fmt.Sprintf("%d", ex.RepCount)))

	stage := string(ex.Stage)
	if ex.Paused {
		stage += " (paused)"
	}
	row("stage", valueStyle.Render(stage))
	if ex.Angle != nil {
		row("angle", fmt.Sprintf("%d°", *ex.Angle))
	}
	row("coverage", coverageText(f.Coverage))
	if f.CMPerPx != nil {
		row("scale", fmt.Sprintf("%.3f cm/px", *f.CMPerPx))
	}
	if f.Advice != "" {
		row("advice", f.Advice)
	}
	row("frame", dimStyle.Render(fmt.Sprintf("#%d (%d seen)", f.Seq, m.frames)))

	if fb := f.Feedback; fb != nil {
		var coach strings.Builder
		coach.WriteString(fb.Feedback)
		if fb.Accuracy > 0 {
			coach.WriteString(fmt.Sprintf("\naccuracy %d · risk %s", fb.Accuracy, fb.RiskLevel))
		}
		for _, tip := range fb.Tips {
			coach.WriteString("\n• " + tip)
		}
		b.WriteString("\n" + coachStyle.Render(coach.String()) + "\n")
	}
	return b.String()
}

func coverageText(c coverage.Result) string {
	text := fmt.Sprintf("%s %.2f", c.State, c.Score)
	switch c.State {
	case coverage.Full:
		return fullStyle.Render(text)
	case coverage.Partial:
		return partialStyle.Render(text)
	default:
		return absentStyle.Render(text)
	}
}
