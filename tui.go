package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livescribe/beep"
	"livescribe/clipboard"
	"livescribe/quota"
	"livescribe/session"
	"livescribe/stream"
)

const opTimeout = 60 * time.Second

// TUI message types
type sessionEventMsg struct{ ev session.Event }
type snapshotMsg session.Snapshot
type opDoneMsg struct {
	op   string
	err  error
	text string
}
type pollMsg time.Time

type tuiSink struct{ p *tea.Program }

func (s tuiSink) Handle(ev session.Event) { s.p.Send(sessionEventMsg{ev: ev}) }

type tuiModel struct {
	ctrl       *session.Controller
	title      string
	deviceLine string
	version    string

	snap          session.Snapshot
	frame         int
	level         float64
	silence       *silenceMonitor
	noVoice       bool
	busy          string // operation in flight
	status        string // last operation result
	copied        bool
	limit         *session.LimitReached
	width, height int
}

func newTUIModel(ctrl *session.Controller, title, deviceLine, version string) tuiModel {
	return tuiModel{
		ctrl:       ctrl,
		title:      title,
		deviceLine: deviceLine,
		version:    version,
		silence:    newSilenceMonitor(),
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func poll() tea.Cmd {
	return tea.Tick(levelPollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (m tuiModel) refresh() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg { return snapshotMsg(ctrl.Snapshot()) }
}

func (m tuiModel) run(op string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		text, err := fn(ctx)
		return opDoneMsg{op: op, err: err, text: text}
	}
}

func (m tuiModel) Init() tea.Cmd {
	ctrl := m.ctrl
	return tea.Batch(poll(), m.run("sign in", func(ctx context.Context) (string, error) {
		return "", ctrl.Initialize(ctx)
	}))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.key(msg.String())

	case pollMsg:
		m.frame++
		if m.snap.State == session.Recording {
			l := m.ctrl.Level()
			m.level = m.level*0.6 + l*0.4
			switch m.silence.Tick(m.ctrl.HasSpeech()) {
			case SilenceWarn, SilenceRepeat:
				m.noVoice = true
				beep.PlayError()
			case SilenceWarnClear:
				m.noVoice = false
			}
		} else {
			m.level = 0
		}
		return m, poll()

	case sessionEventMsg:
		switch ev := msg.ev.(type) {
		case session.StateChanged:
			if ev.To == session.Recording {
				m.silence.Reset()
				m.noVoice = false
				m.copied = false
				m.status = ""
			}
		case session.LimitReached:
			m.limit = &ev
		case session.Failure:
			m.status = fmt.Sprintf("%s failed: %v", ev.Op, ev.Err)
		}
		return m, m.refresh()

	case snapshotMsg:
		m.snap = session.Snapshot(msg)

	case opDoneMsg:
		m.busy = ""
		switch {
		case msg.err != nil:
			m.status = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		case msg.op == "share":
			m.copied = clipboard.Copy(msg.text) == nil
			m.status = "share link ready"
		case msg.text != "":
			m.status = msg.op + ": " + msg.text
		}
		return m, m.refresh()
	}
	return m, nil
}

func (m tuiModel) key(k string) (tea.Model, tea.Cmd) {
	ctrl := m.ctrl
	if m.limit != nil {
		switch k {
		case "enter", "esc":
			m.limit = nil
		case "u":
			if m.limit.UpgradeURL != "" && clipboard.Copy(m.limit.UpgradeURL) == nil {
				m.status = "upgrade link copied"
			}
			m.limit = nil
		case "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	}
	if k == "ctrl+c" || k == "q" {
		return m, tea.Quit
	}
	if m.busy != "" {
		return m, nil
	}

	state := m.ctrl.State()
	switch k {
	case "r", " ":
		if state == session.Recording {
			return m, m.run("stop", func(context.Context) (string, error) {
				return "", ctrl.Stop(session.ReasonUser)
			})
		}
		m.busy = "starting"
		title := m.title
		return m, m.run("start", func(ctx context.Context) (string, error) {
			_, err := ctrl.Start(ctx, title)
			return "", err
		})
	case "s":
		m.busy = "saving"
		return m, m.run("save", func(ctx context.Context) (string, error) {
			id, err := ctrl.Save(ctx)
			if err != nil {
				return "", err
			}
			return "saved as " + id, nil
		})
	case "l":
		m.busy = "sharing"
		return m, m.run("share", func(ctx context.Context) (string, error) {
			link, err := ctrl.Share(ctx)
			return link.URL, err
		})
	case "d":
		return m, m.run("discard", func(context.Context) (string, error) {
			return "", ctrl.Discard()
		})
	case "i":
		if state == session.AuthFailed {
			m.busy = "signing in"
			return m, m.run("sign in", func(ctx context.Context) (string, error) {
				return "", ctrl.Initialize(ctx)
			})
		}
	}
	return m, nil
}

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	interimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	noticeStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("208")).Padding(1, 2)
)

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const eyeWidth = 45
	recording := m.snap.State == session.Recording
	eye := renderEye(m.frame, m.level, recording)

	info := m.infoLines()
	eyeLines := strings.Split(strings.TrimRight(eye, "\n"), "\n")
	eyeLines = append(eyeLines, info...)
	for len(eyeLines) < m.height {
		eyeLines = append(eyeLines, "")
	}
	eyePanel := lipgloss.NewStyle().
		Width(eyeWidth - 1).
		Height(m.height).
		Render(strings.Join(eyeLines[:m.height], "\n"))

	panelWidth := max(m.width-eyeWidth-1, 20)
	right := m.transcriptPanel(panelWidth - 2)
	if m.limit != nil {
		right = noticeStyle.Width(panelWidth-6).Render(m.limitView()) + "\n\n" + right
	}
	panel := lipgloss.NewStyle().
		Width(panelWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right)

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, panel)
}

func (m tuiModel) infoLines() []string {
	s := m.snap
	var lines []string

	switch s.State {
	case session.Recording:
		status := fmt.Sprintf("● REC %s", formatDuration(s.Elapsed))
		if budget := s.Quota.Budget(); budget != quota.Unlimited {
			status += fmt.Sprintf(" / %s", formatDuration(budget))
		}
		lines = append(lines, recStyle.Render(status))
		if m.noVoice {
			lines = append(lines, warnStyle.Render("  ⚠ no voice detected"))
		}
	case session.AuthFailed:
		lines = append(lines, warnStyle.Render("○ SIGN-IN REQUIRED (i to retry)"))
	default:
		lines = append(lines, dimStyle.Render("○ "+strings.ToUpper(strings.ReplaceAll(s.State.String(), "_", " "))))
	}
	if m.busy != "" {
		lines = append(lines, dimStyle.Render(m.busy+"..."))
	}

	if s.State == session.Recording || s.State == session.Stopping {
		lines = append(lines, connectionLine(s.Connection))
	}
	if s.Quota.Tier != "" {
		lines = append(lines, dimStyle.Render("plan: "+s.Quota.String()))
	}
	if m.deviceLine != "" {
		lines = append(lines, dimStyle.Render(m.deviceLine))
	}
	if s.LastLatency > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("latency %dms (avg %dms)",
			s.LastLatency.Milliseconds(), s.AvgLatency.Milliseconds())))
	}
	if s.SavedID != "" {
		lines = append(lines, okStyle.Render("saved: "+s.SavedID))
	}
	if m.status != "" {
		lines = append(lines, warnStyle.Render(m.status))
	}

	lines = append(lines, "")
	lines = append(lines, faintStyle.Render(helpLine(s.State)))
	lines = append(lines, faintStyle.Render("livescribe "+m.version))
	return lines
}

func connectionLine(c stream.ConnState) string {
	switch c {
	case stream.Open:
		return okStyle.Render("● live")
	case stream.Connecting, stream.Reconnecting:
		return warnStyle.Render("◌ " + c.String() + "...")
	default:
		return dimStyle.Render("○ " + c.String())
	}
}

func helpLine(s session.State) string {
	switch s {
	case session.Recording:
		return "r stop · l share · q quit"
	case session.Stopped:
		return "s save · d discard · q quit"
	case session.Saved, session.Shared:
		return "l share · r new recording · q quit"
	default:
		return "r record · q quit"
	}
}

func (m tuiModel) transcriptPanel(width int) string {
	var b strings.Builder
	s := m.snap
	width = max(width, 10)

	heading := "Transcript"
	if s.Title != "" {
		heading = s.Title
	}
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Render(heading) + "\n\n")

	if len(s.Segments) == 0 && s.Interim == "" {
		b.WriteString(dimStyle.Render("No transcript yet"))
	}
	for _, seg := range s.Segments {
		b.WriteString(faintStyle.Render(formatOffset(seg.Start)) + "\n")
		for _, line := range wrapText(seg.Text, width) {
			b.WriteString(textStyle.Render(line) + "\n")
		}
	}
	if s.Interim != "" {
		for _, line := range wrapText(s.Interim, width) {
			b.WriteString(interimStyle.Render(line) + "\n")
		}
	}

	if s.Share != nil {
		b.WriteString("\n" + okStyle.Render("share: "+s.Share.URL))
		if m.copied {
			b.WriteString(" " + okStyle.Render("[✓ copied]"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m tuiModel) limitView() string {
	text := limitNotice(*m.limit)
	hint := "enter to dismiss"
	if m.limit.Upgrade && m.limit.UpgradeURL != "" {
		hint = "u copy upgrade link · " + hint
	}
	return warnStyle.Render(text) + "\n\n" + faintStyle.Render(hint)
}

// wrapText splits on spaces so no line exceeds width, hard-breaking words
// that are longer than a line.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	width = max(width, 1)
	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}
