package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
)

const (
	tickInterval   = 100 * time.Millisecond
	snapshotEvery  = 5
	requestTimeout = 2 * time.Second
	historyLen     = 120
	tpsStep        = 10
)

// Controller is the part of the simulation worker the monitor drives.
type Controller interface {
	Statistics() engine.Statistics
	Run() error
	Pause(ctx context.Context) error
	CalcSingleTimestep(ctx context.Context) error
	RequestSnapshot(ctx context.Context, upperLeft, lowerRight description.IntVector) (description.Data, error)
	Clear(ctx context.Context) error
	SetTPSLimit(tps int)
	TPSLimit() int
}

type tickMsg time.Time

type snapshotMsg struct {
	data description.Data
	err  error
}

type resultMsg struct {
	action string
	err    error
}

type Monitor struct {
	ctrl  Controller
	world description.IntVector
	title string

	stats    engine.Statistics
	snapshot description.Data
	ticks    int
	tps      []float64
	cells    []float64
	status   string
	failed   bool
	quitting bool

	width  int
	height int
}

func NewMonitor(ctrl Controller, world description.IntVector, title string) *Monitor {
	return &Monitor{
		ctrl:   ctrl,
		world:  world,
		title:  title,
		width:  80,
		height: 24,
	}
}

func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(tick(), m.fetchSnapshot())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tickMsg:
		m.observe(m.ctrl.Statistics())
		m.ticks++
		cmds := []tea.Cmd{tick()}
		if m.ticks%snapshotEvery == 0 {
			cmds = append(cmds, m.fetchSnapshot())
		}
		return m, tea.Batch(cmds...)
	case snapshotMsg:
		if msg.err != nil {
			m.report("snapshot", msg.err)
			return m, nil
		}
		m.snapshot = msg.data
		return m, nil
	case resultMsg:
		m.report(msg.action, msg.err)
		m.observe(m.ctrl.Statistics())
		if msg.err == nil && msg.action != "pause" {
			return m, m.fetchSnapshot()
		}
		return m, nil
	}
	return m, nil
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case " ", "p":
		if m.stats.State == engine.StateRunning {
			return m, m.do("pause", m.ctrl.Pause)
		}
		return m, m.do("run", func(context.Context) error { return m.ctrl.Run() })
	case "s", "n":
		return m, m.do("step", m.ctrl.CalcSingleTimestep)
	case "c":
		return m, m.do("clear", m.ctrl.Clear)
	case "+", "=":
		m.ctrl.SetTPSLimit(m.ctrl.TPSLimit() + tpsStep)
		m.status = fmt.Sprintf("tps limit %d", m.ctrl.TPSLimit())
	case "-", "_":
		m.ctrl.SetTPSLimit(max(m.ctrl.TPSLimit()-tpsStep, 0))
		m.status = fmt.Sprintf("tps limit %s", limitText(m.ctrl.TPSLimit()))
	case "0":
		m.ctrl.SetTPSLimit(0)
		m.status = "tps limit off"
	case "r":
		return m, m.fetchSnapshot()
	}
	return m, nil
}

// do runs a blocking worker call off the update loop.
func (m *Monitor) do(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return resultMsg{action: action, err: fn(ctx)}
	}
}

func (m *Monitor) fetchSnapshot() tea.Cmd {
	ctrl, world := m.ctrl, m.world
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		data, err := ctrl.RequestSnapshot(ctx, description.IntVector{}, world)
		return snapshotMsg{data: data, err: err}
	}
}

func (m *Monitor) observe(s engine.Statistics) {
	m.stats = s
	m.tps = appendBounded(m.tps, s.TPS)
	m.cells = appendBounded(m.cells, float64(s.Cells))
}

func (m *Monitor) report(action string, err error) {
	if err != nil {
		m.status = fmt.Sprintf("%s failed: %v", action, err)
		m.failed = true
		return
	}
	m.status = action + " ok"
	m.failed = false
}

func appendBounded(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyLen {
		s = s[len(s)-historyLen:]
	}
	return s
}

func (m *Monitor) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	s := m.stats

	icon, state := yellow.Render("○"), yellow.Render(s.State.String())
	switch s.State {
	case engine.StateRunning:
		icon, state = green.Render("●"), green.Render(s.State.String())
	case engine.StateShuttingDown, engine.StateTerminated:
		icon, state = red.Render("■"), red.Render(s.State.String())
	}
	fmt.Fprintf(&b, "\n %s %s  %s  %s\n\n", icon, cyan.Render(m.title), state,
		dim.Render(fmt.Sprintf("%dx%d", m.world.X, m.world.Y)))

	cw := max(m.width-8, 20)
	ch := max(m.height-14, 6)
	c := newCanvas(cw, ch)
	c.drawWorld(m.snapshot, m.world)
	b.WriteString(panel.Render(c.String()) + "\n")

	fmt.Fprintf(&b, " %s %s  %s %s  %s %s\n",
		dim.Render("timestep"), white.Render(fmt.Sprintf("%d", s.Timestep)),
		dim.Render("tps"), white.Render(fmt.Sprintf("%.1f", s.TPS)),
		dim.Render("limit"), white.Render(limitText(s.TPSLimit)))
	fmt.Fprintf(&b, " %s %s  %s %s  %s %s  %s %s\n",
		dim.Render("cells"), white.Render(fmt.Sprintf("%d", s.Cells)),
		dim.Render("particles"), white.Render(fmt.Sprintf("%d", s.Particles)),
		dim.Render("tokens"), white.Render(fmt.Sprintf("%d", s.Tokens)),
		dim.Render("energy"), white.Render(fmt.Sprintf("%.2f", s.InternalEnergy)))
	fmt.Fprintf(&b, " %s %s\n", dim.Render("tps  "), sparkline(m.tps, 40))
	fmt.Fprintf(&b, " %s %s\n", dim.Render("cells"), sparkline(m.cells, 40))

	if m.status != "" {
		style := dim
		if m.failed {
			style = red
		}
		b.WriteString(" " + style.Render(m.status) + "\n")
	}
	b.WriteString("\n" + dim.Render(" space run/pause  s step  ± tps limit  0 unlimited  c clear  r refresh  q quit") + "\n")
	return b.String()
}

func limitText(tps int) string {
	if tps <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d", tps)
}

// Run shows the monitor until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, world description.IntVector, title string) error {
	p := tea.NewProgram(NewMonitor(ctrl, world, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
