// internal/tui/monitor.go
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/qosflow/internal/loadgen"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	maxProgressWidth    = 60
)

// SnapshotSource is polled by the Monitor. *loadgen.Engine satisfies it.
type SnapshotSource interface {
	Snapshot() loadgen.Snapshot
}

// tickMsg is sent every poll interval while the run is active.
type tickMsg time.Time

// DoneMsg reports that the monitored run has returned.
type DoneMsg struct {
	Summary loadgen.RunSummary
	Err     error
}

// Monitor is a bubbletea model showing the live state of a load run.
type Monitor struct {
	source   SnapshotSource
	cancel   context.CancelFunc
	interval time.Duration

	spinner  spinner.Model
	progress progress.Model
	snap     loadgen.Snapshot
	width    int

	stopping bool
	done     bool
	summary  loadgen.RunSummary
	err      error
}

// NewMonitor returns a Monitor over source. cancel, if non-nil, is invoked
// when the user asks to stop the run.
func NewMonitor(source SnapshotSource, cancel context.CancelFunc) *Monitor {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Monitor{
		source:   source,
		cancel:   cancel,
		interval: defaultPollInterval,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		snap:     source.Snapshot(),
	}
}

func (m *Monitor) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner and the snapshot poll.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tickCmd())
}

// Update handles key presses, resizes, poll ticks and run completion.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			// The run drains in-flight requests before DoneMsg arrives.
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 4
		if w > maxProgressWidth {
			w = maxProgressWidth
		}
		if w < 10 {
			w = 10
		}
		m.progress.Width = w
		return m, nil

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.snap = m.source.Snapshot()
		return m, m.tickCmd()

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		m.snap = m.source.Snapshot()
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the header, progress bar and counters.
func (m *Monitor) View() string {
	var b strings.Builder

	header := titleStyle.Render("qosflow load")
	runLine := fmt.Sprintf("%s %s  %s", header, labelStyle.Render("run"), m.snap.RunID)
	if m.done {
		b.WriteString(runLine + "  " + stateStyle(m.snap.State).Render(m.snap.State.String()) + "\n")
	} else {
		b.WriteString(m.spinner.View() + " " + runLine + "  " + stateStyle(m.snap.State).Render(m.snap.State.String()) + "\n")
	}

	b.WriteString(m.progress.ViewAs(m.snap.Progress()) + "\n")
	b.WriteString(fmt.Sprintf("%s %s / %s\n",
		labelStyle.Render("elapsed"),
		m.snap.Elapsed.Truncate(100*time.Millisecond),
		m.snap.Planned.Truncate(100*time.Millisecond)))
	b.WriteString(fmt.Sprintf("%s %d  %s %s  %s %s  %s %d  %s %d\n",
		labelStyle.Render("sent"), m.snap.Sent,
		labelStyle.Render("ok"), okStyle.Render(fmt.Sprint(m.snap.Success)),
		labelStyle.Render("failed"), failStyle.Render(fmt.Sprint(m.snap.Failed)),
		labelStyle.Render("warmup"), m.snap.Discarded,
		labelStyle.Render("inflight"), m.snap.Inflight))

	switch {
	case m.done && m.err != nil:
		b.WriteString(failStyle.Render("run failed: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString(helpStyle.Render("run complete") + "\n")
	case m.stopping:
		b.WriteString(helpStyle.Render("stopping, draining in-flight requests...") + "\n")
	default:
		b.WriteString(helpStyle.Render("q: stop run") + "\n")
	}
	return b.String()
}

// Summary returns the run summary once DoneMsg has been received.
func (m *Monitor) Summary() (loadgen.RunSummary, bool) {
	return m.summary, m.done
}

// Err returns the error reported by the run, if any.
func (m *Monitor) Err() error { return m.err }

// RunMonitor runs engine under a full-screen Monitor and returns the run
// result. Stopping from the UI cancels the run; the summary is still
// returned with Interrupted set.
func RunMonitor(ctx context.Context, engine *loadgen.Engine, opts ...tea.ProgramOption) (loadgen.RunSummary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitor := NewMonitor(engine, cancel)
	program := tea.NewProgram(monitor, opts...)

	var (
		summary loadgen.RunSummary
		runErr  error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		summary, runErr = engine.Run(runCtx)
		program.Send(DoneMsg{Summary: summary, Err: runErr})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-finished
		return summary, fmt.Errorf("monitor: %w", err)
	}
	<-finished
	return summary, runErr
}
