package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// ReportFunc receives transfer progress. total is negative when unknown.
type ReportFunc func(done, total int64)

// reportInterval limits how often progress reaches the renderer.
const reportInterval = 50 * time.Millisecond

type transferProgressMsg struct{ done, total int64 }

type transferDoneMsg struct{ err error }

// transferModel is a Bubble Tea model showing a byte counter and, when the
// total is known, a progress bar.
type transferModel struct {
	label    string
	bar      progress.Model
	done     int64
	total    int64
	started  time.Time
	now      func() time.Time
	finished bool
	err      error
}

func newTransferModel(label string, now func() time.Time) transferModel {
	return transferModel{
		label:   label,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		total:   -1,
		started: now(),
		now:     now,
	}
}

// Init implements tea.Model
func (m transferModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case transferProgressMsg:
		m.done, m.total = msg.done, msg.total
	case transferDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-40, 20), 50)
	}
	return m, nil
}

func (m transferModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.done)/float64(m.total), 1)
}

// View implements tea.Model
func (m transferModel) View() string {
	var b strings.Builder
	b.WriteString(ProgressLabelStyle.Render(m.label + "..."))
	b.WriteString("\n\n  ")

	if m.total > 0 {
		b.WriteString(m.bar.ViewAs(m.percent()))
		fmt.Fprintf(&b, "  %3.0f%%  %s / %s", m.percent()*100, FormatBytes(m.done), FormatBytes(m.total))
	} else {
		b.WriteString(FormatBytes(m.done))
	}

	if elapsed := m.now().Sub(m.started); elapsed > 0 && m.done > 0 {
		rate := float64(m.done) / elapsed.Seconds()
		b.WriteString("  ")
		b.WriteString(ProgressNoteStyle.Render("(" + FormatBytes(int64(rate)) + "/s)"))
	}
	b.WriteString("\n")
	return b.String()
}

// RunTransfer shows a live progress bar on out while op runs. op reports its
// progress through the ReportFunc it is given; RunTransfer returns op's
// error.
func RunTransfer(ctx context.Context, out io.Writer, label string, op func(report ReportFunc) error) error {
	p := tea.NewProgram(newTransferModel(label, time.Now),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithContext(ctx),
	)

	errc := make(chan error, 1)
	go func() {
		var last time.Time
		report := func(done, total int64) {
			now := time.Now()
			if now.Sub(last) < reportInterval && done != total {
				return
			}
			last = now
			p.Send(transferProgressMsg{done: done, total: total})
		}
		err := op(report)
		p.Send(transferDoneMsg{err: err})
		errc <- err
	}()

	_, runErr := p.Run()
	opErr := <-errc
	if opErr != nil {
		return opErr
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("progress display failed: %w", runErr)
	}
	return ctx.Err()
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
