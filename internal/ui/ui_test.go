package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTransferModel(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	m := newTransferModel("Downloading", func() time.Time { return clock })

	if view := m.View(); !strings.Contains(view, "Downloading...") || !strings.Contains(view, "0 B") {
		t.Errorf("initial view = %q", view)
	}

	clock = start.Add(2 * time.Second)
	next, cmd := m.Update(transferProgressMsg{done: 1 << 20, total: 4 << 20})
	if cmd != nil {
		t.Error("progress update returned a command")
	}
	m = next.(transferModel)
	if got := m.percent(); got != 0.25 {
		t.Errorf("percent() = %v, want 0.25", got)
	}
	view := m.View()
	for _, want := range []string{"25%", "1.0 MiB / 4.0 MiB", "512.0 KiB/s"} {
		if !strings.Contains(view, want) {
			t.Errorf("view %q lacks %q", view, want)
		}
	}

	// unknown total shows only the counter
	next, _ = m.Update(transferProgressMsg{done: 2048, total: -1})
	if view := next.(transferModel).View(); strings.Contains(view, "%") || !strings.Contains(view, "2.0 KiB") {
		t.Errorf("view without total = %q", view)
	}

	failure := errors.New("connection reset")
	next, cmd = m.Update(transferDoneMsg{err: failure})
	m = next.(transferModel)
	if !m.finished || !errors.Is(m.err, failure) {
		t.Errorf("done message not recorded: %+v", m)
	}
	if cmd == nil {
		t.Fatal("done message must quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("done command is not tea.Quit")
	}
}

func TestTransferModelResizesBar(t *testing.T) {
	m := newTransferModel("x", time.Now)
	tests := []struct {
		width int
		want  int
	}{
		{30, 20},
		{75, 35},
		{200, 50},
	}
	for _, tt := range tests {
		next, _ := m.Update(tea.WindowSizeMsg{Width: tt.width, Height: 24})
		if got := next.(transferModel).bar.Width; got != tt.want {
			t.Errorf("width %d: bar = %d, want %d", tt.width, got, tt.want)
		}
	}
}

func TestHeaderRender(t *testing.T) {
	out := NewHeader("Download", "forestnet download", []Param{
		{Key: "Remote", Value: "/files/a.bin"},
		{Key: "Local", Value: "a.bin"},
	}).SetWidth(80).Render()

	for _, want := range []string{"DOWNLOAD", "forestnet download", "Remote:", "/files/a.bin"} {
		if !strings.Contains(out, want) {
			t.Errorf("header lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Remote:") > strings.Index(out, "Local:") {
		t.Error("params rendered out of order")
	}
}

func TestResultRender(t *testing.T) {
	ok := NewSuccessResult("Download complete",
		Param{Key: "Bytes", Value: "42"},
		Param{Key: "SHA-256", Value: "abc"},
	).SetWidth(80).Render()
	if !strings.Contains(ok, "SUCCESS") || !strings.Contains(ok, "Download complete") {
		t.Errorf("success box:\n%s", ok)
	}
	if strings.Index(ok, "Bytes:") > strings.Index(ok, "SHA-256:") {
		t.Error("details rendered out of order")
	}

	failed := NewFailureResult("Download failed", errors.New("404 Not Found"), "Check the remote path").
		SetWidth(80).Render()
	for _, want := range []string{"FAILED", "Error: 404 Not Found", "Troubleshooting:", "Check the remote path"} {
		if !strings.Contains(failed, want) {
			t.Errorf("failure box lacks %q:\n%s", want, failed)
		}
	}

	warn := NewWarningResult("No endpoints found").AddDetail("Timeout", "5s").SetWidth(80).Render()
	if !strings.Contains(warn, "WARNING") || !strings.Contains(warn, "Timeout:") {
		t.Errorf("warning box:\n%s", warn)
	}
}
