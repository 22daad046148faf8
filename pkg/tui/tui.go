// Package tui provides the CLI's styled output and progress reporting.
// Simple and streaming: progress bars on stderr, no full-screen TUI.
package tui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
)

// Styles
var (
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// BarProgress renders export progress as a terminal bar. It implements
// pack.Progress.
type BarProgress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates an idle progress reporter.
func NewProgress() *BarProgress {
	return &BarProgress{}
}

// Start begins a new bar. Any previous bar is finished first.
func (p *BarProgress) Start(total int, description string) {
	p.Finish()
	p.bar = progressbar.NewOptions64(int64(total),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Advance adds one unit.
func (p *BarProgress) Advance() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Finish completes and clears the bar.
func (p *BarProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// Failed prints a per-run failure without disturbing the bar.
func (p *BarProgress) Failed(uid string) {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	fmt.Fprintln(os.Stderr, accentStyle.Render("✗ FAILED"), uid)
}

// Errorf prints a styled error line to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, accentStyle.Render("✗"), fmt.Sprintf(format, args...))
}

// Infof prints a muted informational line to stderr.
func Infof(format string, args ...any) {
	fmt.Fprintln(os.Stderr, mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// Successf prints a success line to stderr.
func Successf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, successStyle.Render("✓"), fmt.Sprintf(format, args...))
}
