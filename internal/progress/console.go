// Package progress renders batch and script progress on the terminal:
// a single aggregate bar for CLI runs, a multi-bar view driven off the
// event bus, and a spinner for script channels.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/allaboutduncan/comic-utils-sub000/internal/batch"
)

// ConsolePresenter renders the aggregate batch percent as one bar.
// It satisfies the orchestrator's presenter contract; all calls arrive
// from the orchestrator goroutine in order.
type ConsolePresenter struct {
	mu         sync.Mutex
	bar        *progressbar.ProgressBar
	out        io.Writer
	isTerminal bool
	lastText   string
}

var _ batch.Presenter = (*ConsolePresenter)(nil)

// NewConsolePresenter creates a presenter writing to stderr.
func NewConsolePresenter() *ConsolePresenter {
	return &ConsolePresenter{
		out:        os.Stderr,
		isTerminal: term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func (p *ConsolePresenter) ensureBar() {
	if p.bar != nil || !p.isTerminal {
		return
	}
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update sets the aggregate percent and description.
func (p *ConsolePresenter) Update(percent int, message, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isTerminal {
		// Non-TTY: one line per state change, no redraw churn.
		text := fmt.Sprintf("[%3d%%] %s", percent, message)
		if text != p.lastText {
			fmt.Fprintln(p.out, text)
			p.lastText = text
		}
		return
	}

	p.ensureBar()
	p.bar.Describe(message)
	_ = p.bar.Set(percent)
}

// Status updates the description without moving the bar.
func (p *ConsolePresenter) Status(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isTerminal {
		fmt.Fprintln(p.out, message)
		return
	}
	p.ensureBar()
	p.bar.Describe(message)
}

// ItemFailed prints the per-file failure above the bar; the batch goes on.
func (p *ConsolePresenter) ItemFailed(item string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearBar()
	fmt.Fprintf(p.out, "✗ %s: %v\n", item, err)
}

// BatchFailed prints the fatal failure and leaves the bar where it stopped.
func (p *ConsolePresenter) BatchFailed(item string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearBar()
	if item != "" {
		fmt.Fprintf(p.out, "✗ batch stopped at %s: %v\n", item, err)
		return
	}
	fmt.Fprintf(p.out, "✗ batch stopped: %v\n", err)
}

func (p *ConsolePresenter) clearBar() {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
}

// Finish closes out the bar display.
func (p *ConsolePresenter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
