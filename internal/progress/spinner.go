package progress

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ScriptSpinner shows a script channel's status lines behind a spinner.
// Script streams carry no reliable percent, so an indeterminate spinner
// with live status text is the honest display.
type ScriptSpinner struct {
	mu         sync.Mutex
	bar        *progressbar.ProgressBar
	isTerminal bool
	finished   bool
}

// NewScriptSpinner starts a spinner with an initial description.
func NewScriptSpinner(description string) *ScriptSpinner {
	s := &ScriptSpinner{
		isTerminal: term.IsTerminal(int(os.Stderr.Fd())),
	}
	if s.isTerminal {
		s.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100),
		)
	} else {
		fmt.Fprintln(os.Stderr, description)
	}
	return s
}

// Update replaces the status text.
func (s *ScriptSpinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if s.bar != nil {
		s.bar.Describe(message)
		_ = s.bar.Add(1)
		return
	}
	fmt.Fprintln(os.Stderr, message)
}

// Succeed stops the spinner with a success line.
func (s *ScriptSpinner) Succeed(message string) {
	s.stop(fmt.Sprintf("✓ %s", message))
}

// Fail stops the spinner with a failure line.
func (s *ScriptSpinner) Fail(err error) {
	s.stop(fmt.Sprintf("✗ %v", err))
}

func (s *ScriptSpinner) stop(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if s.bar != nil {
		_ = s.bar.Clear()
	}
	fmt.Fprintln(os.Stderr, line)
}
