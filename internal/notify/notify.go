// Package notify provides cross-platform desktop notifications for batch
// and script results. It uses github.com/gen2brain/beeep.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
)

const appTitle = "Comic Library Utilities"

// Notifier sends desktop notifications for terminal batch states.
type Notifier struct {
	mu      sync.RWMutex
	log     *logging.Logger
	enabled bool
}

// NewNotifier creates a notifier. A nil logger falls back to the default.
func NewNotifier(enabled bool, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return &Notifier{log: log, enabled: enabled}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// BatchCompleted announces a fully successful batch.
func (n *Notifier) BatchCompleted(moved int, targetDir string) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("Moved %d item(s) to:\n%s", moved, shortenPath(targetDir))
	if err := n.send("Move Complete", message); err != nil {
		n.log.Warn().Err(err).Msg("failed to send batch completed notification")
	}
}

// BatchPartial announces a batch that finished with per-file failures.
func (n *Notifier) BatchPartial(moved, failed int) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("Moved %d item(s); %d failed.", moved, failed)
	if err := n.send("Move Finished With Errors", message); err != nil {
		n.log.Warn().Err(err).Msg("failed to send batch partial notification")
	}
}

// BatchAborted announces a batch halted by a directory failure.
func (n *Notifier) BatchAborted(item string, errMsg string) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("Stopped at \"%s\":\n%s", truncate(filepath.Base(item), 40), truncate(errMsg, 100))
	if err := beeep.Alert("Move Aborted", message, ""); err != nil {
		if err := n.send("Move Aborted", message); err != nil {
			n.log.Warn().Err(err).Msg("failed to send batch aborted notification")
		}
	}
}

// BatchUnknown announces a ceiling hit. The wording is deliberately neither
// success nor failure; the server may still be working.
func (n *Notifier) BatchUnknown(errMsg string) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("The move took too long to confirm.\n%s\nCheck the library before retrying.", truncate(errMsg, 100))
	if err := beeep.Alert("Move Result Unknown", message, ""); err != nil {
		if err := n.send("Move Result Unknown", message); err != nil {
			n.log.Warn().Err(err).Msg("failed to send batch unknown notification")
		}
	}
}

// ScriptFinished announces a completed script run.
func (n *Notifier) ScriptFinished(scriptType, filePath string) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("%s finished for:\n%s", scriptType, shortenPath(filePath))
	if err := n.send(appTitle, message); err != nil {
		n.log.Warn().Err(err).Msg("failed to send script finished notification")
	}
}

// ScriptFailed announces a failed script run.
func (n *Notifier) ScriptFailed(scriptType string, errMsg string) {
	if !n.IsEnabled() {
		return
	}
	message := fmt.Sprintf("%s failed:\n%s", scriptType, truncate(errMsg, 100))
	if err := n.send(appTitle, message); err != nil {
		n.log.Warn().Err(err).Msg("failed to send script failed notification")
	}
}

func (n *Notifier) send(title, message string) error {
	// beeep.Notify is cross-platform: toast on Windows, notification
	// center on macOS, D-Bus on Linux.
	return beeep.Notify(title, message, "")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}
