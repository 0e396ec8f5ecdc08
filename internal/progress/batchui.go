package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
)

// BatchUI renders one bar per transfer item off the event bus. Unlike
// ConsolePresenter it shows the whole batch at once, completed items
// collapsing to summary lines as they finish.
type BatchUI struct {
	progress   *mpb.Progress
	bus        *events.Bus
	sub        <-chan events.Event
	bars       map[string]*mpb.Bar // item source path -> bar
	isTerminal bool
	done       chan struct{}
}

// NewBatchUI subscribes to the bus and starts rendering. Call Stop after
// the batch result is in to unsubscribe and flush.
func NewBatchUI(bus *events.Bus) *BatchUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableWindowsANSI(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	ui := &BatchUI{
		progress:   p,
		bus:        bus,
		sub:        bus.SubscribeAll(),
		bars:       make(map[string]*mpb.Bar),
		isTerminal: isTerminal,
		done:       make(chan struct{}),
	}
	go ui.loop()
	return ui
}

func (u *BatchUI) loop() {
	defer close(u.done)
	for ev := range u.sub {
		switch e := ev.(type) {
		case *events.ItemEvent:
			u.handleItem(e)
		case *events.ProgressEvent:
			if bar, ok := u.bars[e.Item]; ok {
				bar.SetCurrent(int64(e.Percent))
			}
		case *events.StatusEvent:
			u.println(e.Message)
		case *events.BatchEvent:
			switch e.Type() {
			case events.EventBatchCompleted, events.EventBatchAborted, events.EventBatchUnknown:
				u.finish(e)
				return
			}
		}
	}
}

func (u *BatchUI) handleItem(e *events.ItemEvent) {
	switch e.Type() {
	case events.EventItemStarted:
		if !u.isTerminal {
			u.println(fmt.Sprintf("Moving %s", e.Item))
			return
		}
		name := e.Item
		u.bars[e.Item] = u.progress.AddBar(100,
			mpb.BarRemoveOnComplete(),
			mpb.PrependDecorators(
				decor.Name(name, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
			),
		)

	case events.EventItemCompleted:
		if bar, ok := u.bars[e.Item]; ok {
			bar.SetCurrent(100)
		}
		u.println(fmt.Sprintf("✓ %s", e.Item))

	case events.EventItemFailed:
		if bar, ok := u.bars[e.Item]; ok {
			bar.Abort(true)
		}
		u.println(fmt.Sprintf("✗ %s: %v", e.Item, e.Error))
	}
}

func (u *BatchUI) finish(e *events.BatchEvent) {
	for _, bar := range u.bars {
		if !bar.Completed() && !bar.Aborted() {
			bar.Abort(true)
		}
	}
	switch e.Type() {
	case events.EventBatchCompleted:
		u.println(fmt.Sprintf("Moved %d of %d items in %s", e.Moved, e.Attempted, e.Duration.Round(time.Second)))
	case events.EventBatchAborted:
		u.println(fmt.Sprintf("Batch aborted after %d of %d items: %v", e.Moved, e.Attempted, e.Error))
	case events.EventBatchUnknown:
		u.println(fmt.Sprintf("Batch outcome unknown: %v", e.Error))
	}
}

// println writes a line above the live bars without corrupting them.
func (u *BatchUI) println(msg string) {
	if u.isTerminal {
		_, _ = u.progress.Write([]byte(msg + "\n"))
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

// Stop unsubscribes and waits for the render loop and bars to flush.
func (u *BatchUI) Stop() {
	u.bus.UnsubscribeAll(u.sub)
	select {
	case <-u.done:
	case <-time.After(2 * time.Second):
	}
	u.progress.Wait()
}
