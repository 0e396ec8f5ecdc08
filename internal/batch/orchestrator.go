package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/allaboutduncan/comic-utils-sub000/internal/api"
	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
	"github.com/allaboutduncan/comic-utils-sub000/internal/stream"
)

// ErrBatchActive is returned by Submit while another batch is live.
// Exactly one batch executes at a time.
var ErrBatchActive = errors.New("another transfer batch is already active")

// Presenter receives the normalized progress model. Implementations drive
// a progress bar, toast area, or test recorder; delivery is synchronous
// and in order from the orchestrator's goroutine.
type Presenter interface {
	// Update delivers a percent plus status text. Percents are
	// non-decreasing within one item's lifetime.
	Update(percent int, message, phase string)

	// Status delivers status text with no percent change (keepalives,
	// size lookups).
	Status(message string)

	// ItemFailed reports a non-fatal per-file failure; the batch continues.
	ItemFailed(item string, err error)

	// BatchFailed reports a fatal directory failure or unknown outcome;
	// no further items run.
	BatchFailed(item string, err error)
}

// NopPresenter discards all updates.
type NopPresenter struct{}

func (NopPresenter) Update(int, string, string) {}
func (NopPresenter) Status(string)              {}
func (NopPresenter) ItemFailed(string, error)   {}
func (NopPresenter) BatchFailed(string, error)  {}

// RefreshFunc reloads the source and destination listings after a batch.
// Called exactly once per batch, terminal state notwithstanding.
type RefreshFunc func(sourceDir, targetDir string)

// moverClient is the slice of the API client the orchestrator needs.
type moverClient interface {
	Move(ctx context.Context, source, destination string) error
	MoveStream(ctx context.Context, source, destination string) (io.ReadCloser, error)
	CountFiles(ctx context.Context, path string) (int, error)
	GetFolderSize(ctx context.Context, path string) (*api.FolderSize, error)
}

// Orchestrator executes transfer batches. It owns the whole lifecycle of a
// batch from counting to a terminal state and enforces the one-live-batch
// invariant.
type Orchestrator struct {
	client    moverClient
	cfg       *config.Config
	log       *logging.Logger
	bus       *events.Bus
	presenter Presenter
	refresh   RefreshFunc

	mu     sync.Mutex
	active *Batch
}

// New creates an orchestrator. presenter and refresh may be nil.
func New(client moverClient, cfg *config.Config, bus *events.Bus, log *logging.Logger, presenter Presenter, refresh RefreshFunc) *Orchestrator {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &Orchestrator{
		client:    client,
		cfg:       cfg,
		log:       log,
		bus:       bus,
		presenter: presenter,
		refresh:   refresh,
	}
}

// Active returns the live batch, if any.
func (o *Orchestrator) Active() *Batch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Submit executes a batch to completion and returns its aggregate result.
// Items run strictly sequentially in submission order. File failures are
// non-fatal; a directory failure aborts the batch. The whole batch is
// bounded by the batch ceiling and each directory stream by the stream
// ceiling; hitting either yields OutcomeUnknown, never a fake success.
func (o *Orchestrator) Submit(ctx context.Context, items []*TransferItem, targetDirectory string) (*Result, error) {
	if len(items) == 0 {
		return nil, errors.New("empty batch")
	}

	b := newBatch(items, targetDirectory)

	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return nil, ErrBatchActive
	}
	o.active = b
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active = nil
		o.mu.Unlock()
	}()

	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.BatchCeiling)
	defer cancel()

	res := o.run(batchCtx, ctx, b)
	res.Duration = time.Since(b.startedAt)

	// Refresh both listings exactly once, whatever the terminal state.
	if o.refresh != nil {
		o.refresh(path.Dir(items[0].SourcePath), targetDirectory)
	}

	o.publishTerminal(b, res)
	return res, nil
}

// run drives the batch state machine and returns the aggregate result.
// batchCtx carries the batch ceiling; parent distinguishes caller
// cancellation from a ceiling hit.
func (o *Orchestrator) run(batchCtx, parent context.Context, b *Batch) *Result {
	res := &Result{}

	// Counting phase: resolve per-directory file counts, best effort.
	b.setState(BatchCounting)
	o.publishCounting(b)
	o.presenter.Update(0, "Counting files...", "counting")
	total := o.resolveTotals(batchCtx, b)
	b.setTotal(total)

	b.setState(BatchMoving)
	lastPercent := 0

	for i, item := range b.Items {
		if err := batchCtx.Err(); err != nil {
			return o.ceilingOrCancel(parent, b, res, &ForcedTimeoutError{Op: "transfer batch", Ceiling: o.cfg.BatchCeiling})
		}

		b.setIndex(i)
		if err := item.start(); err != nil {
			// Duplicate submission of an already-run item; a programming
			// error, not a transfer failure.
			o.log.Error().Err(err).Msg("skipping item with invalid state")
			continue
		}
		res.Attempted++
		o.publishItem(events.EventItemStarted, b, i, item, nil)

		// Reset the monotonic floor at item boundaries: the aggregate
		// percent never moves backwards anyway, but per-item clamping is
		// the stated guarantee.
		itemFloor := lastPercent

		switch item.Kind {
		case KindFile:
			lastPercent = o.moveFile(batchCtx, b, i, item, itemFloor, res)

		case KindDirectory:
			pct, fatal := o.moveDirectory(batchCtx, parent, b, i, item, itemFloor, res)
			lastPercent = pct
			if fatal != nil {
				return fatal
			}

		default:
			err := fmt.Errorf("unknown item kind %q", item.Kind)
			_ = item.fail(err)
			res.Failed++
			o.presenter.ItemFailed(item.SourcePath, err)
			o.publishItem(events.EventItemFailed, b, i, item, err)
		}
	}

	b.setState(BatchCompleted)
	res.Outcome = OutcomeCompleted
	o.presenter.Update(100, fmt.Sprintf("Moved %d of %d items", res.Moved, len(b.Items)), "moving")
	return res
}

// resolveTotals sums per-item file counts. Directories are queried
// best-effort and default to 0 on failure; a zero grand total switches the
// batch to item-count progress.
func (o *Orchestrator) resolveTotals(ctx context.Context, b *Batch) int {
	total := 0
	for _, item := range b.Items {
		switch item.Kind {
		case KindFile:
			item.setFileCount(1)
			total++
		case KindDirectory:
			n, err := o.client.CountFiles(ctx, item.SourcePath)
			if err != nil {
				o.log.Warn().Err(err).Str("path", item.SourcePath).Msg("file count lookup failed, using 0")
				n = 0
			}
			item.setFileCount(n)
			total += n
		}
	}
	return total
}

// percentFor computes the aggregate percent before or during item i.
// extraFiles counts fractional in-flight progress in file units.
func (o *Orchestrator) percentFor(b *Batch, index int, extraFiles float64) int {
	total := b.TotalFilesToMove()
	if total > 0 {
		p := int((float64(b.FilesMoved()) + extraFiles) / float64(total) * 100)
		return clampPercent(p)
	}
	// Item-count fallback.
	p := int((float64(index) + extraFiles) / float64(len(b.Items)) * 100)
	return clampPercent(p)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// moveFile executes a single atomic file move. Failures are warned and
// swallowed; the batch continues. Returns the last reported percent.
func (o *Orchestrator) moveFile(ctx context.Context, b *Batch, index int, item *TransferItem, floor int, res *Result) int {
	name := path.Base(item.SourcePath)
	pct := maxInt(floor, o.percentFor(b, index, 0))
	o.presenter.Update(pct, fmt.Sprintf("Moving %s", name), "moving")
	o.publishProgress(b, item, pct, fmt.Sprintf("Moving %s", name))

	dest := path.Join(b.TargetDirectory, name)
	if err := o.client.Move(ctx, item.SourcePath, dest); err != nil {
		_ = item.fail(err)
		res.Failed++
		o.log.Warn().Err(err).Str("source", item.SourcePath).Msg("file move failed, continuing batch")
		o.presenter.ItemFailed(item.SourcePath, err)
		o.publishItem(events.EventItemFailed, b, index, item, err)
		return pct
	}

	b.addMoved(1)
	_ = item.succeed()
	res.Moved++
	o.publishItem(events.EventItemCompleted, b, index, item, nil)
	return pct
}

// moveDirectory executes a streamed directory move, consuming progress
// frames. A non-nil second return aborts the whole batch.
func (o *Orchestrator) moveDirectory(batchCtx, parent context.Context, b *Batch, index int, item *TransferItem, floor int, res *Result) (int, *Result) {
	name := path.Base(item.SourcePath)
	lastPct := maxInt(floor, o.percentFor(b, index, 0))

	// Size lookup is display-only; ignore failures entirely.
	sizeText := ""
	if fs, err := o.client.GetFolderSize(batchCtx, item.SourcePath); err == nil && fs != nil {
		sizeText = fmt.Sprintf(" (%s)", fs.Size)
	}
	statusText := fmt.Sprintf("Moving %s%s", name, sizeText)
	o.presenter.Update(lastPct, statusText, "moving")
	o.publishProgress(b, item, lastPct, statusText)

	streamCtx, cancel := context.WithTimeout(batchCtx, o.cfg.StreamCeiling)
	defer cancel()

	body, err := o.client.MoveStream(streamCtx, item.SourcePath, path.Join(b.TargetDirectory, name))
	if err != nil {
		return lastPct, o.abortDirectory(b, index, item, res, err)
	}
	defer body.Close()

	dec := stream.NewDecoder(body, o.log)
	itemFiles := item.FileCount()
	sawTerminal := false

	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Transport died mid-stream. Distinguish ceiling hits from
			// genuine failures before deciding the outcome.
			if streamCtx.Err() == context.DeadlineExceeded && batchCtx.Err() == nil {
				return lastPct, o.unknownOutcome(b, res, &ForcedTimeoutError{Op: "directory move stream", Ceiling: o.cfg.StreamCeiling})
			}
			if batchCtx.Err() == context.DeadlineExceeded {
				return lastPct, o.unknownOutcome(b, res, &ForcedTimeoutError{Op: "transfer batch", Ceiling: o.cfg.BatchCeiling})
			}
			if parent.Err() != nil {
				return lastPct, o.abortDirectory(b, index, item, res, parent.Err())
			}
			return lastPct, o.abortDirectory(b, index, item, res, &api.TransportError{Op: "move-stream", Err: err})
		}

		switch frame.Kind {
		case stream.FramePercent:
			extra := float64(frame.Percent) / 100
			if itemFiles > 0 {
				extra *= float64(itemFiles)
			}
			pct := maxInt(lastPct, o.percentFor(b, index, extra))
			lastPct = pct
			o.presenter.Update(pct, statusText, "moving")
			o.publishProgress(b, item, pct, statusText)

		case stream.FrameKeepalive:
			o.presenter.Status(frame.Text)
			if o.bus != nil {
				o.bus.PublishStatus(b.ID, item.SourcePath, frame.Text)
			}

		case stream.FrameDone:
			sawTerminal = true
			moved := itemFiles
			if moved == 0 {
				moved = 1
			}
			b.addMoved(moved)
			_ = item.succeed()
			res.Moved++
			o.publishItem(events.EventItemCompleted, b, index, item, nil)

		case stream.FrameError:
			sawTerminal = true
			return lastPct, o.abortDirectory(b, index, item, res,
				&api.ApplicationError{Op: "move-stream", Message: frame.Text})
		}

		if sawTerminal {
			break
		}
	}

	if !sawTerminal {
		// Stream ended cleanly but never said done or error. Check the
		// ceilings first; otherwise escalate as a directory failure.
		if streamCtx.Err() == context.DeadlineExceeded && batchCtx.Err() == nil {
			return lastPct, o.unknownOutcome(b, res, &ForcedTimeoutError{Op: "directory move stream", Ceiling: o.cfg.StreamCeiling})
		}
		if batchCtx.Err() == context.DeadlineExceeded {
			return lastPct, o.unknownOutcome(b, res, &ForcedTimeoutError{Op: "transfer batch", Ceiling: o.cfg.BatchCeiling})
		}
		return lastPct, o.abortDirectory(b, index, item, res,
			&api.TransportError{Op: "move-stream", Err: errors.New("stream ended without a terminal frame")})
	}

	return lastPct, nil
}

// abortDirectory marks the item failed and produces the fatal batch result.
// Items after the failing index are never attempted.
func (o *Orchestrator) abortDirectory(b *Batch, index int, item *TransferItem, res *Result, cause error) *Result {
	_ = item.fail(cause)
	res.Failed++
	o.publishItem(events.EventItemFailed, b, index, item, cause)

	b.setState(BatchAborted)
	res.Outcome = OutcomeAborted
	res.Err = fmt.Errorf("directory move of %q failed: %w", item.SourcePath, cause)
	o.presenter.BatchFailed(item.SourcePath, cause)
	return res
}

// unknownOutcome produces the forced-timeout result. Deliberately distinct
// from both success and failure in everything user-facing.
func (o *Orchestrator) unknownOutcome(b *Batch, res *Result, cause *ForcedTimeoutError) *Result {
	b.setState(BatchUnknown)
	res.Outcome = OutcomeUnknown
	res.Err = cause
	o.presenter.BatchFailed("", cause)
	return res
}

// ceilingOrCancel distinguishes a batch-ceiling hit from caller cancellation
// when the batch context dies between items.
func (o *Orchestrator) ceilingOrCancel(parent context.Context, b *Batch, res *Result, timeout *ForcedTimeoutError) *Result {
	if parent.Err() != nil {
		b.setState(BatchAborted)
		res.Outcome = OutcomeAborted
		res.Err = parent.Err()
		return res
	}
	return o.unknownOutcome(b, res, timeout)
}

func (o *Orchestrator) publishCounting(b *Batch) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(&events.BatchEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventBatchCounting, Time: time.Now()},
		BatchID:   b.ID,
	})
}

func (o *Orchestrator) publishProgress(b *Batch, item *TransferItem, pct int, msg string) {
	if o.bus == nil {
		return
	}
	o.bus.PublishProgress(b.ID, item.SourcePath, pct, msg, "moving")
}

func (o *Orchestrator) publishItem(eventType events.EventType, b *Batch, index int, item *TransferItem, err error) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(&events.ItemEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, Time: time.Now()},
		BatchID:   b.ID,
		Item:      item.SourcePath,
		Index:     index,
		Kind:      string(item.Kind),
		Error:     err,
	})
}

func (o *Orchestrator) publishTerminal(b *Batch, res *Result) {
	if o.bus == nil {
		return
	}
	var eventType events.EventType
	switch res.Outcome {
	case OutcomeCompleted:
		eventType = events.EventBatchCompleted
	case OutcomeAborted:
		eventType = events.EventBatchAborted
	default:
		eventType = events.EventBatchUnknown
	}
	o.bus.Publish(&events.BatchEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, Time: time.Now()},
		BatchID:   b.ID,
		Attempted: res.Attempted,
		Moved:     res.Moved,
		Failed:    res.Failed,
		Duration:  res.Duration,
		Error:     res.Err,
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
