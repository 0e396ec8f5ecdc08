// Package batch orchestrates sequential file and directory moves against
// the library server, aggregating one progress signal for the whole batch.
package batch

import (
	"fmt"
	"sync"
	"time"
)

// ItemKind discriminates transfer items.
type ItemKind string

const (
	KindFile      ItemKind = "file"
	KindDirectory ItemKind = "directory"
)

// ItemState is the per-item state machine. Each item transitions
// Pending → InFlight → {Succeeded, Failed} exactly once.
type ItemState string

const (
	ItemPending   ItemState = "pending"
	ItemInFlight  ItemState = "in_flight"
	ItemSucceeded ItemState = "succeeded"
	ItemFailed    ItemState = "failed"
)

// TransferItem is one unit of a batch. SourcePath and Kind are immutable
// once enqueued; only the state fields change.
type TransferItem struct {
	SourcePath string
	Kind       ItemKind

	mu        sync.Mutex
	state     ItemState
	err       error
	fileCount int // Resolved during counting; directories only
}

// NewItem creates a pending transfer item.
func NewItem(sourcePath string, kind ItemKind) *TransferItem {
	return &TransferItem{
		SourcePath: sourcePath,
		Kind:       kind,
		state:      ItemPending,
	}
}

// NewFileItem is shorthand for NewItem(path, KindFile).
func NewFileItem(path string) *TransferItem { return NewItem(path, KindFile) }

// NewDirectoryItem is shorthand for NewItem(path, KindDirectory).
func NewDirectoryItem(path string) *TransferItem { return NewItem(path, KindDirectory) }

// State returns the item's current state.
func (it *TransferItem) State() ItemState {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// Err returns the item's failure cause, if any.
func (it *TransferItem) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// FileCount returns the resolved file count (directories only).
func (it *TransferItem) FileCount() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.fileCount
}

func (it *TransferItem) setFileCount(n int) {
	it.mu.Lock()
	it.fileCount = n
	it.mu.Unlock()
}

// start transitions Pending → InFlight.
func (it *TransferItem) start() error {
	return it.transition(ItemPending, ItemInFlight, nil)
}

// succeed transitions InFlight → Succeeded.
func (it *TransferItem) succeed() error {
	return it.transition(ItemInFlight, ItemSucceeded, nil)
}

// fail transitions InFlight → Failed, recording the cause.
func (it *TransferItem) fail(cause error) error {
	return it.transition(ItemInFlight, ItemFailed, cause)
}

func (it *TransferItem) transition(from, to ItemState, cause error) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.state != from {
		return fmt.Errorf("invalid item transition %s → %s for %q (currently %s)",
			from, to, it.SourcePath, it.state)
	}
	it.state = to
	if cause != nil {
		it.err = cause
	}
	return nil
}

// BatchState is the whole-batch state machine:
// Counting → Moving(i) → {Moving(i+1) | Aborted | Completed | Unknown}.
type BatchState string

const (
	BatchCounting  BatchState = "counting"
	BatchMoving    BatchState = "moving"
	BatchCompleted BatchState = "completed"
	BatchAborted   BatchState = "aborted"
	BatchUnknown   BatchState = "unknown" // Ceiling hit; true state unknown
)

// Batch is one submitted transfer batch. Owned exclusively by the
// orchestrator for its lifetime.
type Batch struct {
	ID              string
	Items           []*TransferItem
	TargetDirectory string

	mu               sync.Mutex
	state            BatchState
	filesMoved       int
	totalFilesToMove int
	currentIndex     int
	startedAt        time.Time
}

var (
	batchCounter uint64
	batchMu      sync.Mutex
)

func newBatchID() string {
	batchMu.Lock()
	defer batchMu.Unlock()
	batchCounter++
	return fmt.Sprintf("batch-%d-%d", time.Now().UnixNano(), batchCounter)
}

func newBatch(items []*TransferItem, targetDirectory string) *Batch {
	return &Batch{
		ID:              newBatchID(),
		Items:           items,
		TargetDirectory: targetDirectory,
		state:           BatchCounting,
		startedAt:       time.Now(),
	}
}

// State returns the batch state.
func (b *Batch) State() BatchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FilesMoved returns the cumulative moved-file counter.
func (b *Batch) FilesMoved() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filesMoved
}

// TotalFilesToMove returns the resolved total, 0 when counting failed
// everywhere (item-count progress is used instead).
func (b *Batch) TotalFilesToMove() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalFilesToMove
}

// CurrentIndex returns the index of the in-flight item.
func (b *Batch) CurrentIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentIndex
}

func (b *Batch) setState(s BatchState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Batch) setTotal(n int) {
	b.mu.Lock()
	b.totalFilesToMove = n
	b.mu.Unlock()
}

func (b *Batch) setIndex(i int) {
	b.mu.Lock()
	b.currentIndex = i
	b.mu.Unlock()
}

func (b *Batch) addMoved(n int) {
	b.mu.Lock()
	b.filesMoved += n
	b.mu.Unlock()
}

// Outcome classifies the terminal result of a batch.
type Outcome string

const (
	// OutcomeCompleted means every item reached a terminal state; file-item
	// failures may still be present (partial failure).
	OutcomeCompleted Outcome = "completed"
	// OutcomeAborted means a directory item failed or the caller cancelled;
	// remaining items were never attempted.
	OutcomeAborted Outcome = "aborted"
	// OutcomeUnknown means a ceiling was hit while work was in flight. The
	// server may or may not have finished the move; this is never reported
	// as success.
	OutcomeUnknown Outcome = "unknown"
)

// Result is the single aggregate result handed back to the caller.
type Result struct {
	Outcome   Outcome
	Attempted int // Items that left Pending
	Moved     int // Items that Succeeded
	Failed    int // Items that Failed
	Err       error
	Duration  time.Duration
}

// ForcedTimeoutError marks a ceiling hit. The wrapped operation's true
// outcome is unknown; user-facing text must never present it as success.
type ForcedTimeoutError struct {
	Op      string
	Ceiling time.Duration
}

func (e *ForcedTimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded the %s ceiling; final state unknown", e.Op, e.Ceiling)
}
