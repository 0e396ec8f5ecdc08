// Package script runs remote processing jobs over a persistent server-push
// channel and normalizes their event vocabulary.
//
// The server exposes GET /stream/{scriptType}?file_path= as a
// text/event-stream. Unnamed messages are free-text status lines, a blank
// data line is a heartbeat, and the named "completed" event is the
// authoritative terminal-success signal. The channel never retries; a
// failed invocation requires the caller to start a new one.
package script

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/allaboutduncan/comic-utils-sub000/internal/api"
	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
)

// State is the lifecycle state of one invocation.
type State string

const (
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrSuperseded is returned from Wait when a newer invocation forcibly
// terminated this one.
var ErrSuperseded = errors.New("invocation superseded by a newer one")

// ErrChannelClosed is returned when the push channel ended without the
// authoritative completed event.
var ErrChannelClosed = errors.New("push channel closed before completion")

// streamOpener is the slice of the API client the runner needs.
type streamOpener interface {
	OpenScriptStream(ctx context.Context, scriptType api.ScriptType, filePath string) (io.ReadCloser, error)
}

// Runner owns script invocations for one UI surface and enforces the
// at-most-one-active invariant: starting a new invocation forcibly
// terminates any prior one.
type Runner struct {
	client streamOpener
	cfg    *config.Config
	log    *logging.Logger
	bus    *events.Bus

	mu     sync.Mutex
	active *Invocation
}

// Invocation is one running script job and its channel.
type Invocation struct {
	ScriptType api.ScriptType
	FilePath   string

	mu      sync.Mutex
	state   State
	err     error
	percent int

	cancel context.CancelFunc
	done   chan struct{}

	// onRefresh is called once on authoritative completion so the owner
	// can reload the affected artifact.
	onRefresh func()

	// onHide is scheduled once after a terminal state, with the success
	// (3s) or failure (5s) delay. Used by presenters to dismiss the
	// progress display.
	onHide    func()
	hideTimer *time.Timer
	hideOnce  sync.Once
}

// NewRunner creates a script runner.
func NewRunner(client streamOpener, cfg *config.Config, bus *events.Bus, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return &Runner{client: client, cfg: cfg, log: log, bus: bus}
}

// Option configures an invocation before its channel opens.
type Option func(*Invocation)

// WithRefresh sets the artifact refresh hook fired on completion.
func WithRefresh(fn func()) Option {
	return func(inv *Invocation) { inv.onRefresh = fn }
}

// WithAutoHide sets the hook fired after the terminal hide delay.
func WithAutoHide(fn func()) Option {
	return func(inv *Invocation) { inv.onHide = fn }
}

// Start opens the push channel for one script run. Any previously active
// invocation is terminated first.
func (r *Runner) Start(ctx context.Context, scriptType api.ScriptType, filePath string, opts ...Option) (*Invocation, error) {
	if !api.ValidScriptType(scriptType) {
		return nil, fmt.Errorf("unknown script type %q (known: %v)", scriptType, api.KnownScriptTypes)
	}

	inv := &Invocation{
		ScriptType: scriptType,
		FilePath:   filePath,
		state:      StateConnecting,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(inv)
	}

	// At-most-one-active: supersede the previous invocation before any
	// network work for the new one.
	r.mu.Lock()
	if prev := r.active; prev != nil {
		prev.supersede()
	}
	r.active = inv
	r.mu.Unlock()

	chanCtx, cancel := context.WithCancel(ctx)
	inv.cancel = cancel

	body, err := r.client.OpenScriptStream(chanCtx, scriptType, filePath)
	if err != nil {
		cancel()
		inv.fail(err)
		r.publishFailed(inv, err)
		return nil, err
	}

	inv.setState(StateStreaming)
	go r.consume(inv, body)
	return inv, nil
}

// Active returns the currently active invocation, if any.
func (r *Runner) Active() *Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Stop terminates the active invocation, if any.
func (r *Runner) Stop() {
	r.mu.Lock()
	inv := r.active
	r.active = nil
	r.mu.Unlock()
	if inv != nil {
		inv.supersede()
	}
}

// consume reads the channel until a terminal event or transport failure.
func (r *Runner) consume(inv *Invocation, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)

	var eventName string
	var data []string

	flush := func() bool {
		name := eventName
		payload := strings.Join(data, "\n")
		eventName = ""
		data = data[:0]
		return r.dispatch(inv, name, payload)
	}

	for scanner.Scan() {
		if inv.isTerminated() {
			return
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case line == "":
			if flush() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// SSE comment, ignore
		default:
			r.log.Debug().Str("line", line).Msg("ignoring non-SSE line on script channel")
		}
	}

	if inv.isTerminated() {
		return
	}

	// Transport-level end without the named completed event is an
	// authoritative failure.
	err := scanner.Err()
	if err == nil {
		err = ErrChannelClosed
	}
	inv.fail(err)
	r.publishFailed(inv, err)
	inv.scheduleHide(r.cfg.ErrorHideDelay)
}

// dispatch handles one complete SSE message. Returns true when the
// invocation reached a terminal state.
func (r *Runner) dispatch(inv *Invocation, name, payload string) bool {
	switch name {
	case "completed":
		// Authoritative terminal success.
		inv.complete()
		if r.bus != nil {
			r.bus.Publish(&events.ScriptEvent{
				BaseEvent:  events.BaseEvent{EventType: events.EventScriptCompleted, Time: time.Now()},
				ScriptType: string(inv.ScriptType),
				FilePath:   inv.FilePath,
				Message:    payload,
			})
		}
		if inv.onRefresh != nil {
			inv.onRefresh()
		}
		inv.scheduleHide(r.cfg.ScriptHideDelay)
		return true

	case "":
		if strings.TrimSpace(payload) == "" {
			// Heartbeat, keeps the connection warm. Nothing to surface.
			return false
		}
		r.publishStatus(inv, payload)

		if containsHeuristicCompletion(payload) {
			if r.cfg.HeuristicCompletion {
				// Legacy servers omit the named event; visually complete
				// the bar but stay on the channel for the real signal.
				inv.setPercent(100)
			} else {
				r.log.Debug().Str("line", payload).Msg("status line matches legacy completion heuristic (ignored)")
			}
		}
		return false

	default:
		r.log.Warn().Str("event", name).Str("data", payload).Msg("unknown named event on script channel")
		return false
	}
}

func (r *Runner) publishStatus(inv *Invocation, msg string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&events.ScriptEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventScriptStatus, Time: time.Now()},
		ScriptType: string(inv.ScriptType),
		FilePath:   inv.FilePath,
		Message:    msg,
	})
}

func (r *Runner) publishFailed(inv *Invocation, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&events.ScriptEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventScriptFailed, Time: time.Now()},
		ScriptType: string(inv.ScriptType),
		FilePath:   inv.FilePath,
		Error:      err,
	})
}

// containsHeuristicCompletion reports whether a status line matches the
// legacy substring completion signal.
func containsHeuristicCompletion(line string) bool {
	return strings.Contains(line, "completed") || strings.Contains(line, "SUCCESS:")
}

// State returns the invocation's current state.
func (inv *Invocation) State() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Percent returns the displayed percent (100 only on completion or via the
// legacy heuristic).
func (inv *Invocation) Percent() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.percent
}

// Err returns the terminal error, if any.
func (inv *Invocation) Err() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.err
}

// Wait blocks until the invocation terminates or ctx is done.
func (inv *Invocation) Wait(ctx context.Context) error {
	select {
	case <-inv.done:
		return inv.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done exposes the terminal-state channel.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

func (inv *Invocation) setState(s State) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.state = s
}

func (inv *Invocation) setPercent(p int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if p > inv.percent {
		inv.percent = p
	}
}

func (inv *Invocation) isTerminated() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state == StateCompleted || inv.state == StateFailed
}

func (inv *Invocation) complete() {
	inv.mu.Lock()
	if inv.state == StateCompleted || inv.state == StateFailed {
		inv.mu.Unlock()
		return
	}
	inv.state = StateCompleted
	inv.percent = 100
	inv.mu.Unlock()
	if inv.cancel != nil {
		inv.cancel()
	}
	close(inv.done)
}

func (inv *Invocation) fail(err error) {
	inv.mu.Lock()
	if inv.state == StateCompleted || inv.state == StateFailed {
		inv.mu.Unlock()
		return
	}
	inv.state = StateFailed
	inv.err = err
	inv.mu.Unlock()
	if inv.cancel != nil {
		inv.cancel()
	}
	close(inv.done)
}

// supersede force-terminates this invocation because a newer one started.
// Cancelling the context tears down the in-flight HTTP stream for real,
// not just its UI effects.
func (inv *Invocation) supersede() {
	inv.fail(ErrSuperseded)
}

// scheduleHide arms the auto-hide hook exactly once.
func (inv *Invocation) scheduleHide(delay time.Duration) {
	if inv.onHide == nil {
		return
	}
	inv.hideOnce.Do(func() {
		inv.hideTimer = time.AfterFunc(delay, inv.onHide)
	})
}
