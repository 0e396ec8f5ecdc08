// Package thumbs polls generated thumbnail URLs until they are ready.
//
// Thumbnails are generated server-side after an archive changes; until then
// requests resolve to a "loading" sentinel asset, and on generator failure
// to an "error" sentinel. Each probe is cache-busted so intermediaries
// never serve a stale sentinel. Pollers share a fixed-size slot pool so a
// listing with hundreds of covers cannot storm the server.
package thumbs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
	"github.com/allaboutduncan/comic-utils-sub000/internal/httpx"
	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
)

// Sentinel asset paths the server resolves placeholders to.
const (
	LoadingSentinel = "/static/images/loading.png"
	ErrorSentinel   = "/static/images/error.png"
)

// State is the lifecycle state of one probe.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Probe tracks readiness of a single thumbnail URL.
type Probe struct {
	URL string

	mu       sync.Mutex
	state    State
	attempts int
	busy     bool
	finalURL string
	err      error

	cancel  context.CancelFunc
	done    chan struct{}
	onReady func(freshURL string)
}

// Poller runs probes on a bounded slot pool.
type Poller struct {
	client       *http.Client
	pollInterval time.Duration
	errorBackoff time.Duration
	maxAttempts  int
	slots        chan struct{}
	bus          *events.Bus
	log          *logging.Logger
}

// NewPoller creates a poller from config.
func NewPoller(cfg *config.Config, bus *events.Bus, log *logging.Logger) *Poller {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	workers := cfg.ThumbWorkers
	if workers < 1 {
		workers = config.DefaultThumbWorkers
	}
	return &Poller{
		client:       httpx.NewProbeClient(0),
		pollInterval: cfg.ThumbPollInterval,
		errorBackoff: cfg.ThumbErrorBackoff,
		maxAttempts:  cfg.ThumbMaxAttempts,
		slots:        make(chan struct{}, workers),
		bus:          bus,
		log:          log,
	}
}

// SetClient replaces the probe HTTP client. Intended for tests.
func (p *Poller) SetClient(c *http.Client) { p.client = c }

// Watch starts polling a thumbnail URL. The returned Probe ends on Ready or
// Failed, or is abandoned when ctx is cancelled (the owning UI element was
// discarded). onReady receives a freshly cache-busted URL to swap in as the
// displayed source; it may be nil.
func (p *Poller) Watch(ctx context.Context, thumbURL string, onReady func(freshURL string)) *Probe {
	probeCtx, cancel := context.WithCancel(ctx)
	pr := &Probe{
		URL:     thumbURL,
		state:   StatePending,
		cancel:  cancel,
		done:    make(chan struct{}),
		onReady: onReady,
	}
	go p.run(probeCtx, pr)
	return pr
}

// run is the poll loop for one probe.
func (p *Poller) run(ctx context.Context, pr *Probe) {
	defer close(pr.done)

	for {
		if pr.State() != StatePending {
			return
		}

		// Acquire a pool slot for the duration of one probe. Waiting
		// pollers hold no slot, so idle intervals cost nothing.
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		pr.setBusy(true)
		finalURL, status, err := p.probe(ctx, pr.URL)
		pr.setBusy(false)
		<-p.slots

		if ctx.Err() != nil {
			return // abandoned mid-probe
		}

		pr.incAttempts()

		var delay time.Duration
		switch {
		case err != nil:
			// Transport trouble is congestion, not "still generating";
			// back off harder before the next probe.
			p.log.Debug().Err(err).Str("url", pr.URL).Msg("thumbnail probe transport error")
			delay = p.errorBackoff

		case status == http.StatusOK && !isSentinel(finalURL):
			pr.ready(finalURL)
			if pr.onReady != nil {
				pr.onReady(cacheBust(pr.URL))
			}
			p.publish(events.EventThumbReady, pr, nil)
			return

		default:
			// Sentinel or non-200: generation still in flight.
			delay = p.pollInterval
		}

		if p.maxAttempts > 0 && pr.Attempts() >= p.maxAttempts {
			failErr := fmt.Errorf("thumbnail not ready after %d probes", p.maxAttempts)
			if err != nil {
				failErr = fmt.Errorf("thumbnail probe failed after %d probes: %w", p.maxAttempts, err)
			}
			pr.fail(failErr)
			p.publish(events.EventThumbFailed, pr, failErr)
			return
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// probe issues one cache-busted existence check and reports the final
// resolved URL after redirects.
func (p *Poller) probe(ctx context.Context, thumbURL string) (finalURL string, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cacheBust(thumbURL), nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512*1024))

	return resp.Request.URL.String(), resp.StatusCode, nil
}

func (p *Poller) publish(eventType events.EventType, pr *Probe, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(&events.ThumbEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, Time: time.Now()},
		URL:       pr.URL,
		Attempts:  pr.Attempts(),
		Error:     err,
	})
}

// isSentinel reports whether a resolved URL is one of the placeholder assets.
func isSentinel(resolved string) bool {
	u, err := url.Parse(resolved)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, LoadingSentinel) || strings.HasSuffix(u.Path, ErrorSentinel)
}

// cacheBust appends a timestamp query parameter.
func cacheBust(thumbURL string) string {
	sep := "?"
	if strings.Contains(thumbURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%st=%d", thumbURL, sep, time.Now().UnixNano())
}

// State returns the probe's current state.
func (pr *Probe) State() State {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.state
}

// Busy reports whether a probe request is currently outstanding.
func (pr *Probe) Busy() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.busy
}

// Attempts returns the number of probes issued so far.
func (pr *Probe) Attempts() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.attempts
}

// FinalURL returns the resolved URL observed when the probe went Ready.
func (pr *Probe) FinalURL() string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.finalURL
}

// Err returns the terminal error, if any.
func (pr *Probe) Err() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.err
}

// Done is closed when the poll loop exits, whether terminal or abandoned.
func (pr *Probe) Done() <-chan struct{} { return pr.done }

// MarkFailed records an externally observed failure (the image-load error
// path) and stops polling immediately.
func (pr *Probe) MarkFailed(err error) {
	pr.mu.Lock()
	if pr.state != StatePending {
		pr.mu.Unlock()
		return
	}
	pr.state = StateFailed
	pr.err = err
	pr.mu.Unlock()
	pr.cancel()
}

// Abandon stops polling without a terminal classification.
func (pr *Probe) Abandon() {
	pr.cancel()
}

func (pr *Probe) setBusy(b bool) {
	pr.mu.Lock()
	pr.busy = b
	pr.mu.Unlock()
}

func (pr *Probe) incAttempts() {
	pr.mu.Lock()
	pr.attempts++
	pr.mu.Unlock()
}

func (pr *Probe) ready(finalURL string) {
	pr.mu.Lock()
	pr.state = StateReady
	pr.finalURL = finalURL
	pr.mu.Unlock()
}

func (pr *Probe) fail(err error) {
	pr.mu.Lock()
	if pr.state == StatePending {
		pr.state = StateFailed
		pr.err = err
	}
	pr.mu.Unlock()
}
