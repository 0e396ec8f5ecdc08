package thumbs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
)

func testPoller(cfg *config.Config) *Poller {
	if cfg.ThumbWorkers == 0 {
		cfg.ThumbWorkers = 2
	}
	return NewPoller(cfg, nil, nil)
}

func waitDone(t *testing.T, pr *Probe) {
	t.Helper()
	select {
	case <-pr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("probe did not finish in time")
	}
}

func TestPendingThenReady(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/static/images/loading.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "placeholder")
	})
	mux.HandleFunc("/thumbs/cover.png", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Redirect(w, r, "/static/images/loading.png", http.StatusFound)
			return
		}
		fmt.Fprint(w, "png bytes")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testPoller(&config.Config{
		ThumbPollInterval: 200 * time.Millisecond,
		ThumbErrorBackoff: 500 * time.Millisecond,
	})

	var swapped atomic.Value
	pr := p.Watch(context.Background(), srv.URL+"/thumbs/cover.png", func(fresh string) {
		swapped.Store(fresh)
	})

	// During the idle interval between the first (sentinel) probe and the
	// retry, no request is outstanding.
	time.Sleep(100 * time.Millisecond)
	if pr.Busy() {
		t.Error("busy should be false between probes")
	}
	if got := pr.State(); got != StatePending {
		t.Errorf("state = %v mid-poll, want pending", got)
	}

	waitDone(t, pr)

	if got := pr.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
	if got := pr.Attempts(); got != 2 {
		t.Errorf("attempts = %d, want 2 (one sentinel, one ready)", got)
	}
	fresh, _ := swapped.Load().(string)
	if fresh == "" {
		t.Fatal("onReady was not called")
	}
	if !strings.Contains(fresh, "t=") {
		t.Errorf("swapped source %q is not cache-busted", fresh)
	}
}

func TestSentinelExhaustsAttempts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/images/error.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "error placeholder")
	})
	mux.HandleFunc("/thumbs/broken.png", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/images/error.png", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testPoller(&config.Config{
		ThumbPollInterval: 10 * time.Millisecond,
		ThumbErrorBackoff: 10 * time.Millisecond,
		ThumbMaxAttempts:  3,
	})

	pr := p.Watch(context.Background(), srv.URL+"/thumbs/broken.png", nil)
	waitDone(t, pr)

	if got := pr.State(); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	if got := pr.Attempts(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if pr.Err() == nil {
		t.Error("terminal error should be set")
	}
}

func TestTransportErrorUsesBackoff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // Every probe now fails at the transport level

	start := time.Now()
	p := testPoller(&config.Config{
		ThumbPollInterval: 5 * time.Millisecond,
		ThumbErrorBackoff: 150 * time.Millisecond,
		ThumbMaxAttempts:  2,
	})

	pr := p.Watch(context.Background(), url+"/thumbs/x.png", nil)
	waitDone(t, pr)

	if got := pr.State(); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	// One backoff interval separates the two failed probes.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("elapsed %v, want at least one 150ms backoff", elapsed)
	}
}

func TestPoolBoundsConcurrentProbes(t *testing.T) {
	var inFlight, maxInFlight int32
	mux := http.NewServeMux()
	mux.HandleFunc("/static/images/loading.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "placeholder")
	})
	mux.HandleFunc("/thumbs/", func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if cur <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		fmt.Fprint(w, "png bytes")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testPoller(&config.Config{
		ThumbPollInterval: 5 * time.Millisecond,
		ThumbErrorBackoff: 5 * time.Millisecond,
		ThumbWorkers:      1,
	})

	var probes []*Probe
	for i := 0; i < 4; i++ {
		probes = append(probes, p.Watch(context.Background(), fmt.Sprintf("%s/thumbs/%d.png", srv.URL, i), nil))
	}
	for _, pr := range probes {
		waitDone(t, pr)
	}

	if got := atomic.LoadInt32(&maxInFlight); got > 1 {
		t.Errorf("max concurrent probes = %d, want at most 1", got)
	}
}

func TestMarkFailedStopsPolling(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/images/loading.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "placeholder")
	})
	mux.HandleFunc("/thumbs/slow.png", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/images/loading.png", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testPoller(&config.Config{
		ThumbPollInterval: 20 * time.Millisecond,
		ThumbErrorBackoff: 20 * time.Millisecond,
	})

	pr := p.Watch(context.Background(), srv.URL+"/thumbs/slow.png", nil)
	loadErr := errors.New("image element fired onerror")
	pr.MarkFailed(loadErr)
	waitDone(t, pr)

	if got := pr.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
	if !errors.Is(pr.Err(), loadErr) {
		t.Errorf("err = %v, want the externally reported load error", pr.Err())
	}
}

func TestAbandonLeavesPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/images/loading.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "placeholder")
	})
	mux.HandleFunc("/thumbs/gone.png", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/images/loading.png", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testPoller(&config.Config{
		ThumbPollInterval: 20 * time.Millisecond,
		ThumbErrorBackoff: 20 * time.Millisecond,
	})

	pr := p.Watch(context.Background(), srv.URL+"/thumbs/gone.png", nil)
	time.Sleep(10 * time.Millisecond)
	pr.Abandon()
	waitDone(t, pr)

	if got := pr.State(); got != StatePending {
		t.Errorf("state = %v, want pending after abandonment", got)
	}
}

func TestIsSentinel(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"http://host/static/images/loading.png", true},
		{"http://host/static/images/error.png", true},
		{"http://host/static/images/loading.png?t=123", true},
		{"http://host/thumbs/cover.png", false},
		{"http://host/thumbs/loading.png.jpg", false},
	}
	for _, tc := range cases {
		if got := isSentinel(tc.url); got != tc.want {
			t.Errorf("isSentinel(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
