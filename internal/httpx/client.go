// Package httpx builds the HTTP clients used against the library server.
package httpx

import (
	"crypto/tls"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// NewClient creates an HTTP client tuned for the library server.
//
// Key points:
//   - Moderate connection pool; the orchestrator runs one batch at a time
//     but thumbnail pollers add a handful of concurrent probes.
//   - HTTP/2 with a runtime toggle (DISABLE_HTTP2 env var).
//   - Compression disabled; comic archives are already compressed and the
//     progress streams are tiny.
//   - No client-level timeout: streamed responses stay open for minutes,
//     so every operation bounds itself with a context instead.
func NewClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 2 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}

	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	return &http.Client{
		Transport: tr,
		Timeout:   0,
	}
}

// NewProbeClient creates the client used for thumbnail existence probes.
// Redirects are followed so the final resolved URL can be classified
// against the sentinel asset paths; the short timeout keeps a stuck probe
// from wedging a poller slot.
func NewProbeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := NewClient()
	c.Timeout = timeout
	return c
}
