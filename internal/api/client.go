package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
	"github.com/allaboutduncan/comic-utils-sub000/internal/httpx"
	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
)

// retryLogger adapts our logger to the retryablehttp.LeveledLogger interface.
// Info and Debug are intentionally silent; retries are noise unless they fail.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(fieldMap(keysAndValues)).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(fieldMap(keysAndValues)).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}

func fieldMap(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return fields
}

// Client talks to the library file-service.
//
// Two underlying HTTP clients are used: a retrying one for idempotent-ish
// JSON endpoints, and a plain one for the streamed endpoints. A streamed
// move or script channel must never be transparently retried: the server
// would re-run the operation and the half-consumed progress stream would
// report garbage.
type Client struct {
	jsonClient   *nethttp.Client
	streamClient *nethttp.Client
	baseURL      string
	timeout      time.Duration
	log          *logging.Logger
}

// StreamHeader requests streamed-progress mode on POST /move.
const StreamHeader = "X-Stream-Progress"

// NewClient creates a library API client from config.
func NewClient(cfg *config.Config, log *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpx.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = &retryLogger{log: log}

	return &Client{
		jsonClient:   retryClient.StandardClient(),
		streamClient: httpx.NewClient(),
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:      cfg.RequestTimeout,
		log:          log,
	}
}

// BaseURL returns the configured server root.
func (c *Client) BaseURL() string { return c.baseURL }

// Move issues an atomic move of a single file.
func (c *Client) Move(ctx context.Context, source, destination string) error {
	return c.postStatus(ctx, "move", "/move", moveRequest{
		Source:      source,
		Destination: destination,
	}, nil)
}

// MoveStream issues a directory move in streamed mode and returns the raw
// response body carrying the progress frame grammar. The caller owns the
// body and must close it; ctx should carry the per-stream ceiling.
func (c *Client) MoveStream(ctx context.Context, source, destination string) (io.ReadCloser, error) {
	body, err := json.Marshal(moveRequest{Source: source, Destination: destination})
	if err != nil {
		return nil, fmt.Errorf("marshal move request: %w", err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+"/move", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create move request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(StreamHeader, "true")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "move-stream", Err: err}
	}
	if resp.StatusCode != nethttp.StatusOK {
		msg := readShortBody(resp.Body)
		resp.Body.Close()
		return nil, &ApplicationError{Op: "move-stream", Status: resp.StatusCode, Message: msg}
	}
	return resp.Body, nil
}

// CountFiles returns the number of plain files under path.
// Best-effort by contract: callers treat an error as count 0.
func (c *Client) CountFiles(ctx context.Context, path string) (int, error) {
	var out countResponse
	if err := c.getJSON(ctx, "count-files", "/count-files?path="+url.QueryEscape(path), &out); err != nil {
		return 0, err
	}
	return out.FileCount, nil
}

// GetFolderSize returns the human-readable size of a directory.
// Best-effort, display only.
func (c *Client) GetFolderSize(ctx context.Context, path string) (*FolderSize, error) {
	var out FolderSize
	if err := c.getJSON(ctx, "folder-size", "/folder-size?path="+url.QueryEscape(path), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rename renames a file or directory.
func (c *Client) Rename(ctx context.Context, source, destination string) error {
	return c.postStatus(ctx, "rename", "/rename", moveRequest{
		Source:      source,
		Destination: destination,
	}, nil)
}

// Delete removes a file or directory.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.postStatus(ctx, "delete", "/delete", pathRequest{Path: path}, nil)
}

// CreateFolder creates a directory.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	return c.postStatus(ctx, "create-folder", "/create-folder", pathRequest{Path: path}, nil)
}

// OpenScriptStream opens the persistent push channel for a script run and
// returns its text/event-stream body. The caller owns the body.
func (c *Client) OpenScriptStream(ctx context.Context, scriptType ScriptType, filePath string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/stream/%s?file_path=%s", c.baseURL, url.PathEscape(string(scriptType)), url.QueryEscape(filePath))

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "script-stream", Err: err}
	}
	if resp.StatusCode != nethttp.StatusOK {
		msg := readShortBody(resp.Body)
		resp.Body.Close()
		return nil, &ApplicationError{Op: "script-stream", Status: resp.StatusCode, Message: msg}
	}
	return resp.Body, nil
}

// postStatus performs a JSON POST against a success/error envelope endpoint.
func (c *Client) postStatus(ctx context.Context, op, path string, body interface{}, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := nethttp.NewRequestWithContext(reqCtx, nethttp.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.jsonClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return &ApplicationError{Op: op, Status: resp.StatusCode, Message: readShortBody(resp.Body)}
	}

	var status statusResponse
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !status.Success {
		return &ApplicationError{Op: op, Message: status.Error}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// getJSON performs a JSON GET.
func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(reqCtx, nethttp.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.jsonClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return &ApplicationError{Op: op, Status: resp.StatusCode, Message: readShortBody(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// readShortBody reads a capped amount of an error response body for messages.
func readShortBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 1024))
	return strings.TrimSpace(string(data))
}
