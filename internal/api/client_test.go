package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/allaboutduncan/comic-utils-sub000/internal/config"
	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(&config.Config{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
	}, logging.NewLogger(io.Discard))
	return c, srv
}

func TestMoveSuccess(t *testing.T) {
	var gotReq moveRequest
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/move" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"success": true}`)
	}))

	err := c.Move(context.Background(), "/library/a.cbz", "/library/done/a.cbz")
	if err != nil {
		t.Fatalf("Move() error: %v", err)
	}
	if gotReq.Source != "/library/a.cbz" || gotReq.Destination != "/library/done/a.cbz" {
		t.Errorf("request payload = %+v", gotReq)
	}
}

func TestMoveApplicationError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "error": "destination exists"}`)
	}))

	err := c.Move(context.Background(), "/a", "/b")
	if !IsApplication(err) {
		t.Fatalf("error = %v, want application classification", err)
	}
	if !strings.Contains(err.Error(), "destination exists") {
		t.Errorf("error %q should carry the server message", err)
	}
}

func TestMoveTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(&config.Config{BaseURL: base, RequestTimeout: time.Second}, logging.NewLogger(io.Discard))
	err := c.Move(context.Background(), "/a", "/b")
	if !IsTransport(err) {
		t.Fatalf("error = %v, want transport classification", err)
	}
}

func TestMoveStreamSetsHeaders(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(StreamHeader) != "true" {
			t.Errorf("missing %s header", StreamHeader)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: 50\n\ndata: done\n\n")
	}))

	body, err := c.MoveStream(context.Background(), "/library/Series", "/library/done/Series")
	if err != nil {
		t.Fatalf("MoveStream() error: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(raw), "data: done") {
		t.Errorf("stream body = %q", raw)
	}
}

func TestMoveStreamNonOKIsApplicationError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "source not found", http.StatusNotFound)
	}))

	_, err := c.MoveStream(context.Background(), "/missing", "/dest")
	var ae *ApplicationError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want ApplicationError", err)
	}
	if ae.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", ae.Status)
	}
	if !strings.Contains(ae.Message, "source not found") {
		t.Errorf("message = %q", ae.Message)
	}
}

func TestCountFiles(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/count-files" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("path"); got != "/library/Series X" {
			t.Errorf("path query = %q", got)
		}
		fmt.Fprint(w, `{"file_count": 42}`)
	}))

	n, err := c.CountFiles(context.Background(), "/library/Series X")
	if err != nil {
		t.Fatalf("CountFiles() error: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
}

func TestGetFolderSize(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"size": "1.4 GB", "comic_count": 12, "magazine_count": 3}`)
	}))

	fs, err := c.GetFolderSize(context.Background(), "/library/Series X")
	if err != nil {
		t.Fatalf("GetFolderSize() error: %v", err)
	}
	if fs.Size != "1.4 GB" || fs.ComicCount != 12 || fs.MagazineCount != 3 {
		t.Errorf("folder size = %+v", fs)
	}
}

func TestRenameDeleteCreateFolder(t *testing.T) {
	var paths []string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, `{"success": true}`)
	}))

	ctx := context.Background()
	if err := c.Rename(ctx, "/a", "/b"); err != nil {
		t.Errorf("Rename: %v", err)
	}
	if err := c.Delete(ctx, "/a"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := c.CreateFolder(ctx, "/new"); err != nil {
		t.Errorf("CreateFolder: %v", err)
	}

	want := []string{"/rename", "/delete", "/create-folder"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("call %d hit %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestOpenScriptStream(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream/rebuild" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("file_path"); got != "/library/a.cbz" {
			t.Errorf("file_path = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: completed\ndata: ok\n\n")
	}))

	body, err := c.OpenScriptStream(context.Background(), ScriptRebuild, "/library/a.cbz")
	if err != nil {
		t.Fatalf("OpenScriptStream() error: %v", err)
	}
	body.Close()
}

func TestValidScriptType(t *testing.T) {
	for _, st := range KnownScriptTypes {
		if !ValidScriptType(st) {
			t.Errorf("%q should be valid", st)
		}
	}
	if ValidScriptType(ScriptType("rm-rf")) {
		t.Error("unknown script type should be rejected")
	}
}
