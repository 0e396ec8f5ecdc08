package stream

import (
	"io"
	"strings"
	"testing"
)

// chunkReader delivers its chunks one Read at a time to simulate arbitrary
// transport chunking.
type chunkReader struct {
	chunks []string
	pos    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.chunks) {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[c.pos])
	c.pos++
	if c.pos == len(c.chunks) {
		return n, io.EOF // EOF alongside the final bytes is legal; exercise it
	}
	return n, nil
}

func collect(t *testing.T, d *Decoder) []Frame {
	t.Helper()
	var frames []Frame
	for {
		f, err := d.Next()
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestDecodeBasicSequence(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: 10\n\ndata: 45\n\ndata: done\n\n"), nil)
	frames := collect(t, d)

	want := []Frame{
		{Kind: FramePercent, Percent: 10},
		{Kind: FramePercent, Percent: 45},
		{Kind: FrameDone},
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d: %+v", len(frames), len(want), frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, frames[i], want[i])
		}
	}
}

func TestDecodeChunkBoundaryInsensitive(t *testing.T) {
	full := "data: 10\n\ndata: done\n\n"

	// Whole stream at once
	whole := collect(t, NewDecoder(strings.NewReader(full), nil))

	// Byte-level splits, including mid-token and mid-delimiter
	splits := [][]string{
		{"data: 1", "0\n\ndata: done\n\n"},
		{"data: 10\n", "\ndata: d", "one\n\n"},
		{"d", "a", "t", "a", ":", " ", "1", "0", "\n", "\n", "data: done\n\n"},
		{"data: 10\n\ndata: done\n", "\n"},
	}

	for i, chunks := range splits {
		got := collect(t, NewDecoder(&chunkReader{chunks: chunks}, nil))
		if len(got) != len(whole) {
			t.Fatalf("split %d: got %d frames, want %d", i, len(got), len(whole))
		}
		for j := range whole {
			if got[j] != whole[j] {
				t.Errorf("split %d frame %d = %+v, want %+v", i, j, got[j], whole[j])
			}
		}
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: 30\n\ndata: error: disk full\n\n"), nil)
	frames := collect(t, d)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	last := frames[1]
	if last.Kind != FrameError {
		t.Fatalf("last frame kind = %v, want error", last.Kind)
	}
	if !strings.Contains(last.Text, "disk full") {
		t.Errorf("error text = %q, want it to contain %q", last.Text, "disk full")
	}
}

func TestDecodeKeepalive(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: keepalive: still working\n\ndata: 80\n\ndata: done\n\n"), nil)
	frames := collect(t, d)

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %+v", len(frames), frames)
	}
	if frames[0].Kind != FrameKeepalive || frames[0].Text != "still working" {
		t.Errorf("frame 0 = %+v, want keepalive 'still working'", frames[0])
	}
}

func TestNoFramesAfterTerminal(t *testing.T) {
	// Records after done must never surface.
	d := NewDecoder(strings.NewReader("data: done\n\ndata: 99\n\n"), nil)
	frames := collect(t, d)

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1: %+v", len(frames), frames)
	}
	if frames[0].Kind != FrameDone {
		t.Errorf("frame 0 kind = %v, want done", frames[0].Kind)
	}

	// A second Next after terminal keeps returning EOF.
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("Next after terminal = %v, want io.EOF", err)
	}
}

func TestUnrecognizedPayloadDropped(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: banana\n\ndata: 120\n\ndata: 50\n\ndata: done\n\n"), nil)
	frames := collect(t, d)

	// banana and 120 (out of range) are dropped, not surfaced.
	want := []Frame{
		{Kind: FramePercent, Percent: 50},
		{Kind: FrameDone},
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d: %+v", len(frames), len(want), frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, frames[i], want[i])
		}
	}
}

func TestStreamEndsWithoutTerminal(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: 10\n\ndata: 20\n\n"), nil)
	frames := collect(t, d)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	// The decoder synthesizes nothing; caller applies the timeout policy.
	if frames[1].Kind != FramePercent || frames[1].Percent != 20 {
		t.Errorf("frame 1 = %+v, want Percent(20)", frames[1])
	}
}

func TestTrailingIncompleteRecordIgnored(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: 10\n\ndata: 55"), nil)
	frames := collect(t, d)

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1: %+v", len(frames), frames)
	}
	if frames[0].Percent != 10 {
		t.Errorf("frame 0 percent = %d, want 10", frames[0].Percent)
	}
}

func TestParsePayload(t *testing.T) {
	cases := []struct {
		payload string
		want    Frame
		wantErr bool
	}{
		{"0", Frame{Kind: FramePercent, Percent: 0}, false},
		{"100", Frame{Kind: FramePercent, Percent: 100}, false},
		{"done", Frame{Kind: FrameDone}, false},
		{"error: boom", Frame{Kind: FrameError, Text: "boom"}, false},
		{"keepalive: tick", Frame{Kind: FrameKeepalive, Text: "tick"}, false},
		{"101", Frame{}, true},
		{"-1", Frame{}, true},
		{"50.5", Frame{}, true},
		{"hello", Frame{}, true},
	}

	for _, tc := range cases {
		got, err := parsePayload(tc.payload)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parsePayload(%q) expected error, got %+v", tc.payload, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePayload(%q) error: %v", tc.payload, err)
			continue
		}
		if *got != tc.want {
			t.Errorf("parsePayload(%q) = %+v, want %+v", tc.payload, *got, tc.want)
		}
	}
}
