// Package stream decodes the chunked progress protocol used by streamed
// directory moves. The transport delivers arbitrary byte chunks; logical
// records are separated by a blank line and never align with chunk
// boundaries, so the decoder reassembles them through a rolling buffer and
// only emits a frame once a full record is present.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/allaboutduncan/comic-utils-sub000/internal/logging"
)

// FrameKind discriminates the decoded frame union.
type FrameKind int

const (
	FramePercent FrameKind = iota
	FrameKeepalive
	FrameDone
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FramePercent:
		return "percent"
	case FrameKeepalive:
		return "keepalive"
	case FrameDone:
		return "done"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit of the progress grammar.
type Frame struct {
	Kind    FrameKind
	Percent int    // Valid for FramePercent
	Text    string // Keepalive text or error message
}

// ErrProtocol wraps payloads that do not match the grammar. These are
// logged and skipped by the decoder itself; the sentinel exists for tests
// and for callers of parsePayload.
var ErrProtocol = errors.New("progress frame outside protocol grammar")

// recordDelim separates logical records on the wire.
var recordDelim = []byte("\n\n")

// dataPrefix is the line prefix carried by each record payload.
const dataPrefix = "data:"

// Decoder incrementally parses one response body into Frames.
//
// A Decoder is single-use and must be consumed from one goroutine. It
// never emits a frame after Done or Error; if the transport ends without
// a terminal frame, Next simply returns io.EOF and the caller's timeout
// decides the outcome.
type Decoder struct {
	r        io.Reader
	buf      bytes.Buffer
	chunk    []byte
	terminal bool
	eof      bool
	log      *logging.Logger
}

// NewDecoder creates a decoder reading raw chunks from r.
func NewDecoder(r io.Reader, log *logging.Logger) *Decoder {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return &Decoder{
		r:     r,
		chunk: make([]byte, 4096),
		log:   log,
	}
}

// Next returns the next frame. It returns io.EOF when the stream is
// exhausted, either because a terminal frame was already emitted or the
// underlying transport ended.
func (d *Decoder) Next() (Frame, error) {
	if d.terminal {
		return Frame{}, io.EOF
	}

	for {
		// Emit any complete record already buffered before reading more.
		for {
			idx := bytes.Index(d.buf.Bytes(), recordDelim)
			if idx < 0 {
				break
			}
			record := make([]byte, idx)
			copy(record, d.buf.Bytes()[:idx])
			d.buf.Next(idx + len(recordDelim))

			frame, err := d.parseRecord(record)
			if err != nil {
				// Grammar violation: escalated to a warning, not surfaced
				// as a frame. Progress continues with the next record.
				d.log.Warn().Err(err).Str("record", string(record)).Msg("dropping unrecognized progress record")
				continue
			}
			if frame == nil {
				continue // blank record
			}
			if frame.Kind == FrameDone || frame.Kind == FrameError {
				d.terminal = true
			}
			return *frame, nil
		}

		if d.eof {
			// Trailing bytes with no delimiter are an incomplete record;
			// flag them so truncation is not silent.
			if d.buf.Len() > 0 && len(bytes.TrimSpace(d.buf.Bytes())) > 0 {
				d.log.Warn().Str("trailing", d.buf.String()).Msg("stream ended with incomplete progress record")
				d.buf.Reset()
			}
			return Frame{}, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf.Write(d.chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				d.eof = true
				continue
			}
			return Frame{}, err
		}
	}
}

// parseRecord interprets one delimiter-separated record. A nil frame with
// nil error means the record carried nothing (heartbeat blank line).
func (d *Decoder) parseRecord(record []byte) (*Frame, error) {
	payload := ""
	for _, line := range strings.Split(string(record), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, dataPrefix) {
			line = strings.TrimPrefix(line, dataPrefix)
			line = strings.TrimPrefix(line, " ")
		}
		line = strings.TrimSpace(line)
		if line != "" {
			payload = line
			break
		}
	}
	if payload == "" {
		return nil, nil
	}
	return parsePayload(payload)
}

// parsePayload maps one record payload onto the frame grammar.
func parsePayload(payload string) (*Frame, error) {
	switch {
	case payload == "done":
		return &Frame{Kind: FrameDone}, nil

	case strings.HasPrefix(payload, "error:"):
		msg := strings.TrimSpace(strings.TrimPrefix(payload, "error:"))
		return &Frame{Kind: FrameError, Text: msg}, nil

	case strings.HasPrefix(payload, "keepalive:"):
		text := strings.TrimSpace(strings.TrimPrefix(payload, "keepalive:"))
		return &Frame{Kind: FrameKeepalive, Text: text}, nil

	default:
		n, err := strconv.Atoi(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrProtocol, payload)
		}
		if n < 0 || n > 100 {
			return nil, fmt.Errorf("%w: percent %d out of range", ErrProtocol, n)
		}
		return &Frame{Kind: FramePercent, Percent: n}, nil
	}
}
