// Package stream re-frames the upstream's server-sent events. The upstream
// re-sends the full accumulated message text on every event; relaying that
// unchanged to a client expecting incremental deltas would duplicate content
// on every render. The re-framer rewrites each event's content to the newly
// generated suffix while preserving the rest of the event verbatim.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"chat-gateway-go/internal/metrics"
)

const (
	dataPrefix  = "data: "
	doneEvent   = "data: [DONE]\n\n"
	contentPath = "choices.0.delta.content"
)

// readBufferSize is the chunk size for upstream reads. Events routinely span
// chunk boundaries; LineBuffer reassembles them.
const readBufferSize = 4096

// LineBuffer reassembles complete lines from arbitrary byte chunks.
type LineBuffer struct {
	pending string
}

// Feed appends a chunk and returns every complete line it produced. The
// fragment after the last newline is held back until the next chunk.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.pending += string(chunk)
	if !strings.Contains(b.pending, "\n") {
		return nil
	}
	parts := strings.Split(b.pending, "\n")
	b.pending = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Reframer rewrites cumulative event content into incremental deltas.
// One Reframer serves exactly one relay; its state is never shared.
type Reframer struct {
	prev string // cumulative content of the last rewritten event
}

// ProcessLine handles one complete line and returns the serialized SSE event
// to emit (payload line plus blank separator), or "" when the line is not an
// event. Lines that are not `data: ` events — blank separators, SSE
// comments, keep-alives — are dropped.
func (r *Reframer) ProcessLine(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataPrefix) {
		return ""
	}
	payload := line[len(dataPrefix):]

	// Anything that is not a JSON document ([DONE] included) passes through
	// opaquely so no event is ever dropped on a schema mismatch.
	if !gjson.Valid(payload) {
		return line + "\n\n"
	}

	content := gjson.Get(payload, contentPath)
	if !content.Exists() || content.Type != gjson.String {
		return line + "\n\n"
	}

	cumulative := content.String()
	delta := cumulative
	if r.prev != "" && strings.HasPrefix(cumulative, r.prev) {
		delta = cumulative[len(r.prev):]
	}

	patched, err := sjson.Set(payload, contentPath, delta)
	if err != nil {
		return line + "\n\n"
	}

	// Track the original cumulative value, not the trimmed delta. A later
	// event that does not extend it is relayed unchanged as a fresh chunk.
	r.prev = cumulative
	return dataPrefix + patched + "\n\n"
}

// Relay copies SSE events from src to sink until src is exhausted, rewriting
// cumulative content into deltas, then emits a terminal [DONE] event. Event
// order is preserved and nothing is buffered ahead. A trailing partial line
// with no terminating newline cannot form a complete event and is discarded.
//
// The relay is never retried: on a mid-stream read or write error it stops
// and the already-sent prefix stands. Canceling ctx stops the relay.
func Relay(ctx context.Context, src io.Reader, sink io.Writer, logger *slog.Logger, m *metrics.Metrics) error {
	flusher, _ := sink.(http.Flusher)
	var (
		lines LineBuffer
		rf    Reframer
		buf   = make([]byte, readBufferSize)
	)

	emit := func(event string) error {
		if _, err := io.WriteString(sink, event); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if m != nil {
			m.StreamEvents.Inc()
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				event := rf.ProcessLine(line)
				if event == "" {
					continue
				}
				if werr := emit(event); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return emit(doneEvent)
			}
			logger.Error("upstream stream read failed", "err", err)
			return fmt.Errorf("read upstream stream: %w", err)
		}
	}
}
