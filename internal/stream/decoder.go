package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/howard-nolan/codeshui/internal/provider"
)

// maxLineSize bounds a single streamed line. Vendors keep lines small, but
// a 64 KiB default is too tight for a long Gemini element. Longer lines are
// dropped like any other line the vendor strategy can't parse.
const maxLineSize = 1 << 20

// Stream decodes a vendor's streaming HTTP body into StreamChunks. It is a
// pull-based reader in the style of bufio.Scanner: the consumer calls Next
// only when it is ready for more, which is all the backpressure we need.
//
//	s := stream.New(vendor, resp.Body)
//	defer s.Close()
//	for s.Next() {
//		fmt.Print(s.Chunk().Delta)
//	}
//	if err := s.Err(); err != nil { ... }
//
// A Stream yields exactly one chunk with Final set, always last, and is not
// restartable. Lines the vendor strategy can't make sense of are skipped,
// never fatal.
type Stream struct {
	vendor  provider.Vendor
	body    io.ReadCloser
	scanner *bufio.Scanner

	pending []provider.StreamChunk
	current provider.StreamChunk
	done    bool // the final chunk has been queued
	err     error

	closed atomic.Bool

	// Set by options.
	source        provider.Key
	model         string
	requireMarker bool
}

// Option configures a Stream.
type Option func(*Stream)

// WithOrigin names the vendor and model the stream comes from, for error
// reports. It defaults to the decoding strategy's vendor, which is wrong for
// relay streams.
func WithOrigin(key provider.Key, model string) Option {
	return func(s *Stream) {
		s.source = key
		s.model = model
	}
}

// RequireEndMarker makes a body that ends without the strategy's end marker
// a transport error instead of a normal finish. The relay always sends one,
// so a missing marker means the relay cut the stream.
func RequireEndMarker() Option {
	return func(s *Stream) { s.requireMarker = true }
}

// New wraps body. The Stream owns body from here on and closes it once the
// final chunk is produced or Close is called.
func New(v provider.Vendor, body io.ReadCloser, opts ...Option) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(skipLongLines(maxLineSize))

	s := &Stream{
		vendor:  v,
		body:    body,
		scanner: scanner,
		source:  v.Key(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next advances to the next chunk, returning false once the final chunk has
// been consumed or the stream was closed early.
func (s *Stream) Next() bool {
	if s.pop() {
		return true
	}
	if s.done || s.closed.Load() {
		return false
	}

	// bufio.Scanner carries partial lines across reads for us, so a line
	// split over two network chunks arrives here whole.
	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")

		frame := s.vendor.DecodeLine(line)
		if frame.Skip {
			continue
		}
		if frame.Delta != "" {
			s.pending = append(s.pending, provider.StreamChunk{Delta: frame.Delta})
		}
		if frame.Final {
			s.finish()
		}
		if s.pop() {
			return true
		}
	}

	if s.closed.Load() {
		// The consumer hung up mid-read; that's not an error and there's
		// nobody left to hand a final chunk to.
		s.done = true
		return false
	}

	// End of body without an explicit end marker, or a read failure. Either
	// way the sequence still ends with one final chunk.
	if err := s.scanner.Err(); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.err = provider.TransportError(s.source, s.model, err)
		}
	} else if s.requireMarker {
		s.err = provider.TransportError(s.source, s.model, io.ErrUnexpectedEOF)
	}
	s.finish()
	return s.pop()
}

// Chunk returns the chunk produced by the last successful Next.
func (s *Stream) Chunk() provider.StreamChunk {
	return s.current
}

// Err returns the transport failure that cut the stream short, if any.
// Malformed lines are never reported here.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the body. Closing before the final chunk is how a caller
// abandons a stream; it is safe to call more than once and from another
// goroutine than the one calling Next.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.body.Close()
}

// Collect drains the stream and returns the concatenated deltas.
func (s *Stream) Collect() (string, error) {
	defer s.Close()

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Chunk().Delta)
	}
	return b.String(), s.Err()
}

func (s *Stream) pop() bool {
	if len(s.pending) == 0 {
		return false
	}
	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

// finish queues the final chunk and lets go of the connection; nothing after
// the end marker is read.
func (s *Stream) finish() {
	s.pending = append(s.pending, provider.StreamChunk{Final: true})
	s.done = true
	_ = s.Close()
}

// skipLongLines splits like bufio.ScanLines, except that a line longer than
// max is discarded up to its newline instead of failing the scan.
func skipLongLines(max int) bufio.SplitFunc {
	discarding := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if discarding {
			if i := bytes.IndexByte(data, '\n'); i >= 0 {
				discarding = false
				return i + 1, nil, nil
			}
			return len(data), nil, nil
		}

		advance, token, err := bufio.ScanLines(data, atEOF)
		if advance == 0 && token == nil && err == nil && len(data) >= max {
			discarding = true
			return len(data), nil, nil
		}
		return advance, token, err
	}
}
