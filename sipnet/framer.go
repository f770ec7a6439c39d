package sipnet

import (
	"bytes"
	"errors"
)

// ErrNeedMoreData is returned by a MessageParser when the buffer holds a
// partial message; the caller should wait for more bytes and retry with the
// same (extended) buffer.
var ErrNeedMoreData = errors.New("sipnet: need more data")

// ErrInvalidFraming is returned by a MessageParser when the buffer cannot be
// resynchronised to a message boundary. Per spec.md §4.2, a connection that
// produces this error must be closed — resynchronising a byte stream after a
// framing failure is not reliable.
var ErrInvalidFraming = errors.New("sipnet: invalid framing")

// MessageParser is the external collaborator this package defers SIP message
// semantics to (spec.md §1: "consumed as a function parse_sip_from_stream").
// ParseFromStream must return the framed message and the number of bytes the
// parser wants discarded from the front of buf for this one call (the
// message bytes plus any framing slack such as leading CRLF keep-alives), or
// (nil, 0, ErrNeedMoreData) when buf holds a partial message, or
// (nil, 0, ErrInvalidFraming) when buf cannot be resynchronised.
type MessageParser interface {
	ParseFromStream(buf []byte) (message []byte, consumed int, err error)
}

// MessageParserFunc adapts a function to a MessageParser.
type MessageParserFunc func(buf []byte) ([]byte, int, error)

func (f MessageParserFunc) ParseFromStream(buf []byte) ([]byte, int, error) {
	return f(buf)
}

// StreamBuffer is the per-connection receive accumulation buffer described
// in spec.md §3: a fixed backing array with recvStart/recvEnd marking the
// unprocessed window. It is not safe for concurrent use; per spec.md §5 it is
// single-writer, owned by the connection's own receive task.
type StreamBuffer struct {
	buf       []byte
	recvStart int
	recvEnd   int
}

// NewStreamBuffer allocates a buffer sized to at least 2x MaxSIPMessageBytes,
// per spec.md §3.
func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{
		buf: make([]byte, 2*MaxSIPMessageBytes),
	}
}

// Len returns the size of the unprocessed window.
func (s *StreamBuffer) Len() int {
	return s.recvEnd - s.recvStart
}

// window returns the slice of currently-unprocessed bytes.
func (s *StreamBuffer) window() []byte {
	return s.buf[s.recvStart:s.recvEnd]
}

// ExtractMessages appends newBytes to the accumulation buffer and repeatedly
// calls parser until it signals ErrNeedMoreData, returning every complete
// message extracted along the way. This is the hot path described in
// spec.md §4.2: SIP over TCP/TLS/WebSocket framing can fall mid-packet, so
// the loop keeps draining the buffer as long as whole messages remain in it.
//
// If the parser reports ErrInvalidFraming, it is returned unmodified — the
// caller (a stream channel) is responsible for closing the connection per
// spec.md §4.2; the buffer's state is left as-is since the connection is
// about to be torn down.
//
// If a new receive would overflow the backing array, the pending window is
// discarded and indices reset to 0, per spec.md §3's overflow invariant; the
// next SIP transaction is expected to retransmit.
func (s *StreamBuffer) ExtractMessages(parser MessageParser, newBytes []byte) ([][]byte, error) {
	if s.recvEnd+len(newBytes) > len(s.buf) {
		if s.Len()+len(newBytes) > len(s.buf) {
			s.recvStart = 0
			s.recvEnd = 0
		} else {
			// Slack at the front can be reclaimed by compacting before the
			// slower full-discard path kicks in.
			copy(s.buf, s.window())
			s.recvEnd = s.Len()
			s.recvStart = 0
		}
	}
	s.recvEnd += copy(s.buf[s.recvEnd:], newBytes)

	var messages [][]byte
	for s.Len() > 0 {
		msg, consumed, err := parser.ParseFromStream(s.window())
		if errors.Is(err, ErrNeedMoreData) {
			break
		}
		if err != nil {
			return messages, err
		}
		if consumed <= 0 {
			// A parser must make forward progress; treat zero-progress as a
			// framing bug rather than spin.
			return messages, ErrInvalidFraming
		}

		out := make([]byte, len(msg))
		copy(out, msg)
		messages = append(messages, out)

		s.recvStart += consumed
		if s.recvStart == s.recvEnd {
			s.recvStart = 0
			s.recvEnd = 0
		}
	}
	return messages, nil
}

// Reset discards any pending partial message. The stream channels do not
// call it: after a framing failure they close the connection and leave the
// buffer as it is.
func (s *StreamBuffer) Reset() {
	s.recvStart = 0
	s.recvEnd = 0
}

// invariant checks 0 <= recvStart <= recvEnd <= len(buf); exposed for tests
// exercising the universal invariant from spec.md §8.
func (s *StreamBuffer) invariant() bool {
	return 0 <= s.recvStart && s.recvStart <= s.recvEnd && s.recvEnd <= len(s.buf)
}

// isKeepAlive reports whether data is a SIP double-CRLF / single-CRLF
// keep-alive ping rather than a message, per RFC 5626 §3.5.1: a short run of
// bytes that reduces to nothing once CRLFs are trimmed.
func isKeepAlive(data []byte) bool {
	if len(data) > 4 {
		return false
	}
	return len(bytes.Trim(data, "\r\n")) == 0
}
