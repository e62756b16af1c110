package session

import (
	"sync"

	"golang.org/x/net/http2/hpack"
)

// HeaderField reuses the HPACK field type directly rather than wrapping it:
// it is already the exact shape (Name, Value, Sensitive) a header sequencer
// or an embedder needs, and the pack's HTTP/2 material (this module's
// teacher included) passes hpack.HeaderField around verbatim instead of
// introducing a parallel type.
type HeaderField = hpack.HeaderField

// pseudoValue scans an ordered field list for a pseudo-header (":method",
// ":path", ...) and returns its value, or "" if absent.
func pseudoValue(fields []HeaderField, name string) string {
	for _, hf := range fields {
		if !hf.IsPseudo() {
			break
		}
		if hf.Name == name {
			return hf.Value
		}
	}
	return ""
}

// CompletedHeaders is the result of a fully-assembled HEADERS(+CONTINUATION)
// or PUSH_PROMISE(+CONTINUATION) block: the concatenated fragments decoded
// into a flat field list.
type CompletedHeaders struct {
	StreamID  uint32
	Fields    []hpack.HeaderField
	Priority  PriorityParam
	EndStream bool

	// IsPushPromise and PromisedID are set when this block came from a
	// PUSH_PROMISE frame rather than HEADERS.
	IsPushPromise bool
	PromisedID    uint32
}

type openSequence struct {
	streamID      uint32
	frags         [][]byte
	priority      PriorityParam
	endStream     bool
	isPushPromise bool
	promisedID    uint32
}

// headerSequencer is component E. Only one HEADERS(+CONTINUATION) block can
// ever be in flight on a single connection at a time — the wire format
// serializes frames — so the sequencer tracks at most one open sequence and
// rejects any non-CONTINUATION frame, or a CONTINUATION for a different
// stream, while it is open (§3 HeadersSequence invariant, §8 property 4).
//
// It also keeps the last header list sent and received per stream so an
// embedder can query "what did I send" symmetrically with "what did I
// receive" (§4.E).
type headerSequencer struct {
	mu      sync.Mutex
	open    *openSequence
	decoder *hpack.Decoder

	sent map[uint32][]hpack.HeaderField
	recv map[uint32][]hpack.HeaderField
}

func newHeaderSequencer(maxDynamicTableSize uint32) *headerSequencer {
	return &headerSequencer{
		decoder: hpack.NewDecoder(maxDynamicTableSize, nil),
		sent:    make(map[uint32][]hpack.HeaderField),
		recv:    make(map[uint32][]hpack.HeaderField),
	}
}

func (hs *headerSequencer) SetMaxDynamicTableSize(n uint32) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.decoder.SetMaxDynamicTableSize(n)
}

// CheckFrameAllowed must be called by the dispatcher before handling any
// frame that is not itself a HEADERS or CONTINUATION frame. While a sequence
// is open it always fails: anything other than the terminal CONTINUATION is
// a protocol error per §3.
func (hs *headerSequencer) CheckFrameAllowed() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.open != nil {
		return ConnError{Code: ErrCodeProtocol, Reason: "frame received while header block open"}
	}
	return nil
}

// StartInbound opens a new sequence for an incoming HEADERS frame. It is a
// connection error if a sequence is already open (the peer interleaved
// frames where only CONTINUATION is legal).
func (hs *headerSequencer) StartInbound(streamID uint32, frag []byte, endHeaders, endStream bool, priority PriorityParam) (*CompletedHeaders, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.open != nil {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "HEADERS received while another sequence is open"}
	}
	seq := &openSequence{streamID: streamID, priority: priority, endStream: endStream}
	seq.frags = append(seq.frags, frag)
	if endHeaders {
		return hs.finishLocked(seq, true)
	}
	hs.open = seq
	return nil, nil
}

// ContinueInbound appends a CONTINUATION fragment to the currently open
// sequence. It is a connection error if no sequence is open, or if the
// fragment's stream id doesn't match the one that is open.
func (hs *headerSequencer) ContinueInbound(streamID uint32, frag []byte, endHeaders bool) (*CompletedHeaders, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.open == nil {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "CONTINUATION received with no open header sequence"}
	}
	if hs.open.streamID != streamID {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "CONTINUATION stream id does not match open sequence"}
	}
	hs.open.frags = append(hs.open.frags, frag)
	if endHeaders {
		return hs.finishLocked(hs.open, true)
	}
	return nil, nil
}

// StartInboundPushPromise opens a new sequence for an incoming PUSH_PROMISE
// frame. Like HEADERS, it forms an atomic block with any following
// CONTINUATION frames and shares the same single-open-sequence tracking:
// only one header block of either kind may be in flight at a time (§3).
func (hs *headerSequencer) StartInboundPushPromise(streamID, promisedID uint32, frag []byte, endHeaders bool) (*CompletedHeaders, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.open != nil {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "PUSH_PROMISE received while another sequence is open"}
	}
	seq := &openSequence{streamID: streamID, isPushPromise: true, promisedID: promisedID}
	seq.frags = append(seq.frags, frag)
	if endHeaders {
		return hs.finishLocked(seq, true)
	}
	hs.open = seq
	return nil, nil
}

func (hs *headerSequencer) finishLocked(seq *openSequence, clearOpen bool) (*CompletedHeaders, error) {
	var fields []hpack.HeaderField
	hs.decoder.SetEmitEnabled(true)
	hs.decoder.SetEmitFunc(func(hf hpack.HeaderField) { fields = append(fields, hf) })
	defer hs.decoder.SetEmitFunc(func(hpack.HeaderField) {})
	for _, frag := range seq.frags {
		if _, err := hs.decoder.Write(frag); err != nil {
			if clearOpen {
				hs.open = nil
			}
			return nil, ConnError{Code: ErrCodeCompression, Reason: "hpack decode failed"}
		}
	}
	if err := hs.decoder.Close(); err != nil {
		if clearOpen {
			hs.open = nil
		}
		return nil, ConnError{Code: ErrCodeCompression, Reason: "hpack decode failed"}
	}
	if clearOpen {
		hs.open = nil
	}
	hs.recv[seq.streamID] = fields
	return &CompletedHeaders{
		StreamID:      seq.streamID,
		Fields:        fields,
		Priority:      seq.priority,
		EndStream:     seq.endStream,
		IsPushPromise: seq.isPushPromise,
		PromisedID:    seq.promisedID,
	}, nil
}

// RecordOutbound is the "notified on outbound header frames" half of §4.E:
// after the session successfully writes a HEADERS(+CONTINUATION) block, it
// hands the sequencer the field list so Sent(id) gives a symmetric view.
func (hs *headerSequencer) RecordOutbound(streamID uint32, fields []hpack.HeaderField) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.sent[streamID] = fields
}

func (hs *headerSequencer) Sent(streamID uint32) []hpack.HeaderField {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.sent[streamID]
}

func (hs *headerSequencer) Received(streamID uint32) []hpack.HeaderField {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.recv[streamID]
}

func (hs *headerSequencer) forget(streamID uint32) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	delete(hs.sent, streamID)
	delete(hs.recv, streamID)
}
