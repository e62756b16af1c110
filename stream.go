package session

import (
	"sync"

	"golang.org/x/net/http2/hpack"
)

// StreamState is the per-stream lifecycle state from §3. Naming follows the
// idiom of a state-transition-method design: each event has a method that
// moves the stream to its next state or returns a StreamError if the
// transition is illegal, so illegal transitions are caught at the call site
// instead of silently producing a wrong state.
type StreamState uint8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamStateIdle:
		return "idle"
	case StreamStateReservedLocal:
		return "reserved(local)"
	case StreamStateReservedRemote:
		return "reserved(remote)"
	case StreamStateOpen:
		return "open"
	case StreamStateHalfClosedLocal:
		return "half-closed(local)"
	case StreamStateHalfClosedRemote:
		return "half-closed(remote)"
	case StreamStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxPriority bounds the per-stream priority integer (§6).
	DefaultMaxPriority = 255
	// DefaultStreamPriority is the default assigned to a stream that does
	// not specify one explicitly — the middle of the priority range.
	DefaultStreamPriority = DefaultMaxPriority / 2
)

// Stream is one logical request/response exchange within a session. It
// holds a weak, non-owning back-reference to the session's outgoing queue
// and flow-control manager (by pointer to the shared session, not by
// copying state) so it never needs to be told about writes or credit
// changes out of band — see §3 "Ownership".
type Stream struct {
	id       uint32
	sess     *Session
	priority uint32

	mu      sync.Mutex
	state   StreamState
	headers []hpack.HeaderField

	framesSent uint64
	framesRecv uint64
	wasRstSent bool

	onClose func() error
}

func (s *Stream) ID() uint32 { return s.id }

// SetCloseHandler registers a callback run once when the stream transitions
// to closed via session shutdown (§4.F "closes every registered stream").
// Typical use is releasing a body pipe the embedder attached to the stream.
func (s *Stream) SetCloseHandler(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

func (s *Stream) close() error {
	s.mu.Lock()
	s.state = StreamStateClosed
	cb := s.onClose
	s.mu.Unlock()
	if cb != nil {
		return cb()
	}
	return nil
}

func (s *Stream) Priority() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority
}

func (s *Stream) SetPriority(p uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = p
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) incFramesRecv() {
	s.mu.Lock()
	s.framesRecv++
	s.mu.Unlock()
}

func (s *Stream) incFramesSent() {
	s.mu.Lock()
	s.framesSent++
	s.mu.Unlock()
}

func (s *Stream) Counters() (sent, recv uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesSent, s.framesRecv
}

func (s *Stream) Headers() []hpack.HeaderField {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers
}

func (s *Stream) setHeaders(h []hpack.HeaderField) {
	s.mu.Lock()
	s.headers = h
	s.mu.Unlock()
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StreamStateClosed
}

// transitionSendHeaders / transitionRecvHeaders / transitionSendEndStream /
// transitionRecvEndStream implement the diagram in §3. Each returns a
// StreamError instead of panicking (STREAM_CLOSED for the receive-side
// transitions, INTERNAL_ERROR for the send-side ones), because
// unlike a from-scratch state machine this one is driven by untrusted wire
// input and must degrade to a protocol error, never a crash.
//
// transitionRecvHeaders is called for every inbound HEADERS block on the
// stream, not just the first: a client's response (and either role's
// trailers) arrive as a second HEADERS block while the stream is already
// open or half-closed(local), and RFC 7540 permits that — only a HEADERS
// block on a stream that has no business receiving one (half-closed-remote,
// closed, reserved-local) is a protocol violation.
func (s *Stream) transitionRecvHeaders() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamStateIdle:
		s.state = StreamStateOpen
		return nil
	case StreamStateReservedRemote:
		s.state = StreamStateHalfClosedLocal
		return nil
	case StreamStateOpen, StreamStateHalfClosedLocal:
		// Response headers or trailers; state does not change here —
		// transitionRecvEndStream handles the END_STREAM-driven move to
		// half-closed(remote)/closed.
		return nil
	default:
		return StreamError{StreamID: s.id, Code: ErrCodeStreamClosed, Reason: "HEADERS on stream in state " + s.state.String()}
	}
}

func (s *Stream) transitionSendHeaders() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamStateIdle:
		s.state = StreamStateOpen
		return nil
	case StreamStateReservedLocal:
		s.state = StreamStateHalfClosedRemote
		return nil
	default:
		return StreamError{StreamID: s.id, Code: ErrCodeInternal, Reason: "send HEADERS on stream in state " + s.state.String()}
	}
}

func (s *Stream) transitionRecvEndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamStateOpen:
		s.state = StreamStateHalfClosedRemote
		return nil
	case StreamStateHalfClosedLocal:
		s.state = StreamStateClosed
		return nil
	default:
		return StreamError{StreamID: s.id, Code: ErrCodeStreamClosed, Reason: "END_STREAM recv on stream in state " + s.state.String()}
	}
}

func (s *Stream) transitionSendEndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamStateOpen:
		s.state = StreamStateHalfClosedLocal
		return nil
	case StreamStateHalfClosedRemote:
		s.state = StreamStateClosed
		return nil
	default:
		return StreamError{StreamID: s.id, Code: ErrCodeInternal, Reason: "send END_STREAM on stream in state " + s.state.String()}
	}
}

func (s *Stream) transitionReserveRemote() {
	s.mu.Lock()
	s.state = StreamStateReservedRemote
	s.mu.Unlock()
}

func (s *Stream) transitionReserveLocal() {
	s.mu.Lock()
	s.state = StreamStateReservedLocal
	s.mu.Unlock()
}

func (s *Stream) transitionClose() {
	s.mu.Lock()
	s.state = StreamStateClosed
	s.mu.Unlock()
}

// markRstSent reports whether this call is the first to mark the stream as
// having sent RST_STREAM — callers use this to enforce "at most one
// RST_STREAM per stream" (§3 invariant, §8 property 3).
func (s *Stream) markRstSent() (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first = !s.wasRstSent
	s.wasRstSent = true
	s.state = StreamStateClosed
	return first
}

// registry is component D: the table of streams by identifier plus the
// id-allocation and concurrency-limit bookkeeping from §4.D. A sparse map
// keyed by id is used instead of the teacher's eager pre-allocation, per the
// §9 design note that this is an equivalent, cheaper realization of the same
// contract.
type registry struct {
	mu sync.Mutex

	streams map[uint32]*Stream
	// closed retains a tombstone for streams that have been fully closed
	// and removed from streams, so a frame arriving after close resolves
	// to a real (closed) Stream instead of a nil pointer — see SPEC_FULL
	// Open Question decision 4.
	closed map[uint32]*Stream

	isClient bool

	lastLocalID uint32 // last locally-used stream id
	lastPeerID  uint32 // last strictly-increasing peer-opened id seen

	localMaxConcurrent  uint32
	remoteMaxConcurrent uint32

	localOpenCount  uint32
	remoteOpenCount uint32
}

func newRegistry(isClient bool, localMax, remoteMax uint32) *registry {
	return &registry{
		streams:             make(map[uint32]*Stream),
		closed:              make(map[uint32]*Stream),
		isClient:            isClient,
		localMaxConcurrent:  localMax,
		remoteMaxConcurrent: remoteMax,
	}
}

func (r *registry) firstLocalID() uint32 {
	if r.isClient {
		return 1
	}
	return 2
}

// CreateOutbound allocates the next locally-used stream id (monotone +2),
// enforces the remote's concurrency limit, and registers the stream in the
// open state (§4.D create_outbound).
func (r *registry) CreateOutbound(sess *Session, priority uint32) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remoteOpenCount >= r.remoteMaxConcurrent {
		return nil, ErrTooManyConcurrentStreams
	}
	var id uint32
	if r.lastLocalID == 0 {
		id = r.firstLocalID()
	} else {
		id = r.lastLocalID + 2
	}
	r.lastLocalID = id
	s := &Stream{id: id, sess: sess, priority: priority, state: StreamStateIdle}
	r.streams[id] = s
	r.remoteOpenCount++
	return s, nil
}

// AllocateLocalPushID reserves the next locally-used id (monotone +2,
// starting from the role's first id) without registering a stream, so a
// caller can HPACK-encode the push's header block before committing the id
// to the registry via ReserveLocal.
func (r *registry) AllocateLocalPushID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var id uint32
	if r.lastLocalID == 0 {
		id = r.firstLocalID()
	} else {
		id = r.lastLocalID + 2
	}
	r.lastLocalID = id
	return id
}

// ReserveLocal registers a stream WE push-promised, in reserved(local)
// state. Used when this session is the server side of a push.
func (r *registry) ReserveLocal(sess *Session, id uint32, priority uint32) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Stream{id: id, sess: sess, priority: priority, state: StreamStateIdle}
	s.transitionReserveLocal()
	r.streams[id] = s
	if id > r.lastLocalID {
		r.lastLocalID = id
	}
	return s
}

// ReserveRemote registers a stream the PEER push-promised, in
// reserved(remote) state. Used when this session is the client side of a
// push (§4.F PUSH_PROMISE handling).
func (r *registry) ReserveRemote(sess *Session, id uint32, priority uint32) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Stream{id: id, sess: sess, priority: priority, state: StreamStateIdle}
	s.transitionReserveRemote()
	r.streams[id] = s
	if id > r.lastPeerID {
		r.lastPeerID = id
	}
	return s
}

// registerSynthetic inserts a stream that was materialised directly (the
// HTTP/1.1 upgrade hand-off's stream 1, §6) rather than created through the
// normal id-allocation path, and advances lastLocalID so the next
// CreateOutbound call skips past it.
func (r *registry) registerSynthetic(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.id] = s
	if s.id > r.lastLocalID {
		r.lastLocalID = s.id
	}
}

// CreateInbound validates and registers a peer-opened stream (§4.D
// create_inbound): the id's parity must match the peer's role and must be
// strictly greater than every previously seen peer-opened id.
func (r *registry) CreateInbound(sess *Session, id uint32, priority uint32) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wantOdd := !r.isClient // peer of a server is a client: odd ids
	if wantOdd && id%2 == 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "inbound stream id parity mismatch"}
	}
	if !wantOdd && id%2 != 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "inbound stream id parity mismatch"}
	}
	if id <= r.lastPeerID {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "inbound stream id not strictly increasing"}
	}
	if r.localOpenCount >= r.localMaxConcurrent {
		return nil, StreamError{StreamID: id, Code: ErrCodeRefusedStream, Reason: "local concurrency limit reached"}
	}
	r.lastPeerID = id
	s := &Stream{id: id, sess: sess, priority: priority, state: StreamStateIdle}
	r.streams[id] = s
	r.localOpenCount++
	return s, nil
}

// Get resolves id to an existing stream, or nil if it was never opened.
func (r *registry) Get(id uint32) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	return r.closed[id]
}

// GetOrTombstone resolves id to a stream, synthesising a closed tombstone
// record if none exists yet — this is what lets the dispatcher always have
// a non-nil *Stream to attach a sent RST_STREAM to (SPEC_FULL decision 4).
func (r *registry) GetOrTombstone(sess *Session, id uint32) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	if s, ok := r.closed[id]; ok {
		return s
	}
	s := &Stream{id: id, sess: sess, state: StreamStateClosed}
	r.closed[id] = s
	return s
}

// Close marks id closed and moves it from the live map to the tombstone map,
// decrementing the side's open-stream counter it belongs to (§4.D close).
func (r *registry) Close(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return
	}
	s.transitionClose()
	delete(r.streams, id)
	r.closed[id] = s
	// A stream is "opened by us" when its parity matches the side we are:
	// odd ids are client-initiated, even ids server-initiated.
	openedByUs := (r.isClient && id%2 == 1) || (!r.isClient && id%2 == 0)
	if openedByUs {
		if r.remoteOpenCount > 0 {
			r.remoteOpenCount--
		}
	} else {
		if r.localOpenCount > 0 {
			r.localOpenCount--
		}
	}
}

// OpenStreamIDs returns the ids of every stream still in the live map, i.e.
// not yet moved to the tombstone map by Close. A stream that reached the
// closed state through its own END_STREAM transitions is still included.
// The session passes the result to flowControl.ApplySettingsInitialWindowDelta
// (§4.C) and sweeps it on shutdown.
func (r *registry) OpenStreamIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint32, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	return ids
}

func (r *registry) LastPeerID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPeerID
}

func (r *registry) LastLocalID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocalID
}
