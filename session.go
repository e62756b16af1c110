package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gospider007/tools"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/http2/hpack"
)

// Session is component F: the dispatcher that owns one HTTP/2 connection and
// drives every other component (frame codec, flow control, stream registry,
// header sequencer, outgoing queue, promise map, event bus) the way the
// teacher's Http2ClientConn owns a Framer, an hpack.Encoder and an inflow/
// outflow pair. Unlike the teacher, a Session plays either role and
// multiplexes any number of concurrent streams.
type Session struct {
	role Role
	cfg  Config

	conn net.Conn
	bw   *bufio.Writer
	fr   *Framer

	henc *hpack.Encoder
	hbuf bytes.Buffer

	// wmu guards the HPACK encoder and the writes issued directly against fr
	// rather than through the outgoing queue: the initial SETTINGS in Start
	// and GOAWAY in WriteGoAway, which is flushed immediately, mirroring the
	// teacher's wmu-guarded immediate writes in client.go. Settings acks,
	// ping acks and RST_STREAM go through the queue.
	wmu sync.Mutex

	streams   *registry
	flow      *flowControl
	headerSeq *headerSequencer
	promises  *promiseMap
	events    *eventBus
	outq      *outQueue

	ctx context.Context
	cnl context.CancelCauseFunc

	// secure mirrors §3's Session "secure flag": on a secure connection the
	// first frame received from the peer MUST be SETTINGS (§4.F, §8
	// property 7); on the unsecure h2c-upgrade path a HEADERS block may
	// legitimately precede it, so the check below only applies when secure.
	secure bool

	settingsMu           sync.Mutex
	settingsAckCh        chan struct{}
	localSettingsPending bool
	peerSettingsReceived bool
	// responseReceived mirrors §3's Session "response-received" flag: set
	// the first time a HEADERS block completes on a stream that already
	// existed (the response or trailers), as opposed to one that creates a
	// new inbound stream (a request). Only ever touched from the read pump.
	responseReceived bool

	pingMu      sync.Mutex
	pingWaiters map[[8]byte]chan struct{}

	goAwayMu        sync.Mutex
	localGoAwaySent bool
	peerGoAway      *GoAwayFrame

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	// Debug gates per-frame debug logging the way the teacher's codebase
	// leaves ad hoc fmt.Printf calls in client.go; here it is an explicit
	// opt-in flag instead of stray prints.
	Debug bool
}

// NewSession wraps an already-dialed (or accepted) connection. secure marks
// whether this connection runs HTTP/2 directly (e.g. over TLS/ALPN or a
// prior-knowledge h2 connection) as opposed to having arrived via the h2c
// upgrade hand-off — it gates the §8 property 7 check that a non-SETTINGS
// frame received before the peer's SETTINGS is a PROTOCOL_ERROR. Call Start
// to perform the preface/SETTINGS handshake and begin pumping frames.
func NewSession(conn net.Conn, role Role, cfg Config, secure bool) *Session {
	sess := &Session{
		role:        role,
		cfg:         cfg,
		conn:        conn,
		secure:      secure,
		streams:     newRegistry(role == RoleClient, cfg.LocalMaxConcurrentStreams, cfg.RemoteMaxConcurrentStreams),
		flow:        newFlowControl(cfg.InitialWindowSize),
		headerSeq:   newHeaderSequencer(cfg.HeaderTableSize),
		promises:    newPromiseMap(),
		events:      newEventBus(),
		outq:        newOutQueue(),
		pingWaiters: make(map[[8]byte]chan struct{}),
	}
	sess.ctx, sess.cnl = context.WithCancelCause(context.Background())
	sess.bw = bufio.NewWriter(conn)
	sess.fr = NewFramer(sess.bw, bufio.NewReader(conn))
	sess.fr.MaxReadFrameSize = cfg.MaxFrameSize
	sess.henc = hpack.NewEncoder(&sess.hbuf)
	sess.henc.SetMaxDynamicTableSizeLimit(cfg.HeaderTableSize)
	return sess
}

func (s *Session) debugf(format string, args ...any) {
	if s.Debug {
		log.Printf("session: "+format, args...)
	}
}

// Start performs the §6 preface/SETTINGS handshake for this session's role
// and then spawns the read and write pumps. It returns once the local half
// of the handshake has been written; it does not block for the peer's
// SETTINGS ACK (callers that need that guarantee use AwaitSettingsAck).
func (s *Session) Start() error {
	if s.role == RoleClient {
		if _, err := s.bw.WriteString(ClientPreface); err != nil {
			return tools.WrapError(err, "write client preface")
		}
	} else {
		if err := s.readAndVerifyPreface(); err != nil {
			return tools.WrapError(err, "read client preface")
		}
	}
	s.wmu.Lock()
	if err := s.fr.WriteSettings(s.cfg.InitialSettings()...); err != nil {
		s.wmu.Unlock()
		return tools.WrapError(err, "write initial settings")
	}
	if s.cfg.InitialConnectionWindowSize > s.cfg.InitialWindowSize {
		incr := s.cfg.InitialConnectionWindowSize - s.cfg.InitialWindowSize
		if err := s.fr.WriteWindowUpdate(0, incr); err != nil {
			s.wmu.Unlock()
			return tools.WrapError(err, "write initial connection window update")
		}
		s.flow.CreditConnRecv(incr)
	}
	err := s.bw.Flush()
	s.wmu.Unlock()
	if err != nil {
		return tools.WrapError(err, "flush initial settings")
	}
	s.settingsMu.Lock()
	s.settingsAckCh = make(chan struct{})
	s.localSettingsPending = true
	s.settingsMu.Unlock()

	s.wg.Add(2)
	go s.readPump()
	go s.writePump()
	return nil
}

// readAndVerifyPreface is the server-side half of §6: the exact client
// preface octets must precede the first SETTINGS frame. Comparison is
// byte-exact (SPEC_FULL Open Question decision 1).
func (s *Session) readAndVerifyPreface() error {
	buf := make([]byte, len(ClientPreface))
	if _, err := io.ReadFull(s.fr_reader(), buf); err != nil {
		return err
	}
	if string(buf) != ClientPreface {
		return ConnError{Code: ErrCodeProtocol, Reason: "invalid connection preface"}
	}
	return nil
}

// fr_reader exposes the buffered reader the Framer was built from so the
// preface bytes can be consumed ahead of the first ReadFrame call without
// constructing a second bufio.Reader over the same connection.
func (s *Session) fr_reader() io.Reader { return s.fr.r }

// AwaitSettingsAck blocks until the peer acknowledges this session's initial
// SETTINGS frame, or ctx/the configured timeout elapses (§4.F, §8 property 7).
// A timeout triggers GOAWAY(SETTINGS_TIMEOUT) and disposes the session, per
// §5's write_settings contract.
func (s *Session) AwaitSettingsAck(ctx context.Context) error {
	s.settingsMu.Lock()
	ch := s.settingsAckCh
	s.settingsMu.Unlock()
	timeout := time.Duration(s.cfg.SettingsAckTimeoutSeconds) * time.Second
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		ce := ConnError{Code: ErrCodeSettingsTimeout, Reason: "peer did not ack SETTINGS in time"}
		s.sendGoAwayAndClose(ce)
		return ce
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	}
}

// WriteSettings announces new local SETTINGS values and blocks the caller
// until the peer ACKs them or the ack timeout elapses (§5, §6
// write_settings(pairs, isAck)). A timeout triggers GOAWAY(SETTINGS_TIMEOUT)
// and disposes the session, matching AwaitSettingsAck's initial-handshake
// behavior.
func (s *Session) WriteSettings(pairs []Setting) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionDisposed
	default:
	}
	ackCh := make(chan struct{})
	s.settingsMu.Lock()
	s.settingsAckCh = ackCh
	s.localSettingsPending = true
	s.settingsMu.Unlock()
	s.outq.EnqueueControl(0, func(fr *Framer) error { return fr.WriteSettings(pairs...) })

	timeout := time.Duration(s.cfg.SettingsAckTimeoutSeconds) * time.Second
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ackCh:
		return nil
	case <-t.C:
		ce := ConnError{Code: ErrCodeSettingsTimeout, Reason: "peer did not ack SETTINGS in time"}
		s.sendGoAwayAndClose(ce)
		return ce
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	}
}

// Subscribe / Unsubscribe delegate to the event bus (§4.G).
func (s *Session) Subscribe(h EventHandler) int { return s.events.Subscribe(h) }
func (s *Session) Unsubscribe(token int)        { s.events.Unsubscribe(token) }

// ResponseReceived reports whether this session has seen at least one
// HEADERS block complete on a stream it already knew about (§3
// "response-received" flag).
func (s *Session) ResponseReceived() bool { return s.responseReceived }

// readPump is the sole reader of the transport. Writes it needs to make in
// response to a frame (SETTINGS ack, PING ack, RST_STREAM) go through the
// outgoing queue; the one exception is the GOAWAY for a connection error,
// which sendGoAwayAndClose writes directly via WriteGoAway.
func (s *Session) readPump() {
	defer s.wg.Done()
	defer func() { s.doClose(context.Cause(s.ctx)) }()
	for {
		f, err := s.fr.ReadFrame()
		if err != nil {
			s.cnl(tools.WrapError(err, "ReadFrame"))
			return
		}
		if err := s.handleFrame(f); err != nil {
			var ce ConnError
			if errors.As(err, &ce) {
				s.sendGoAwayAndClose(ce)
				return
			}
			var se StreamError
			if errors.As(err, &se) {
				s.rstStream(se.StreamID, se.Code)
				continue
			}
			s.cnl(err)
			return
		}
	}
}

// writePump writes every queued frame to the transport (GOAWAY, written by
// WriteGoAway, is the only frame that bypasses it): it drains the outgoing
// queue, gated by flow control for DATA items, and flushes after every item
// it is able to obtain without blocking indefinitely (§4.B, §5).
func (s *Session) writePump() {
	defer s.wg.Done()
	// If this pump exits on a write error with items still queued, a
	// concurrent Flush() must not hang forever waiting for a consumer that
	// is gone — Dispose wakes it (Flush additionally checks q.closed).
	defer s.outq.Dispose()
	for {
		action, ok := s.outq.Next(s.flow)
		if !ok {
			select {
			case <-s.outq.signal:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		if err := action.write(s.fr); err != nil {
			s.cnl(tools.WrapError(err, "write pump"))
			return
		}
		if err := s.bw.Flush(); err != nil {
			s.cnl(tools.WrapError(err, "write pump flush"))
			return
		}
		if st := s.streams.Get(action.streamID); st != nil {
			st.incFramesSent()
		}
	}
}

func (s *Session) handleFrame(f any) error {
	if s.secure && !s.peerSettingsReceived {
		if _, ok := f.(*SettingsFrame); !ok {
			return ConnError{Code: ErrCodeProtocol, Reason: "frame received before peer SETTINGS on a secure connection"}
		}
	}
	switch fr := f.(type) {
	case *SettingsFrame:
		return s.handleSettings(fr)
	case *HeadersFrame:
		return s.handleHeaders(fr)
	case *ContinuationFrame:
		return s.handleContinuation(fr)
	case *DataFrame:
		return s.handleData(fr)
	case *PriorityFrame:
		return s.handlePriority(fr)
	case *RSTStreamFrame:
		return s.handleRSTStream(fr)
	case *PingFrame:
		return s.handlePing(fr)
	case *WindowUpdateFrame:
		return s.handleWindowUpdate(fr)
	case *PushPromiseFrame:
		return s.handlePushPromise(fr)
	case *GoAwayFrame:
		return s.handleGoAway(fr)
	case *UnknownFrame:
		return s.CheckFrameAllowedDuringHeaders()
	default:
		return ConnError{Code: ErrCodeInternal, Reason: fmt.Sprintf("unhandled frame type %T", fr)}
	}
}

func (s *Session) handleSettings(f *SettingsFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	// Any received SETTINGS, ACK or not, satisfies the peer-settings
	// precondition (SPEC_FULL Open Question decision 3) and disarms the §8
	// property 7 check in handleFrame.
	s.peerSettingsReceived = true
	if f.IsAck() {
		s.settingsMu.Lock()
		if s.localSettingsPending {
			s.localSettingsPending = false
			ch := s.settingsAckCh
			s.settingsMu.Unlock()
			close(ch)
		} else {
			s.settingsMu.Unlock()
		}
		return nil
	}
	var initialWindowDelta int32
	var applied []Setting
	err := f.ForeachSetting(func(set Setting) error {
		applied = append(applied, set)
		switch set.ID {
		case SettingInitialWindowSize:
			initialWindowDelta = s.flow.SetInitialWindowDelta(set.Val)
		case SettingHeaderTableSize:
			s.wmu.Lock()
			s.henc.SetMaxDynamicTableSize(set.Val)
			s.wmu.Unlock()
			s.headerSeq.SetMaxDynamicTableSize(set.Val)
		case SettingMaxFrameSize:
			s.fr.MaxReadFrameSize = set.Val
		default:
		}
		return nil
	})
	if err != nil {
		return err
	}
	if initialWindowDelta != 0 {
		if err := s.flow.ApplySettingsInitialWindowDelta(initialWindowDelta, s.streams.OpenStreamIDs()); err != nil {
			return err
		}
	}
	s.outq.EnqueueControl(0, func(fr *Framer) error { return fr.WriteSettingsAck() })
	s.events.emit(Event{Kind: EventSettingsSent, Settings: applied})
	return nil
}

// CheckFrameAllowedDuringHeaders rejects any frame other than the terminal
// CONTINUATION while a HEADERS/PUSH_PROMISE block is open (§3, §8 property 4).
func (s *Session) CheckFrameAllowedDuringHeaders() error {
	return s.headerSeq.CheckFrameAllowed()
}

func (s *Session) handleHeaders(f *HeadersFrame) error {
	ch, err := s.headerSeq.StartInbound(f.StreamID, f.HeaderBlockFragment(), f.HeadersEnded(), f.StreamEnded(), f.Priority)
	if err != nil {
		return err
	}
	if ch != nil {
		return s.onHeaderBlockComplete(ch)
	}
	return nil
}

func (s *Session) handleContinuation(f *ContinuationFrame) error {
	ch, err := s.headerSeq.ContinueInbound(f.StreamID, f.HeaderBlockFragment(), f.HeadersEnded())
	if err != nil {
		return err
	}
	if ch != nil {
		return s.onHeaderBlockComplete(ch)
	}
	return nil
}

func (s *Session) onHeaderBlockComplete(ch *CompletedHeaders) error {
	if ch.IsPushPromise {
		return s.onPushPromiseComplete(ch)
	}
	st := s.streams.Get(ch.StreamID)
	if st == nil {
		created, err := s.streams.CreateInbound(s, ch.StreamID, s.cfg.DefaultStreamPriority)
		if err != nil {
			var se StreamError
			if errors.As(err, &se) {
				return se
			}
			return err
		}
		st = created
		s.flow.addStream(st.id)
	} else {
		// A HEADERS block on a stream we already knew about is the
		// response (client role) or trailers (either role), not the
		// initial request — §3's Session "response-received" flag.
		s.responseReceived = true
	}
	if err := st.transitionRecvHeaders(); err != nil {
		return err
	}
	st.incFramesRecv()
	st.setHeaders(ch.Fields)
	if ch.EndStream {
		if err := st.transitionRecvEndStream(); err != nil {
			return err
		}
	}
	s.events.emit(Event{Kind: EventFrameReceived, Stream: st, Frame: ch})
	return nil
}

func (s *Session) onPushPromiseComplete(ch *CompletedHeaders) error {
	if !s.cfg.PushEnabled {
		return ConnError{Code: ErrCodeProtocol, Reason: "PUSH_PROMISE received with push disabled"}
	}
	parent := s.streams.Get(ch.StreamID)
	if parent == nil {
		return ConnError{Code: ErrCodeProtocol, Reason: "PUSH_PROMISE references unknown parent stream"}
	}
	st := s.streams.ReserveRemote(s, ch.PromisedID, s.cfg.DefaultStreamPriority)
	s.flow.addStream(st.id)
	st.setHeaders(ch.Fields)
	if path := pseudoValue(ch.Fields, ":path"); path != "" {
		s.promises.Insert(ch.PromisedID, path)
	}
	s.events.emit(Event{Kind: EventFrameReceived, Stream: st, Frame: ch})
	return nil
}

func (s *Session) handleData(f *DataFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	st := s.streams.GetOrTombstone(s, f.StreamID)
	if st.isClosed() {
		return StreamError{StreamID: f.StreamID, Code: ErrCodeStreamClosed, Reason: "DATA on closed stream"}
	}
	n := int32(len(f.Data()))
	s.flow.TakeRecv(f.StreamID, n)
	st.incFramesRecv()
	if f.StreamEnded() {
		if err := st.transitionRecvEndStream(); err != nil {
			return err
		}
		// §4.F DATA: END_STREAM removes any promised-resource entry for
		// this id — the promise is fulfilled, so its :path is open to be
		// requested again were it ever re-pushed (§3 promised-resource map).
		s.promises.Remove(f.StreamID)
	}
	s.events.emit(Event{Kind: EventFrameReceived, Stream: st, Frame: f})
	return nil
}

func (s *Session) handlePriority(f *PriorityFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	st := s.streams.Get(f.StreamID)
	if st == nil {
		return nil
	}
	st.SetPriority(uint32(f.Weight))
	s.events.emit(Event{Kind: EventFrameReceived, Stream: st, Frame: f})
	return nil
}

func (s *Session) handleRSTStream(f *RSTStreamFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	st := s.streams.GetOrTombstone(s, f.StreamID)
	st.transitionClose()
	s.streams.Close(f.StreamID)
	s.flow.removeStream(f.StreamID)
	s.headerSeq.forget(f.StreamID)
	s.promises.Remove(f.StreamID)
	s.events.emit(Event{Kind: EventFrameReceived, Stream: st, Frame: f})
	return nil
}

func (s *Session) handlePing(f *PingFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	if f.IsAck() {
		s.pingMu.Lock()
		if ch, ok := s.pingWaiters[f.Data]; ok {
			close(ch)
			delete(s.pingWaiters, f.Data)
		}
		s.pingMu.Unlock()
		return nil
	}
	data := f.Data
	s.outq.EnqueueControl(0, func(fr *Framer) error { return fr.WritePing(true, data) })
	return nil
}

func (s *Session) handleWindowUpdate(f *WindowUpdateFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	if err := s.flow.ApplyWindowUpdate(f.StreamID, f.Increment); err != nil {
		return err
	}
	s.outq.wake()
	return nil
}

func (s *Session) handlePushPromise(f *PushPromiseFrame) error {
	ch, err := s.headerSeq.StartInboundPushPromise(f.StreamID, f.PromiseID, f.HeaderBlockFragment(), f.HeadersEnded())
	if err != nil {
		return err
	}
	if ch != nil {
		return s.onHeaderBlockComplete(ch)
	}
	return nil
}

func (s *Session) handleGoAway(f *GoAwayFrame) error {
	if err := s.CheckFrameAllowedDuringHeaders(); err != nil {
		return err
	}
	s.goAwayMu.Lock()
	s.peerGoAway = f
	s.goAwayMu.Unlock()
	s.events.emit(Event{Kind: EventFrameReceived, Frame: f})
	if f.ErrCode != ErrCodeNo {
		s.cnl(ConnError{Code: f.ErrCode, Reason: "peer sent GOAWAY"})
	} else {
		s.cnl(nil)
	}
	return nil
}

// sendGoAwayAndClose sends the connection-error GOAWAY for ce and disposes
// the session. It calls doClose directly, rather than only cancelling ctx,
// so a caller outside the read pump (WriteSettings/AwaitSettingsAck/Ping
// timing out) actually tears the session down instead of waiting on the read
// pump to notice cancellation on its next blocking read.
func (s *Session) sendGoAwayAndClose(ce ConnError) {
	_ = s.WriteGoAway(ce.Code, []byte(ce.Reason))
	s.doClose(ce)
}

// rstStream sends RST_STREAM(code) for id at most once (§3 invariant, §8
// property 3), enqueued through the outgoing queue like any other frame.
func (s *Session) rstStream(id uint32, code ErrCode) {
	st := s.streams.GetOrTombstone(s, id)
	if !st.markRstSent() {
		return
	}
	s.streams.Close(id)
	s.flow.removeStream(id)
	s.headerSeq.forget(id)
	s.promises.Remove(id)
	s.outq.EnqueueControl(id, func(fr *Framer) error { return fr.WriteRSTStream(id, code) })
}

// WriteGoAway sends a connection-level GOAWAY, flushed immediately rather
// than queued, since it is almost always the last frame this session sends
// (§4.F shutdown).
func (s *Session) WriteGoAway(code ErrCode, debugData []byte) error {
	s.goAwayMu.Lock()
	if s.localGoAwaySent {
		s.goAwayMu.Unlock()
		return nil
	}
	s.localGoAwaySent = true
	s.goAwayMu.Unlock()
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.fr.WriteGoAway(s.streams.LastPeerID(), code, debugData); err != nil {
		return tools.WrapError(err, "WriteGoAway")
	}
	return s.bw.Flush()
}

// Ping sends a PING and blocks until the corresponding ACK arrives or the
// configured timeout elapses (§4.F, §8 property... PING round trip).
func (s *Session) Ping(data [8]byte) error {
	ch := make(chan struct{})
	s.pingMu.Lock()
	s.pingWaiters[data] = ch
	s.pingMu.Unlock()
	s.outq.EnqueueControl(0, func(fr *Framer) error { return fr.WritePing(false, data) })
	timeout := time.Duration(s.cfg.PingAckTimeoutSeconds) * time.Second
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		s.pingMu.Lock()
		delete(s.pingWaiters, data)
		s.pingMu.Unlock()
		ce := ConnError{Code: ErrCodeInternal, Reason: "ping ack timeout"}
		s.sendGoAwayAndClose(ce)
		return ce
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	}
}

// WriteConnectionWindowUpdate credits the local receive window and announces
// the credit to the peer (§4.C).
func (s *Session) WriteConnectionWindowUpdate(n uint32) error {
	s.flow.CreditConnRecv(n)
	s.outq.EnqueueControl(0, func(fr *Framer) error { return fr.WriteWindowUpdate(0, n) })
	return nil
}

// WriteStreamWindowUpdate credits a single stream's receive window.
func (s *Session) WriteStreamWindowUpdate(id uint32, n uint32) error {
	s.flow.CreditStreamRecv(id, n)
	s.outq.EnqueueControl(id, func(fr *Framer) error { return fr.WriteWindowUpdate(id, n) })
	return nil
}

// SendRequest opens a new locally-initiated stream and writes its header
// block, rejecting :path values that collide with an outstanding server
// push promise (§4.F SendRequest, §8 scenario 6).
func (s *Session) SendRequest(fields []HeaderField, endStream bool) (*Stream, error) {
	select {
	case <-s.ctx.Done():
		return nil, ErrSessionDisposed
	default:
	}
	if path := pseudoValue(fields, ":path"); path != "" {
		if _, ok := s.promises.Lookup(path); ok {
			return nil, ErrResourcePromised{Path: path}
		}
	}
	st, err := s.streams.CreateOutbound(s, s.cfg.DefaultStreamPriority)
	if err != nil {
		return nil, err
	}
	s.flow.addStream(st.id)
	if err := st.transitionSendHeaders(); err != nil {
		return nil, err
	}
	if err := s.encodeAndEnqueueHeaders(st.id, fields, endStream, PriorityParam{}); err != nil {
		return nil, err
	}
	if endStream {
		if err := st.transitionSendEndStream(); err != nil {
			return nil, err
		}
	}
	s.headerSeq.RecordOutbound(st.id, fields)
	s.events.emit(Event{Kind: EventRequestSent, Stream: st})
	return st, nil
}

// PushResource reserves a server-initiated stream and announces it via
// PUSH_PROMISE on parent, then registers the path in the promise map so a
// later SendRequest for the same path is rejected (§4.F PUSH_PROMISE).
func (s *Session) PushResource(parent *Stream, fields []HeaderField) (*Stream, error) {
	if s.role != RoleServer {
		return nil, ErrInvalidArgument{Reason: "only a server session can push"}
	}
	if !s.cfg.PushEnabled {
		return nil, ErrInvalidArgument{Reason: "push disabled in session config"}
	}
	id := s.streams.AllocateLocalPushID()
	st := s.streams.ReserveLocal(s, id, s.cfg.DefaultStreamPriority)
	s.flow.addStream(st.id)

	s.wmu.Lock()
	block, err := s.encodeHeaderBlockLocked(fields)
	if err != nil {
		s.wmu.Unlock()
		return nil, err
	}
	s.outq.EnqueueControl(parent.id, func(fr *Framer) error {
		return s.writePushPromiseBlock(fr, parent.id, id, block)
	})
	s.wmu.Unlock()

	if path := pseudoValue(fields, ":path"); path != "" {
		s.promises.Insert(id, path)
	}
	return st, nil
}

// encodeHeaderBlockLocked HPACK-encodes fields. Callers must hold wmu. The
// dynamic table is shared by the whole connection, so the bytes this
// produces are only valid on the wire if enqueued in the exact order they
// were encoded — see encodeAndEnqueueHeaders, which holds wmu across both
// the encode and the enqueue for that reason.
func (s *Session) encodeHeaderBlockLocked(fields []HeaderField) ([]byte, error) {
	s.hbuf.Reset()
	for _, hf := range fields {
		if err := s.henc.WriteField(hf); err != nil {
			return nil, tools.WrapError(err, "hpack encode")
		}
	}
	out := make([]byte, s.hbuf.Len())
	copy(out, s.hbuf.Bytes())
	return out, nil
}

// encodeAndEnqueueHeaders builds the entire HEADERS(+CONTINUATION) block and
// enqueues it as a single control item that writes every chunk in one pass —
// keeping a multi-frame header block atomic on the wire even though the
// outgoing queue only hands the write pump one item at a time (§5 ordering
// requirement, §8 property 4). Encoding and enqueueing happen under the same
// wmu hold so concurrent callers can never enqueue their header blocks in an
// order different from the one their bytes were HPACK-encoded in, which
// would desync the peer's decoder dynamic table from ours.
func (s *Session) encodeAndEnqueueHeaders(streamID uint32, fields []HeaderField, endStream bool, priority PriorityParam) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	block, err := s.encodeHeaderBlockLocked(fields)
	if err != nil {
		return err
	}
	maxFrame := int(s.cfg.MaxFrameSize)
	s.outq.EnqueueControl(streamID, func(fr *Framer) error {
		return s.writeHeaderBlock(fr, streamID, endStream, priority, maxFrame, block)
	})
	return nil
}

func (s *Session) writeHeaderBlock(fr *Framer, streamID uint32, endStream bool, priority PriorityParam, maxFrame int, block []byte) error {
	first := true
	for {
		chunk := block
		if len(chunk) > maxFrame {
			chunk = chunk[:maxFrame]
		}
		block = block[len(chunk):]
		endHeaders := len(block) == 0
		if first {
			if err := fr.WriteHeaders(HeadersFrameParam{
				StreamID:      streamID,
				BlockFragment: chunk,
				EndStream:     endStream,
				EndHeaders:    endHeaders,
				Priority:      priority,
			}); err != nil {
				return err
			}
			first = false
		} else if err := fr.WriteContinuation(streamID, endHeaders, chunk); err != nil {
			return err
		}
		if endHeaders {
			return nil
		}
	}
}

func (s *Session) writePushPromiseBlock(fr *Framer, parentID, promisedID uint32, block []byte) error {
	maxFrame := int(s.cfg.MaxFrameSize)
	first := true
	for {
		chunk := block
		if len(chunk) > maxFrame {
			chunk = chunk[:maxFrame]
		}
		block = block[len(chunk):]
		endHeaders := len(block) == 0
		if first {
			if err := fr.WritePushPromise(PushPromiseParam{
				StreamID:      parentID,
				PromiseID:     promisedID,
				BlockFragment: chunk,
				EndHeaders:    endHeaders,
			}); err != nil {
				return err
			}
			first = false
		} else if err := fr.WriteContinuation(parentID, endHeaders, chunk); err != nil {
			return err
		}
		if endHeaders {
			return nil
		}
	}
}

// WriteData enqueues a DATA payload for id, gated by flow control at send
// time (§4.B, §8 scenario 5).
func (s *Session) WriteData(id uint32, data []byte, endStream bool) error {
	st := s.streams.Get(id)
	if st == nil {
		return ErrInvalidArgument{Reason: "unknown stream"}
	}
	s.outq.EnqueueData(id, data, endStream)
	if endStream {
		return st.transitionSendEndStream()
	}
	return nil
}

// AdoptUpgradeStream synthesises stream 1 for the HTTP/1.1 Upgrade: h2c
// hand-off (§6): the request that carried the Upgrade header becomes stream
// 1, already half-closed(local) since its HEADERS were never actually sent
// as HTTP/2 frames.
func (s *Session) AdoptUpgradeStream(fields []HeaderField) *Stream {
	st := &Stream{id: 1, sess: s, priority: s.cfg.DefaultStreamPriority, state: StreamStateHalfClosedLocal}
	st.setHeaders(fields)
	s.streams.registerSynthetic(st)
	s.flow.addStream(1)
	return st
}

// Close tears the session down: it sends a final GOAWAY, closes every
// registered stream (invoking each one's close handler), disposes the
// outgoing queue and event bus, and closes the transport. Safe to call more
// than once; only the first call does any work (§4.F shutdown, §8 property 8).
func (s *Session) Close() error {
	s.doClose(ErrSessionDisposed)
	return s.closeErr
}

func (s *Session) doClose(cause error) {
	s.closeOnce.Do(func() {
		_ = s.WriteGoAway(ErrCodeNo, nil)
		s.outq.Flush()
		var result *multierror.Error
		for _, id := range s.streams.OpenStreamIDs() {
			if st := s.streams.Get(id); st != nil {
				if err := st.close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
			s.promises.Remove(id)
		}
		s.outq.Dispose()
		s.events.disposeOnce()
		s.cnl(cause)
		if err := s.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if result != nil {
			s.closeErr = result.ErrorOrNil()
		}
	})
}

// Wait blocks until both pumps have exited, i.e. until the session is fully
// torn down following Close or a fatal read/write error.
func (s *Session) Wait() {
	s.wg.Wait()
}
