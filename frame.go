package session

// Frame codec: decodes a typed HTTP/2 frame from a byte stream and encodes a
// typed frame back to bytes. Draft-14 framing as reflected in the RFC 7540
// wire format: a 9-octet header {length:24, type:8, flags:8, R:1,
// stream-id:31} followed by exactly length octets of payload.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/http2/hpack"
)

const frameHeaderLen = 9

// DefaultMaxFrameSize is the default for Config.MaxFrameSize, which the
// session copies into Framer.MaxReadFrameSize. A Framer built by NewFramer
// alone enforces no payload ceiling.
const DefaultMaxFrameSize = 16384

var padZeros = make([]byte, 255)

type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_%d", uint8(t))
	}
}

type Flags uint8

func (f Flags) Has(v Flags) bool { return (f & v) == v }

const (
	FlagDataEndStream Flags = 0x1
	FlagDataPadded    Flags = 0x8

	FlagHeadersEndStream  Flags = 0x1
	FlagHeadersEndHeaders Flags = 0x4
	FlagHeadersPadded     Flags = 0x8
	FlagHeadersPriority   Flags = 0x20

	FlagSettingsAck Flags = 0x1

	FlagPingAck Flags = 0x1

	FlagContinuationEndHeaders Flags = 0x4

	FlagPushPromiseEndHeaders Flags = 0x4
	FlagPushPromisePadded     Flags = 0x8
)

type FrameHeader struct {
	Type     FrameType
	Flags    Flags
	Length   uint32
	StreamID uint32
}

func readFrameHeader(buf []byte, r io.Reader) (FrameHeader, error) {
	if _, err := io.ReadFull(r, buf[:frameHeaderLen]); err != nil {
		return FrameHeader{}, err
	}
	return FrameHeader{
		Length:   uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]),
		Type:     FrameType(buf[3]),
		Flags:    Flags(buf[4]),
		StreamID: binary.BigEndian.Uint32(buf[5:]) & (1<<31 - 1),
	}, nil
}

// frameCache holds a reusable DataFrame so the hot DATA-frame path on a busy
// connection does not allocate per frame.
type frameCache struct {
	dataFrame DataFrame
}

func (fc *frameCache) getDataFrame() *DataFrame {
	if fc == nil {
		return &DataFrame{}
	}
	return &fc.dataFrame
}

type frameParser func(fc *frameCache, fh FrameHeader, payload []byte) (any, error)

var frameParsers = map[FrameType]frameParser{
	FrameData:         parseDataFrame,
	FrameHeaders:      parseHeadersFrame,
	FramePriority:     parsePriorityFrame,
	FrameRSTStream:    parseRSTStreamFrame,
	FrameSettings:     parseSettingsFrame,
	FramePushPromise:  parsePushPromiseFrame,
	FramePing:         parsePingFrame,
	FrameGoAway:       parseGoAwayFrame,
	FrameWindowUpdate: parseWindowUpdateFrame,
	FrameContinuation: parseContinuationFrame,
}

func typeFrameParser(t FrameType) frameParser {
	if f := frameParsers[t]; f != nil {
		return f
	}
	return parseUnknownFrame
}

// Framer reads and writes frames on one connection. Reading and writing are
// independent: the session dispatcher drives reads from the read pump and
// writes from the write pump (see session.go), never the same Framer call
// from two goroutines at once.
type Framer struct {
	r          io.Reader
	w          io.Writer
	getReadBuf func(size uint32) []byte
	frameCache *frameCache

	// MetaHeaders, when set, makes ReadFrame assemble HEADERS+CONTINUATION
	// sequences into a single *MetaHeadersFrame using this HPACK decoder.
	// The header sequencer (headers.go) is the other place this assembly
	// can happen when the caller wants to observe fragments individually;
	// the frame pump in session.go leaves MetaHeaders nil and uses the
	// sequencer.
	MetaHeaders *hpack.Decoder

	readBuf   []byte
	wbuf      []byte
	headerBuf [frameHeaderLen]byte

	// MaxReadFrameSize, when non-zero, rejects any incoming frame whose
	// payload length exceeds it with a FRAME_SIZE_ERROR connection error,
	// mirroring the §4.F size-limit enforcement point.
	MaxReadFrameSize uint32
}

func NewFramer(w io.Writer, r io.Reader) *Framer {
	fr := &Framer{w: w, r: r}
	fr.getReadBuf = func(size uint32) []byte {
		if cap(fr.readBuf) >= int(size) {
			return fr.readBuf[:size]
		}
		fr.readBuf = make([]byte, size)
		return fr.readBuf
	}
	return fr
}

func (fr *Framer) startWrite(ftype FrameType, flags Flags, streamID uint32) {
	fr.wbuf = append(fr.wbuf[:0],
		0, 0, 0,
		byte(ftype),
		byte(flags),
		byte(streamID>>24),
		byte(streamID>>16),
		byte(streamID>>8),
		byte(streamID),
	)
}

func (fr *Framer) endWrite() error {
	length := len(fr.wbuf) - frameHeaderLen
	if length >= 1<<24 {
		return errors.New("session: frame too large")
	}
	fr.wbuf[0] = byte(length >> 16)
	fr.wbuf[1] = byte(length >> 8)
	fr.wbuf[2] = byte(length)
	n, err := fr.w.Write(fr.wbuf)
	if err == nil && n != len(fr.wbuf) {
		err = io.ErrShortWrite
	}
	return err
}

func (fr *Framer) writeByte(v byte)      { fr.wbuf = append(fr.wbuf, v) }
func (fr *Framer) writeBytes(v []byte)   { fr.wbuf = append(fr.wbuf, v...) }
func (fr *Framer) writeUint16(v uint16)  { fr.wbuf = append(fr.wbuf, byte(v>>8), byte(v)) }
func (fr *Framer) writeUint32(v uint32) {
	fr.wbuf = append(fr.wbuf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ReadFrame decodes exactly one frame. If MetaHeaders is set and the frame
// is HEADERS, it transparently consumes the trailing CONTINUATION frames and
// returns a *MetaHeadersFrame instead — callers that want to see individual
// fragments (the header sequencer, §4.E) must leave MetaHeaders nil and read
// HEADERS/CONTINUATION frames themselves.
func (fr *Framer) ReadFrame() (any, error) {
	fh, err := readFrameHeader(fr.headerBuf[:], fr.r)
	if err != nil {
		return nil, err
	}
	if fr.MaxReadFrameSize != 0 && fh.Length > fr.MaxReadFrameSize {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: fmt.Sprintf("frame length %d exceeds max %d", fh.Length, fr.MaxReadFrameSize)}
	}
	payload := fr.getReadBuf(fh.Length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	f, err := typeFrameParser(fh.Type)(fr.frameCache, fh, payload)
	if err != nil {
		return nil, err
	}
	if fh.Type == FrameHeaders && fr.MetaHeaders != nil {
		return fr.readMetaFrame(f.(*HeadersFrame))
	}
	return f, nil
}

type DataFrame struct {
	data []byte
	FrameHeader
}

func (f *DataFrame) StreamEnded() bool { return f.FrameHeader.Flags.Has(FlagDataEndStream) }
func (f *DataFrame) Data() []byte      { return f.data }

func parseDataFrame(fc *frameCache, fh FrameHeader, payload []byte) (any, error) {
	if fh.StreamID == 0 {
		return nil, errors.New("DATA frame with stream ID 0")
	}
	f := fc.getDataFrame()
	f.FrameHeader = fh
	var padSize byte
	if fh.Flags.Has(FlagDataPadded) {
		var err error
		payload, padSize, err = readByte(payload)
		if err != nil {
			return nil, err
		}
	}
	if int(padSize) > len(payload) {
		return nil, errors.New("pad size larger than data payload")
	}
	f.data = payload[:len(payload)-int(padSize)]
	return f, nil
}

func (fr *Framer) WriteData(streamID uint32, endStream bool, data []byte) error {
	return fr.WriteDataPadded(streamID, endStream, data, nil)
}

func (fr *Framer) WriteDataPadded(streamID uint32, endStream bool, data, pad []byte) error {
	if len(pad) > 255 {
		return errors.New("pad length too large")
	}
	var flags Flags
	if endStream {
		flags |= FlagDataEndStream
	}
	if pad != nil {
		flags |= FlagDataPadded
	}
	fr.startWrite(FrameData, flags, streamID)
	if pad != nil {
		fr.wbuf = append(fr.wbuf, byte(len(pad)))
	}
	fr.wbuf = append(fr.wbuf, data...)
	fr.wbuf = append(fr.wbuf, pad...)
	return fr.endWrite()
}

type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

type Setting struct {
	ID  SettingID
	Val uint32
}

type SettingsFrame struct {
	p []byte
	FrameHeader
}

func parseSettingsFrame(_ *frameCache, fh FrameHeader, p []byte) (any, error) {
	if fh.Flags.Has(FlagSettingsAck) && fh.Length > 0 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: "SETTINGS ack with non-empty payload"}
	}
	if fh.StreamID != 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "SETTINGS with non-zero stream ID"}
	}
	if len(p)%6 != 0 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: "SETTINGS payload not a multiple of 6"}
	}
	f := &SettingsFrame{FrameHeader: fh, p: p}
	if v, ok := f.Value(SettingInitialWindowSize); ok && v > (1<<31)-1 {
		return nil, ConnError{Code: ErrCodeFlowControl, Reason: "SETTINGS_INITIAL_WINDOW_SIZE too large"}
	}
	return f, nil
}

func (f *SettingsFrame) IsAck() bool { return f.FrameHeader.Flags.Has(FlagSettingsAck) }

func (f *SettingsFrame) NumSettings() int { return len(f.p) / 6 }

func (f *SettingsFrame) Setting(i int) Setting {
	buf := f.p
	return Setting{
		ID:  SettingID(binary.BigEndian.Uint16(buf[i*6 : i*6+2])),
		Val: binary.BigEndian.Uint32(buf[i*6+2 : i*6+6]),
	}
}

func (f *SettingsFrame) Value(id SettingID) (v uint32, ok bool) {
	for i := 0; i < f.NumSettings(); i++ {
		if s := f.Setting(i); s.ID == id {
			return s.Val, true
		}
	}
	return 0, false
}

func (f *SettingsFrame) ForeachSetting(fn func(Setting) error) error {
	for i := 0; i < f.NumSettings(); i++ {
		if err := fn(f.Setting(i)); err != nil {
			return err
		}
	}
	return nil
}

func (fr *Framer) WriteSettings(settings ...Setting) error {
	fr.startWrite(FrameSettings, 0, 0)
	for _, s := range settings {
		fr.writeUint16(uint16(s.ID))
		fr.writeUint32(s.Val)
	}
	return fr.endWrite()
}

func (fr *Framer) WriteSettingsAck() error {
	fr.startWrite(FrameSettings, FlagSettingsAck, 0)
	return fr.endWrite()
}

type PingFrame struct {
	FrameHeader
	Data [8]byte
}

func (f *PingFrame) IsAck() bool { return f.Flags.Has(FlagPingAck) }

func parsePingFrame(_ *frameCache, fh FrameHeader, payload []byte) (any, error) {
	if len(payload) != 8 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: "PING payload length != 8"}
	}
	if fh.StreamID != 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "PING with non-zero stream ID"}
	}
	f := &PingFrame{FrameHeader: fh}
	copy(f.Data[:], payload)
	return f, nil
}

func (fr *Framer) WritePing(ack bool, data [8]byte) error {
	var flags Flags
	if ack {
		flags = FlagPingAck
	}
	fr.startWrite(FramePing, flags, 0)
	fr.writeBytes(data[:])
	return fr.endWrite()
}

type GoAwayFrame struct {
	debugData []byte
	FrameHeader
	LastStreamID uint32
	ErrCode      ErrCode
}

func (f *GoAwayFrame) DebugData() []byte { return f.debugData }

func parseGoAwayFrame(_ *frameCache, fh FrameHeader, p []byte) (any, error) {
	if fh.StreamID != 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "GOAWAY with non-zero stream ID"}
	}
	if len(p) < 8 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: "GOAWAY payload shorter than 8"}
	}
	return &GoAwayFrame{
		FrameHeader:  fh,
		LastStreamID: binary.BigEndian.Uint32(p[:4]) & (1<<31 - 1),
		ErrCode:      ErrCode(binary.BigEndian.Uint32(p[4:8])),
		debugData:    p[8:],
	}, nil
}

func (fr *Framer) WriteGoAway(lastStreamID uint32, code ErrCode, debugData []byte) error {
	fr.startWrite(FrameGoAway, 0, 0)
	fr.writeUint32(lastStreamID & (1<<31 - 1))
	fr.writeUint32(uint32(code))
	fr.wbuf = append(fr.wbuf, debugData...)
	return fr.endWrite()
}

type UnknownFrame struct {
	p []byte
	FrameHeader
}

func (f *UnknownFrame) Payload() []byte { return f.p }

func parseUnknownFrame(_ *frameCache, fh FrameHeader, p []byte) (any, error) {
	return &UnknownFrame{p, fh}, nil
}

type WindowUpdateFrame struct {
	FrameHeader
	Increment uint32
}

func parseWindowUpdateFrame(_ *frameCache, fh FrameHeader, p []byte) (any, error) {
	if len(p) != 4 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: "WINDOW_UPDATE payload length != 4"}
	}
	inc := binary.BigEndian.Uint32(p[:4]) & 0x7fffffff
	if inc == 0 {
		if fh.StreamID == 0 {
			return nil, ConnError{Code: ErrCodeProtocol, Reason: "WINDOW_UPDATE increment of zero on connection"}
		}
		return nil, StreamError{StreamID: fh.StreamID, Code: ErrCodeProtocol, Reason: "WINDOW_UPDATE increment of zero"}
	}
	return &WindowUpdateFrame{FrameHeader: fh, Increment: inc}, nil
}

func (fr *Framer) WriteWindowUpdate(streamID, incr uint32) error {
	fr.startWrite(FrameWindowUpdate, 0, streamID)
	fr.writeUint32(incr)
	return fr.endWrite()
}

type HeadersFrame struct {
	headerFragBuf []byte
	FrameHeader
	Priority PriorityParam
}

func (f *HeadersFrame) HeaderBlockFragment() []byte { return f.headerFragBuf }
func (f *HeadersFrame) HeadersEnded() bool          { return f.FrameHeader.Flags.Has(FlagHeadersEndHeaders) }
func (f *HeadersFrame) StreamEnded() bool           { return f.FrameHeader.Flags.Has(FlagHeadersEndStream) }

func parseHeadersFrame(_ *frameCache, fh FrameHeader, p []byte) (_ any, err error) {
	if fh.StreamID == 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "HEADERS with stream ID 0"}
	}
	hf := &HeadersFrame{FrameHeader: fh}
	var padLength uint8
	if fh.Flags.Has(FlagHeadersPadded) {
		if p, padLength, err = readByte(p); err != nil {
			return nil, err
		}
	}
	if fh.Flags.Has(FlagHeadersPriority) {
		var v uint32
		if p, v, err = readUint32(p); err != nil {
			return nil, err
		}
		if p, hf.Priority.Weight, err = readByte(p); err != nil {
			return nil, err
		}
		hf.Priority.StreamDep = v & 0x7fffffff
		hf.Priority.Exclusive = v != hf.Priority.StreamDep
	}
	if len(p)-int(padLength) < 0 {
		return nil, errors.New("frame_headers_pad_too_big")
	}
	hf.headerFragBuf = p[:len(p)-int(padLength)]
	return hf, nil
}

type HeadersFrameParam struct {
	BlockFragment []byte
	Priority      PriorityParam
	StreamID      uint32
	EndStream     bool
	EndHeaders    bool
	PadLength     uint8
}

func (fr *Framer) WriteHeaders(p HeadersFrameParam) error {
	var flags Flags
	if p.PadLength != 0 {
		flags |= FlagHeadersPadded
	}
	if p.EndStream {
		flags |= FlagHeadersEndStream
	}
	if p.EndHeaders {
		flags |= FlagHeadersEndHeaders
	}
	if !p.Priority.IsZero() {
		flags |= FlagHeadersPriority
	}
	fr.startWrite(FrameHeaders, flags, p.StreamID)
	if p.PadLength != 0 {
		fr.writeByte(p.PadLength)
	}
	if !p.Priority.IsZero() {
		v := p.Priority.StreamDep
		if p.Priority.Exclusive {
			v |= 1 << 31
		}
		fr.writeUint32(v)
		fr.writeByte(p.Priority.Weight)
	}
	fr.wbuf = append(fr.wbuf, p.BlockFragment...)
	fr.wbuf = append(fr.wbuf, padZeros[:p.PadLength]...)
	return fr.endWrite()
}

type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8
}

func (p PriorityParam) IsZero() bool { return p == PriorityParam{} }

type PriorityFrame struct {
	FrameHeader
	PriorityParam
}

func parsePriorityFrame(_ *frameCache, fh FrameHeader, payload []byte) (any, error) {
	if fh.StreamID == 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "PRIORITY frame with stream ID 0"}
	}
	if len(payload) != 5 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: fmt.Sprintf("PRIORITY frame payload size was %d; want 5", len(payload))}
	}
	v := binary.BigEndian.Uint32(payload[:4])
	streamID := v & 0x7fffffff
	return &PriorityFrame{
		FrameHeader: fh,
		PriorityParam: PriorityParam{
			Weight:    payload[4],
			StreamDep: streamID,
			Exclusive: streamID != v,
		},
	}, nil
}

func (fr *Framer) WritePriority(streamID uint32, p PriorityParam) error {
	fr.startWrite(FramePriority, 0, streamID)
	v := p.StreamDep
	if p.Exclusive {
		v |= 1 << 31
	}
	fr.writeUint32(v)
	fr.writeByte(p.Weight)
	return fr.endWrite()
}

type RSTStreamFrame struct {
	FrameHeader
	ErrCode ErrCode
}

func parseRSTStreamFrame(_ *frameCache, fh FrameHeader, p []byte) (any, error) {
	if len(p) != 4 {
		return nil, ConnError{Code: ErrCodeFrameSize, Reason: "RST_STREAM payload length != 4"}
	}
	if fh.StreamID == 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "RST_STREAM with stream ID 0"}
	}
	return &RSTStreamFrame{fh, ErrCode(binary.BigEndian.Uint32(p[:4]))}, nil
}

func (fr *Framer) WriteRSTStream(streamID uint32, code ErrCode) error {
	fr.startWrite(FrameRSTStream, 0, streamID)
	fr.writeUint32(uint32(code))
	return fr.endWrite()
}

type ContinuationFrame struct {
	headerFragBuf []byte
	FrameHeader
}

func parseContinuationFrame(_ *frameCache, fh FrameHeader, p []byte) (any, error) {
	if fh.StreamID == 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "CONTINUATION frame with stream ID 0"}
	}
	return &ContinuationFrame{p, fh}, nil
}

func (f *ContinuationFrame) HeaderBlockFragment() []byte { return f.headerFragBuf }
func (f *ContinuationFrame) HeadersEnded() bool          { return f.FrameHeader.Flags.Has(FlagContinuationEndHeaders) }

func (fr *Framer) WriteContinuation(streamID uint32, endHeaders bool, blockFragment []byte) error {
	var flags Flags
	if endHeaders {
		flags |= FlagContinuationEndHeaders
	}
	fr.startWrite(FrameContinuation, flags, streamID)
	fr.wbuf = append(fr.wbuf, blockFragment...)
	return fr.endWrite()
}

type PushPromiseFrame struct {
	headerFragBuf []byte
	FrameHeader
	PromiseID uint32
}

func (f *PushPromiseFrame) HeaderBlockFragment() []byte { return f.headerFragBuf }
func (f *PushPromiseFrame) HeadersEnded() bool          { return f.FrameHeader.Flags.Has(FlagPushPromiseEndHeaders) }

func parsePushPromiseFrame(_ *frameCache, fh FrameHeader, p []byte) (_ any, err error) {
	pp := &PushPromiseFrame{FrameHeader: fh}
	if pp.StreamID == 0 {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "PUSH_PROMISE with stream ID 0"}
	}
	var padLength uint8
	if fh.Flags.Has(FlagPushPromisePadded) {
		if p, padLength, err = readByte(p); err != nil {
			return nil, err
		}
	}
	p, pp.PromiseID, err = readUint32(p)
	if err != nil {
		return nil, err
	}
	pp.PromiseID &= 1<<31 - 1
	if int(padLength) > len(p) {
		return nil, ConnError{Code: ErrCodeProtocol, Reason: "PUSH_PROMISE pad length exceeds payload"}
	}
	pp.headerFragBuf = p[:len(p)-int(padLength)]
	return pp, nil
}

type PushPromiseParam struct {
	BlockFragment []byte
	StreamID      uint32
	PromiseID     uint32
	EndHeaders    bool
	PadLength     uint8
}

func (fr *Framer) WritePushPromise(p PushPromiseParam) error {
	var flags Flags
	if p.PadLength != 0 {
		flags |= FlagPushPromisePadded
	}
	if p.EndHeaders {
		flags |= FlagPushPromiseEndHeaders
	}
	fr.startWrite(FramePushPromise, flags, p.StreamID)
	if p.PadLength != 0 {
		fr.writeByte(p.PadLength)
	}
	fr.writeUint32(p.PromiseID)
	fr.wbuf = append(fr.wbuf, p.BlockFragment...)
	fr.wbuf = append(fr.wbuf, padZeros[:p.PadLength]...)
	return fr.endWrite()
}

func readByte(p []byte) (remain []byte, b byte, err error) {
	if len(p) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return p[1:], p[0], nil
}

func readUint32(p []byte) (remain []byte, v uint32, err error) {
	if len(p) < 4 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return p[4:], binary.BigEndian.Uint32(p[:4]), nil
}

type headersEnder interface {
	HeadersEnded() bool
}

type headersOrContinuation interface {
	headersEnder
	HeaderBlockFragment() []byte
}

// MetaHeadersFrame is the fully-assembled logical header block for one
// HEADERS(+CONTINUATION...) sequence: the HPACK decoder's output attached
// back to the originating HEADERS frame.
type MetaHeadersFrame struct {
	*HeadersFrame
	Fields []hpack.HeaderField
}

func (mh *MetaHeadersFrame) PseudoValue(pseudo string) string {
	for _, hf := range mh.Fields {
		if !hf.IsPseudo() {
			return ""
		}
		if hf.Name[1:] == pseudo {
			return hf.Value
		}
	}
	return ""
}

func (mh *MetaHeadersFrame) RegularFields() []hpack.HeaderField {
	for i, hf := range mh.Fields {
		if !hf.IsPseudo() {
			return mh.Fields[i:]
		}
	}
	return nil
}

func (mh *MetaHeadersFrame) PseudoFields() []hpack.HeaderField {
	for i, hf := range mh.Fields {
		if !hf.IsPseudo() {
			return mh.Fields[:i]
		}
	}
	return mh.Fields
}

func (fr *Framer) readMetaFrame(hf *HeadersFrame) (any, error) {
	mh := &MetaHeadersFrame{HeadersFrame: hf}
	fr.MetaHeaders.SetEmitEnabled(true)
	fr.MetaHeaders.SetEmitFunc(func(hf hpack.HeaderField) {
		mh.Fields = append(mh.Fields, hf)
	})
	defer fr.MetaHeaders.SetEmitFunc(func(hpack.HeaderField) {})

	var hc headersOrContinuation = hf
	for {
		frag := hc.HeaderBlockFragment()
		if _, err := fr.MetaHeaders.Write(frag); err != nil {
			return mh, ConnError{Code: ErrCodeCompression, Reason: "hpack decode failed"}
		}
		if hc.HeadersEnded() {
			break
		}
		f, err := fr.ReadFrame()
		if err != nil {
			return nil, err
		}
		cf, ok := f.(*ContinuationFrame)
		if !ok {
			return nil, ConnError{Code: ErrCodeProtocol, Reason: "expected CONTINUATION frame"}
		}
		if cf.StreamID != hf.StreamID {
			return nil, ConnError{Code: ErrCodeProtocol, Reason: "CONTINUATION stream ID mismatch"}
		}
		hc = cf
	}
	mh.HeadersFrame.headerFragBuf = nil
	if err := fr.MetaHeaders.Close(); err != nil {
		return mh, ConnError{Code: ErrCodeCompression, Reason: "hpack decode failed"}
	}
	return mh, nil
}

func validPseudoPath(v string) bool {
	return (len(v) > 0 && v[0] == '/') || v == "*"
}
