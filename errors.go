package session

import "fmt"

// ErrCode is the wire error code carried by RST_STREAM and GOAWAY frames.
type ErrCode uint32

const (
	ErrCodeNo                 ErrCode = 0x0
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeSettingsTimeout    ErrCode = 0x4
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeFrameSize          ErrCode = 0x6
	ErrCodeRefusedStream      ErrCode = 0x7
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeCompression        ErrCode = 0x9
	ErrCodeConnect            ErrCode = 0xa
	ErrCodeEnhanceYourCalm    ErrCode = 0xb
	ErrCodeInadequateSecurity ErrCode = 0xc
	ErrCodeHTTP11Required     ErrCode = 0xd
)

func (e ErrCode) String() string {
	switch e {
	case ErrCodeNo:
		return "NO_ERROR"
	case ErrCodeProtocol:
		return "PROTOCOL_ERROR"
	case ErrCodeInternal:
		return "INTERNAL_ERROR"
	case ErrCodeFlowControl:
		return "FLOW_CONTROL_ERROR"
	case ErrCodeSettingsTimeout:
		return "SETTINGS_TIMEOUT"
	case ErrCodeStreamClosed:
		return "STREAM_CLOSED"
	case ErrCodeFrameSize:
		return "FRAME_SIZE_ERROR"
	case ErrCodeRefusedStream:
		return "REFUSED_STREAM"
	case ErrCodeCancel:
		return "CANCEL"
	case ErrCodeCompression:
		return "COMPRESSION_ERROR"
	case ErrCodeConnect:
		return "CONNECT_ERROR"
	case ErrCodeEnhanceYourCalm:
		return "ENHANCE_YOUR_CALM"
	case ErrCodeInadequateSecurity:
		return "INADEQUATE_SECURITY"
	case ErrCodeHTTP11Required:
		return "HTTP_1_1_REQUIRED"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint32(e))
	}
}

// ConnError terminates the whole session with GOAWAY(Code). See §7.
type ConnError struct {
	Code   ErrCode
	Reason string
}

func (e ConnError) Error() string {
	return fmt.Sprintf("http2: connection error: %v: %s", e.Code, e.Reason)
}

// StreamError terminates a single stream with RST_STREAM(Code), the session
// continues. See §7.
type StreamError struct {
	StreamID uint32
	Code     ErrCode
	Reason   string
}

func (e StreamError) Error() string {
	return fmt.Sprintf("http2: stream %d error: %v: %s", e.StreamID, e.Code, e.Reason)
}

// Local errors are surfaced to the caller of a public API; the session
// itself is unaffected.

// ErrTooManyConcurrentStreams is returned by CreateOutbound when the remote
// peer's MaxConcurrentStreams limit is already reached.
var ErrTooManyConcurrentStreams = fmt.Errorf("http2: too many concurrent streams")

// ErrInvalidArgument is returned for caller input a call cannot act on:
// PushResource on a client session or with push disabled, and WriteData on
// an unknown stream. SendRequest does not check its field list for nil, and
// no call checks a priority value against MaxPriority.
type ErrInvalidArgument struct{ Reason string }

func (e ErrInvalidArgument) Error() string { return "http2: invalid argument: " + e.Reason }

// ErrResourcePromised is returned by SendRequest when the requested :path
// matches an outstanding server push promise (§4.F PUSH_PROMISE, §8 scenario 6).
type ErrResourcePromised struct{ Path string }

func (e ErrResourcePromised) Error() string {
	return fmt.Sprintf("http2: resource already promised: %s", e.Path)
}

// ErrSessionDisposed is returned by public APIs called after Close.
var ErrSessionDisposed = fmt.Errorf("http2: session disposed")
