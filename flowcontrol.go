package session

import "sync"

// flowControl is component C: it owns the connection send/receive windows
// and every stream's send/receive windows, and answers "may I send N bytes
// on stream S?" (§4.C). All mutation is serialized by a single mutex shared
// by both pumps and any public caller, matching the §5 "shared resources"
// requirement that window mutation be serialized per connection.
type flowControl struct {
	mu sync.Mutex

	connSend uint32 // Cs
	connRecv uint32 // Cr

	streamSend map[uint32]int64 // Ss(i); signed so SETTINGS deltas can't be misread
	streamRecv map[uint32]int64 // Sr(i)

	initialWindow uint32
}

func newFlowControl(initialWindow uint32) *flowControl {
	return &flowControl{
		connSend:      initialWindow,
		connRecv:      initialWindow,
		streamSend:    make(map[uint32]int64),
		streamRecv:    make(map[uint32]int64),
		initialWindow: initialWindow,
	}
}

func (fc *flowControl) addStream(id uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.streamSend[id] = int64(fc.initialWindow)
	fc.streamRecv[id] = int64(fc.initialWindow)
}

func (fc *flowControl) removeStream(id uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.streamSend, id)
	delete(fc.streamRecv, id)
}

// Available returns the number of bytes currently permitted to be sent on
// stream id, i.e. min(Cs, Ss(i)), clamped to >= 0.
func (fc *flowControl) Available(id uint32) int32 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.available(id)
}

func (fc *flowControl) available(id uint32) int32 {
	cs := int64(fc.connSend)
	ss, ok := fc.streamSend[id]
	if !ok {
		return 0
	}
	n := cs
	if ss < n {
		n = ss
	}
	if n < 0 {
		return 0
	}
	if n > (1<<31)-1 {
		n = (1 << 31) - 1
	}
	return int32(n)
}

// TakeSend debits n bytes from both the connection and stream send windows
// after an outbound DATA frame of that size has been handed to the write
// pump. Callers must have already confirmed n <= Available(id).
func (fc *flowControl) TakeSend(id uint32, n int32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.connSend -= uint32(n)
	fc.streamSend[id] -= int64(n)
}

// TakeRecv debits n bytes from both the connection and stream receive
// windows after an inbound DATA frame of that size. The embedder replenishes
// both via WriteStreamWindowUpdate / WriteConnectionWindowUpdate.
func (fc *flowControl) TakeRecv(id uint32, n int32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.connRecv -= uint32(n)
	fc.streamRecv[id] -= int64(n)
}

// ApplyWindowUpdate applies a WINDOW_UPDATE increment. id == 0 means the
// connection window; any other id must already be registered via addStream.
func (fc *flowControl) ApplyWindowUpdate(id uint32, n uint32) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if id == 0 {
		next := int64(fc.connSend) + int64(n)
		if next > (1<<31)-1 {
			return ConnError{Code: ErrCodeFlowControl, Reason: "connection window overflow"}
		}
		fc.connSend = uint32(next)
		return nil
	}
	ss, ok := fc.streamSend[id]
	if !ok {
		return nil // stream already closed/removed; nothing to credit
	}
	next := ss + int64(n)
	if next > (1<<31)-1 {
		return StreamError{StreamID: id, Code: ErrCodeFlowControl, Reason: "stream window overflow"}
	}
	fc.streamSend[id] = next
	return nil
}

// ApplySettingsInitialWindowDelta applies a signed delta (the new
// SETTINGS_INITIAL_WINDOW_SIZE minus the old one) to every currently open
// stream's send window, per §4.C.
func (fc *flowControl) ApplySettingsInitialWindowDelta(delta int32, openStreamIDs []uint32) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, id := range openStreamIDs {
		ss, ok := fc.streamSend[id]
		if !ok {
			continue
		}
		next := ss + int64(delta)
		if next > (1<<31)-1 {
			return StreamError{StreamID: id, Code: ErrCodeFlowControl, Reason: "initial window delta overflow"}
		}
		fc.streamSend[id] = next
	}
	return nil
}

func (fc *flowControl) SetInitialWindow(n uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.initialWindow = n
}

// SetInitialWindowDelta atomically replaces the initial window value and
// reports the signed delta from the previous value, for callers (the
// SETTINGS_INITIAL_WINDOW_SIZE handler) that need both without a
// read-then-write race between two separate calls.
func (fc *flowControl) SetInitialWindowDelta(n uint32) int32 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delta := int32(n) - int32(fc.initialWindow)
	fc.initialWindow = n
	return delta
}

func (fc *flowControl) CreditConnRecv(n uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.connRecv += n
}

func (fc *flowControl) CreditStreamRecv(id uint32, n uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if _, ok := fc.streamRecv[id]; ok {
		fc.streamRecv[id] += int64(n)
	}
}
