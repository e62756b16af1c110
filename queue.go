package session

import "sync"

// writeAction is one unit of work the write pump pulls off the queue: a
// closure that performs the actual Framer write, tagged with the stream id
// it belongs to (0 for connection-level frames) so the caller can account
// for ordering and flow-control debits.
type writeAction struct {
	streamID uint32
	write    func(fr *Framer) error
}

type controlItem struct {
	streamID uint32
	write    func(fr *Framer) error
}

type dataItem struct {
	streamID  uint32
	data      []byte
	endStream bool
}

// outQueue is component B: a multi-producer, single-consumer ordered sink
// for outbound frames. Enqueue is non-blocking and preserves per-producer
// order; the consumer (the session's write pump) pulls with Next, which
// additionally withholds DATA frames the flow-control manager hasn't
// credited, per §4.B.
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []any // *controlItem or *dataItem, front-to-back send order
	closed bool

	signal chan struct{} // non-blocking wake for a blocked consumer
}

func newOutQueue() *outQueue {
	q := &outQueue{signal: make(chan struct{}, 1)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *outQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// EnqueueControl appends a non-DATA frame write. Control frames are never
// gated by flow control.
func (q *outQueue) EnqueueControl(streamID uint32, write func(fr *Framer) error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, &controlItem{streamID: streamID, write: write})
	q.mu.Unlock()
	q.wake()
}

// EnqueueData appends an outbound DATA payload. It may be delivered to the
// transport across several WriteData calls if the flow-control window only
// credits part of it at a time (§8 scenario 5).
func (q *outQueue) EnqueueData(streamID uint32, data []byte, endStream bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, &dataItem{streamID: streamID, data: data, endStream: endStream})
	q.mu.Unlock()
	q.wake()
}

// Next returns the next sendable action, or ok=false if nothing can be sent
// right now (either the queue is empty, or every pending DATA item is
// withheld for lack of credit). A withheld DATA item yields to the next
// non-DATA frame, or to a DATA frame on a different stream with available
// credit. It is never overtaken by later DATA on its own stream; a later
// non-DATA frame on the same stream is sent ahead of it.
func (q *outQueue) Next(fc *flowControl) (*writeAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, raw := range q.items {
		switch it := raw.(type) {
		case *controlItem:
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			q.cond.Broadcast()
			return &writeAction{streamID: it.streamID, write: it.write}, true
		case *dataItem:
			avail := fc.Available(it.streamID)
			if avail <= 0 {
				continue
			}
			take := avail
			if int(take) > len(it.data) {
				take = int32(len(it.data))
			}
			chunk := it.data[:take]
			remainder := it.data[take:]
			endNow := it.endStream && len(remainder) == 0
			sid := it.streamID
			if len(remainder) == 0 {
				q.items = append(q.items[:i:i], q.items[i+1:]...)
				q.cond.Broadcast()
			} else {
				it.data = remainder
			}
			return &writeAction{streamID: sid, write: func(fr *Framer) error {
				fc.TakeSend(sid, take)
				return fr.WriteData(sid, endNow, chunk)
			}}, true
		}
	}
	return nil, false
}

// Wait blocks until Next might succeed again: either the queue gained an
// item, or a credit change elsewhere woke the consumer. Returns false if the
// queue was disposed while waiting.
func (q *outQueue) Wait(wake <-chan struct{}) bool {
	select {
	case <-q.signal:
	case <-wake:
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed
}

// Flush blocks until every currently queued item has been handed to the
// consumer (Next), or until the queue is disposed. It does not guarantee the
// transport write has completed, only that the queue itself has drained — the
// session awaits that separately before closing the transport (SPEC_FULL
// Open Question 2). Checking q.closed in the wait condition (rather than
// only in Dispose's wake-up) keeps this from hanging forever if the consumer
// (the write pump) has already exited on a write error with items still
// queued: Dispose is what wakes a blocked Flush, and closed is what lets it
// actually return instead of looping back into another Wait.
func (q *outQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && !q.empty() {
		q.cond.Wait()
	}
}

func (q *outQueue) empty() bool {
	for _, raw := range q.items {
		if it, ok := raw.(*dataItem); ok && len(it.data) == 0 {
			continue
		}
		return false
	}
	return true
}

// Dispose is idempotent: it marks the queue closed so further Enqueue calls
// are dropped, and wakes any blocked Flush/consumer waiters.
func (q *outQueue) Dispose() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wake()
}
