package session

import "testing"

func TestStreamHeadersLifecycle(t *testing.T) {
	s := &Stream{id: 1, state: StreamStateIdle}
	if err := s.transitionRecvHeaders(); err != nil {
		t.Fatalf("transitionRecvHeaders: %v", err)
	}
	if s.State() != StreamStateOpen {
		t.Fatalf("state = %v, want open", s.State())
	}
	if err := s.transitionRecvEndStream(); err != nil {
		t.Fatalf("transitionRecvEndStream: %v", err)
	}
	if s.State() != StreamStateHalfClosedRemote {
		t.Fatalf("state = %v, want half-closed(remote)", s.State())
	}
}

func TestStreamRecvHeadersOnOpenIsResponseOrTrailers(t *testing.T) {
	s := &Stream{id: 1, state: StreamStateOpen}
	if err := s.transitionRecvHeaders(); err != nil {
		t.Fatalf("transitionRecvHeaders on open stream (response headers): %v", err)
	}
	if s.State() != StreamStateOpen {
		t.Fatalf("state = %v, want open (unchanged)", s.State())
	}
}

func TestStreamRecvHeadersOnHalfClosedRemoteIsError(t *testing.T) {
	s := &Stream{id: 1, state: StreamStateHalfClosedRemote}
	if err := s.transitionRecvHeaders(); err == nil {
		t.Fatal("expected error receiving HEADERS on a half-closed(remote) stream")
	}
}

func TestMarkRstSentOnlyOnce(t *testing.T) {
	s := &Stream{id: 1, state: StreamStateOpen}
	if first := s.markRstSent(); !first {
		t.Fatal("expected first markRstSent to report true")
	}
	if first := s.markRstSent(); first {
		t.Fatal("expected second markRstSent to report false")
	}
	if s.State() != StreamStateClosed {
		t.Fatalf("state = %v, want closed", s.State())
	}
}

func TestRegistryCreateOutboundAllocatesOddIDsForClient(t *testing.T) {
	r := newRegistry(true, 100, 100)
	s1, err := r.CreateOutbound(nil, DefaultStreamPriority)
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	s2, err := r.CreateOutbound(nil, DefaultStreamPriority)
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	if s1.id != 1 || s2.id != 3 {
		t.Fatalf("ids = %d, %d; want 1, 3", s1.id, s2.id)
	}
}

func TestRegistryCreateOutboundRespectsRemoteLimit(t *testing.T) {
	r := newRegistry(true, 100, 1)
	if _, err := r.CreateOutbound(nil, DefaultStreamPriority); err != nil {
		t.Fatalf("first CreateOutbound: %v", err)
	}
	if _, err := r.CreateOutbound(nil, DefaultStreamPriority); err != ErrTooManyConcurrentStreams {
		t.Fatalf("second CreateOutbound err = %v, want ErrTooManyConcurrentStreams", err)
	}
}

func TestRegistryCreateInboundRejectsBadParity(t *testing.T) {
	r := newRegistry(true, 100, 100) // we are a client, peer is a server: even ids
	if _, err := r.CreateInbound(nil, 3, DefaultStreamPriority); err == nil {
		t.Fatal("expected parity error for odd inbound id when peer is a server")
	}
	if _, err := r.CreateInbound(nil, 2, DefaultStreamPriority); err != nil {
		t.Fatalf("CreateInbound: %v", err)
	}
}

func TestRegistryCreateInboundRejectsNonIncreasingID(t *testing.T) {
	r := newRegistry(false, 100, 100) // we are a server, peer is a client: odd ids
	if _, err := r.CreateInbound(nil, 5, DefaultStreamPriority); err != nil {
		t.Fatalf("CreateInbound: %v", err)
	}
	if _, err := r.CreateInbound(nil, 3, DefaultStreamPriority); err == nil {
		t.Fatal("expected error for non-increasing inbound stream id")
	}
}

func TestRegistryGetOrTombstoneDoesNotPresetRst(t *testing.T) {
	r := newRegistry(true, 100, 100)
	st := r.GetOrTombstone(nil, 99)
	if st.wasRstSent {
		t.Fatal("tombstone for a never-seen stream must not start with wasRstSent already true")
	}
	if st.State() != StreamStateClosed {
		t.Fatalf("state = %v, want closed", st.State())
	}
}

func TestRegistryCloseDecrementsCorrectCounter(t *testing.T) {
	r := newRegistry(true, 100, 100)
	out, err := r.CreateOutbound(nil, DefaultStreamPriority)
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	if r.remoteOpenCount != 1 {
		t.Fatalf("remoteOpenCount = %d, want 1", r.remoteOpenCount)
	}
	r.Close(out.id)
	if r.remoteOpenCount != 0 {
		t.Fatalf("remoteOpenCount after close = %d, want 0", r.remoteOpenCount)
	}

	in, err := r.CreateInbound(nil, 2, DefaultStreamPriority)
	if err != nil {
		t.Fatalf("CreateInbound: %v", err)
	}
	if r.localOpenCount != 1 {
		t.Fatalf("localOpenCount = %d, want 1", r.localOpenCount)
	}
	r.Close(in.id)
	if r.localOpenCount != 0 {
		t.Fatalf("localOpenCount after close = %d, want 0", r.localOpenCount)
	}
}

func TestRegistryGetFallsBackToTombstone(t *testing.T) {
	r := newRegistry(true, 100, 100)
	out, err := r.CreateOutbound(nil, DefaultStreamPriority)
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	r.Close(out.id)
	if got := r.Get(out.id); got == nil {
		t.Fatal("expected Get to resolve a closed stream from the tombstone map")
	}
}
