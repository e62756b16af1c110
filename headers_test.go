package session

import (
	"bytes"
	"testing"

	"golang.org/x/net/http2/hpack"
)

func encodeFields(t *testing.T, fields []HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	return buf.Bytes()
}

func TestHeaderSequencerSingleFrame(t *testing.T) {
	hs := newHeaderSequencer(4096)
	block := encodeFields(t, []HeaderField{{Name: ":method", Value: "GET"}})
	ch, err := hs.StartInbound(1, block, true, true, PriorityParam{})
	if err != nil {
		t.Fatalf("StartInbound: %v", err)
	}
	if ch == nil {
		t.Fatal("expected completed block on EndHeaders")
	}
	if len(ch.Fields) != 1 || ch.Fields[0].Value != "GET" {
		t.Fatalf("Fields = %+v", ch.Fields)
	}
	if !ch.EndStream {
		t.Fatal("expected EndStream to propagate")
	}
}

func TestHeaderSequencerSplitAcrossContinuation(t *testing.T) {
	hs := newHeaderSequencer(4096)
	block := encodeFields(t, []HeaderField{{Name: ":method", Value: "POST"}, {Name: "x-long", Value: "value"}})
	mid := len(block) / 2
	if mid == 0 {
		mid = 1
	}
	ch, err := hs.StartInbound(1, block[:mid], false, false, PriorityParam{})
	if err != nil {
		t.Fatalf("StartInbound: %v", err)
	}
	if ch != nil {
		t.Fatal("expected no completed block before EndHeaders")
	}
	ch, err = hs.ContinueInbound(1, block[mid:], true)
	if err != nil {
		t.Fatalf("ContinueInbound: %v", err)
	}
	if ch == nil {
		t.Fatal("expected completed block on final CONTINUATION")
	}
}

func TestHeaderSequencerRejectsSecondHeadersWhileOpen(t *testing.T) {
	hs := newHeaderSequencer(4096)
	block := encodeFields(t, []HeaderField{{Name: ":method", Value: "GET"}})
	if _, err := hs.StartInbound(1, block, false, false, PriorityParam{}); err != nil {
		t.Fatalf("StartInbound: %v", err)
	}
	if _, err := hs.StartInbound(3, block, true, false, PriorityParam{}); err == nil {
		t.Fatal("expected error starting a second HEADERS block while one is open")
	}
}

func TestHeaderSequencerRejectsContinuationForWrongStream(t *testing.T) {
	hs := newHeaderSequencer(4096)
	block := encodeFields(t, []HeaderField{{Name: ":method", Value: "GET"}})
	if _, err := hs.StartInbound(1, block, false, false, PriorityParam{}); err != nil {
		t.Fatalf("StartInbound: %v", err)
	}
	if _, err := hs.ContinueInbound(3, block, true); err == nil {
		t.Fatal("expected error for CONTINUATION with mismatched stream id")
	}
}

func TestHeaderSequencerCheckFrameAllowed(t *testing.T) {
	hs := newHeaderSequencer(4096)
	if err := hs.CheckFrameAllowed(); err != nil {
		t.Fatalf("CheckFrameAllowed with no open sequence: %v", err)
	}
	block := encodeFields(t, []HeaderField{{Name: ":method", Value: "GET"}})
	if _, err := hs.StartInbound(1, block, false, false, PriorityParam{}); err != nil {
		t.Fatalf("StartInbound: %v", err)
	}
	if err := hs.CheckFrameAllowed(); err == nil {
		t.Fatal("expected error while a sequence is open")
	}
}

func TestPseudoValue(t *testing.T) {
	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/x"},
		{Name: "accept", Value: "*/*"},
	}
	if got := pseudoValue(fields, ":path"); got != "/x" {
		t.Fatalf("pseudoValue(:path) = %q, want /x", got)
	}
	if got := pseudoValue(fields, "accept"); got != "" {
		t.Fatalf("pseudoValue(accept) = %q, want empty since it is not a leading pseudo-header", got)
	}
}

func TestHeaderSequencerPushPromise(t *testing.T) {
	hs := newHeaderSequencer(4096)
	block := encodeFields(t, []HeaderField{{Name: ":path", Value: "/style.css"}})
	ch, err := hs.StartInboundPushPromise(1, 2, block, true)
	if err != nil {
		t.Fatalf("StartInboundPushPromise: %v", err)
	}
	if ch == nil || !ch.IsPushPromise || ch.PromisedID != 2 {
		t.Fatalf("ch = %+v", ch)
	}
}
