package session

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, write func(fr *Framer) error) any {
	t.Helper()
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := write(fr); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return f
}

func TestWriteReadSettings(t *testing.T) {
	f := roundTrip(t, func(fr *Framer) error {
		return fr.WriteSettings(Setting{ID: SettingMaxFrameSize, Val: 16384}, Setting{ID: SettingEnablePush, Val: 0})
	})
	sf, ok := f.(*SettingsFrame)
	if !ok {
		t.Fatalf("got %T, want *SettingsFrame", f)
	}
	if sf.NumSettings() != 2 {
		t.Fatalf("NumSettings() = %d, want 2", sf.NumSettings())
	}
	if v, ok := sf.Value(SettingMaxFrameSize); !ok || v != 16384 {
		t.Fatalf("Value(SettingMaxFrameSize) = %d, %v", v, ok)
	}
}

func TestSettingsAckWithPayloadRejected(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	fr.startWrite(FrameSettings, FlagSettingsAck, 0)
	fr.writeUint16(uint16(SettingMaxFrameSize))
	fr.writeUint32(100)
	if err := fr.endWrite(); err != nil {
		t.Fatalf("endWrite: %v", err)
	}
	if _, err := fr.ReadFrame(); err == nil {
		t.Fatal("expected error reading SETTINGS ack with payload")
	}
}

func TestDataFrameRoundTrip(t *testing.T) {
	f := roundTrip(t, func(fr *Framer) error {
		return fr.WriteData(1, true, []byte("hello"))
	})
	df, ok := f.(*DataFrame)
	if !ok {
		t.Fatalf("got %T, want *DataFrame", f)
	}
	if string(df.Data()) != "hello" {
		t.Fatalf("Data() = %q", df.Data())
	}
	if !df.StreamEnded() {
		t.Fatal("expected StreamEnded")
	}
}

func TestDataFrameStreamZeroRejected(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteData(0, false, []byte("x")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if _, err := fr.ReadFrame(); err == nil {
		t.Fatal("expected error for DATA on stream 0")
	}
}

func TestWindowUpdateZeroIncrementRejected(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteWindowUpdate(1, 0); err != nil {
		t.Fatalf("WriteWindowUpdate: %v", err)
	}
	_, err := fr.ReadFrame()
	if err == nil {
		t.Fatal("expected error for zero increment")
	}
	if _, ok := err.(StreamError); !ok {
		t.Fatalf("got %T, want StreamError", err)
	}
}

func TestWindowUpdateZeroIncrementOnConnIsConnError(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteWindowUpdate(0, 0); err != nil {
		t.Fatalf("WriteWindowUpdate: %v", err)
	}
	_, err := fr.ReadFrame()
	if _, ok := err.(ConnError); !ok {
		t.Fatalf("got %T, want ConnError", err)
	}
}

func TestHeadersAndContinuationAssembly(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteHeaders(HeadersFrameParam{StreamID: 1, BlockFragment: []byte("ab"), EndHeaders: false}); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}
	if err := fr.WriteContinuation(1, true, []byte("cd")); err != nil {
		t.Fatalf("WriteContinuation: %v", err)
	}
	f1, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	hf, ok := f1.(*HeadersFrame)
	if !ok {
		t.Fatalf("got %T, want *HeadersFrame", f1)
	}
	if hf.HeadersEnded() {
		t.Fatal("expected HeadersEnded() == false on first fragment")
	}
	f2, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	cf, ok := f2.(*ContinuationFrame)
	if !ok {
		t.Fatalf("got %T, want *ContinuationFrame", f2)
	}
	if !cf.HeadersEnded() {
		t.Fatal("expected HeadersEnded() == true on final fragment")
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteData(1, false, make([]byte, 100)); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	readFr := NewFramer(&buf, &buf)
	readFr.MaxReadFrameSize = 50
	if _, err := readFr.ReadFrame(); err == nil {
		t.Fatal("expected FRAME_SIZE_ERROR for oversize frame")
	}
}

func TestPushPromiseRoundTrip(t *testing.T) {
	f := roundTrip(t, func(fr *Framer) error {
		return fr.WritePushPromise(PushPromiseParam{StreamID: 1, PromiseID: 2, BlockFragment: []byte("xy"), EndHeaders: true})
	})
	pp, ok := f.(*PushPromiseFrame)
	if !ok {
		t.Fatalf("got %T, want *PushPromiseFrame", f)
	}
	if pp.PromiseID != 2 {
		t.Fatalf("PromiseID = %d, want 2", pp.PromiseID)
	}
	if string(pp.HeaderBlockFragment()) != "xy" {
		t.Fatalf("HeaderBlockFragment() = %q", pp.HeaderBlockFragment())
	}
}

func TestGoAwayRoundTrip(t *testing.T) {
	f := roundTrip(t, func(fr *Framer) error {
		return fr.WriteGoAway(7, ErrCodeProtocol, []byte("bye"))
	})
	gf, ok := f.(*GoAwayFrame)
	if !ok {
		t.Fatalf("got %T, want *GoAwayFrame", f)
	}
	if gf.LastStreamID != 7 || gf.ErrCode != ErrCodeProtocol || string(gf.DebugData()) != "bye" {
		t.Fatalf("unexpected GoAwayFrame: %+v", gf)
	}
}

func TestValidPseudoPath(t *testing.T) {
	cases := map[string]bool{
		"/":     true,
		"/a/b":  true,
		"*":     true,
		"":      false,
		"a":     false,
		"http:": false,
	}
	for in, want := range cases {
		if got := validPseudoPath(in); got != want {
			t.Errorf("validPseudoPath(%q) = %v, want %v", in, got, want)
		}
	}
}
