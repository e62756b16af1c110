package session

import "testing"

func TestFlowControlAvailableIsMinOfConnAndStream(t *testing.T) {
	fc := newFlowControl(100)
	fc.addStream(1)
	fc.connSend = 30
	if got := fc.Available(1); got != 30 {
		t.Fatalf("Available = %d, want 30", got)
	}
}

func TestFlowControlTakeSendDebitsBoth(t *testing.T) {
	fc := newFlowControl(100)
	fc.addStream(1)
	fc.TakeSend(1, 40)
	if fc.connSend != 60 {
		t.Fatalf("connSend = %d, want 60", fc.connSend)
	}
	if fc.streamSend[1] != 60 {
		t.Fatalf("streamSend[1] = %d, want 60", fc.streamSend[1])
	}
}

func TestFlowControlApplyWindowUpdateOverflow(t *testing.T) {
	fc := newFlowControl(100)
	if err := fc.ApplyWindowUpdate(0, (1<<31)-1-100); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := fc.ApplyWindowUpdate(0, 1); err == nil {
		t.Fatal("expected flow control overflow error")
	}
}

func TestFlowControlApplyWindowUpdateUnknownStreamIsNoop(t *testing.T) {
	fc := newFlowControl(100)
	if err := fc.ApplyWindowUpdate(999, 10); err != nil {
		t.Fatalf("expected nil error crediting a removed/unknown stream, got %v", err)
	}
}

func TestFlowControlSettingsInitialWindowDelta(t *testing.T) {
	fc := newFlowControl(100)
	fc.addStream(1)
	fc.addStream(2)
	if err := fc.ApplySettingsInitialWindowDelta(50, []uint32{1, 2}); err != nil {
		t.Fatalf("ApplySettingsInitialWindowDelta: %v", err)
	}
	if fc.streamSend[1] != 150 || fc.streamSend[2] != 150 {
		t.Fatalf("streamSend = %d, %d; want 150, 150", fc.streamSend[1], fc.streamSend[2])
	}
}

func TestFlowControlSetInitialWindowDeltaReportsSignedDelta(t *testing.T) {
	fc := newFlowControl(100)
	delta := fc.SetInitialWindowDelta(70)
	if delta != -30 {
		t.Fatalf("delta = %d, want -30", delta)
	}
	if fc.initialWindow != 70 {
		t.Fatalf("initialWindow = %d, want 70", fc.initialWindow)
	}
}

func TestFlowControlCreditRecv(t *testing.T) {
	fc := newFlowControl(100)
	fc.addStream(1)
	fc.TakeRecv(1, 40)
	fc.CreditStreamRecv(1, 40)
	fc.CreditConnRecv(40)
	if fc.streamRecv[1] != 100 {
		t.Fatalf("streamRecv[1] = %d, want 100", fc.streamRecv[1])
	}
	if fc.connRecv != 100 {
		t.Fatalf("connRecv = %d, want 100", fc.connRecv)
	}
}
