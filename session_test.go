package session

import (
	"context"
	"net"
	"testing"
	"time"
)

func newSessionPair(t *testing.T) (client, server *Session) {
	t.Helper()
	c1, c2 := net.Pipe()
	cfg := DefaultConfig()
	client = NewSession(c1, RoleClient, cfg, true)
	server = NewSession(c2, RoleServer, cfg, true)

	// net.Pipe is unbuffered and synchronous: the server's preface read
	// and settings write only unblock once the client side is writing and
	// reading concurrently, so both Start calls must run on separate
	// goroutines rather than one after the other.
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()
	if err := client.Start(); err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("server.Start: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestSessionSettingsHandshake(t *testing.T) {
	client, server := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.AwaitSettingsAck(ctx); err != nil {
		t.Fatalf("client AwaitSettingsAck: %v", err)
	}
	if err := server.AwaitSettingsAck(ctx); err != nil {
		t.Fatalf("server AwaitSettingsAck: %v", err)
	}
}

func TestSessionSendRequestDeliversHeaders(t *testing.T) {
	client, server := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.AwaitSettingsAck(ctx); err != nil {
		t.Fatalf("client AwaitSettingsAck: %v", err)
	}

	received := make(chan *CompletedHeaders, 1)
	server.Subscribe(func(ev Event) {
		if ev.Kind == EventFrameReceived {
			if ch, ok := ev.Frame.(*CompletedHeaders); ok {
				received <- ch
			}
		}
	})

	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/hello"},
	}
	st, err := client.SendRequest(fields, true)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if st.id != 1 {
		t.Fatalf("stream id = %d, want 1", st.id)
	}

	select {
	case ch := <-received:
		if pseudoValue(ch.Fields, ":path") != "/hello" {
			t.Fatalf("server saw :path = %q, want /hello", pseudoValue(ch.Fields, ":path"))
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server to receive HEADERS")
	}
}

func TestSessionPingRoundTrip(t *testing.T) {
	client, server := newSessionPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.AwaitSettingsAck(ctx); err != nil {
		t.Fatalf("client AwaitSettingsAck: %v", err)
	}
	_ = server
	done := make(chan error, 1)
	go func() {
		var data [8]byte
		copy(data[:], "pingpng!")
		done <- client.Ping(data)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Ping: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for PING ack")
	}
}

func TestSessionSendRequestRejectsPromisedPath(t *testing.T) {
	client, _ := newSessionPair(t)
	client.promises.Insert(2, "/already-pushed")
	_, err := client.SendRequest([]HeaderField{{Name: ":path", Value: "/already-pushed"}}, true)
	if _, ok := err.(ErrResourcePromised); !ok {
		t.Fatalf("err = %v, want ErrResourcePromised", err)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	client, _ := newSessionPair(t)
	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
