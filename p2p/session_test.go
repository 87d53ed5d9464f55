package p2p

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestSessionHandshakeSucceeds(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sa := NewSession(a, "peer-a", nil)
	sb := NewSession(b, "peer-b", nil)

	ctx := context.Background()
	errCh := make(chan error, 2)
	go func() { errCh <- sa.Handshake(ctx, 0, "a-addr") }()
	go func() { errCh <- sb.Handshake(ctx, 0, "b-addr") }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("Handshake failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handshake did not complete in time")
		}
	}
}

func TestSessionHandshakeRejectsSelfConnection(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	nonce := NewSession(a, "self", nil).nonce
	sa := &Session{conn: a, peer: "self", nonce: nonce}
	sb := NewSession(b, "other", nil)
	sb.nonce = nonce // force the same nonce to simulate a self-dial

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- sa.Handshake(ctx, 0, "a-addr") }()

	err := sb.Handshake(ctx, 0, "b-addr")
	<-errCh
	if err == nil {
		t.Fatalf("Handshake should reject a peer echoing our own nonce")
	}
}

func TestManagerAddRemoveAndCount(t *testing.T) {
	m := NewManager()
	a, _ := net.Pipe()
	defer a.Close()
	s := NewSession(a, "peer-1", nil)

	m.Add(s)
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
	m.Remove("peer-1")
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after Remove", m.Count())
	}
}

func TestManagerAnycastNoSessions(t *testing.T) {
	m := NewManager()
	if _, err := m.Anycast(Envelope{Kind: KindPing}); err == nil {
		t.Fatalf("Anycast should fail with no active sessions")
	}
}

func TestManagerAnycastRoundRobin(t *testing.T) {
	m := NewManager()
	var conns []net.Conn
	for i := 0; i < 3; i++ {
		a, b := net.Pipe()
		conns = append(conns, a, b)
		go func(c net.Conn) {
			buf := make([]byte, 9)
			c.Read(buf)
		}(b)
		peer := string(rune('a' + i))
		m.Add(NewSession(a, peer, nil))
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		peer, err := m.Anycast(Envelope{Kind: KindPing})
		if err != nil {
			t.Fatalf("Anycast failed: %v", err)
		}
		seen[peer] = true
	}
	if len(seen) != 3 {
		t.Fatalf("round-robin anycast should have reached all 3 peers, got %d", len(seen))
	}
}
