package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"oraclegridd/metrics"
)

const (
	// ProtocolID is the libp2p stream protocol this node's framed wire
	// messages run over. The host's gossipsub instance joins no topic, so
	// all block/transaction relay goes through this protocol.
	ProtocolID = "/oraclegridd/wire/1.0.0"

	handshakeTimeout = 10 * time.Second
	heartbeatPeriod  = 30 * time.Second
	pongTimeout      = 15 * time.Second
)

// Session wraps one peer connection's framed message stream with
// handshake and heartbeat state, adapted from the teacher's connection
// pool (core/connection_pool.go's per-address idle tracking and reaper
// goroutine) generalized from a bare net.Conn pool into a protocol-aware
// session that knows how to speak Version/Verack/Ping/Pong.
type Session struct {
	conn   io.ReadWriteCloser
	peer   string
	nonce  uuid.UUID
	log    *logrus.Entry

	mu           sync.Mutex
	lastPongAt   time.Time
	handshakeOK  bool

	onMessage func(Envelope)
}

// NewSession wraps conn for peer, calling onMessage for every message
// received after a successful handshake.
func NewSession(conn io.ReadWriteCloser, peer string, onMessage func(Envelope)) *Session {
	return &Session{
		conn:      conn,
		peer:      peer,
		nonce:     uuid.New(),
		log:       logrus.WithField("peer", peer),
		onMessage: onMessage,
	}
}

// Handshake performs the Version/Verack exchange, failing if it does not
// complete within handshakeTimeout.
func (s *Session) Handshake(ctx context.Context, bestEpoch uint32, listenAddr string) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		env, err := EncodeMessage(KindVersion, VersionMessage{
			ProtocolVersion: 1, Nonce: s.nonce, BestEpoch: bestEpoch, ListenAddr: listenAddr,
		})
		if err != nil {
			done <- err
			return
		}
		// Send and receive concurrently so the exchange also completes over
		// an unbuffered connection, where a write blocks until the peer reads.
		versionSent := make(chan error, 1)
		go func() { versionSent <- WriteEnvelope(s.conn, env) }()

		peerVersion, err := ReadEnvelope(s.conn)
		if err != nil {
			done <- err
			return
		}
		if err := <-versionSent; err != nil {
			done <- err
			return
		}
		if peerVersion.Kind != KindVersion {
			done <- fmt.Errorf("p2p: expected version, got kind %d", peerVersion.Kind)
			return
		}
		var vm VersionMessage
		if err := DecodeMessage(peerVersion, &vm); err != nil {
			done <- err
			return
		}
		if vm.Nonce == s.nonce {
			done <- fmt.Errorf("p2p: rejecting self-connection")
			return
		}

		ack, err := EncodeMessage(KindVerack, VerackMessage{})
		if err != nil {
			done <- err
			return
		}
		ackSent := make(chan error, 1)
		go func() { ackSent <- WriteEnvelope(s.conn, ack) }()

		peerAck, err := ReadEnvelope(s.conn)
		if err != nil {
			done <- err
			return
		}
		if err := <-ackSent; err != nil {
			done <- err
			return
		}
		if peerAck.Kind != KindVerack {
			done <- fmt.Errorf("p2p: expected verack, got kind %d", peerAck.Kind)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.handshakeOK = true
		s.lastPongAt = time.Now()
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("p2p: handshake timed out with %s", s.peer)
	}
}

// Serve reads framed messages until the connection closes or ctx is
// cancelled, dispatching each to onMessage and answering Ping with Pong.
func (s *Session) Serve(ctx context.Context) error {
	go s.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := ReadEnvelope(s.conn)
		if err != nil {
			return fmt.Errorf("p2p: session %s closed: %w", s.peer, err)
		}
		switch env.Kind {
		case KindPing:
			var ping PingMessage
			if err := DecodeMessage(env, &ping); err == nil {
				pong, _ := EncodeMessage(KindPong, PongMessage{Nonce: ping.Nonce})
				_ = WriteEnvelope(s.conn, pong)
			}
		case KindPong:
			s.mu.Lock()
			s.lastPongAt = time.Now()
			s.mu.Unlock()
		default:
			if s.onMessage != nil {
				s.onMessage(env)
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	var nonce uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := time.Since(s.lastPongAt) > heartbeatPeriod+pongTimeout
			s.mu.Unlock()
			if stale {
				s.log.Warn("peer heartbeat timed out, closing session")
				_ = s.conn.Close()
				return
			}
			nonce++
			env, err := EncodeMessage(KindPing, PingMessage{Nonce: nonce})
			if err != nil {
				continue
			}
			if err := WriteEnvelope(s.conn, env); err != nil {
				s.log.WithError(err).Warn("ping write failed")
				return
			}
		}
	}
}

// Send writes env to the peer.
func (s *Session) Send(env Envelope) error {
	return WriteEnvelope(s.conn, env)
}

// Close tears down the session's underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Manager fans a message out to multiple sessions: Anycast to exactly one
// (round-robin), Broadcast to all.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	next     int
	log      *logrus.Entry
}

// NewManager constructs an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), log: logrus.WithField("component", "session_manager")}
}

// Add registers an active session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.peer]; !exists {
		m.order = append(m.order, s.peer)
	}
	m.sessions[s.peer] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

// Remove drops a session, e.g. after it closes.
func (m *Manager) Remove(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peer)
	for i, p := range m.order {
		if p == peer {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

// Broadcast sends env to every active session.
func (m *Manager) Broadcast(env Envelope) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if err := s.Send(env); err != nil {
			m.log.WithError(err).WithField("peer", s.peer).Warn("broadcast send failed")
		}
	}
}

// Anycast sends env to one session chosen round-robin, returning the peer
// it was sent to.
func (m *Manager) Anycast(env Envelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return "", fmt.Errorf("p2p: no active sessions")
	}
	m.next %= len(m.order)
	peer := m.order[m.next]
	m.next++
	s := m.sessions[peer]
	if s == nil {
		return "", fmt.Errorf("p2p: session vanished for %s", peer)
	}
	return peer, s.Send(env)
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
