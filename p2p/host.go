package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// HostConfig configures the libp2p transport the session layer rides on.
// This is a direct descendant of the teacher's Config/NewNode
// (core/network.go): same listen address, discovery tag and bootstrap
// peer list, reused for transport/NAT/mDNS while the node's own framed
// protocol (session.go) replaces pubsub as the wire message channel.
type HostConfig struct {
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
}

// Host wraps a libp2p host plus a gossipsub instance created alongside it.
// The host joins no gossipsub topic and publishes nothing through it;
// blocks and transactions travel over the framed session protocol.
type Host struct {
	libp2pHost host.Host
	pubsub     *pubsub.PubSub
	sessions   *Manager
	peers      *PeerManager
	onMessage  func(peerID string, env Envelope)
	ctx        context.Context
	cancel     context.CancelFunc
	log        *logrus.Entry
}

// NewHost creates and bootstraps a libp2p host, registers the wire
// protocol stream handler, and starts mDNS discovery.
func NewHost(cfg HostConfig, onMessage func(peerID string, env Envelope)) (*Host, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: create pubsub: %w", err)
	}

	node := &Host{
		libp2pHost: h,
		pubsub:     ps,
		sessions:   NewManager(),
		peers:      NewPeerManager(cfg.BootstrapPeers, 16),
		onMessage:  onMessage,
		ctx:        ctx,
		cancel:     cancel,
		log:        logrus.WithField("component", "p2p_host"),
	}

	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		peerID := s.Conn().RemotePeer().String()
		sess := NewSession(s, peerID, func(env Envelope) { onMessage(peerID, env) })
		node.sessions.Add(sess)
		if err := sess.Handshake(ctx, 0, cfg.ListenAddr); err != nil {
			node.log.WithError(err).Warn("inbound handshake failed")
			node.sessions.Remove(peerID)
			s.Close()
			return
		}
		node.peers.MarkTried(peerID)
		go func() {
			_ = sess.Serve(ctx)
			node.sessions.Remove(peerID)
		}()
	})

	if err := mdns.NewMdnsService(h, cfg.DiscoveryTag, &discoveryNotifee{host: node}).Start(); err != nil {
		node.log.WithError(err).Warn("mdns discovery failed to start")
	}

	for _, addr := range cfg.BootstrapPeers {
		node.dialAndHandshake(addr, cfg.ListenAddr)
	}

	return node, nil
}

type discoveryNotifee struct{ host *Host }

func (d *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == d.host.libp2pHost.ID() {
		return
	}
	d.host.dialAndHandshake(info.String(), "")
}

func (h *Host) dialAndHandshake(addr, listenAddr string) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		h.log.WithError(err).Warn("invalid bootstrap address")
		return
	}
	if err := h.libp2pHost.Connect(h.ctx, *pi); err != nil {
		h.peers.MarkFailed(addr)
		h.log.WithError(err).WithField("addr", addr).Warn("dial failed")
		return
	}
	stream, err := h.libp2pHost.NewStream(h.ctx, pi.ID, ProtocolID)
	if err != nil {
		h.peers.MarkFailed(addr)
		return
	}
	peerID := pi.ID.String()
	sess := NewSession(stream, peerID, func(env Envelope) { h.onMessage(peerID, env) })
	h.sessions.Add(sess)
	if err := sess.Handshake(h.ctx, 0, listenAddr); err != nil {
		h.log.WithError(err).Warn("outbound handshake failed")
		h.sessions.Remove(peerID)
		stream.Close()
		return
	}
	h.peers.MarkTried(addr)
	go func() {
		_ = sess.Serve(h.ctx)
		h.sessions.Remove(peerID)
	}()
}

// Sessions returns the host's active session manager, for inventory
// broadcast and anycast.
func (h *Host) Sessions() *Manager { return h.sessions }

// Peers returns the host's address manager.
func (h *Host) Peers() *PeerManager { return h.peers }

// Close tears down the host and its context.
func (h *Host) Close() error {
	h.cancel()
	return h.libp2pHost.Close()
}
