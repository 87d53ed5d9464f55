package p2p

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncTimeout is how long the inventory tracker waits for a requested
// item's payload before reverting the chain manager to WaitingConsensus.
const SyncTimeout = 30 * time.Second

// InventoryTracker drives LastBeacon-based synchronization: it compares
// peers' announced best state to the local one, issues inventory requests
// for missing items, and gossips newly produced
// blocks and every transaction kind to the rest of the session set.
type InventoryTracker struct {
	mu       sync.Mutex
	mgr      *Manager
	log      *logrus.Entry

	pendingRequests map[string]time.Time // hash -> request sent time
	onTimeout       func()
}

// NewInventoryTracker constructs a tracker broadcasting through mgr.
// onTimeout is invoked if a requested item's payload never arrives within
// SyncTimeout, the signal the chain manager uses to fall back to
// WaitingConsensus.
func NewInventoryTracker(mgr *Manager, onTimeout func()) *InventoryTracker {
	return &InventoryTracker{
		mgr:             mgr,
		log:             logrus.WithField("component", "inventory"),
		pendingRequests: make(map[string]time.Time),
		onTimeout:       onTimeout,
	}
}

// AnnounceBlock gossips a newly produced or received block's hash to every
// peer.
func (t *InventoryTracker) AnnounceBlock(hash string) {
	t.announce("block", []string{hash})
}

// AnnounceTransaction gossips a transaction hash of the given kind.
func (t *InventoryTracker) AnnounceTransaction(kind, hash string) {
	t.announce(kind, []string{hash})
}

func (t *InventoryTracker) announce(kind string, hashes []string) {
	for len(hashes) > 0 {
		batch := hashes
		if len(batch) > MaxInventoryHashes {
			batch = batch[:MaxInventoryHashes]
		}
		env, err := EncodeMessage(KindInventoryAnnouncement, InventoryAnnouncementMessage{ItemKind: kind, Hashes: batch})
		if err == nil {
			t.mgr.Broadcast(env)
		}
		hashes = hashes[len(batch):]
	}
}

// RequestMissing sends one request for the payloads of hashes of kind to a
// single session chosen by the manager's round-robin Anycast; peer does not
// select the recipient. It starts a timeout for each hash that reverts sync
// state if unanswered.
func (t *InventoryTracker) RequestMissing(peer, kind string, hashes []string) error {
	env, err := EncodeMessage(KindInventoryRequest, InventoryRequestMessage{ItemKind: kind, Hashes: hashes})
	if err != nil {
		return err
	}

	t.mu.Lock()
	now := time.Now()
	for _, h := range hashes {
		t.pendingRequests[h] = now
	}
	t.mu.Unlock()

	go t.watchTimeout(hashes)

	_, err = t.mgr.Anycast(env)
	_ = peer
	return err
}

func (t *InventoryTracker) watchTimeout(hashes []string) {
	time.Sleep(SyncTimeout)
	t.mu.Lock()
	var anyStillPending bool
	for _, h := range hashes {
		if _, ok := t.pendingRequests[h]; ok {
			anyStillPending = true
			delete(t.pendingRequests, h)
		}
	}
	t.mu.Unlock()
	if anyStillPending {
		t.log.Warn("inventory request timed out, reverting sync state")
		if t.onTimeout != nil {
			t.onTimeout()
		}
	}
}

// Fulfilled marks hash as delivered, clearing its pending timeout.
func (t *InventoryTracker) Fulfilled(hash string) {
	t.mu.Lock()
	delete(t.pendingRequests, hash)
	t.mu.Unlock()
}

// ExchangeBeacon broadcasts the local LastBeacon state, used on entering
// Synchronizing and periodically while catching up.
func (t *InventoryTracker) ExchangeBeacon(beacon LastBeaconMessage) {
	env, err := EncodeMessage(KindLastBeacon, beacon)
	if err != nil {
		return
	}
	t.mgr.Broadcast(env)
}
