package chain

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"oraclegridd/metrics"
)

// EpochSubscription receives a callback on every epoch boundary, or once
// on the next boundary if once is set.
type EpochSubscription struct {
	fn   func(epoch uint32)
	once bool
}

// EpochClock ticks the protocol's fixed-duration epochs and fans the
// boundary out to subscribers, mirroring the teacher's checkpoint/ticker
// goroutines (core/consensus_start.go's start/stop pattern) generalized
// into a reusable publish/subscribe clock instead of one hardcoded loop.
type EpochClock struct {
	mu            sync.Mutex
	epochDuration time.Duration
	genesis       time.Time
	current       uint32
	started       bool
	subs          map[uint64]*EpochSubscription
	nextSubID     uint64
	lastBoundary  time.Time

	log *logrus.Entry
}

// NewEpochClock constructs a clock with genesis as epoch 0's start time.
func NewEpochClock(genesis time.Time, epochDuration time.Duration) *EpochClock {
	return &EpochClock{
		epochDuration: epochDuration,
		genesis:       genesis,
		subs:          make(map[uint64]*EpochSubscription),
		log:           logrus.WithField("component", "epoch"),
	}
}

// EpochAt computes which epoch contains t.
func (c *EpochClock) EpochAt(t time.Time) uint32 {
	if t.Before(c.genesis) {
		return 0
	}
	return uint32(t.Sub(c.genesis) / c.epochDuration)
}

// Current returns the last epoch this clock has ticked into.
func (c *EpochClock) Current() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe registers fn to run on every future epoch boundary. If once is
// true, fn runs exactly once on the next boundary then is removed.
func (c *EpochClock) Subscribe(once bool, fn func(epoch uint32)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = &EpochSubscription{fn: fn, once: once}
	return id
}

// Unsubscribe removes a subscription by its id.
func (c *EpochClock) Unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Run drives the clock until ctx is cancelled, firing subscriptions on
// every epoch boundary it crosses (catching up immediately if the process
// started mid-epoch or missed boundaries while stopped).
func (c *EpochClock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.epochDuration / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *EpochClock) tick(now time.Time) {
	target := c.EpochAt(now)

	c.mu.Lock()
	if c.started && target <= c.current {
		c.mu.Unlock()
		return
	}
	start := target
	if c.started {
		start = c.current + 1
	}
	c.started = true
	c.current = target
	if !c.lastBoundary.IsZero() {
		metrics.EpochDuration.Observe(now.Sub(c.lastBoundary).Seconds())
	}
	c.lastBoundary = now
	var fire, fireOnce []func(epoch uint32)
	for id, sub := range c.subs {
		if sub.once {
			fireOnce = append(fireOnce, sub.fn)
			delete(c.subs, id)
			continue
		}
		fire = append(fire, sub.fn)
	}
	c.mu.Unlock()

	for _, fn := range fireOnce {
		fn(start)
	}
	for e := start; e <= target; e++ {
		for _, fn := range fire {
			fn(e)
		}
	}
	c.log.WithField("epoch", target).Debug("epoch boundary")
}
