package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Pub/Sub Hub
// --------------------------------------------------------------------------

// Hub is the publish/subscribe mechanism of the stores. Every channel has a
// sequence counting the messages published on it. Subscribers remember the
// last sequence they have seen and wait for it to grow, so a subscriber never
// misses a message published after it read the sequence.
//
// A channel is only kept while someone watches it. Channels without watchers
// share their sequence with the other channels of the same stripe, so the
// sequence of a channel never goes back when it is dropped. A watcher may see
// a sequence jump caused by a channel of the same stripe.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	channels *xsync.MapOf[string, *hubChannel]
	floors   [hubStripes]atomic.Uint64
}

// hubStripes is the number of sequences shared by channels without watchers
const hubStripes = 256

type hubChannel struct {
	mu       sync.Mutex
	seq      uint64
	notify   chan struct{} // closed and replaced on every publish
	watchers int           // only changed inside Compute of the entry
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{
		channels: xsync.NewMapOf[string, *hubChannel](),
	}
}

// floor returns the shared sequence of the stripe of channel (FNV-1a)
func (h *Hub) floor(channel string) *atomic.Uint64 {
	hash := uint32(2166136261)
	for i := 0; i < len(channel); i++ {
		hash ^= uint32(channel[i])
		hash *= 16777619
	}
	return &h.floors[hash%hubStripes]
}

// raise sets the floor of channel to at least seq
func (h *Hub) raise(channel string, seq uint64) {
	f := h.floor(channel)
	for {
		cur := f.Load()
		if cur >= seq || f.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// watch registers a watcher and creates the channel if necessary
func (h *Hub) watch(name string) *hubChannel {
	c, _ := h.channels.Compute(name, func(c *hubChannel, loaded bool) (*hubChannel, bool) {
		if !loaded {
			c = &hubChannel{seq: h.floor(name).Load(), notify: make(chan struct{})}
		}
		c.watchers++
		return c, false
	})
	return c
}

// unwatch unregisters a watcher and drops the channel after the last one
func (h *Hub) unwatch(name string, c *hubChannel) {
	h.channels.Compute(name, func(cur *hubChannel, loaded bool) (*hubChannel, bool) {
		if !loaded || cur != c {
			return cur, !loaded
		}
		c.watchers--
		if c.watchers > 0 {
			return c, false
		}
		c.mu.Lock()
		h.raise(name, c.seq)
		c.mu.Unlock()
		return nil, true
	})
}

// Publish publishes a message on channel and returns the new sequence
func (h *Hub) Publish(channel string) uint64 {
	var seq uint64
	h.channels.Compute(channel, func(c *hubChannel, loaded bool) (*hubChannel, bool) {
		if !loaded {
			seq = h.floor(channel).Add(1)
			return nil, true
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.seq++
		close(c.notify)
		c.notify = make(chan struct{})
		seq = c.seq
		return c, false
	})
	return seq
}

// Sequence returns the current sequence of channel
func (h *Hub) Sequence(channel string) uint64 {
	c, ok := h.channels.Load(channel)
	if !ok {
		return h.floor(channel).Load()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Watch blocks until the sequence of channel is greater than after or ctx is done
func (h *Hub) Watch(ctx context.Context, channel string, after uint64) (uint64, error) {
	c := h.watch(channel)
	defer h.unwatch(channel, c)
	for {
		c.mu.Lock()
		seq, notify := c.seq, c.notify
		c.mu.Unlock()

		if seq > after {
			return seq, nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return seq, ctx.Err()
		}
	}
}

// Channels returns the number of channels with watchers
func (h *Hub) Channels() int {
	return h.channels.Size()
}
