// Package admission bounds how often an entity may speak in a conversation.
package admission

import (
	"sync"
	"time"

	"basegraph.app/chorus/internal/tuning"
)

const window = time.Minute

type key struct {
	conversationID int64
	entityID       int64
}

type record struct {
	lastReply time.Time
	// replies holds reply times inside the trailing window, oldest first.
	replies []time.Time
}

// Gate combines a per-pair cooldown with a cap on replies in any trailing
// minute. State is process-local and starts empty on restart.
type Gate struct {
	tuning tuning.Source
	now    func() time.Time

	mu      sync.Mutex
	records map[key]*record
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(src tuning.Source, opts ...Option) *Gate {
	g := &Gate{
		tuning:  src,
		now:     time.Now,
		records: make(map[key]*record),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanReply reports whether entityID may speak in conversationID now. It does
// not consume budget.
func (g *Gate) CanReply(conversationID, entityID int64) bool {
	t := g.tuning.Current()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[key{conversationID, entityID}]
	if !ok {
		return true
	}

	if cooldown := t.Cooldown(); cooldown > 0 && now.Sub(rec.lastReply) < cooldown {
		return false
	}
	if t.MaxRepliesPerMinute > 0 && rec.inWindow(now) >= t.MaxRepliesPerMinute {
		return false
	}
	return true
}

// RecordReply notes that entityID just spoke in conversationID.
func (g *Gate) RecordReply(conversationID, entityID int64) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{conversationID, entityID}
	rec, ok := g.records[k]
	if !ok {
		rec = &record{}
		g.records[k] = rec
	}
	rec.lastReply = now
	rec.prune(now)
	rec.replies = append(rec.replies, now)
}

// Reset forgets a conversation, e.g. after it is deleted.
func (g *Gate) Reset(conversationID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.records {
		if k.conversationID == conversationID {
			delete(g.records, k)
		}
	}
}

// prune drops replies that fell out of the trailing window.
func (r *record) prune(now time.Time) {
	cut := 0
	for cut < len(r.replies) && now.Sub(r.replies[cut]) >= window {
		cut++
	}
	if cut > 0 {
		r.replies = append(r.replies[:0], r.replies[cut:]...)
	}
}

func (r *record) inWindow(now time.Time) int {
	n := 0
	for _, at := range r.replies {
		if now.Sub(at) < window {
			n++
		}
	}
	return n
}
