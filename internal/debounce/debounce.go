// Package debounce implements the per-channel adaptive message batcher
// (spec component C5): messages pile into a batch while they keep arriving
// rapidly, then drain as one combined turn once things go quiet.
package debounce

import (
	"sync"
	"time"
)

// Message is the minimal shape the batcher needs from an inbound message;
// callers pass their own richer type wrapped to satisfy this.
type Message struct {
	AuthorName string
	IsBot      bool
	Payload    any // the caller's own message value, round-tripped unchanged
}

// Config holds the tunable debounce timings, each defaulting to the values
// below.
type Config struct {
	Initial             time.Duration // non-human-topology initial wait, default 1.5s
	HumanInitial        time.Duration // ≥3 participants + human present, default 5s
	RapidThreshold      time.Duration // default 2s
	Increment           time.Duration // default 1s
	Max                 time.Duration // default 10s
	HumanPresenceWindow time.Duration // default 300s
}

type participant struct {
	lastSeen time.Time
	isBot    bool
}

type batch struct {
	messages      []Message
	currentWait   time.Duration
	lastMessageTs time.Time
	timer         *time.Timer
	generation    uint64 // bumped on every Enqueue so a superseded timer's fire is a no-op
}

// Batcher holds all per-channel batch and topology state.
type Batcher struct {
	cfg Config

	mu           sync.Mutex
	batches      map[string]*batch
	participants map[string]map[string]*participant // channel -> author -> info
}

// New constructs a Batcher, filling any zero-valued Config fields with
// their defaults.
func New(cfg Config) *Batcher {
	if cfg.Initial == 0 {
		cfg.Initial = 1500 * time.Millisecond
	}
	if cfg.HumanInitial == 0 {
		cfg.HumanInitial = 5 * time.Second
	}
	if cfg.RapidThreshold == 0 {
		cfg.RapidThreshold = 2 * time.Second
	}
	if cfg.Increment == 0 {
		cfg.Increment = time.Second
	}
	if cfg.Max == 0 {
		cfg.Max = 10 * time.Second
	}
	if cfg.HumanPresenceWindow == 0 {
		cfg.HumanPresenceWindow = 300 * time.Second
	}
	return &Batcher{
		cfg:          cfg,
		batches:      make(map[string]*batch),
		participants: make(map[string]map[string]*participant),
	}
}

// Observe records that author was seen in channel, updating topology
// tracking independent of whether the message starts or joins a batch.
// Bots are tracked the same as humans; humans_present depends on it.
func (b *Batcher) Observe(channel, author string, isBot bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.participants[channel]
	if !ok {
		m = make(map[string]*participant)
		b.participants[channel] = m
	}
	m[author] = &participant{lastSeen: time.Now(), isBot: isBot}
}

// topology computes the active-participant count and human-presence flag
// for channel, excluding self, per §4.5.
func (b *Batcher) topology(channel, self string) (count int, humanPresent bool) {
	now := time.Now()
	for author, p := range b.participants[channel] {
		if author == self {
			continue
		}
		if now.Sub(p.lastSeen) > b.cfg.HumanPresenceWindow {
			continue
		}
		count++
		if !p.isBot {
			humanPresent = true
		}
	}
	return count, humanPresent
}

// Enqueue adds msg to channel's batch (creating one if needed), escalating
// the wait on rapid-fire arrivals, and restarts the batch timer. It returns
// nothing: when the timer fires, the whole batch is drained and handed to
// the onDrain callback passed to this call.
func (b *Batcher) Enqueue(channel, self, author string, isBot bool, payload any, onDrain func(channel string, messages []Message)) {
	b.Observe(channel, author, isBot)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	bt, exists := b.batches[channel]
	if !exists {
		count, humanPresent := b.topology(channel, self)
		wait := b.cfg.Initial
		if count >= 3 && humanPresent {
			wait = b.cfg.HumanInitial
		}
		bt = &batch{currentWait: wait}
		b.batches[channel] = bt
	} else if now.Sub(bt.lastMessageTs) < b.cfg.RapidThreshold {
		bt.currentWait += b.cfg.Increment
		if bt.currentWait > b.cfg.Max {
			bt.currentWait = b.cfg.Max
		}
	}

	bt.messages = append(bt.messages, Message{AuthorName: author, IsBot: isBot, Payload: payload})
	bt.lastMessageTs = now
	bt.generation++
	gen := bt.generation

	if bt.timer != nil {
		bt.timer.Stop()
	}
	bt.timer = time.AfterFunc(bt.currentWait, func() {
		b.fire(channel, gen, onDrain)
	})
}

// fire atomically drains the batch for channel if gen still matches the
// live batch's generation — a lost-race cancel from a later Enqueue call
// makes this a no-op, satisfying the cancellation invariant in §4.5.
func (b *Batcher) fire(channel string, gen uint64, onDrain func(channel string, messages []Message)) {
	b.mu.Lock()
	bt, ok := b.batches[channel]
	if !ok || bt.generation != gen {
		b.mu.Unlock()
		return
	}
	messages := bt.messages
	delete(b.batches, channel)
	b.mu.Unlock()

	if onDrain != nil {
		onDrain(channel, messages)
	}
}

// Cancel discards any pending batch for channel without draining it,
// invalidating its timer so a subsequent fire is a no-op.
func (b *Batcher) Cancel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bt, ok := b.batches[channel]; ok {
		if bt.timer != nil {
			bt.timer.Stop()
		}
		delete(b.batches, channel)
	}
}
