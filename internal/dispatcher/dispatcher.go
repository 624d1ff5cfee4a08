// Package dispatcher implements the per-channel state machine (spec
// component C7) that turns an inbound message into at most one claimed,
// invoked, and broadcast reply. Exactly one Dispatcher per running daemon;
// per-channel state is held internally behind a single mutex, and each turn
// runs on the debounce batcher's timer goroutine for the drained batch.
package dispatcher

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lyra-systems/convbus/internal/bus"
	"github.com/lyra-systems/convbus/internal/debounce"
)

// State names the per-channel FSM position.
type State int

const (
	Idle State = iota
	Batching
	Claiming
	Invoking
	Delivering
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Batching:
		return "batching"
	case Claiming:
		return "claiming"
	case Invoking:
		return "invoking"
	case Delivering:
		return "delivering"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// InboundMessage is a single message arriving on a channel, from any
// ingestion surface (chat fabric, Kafka adapter, stdio transport).
type InboundMessage struct {
	Channel    string
	ExternalID string
	AuthorID   int64
	AuthorName string
	Content    string
	IsBot      bool
	Timestamp  time.Time
}

// Ledger is the subset of the C1 contract the dispatcher depends on.
type Ledger interface {
	Append(ctx context.Context, m InboundMessage) (id int64, dup bool, err error)
}

// ClaimStore is the subset of the C3 contract the dispatcher depends on.
type ClaimStore interface {
	TryClaim(ctx context.Context, channel, message, instance string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, channel, message, instance string) error
}

// ActiveMode is the subset of the C4 contract the dispatcher depends on.
type ActiveMode interface {
	IsActive(ctx context.Context, channel string) (bool, error)
	Touch(ctx context.Context, channel string) error
}

// MemoryRouter is the subset of the C2 contract the dispatcher depends on.
type MemoryRouter interface {
	AmbientRecall(ctx context.Context, channel, context_ string) (string, error)
	FanOutIngest(ctx context.Context, m InboundMessage)
}

// Invoker is the subset of the C6 contract the dispatcher depends on.
type Invoker interface {
	Invoke(ctx context.Context, sessionKey, prompt string, timeout time.Duration) (reply string, err error)
}

// Broadcaster is the subset of the C8 contract the dispatcher depends on.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, chunks []string) error
}

// Deps bundles the dispatcher's collaborators.
type Deps struct {
	Ledger     Ledger
	Claims     ClaimStore
	Active     ActiveMode
	Memory     MemoryRouter
	Invoker    Invoker
	Broadcast  Broadcaster
	SelfName   string
	Instance   string
	ClaimTTL   time.Duration
	ChunkLimit int // default 2000, split on 1900-char boundaries
}

const (
	defaultChunkLimit = 2000
	defaultChunkSplit = 1900
	passiveSkip       = "PASSIVE_SKIP"
)

// batchedMessage is what the dispatcher stashes in each debounce.Message's
// opaque Payload: the original inbound message plus the id the ledger
// assigned it, since the claim key is the last message's id.
type batchedMessage struct {
	msg      InboundMessage
	ledgerID int64
}

// Dispatcher drives the per-channel FSM described in §4.7. Turns are driven
// off the debounce batcher's own timer goroutine, so Ingest returns as soon
// as a message is appended and (if applicable) enqueued — it never blocks
// waiting for a turn to run.
type Dispatcher struct {
	deps    Deps
	batcher *debounce.Batcher

	mu        sync.Mutex
	states    map[string]State
	isPrivate map[string]bool

	// turnCtx supplies the context for turns run from the batcher's timer
	// goroutine, which has no request context of its own to inherit.
	turnCtx context.Context
}

// New constructs a Dispatcher. privateChannels marks DM-like rooms where
// every inbound non-self message counts as a mention. turnCtx bounds every
// asynchronously-triggered turn (daemon lifetime context, typically).
func New(turnCtx context.Context, deps Deps, debounceCfg debounce.Config, privateChannels map[string]bool) *Dispatcher {
	if deps.ChunkLimit == 0 {
		deps.ChunkLimit = defaultChunkLimit
	}
	return &Dispatcher{
		deps:      deps,
		batcher:   debounce.New(debounceCfg),
		states:    make(map[string]State),
		isPrivate: privateChannels,
		turnCtx:   turnCtx,
	}
}

func (d *Dispatcher) State(channel string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[channel]
}

func (d *Dispatcher) setState(channel string, s State) {
	d.mu.Lock()
	d.states[channel] = s
	d.mu.Unlock()
}

func (d *Dispatcher) isMention(channel, content string) bool {
	if d.isPrivate[channel] {
		return true
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(d.deps.SelfName))
}

// Ingest processes one inbound message through the Idle/Batching legs of
// the FSM: append to the ledger, fan out to memory, and either stay Idle or
// enter Batching and enqueue into the debouncer. The Claiming → Cooldown
// legs run later, asynchronously, when the debounce timer fires.
func (d *Dispatcher) Ingest(ctx context.Context, msg InboundMessage) error {
	id, dup, err := d.deps.Ledger.Append(ctx, msg)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}
	d.deps.Memory.FanOutIngest(ctx, msg)

	mention := d.isMention(msg.Channel, msg.Content)
	active, err := d.deps.Active.IsActive(ctx, msg.Channel)
	if err != nil {
		return err
	}
	if !mention && !active {
		d.setState(msg.Channel, Idle)
		return nil
	}

	d.setState(msg.Channel, Batching)
	d.batcher.Enqueue(msg.Channel, d.deps.SelfName, msg.AuthorName, msg.IsBot, batchedMessage{msg: msg, ledgerID: id}, d.onDrain)
	return nil
}

// onDrain is called from the batcher's timer goroutine once a channel's
// batch is ready; it runs the Claiming → Cooldown legs of the FSM.
func (d *Dispatcher) onDrain(channel string, drained []debounce.Message) {
	batch := make([]InboundMessage, 0, len(drained))
	mention := false
	var lastID int64
	for _, dm := range drained {
		bm := dm.Payload.(batchedMessage)
		batch = append(batch, bm.msg)
		lastID = bm.ledgerID
		if d.isMention(channel, bm.msg.Content) {
			mention = true
		}
	}
	if len(batch) == 0 {
		return
	}
	d.runTurn(d.turnCtx, channel, batch, strconv.FormatInt(lastID, 10), mention)
}

// runTurn executes the Claiming → Invoking → Delivering → Cooldown legs for
// a drained batch.
func (d *Dispatcher) runTurn(ctx context.Context, channel string, batch []InboundMessage, lastMessageID string, mention bool) error {
	d.setState(channel, Claiming)
	ok, err := d.deps.Claims.TryClaim(ctx, channel, lastMessageID, d.deps.Instance, d.deps.ClaimTTL)
	if err != nil {
		d.setState(channel, Idle)
		return err
	}
	if !ok {
		// Another instance owns this turn.
		d.setState(channel, Idle)
		return nil
	}

	d.setState(channel, Invoking)
	replySent := false
	passiveSkipCompletion := false
	defer func() {
		// Every abort path releases the claim. Active-mode is touched when
		// a reply was actually sent, when the turn was a direct mention, or
		// when the worker completed with a deliberate passive-mode skip
		// (no reply, but not a failure) — that last case still counts as
		// activity and must refresh the timer, same as a real reply would.
		_ = d.deps.Claims.Release(ctx, channel, lastMessageID, d.deps.Instance)
		d.setState(channel, Cooldown)
		if mention || replySent || passiveSkipCompletion {
			_ = d.deps.Active.Touch(ctx, channel)
		}
		d.setState(channel, Idle)
	}()

	recall, err := d.deps.Memory.AmbientRecall(ctx, channel, "turn")
	if err != nil {
		return err
	}
	prompt := buildPrompt(recall, batch)

	reply, err := d.deps.Invoker.Invoke(ctx, channel, prompt, 0)
	if err != nil {
		if !bus.Retryable(err) {
			return nil // non-retryable worker failure: the turn ends with no reply
		}
		return err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" || reply == passiveSkip {
		// Active-mode passive reply: no broadcast, refresh the timer only.
		passiveSkipCompletion = true
		return nil
	}

	d.setState(channel, Delivering)
	self := InboundMessage{
		Channel:    channel,
		AuthorName: d.deps.SelfName,
		Content:    reply,
		IsBot:      true,
		Timestamp:  time.Now(),
	}
	if _, _, err := d.deps.Ledger.Append(ctx, self); err != nil {
		return err
	}
	d.deps.Memory.FanOutIngest(ctx, self)

	if err := d.deps.Broadcast.Broadcast(ctx, channel, chunk(reply, d.deps.ChunkLimit)); err != nil {
		return err
	}
	replySent = true
	return nil
}

func buildPrompt(recall string, batch []InboundMessage) string {
	var sb strings.Builder
	if recall != "" {
		sb.WriteString(recall)
		sb.WriteString("\n\n")
	}
	for _, m := range batch {
		sb.WriteString(m.AuthorName)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// chunk splits text into sequential messages no longer than limit,
// preferring to break on the 1900-char boundary per §4.7 so a single
// oversized paragraph never silently truncates.
func chunk(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	split := defaultChunkSplit
	if split >= limit {
		split = limit
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= split {
			chunks = append(chunks, text)
			break
		}
		chunks = append(chunks, text[:split])
		text = text[split:]
	}
	return chunks
}
