package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler is an agent's request handler: it consumes a Message and produces
// a response Message or an error within whatever deadline the caller's
// context carries. Agents are modeled as black-box handlers —
// the reasoning inside is out of scope.
type Handler func(ctx context.Context, msg Message) (Message, error)

// ErrAddressing is returned when a request targets an unregistered agent id.
var ErrAddressing = errors.New("bus: unknown agent")

// ErrTimeout is returned when a request's deadline elapses before the
// handler responds.
var ErrTimeout = errors.New("bus: request timed out")

// ErrMailboxFull names a saturated subscriber mailbox. Publish and Broadcast
// do not return it: a BlockWithTimeout delivery that stays saturated past
// the bound is logged and dropped.
var ErrMailboxFull = errors.New("bus: subscriber mailbox full")

type agentEntry struct {
	handler      Handler
	capabilities map[string]bool
}

// BackpressurePolicy selects how a subscription handles a full mailbox.
type BackpressurePolicy int

const (
	// DropOldest discards the oldest buffered message to make room — used
	// for telemetry topics, where staleness beats boundless buffering.
	DropOldest BackpressurePolicy = iota
	// BlockWithTimeout blocks the publisher up to a bound, then drops the
	// new message and logs a warning — used for request/response
	// style topics where losing silently is worse than brief backpressure.
	BlockWithTimeout
)

// SubscriberBound is the default per-subscriber mailbox capacity.
const SubscriberBound = 64

// DefaultBlockTimeout bounds how long Publish waits for a BlockWithTimeout
// subscriber before giving up on that one subscriber (subscribers are served
// in turn, so the publisher waits up to this long per saturated subscriber).
const DefaultBlockTimeout = 200 * time.Millisecond

// Subscription is an opaque handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	topic string
	id    uint64
}

type subscriber struct {
	id       uint64
	policy   BackpressurePolicy
	queue    chan Message
	callback func(Message)
	stop     chan struct{}
}

// Bus is the in-process A2A transport: topic pub/sub plus a point-to-point
// agent registry for request/response. The registry is protected by a
// reader-biased lock (subscribe/publish are common; register/deregister are
// rare).
type Bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	agents map[string]agentEntry

	subMu   sync.RWMutex
	subs    map[string][]*subscriber
	nextSub uint64

	onMessage func(kind string)
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithMessageHook registers a callback invoked once per Publish, Request, and
// Broadcast call with a label identifying which — used to feed external
// traffic counters without the bus package depending on them.
func WithMessageHook(fn func(kind string)) Option {
	return func(b *Bus) { b.onMessage = fn }
}

// New constructs an empty Bus.
func New(log zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:    log.With().Str("component", "bus").Logger(),
		agents: make(map[string]agentEntry),
		subs:   make(map[string][]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) hook(kind string) {
	if b.onMessage != nil {
		b.onMessage(kind)
	}
}

// RegisterAgent registers an agent's handler and capability tags.
func (b *Bus) RegisterAgent(id string, handler Handler, capabilities []string) {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents[id] = agentEntry{handler: handler, capabilities: caps}
}

// DeregisterAgent removes an agent from the registry.
func (b *Bus) DeregisterAgent(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.agents, id)
}

// Registered reports whether an agent id is currently registered.
func (b *Bus) Registered(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.agents[id]
	return ok
}

// Subscribe registers callback to receive every Publish on topic, in
// publication order, via a dedicated per-subscriber goroutine so one slow
// subscriber cannot block another or the publisher beyond its bound.
func (b *Bus) Subscribe(topic string, policy BackpressurePolicy, callback func(Message)) Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextSub++
	sub := &subscriber{
		id:       b.nextSub,
		policy:   policy,
		queue:    make(chan Message, SubscriberBound),
		callback: callback,
		stop:     make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go func() {
		for {
			select {
			case msg := <-sub.queue:
				sub.callback(msg)
			case <-sub.stop:
				return
			}
		}
	}()

	return Subscription{topic: topic, id: sub.id}
}

// Unsubscribe removes a subscription and stops its delivery goroutine.
func (b *Bus) Unsubscribe(handle Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	list := b.subs[handle.topic]
	for i, s := range list {
		if s.id == handle.id {
			close(s.stop)
			b.subs[handle.topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish fans a payload out to every current subscriber of topic. Fan-out
// to distinct subscribers is concurrent (each has its own goroutine); a
// single subscriber observes its messages in publication order because
// delivery to it is serialized through one channel.
func (b *Bus) Publish(topic string, payload any) {
	b.hook("publish")
	msg := NewMessage("system", "topic:"+topic, KindBroadcast, payload)

	b.subMu.RLock()
	subs := make([]*subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.subMu.RUnlock()

	for _, s := range subs {
		b.deliver(s, msg)
	}
}

func (b *Bus) deliver(s *subscriber, msg Message) {
	switch s.policy {
	case DropOldest:
		for {
			select {
			case s.queue <- msg:
				return
			default:
				select {
				case <-s.queue:
				default:
				}
			}
		}
	default: // BlockWithTimeout
		timer := time.NewTimer(DefaultBlockTimeout)
		defer timer.Stop()
		select {
		case s.queue <- msg:
		case <-timer.C:
			b.log.Warn().Uint64("subscriber", s.id).Msg("bus: dropped message, subscriber mailbox saturated")
		}
	}
}

// Request routes msg to the named agent's handler and awaits its response
// subject to ctx's deadline. Calling an unknown agent returns ErrAddressing
// without side effects on the registry. If the deadline elapses first, a
// timeout error is returned and any late response is discarded.
func (b *Bus) Request(ctx context.Context, msg Message) (Message, error) {
	b.hook("request")
	b.mu.RLock()
	entry, ok := b.agents[msg.To]
	b.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrAddressing, msg.To)
	}

	type result struct {
		resp Message
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := entry.handler(ctx, msg)
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: %s", ErrTimeout, msg.To)
	}
}

// Broadcast sends msg to every registered agent whose capabilities satisfy
// filter, best-effort, concurrently, without waiting for responses.
func (b *Bus) Broadcast(ctx context.Context, msg Message, filter func(capabilities map[string]bool) bool) {
	b.hook("broadcast")
	b.mu.RLock()
	targets := make(map[string]agentEntry)
	for id, e := range b.agents {
		if filter == nil || filter(e.capabilities) {
			targets[id] = e
		}
	}
	b.mu.RUnlock()

	for id, e := range targets {
		go func(id string, e agentEntry) {
			m := msg
			m.To = id
			if _, err := e.handler(ctx, m); err != nil {
				b.log.Debug().Str("agent", id).Err(err).Msg("bus: broadcast handler error")
			}
		}(id, e)
	}
}
