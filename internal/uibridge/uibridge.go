// Package uibridge implements the UIBridge: outbound event fan-out to any
// connected UI transport, plus a heartbeat/stall watchdog over the main
// loop. Grounded on the UIBridge Python source retrieved into
// original_source/_SUDOTEER (dead man's switch heartbeat, ::SUDO::-prefixed
// stdout framing, bounded per-connection queues).
package uibridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventTag enumerates the closed set of outbound event kinds.
type EventTag string

const (
	EventSystemHeartbeat  EventTag = "SYSTEM_HEARTBEAT"
	EventGreenhouseTelem  EventTag = "GREENHOUSE_TELEMETRY"
	EventAgentState       EventTag = "AGENT_STATE"
	EventWorkflowUpdate   EventTag = "WORKFLOW_UPDATE"
	EventCommandSuccess   EventTag = "COMMAND_SUCCESS"
	EventCommandError     EventTag = "COMMAND_ERROR"
	EventPong             EventTag = "PONG"
	EventSystemReport     EventTag = "SYSTEM_REPORT"
	EventTwinDriftAlert   EventTag = "TWIN_DRIFT_ALERT"
)

// HeartbeatStatus is the liveness field carried by SYSTEM_HEARTBEAT events.
type HeartbeatStatus string

const (
	StatusAlive   HeartbeatStatus = "alive"
	StatusStalled HeartbeatStatus = "stalled"
)

// Event is the framed payload pushed to every connected transport.
type Event struct {
	Type      EventTag  `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// sudoDelimiter prefixes every stdout-framed line, matching the source's
// wire convention.
const sudoDelimiter = "::SUDO::"

// Transport is one outbound sink. Send must not block more than a bound;
// Close tears the transport down (a transport whose Send fails is dropped
// from the active set, never propagated as a panic).
type Transport interface {
	Send(line []byte) error
	Close() error
}

const (
	defaultQueueBound       = 128
	defaultHeartbeatInterval = 2 * time.Second
	defaultStallThreshold    = 10 * time.Second
	sendTimeout              = 50 * time.Millisecond
)

type connection struct {
	id        uint64
	transport Transport
	queue     chan []byte
	stop      chan struct{}
}

// Bridge fans events out to every connected transport and tracks main-loop
// liveness via tick().
type Bridge struct {
	log zerolog.Logger
	now func() time.Time

	stallThreshold time.Duration

	mu       sync.Mutex
	conns    map[uint64]*connection
	nextConn uint64
	lastTick time.Time
	startedAt time.Time

	sink func(Event)

	heartbeatStop chan struct{}
	heartbeatWG   sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithStallThreshold overrides the default 10s stall threshold.
func WithStallThreshold(d time.Duration) Option {
	return func(b *Bridge) { b.stallThreshold = d }
}

// WithEventSink registers a callback invoked with every broadcast Event,
// in addition to transport delivery — the append-only event log hangs off
// this hook.
func WithEventSink(sink func(Event)) Option {
	return func(b *Bridge) { b.sink = sink }
}

// New constructs a Bridge with no connections and a fresh "last tick" clock.
func New(log zerolog.Logger, opts ...Option) *Bridge {
	now := time.Now()
	b := &Bridge{
		log:            log.With().Str("component", "ui_bridge").Logger(),
		now:            time.Now,
		stallThreshold: defaultStallThreshold,
		conns:          make(map[uint64]*connection),
		lastTick:       now,
		startedAt:      now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect registers a transport and returns a handle used to Disconnect it.
// Each connection gets its own bounded outbound queue and delivery goroutine;
// overflow closes that connection rather than blocking the broadcaster.
func (b *Bridge) Connect(t Transport) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextConn++
	id := b.nextConn
	c := &connection{
		id:        id,
		transport: t,
		queue:     make(chan []byte, defaultQueueBound),
		stop:      make(chan struct{}),
	}
	b.conns[id] = c
	go b.deliverLoop(c)
	return id
}

// Disconnect tears down a connection by handle.
func (b *Bridge) Disconnect(id uint64) {
	b.mu.Lock()
	c, ok := b.conns[id]
	if ok {
		delete(b.conns, id)
	}
	b.mu.Unlock()
	if ok {
		close(c.stop)
		c.transport.Close()
	}
}

func (b *Bridge) deliverLoop(c *connection) {
	for {
		select {
		case line := <-c.queue:
			if err := c.transport.Send(line); err != nil {
				b.log.Warn().Uint64("conn", c.id).Err(err).Msg("ui_bridge: transport send failed, dropping connection")
				b.Disconnect(c.id)
				return
			}
		case <-c.stop:
			return
		}
	}
}

// Broadcast serializes and emits an event to every connected transport.
// A bound on broadcast latency is enforced per-connection
// by the bounded queue: a full queue drops that connection rather than
// stalling the caller.
func (b *Bridge) Broadcast(tag EventTag, agentID string, payload any) {
	evt := Event{Type: tag, AgentID: agentID, Payload: payload, Timestamp: b.now()}
	if b.sink != nil {
		b.sink(evt)
	}
	body, err := json.Marshal(evt)
	if err != nil {
		b.log.Error().Err(err).Msg("ui_bridge: failed to marshal event")
		return
	}
	line := append([]byte(sudoDelimiter), body...)
	line = append(line, '\n')

	b.mu.Lock()
	conns := make([]*connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		select {
		case c.queue <- line:
		default:
			b.log.Warn().Uint64("conn", c.id).Msg("ui_bridge: outbound queue saturated, dropping connection")
			b.Disconnect(c.id)
		}
	}
}

// BroadcastAgentStatus is a convenience wrapper that also ticks the
// heartbeat clock.
func (b *Bridge) BroadcastAgentStatus(agentID, status string) {
	b.Tick()
	b.Broadcast(EventAgentState, agentID, map[string]string{"status": status})
}

// BroadcastWorkflowStep is a convenience wrapper that also ticks the
// heartbeat clock.
func (b *Bridge) BroadcastWorkflowStep(workflowID, node, status string) {
	b.Tick()
	b.Broadcast(EventWorkflowUpdate, "", map[string]string{
		"workflow_id": workflowID,
		"node":        node,
		"status":      status,
	})
}

// Tick advances the monotonic "last alive" timestamp. Called by the runtime's
// twin step loop and by the BroadcastAgentStatus/BroadcastWorkflowStep
// wrappers; orchestrator node transitions and command handling do not tick.
func (b *Bridge) Tick() {
	b.mu.Lock()
	b.lastTick = b.now()
	b.mu.Unlock()
}

// Uptime returns elapsed time since the bridge was constructed.
func (b *Bridge) Uptime() time.Duration {
	return b.now().Sub(b.startedAt)
}

// ConnectionCount returns the number of currently connected transports.
func (b *Bridge) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// StartHeartbeat launches the background heartbeat publisher. Idempotent:
// calling it while already running is a no-op.
func (b *Bridge) StartHeartbeat(ctx context.Context, interval time.Duration) {
	b.mu.Lock()
	if b.heartbeatStop != nil {
		b.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	stop := make(chan struct{})
	b.heartbeatStop = stop
	b.mu.Unlock()

	b.heartbeatWG.Add(1)
	go func() {
		defer b.heartbeatWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				b.publishHeartbeat()
			}
		}
	}()
}

func (b *Bridge) publishHeartbeat() {
	b.mu.Lock()
	delta := b.now().Sub(b.lastTick)
	b.mu.Unlock()

	status := StatusAlive
	if delta > b.stallThreshold {
		status = StatusStalled
	}
	b.Broadcast(EventSystemHeartbeat, "", map[string]any{
		"status":              status,
		"uptime_s":            b.Uptime().Seconds(),
		"last_tick_delta_s":   delta.Seconds(),
	})
}

// StopHeartbeat stops the background heartbeat publisher. Idempotent.
func (b *Bridge) StopHeartbeat() {
	b.mu.Lock()
	stop := b.heartbeatStop
	b.heartbeatStop = nil
	b.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	b.heartbeatWG.Wait()
}

