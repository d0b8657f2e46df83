// Package agents implements the AgentRuntime: lifecycle and isolation of
// agent handlers, with a bounded per-agent mailbox and well-defined
// backpressure. Agents are modeled as values implementing a fixed Agent
// interface ("prefer a single concrete interface plus
// role-specific structs" over SudoAgent-style inheritance); the language-model
// reasoning inside a handler is out of scope — handlers here are
// deterministic, test-injectable functions.
package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/rs/zerolog"
)

// State is an agent's lifecycle state.
type State string

const (
	StateSpawning State = "spawning"
	StateReady    State = "ready"
	StateBusy     State = "busy"
	StateDraining State = "draining"
	StateDead     State = "dead"
)

// Agent is the fixed capability interface every role implements.
// Per-agent configuration (tools, policies) is passed at construction time
// via the SpawnFunc closure, never attached reflectively after the fact.
type Agent interface {
	// Initialize runs once after construction, before the agent is marked
	// ready. A no-op implementation is fine for agents with nothing to set up.
	Initialize(ctx context.Context) error
	// HandleRequest answers one A2A request within whatever deadline ctx
	// carries.
	HandleRequest(ctx context.Context, msg bus.Message) (bus.Message, error)
}

// SpawnFunc constructs a new Agent instance for a given (id, role).
type SpawnFunc func(id, role string) Agent

// ErrUnknownRole is returned by Spawn when no SpawnFunc is registered for role.
var ErrUnknownRole = errors.New("agents: unknown role")

// ErrMailboxFull is returned when an agent's bounded mailbox is saturated.
var ErrMailboxFull = errors.New("agents: mailbox full")

// ErrDraining is returned when a request targets an agent that is
// draining or dead.
var ErrDraining = errors.New("agents: agent is draining or dead")

const defaultMailboxCapacity = 32

type mailboxItem struct {
	ctx   context.Context
	msg   bus.Message
	reply chan mailboxResult
}

type mailboxResult struct {
	resp bus.Message
	err  error
}

// Record is the runtime handle for one spawned agent.
type Record struct {
	ID           string
	Role         string
	Capabilities []string
	ScratchPath  string

	agent   Agent
	mailbox chan mailboxItem

	mu    sync.Mutex
	state State

	drainDone chan struct{}
}

// State returns the agent's current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// enqueue is the Handler registered on the Bus for this agent: it places the
// request on the bounded mailbox (queue-full error on overflow, never
// blocking indefinitely) and waits for the worker goroutine's reply.
func (r *Record) enqueue(ctx context.Context, msg bus.Message) (bus.Message, error) {
	if s := r.State(); s == StateDraining || s == StateDead {
		return bus.Message{}, ErrDraining
	}
	reply := make(chan mailboxResult, 1)
	select {
	case r.mailbox <- mailboxItem{ctx: ctx, msg: msg, reply: reply}:
	default:
		return bus.Message{}, ErrMailboxFull
	}
	select {
	case res := <-reply:
		return res.resp, res.err
	case <-ctx.Done():
		return bus.Message{}, ctx.Err()
	}
}

func (r *Record) worker() {
	defer close(r.drainDone)
	for item := range r.mailbox {
		r.setState(StateBusy)
		resp, err := r.agent.HandleRequest(item.ctx, item.msg)
		item.reply <- mailboxResult{resp: resp, err: err}
		if r.State() != StateDraining {
			r.setState(StateReady)
		}
	}
}

// Runtime manages agent lifecycle: register/spawn/teardown, scratch
// directories, and the Bus registration each spawned agent needs.
type Runtime struct {
	bus     *bus.Bus
	baseDir string
	log     zerolog.Logger
	drain   time.Duration

	mu      sync.RWMutex
	roles   map[string]SpawnFunc
	records map[string]*Record
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithDrainTimeout overrides the default bounded drain wait used by Kill.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.drain = d }
}

// New constructs a Runtime. baseDir is the root under which every agent
// gets an isolated scratch directory baseDir/<id>.
func New(b *bus.Bus, baseDir string, log zerolog.Logger, opts ...Option) *Runtime {
	rt := &Runtime{
		bus:     b,
		baseDir: baseDir,
		log:     log.With().Str("component", "agent_runtime").Logger(),
		drain:   5 * time.Second,
		roles:   make(map[string]SpawnFunc),
		records: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// RegisterRole maps a role name to its constructor.
func (rt *Runtime) RegisterRole(role string, spawnFn SpawnFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.roles[role] = spawnFn
}

// Spawn creates the per-agent scratch directory, instantiates the handler,
// calls Initialize, and registers it on the Bus. The runtime never passes a
// cross-agent path into a handler: each Record.ScratchPath is scoped to
// baseDir/<id> and handed only to that agent's own constructor.
func (rt *Runtime) Spawn(ctx context.Context, role, id string, capabilities []string) (*Record, error) {
	rt.mu.Lock()
	spawnFn, ok := rt.roles[role]
	if !ok {
		rt.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if _, exists := rt.records[id]; exists {
		rt.mu.Unlock()
		return nil, fmt.Errorf("agents: id %q already in use", id)
	}
	rt.mu.Unlock()

	scratch := filepath.Join(rt.baseDir, id)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("agents: create scratch dir: %w", err)
	}

	rec := &Record{
		ID:           id,
		Role:         role,
		Capabilities: capabilities,
		ScratchPath:  scratch,
		agent:        spawnFn(id, role),
		mailbox:      make(chan mailboxItem, defaultMailboxCapacity),
		state:        StateSpawning,
		drainDone:    make(chan struct{}),
	}
	go rec.worker()

	if err := rec.agent.Initialize(ctx); err != nil {
		close(rec.mailbox)
		return nil, fmt.Errorf("agents: initialize %s: %w", id, err)
	}
	rec.setState(StateReady)

	rt.bus.RegisterAgent(id, rec.enqueue, capabilities)

	rt.mu.Lock()
	rt.records[id] = rec
	rt.mu.Unlock()

	rt.log.Info().Str("agent", id).Str("role", role).Msg("agent spawned")
	return rec, nil
}

// Kill transitions the agent to draining (refusing new requests),
// deregisters it from the Bus and closes its mailbox, waits up to the
// configured drain timeout for the queued requests to finish, then marks it
// dead.
func (rt *Runtime) Kill(id string) error {
	rt.mu.Lock()
	rec, ok := rt.records[id]
	if !ok {
		rt.mu.Unlock()
		return fmt.Errorf("agents: unknown agent %q", id)
	}
	delete(rt.records, id)
	rt.mu.Unlock()

	rec.setState(StateDraining)
	rt.bus.DeregisterAgent(id)
	close(rec.mailbox)

	select {
	case <-rec.drainDone:
	case <-time.After(rt.drain):
		rt.log.Warn().Str("agent", id).Msg("drain timeout exceeded, forcing dead")
	}
	rec.setState(StateDead)
	rt.log.Info().Str("agent", id).Msg("agent killed")
	return nil
}

// Get returns the record for id, if present.
func (rt *Runtime) Get(id string) (*Record, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	rec, ok := rt.records[id]
	return rec, ok
}

// ListByRole returns every currently-registered record for role.
func (rt *Runtime) ListByRole(role string) []*Record {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*Record
	for _, rec := range rt.records {
		if rec.Role == role {
			out = append(out, rec)
		}
	}
	return out
}

// All returns every currently-registered record, in no particular order.
func (rt *Runtime) All() []*Record {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*Record, 0, len(rt.records))
	for _, rec := range rt.records {
		out = append(out, rec)
	}
	return out
}
