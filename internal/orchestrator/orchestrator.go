// Package orchestrator implements graph-based workflow execution over the
// AgentRuntime and Bus: a WorkflowDefinition is a linear chain of role-typed
// nodes, executed node by node with a wall-clock budget guardrail. Grounded
// on original_source/_SUDOTEER/backend/core/orchestrator.py.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/greenhouse-network/sentinel/internal/agents"
	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/finance"
	"github.com/rs/zerolog"
)

// Status is a WorkflowState's terminal or in-flight status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted" // budget exceeded
)

// WorkflowNode names one role to invoke in sequence.
type WorkflowNode struct {
	Role string
}

// WorkflowDefinition is a named, linear chain of nodes.
type WorkflowDefinition struct {
	Name  string
	Nodes []WorkflowNode
}

// ValidationChain is the default workflow: coder -> tester -> documenter ->
// validator, matching the source's named validation_chain.
func ValidationChain() WorkflowDefinition {
	return WorkflowDefinition{
		Name: "validation_chain",
		Nodes: []WorkflowNode{
			{Role: "coder"},
			{Role: "tester"},
			{Role: "documenter"},
			{Role: "validator"},
		},
	}
}

// WorkflowState is the execution record for one run, persisted by
// HistoryStore on completion.
type WorkflowState struct {
	WorkflowID string
	Name       string
	Status     Status
	History    []agents.Artifact
	Data       map[string]any
	Errors     []string
	StartedAt  time.Time
	EndedAt    time.Time
}

// dataKeyForRole names the WorkflowState.Data key each validation-chain role
// populates on a passing response.
var dataKeyForRole = map[string]string{
	"coder":      "code",
	"tester":     "test_report",
	"documenter": "docs",
	"validator":  "validation_result",
}

// ErrUnknownWorkflow is returned by Execute for an unregistered workflow name.
var ErrUnknownWorkflow = fmt.Errorf("orchestrator: unknown workflow")

// ErrNoAgentForRole is returned when no ready agent exists for a node's role.
var ErrNoAgentForRole = fmt.Errorf("orchestrator: no agent registered for role")

// Orchestrator dispatches workflow nodes to agents over the Bus, enforcing
// a wall-clock budget per run.
type Orchestrator struct {
	bus         *bus.Bus
	runtime     *agents.Runtime
	finance     *finance.Tracker
	budget      time.Duration
	log         zerolog.Logger
	now         func() time.Time
	nodeTimeout time.Duration

	workflows map[string]WorkflowDefinition
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNodeTimeout overrides the per-node request deadline (default 30s).
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.nodeTimeout = d }
}

// New constructs an Orchestrator. budgetHours is the wall-clock ceiling for
// one workflow run (source default: 2.0). ft is consulted by CheckViability
// alongside the wall-clock budget and receives a LogUtilization/
// LogEffectiveness call for every dispatched node.
func New(b *bus.Bus, runtime *agents.Runtime, ft *finance.Tracker, budgetHours float64, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:         b,
		runtime:     runtime,
		finance:     ft,
		budget:      time.Duration(budgetHours * float64(time.Hour)),
		log:         log.With().Str("component", "orchestrator").Logger(),
		now:         time.Now,
		nodeTimeout: 30 * time.Second,
		workflows:   make(map[string]WorkflowDefinition),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.workflows[ValidationChain().Name] = ValidationChain()
	return o
}

// RegisterWorkflow adds or replaces a named workflow definition.
func (o *Orchestrator) RegisterWorkflow(def WorkflowDefinition) {
	o.workflows[def.Name] = def
}

// CheckViability reports whether a run started at startedAt is still within
// its wall-clock budget as of now() AND the FinanceTracker considers the
// run's spend stable. A nil tracker is treated as always stable.
func (o *Orchestrator) CheckViability(startedAt time.Time) bool {
	withinBudget := o.now().Sub(startedAt) <= o.budget
	stable := o.finance == nil || o.finance.IsStable()
	return withinBudget && stable
}

// Execute runs workflowName's node chain in order against goal, routing each
// node to the first ready agent registered under its role. It stops and
// returns a failed/aborted state on the first node error or budget breach.
func (o *Orchestrator) Execute(ctx context.Context, workflowName, goal string) (WorkflowState, error) {
	def, ok := o.workflows[workflowName]
	if !ok {
		return WorkflowState{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowName)
	}

	state := WorkflowState{
		WorkflowID: uuid.NewString(),
		Name:       workflowName,
		Status:     StatusRunning,
		Data:       map[string]any{"goal": goal},
		StartedAt:  o.now(),
	}

	wu := agents.WorkUnit{Goal: goal}

	for _, node := range def.Nodes {
		if !o.CheckViability(state.StartedAt) {
			state.Status = StatusAborted
			state.Errors = append(state.Errors, "budget exceeded")
			o.log.Warn().Str("workflow", state.WorkflowID).Msg("orchestrator: budget exceeded, aborting")
			break
		}

		candidates := o.runtime.ListByRole(node.Role)
		var target *agents.Record
		for _, c := range candidates {
			if c.State() == agents.StateReady {
				target = c
				break
			}
		}
		if target == nil {
			state.Status = StatusFailed
			state.Errors = append(state.Errors, fmt.Sprintf("%v: %s", ErrNoAgentForRole, node.Role))
			break
		}

		if o.finance != nil {
			o.finance.LogUtilization(target.ID)
		}

		nodeCtx, cancel := context.WithTimeout(ctx, o.nodeTimeout)
		resp, err := o.bus.Request(nodeCtx, bus.NewMessage("orchestrator", target.ID, bus.KindRequest, wu))
		cancel()
		if err != nil {
			state.Status = StatusFailed
			state.Errors = append(state.Errors, fmt.Sprintf("%s: %v", node.Role, err))
			if o.finance != nil {
				o.finance.LogEffectiveness(node.Role, 1, false)
			}
			break
		}

		artifact, ok := resp.Content.(agents.Artifact)
		if !ok {
			state.Status = StatusFailed
			state.Errors = append(state.Errors, fmt.Sprintf("%s: unexpected response payload", node.Role))
			if o.finance != nil {
				o.finance.LogEffectiveness(node.Role, 1, false)
			}
			break
		}
		state.History = append(state.History, artifact)
		wu.History = state.History
		if key, ok := dataKeyForRole[node.Role]; ok {
			state.Data[key] = artifact.Output
		}
		if node.Role == "validator" {
			state.Data["valid"] = artifact.Passed
		}

		if o.finance != nil {
			o.finance.LogEffectiveness(node.Role, 1, artifact.Passed)
		}

		if !artifact.Passed {
			state.Status = StatusFailed
			state.Errors = append(state.Errors, fmt.Sprintf("%s: %s", node.Role, artifact.Notes))
			break
		}
	}

	if state.Status == StatusRunning {
		state.Status = StatusCompleted
	}
	state.EndedAt = o.now()
	o.log.Info().Str("workflow", state.WorkflowID).Str("status", string(state.Status)).Msg("orchestrator: run finished")
	return state, nil
}
