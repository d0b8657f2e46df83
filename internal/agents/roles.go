package agents

import (
	"context"
	"fmt"

	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/twin"
)

// WorkUnit is the task payload carried on a validation-chain request.
// Every role handler receives one and produces an Artifact in reply.
type WorkUnit struct {
	Goal    string
	Input   string
	History []Artifact
}

// Artifact is one role's contribution to a workflow, carried as a
// Message's Content on the response leg.
type Artifact struct {
	Role   string
	Output string
	Passed bool
	Notes  string
}

// chainAgent is the shared shape of the four validation-chain roles: each
// does deterministic, rule-based work (no language-model reasoning, which
// this project places out of scope) against whatever WorkUnit it receives.
type chainAgent struct {
	role string
	do   func(WorkUnit) Artifact
}

func (c *chainAgent) Initialize(ctx context.Context) error { return nil }

func (c *chainAgent) HandleRequest(ctx context.Context, msg bus.Message) (bus.Message, error) {
	wu, ok := msg.Content.(WorkUnit)
	if !ok {
		return bus.Message{}, fmt.Errorf("agents: %s received unexpected payload %T", c.role, msg.Content)
	}
	artifact := c.do(wu)
	resp := bus.NewMessage(msg.To, msg.From, bus.KindResponse, artifact)
	resp.ParentID = msg.ID
	return resp, nil
}

// NewCoderAgent produces a SpawnFunc for the "coder" role: it turns a goal
// into a draft implementation note and always hands off for review.
func NewCoderAgent() SpawnFunc {
	return func(id, role string) Agent {
		return &chainAgent{role: role, do: func(wu WorkUnit) Artifact {
			return Artifact{
				Role:   role,
				Output: fmt.Sprintf("draft plan for goal %q based on input %q", wu.Goal, wu.Input),
				Passed: true,
			}
		}}
	}
}

// NewTesterAgent produces a SpawnFunc for the "tester" role: it checks that
// a coder artifact exists and is non-empty before approving.
func NewTesterAgent() SpawnFunc {
	return func(id, role string) Agent {
		return &chainAgent{role: role, do: func(wu WorkUnit) Artifact {
			if len(wu.History) == 0 || wu.History[len(wu.History)-1].Output == "" {
				return Artifact{Role: role, Passed: false, Notes: "no prior artifact to test"}
			}
			return Artifact{Role: role, Output: "checks pass", Passed: true}
		}}
	}
}

// NewDocumenterAgent produces a SpawnFunc for the "documenter" role: it
// summarizes the chain so far.
func NewDocumenterAgent() SpawnFunc {
	return func(id, role string) Agent {
		return &chainAgent{role: role, do: func(wu WorkUnit) Artifact {
			return Artifact{
				Role:   role,
				Output: fmt.Sprintf("documented %d prior steps for goal %q", len(wu.History), wu.Goal),
				Passed: true,
			}
		}}
	}
}

// NewValidatorAgent produces a SpawnFunc for the "validator" role: the
// terminal gate of the validation chain. It fails the chain if any prior
// artifact failed.
func NewValidatorAgent() SpawnFunc {
	return func(id, role string) Agent {
		return &chainAgent{role: role, do: func(wu WorkUnit) Artifact {
			for _, a := range wu.History {
				if !a.Passed {
					return Artifact{Role: role, Passed: false, Notes: "upstream artifact failed: " + a.Role}
				}
			}
			return Artifact{Role: role, Output: "validated", Passed: true}
		}}
	}
}

// ClimateAgent subscribes to twin telemetry and answers status requests
// about the greenhouse's current environment; it is the one role whose
// HandleRequest reads live simulation state rather than a WorkUnit.
type ClimateAgent struct {
	twin *twin.Twin
}

func (c *ClimateAgent) Initialize(ctx context.Context) error { return nil }

func (c *ClimateAgent) HandleRequest(ctx context.Context, msg bus.Message) (bus.Message, error) {
	packet := c.twin.TelemetryPacket()
	resp := bus.NewMessage(msg.To, msg.From, bus.KindResponse, packet)
	resp.ParentID = msg.ID
	return resp, nil
}

// NewClimateAgent produces a SpawnFunc for the "climate" role, bound to a
// specific Twin instance.
func NewClimateAgent(t *twin.Twin) SpawnFunc {
	return func(id, role string) Agent {
		return &ClimateAgent{twin: t}
	}
}
