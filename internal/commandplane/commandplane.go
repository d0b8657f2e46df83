// Package commandplane parses inbound UI/CLI command frames and dispatches
// them against the AgentRuntime, Twin, and Bus. Grounded on
// original_source/_SUDOTEER/backend/core/command_router.go's dispatch table
// and command_server.go's stdin JSON-line listener.
package commandplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/greenhouse-network/sentinel/internal/agents"
	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/twin"
	"github.com/greenhouse-network/sentinel/internal/uibridge"
	"github.com/rs/zerolog"
)

// Tag enumerates the closed set of inbound command kinds. Anything outside
// this set produces a COMMAND_ERROR, never a crash.
type Tag string

const (
	TagSpawnAgent     Tag = "SPAWN_AGENT"
	TagKillAgent      Tag = "KILL_AGENT"
	TagAgentMsg       Tag = "AGENT_MSG"
	TagSlashCommand   Tag = "SLASH_COMMAND"
	TagSystemShutdown Tag = "SYSTEM_SHUTDOWN"
	TagPing           Tag = "PING"
)

// Command is the wire shape of one inbound frame:
// {"command": "<CommandTag>", "payload": { ... }}.
type Command struct {
	Command Tag     `json:"command"`
	Payload Payload `json:"payload,omitempty"`
}

// Payload is the union of every field any Tag's handler may read; only the
// ones relevant to Command are populated by a given sender.
type Payload struct {
	Role   string         `json:"role,omitempty"`
	Name   string         `json:"name,omitempty"`
	Target string         `json:"target,omitempty"`
	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Cmd    string         `json:"cmd,omitempty"`
	Args   []string       `json:"args,omitempty"`
}

const (
	maxFrameBytes = 64 * 1024
	maxNestDepth  = 32
)

// Plane dispatches parsed Commands to the runtime components that own the
// effects they name.
type Plane struct {
	runtime *agents.Runtime
	twin    *twin.Twin
	bus     *bus.Bus
	ui      *uibridge.Bridge
	log     zerolog.Logger

	shutdownOnce sync.Once
	shutdownFn   func()
}

// New constructs a Plane. shutdownFn is invoked exactly once by a
// SYSTEM_SHUTDOWN command.
func New(rt *agents.Runtime, t *twin.Twin, b *bus.Bus, ui *uibridge.Bridge, shutdownFn func(), log zerolog.Logger) *Plane {
	return &Plane{
		runtime:    rt,
		twin:       t,
		bus:        b,
		ui:         ui,
		shutdownFn: shutdownFn,
		log:        log.With().Str("component", "command_plane").Logger(),
	}
}

// SetShutdownFunc replaces the callback a SYSTEM_SHUTDOWN command invokes.
// Useful when the callback needs to close over state (like a Runtime) that
// does not exist yet at Plane construction time.
func (p *Plane) SetShutdownFunc(fn func()) {
	p.shutdownFn = fn
}

// ListenStdin reads ::SUDO::-free, line-delimited JSON commands from r until
// EOF or ctx is canceled, handling each with HandleLine. Malformed input
// never stops the loop.
func (p *Plane) ListenStdin(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.HandleLine(ctx, scanner.Bytes())
	}
}

// HandleLine parses and dispatches one command frame. Malformed input
// (non-JSON, oversize, or excessively nested) never crashes the process —
// it produces a COMMAND_ERROR event.
func (p *Plane) HandleLine(ctx context.Context, raw []byte) {
	if len(raw) > maxFrameBytes {
		p.reportError("", fmt.Errorf("commandplane: frame exceeds %d bytes", maxFrameBytes))
		return
	}
	if depth := maxBracketDepth(raw); depth > maxNestDepth {
		p.reportError("", fmt.Errorf("commandplane: frame nesting depth %d exceeds limit", depth))
		return
	}

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		p.reportError("", fmt.Errorf("commandplane: malformed JSON: %w", err))
		return
	}

	p.Dispatch(ctx, cmd)
}

// maxBracketDepth scans raw bytes for the deepest { or [ nesting, ignoring
// bytes inside string literals, without building a parse tree — a bound
// check cheap enough to run before the real JSON decode.
func maxBracketDepth(raw []byte) int {
	depth, max := 0, 0
	inString := false
	escaped := false
	for _, b := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > max {
				max = depth
			}
		case '}', ']':
			depth--
		}
	}
	return max
}

// Dispatch routes an already-parsed Command to its handler.
func (p *Plane) Dispatch(ctx context.Context, cmd Command) {
	switch cmd.Command {
	case TagSpawnAgent:
		p.handleSpawnAgent(ctx, cmd.Payload)
	case TagKillAgent:
		p.handleKillAgent(cmd.Payload)
	case TagAgentMsg:
		p.handleAgentMsg(ctx, cmd.Payload)
	case TagSlashCommand:
		p.handleSlashCommand(ctx, cmd.Payload)
	case TagSystemShutdown:
		p.handleShutdown()
	case TagPing:
		p.handlePing()
	default:
		p.reportError("", fmt.Errorf("commandplane: unknown command type %q", cmd.Command))
	}
}

func (p *Plane) handleSpawnAgent(ctx context.Context, payload Payload) {
	if payload.Role == "" || payload.Name == "" {
		p.reportError(payload.Name, fmt.Errorf("commandplane: SPAWN_AGENT requires role and name"))
		return
	}
	if _, err := p.runtime.Spawn(ctx, payload.Role, payload.Name, nil); err != nil {
		p.reportError(payload.Name, err)
		return
	}
	p.reportSuccess(payload.Name, map[string]string{"spawned": payload.Name, "role": payload.Role})
}

func (p *Plane) handleKillAgent(payload Payload) {
	if payload.Name == "" {
		p.reportError("", fmt.Errorf("commandplane: KILL_AGENT requires name"))
		return
	}
	if err := p.runtime.Kill(payload.Name); err != nil {
		p.reportError(payload.Name, err)
		return
	}
	p.reportSuccess(payload.Name, map[string]string{"killed": payload.Name})
}

// handleAgentMsg routes an AGENT_MSG: a "greenhouse"-prefixed target goes to
// dispatchGreenhouseAction (Twin actuator writes sourced as twin.SourceUser),
// any other target receives the params as a bus request.
func (p *Plane) handleAgentMsg(ctx context.Context, payload Payload) {
	if len(payload.Target) >= len("greenhouse") && payload.Target[:len("greenhouse")] == "greenhouse" {
		p.dispatchGreenhouseAction(payload.Action, payload.Params)
		return
	}

	if payload.Target == "" {
		p.reportError("", fmt.Errorf("commandplane: AGENT_MSG requires target"))
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.bus.Request(reqCtx, bus.NewMessage("command_plane", payload.Target, bus.KindRequest, payload.Params))
	if err != nil {
		p.reportError(payload.Target, err)
		return
	}
	p.reportSuccess(payload.Target, map[string]string{"action": payload.Action})
}

func (p *Plane) dispatchGreenhouseAction(action string, params map[string]any) {
	switch action {
	case "START_PUMP":
		p.twin.SetActuator("pump_active", true, 0, twin.SourceUser)
	case "STOP_PUMP":
		p.twin.SetActuator("pump_active", false, 0, twin.SourceUser)
	case "SET_HEATER":
		on, _ := params["on"].(bool)
		p.twin.SetActuator("heater", on, 0, twin.SourceUser)
	case "CLEAR_OVERRIDE":
		actuatorID, _ := params["actuator_id"].(string)
		p.twin.ClearOverride(actuatorID)
	case "CLEAR_ALL_OVERRIDES":
		p.twin.ClearAllOverrides()
	default:
		p.reportError("greenhouse", fmt.Errorf("commandplane: unknown greenhouse action %q", action))
		return
	}
	p.reportSuccess("greenhouse", map[string]string{"action": action})
}

// handleSlashCommand ports _handle_slash_command's mapping: /pump on|off,
// /status, /agent spawn <role>.
func (p *Plane) handleSlashCommand(ctx context.Context, payload Payload) {
	switch payload.Cmd {
	case "/pump":
		if len(payload.Args) != 1 {
			p.reportError("", fmt.Errorf("commandplane: /pump requires on|off"))
			return
		}
		on := payload.Args[0] == "on"
		p.twin.SetActuator("pump_active", on, 0, twin.SourceUser)
		p.reportSuccess("", map[string]string{"pump": payload.Args[0]})
	case "/status":
		packet := p.twin.TelemetryPacket()
		p.ui.Broadcast(uibridge.EventSystemReport, "", packet)
		p.reportSuccess("", map[string]string{"reported": "status"})
	case "/agent":
		if len(payload.Args) != 2 || payload.Args[0] != "spawn" {
			p.reportError("", fmt.Errorf("commandplane: /agent usage: /agent spawn <role>"))
			return
		}
		role := payload.Args[1]
		name := fmt.Sprintf("%s-%d", role, time.Now().UnixNano())
		if _, err := p.runtime.Spawn(ctx, role, name, nil); err != nil {
			p.reportError(name, err)
			return
		}
		p.reportSuccess(name, map[string]string{"spawned": name, "role": role})
	default:
		p.reportError("", fmt.Errorf("commandplane: unknown slash command %q", payload.Cmd))
	}
}

func (p *Plane) handleShutdown() {
	p.shutdownOnce.Do(func() {
		if p.shutdownFn != nil {
			p.shutdownFn()
		}
	})
	p.reportSuccess("", map[string]string{"shutdown": "acknowledged"})
}

func (p *Plane) handlePing() {
	p.ui.Broadcast(uibridge.EventPong, "", map[string]any{"timestamp": time.Now()})
}

func (p *Plane) reportSuccess(agentID string, payload any) {
	p.ui.Broadcast(uibridge.EventCommandSuccess, agentID, payload)
}

func (p *Plane) reportError(agentID string, err error) {
	p.log.Warn().Err(err).Msg("commandplane: command failed")
	p.ui.Broadcast(uibridge.EventCommandError, agentID, map[string]string{"reason": err.Error()})
}
