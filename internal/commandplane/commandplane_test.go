package commandplane

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/greenhouse-network/sentinel/internal/agents"
	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/twin"
	"github.com/greenhouse-network/sentinel/internal/uibridge"
	"github.com/rs/zerolog"
)

type capturingTransport struct {
	lines chan []byte
}

func (c *capturingTransport) Send(line []byte) error {
	c.lines <- append([]byte(nil), line...)
	return nil
}
func (c *capturingTransport) Close() error { return nil }

func newTestPlane(t *testing.T) (*Plane, *capturingTransport, *twin.Twin, func() bool) {
	t.Helper()
	tw := twin.New(twin.DefaultConfig(), 1, zerolog.Nop())
	b := bus.New(zerolog.Nop())
	rt := agents.New(b, t.TempDir(), zerolog.Nop())
	rt.RegisterRole("coder", agents.NewCoderAgent())

	ui := uibridge.New(zerolog.Nop())
	ct := &capturingTransport{lines: make(chan []byte, 16)}
	ui.Connect(ct)

	shutdownCalls := 0
	p := New(rt, tw, b, ui, func() { shutdownCalls++ }, zerolog.Nop())
	calledFn := func() bool { return shutdownCalls == 1 }
	return p, ct, tw, calledFn
}

func waitLine(t *testing.T, ct *capturingTransport) string {
	t.Helper()
	select {
	case line := <-ct.lines:
		return string(line)
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return ""
	}
}

func TestHandleLine_MalformedJSONDoesNotCrash(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.HandleLine(context.Background(), []byte("not json at all {{{"))
	line := waitLine(t, ct)
	if !strings.Contains(line, "COMMAND_ERROR") {
		t.Fatalf("expected COMMAND_ERROR, got %s", line)
	}
}

func TestHandleLine_OversizeFrameRejected(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	huge := make([]byte, maxFrameBytes+1)
	p.HandleLine(context.Background(), huge)
	line := waitLine(t, ct)
	if !strings.Contains(line, "COMMAND_ERROR") {
		t.Fatalf("expected COMMAND_ERROR, got %s", line)
	}
}

func TestHandleLine_DeeplyNestedRejected(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	var sb strings.Builder
	for i := 0; i < maxNestDepth+10; i++ {
		sb.WriteByte('[')
	}
	for i := 0; i < maxNestDepth+10; i++ {
		sb.WriteByte(']')
	}
	p.HandleLine(context.Background(), []byte(sb.String()))
	line := waitLine(t, ct)
	if !strings.Contains(line, "COMMAND_ERROR") {
		t.Fatalf("expected COMMAND_ERROR, got %s", line)
	}
}

func TestHandleLine_WireEnvelopeSpawnsAgent(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.HandleLine(context.Background(), []byte(`{"command":"SPAWN_AGENT","payload":{"role":"coder","name":"c1"}}`))
	line := waitLine(t, ct)
	if !strings.Contains(line, "COMMAND_SUCCESS") {
		t.Fatalf("expected COMMAND_SUCCESS for a conformant {command,payload} frame, got %s", line)
	}
}

func TestHandleLine_WireEnvelopePing(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.HandleLine(context.Background(), []byte(`{"command":"PING","payload":{}}`))
	line := waitLine(t, ct)
	if !strings.Contains(line, "PONG") {
		t.Fatalf("expected PONG, got %s", line)
	}
}

func TestHandleLine_WireEnvelopeUnknownCommand(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.HandleLine(context.Background(), []byte(`{"command":"HACK","payload":{}}`))
	line := waitLine(t, ct)
	if !strings.Contains(line, "COMMAND_ERROR") {
		t.Fatalf("expected COMMAND_ERROR, got %s", line)
	}
}

func TestDispatch_SpawnAndKillAgent(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.Dispatch(context.Background(), Command{Command: TagSpawnAgent, Payload: Payload{Role: "coder", Name: "c1"}})
	if line := waitLine(t, ct); !strings.Contains(line, "COMMAND_SUCCESS") {
		t.Fatalf("expected success, got %s", line)
	}

	p.Dispatch(context.Background(), Command{Command: TagKillAgent, Payload: Payload{Name: "c1"}})
	if line := waitLine(t, ct); !strings.Contains(line, "COMMAND_SUCCESS") {
		t.Fatalf("expected success, got %s", line)
	}
}

func TestDispatch_GreenhouseActuatorAction(t *testing.T) {
	p, ct, tw, _ := newTestPlane(t)
	p.Dispatch(context.Background(), Command{
		Command: TagAgentMsg, Payload: Payload{Target: "greenhouse/pump", Action: "START_PUMP"},
	})
	if line := waitLine(t, ct); !strings.Contains(line, "COMMAND_SUCCESS") {
		t.Fatalf("expected success, got %s", line)
	}
	v, ok := tw.ActuatorValue("pump_active")
	if !ok || v != 1 {
		t.Fatalf("pump_active = %v,%v want 1,true", v, ok)
	}
}

func TestSlashCommand_Pump(t *testing.T) {
	p, ct, tw, _ := newTestPlane(t)
	p.Dispatch(context.Background(), Command{Command: TagSlashCommand, Payload: Payload{Cmd: "/pump", Args: []string{"on"}}})
	if line := waitLine(t, ct); !strings.Contains(line, "COMMAND_SUCCESS") {
		t.Fatalf("expected success, got %s", line)
	}
	v, _ := tw.ActuatorValue("pump_active")
	if v != 1 {
		t.Fatalf("pump_active = %v, want 1", v)
	}
}

func TestSlashCommand_Status(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.Dispatch(context.Background(), Command{Command: TagSlashCommand, Payload: Payload{Cmd: "/status"}})
	line := waitLine(t, ct)
	if !strings.Contains(line, "SYSTEM_REPORT") {
		t.Fatalf("expected SYSTEM_REPORT first, got %s", line)
	}
}

func TestSystemShutdown_InvokesCallbackOnce(t *testing.T) {
	p, ct, _, called := newTestPlane(t)
	p.Dispatch(context.Background(), Command{Command: TagSystemShutdown})
	waitLine(t, ct)
	p.Dispatch(context.Background(), Command{Command: TagSystemShutdown})
	waitLine(t, ct)
	if !called() {
		t.Fatal("expected shutdown callback invoked exactly once")
	}
}

func TestPing_RepliesWithPong(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.Dispatch(context.Background(), Command{Command: TagPing})
	line := waitLine(t, ct)
	if !strings.Contains(line, "PONG") {
		t.Fatalf("expected PONG, got %s", line)
	}
}

func TestDispatch_UnknownTag(t *testing.T) {
	p, ct, _, _ := newTestPlane(t)
	p.Dispatch(context.Background(), Command{Command: "NOT_A_REAL_TAG"})
	line := waitLine(t, ct)
	if !strings.Contains(line, "COMMAND_ERROR") {
		t.Fatalf("expected COMMAND_ERROR, got %s", line)
	}
}
