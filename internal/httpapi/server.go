// Package httpapi provides the HTTP convenience surface described in
// the REST surface: status, goal ingress, actuator writes, overrides, and the
// settings blob. Grounded on internal/api/server.go's chi.Router +
// chi/middleware wiring and promhttp mount; routes and payload shapes
// follow the external wire contract exactly.
package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenhouse-network/sentinel/internal/agents"
	"github.com/greenhouse-network/sentinel/internal/commandplane"
	"github.com/greenhouse-network/sentinel/internal/historystore"
	"github.com/greenhouse-network/sentinel/internal/orchestrator"
	"github.com/greenhouse-network/sentinel/internal/settings"
	"github.com/greenhouse-network/sentinel/internal/twin"
	"github.com/greenhouse-network/sentinel/internal/uibridge"
)

// RunGoalFunc abstracts the orchestrator entry point the /api/goal handler
// delegates to (greenhouse.Runtime.RunGoal), keeping this package free of a
// dependency on the composition root.
type RunGoalFunc func(ctx context.Context, goal string) (orchestrator.WorkflowState, error)

// Server mounts the REST surface over a running greenhouse system.
type Server struct {
	twin     *twin.Twin
	agents   *agents.Runtime
	ui       *uibridge.Bridge
	history  *historystore.Store
	settings *settings.Store
	commands *commandplane.Plane
	runGoal  RunGoalFunc

	startedAt      time.Time
	log            zerolog.Logger
	metricsEnabled bool
}

// New constructs a Server. startedAt should be the runtime's start time, used
// to compute uptime_s.
func New(t *twin.Twin, ar *agents.Runtime, ui *uibridge.Bridge, hs *historystore.Store, st *settings.Store, cp *commandplane.Plane, runGoal RunGoalFunc, startedAt time.Time, log zerolog.Logger) *Server {
	return &Server{
		twin:      t,
		agents:    ar,
		ui:        ui,
		history:   hs,
		settings:  st,
		commands:  cp,
		runGoal:   runGoal,
		startedAt: startedAt,
		log:       log.With().Str("component", "httpapi").Logger(),
	}
}

// EnableMetrics mounts the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }
