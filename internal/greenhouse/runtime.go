package greenhouse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/greenhouse-network/sentinel/internal/agents"
	"github.com/greenhouse-network/sentinel/internal/bridge"
	"github.com/greenhouse-network/sentinel/internal/bus"
	"github.com/greenhouse-network/sentinel/internal/commandplane"
	"github.com/greenhouse-network/sentinel/internal/eventlog"
	"github.com/greenhouse-network/sentinel/internal/finance"
	"github.com/greenhouse-network/sentinel/internal/historystore"
	"github.com/greenhouse-network/sentinel/internal/httpapi"
	"github.com/greenhouse-network/sentinel/internal/orchestrator"
	"github.com/greenhouse-network/sentinel/internal/safety"
	"github.com/greenhouse-network/sentinel/internal/settings"
	"github.com/greenhouse-network/sentinel/internal/twin"
	"github.com/greenhouse-network/sentinel/internal/uibridge"
	"github.com/rs/zerolog"
)

// Runtime wires every component into one running system, following the
// internal/daemon.Daemon composition-root pattern this module's process
// lifecycle is descended from.
type Runtime struct {
	Config Config
	Log    zerolog.Logger

	Twin         *twin.Twin
	Safety       *safety.Watchdog
	Bus          *bus.Bus
	Agents       *agents.Runtime
	Bridge       *bridge.Bridge
	Orchestrator *orchestrator.Orchestrator
	Finance      *finance.Tracker
	UI           *uibridge.Bridge
	Command      *commandplane.Plane
	History      *historystore.Store
	EventLog     *eventlog.Log
	Settings     *settings.Store
	HTTP         *httpapi.Server

	startedAt  time.Time
	httpServer *http.Server
	cancel     context.CancelFunc
	twinWG     sync.WaitGroup
}

// New constructs a fully-wired Runtime from cfg but does not start any
// background loops.
func New(cfg Config, log zerolog.Logger) (*Runtime, error) {
	t := twin.New(twin.Config{
		TimeAccelerationX:     cfg.Twin.TimeAccelerationX,
		TempBase:              20,
		TempAmplitude:         5,
		NoiseAmpTemp:          cfg.Twin.NoiseAmpTemp,
		HumidityBase:          50,
		HumidityAmplitude:     10,
		NoiseAmpHumidity:      cfg.Twin.NoiseAmpHumidity,
		ElectricityRatePerKWh: cfg.Twin.ElectricityRatePerKWh,
		Actuators:             twin.DefaultActuators(),
	}, cfg.Twin.Seed, log)

	policy := safety.DefaultPolicy()
	policy.Timeout = time.Duration(cfg.Safety.TimeoutSeconds) * time.Second

	b := bus.New(log, bus.WithMessageHook(func(kind string) { BusMessages.WithLabelValues(kind).Inc() }))

	elog, err := eventlog.Open(DataHome() + "/events.jsonl")
	if err != nil {
		return nil, fmt.Errorf("greenhouse: open eventlog: %w", err)
	}

	ui := uibridge.New(log,
		uibridge.WithStallThreshold(time.Duration(cfg.UI.StallThresholdSeconds)*time.Second),
		uibridge.WithEventSink(func(evt uibridge.Event) {
			if err := elog.Append(evt); err != nil {
				log.Warn().Err(err).Msg("greenhouse: failed to append event log")
			}
		}),
	)

	watchdog := safety.New(policy, log, func() {
		ui.Broadcast(uibridge.EventCommandError, "", map[string]string{
			"severity": "FATAL",
			"reason":   "emergency_lock latched",
		})
	})

	rt := agents.New(b, DataHome()+"/agents", log)
	rt.RegisterRole("coder", agents.NewCoderAgent())
	rt.RegisterRole("tester", agents.NewTesterAgent())
	rt.RegisterRole("documenter", agents.NewDocumenterAgent())
	rt.RegisterRole("validator", agents.NewValidatorAgent())
	rt.RegisterRole("climate", agents.NewClimateAgent(t))

	rates := map[string]finance.Rate{
		cfg.Finance.DefaultModelTag: {
			PromptPerMillion:     cfg.Finance.PromptPerMillion,
			CompletionPerMillion: cfg.Finance.CompletionPerMillion,
		},
	}
	ft := finance.New(rates)

	orch := orchestrator.New(b, rt, ft, cfg.Orchestrator.BudgetHours, log)

	br := bridge.New(t, watchdog, b, log,
		bridge.WithIntervals(
			time.Duration(cfg.Bridge.SampleIntervalMillis)*time.Millisecond,
			time.Duration(cfg.Bridge.PublishIntervalMillis)*time.Millisecond,
		),
		bridge.WithReporter(func(bridge.Frame) { BridgePublishes.Inc() }),
		bridge.WithSampleHook(func() { BridgeSamples.Inc() }),
	)

	store, err := historystore.Open(DataHome())
	if err != nil {
		return nil, fmt.Errorf("greenhouse: open historystore: %w", err)
	}

	cp := commandplane.New(rt, t, b, ui, nil, log)

	sst := settings.Open(DataHome() + "/settings.json")
	startedAt := time.Now()

	runtime := &Runtime{
		Config:       cfg,
		Log:          log,
		Twin:         t,
		Safety:       watchdog,
		Bus:          b,
		Agents:       rt,
		Bridge:       br,
		Orchestrator: orch,
		Finance:      ft,
		UI:           ui,
		Command:      cp,
		History:      store,
		EventLog:     elog,
		Settings:     sst,
		startedAt:    startedAt,
	}
	runtime.HTTP = httpapi.New(t, rt, ui, store, sst, cp, runtime.RunGoal, startedAt, log)
	cp.SetShutdownFunc(runtime.Stop)
	return runtime, nil
}

// Start connects the bridge, launches the twin step loop, bridge sample/
// publish loops, and UI heartbeat. It returns immediately; call Stop to
// unwind everything.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Bridge.Connect(bridge.ModeSim, nil); err != nil {
		return fmt.Errorf("greenhouse: connect bridge: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.Bridge.Start(ctx)
	r.UI.StartHeartbeat(ctx, time.Duration(r.Config.UI.HeartbeatIntervalSeconds)*time.Second)

	r.twinWG.Add(1)
	go r.twinLoop(ctx)

	r.HTTP.EnableMetrics()
	addr := fmt.Sprintf("%s:%d", r.Config.HTTP.Host, r.Config.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r.HTTP.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.Log.Error().Err(err).Msg("greenhouse: http server exited with error")
		}
	}()

	r.Log.Info().Str("addr", addr).Msg("greenhouse: runtime started")
	return nil
}

func (r *Runtime) twinLoop(ctx context.Context) {
	defer r.twinWG.Done()
	tick := time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := r.Twin.Snapshot().StressIndex
			r.Twin.Step(tick)
			r.UI.Tick()
			TwinCycles.Inc()
			FinanceLedgerEntries.Set(float64(r.Finance.Summary().SampleCount))
			after := r.Twin.Snapshot().StressIndex
			if after >= 0.7 && before < 0.7 {
				r.UI.Broadcast(uibridge.EventTwinDriftAlert, "", map[string]float64{"stress_index": after})
			}
			r.UI.Broadcast(uibridge.EventGreenhouseTelem, "", r.Twin.TelemetryPacket())
		}
	}
}

// RunGoal executes the validation_chain workflow against goal, records the
// finished state to HistoryStore, and returns it.
func (r *Runtime) RunGoal(ctx context.Context, goal string) (orchestrator.WorkflowState, error) {
	state, err := r.Orchestrator.Execute(ctx, "validation_chain", goal)
	if err != nil {
		return state, err
	}
	WorkflowExecutions.WithLabelValues(string(state.Status)).Inc()
	if err := r.History.RecordWorkflow(state); err != nil {
		r.Log.Warn().Err(err).Msg("greenhouse: failed to persist workflow run")
	}
	return state, nil
}

// Stop performs the bounded shutdown sequence: stop accepting new commands
// is the caller's responsibility (CommandPlane's ListenStdin loop runs on the
// caller's context, not the runtime's); this cancels the runtime context,
// shuts down the HTTP server, stops the bridge, twin loop, and UI heartbeat,
// then closes the history store and event log, in that order, and is safe to
// call more than once.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.Log.Warn().Err(err).Msg("greenhouse: error shutting down http server")
		}
	}
	r.Bridge.Stop()
	r.twinWG.Wait()
	r.UI.StopHeartbeat()
	if err := r.History.Close(); err != nil {
		r.Log.Warn().Err(err).Msg("greenhouse: error closing historystore")
	}
	if err := r.EventLog.Close(); err != nil {
		r.Log.Warn().Err(err).Msg("greenhouse: error closing event log")
	}
	r.Log.Info().Msg("greenhouse: runtime stopped")
}
