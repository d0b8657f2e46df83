package greenhouse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TwinCycles counts completed Twin.Step calls.
var TwinCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "greenhouse",
	Name:      "twin_cycles_total",
	Help:      "Total Twin simulation steps executed.",
})

// BusMessages counts Bus traffic by kind.
var BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greenhouse",
	Name:      "bus_messages_total",
	Help:      "Total A2A bus messages routed, by kind.",
}, []string{"kind"})

// WorkflowExecutions counts Orchestrator.Execute runs by terminal status.
var WorkflowExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "greenhouse",
	Name:      "workflow_executions_total",
	Help:      "Total workflow executions, by terminal status.",
}, []string{"status"})

// FinanceLedgerEntries tracks the running count of FinanceTracker token-spend
// entries.
var FinanceLedgerEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "greenhouse",
	Name:      "finance_ledger_entries",
	Help:      "Number of entries currently in the finance ledger.",
})

// BridgeSamples counts IndustrialBridge.Sample calls.
var BridgeSamples = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "greenhouse",
	Name:      "bridge_samples_total",
	Help:      "Total sensor samples taken by the industrial bridge.",
})

// BridgePublishes counts IndustrialBridge.PublishOnce calls.
var BridgePublishes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "greenhouse",
	Name:      "bridge_publishes_total",
	Help:      "Total telemetry frames published by the industrial bridge.",
})
