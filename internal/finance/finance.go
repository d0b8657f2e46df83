// Package finance implements the FinanceTracker: a running ledger of
// token spend, effectiveness, and utilization samples, used to decide
// whether the system's agent spend is "stable" relative to its output.
// Grounded on original_source/_SUDOTEER/backend/utils/finance.py.
package finance

import "sync"

// Rate is a cost-per-million-token pair for one model tag.
type Rate struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// DefaultModelTag is used when LogTokens is called without one.
const DefaultModelTag = "gpt-4o-mini"

// DefaultRates mirrors utils/finance.py's cost table.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		DefaultModelTag: {PromptPerMillion: 0.15, CompletionPerMillion: 0.60},
	}
}

// TokenEntry records one LogTokens call.
type TokenEntry struct {
	ModelTag         string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Effectiveness tallies how many attempts tasks needed to pass, mirroring
// utils/finance.py's effectiveness dict.
type Effectiveness struct {
	TotalTasks     int
	FirstTimePass  int
	SecondTimePass int
	Failures       int
}

// Ledger is the append-only record backing Tracker; HistoryStore persists a
// summary snapshot of it whenever RecordFinanceSnapshot is called.
type Ledger struct {
	Tokens         []TokenEntry
	Effectiveness  Effectiveness
	Utilization    map[string]int // agent_id -> call count
	TotalCostUSD   float64
	TotalInTokens  int
	TotalOutTokens int
}

// Tracker is the concurrency-safe wrapper around a Ledger.
type Tracker struct {
	mu     sync.Mutex
	rates  map[string]Rate
	ledger Ledger
}

// New constructs a Tracker with the given rate table. A nil table uses
// DefaultRates.
func New(rates map[string]Rate) *Tracker {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Tracker{rates: rates, ledger: Ledger{Utilization: make(map[string]int)}}
}

// LogTokens records a token-spend sample and returns its computed cost.
// An unknown model tag falls back to DefaultModelTag's rate.
func (t *Tracker) LogTokens(modelTag string, promptTokens, completionTokens int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate, ok := t.rates[modelTag]
	if !ok {
		rate = t.rates[DefaultModelTag]
	}
	cost := float64(promptTokens)/1_000_000*rate.PromptPerMillion +
		float64(completionTokens)/1_000_000*rate.CompletionPerMillion

	t.ledger.Tokens = append(t.ledger.Tokens, TokenEntry{
		ModelTag:         modelTag,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          cost,
	})
	t.ledger.TotalCostUSD += cost
	t.ledger.TotalInTokens += promptTokens
	t.ledger.TotalOutTokens += completionTokens
	return cost
}

// LogEffectiveness records how many attempts taskID needed before it
// settled, as utils/finance.py's log_effectiveness: every call increments
// total_tasks; a success on attempt 1 or 2 counts as a first- or second-time
// pass, a failure counts in Failures, and a success on any other attempt
// count increments nothing past total_tasks.
func (t *Tracker) LogEffectiveness(taskID string, attempts int, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger.Effectiveness.TotalTasks++
	switch {
	case success && attempts == 1:
		t.ledger.Effectiveness.FirstTimePass++
	case success && attempts == 2:
		t.ledger.Effectiveness.SecondTimePass++
	case !success:
		t.ledger.Effectiveness.Failures++
	}
}

// LogUtilization increments agentID's call count, exactly as
// utils/finance.py's log_utilization.
func (t *Tracker) LogUtilization(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger.Utilization[agentID]++
}

// IsStable reports whether output token volume has run away relative to
// input, exactly as utils/finance.py's threshold: total_out > total_in*10 + 100.
func (t *Tracker) IsStable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.ledger.TotalOutTokens) <= float64(t.ledger.TotalInTokens)*10+100
}

// Summary is the read-only snapshot returned by Summary().
type Summary struct {
	TotalCostUSD   float64
	TotalInTokens  int
	TotalOutTokens int
	Stable         bool
	SampleCount    int
}

// Summary returns an aggregate view of the ledger for reporting and for
// HistoryStore snapshotting.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		TotalCostUSD:   t.ledger.TotalCostUSD,
		TotalInTokens:  t.ledger.TotalInTokens,
		TotalOutTokens: t.ledger.TotalOutTokens,
		Stable:         float64(t.ledger.TotalOutTokens) <= float64(t.ledger.TotalInTokens)*10+100,
		SampleCount:    len(t.ledger.Tokens),
	}
}

// Ledger returns an independent copy of the underlying ledger (the Tokens
// slice and Utilization map are copied), for callers
// (e.g. HistoryStore) that need the full entry lists rather than the
// aggregate Summary.
func (t *Tracker) Ledger() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := t.ledger
	cp.Tokens = append([]TokenEntry(nil), t.ledger.Tokens...)
	cp.Utilization = make(map[string]int, len(t.ledger.Utilization))
	for k, v := range t.ledger.Utilization {
		cp.Utilization[k] = v
	}
	return cp
}
