// Package decision implements the three-tier decision engine backing
// crew dispatch and step-level branching.
//
// Tiers are tried strictly in order, each only when the previous one is
// inconclusive:
//
//  1. State machine: O(1) lookup against a fixed transition table keyed
//     by (current state, input class).
//  2. Rules: a Mangle datalog program deriving decide/3 facts from the
//     asserted input facts; lowest priority wins.
//  3. External reasoner: one bounded network call with a TTL cache keyed
//     by the normalized input hash.
//
// Every tier can return "no decision". Callers must always carry their
// own default policy; the engine is never the sole source of correctness.
package decision

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Input is one decision request.
type Input struct {
	// State and Class key the tier-1 transition table.
	State string
	Class string

	// Facts feed the tier-2 rule kernel.
	Facts []Fact

	// Prompt and Context feed the tier-3 reasoner.
	Prompt  string
	Context string
}

// Source identifies which tier produced an outcome.
type Source string

const (
	SourceStateMachine Source = "/state_machine"
	SourceRules        Source = "/rules"
	SourceReasoner     Source = "/reasoner"
	SourceNone         Source = "/none"
)

// Outcome is the engine's answer. Decided=false means all tiers were
// inconclusive and the caller's default applies.
type Outcome struct {
	Decided bool
	Action  string
	Reason  string
	Source  Source
}

// NoDecision is the zero outcome returned when every tier declines.
var NoDecision = Outcome{Decided: false, Source: SourceNone}

// Stats exposes per-tier invocation counters for tests and diagnostics.
type Stats struct {
	Tier1Calls int64
	Tier2Calls int64
	Tier3Calls int64
	CacheHits  int64
}

// Engine runs the three tiers in order.
type Engine struct {
	transitions *TransitionTable
	rules       *RuleEngine
	fallback    *CachedReasoner
	logger      *zap.Logger

	tier1Calls atomic.Int64
	tier2Calls atomic.Int64
	tier3Calls atomic.Int64
}

// NewEngine wires the three tiers. Any tier may be nil, in which case it
// always declines.
func NewEngine(transitions *TransitionTable, rules *RuleEngine, fallback *CachedReasoner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		transitions: transitions,
		rules:       rules,
		fallback:    fallback,
		logger:      logger.Named("decision"),
	}
}

// Decide resolves one input through the tier cascade. It never returns
// an error: failures in any tier degrade to "no decision".
func (e *Engine) Decide(ctx context.Context, in Input) Outcome {
	if e.transitions != nil && in.State != "" {
		e.tier1Calls.Add(1)
		if out, ok := e.transitions.Lookup(in.State, in.Class); ok {
			e.logger.Debug("decided by state machine",
				zap.String("state", in.State),
				zap.String("class", in.Class),
				zap.String("action", out.Action))
			return out
		}
	}

	if e.rules != nil && len(in.Facts) > 0 {
		e.tier2Calls.Add(1)
		if out, ok := e.rules.Evaluate(in.Facts); ok {
			e.logger.Debug("decided by rules",
				zap.String("action", out.Action),
				zap.String("reason", out.Reason))
			return out
		}
	}

	if e.fallback != nil && in.Prompt != "" {
		e.tier3Calls.Add(1)
		if out, ok := e.fallback.Consult(ctx, in.Prompt, in.Context); ok {
			return out
		}
	}

	return NoDecision
}

// Stats returns a snapshot of tier counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Tier1Calls: e.tier1Calls.Load(),
		Tier2Calls: e.tier2Calls.Load(),
		Tier3Calls: e.tier3Calls.Load(),
	}
	if e.fallback != nil {
		s.CacheHits = e.fallback.cacheHits.Load()
	}
	return s
}

// Reasoner exposes the tier-3 cached reasoner so other components (the
// parser's low-confidence fallback, the sentience self-review) can share
// its cache and timeout discipline.
func (e *Engine) Reasoner() *CachedReasoner {
	return e.fallback
}
