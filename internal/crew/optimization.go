package crew

import (
	"context"
	"fmt"

	"crewhq/internal/decision"
	"crewhq/internal/types"
)

// optimizationIntelligenceCrew tunes the whole operation: decide which
// experiment to run, then in parallel watch external signals and adjust
// personalization, then fold everything into one insights digest.
func optimizationIntelligenceCrew(collab Collaborators) *Definition {
	return &Definition{
		Name: "optimization-intelligence",
		Stages: [][]Step{
			{StepFunc{"design-test", designTest}},
			{
				StepFunc{"monitor-external", monitorExternal},
				StepFunc{"optimize-personalization", optimizePersonalization(collab.Scorer)},
			},
			{StepFunc{"aggregate-insights", aggregateInsights}},
		},
		HardDeps: map[string]bool{"design-test": true},
	}
}

func designTest(ctx context.Context, sc *StepContext) error {
	open := "/false"
	if sc.Entity("open_experiment", "") == "true" {
		open = "/true"
	}

	out := sc.Decide(ctx, decision.Input{Facts: []decision.Fact{
		{Predicate: "query", Args: []interface{}{"/experiment"}},
		{Predicate: "has_open_experiment", Args: []interface{}{open}},
	}})
	plan := "/new_experiment"
	if out.Decided {
		plan = out.Action
	}

	sc.Put("experiment", plan)
	sc.Emit("experiment.designed", map[string]interface{}{"plan": plan})
	return nil
}

func monitorExternal(ctx context.Context, sc *StepContext) error {
	// Placeholder signal until the market-watch collaborator lands.
	sc.Put("external_signal", "no unusual channel activity")
	return nil
}

func optimizePersonalization(scorer LeadScorer) func(ctx context.Context, sc *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		affinity, err := scorer.Score(ctx, sc.Account.AccountID)
		if err != nil {
			return types.WrapTransient(err)
		}

		tone := "standard"
		if affinity >= 0.6 {
			tone = "warm"
		}
		sc.Put("personalization", map[string]interface{}{
			"affinity": affinity,
			"tone":     tone,
		})
		return nil
	}
}

func aggregateInsights(ctx context.Context, sc *StepContext) error {
	digest := fmt.Sprintf("experiment plan %s; external: %s",
		sc.GetString("experiment"),
		sc.GetString("external_signal"))
	sc.Put("insights", digest)
	sc.Emit("insights.aggregated", map[string]interface{}{
		"account_id": sc.Account.AccountID,
	})
	return nil
}
