package crew

import (
	"context"
	"fmt"
	"strconv"

	"crewhq/internal/decision"
	"crewhq/internal/delivery"
	"crewhq/internal/types"
)

// engagementFollowUpCrew keeps warm conversations moving: measure
// engagement, pick a follow-up strategy, draft it, and stage an A/B
// variant for the copy.
func engagementFollowUpCrew(collab Collaborators) *Definition {
	return &Definition{
		Name: "engagement-follow-up",
		Stages: [][]Step{
			{StepFunc{"track", trackEngagement}},
			{StepFunc{"analyze", analyzeEngagement}},
			{StepFunc{"draft-follow-up", draftFollowUp(collab.Writer)}},
			{StepFunc{"test-variant", stageVariant}},
		},
		HardDeps: map[string]bool{"track": true},
	}
}

func trackEngagement(ctx context.Context, sc *StepContext) error {
	leadID := sc.Entity("lead_id", "lead-0")

	rate := 50
	if v := sc.Entity("engagement_rate", ""); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return types.ValidationError("engagement_rate %q is not a number", v)
		}
		rate = parsed
	}

	sc.Put("lead_id", leadID)
	sc.Put("engagement_rate", rate)
	sc.Emit("engagement.tracked", map[string]interface{}{
		"lead_id": leadID,
		"rate":    rate,
	})
	return nil
}

func analyzeEngagement(ctx context.Context, sc *StepContext) error {
	class := "/engaged"
	if sc.Entity("bounced", "") == "true" {
		class = "/bounced"
	} else if v, ok := sc.Get("engagement_rate"); ok {
		if rate, ok := v.(int); ok && rate < 30 {
			class = "/silent"
		}
	}

	out := sc.Decide(ctx, decision.Input{State: "/follow_up", Class: class})
	strategy := "/send_next"
	if out.Decided {
		strategy = out.Action
	}
	sc.Put("strategy", strategy)
	return nil
}

func draftFollowUp(writer Copywriter) func(ctx context.Context, sc *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		strategy := sc.GetString("strategy")
		if strategy == "/stop" {
			sc.Put("draft", "")
			return nil
		}

		leadID := sc.GetString("lead_id")
		channel := sc.Entity("channel", "email")
		text, err := writer.Draft(ctx, leadID, channel, "follow_up")
		if err != nil {
			return types.WrapTransient(err)
		}
		if strategy == "/vary_message" {
			text = "Trying a different angle: " + text
		}

		recipient := sc.Entity("email", leadID+"@example.com")
		ch := delivery.ChannelEmail
		if channel == "sms" {
			ch = delivery.ChannelSMS
		}
		if err := sc.Send(ctx, ch, recipient, text); err != nil {
			return types.WrapTransient(err)
		}
		sc.Put("draft", text)
		return nil
	}
}

// stageVariant records an alternate wording so the optimization crew can
// compare open rates later. No variant is staged when follow-up stopped.
func stageVariant(ctx context.Context, sc *StepContext) error {
	draft := sc.GetString("draft")
	if draft == "" {
		sc.Put("variant", "")
		return nil
	}

	variant := fmt.Sprintf("Short version: %.60s...", draft)
	sc.Put("variant", variant)
	sc.Emit("experiment.variant", map[string]interface{}{
		"lead_id": sc.GetString("lead_id"),
	})
	return nil
}
