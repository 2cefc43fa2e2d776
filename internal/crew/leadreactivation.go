package crew

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crewhq/internal/decision"
	"crewhq/internal/delivery"
	"crewhq/internal/types"
)

// leadReactivationCrew rebuilds contact with dormant leads: score the
// lead, research context, draft the message, clear compliance, schedule
// delivery. Scoring and compliance are hard dependencies.
func leadReactivationCrew(collab Collaborators) *Definition {
	return &Definition{
		Name: "lead-reactivation",
		Stages: [][]Step{
			{StepFunc{"score", scoreLead(collab.Scorer)}},
			{StepFunc{"research", researchLead}},
			{StepFunc{"draft", draftReactivation(collab.Writer)}},
			{StepFunc{"compliance-check", complianceCheck}},
			{StepFunc{"schedule", scheduleDelivery}},
		},
		HardDeps: map[string]bool{
			"score":            true,
			"compliance-check": true,
		},
	}
}

func scoreLead(scorer LeadScorer) func(ctx context.Context, sc *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		leadID := sc.Entity("lead_id", "lead-0")
		score, err := scorer.Score(ctx, leadID)
		if err != nil {
			return types.WrapTransient(err)
		}

		band := scoreBand(score)
		out := sc.Decide(ctx, decision.Input{State: "/lead", Class: band})
		plan := "/research_first"
		if out.Decided {
			plan = out.Action
		}

		sc.Put("lead_id", leadID)
		sc.Put("lead_score", score)
		sc.Put("score_band", band)
		sc.Put("plan", plan)
		sc.Emit("lead.scored", map[string]interface{}{
			"lead_id": leadID,
			"score":   score,
			"plan":    plan,
		})
		return nil
	}
}

// researchLead summarizes what is already known about the lead. A recent
// research event for the same lead on the bus short-circuits the step.
func researchLead(ctx context.Context, sc *StepContext) error {
	leadID := sc.GetString("lead_id")
	if sc.GetString("plan") == "/skip" {
		sc.Put("research", "skipped: lead scored cold")
		return nil
	}

	if sc.Bus != nil {
		for _, ev := range sc.Bus.RecentByTopic("lead.researched", 20) {
			if id, _ := ev.Payload["lead_id"].(string); id == leadID {
				sc.Put("research", "reused recent research")
				return nil
			}
		}
	}

	summary := fmt.Sprintf("lead %s: last touch before dormancy, channel preference %s",
		leadID, sc.Entity("channel", "email"))
	sc.Put("research", summary)
	sc.Emit("lead.researched", map[string]interface{}{"lead_id": leadID})
	return nil
}

func draftReactivation(writer Copywriter) func(ctx context.Context, sc *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		if sc.GetString("plan") == "/skip" {
			sc.Put("draft", "")
			return nil
		}

		risk := "/" + sc.Entity("compliance_risk", "low")
		channel := sc.Entity("channel", "email")
		out := sc.Decide(ctx, decision.Input{Facts: []decision.Fact{
			{Predicate: "query", Args: []interface{}{"/channel"}},
			{Predicate: "channel_available", Args: []interface{}{"/" + channel}},
			{Predicate: "compliance_risk", Args: []interface{}{risk}},
		}})
		picked := "/" + channel
		if out.Decided {
			picked = out.Action
		}
		if picked == "/hold" {
			sc.Put("draft", "")
			sc.Put("channel", picked)
			sc.Logger.Info("outbound held", zap.String("reason", out.Reason))
			return nil
		}

		leadID := sc.GetString("lead_id")
		text, err := writer.Draft(ctx, leadID, picked, "reactivation")
		if err != nil {
			return types.WrapTransient(err)
		}
		sc.Put("draft", text)
		sc.Put("channel", picked)
		return nil
	}
}

func complianceCheck(ctx context.Context, sc *StepContext) error {
	if sc.GetString("draft") == "" {
		sc.Put("compliance", "/skipped")
		return nil
	}

	class := "/risk_" + sc.Entity("compliance_risk", "low")
	out := sc.Decide(ctx, decision.Input{State: "/compliance", Class: class})
	verdict := "/approve"
	if out.Decided {
		verdict = out.Action
	}
	sc.Put("compliance", verdict)

	if verdict == "/reject" {
		return types.ValidationError("draft rejected by compliance: %s", out.Reason)
	}
	return nil
}

func scheduleDelivery(ctx context.Context, sc *StepContext) error {
	draft := sc.GetString("draft")
	if draft == "" || sc.GetString("compliance") == "/route_review" {
		sc.Put("scheduled", false)
		return nil
	}

	rate := int64(50)
	if v, ok := sc.Get("lead_score"); ok {
		if f, ok := v.(float64); ok {
			rate = int64(f * 100)
		}
	}
	out := sc.Decide(ctx, decision.Input{Facts: []decision.Fact{
		{Predicate: "query", Args: []interface{}{"/send_window"}},
		{Predicate: "engagement_rate", Args: []interface{}{rate}},
	}})
	window := "/send_afternoon"
	if out.Decided {
		window = out.Action
	}

	leadID := sc.GetString("lead_id")
	recipient := sc.Entity("email", leadID+"@example.com")
	channel := delivery.ChannelEmail
	if sc.GetString("channel") == "/sms" {
		channel = delivery.ChannelSMS
	}
	if err := sc.Send(ctx, channel, recipient, draft); err != nil {
		return types.WrapTransient(err)
	}

	sc.Put("scheduled", true)
	sc.Put("send_window", window)
	sc.Emit("message.scheduled", map[string]interface{}{
		"lead_id": leadID,
		"window":  window,
	})
	return nil
}
