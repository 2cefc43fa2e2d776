package crew

import (
	"context"
	"fmt"
	"strconv"

	"crewhq/internal/decision"
	"crewhq/internal/delivery"
	"crewhq/internal/types"
)

// revenueConversionCrew closes qualified leads: book the meeting, then
// in parallel compute the proposal fee and probe for an upsell, then
// summarize where the deal sits in the funnel.
func revenueConversionCrew(collab Collaborators) *Definition {
	return &Definition{
		Name: "revenue-conversion",
		Stages: [][]Step{
			{StepFunc{"book-meeting", bookMeeting}},
			{
				StepFunc{"compute-fee", computeFee},
				StepFunc{"detect-upsell", detectUpsell},
			},
			{StepFunc{"analyze-funnel", analyzeFunnel}},
		},
		HardDeps: map[string]bool{"book-meeting": true},
	}
}

func bookMeeting(ctx context.Context, sc *StepContext) error {
	leadID := sc.Entity("lead_id", "lead-0")
	stage := sc.Entity("funnel_stage", "qualified")

	out := sc.Decide(ctx, decision.Input{State: "/meeting", Class: "/stage_" + stage})
	action := "/nurture"
	if out.Decided {
		action = out.Action
	}

	sc.Put("lead_id", leadID)
	sc.Put("funnel_stage", stage)
	sc.Put("meeting", action)

	if action == "/book" {
		recipient := sc.Entity("email", leadID+"@example.com")
		invite := fmt.Sprintf("Calendar invite for %s: intro call this week?", leadID)
		if err := sc.Send(ctx, delivery.ChannelEmail, recipient, invite); err != nil {
			return types.WrapTransient(err)
		}
		sc.Emit("meeting.booked", map[string]interface{}{"lead_id": leadID})
	}
	return nil
}

func computeFee(ctx context.Context, sc *StepContext) error {
	dealSize := 5000
	if v := sc.Entity("deal_size", ""); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return types.ValidationError("deal_size %q is not a number", v)
		}
		dealSize = parsed
	}

	fee := dealSize / 10
	sc.Put("deal_size", dealSize)
	sc.Put("fee", fee)
	return nil
}

func detectUpsell(ctx context.Context, sc *StepContext) error {
	stage := "/" + sc.Entity("funnel_stage", "qualified")
	out := sc.Decide(ctx, decision.Input{Facts: []decision.Fact{
		{Predicate: "query", Args: []interface{}{"/upsell"}},
		{Predicate: "account_tier", Args: []interface{}{string(sc.Account.Tier)}},
		{Predicate: "funnel_stage", Args: []interface{}{stage}},
	}})
	verdict := "/no_upsell"
	if out.Decided {
		verdict = out.Action
	}
	sc.Put("upsell", verdict)
	return nil
}

func analyzeFunnel(ctx context.Context, sc *StepContext) error {
	fee, _ := sc.Get("fee")
	summary := fmt.Sprintf("lead %s at stage %s: meeting %s, fee estimate %v, upsell %s",
		sc.GetString("lead_id"),
		sc.GetString("funnel_stage"),
		sc.GetString("meeting"),
		fee,
		sc.GetString("upsell"))
	sc.Put("funnel_summary", summary)
	sc.Emit("funnel.analyzed", map[string]interface{}{
		"lead_id": sc.GetString("lead_id"),
	})
	return nil
}
