// Package aggregate folds crew results into the single user-facing
// response envelope. It is deterministic and never errors: whatever the
// crews produced, the caller gets exactly one envelope.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"crewhq/internal/types"
)

const failureMessage = "I couldn't complete that right now. Please try again in a moment."

// Aggregator builds response envelopes from crew results.
type Aggregator struct {
	logger *zap.Logger
}

// New creates an aggregator.
func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger.Named("aggregate")}
}

// Aggregate summarizes the results into one envelope. Raw error payloads
// are logged, never surfaced: a fully failed run yields the generic
// failure message with success=false.
func (a *Aggregator) Aggregate(results []types.CrewResult) types.ResponseEnvelope {
	if len(results) == 0 {
		return types.ResponseEnvelope{Text: failureMessage, Success: false, Reason: "no_results"}
	}

	var parts []string
	var used []string
	failed := 0

	for _, res := range results {
		used = append(used, res.CrewName)
		for _, rec := range res.Errors {
			a.logger.Warn("crew step error",
				zap.String("crew", res.CrewName),
				zap.String("step", rec.Step),
				zap.String("class", string(rec.Class)),
				zap.String("message", rec.Message))
		}

		switch res.Status {
		case types.CrewFailed:
			failed++
		case types.CrewOK, types.CrewPartial:
			if text := summarize(res); text != "" {
				parts = append(parts, text)
			}
			if res.Status == types.CrewPartial {
				parts = append(parts, fmt.Sprintf("Heads up: part of the %s work hit a snag and will be retried.", res.CrewName))
			}
		}
	}

	if failed == len(results) {
		return types.ResponseEnvelope{
			Text:      failureMessage,
			Success:   false,
			UsedCrews: used,
			Reason:    "all_crews_failed",
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		text = "Done."
	}
	return types.ResponseEnvelope{Text: text, Success: true, UsedCrews: used}
}

// summarize renders a crew payload as user-facing text. Keys with a
// known rendering get a sentence; everything else is compacted into a
// short key=value tail for transparency.
func summarize(res types.CrewResult) string {
	var parts []string

	if s, ok := res.Payload["funnel_summary"].(string); ok && s != "" {
		parts = append(parts, s+".")
	}
	if s, ok := res.Payload["insights"].(string); ok && s != "" {
		parts = append(parts, "Insights: "+s+".")
	}
	if draft, ok := res.Payload["draft"].(string); ok && draft != "" {
		parts = append(parts, "Drafted: "+draft)
	}
	if scheduled, ok := res.Payload["scheduled"].(bool); ok {
		if scheduled {
			parts = append(parts, "Delivery is scheduled.")
		} else {
			parts = append(parts, "Nothing was sent.")
		}
	}

	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	// Fallback: stable key list so output is deterministic.
	keys := make([]string, 0, len(res.Payload))
	for k := range res.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]string, 0, len(keys))
	for _, k := range keys {
		kv = append(kv, fmt.Sprintf("%s=%v", k, res.Payload[k]))
	}
	if len(kv) == 0 {
		return ""
	}
	return fmt.Sprintf("%s finished (%s).", res.CrewName, strings.Join(kv, ", "))
}
