// Package parser turns raw command text into a structured intent.
//
// Parsing is local-first: keyword and pattern rules run without any
// network I/O. Only when local rules land below the confidence threshold
// does the parser consult the decision engine's reasoner tier once, with
// a strict timeout. Unrecognized input is a valid low-confidence
// conversational intent, never an error.
package parser

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"crewhq/internal/types"
)

// fallbackThreshold is the local confidence below which the reasoner is
// consulted.
const fallbackThreshold = 0.6

// Fallback is the optional reasoner hook for low-confidence input. It is
// satisfied by decision.CachedReasoner.
type Fallback interface {
	Complete(ctx context.Context, prompt, contextText string) (string, error)
}

// Parser classifies commands.
type Parser struct {
	fallback        Fallback
	fallbackTimeout time.Duration
	logger          *zap.Logger
}

// New creates a parser. fallback may be nil, in which case low-confidence
// input stays conversational.
func New(fallback Fallback, fallbackTimeout time.Duration, logger *zap.Logger) *Parser {
	if fallbackTimeout <= 0 {
		fallbackTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		fallback:        fallback,
		fallbackTimeout: fallbackTimeout,
		logger:          logger.Named("parser"),
	}
}

// Parse derives an intent from raw text. It never returns an error.
func (p *Parser) Parse(ctx context.Context, text string) types.ParsedIntent {
	intent := parseLocal(text)
	if intent.Confidence >= fallbackThreshold || p.fallback == nil {
		return intent
	}

	refined, ok := p.consultReasoner(ctx, text)
	if !ok {
		return intent
	}
	// The reasoner only upgrades the action; entities stay local.
	refined.Entities = intent.Entities
	p.logger.Debug("reasoner refined low-confidence parse",
		zap.String("local", string(intent.Action)),
		zap.String("refined", string(refined.Action)))
	return refined
}

// parseLocal runs the deterministic keyword/pattern rules.
func parseLocal(text string) types.ParsedIntent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return conversational(0.1)
	}

	action, confidence := classifyAction(trimmed)
	intent := types.ParsedIntent{
		Action:     action,
		Entities:   extractEntities(trimmed),
		Confidence: confidence,
	}
	return intent
}

func conversational(confidence float64) types.ParsedIntent {
	return types.ParsedIntent{
		Action:     types.ActionConversational,
		Entities:   map[string]string{},
		Confidence: confidence,
	}
}

// classifyAction maps the leading verb (or a keyword anywhere in short
// input) onto an action.
func classifyAction(text string) (types.Action, float64) {
	lower := strings.ToLower(text)
	first, _ := splitFirstToken(lower)

	switch first {
	case "launch", "start", "run", "reactivate":
		if strings.Contains(lower, "campaign") || strings.Contains(lower, "lead") {
			return types.ActionLaunchCampaign, 0.9
		}
		return types.ActionLaunchCampaign, 0.65
	case "follow", "followup", "follow-up", "nudge", "remind":
		return types.ActionFollowUp, 0.85
	case "book", "schedule", "meet":
		if strings.Contains(lower, "meeting") || strings.Contains(lower, "call") || first == "book" {
			return types.ActionBookMeeting, 0.85
		}
		return types.ActionBookMeeting, 0.6
	case "optimize", "improve", "tune", "test":
		return types.ActionOptimize, 0.8
	case "status", "show", "report":
		return types.ActionShowStatus, 0.8
	case "help", "commands":
		return types.ActionHelp, 0.95
	}

	// No leading verb; keyword scan with lower confidence.
	switch {
	case strings.Contains(lower, "launch") && strings.Contains(lower, "campaign"):
		return types.ActionLaunchCampaign, 0.7
	case strings.Contains(lower, "follow up") || strings.Contains(lower, "follow-up"):
		return types.ActionFollowUp, 0.65
	case strings.Contains(lower, "book a meeting") || strings.Contains(lower, "book meeting"):
		return types.ActionBookMeeting, 0.7
	case strings.Contains(lower, "how are"), strings.HasSuffix(lower, "?") && len(lower) < 40:
		return types.ActionConversational, 0.5
	}

	return types.ActionConversational, 0.3
}

var (
	leadIDPattern = regexp.MustCompile(`\blead[-_ ]?(\d+)\b`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	countPattern  = regexp.MustCompile(`\b(\d+)\s+leads?\b`)
)

// extractEntities pulls structured values out of free text.
func extractEntities(text string) map[string]string {
	entities := map[string]string{}
	lower := strings.ToLower(text)

	if ids := leadIDPattern.FindAllStringSubmatch(lower, -1); len(ids) > 0 {
		parts := make([]string, 0, len(ids))
		for _, m := range ids {
			parts = append(parts, "lead-"+m[1])
		}
		entities["lead_ids"] = strings.Join(parts, ",")
		entities["lead_id"] = parts[0]
	}
	if m := countPattern.FindStringSubmatch(lower); m != nil {
		entities["lead_count"] = m[1]
	}
	if m := emailPattern.FindString(text); m != "" {
		entities["email"] = m
	}
	switch {
	case strings.Contains(lower, "email"):
		entities["channel"] = "email"
	case strings.Contains(lower, "sms") || strings.Contains(lower, "text message"):
		entities["channel"] = "sms"
	}

	return entities
}

func splitFirstToken(s string) (string, string) {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			return s[:i], strings.TrimSpace(s[i:])
		}
	}
	return s, ""
}

// consultReasoner asks the tier-3 reasoner to classify ambiguous input.
// The response must be one of the known action names; anything else is
// discarded.
func (p *Parser) consultReasoner(ctx context.Context, text string) (types.ParsedIntent, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.fallbackTimeout)
	defer cancel()

	prompt := "Classify this user command into exactly one action token from: " +
		"/launch_campaign /follow_up /book_meeting /optimize /show_status /help /conversational. " +
		"Reply with the token only.\n\nCommand: " + text
	response, err := p.fallback.Complete(ctx, prompt, "")
	if err != nil {
		p.logger.Debug("parse fallback failed", zap.Error(err))
		return types.ParsedIntent{}, false
	}

	action, ok := knownAction(strings.TrimSpace(response))
	if !ok || action == types.ActionConversational {
		return types.ParsedIntent{}, false
	}
	return types.ParsedIntent{Action: action, Confidence: 0.7}, true
}

func knownAction(token string) (types.Action, bool) {
	switch types.Action(token) {
	case types.ActionLaunchCampaign, types.ActionFollowUp, types.ActionBookMeeting,
		types.ActionOptimize, types.ActionShowStatus, types.ActionHelp,
		types.ActionConversational:
		return types.Action(token), true
	}
	return "", false
}
