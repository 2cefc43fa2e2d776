// Package types holds the shared data model for the crewHQ orchestration
// core: inbound commands, parsed intents, account snapshots, crew results,
// response envelopes, sentience state and bus events.
//
// Ownership rules (enforced by convention and tests):
//   - CrewResult values are constructed only by the crew package.
//   - SentienceState is written only by the sentience package.
//   - ParsedIntent and AccountState are immutable after creation.
package types

import (
	"time"
)

// Command is one inbound user message. Immutable.
type Command struct {
	RawText        string `json:"raw_text"`
	AccountID      string `json:"account_id"`
	ConversationID string `json:"conversation_id"`
}

// Action identifies the category of work a parsed command asks for.
type Action string

const (
	// ActionConversational is the catch-all for input with no recognized
	// actionable command. It is a valid low-confidence intent, not an error.
	ActionConversational Action = "/conversational"

	ActionLaunchCampaign  Action = "/launch_campaign"
	ActionFollowUp        Action = "/follow_up"
	ActionBookMeeting     Action = "/book_meeting"
	ActionOptimize        Action = "/optimize"
	ActionShowStatus      Action = "/show_status"
	ActionHelp            Action = "/help"
)

// ParsedIntent is the structured interpretation of a command's raw text.
type ParsedIntent struct {
	Action     Action            `json:"action"`
	Entities   map[string]string `json:"entities"`
	Confidence float64           `json:"confidence"`
}

// Actionable reports whether the intent asks for crew work (anything
// other than plain conversation).
func (p ParsedIntent) Actionable() bool {
	return p.Action != ActionConversational
}

// Tier is a subscription level. Ordering matters: higher tiers include
// everything lower tiers can do.
type Tier string

const (
	TierFree       Tier = "/free"
	TierStarter    Tier = "/starter"
	TierPro        Tier = "/pro"
	TierEnterprise Tier = "/enterprise"
)

// AccountState is a read-only snapshot of the caller's account, fetched
// fresh per request so tier changes take effect on the next command.
type AccountState struct {
	AccountID       string          `json:"account_id"`
	IsAuthenticated bool            `json:"is_authenticated"`
	Tier            Tier            `json:"tier"`
	FeatureFlags    map[string]bool `json:"feature_flags,omitempty"`
}

// CrewStatus is the overall outcome of one crew run.
type CrewStatus string

const (
	CrewOK      CrewStatus = "/ok"
	CrewPartial CrewStatus = "/partial"
	CrewFailed  CrewStatus = "/failed"
)

// ErrorRecord captures one step failure inside a crew run.
type ErrorRecord struct {
	Step     string    `json:"step"`
	Class    ErrClass  `json:"class"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// CrewResult is the outcome of one crew run. Constructed only by the
// crew coordinator; immutable once handed to the aggregator.
type CrewResult struct {
	CrewName string                 `json:"crew_name"`
	Status   CrewStatus             `json:"status"`
	Payload  map[string]interface{} `json:"payload"`
	Errors   []ErrorRecord          `json:"errors,omitempty"`
}

// ResponseEnvelope is the single user-facing reply built from one or
// more crew results.
type ResponseEnvelope struct {
	Text          string   `json:"text"`
	Success       bool     `json:"success"`
	UsedCrews     []string `json:"used_crews,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Mood is the assistant's persisted disposition toward one account.
type Mood string

const (
	MoodNeutral    Mood = "/neutral"
	MoodUpbeat     Mood = "/upbeat"
	MoodFocused    Mood = "/focused"
	MoodConcerned  Mood = "/concerned"
	MoodApologetic Mood = "/apologetic"
)

// SentienceState is the per-account adaptive state. Written only by the
// sentience layer after each completed request; loaded lazily with
// defaults on first use.
type SentienceState struct {
	AccountID        string  `json:"account_id"`
	Mood             Mood    `json:"mood"`
	Confidence       float64 `json:"confidence"` // [0,1]
	Warmth           float64 `json:"warmth"`     // [0,1]
	InteractionCount int     `json:"interaction_count"`
	SuccessRate      float64 `json:"success_rate"` // exponential moving average
	LastIntent       string  `json:"last_intent"`

	// Streaks drive mood transitions.
	SuccessStreak int `json:"success_streak"`
	FailureStreak int `json:"failure_streak"`
}

// DefaultSentienceState returns the state used on first contact with an
// account.
func DefaultSentienceState(accountID string) SentienceState {
	return SentienceState{
		AccountID:   accountID,
		Mood:        MoodNeutral,
		Confidence:  0.5,
		Warmth:      0.5,
		SuccessRate: 0.5,
	}
}

// Role distinguishes conversation turn authors.
type Role string

const (
	RoleUser      Role = "/user"
	RoleAssistant Role = "/assistant"
)

// ConversationTurn is one entry in a conversation's bounded history.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// BusEvent is a transient event on the agent communication bus. Retained
// only in the in-memory ring buffer; never persisted.
type BusEvent struct {
	Topic     string                 `json:"topic"`
	Payload   map[string]interface{} `json:"payload"`
	EmittedAt time.Time              `json:"emitted_at"`
}
