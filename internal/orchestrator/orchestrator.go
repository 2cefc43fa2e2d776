// Package orchestrator is the facade tying the pipeline together:
// parse, authorize, dispatch, aggregate, refine, persist. Every inbound
// command yields exactly one response envelope regardless of what fails
// underneath.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crewhq/internal/aggregate"
	"crewhq/internal/gate"
	"crewhq/internal/parser"
	"crewhq/internal/types"
)

// AccountService resolves account snapshots per request.
type AccountService interface {
	Fetch(ctx context.Context, accountID string) types.AccountState
}

// Dispatcher runs the crew registered for an intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent types.ParsedIntent, account types.AccountState) types.CrewResult
}

// Refiner applies the sentience layer to the outgoing envelope.
type Refiner interface {
	Refine(ctx context.Context, envelope types.ResponseEnvelope, accountID, intent string) types.ResponseEnvelope
	State(ctx context.Context, accountID string) types.SentienceState
}

// HistoryStore persists conversation turns.
type HistoryStore interface {
	Append(ctx context.Context, conversationID string, turns ...types.ConversationTurn) error
}

// Options tunes the facade.
type Options struct {
	// BackgroundThreshold: campaigns over this many leads run as a
	// background task with an immediate acknowledgement.
	BackgroundThreshold int
	// BackgroundTimeout bounds one background crew run.
	BackgroundTimeout time.Duration
}

// Orchestrator is the single entry point for inbound commands.
type Orchestrator struct {
	parser     *parser.Parser
	gate       *gate.Gate
	accounts   AccountService
	dispatcher Dispatcher
	aggregator *aggregate.Aggregator
	refiner    Refiner
	history    HistoryStore
	tasks      *TaskRegistry
	opts       Options
	logger     *zap.Logger

	// convLocks serializes commands within one conversation so replies
	// follow arrival order.
	mu        sync.Mutex
	convLocks map[string]*sync.Mutex

	background sync.WaitGroup
}

// New wires the facade. history and refiner may be nil in reduced setups.
func New(p *parser.Parser, g *gate.Gate, accounts AccountService, dispatcher Dispatcher, aggregator *aggregate.Aggregator, refiner Refiner, history HistoryStore, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.BackgroundThreshold <= 0 {
		opts.BackgroundThreshold = 25
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		parser:     p,
		gate:       g,
		accounts:   accounts,
		dispatcher: dispatcher,
		aggregator: aggregator,
		refiner:    refiner,
		history:    history,
		tasks:      NewTaskRegistry(),
		opts:       opts,
		logger:     logger.Named("orchestrator"),
		convLocks:  make(map[string]*sync.Mutex),
	}
}

// Tasks exposes the background task registry for status lookups.
func (o *Orchestrator) Tasks() *TaskRegistry { return o.tasks }

// Wait blocks until all background tasks finish. For shutdown and tests.
func (o *Orchestrator) Wait() { o.background.Wait() }

// Handle processes one command end to end and always returns an
// envelope: panics anywhere in the pipeline are converted into a
// synthesized failure reply, and the sentience layer still runs so state
// reflects the outcome.
func (o *Orchestrator) Handle(ctx context.Context, cmd types.Command) types.ResponseEnvelope {
	requestID := uuid.NewString()
	logger := o.logger.With(
		zap.String("request_id", requestID),
		zap.String("account_id", cmd.AccountID),
		zap.String("conversation_id", cmd.ConversationID))
	start := time.Now()

	lock := o.conversationLock(cmd.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	envelope, intent := o.process(ctx, cmd, requestID, logger)
	if envelope.CorrelationID == "" {
		envelope.CorrelationID = requestID
	}

	if o.refiner != nil {
		envelope = o.safeRefine(ctx, envelope, cmd.AccountID, string(intent.Action), logger)
	}
	o.appendHistory(ctx, cmd, envelope, logger)

	logger.Info("command handled",
		zap.String("action", string(intent.Action)),
		zap.Bool("success", envelope.Success),
		zap.Duration("took", time.Since(start)))
	return envelope
}

// TaskStatus looks up a backgrounded command by correlation id.
func (o *Orchestrator) TaskStatus(id string) (Task, bool) {
	return o.tasks.Get(id)
}

func (o *Orchestrator) conversationLock(conversationID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.convLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		o.convLocks[conversationID] = lock
	}
	return lock
}

// process runs parse→authorize→dispatch→aggregate under panic recovery.
func (o *Orchestrator) process(ctx context.Context, cmd types.Command, requestID string, logger *zap.Logger) (envelope types.ResponseEnvelope, intent types.ParsedIntent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic recovered", zap.Any("panic", r))
			envelope = types.ResponseEnvelope{
				Text:    "Something went wrong on my side. Please try again.",
				Success: false,
				Reason:  "internal_error",
			}
		}
	}()

	if strings.TrimSpace(cmd.RawText) == "" {
		return types.ResponseEnvelope{
			Text:    "I didn't catch that. What would you like me to do?",
			Success: false,
			Reason:  "empty_command",
		}, types.ParsedIntent{Action: types.ActionConversational}
	}

	account := o.accounts.Fetch(ctx, cmd.AccountID)
	intent = o.parser.Parse(ctx, cmd.RawText)

	decision := o.gate.Authorize(account, intent)
	if !decision.Allowed {
		return deniedEnvelope(decision.Reason), intent
	}

	switch intent.Action {
	case types.ActionConversational:
		return types.ResponseEnvelope{
			Text:    "Happy to chat! I can also launch campaigns, follow up with leads, book meetings, and tune your outreach.",
			Success: true,
		}, intent
	case types.ActionHelp:
		return helpEnvelope(), intent
	case types.ActionShowStatus:
		return o.statusEnvelope(ctx, cmd.AccountID), intent
	}

	if o.shouldBackground(intent) {
		return o.launchBackground(intent, account, requestID, logger), intent
	}

	result := o.dispatcher.Dispatch(ctx, intent, account)
	return o.aggregator.Aggregate([]types.CrewResult{result}), intent
}

// shouldBackground reports whether a campaign is large enough to hand
// off instead of running inline.
func (o *Orchestrator) shouldBackground(intent types.ParsedIntent) bool {
	if intent.Action != types.ActionLaunchCampaign {
		return false
	}
	count, err := strconv.Atoi(intent.Entities["lead_count"])
	return err == nil && count > o.opts.BackgroundThreshold
}

// launchBackground runs the crew detached from the request context and
// returns an immediate acknowledgement carrying the task id.
func (o *Orchestrator) launchBackground(intent types.ParsedIntent, account types.AccountState, requestID string, logger *zap.Logger) types.ResponseEnvelope {
	taskID := requestID
	o.tasks.start(taskID)

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panic recovered", zap.Any("panic", r))
				o.tasks.fail(taskID, fmt.Sprintf("panic: %v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), o.opts.BackgroundTimeout)
		defer cancel()
		result := o.dispatcher.Dispatch(ctx, intent, account)
		o.tasks.finish(taskID, result)
		logger.Info("background task finished",
			zap.String("task_id", taskID),
			zap.String("status", string(result.Status)))
	}()

	return types.ResponseEnvelope{
		Text:          fmt.Sprintf("That's a big batch, so I started it in the background. Check back with task id %s.", taskID),
		Success:       true,
		CorrelationID: taskID,
	}
}

// safeRefine keeps the total-reply guarantee even if the sentience layer
// itself misbehaves.
func (o *Orchestrator) safeRefine(ctx context.Context, envelope types.ResponseEnvelope, accountID, intent string, logger *zap.Logger) (refined types.ResponseEnvelope) {
	refined = envelope
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sentience panic recovered", zap.Any("panic", r))
			refined = envelope
		}
	}()
	return o.refiner.Refine(ctx, envelope, accountID, intent)
}

// appendHistory persists the turn pair best-effort. It runs after the
// reply is already decided, so neither errors nor panics from the store
// may escape to the caller.
func (o *Orchestrator) appendHistory(ctx context.Context, cmd types.Command, envelope types.ResponseEnvelope, logger *zap.Logger) {
	if o.history == nil || cmd.ConversationID == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("history store panic recovered", zap.Any("panic", r))
		}
	}()
	now := time.Now()
	err := o.history.Append(ctx, cmd.ConversationID,
		types.ConversationTurn{Role: types.RoleUser, Text: cmd.RawText, Timestamp: now},
		types.ConversationTurn{Role: types.RoleAssistant, Text: envelope.Text, Timestamp: now},
	)
	if err != nil {
		logger.Warn("conversation history not persisted", zap.Error(err))
	}
}

func (o *Orchestrator) statusEnvelope(ctx context.Context, accountID string) types.ResponseEnvelope {
	if o.refiner == nil {
		return types.ResponseEnvelope{Text: "All systems running.", Success: true}
	}
	state := o.refiner.State(ctx, accountID)
	return types.ResponseEnvelope{
		Text: fmt.Sprintf("We've worked together on %d requests; recent success rate is %.0f%%.",
			state.InteractionCount, state.SuccessRate*100),
		Success: true,
	}
}

func deniedEnvelope(reason string) types.ResponseEnvelope {
	switch reason {
	case gate.ReasonLoginRequired:
		return types.ResponseEnvelope{
			Text:    "Please log in first, then I can get to work.",
			Success: false,
			Reason:  reason,
		}
	case gate.ReasonUpgradeRequired:
		return types.ResponseEnvelope{
			Text:    "That feature needs a higher plan. Upgrade to unlock it.",
			Success: false,
			Reason:  reason,
		}
	default:
		return types.ResponseEnvelope{
			Text:    "I don't recognize that command. Try 'help' for what I can do.",
			Success: false,
			Reason:  reason,
		}
	}
}

func helpEnvelope() types.ResponseEnvelope {
	return types.ResponseEnvelope{
		Text: strings.Join([]string{
			"Here's what I can do:",
			"- launch a reactivation campaign ('launch campaign for 10 leads')",
			"- follow up with a lead ('follow up with lead-7')",
			"- book a meeting ('book a meeting with lead-3')",
			"- optimize outreach ('optimize my campaigns')",
			"- show status ('show status')",
		}, "\n"),
		Success: true,
	}
}
