// Package crew runs the four fixed revenue crews. A crew is a small
// pipeline of named steps; the coordinator owns the intent→crew
// registry, step retry, and failure isolation.
package crew

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crewhq/internal/bus"
	"crewhq/internal/decision"
	"crewhq/internal/delivery"
	"crewhq/internal/types"
)

// StepContext carries shared request state through one crew run. The
// payload map is guarded so independent steps can write concurrently.
type StepContext struct {
	Intent  types.ParsedIntent
	Account types.AccountState

	Bus    *bus.Bus
	Engine *decision.Engine
	Queue  delivery.Queue
	Logger *zap.Logger

	mu      sync.Mutex
	payload map[string]interface{}
}

// Put records a step output for later steps and the final result.
func (s *StepContext) Put(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		s.payload = make(map[string]interface{})
	}
	s.payload[key] = value
}

// Get returns a previously recorded output.
func (s *StepContext) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.payload[key]
	return v, ok
}

// GetString returns a recorded output as a string, or "" if absent.
func (s *StepContext) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Entity reads an intent entity, or fallback if absent.
func (s *StepContext) Entity(key, fallback string) string {
	if v, ok := s.Intent.Entities[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Emit publishes a bus event if a bus is wired.
func (s *StepContext) Emit(topic string, payload map[string]interface{}) {
	if s.Bus != nil {
		s.Bus.Publish(topic, payload)
	}
}

// Decide consults the decision engine, degrading to no-decision when no
// engine is wired. Steps always carry their own default.
func (s *StepContext) Decide(ctx context.Context, in decision.Input) decision.Outcome {
	if s.Engine == nil {
		return decision.NoDecision
	}
	return s.Engine.Decide(ctx, in)
}

// Send enqueues an outbound message if a delivery queue is wired.
func (s *StepContext) Send(ctx context.Context, channel delivery.Channel, recipient, payload string) error {
	if s.Queue == nil {
		return nil
	}
	return s.Queue.Enqueue(ctx, channel, recipient, payload)
}

func (s *StepContext) snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.payload))
	for k, v := range s.payload {
		out[k] = v
	}
	return out
}

// Step is one unit of crew work.
type Step interface {
	Name() string
	Run(ctx context.Context, sc *StepContext) error
}

// StepFunc adapts a function into a Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, sc *StepContext) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Run(ctx context.Context, sc *StepContext) error { return s.Fn(ctx, sc) }

// Definition describes one crew: stages run in declaration order; steps
// within the same stage are independent and run concurrently. HardDeps
// names steps whose failure aborts the crew.
type Definition struct {
	Name     string
	Stages   [][]Step
	HardDeps map[string]bool
}

// Coordinator owns the fixed intent→crew registry and execution policy.
type Coordinator struct {
	registry map[types.Action]*Definition

	maxRetries  int
	backoffBase time.Duration
	workerLimit int

	bus    *bus.Bus
	engine *decision.Engine
	queue  delivery.Queue
	logger *zap.Logger
}

// Options tunes coordinator execution.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	WorkerLimit int
}

// NewCoordinator builds the coordinator with the four standard crews
// registered.
func NewCoordinator(engine *decision.Engine, b *bus.Bus, queue delivery.Queue, collab Collaborators, opts Options, logger *zap.Logger) *Coordinator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.WorkerLimit <= 0 {
		opts.WorkerLimit = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	collab.fillDefaults()

	c := &Coordinator{
		registry:    make(map[types.Action]*Definition),
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		workerLimit: opts.WorkerLimit,
		bus:         b,
		engine:      engine,
		queue:       queue,
		logger:      logger.Named("crew"),
	}
	c.register(types.ActionLaunchCampaign, leadReactivationCrew(collab))
	c.register(types.ActionFollowUp, engagementFollowUpCrew(collab))
	c.register(types.ActionBookMeeting, revenueConversionCrew(collab))
	c.register(types.ActionOptimize, optimizationIntelligenceCrew(collab))
	return c
}

func (c *Coordinator) register(action types.Action, def *Definition) {
	c.registry[action] = def
}

// CrewFor returns the crew name an action routes to, if any.
func (c *Coordinator) CrewFor(action types.Action) (string, bool) {
	def, ok := c.registry[action]
	if !ok {
		return "", false
	}
	return def.Name, true
}

// Dispatch runs the crew registered for the intent's action. Unroutable
// actions return a failed result rather than an error.
func (c *Coordinator) Dispatch(ctx context.Context, intent types.ParsedIntent, account types.AccountState) types.CrewResult {
	def, ok := c.registry[intent.Action]
	if !ok {
		return types.CrewResult{
			CrewName: "none",
			Status:   types.CrewFailed,
			Errors: []types.ErrorRecord{{
				Step:    "dispatch",
				Class:   types.ErrClassValidation,
				Message: fmt.Sprintf("no crew handles action %s", intent.Action),
				At:      time.Now(),
			}},
		}
	}
	return c.run(ctx, def, intent, account)
}

func (c *Coordinator) run(ctx context.Context, def *Definition, intent types.ParsedIntent, account types.AccountState) types.CrewResult {
	sc := &StepContext{
		Intent:  intent,
		Account: account,
		Bus:     c.bus,
		Engine:  c.engine,
		Queue:   c.queue,
		Logger:  c.logger.With(zap.String("crew", def.Name)),
	}

	result := types.CrewResult{CrewName: def.Name, Status: types.CrewOK}
	c.publish("crew.started", map[string]interface{}{
		"crew":       def.Name,
		"account_id": account.AccountID,
	})

	for _, stage := range def.Stages {
		if ctx.Err() != nil {
			result.Status = types.CrewFailed
			result.Errors = append(result.Errors, cancelRecord(stage))
			result.Payload = sc.snapshot()
			return result
		}

		records := c.runStage(ctx, stage, sc)
		for _, rec := range records {
			result.Errors = append(result.Errors, rec)
			if rec.Class == types.ErrClassCancelled || def.HardDeps[rec.Step] {
				result.Status = types.CrewFailed
				result.Payload = sc.snapshot()
				c.publish("crew.failed", map[string]interface{}{
					"crew": def.Name,
					"step": rec.Step,
				})
				return result
			}
		}
	}

	if len(result.Errors) > 0 {
		result.Status = types.CrewPartial
	}
	result.Payload = sc.snapshot()
	c.publish("crew.finished", map[string]interface{}{
		"crew":   def.Name,
		"status": string(result.Status),
		"errors": len(result.Errors),
	})
	return result
}

// runStage executes one stage. Single-step stages run inline; multi-step
// stages fan out under a bounded errgroup and always wait for every
// step, collecting failures instead of aborting siblings.
func (c *Coordinator) runStage(ctx context.Context, stage []Step, sc *StepContext) []types.ErrorRecord {
	if len(stage) == 1 {
		if rec, failed := c.runStep(ctx, stage[0], sc); failed {
			return []types.ErrorRecord{rec}
		}
		return nil
	}

	var mu sync.Mutex
	var records []types.ErrorRecord

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workerLimit)
	for _, step := range stage {
		step := step
		g.Go(func() error {
			if rec, failed := c.runStep(gctx, step, sc); failed {
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return records
}

func (c *Coordinator) runStep(ctx context.Context, step Step, sc *StepContext) (types.ErrorRecord, bool) {
	start := time.Now()
	attempts, err := c.runWithRetry(ctx, step, sc)
	if err == nil {
		sc.Logger.Debug("step ok",
			zap.String("step", step.Name()),
			zap.Int("attempts", attempts),
			zap.Duration("took", time.Since(start)))
		return types.ErrorRecord{}, false
	}

	class := types.Classify(err)
	sc.Logger.Warn("step failed",
		zap.String("step", step.Name()),
		zap.String("class", string(class)),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return types.ErrorRecord{
		Step:     step.Name(),
		Class:    class,
		Message:  err.Error(),
		Attempts: attempts,
		At:       time.Now(),
	}, true
}

// runWithRetry retries transient failures with linear-scaled backoff plus
// jitter, up to maxRetries attempts total. Validation and fatal errors
// return on the first attempt.
func (c *Coordinator) runWithRetry(ctx context.Context, step Step, sc *StepContext) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := c.backoffBase * time.Duration(attempt-1)
			if jitter := int64(c.backoffBase) / 4; jitter > 0 {
				backoff += time.Duration(rand.Int63n(jitter))
			}
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(backoff):
			}
			sc.Logger.Debug("retrying step",
				zap.String("step", step.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
		}

		lastErr = step.Run(ctx, sc)
		if lastErr == nil {
			return attempt, nil
		}
		if !types.IsTransient(lastErr) {
			return attempt, lastErr
		}
	}
	return c.maxRetries, lastErr
}

func (c *Coordinator) publish(topic string, payload map[string]interface{}) {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
}

func cancelRecord(stage []Step) types.ErrorRecord {
	name := "crew"
	if len(stage) > 0 {
		name = stage[0].Name()
	}
	return types.ErrorRecord{
		Step:    name,
		Class:   types.ErrClassCancelled,
		Message: "request cancelled before step ran",
		At:      time.Now(),
	}
}
