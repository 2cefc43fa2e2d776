// Package sentience adapts replies to the relationship history with each
// account and persists that state across turns. It is the last stage of
// the pipeline and never fails the request: every degradation falls back
// to the unmodified envelope.
package sentience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"crewhq/internal/store"
	"crewhq/internal/types"
)

// Reviewer is the optional self-review pass: one bounded reasoner call
// that may restyle the reply text. Satisfied by decision.CachedReasoner.
type Reviewer interface {
	Complete(ctx context.Context, prompt, contextText string) (string, error)
}

// Options tunes the layer.
type Options struct {
	// EMAAlpha is the smoothing factor for the success-rate average.
	EMAAlpha float64
	// SelfReview enables the reasoner restyle pass.
	SelfReview bool
	// SelfReviewTimeout bounds the restyle call.
	SelfReviewTimeout time.Duration
}

// Layer owns SentienceState: no other component writes it.
type Layer struct {
	kv       store.KV
	reviewer Reviewer
	opts     Options
	logger   *zap.Logger

	// locks serializes read-modify-write per account.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the layer. reviewer may be nil to disable self-review.
func New(kv store.KV, reviewer Reviewer, opts Options, logger *zap.Logger) *Layer {
	if opts.EMAAlpha <= 0 || opts.EMAAlpha > 1 {
		opts.EMAAlpha = 0.2
	}
	if opts.SelfReviewTimeout <= 0 {
		opts.SelfReviewTimeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{
		kv:       kv,
		reviewer: reviewer,
		opts:     opts,
		logger:   logger.Named("sentience"),
		locks:    make(map[string]*sync.Mutex),
	}
}

func stateKey(accountID string) string { return "sentience/" + accountID }

// Refine restyles the envelope from the account's state, then updates
// and persists that state. It never returns an error; on any internal
// failure the caller gets the original envelope back.
func (l *Layer) Refine(ctx context.Context, envelope types.ResponseEnvelope, accountID, intent string) types.ResponseEnvelope {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	state, version, err := l.load(ctx, accountID)
	if err != nil {
		l.logger.Warn("sentience state unavailable, replying unstyled",
			zap.String("account_id", accountID), zap.Error(err))
		return envelope
	}

	styled := envelope
	styled.Text = applyTone(state, envelope)

	if l.opts.SelfReview && l.reviewer != nil {
		if reviewed, ok := l.selfReview(ctx, styled.Text, state); ok {
			styled.Text = reviewed
		}
	}

	if err := l.persist(ctx, state, version, envelope.Success, intent); err != nil {
		l.logger.Error("sentience state not persisted",
			zap.String("account_id", accountID), zap.Error(err))
	}
	return styled
}

// State returns the current persisted state for an account (defaults on
// first contact). Read-only access for status reporting.
func (l *Layer) State(ctx context.Context, accountID string) types.SentienceState {
	state, _, err := l.load(ctx, accountID)
	if err != nil {
		return types.DefaultSentienceState(accountID)
	}
	return state
}

func (l *Layer) accountLock(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[accountID] = lock
	}
	return lock
}

func (l *Layer) load(ctx context.Context, accountID string) (types.SentienceState, int64, error) {
	raw, version, err := l.kv.Get(ctx, stateKey(accountID))
	if errors.Is(err, store.ErrNotFound) {
		return types.DefaultSentienceState(accountID), 0, nil
	}
	if err != nil {
		return types.SentienceState{}, 0, err
	}

	var state types.SentienceState
	if err := json.Unmarshal(raw, &state); err != nil {
		// Corrupt state resets rather than wedging the account.
		l.logger.Warn("corrupt sentience state, resetting",
			zap.String("account_id", accountID), zap.Error(err))
		return types.DefaultSentienceState(accountID), version, nil
	}
	return state, version, nil
}

// persist folds one outcome into the loaded state and writes it with a
// version check. On conflict it retries once against the winner's state,
// re-applying the outcome there so the concurrent writer's turns are not
// overwritten.
func (l *Layer) persist(ctx context.Context, state types.SentienceState, version int64, success bool, intent string) error {
	next := advance(state, success, intent, l.opts.EMAAlpha)
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}

	err = l.kv.Put(ctx, stateKey(next.AccountID), raw, version)
	if !errors.Is(err, store.ErrVersionConflict) {
		return err
	}

	fresh, freshVersion, getErr := l.load(ctx, next.AccountID)
	if getErr != nil {
		return fmt.Errorf("reload after conflict: %w", getErr)
	}
	merged := advance(fresh, success, intent, l.opts.EMAAlpha)
	raw, err = json.Marshal(merged)
	if err != nil {
		return err
	}
	return l.kv.Put(ctx, stateKey(merged.AccountID), raw, freshVersion)
}

func (l *Layer) selfReview(ctx context.Context, text string, state types.SentienceState) (string, bool) {
	rctx, cancel := context.WithTimeout(ctx, l.opts.SelfReviewTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Restyle this assistant reply to sound %s without changing its meaning. Reply with the restyled text only.",
		moodAdjective(state.Mood))
	reviewed, err := l.reviewer.Complete(rctx, prompt, text)
	if err != nil {
		l.logger.Debug("self-review skipped", zap.Error(err))
		return "", false
	}
	reviewed = strings.TrimSpace(reviewed)
	if reviewed == "" {
		return "", false
	}
	return reviewed, true
}

// advance folds one outcome into the state. interaction_count only ever
// grows.
func advance(state types.SentienceState, success bool, intent string, alpha float64) types.SentienceState {
	next := state
	next.InteractionCount++
	next.LastIntent = intent

	outcome := 0.0
	if success {
		outcome = 1.0
		next.SuccessStreak++
		next.FailureStreak = 0
		next.Confidence = clamp(next.Confidence + 0.05)
		next.Warmth = clamp(next.Warmth + 0.02)
	} else {
		next.FailureStreak++
		next.SuccessStreak = 0
		next.Confidence = clamp(next.Confidence - 0.10)
	}
	next.SuccessRate = alpha*outcome + (1-alpha)*next.SuccessRate
	next.Mood = nextMood(next)
	return next
}

// nextMood maps streaks to a disposition. Failures dominate: a single
// miss after a winning streak still reads as concern.
func nextMood(state types.SentienceState) types.Mood {
	switch {
	case state.FailureStreak >= 3:
		return types.MoodApologetic
	case state.FailureStreak >= 1:
		return types.MoodConcerned
	case state.SuccessStreak >= 3:
		return types.MoodUpbeat
	case state.SuccessStreak >= 1:
		return types.MoodFocused
	default:
		return types.MoodNeutral
	}
}

// applyTone prefixes the reply according to the stored disposition.
func applyTone(state types.SentienceState, envelope types.ResponseEnvelope) string {
	text := envelope.Text
	if !envelope.Success {
		switch state.Mood {
		case types.MoodApologetic:
			return "I'm sorry, this keeps going wrong. " + text
		case types.MoodConcerned:
			return "Sorry about this. " + text
		default:
			return text
		}
	}

	switch state.Mood {
	case types.MoodUpbeat:
		text = "Great news! " + text
	case types.MoodFocused:
		if state.Warmth >= 0.6 {
			text = "On it. Here's where we landed: " + text
		}
	case types.MoodApologetic, types.MoodConcerned:
		text = "Back on track. " + text
	}
	if state.Confidence < 0.3 {
		text += " I'll keep a close eye on this one."
	}
	return text
}

func moodAdjective(m types.Mood) string {
	switch m {
	case types.MoodUpbeat:
		return "enthusiastic and brief"
	case types.MoodFocused:
		return "crisp and businesslike"
	case types.MoodConcerned:
		return "careful and reassuring"
	case types.MoodApologetic:
		return "apologetic and concrete about next steps"
	default:
		return "friendly and neutral"
	}
}

func clamp(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
