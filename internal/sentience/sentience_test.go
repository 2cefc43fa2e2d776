package sentience

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"crewhq/internal/store"
	"crewhq/internal/types"
)

// memKV is an in-memory KV with the same version semantics as the
// sqlite store.
type memKV struct {
	mu       sync.Mutex
	values   map[string][]byte
	versions map[string]int64

	// conflictOnce forces the next conditional Put to fail once.
	conflictOnce bool
	// beforePut runs once under the lock ahead of the next Put's
	// version check, simulating a concurrent writer.
	beforePut func(m *memKV)
	putCalls  int
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string][]byte), versions: make(map[string]int64)}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	return v, m.versions[key], nil
}

func (m *memKV) Put(ctx context.Context, key string, value []byte, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.beforePut != nil {
		hook := m.beforePut
		m.beforePut = nil
		hook(m)
	}
	if m.conflictOnce {
		m.conflictOnce = false
		return store.ErrVersionConflict
	}
	current, exists := m.versions[key]
	switch {
	case version < 0:
	case version == 0:
		if exists {
			return store.ErrVersionConflict
		}
	default:
		if !exists || current != version {
			return store.ErrVersionConflict
		}
	}
	m.values[key] = value
	m.versions[key] = current + 1
	return nil
}

func (m *memKV) Close() error { return nil }

func (m *memKV) state(t *testing.T, accountID string) types.SentienceState {
	t.Helper()
	raw, _, err := m.Get(context.Background(), "sentience/"+accountID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var s types.SentienceState
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return s
}

func TestInteractionCountMonotonic(t *testing.T) {
	kv := newMemKV()
	l := New(kv, nil, Options{}, nil)
	ctx := context.Background()

	outcomes := []bool{true, false, true, true, false}
	for i, success := range outcomes {
		l.Refine(ctx, types.ResponseEnvelope{Text: "reply", Success: success}, "acct-1", "/follow_up")
		got := kv.state(t, "acct-1").InteractionCount
		if got != i+1 {
			t.Fatalf("after %d refines interaction_count = %d", i+1, got)
		}
	}
}

func TestMoodFollowsStreaks(t *testing.T) {
	kv := newMemKV()
	l := New(kv, nil, Options{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Refine(ctx, types.ResponseEnvelope{Text: "ok", Success: true}, "acct-2", "/optimize")
	}
	if mood := kv.state(t, "acct-2").Mood; mood != types.MoodUpbeat {
		t.Fatalf("after 3 successes mood = %v, want %v", mood, types.MoodUpbeat)
	}

	l.Refine(ctx, types.ResponseEnvelope{Text: "fail", Success: false}, "acct-2", "/optimize")
	if mood := kv.state(t, "acct-2").Mood; mood != types.MoodConcerned {
		t.Fatalf("after failure mood = %v, want %v", mood, types.MoodConcerned)
	}

	for i := 0; i < 2; i++ {
		l.Refine(ctx, types.ResponseEnvelope{Text: "fail", Success: false}, "acct-2", "/optimize")
	}
	if mood := kv.state(t, "acct-2").Mood; mood != types.MoodApologetic {
		t.Fatalf("after 3 failures mood = %v, want %v", mood, types.MoodApologetic)
	}
}

func TestSuccessRateIsEMA(t *testing.T) {
	kv := newMemKV()
	l := New(kv, nil, Options{EMAAlpha: 0.2}, nil)
	ctx := context.Background()

	l.Refine(ctx, types.ResponseEnvelope{Text: "ok", Success: true}, "acct-3", "/help")
	// 0.2*1 + 0.8*0.5 = 0.6
	if rate := kv.state(t, "acct-3").SuccessRate; rate < 0.599 || rate > 0.601 {
		t.Fatalf("success rate = %v, want 0.6", rate)
	}

	l.Refine(ctx, types.ResponseEnvelope{Text: "no", Success: false}, "acct-3", "/help")
	// 0.2*0 + 0.8*0.6 = 0.48
	if rate := kv.state(t, "acct-3").SuccessRate; rate < 0.479 || rate > 0.481 {
		t.Fatalf("success rate = %v, want 0.48", rate)
	}
}

type slowReviewer struct{ delay time.Duration }

func (r slowReviewer) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(r.delay):
		return "restyled: " + contextText, nil
	}
}

func TestSelfReviewTimeoutIsNonFatal(t *testing.T) {
	kv := newMemKV()
	l := New(kv, slowReviewer{delay: time.Second}, Options{
		SelfReview:        true,
		SelfReviewTimeout: 10 * time.Millisecond,
	}, nil)

	env := l.Refine(context.Background(), types.ResponseEnvelope{Text: "original reply", Success: true}, "acct-4", "/help")

	if env.Text == "" {
		t.Fatal("reply dropped on self-review timeout")
	}
	if got := kv.state(t, "acct-4").InteractionCount; got != 1 {
		t.Fatalf("state not updated after self-review timeout: count = %d", got)
	}
}

func TestSelfReviewRestylesText(t *testing.T) {
	kv := newMemKV()
	l := New(kv, slowReviewer{delay: 0}, Options{
		SelfReview:        true,
		SelfReviewTimeout: time.Second,
	}, nil)

	env := l.Refine(context.Background(), types.ResponseEnvelope{Text: "plain reply", Success: true}, "acct-5", "/help")
	if env.Text[:9] != "restyled:" {
		t.Fatalf("text = %q, want restyled output", env.Text)
	}
}

func TestVersionConflictRetriedOnce(t *testing.T) {
	kv := newMemKV()
	l := New(kv, nil, Options{}, nil)
	ctx := context.Background()

	l.Refine(ctx, types.ResponseEnvelope{Text: "first", Success: true}, "acct-6", "/help")

	kv.conflictOnce = true
	before := kv.putCalls
	l.Refine(ctx, types.ResponseEnvelope{Text: "second", Success: true}, "acct-6", "/help")

	if kv.putCalls != before+2 {
		t.Fatalf("put calls = %d, want one retry after conflict", kv.putCalls-before)
	}
	if got := kv.state(t, "acct-6").InteractionCount; got != 2 {
		t.Fatalf("interaction_count = %d after conflict retry, want 2", got)
	}
}

func TestConflictRetryKeepsConcurrentTurns(t *testing.T) {
	kv := newMemKV()
	l := New(kv, nil, Options{}, nil)
	ctx := context.Background()

	l.Refine(ctx, types.ResponseEnvelope{Text: "first", Success: true}, "acct-8", "/help")

	// Another writer lands a newer state between this turn's load and
	// its conditional write; the retry must fold this turn into that
	// state instead of resurrecting the stale one.
	kv.beforePut = func(m *memKV) {
		raw, _ := json.Marshal(types.SentienceState{
			AccountID:        "acct-8",
			InteractionCount: 7,
			Mood:             types.MoodNeutral,
		})
		m.values["sentience/acct-8"] = raw
		m.versions["sentience/acct-8"]++
	}
	l.Refine(ctx, types.ResponseEnvelope{Text: "second", Success: true}, "acct-8", "/help")

	if got := kv.state(t, "acct-8").InteractionCount; got != 8 {
		t.Fatalf("interaction_count = %d, want 8 after folding into the newer state", got)
	}
}

func TestConcurrentSameAccountNoLostUpdate(t *testing.T) {
	kv := newMemKV()
	l := New(kv, nil, Options{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Refine(ctx, types.ResponseEnvelope{Text: "x", Success: true}, "acct-7", "/help")
		}()
	}
	wg.Wait()

	if got := kv.state(t, "acct-7").InteractionCount; got != 10 {
		t.Fatalf("interaction_count = %d, want 10", got)
	}
}

func TestFirstContactUsesDefaults(t *testing.T) {
	l := New(newMemKV(), nil, Options{}, nil)
	state := l.State(context.Background(), "brand-new")
	if state.Mood != types.MoodNeutral || state.InteractionCount != 0 {
		t.Fatalf("unexpected first-contact state: %+v", state)
	}
}
