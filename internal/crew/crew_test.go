package crew

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"crewhq/internal/bus"
	"crewhq/internal/decision"
	"crewhq/internal/delivery"
	"crewhq/internal/types"
)

// memQueue records enqueued messages for assertions.
type memQueue struct {
	mu   sync.Mutex
	sent []string
}

func (q *memQueue) Enqueue(ctx context.Context, channel delivery.Channel, recipient, payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, string(channel)+" "+recipient)
	return nil
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}

// testEngine runs the crews against the shipped transition table so the
// class tokens the steps emit stay in lockstep with the data file.
func testEngine(t *testing.T) *decision.Engine {
	t.Helper()
	table, err := decision.LoadTransitionTable("../../rules/transitions.yaml")
	if err != nil {
		t.Fatalf("LoadTransitionTable: %v", err)
	}
	return decision.NewEngine(table, nil, nil, nil)
}

func newCoordinator(t *testing.T, q delivery.Queue) (*Coordinator, *bus.Bus) {
	t.Helper()
	b := bus.New(64, nil)
	c := NewCoordinator(testEngine(t), b, q, Collaborators{Scorer: fixedScorer(0.9)}, Options{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}, nil)
	return c, b
}

func TestLeadReactivationRunsAllStepsInOrder(t *testing.T) {
	q := &memQueue{}
	c, b := newCoordinator(t, q)

	var mu sync.Mutex
	var seen []string
	for _, topic := range []string{"lead.scored", "lead.researched", "message.scheduled"} {
		topic := topic
		b.Subscribe(topic, func(ev types.BusEvent) {
			mu.Lock()
			seen = append(seen, topic)
			mu.Unlock()
		})
	}

	intent := types.ParsedIntent{
		Action:     types.ActionLaunchCampaign,
		Entities:   map[string]string{"lead_id": "lead-7"},
		Confidence: 0.9,
	}
	account := types.AccountState{AccountID: "acct-1", IsAuthenticated: true, Tier: types.TierPro}

	res := c.Dispatch(context.Background(), intent, account)

	if res.Status != types.CrewOK {
		t.Fatalf("status = %v, errors = %v", res.Status, res.Errors)
	}
	if res.CrewName != "lead-reactivation" {
		t.Fatalf("crew = %q", res.CrewName)
	}
	for _, key := range []string{"lead_score", "research", "draft", "compliance"} {
		if _, ok := res.Payload[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if res.Payload["scheduled"] != true {
		t.Fatalf("message not scheduled: %v", res.Payload)
	}
	if q.count() != 1 {
		t.Fatalf("enqueued = %d, want 1", q.count())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"lead.scored", "lead.researched", "message.scheduled"}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event order = %v, want %v", seen, want)
		}
	}
}

// flakyStep fails with a transient error on every attempt and records
// the gap between attempts.
type flakyStep struct {
	mu       sync.Mutex
	attempts int
	gaps     []time.Duration
	last     time.Time
}

func (f *flakyStep) Name() string { return "flaky" }

func (f *flakyStep) Run(ctx context.Context, sc *StepContext) error {
	f.mu.Lock()
	now := time.Now()
	if !f.last.IsZero() {
		f.gaps = append(f.gaps, now.Sub(f.last))
	}
	f.last = now
	f.attempts++
	f.mu.Unlock()
	return types.TransientError("upstream rate limited")
}

func TestTransientFailureRetriedThenPartial(t *testing.T) {
	flaky := &flakyStep{}
	def := &Definition{
		Name: "test-crew",
		Stages: [][]Step{
			{flaky},
			{StepFunc{"after", func(ctx context.Context, sc *StepContext) error {
				sc.Put("after_ran", true)
				return nil
			}}},
		},
	}

	c := &Coordinator{
		registry:    map[types.Action]*Definition{types.ActionOptimize: def},
		maxRetries:  3,
		backoffBase: 20 * time.Millisecond,
		workerLimit: 4,
		logger:      zap.NewNop(),
	}

	res := c.Dispatch(context.Background(), types.ParsedIntent{Action: types.ActionOptimize}, types.AccountState{})

	if flaky.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", flaky.attempts)
	}
	if len(flaky.gaps) != 2 || flaky.gaps[1] <= flaky.gaps[0] {
		t.Fatalf("backoff gaps not increasing: %v", flaky.gaps)
	}
	if res.Status != types.CrewPartial {
		t.Fatalf("status = %v, want %v", res.Status, types.CrewPartial)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", res.Errors)
	}
	if res.Errors[0].Attempts != 3 || res.Errors[0].Class != types.ErrClassTransient {
		t.Fatalf("error record = %+v", res.Errors[0])
	}
	if res.Payload["after_ran"] != true {
		t.Fatal("later step did not run after soft failure")
	}
}

func TestValidationErrorNotRetried(t *testing.T) {
	attempts := 0
	def := &Definition{
		Name: "test-crew",
		Stages: [][]Step{
			{StepFunc{"validate", func(ctx context.Context, sc *StepContext) error {
				attempts++
				return types.ValidationError("bad input")
			}}},
		},
	}
	c := &Coordinator{
		registry:    map[types.Action]*Definition{types.ActionOptimize: def},
		maxRetries:  3,
		backoffBase: time.Millisecond,
		workerLimit: 4,
		logger:      zap.NewNop(),
	}

	res := c.Dispatch(context.Background(), types.ParsedIntent{Action: types.ActionOptimize}, types.AccountState{})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if res.Errors[0].Class != types.ErrClassValidation {
		t.Fatalf("class = %v", res.Errors[0].Class)
	}
}

func TestHardDependencyFailureAbortsCrew(t *testing.T) {
	laterRan := false
	def := &Definition{
		Name: "test-crew",
		Stages: [][]Step{
			{StepFunc{"critical", func(ctx context.Context, sc *StepContext) error {
				return types.FatalError("config missing")
			}}},
			{StepFunc{"later", func(ctx context.Context, sc *StepContext) error {
				laterRan = true
				return nil
			}}},
		},
		HardDeps: map[string]bool{"critical": true},
	}
	c := &Coordinator{
		registry:    map[types.Action]*Definition{types.ActionOptimize: def},
		maxRetries:  3,
		backoffBase: time.Millisecond,
		workerLimit: 4,
		logger:      zap.NewNop(),
	}

	res := c.Dispatch(context.Background(), types.ParsedIntent{Action: types.ActionOptimize}, types.AccountState{})
	if res.Status != types.CrewFailed {
		t.Fatalf("status = %v, want %v", res.Status, types.CrewFailed)
	}
	if laterRan {
		t.Fatal("later step ran after hard-dependency failure")
	}
}

func TestCancellationFailsCrew(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	def := &Definition{
		Name: "test-crew",
		Stages: [][]Step{
			{StepFunc{"first", func(ctx context.Context, sc *StepContext) error {
				cancel()
				return nil
			}}},
			{StepFunc{"second", func(ctx context.Context, sc *StepContext) error {
				t.Error("second step ran after cancellation")
				return nil
			}}},
		},
	}
	c := &Coordinator{
		registry:    map[types.Action]*Definition{types.ActionOptimize: def},
		maxRetries:  3,
		backoffBase: time.Millisecond,
		workerLimit: 4,
		logger:      zap.NewNop(),
	}

	res := c.Dispatch(ctx, types.ParsedIntent{Action: types.ActionOptimize}, types.AccountState{})
	if res.Status != types.CrewFailed {
		t.Fatalf("status = %v, want %v", res.Status, types.CrewFailed)
	}
	if len(res.Errors) == 0 || res.Errors[0].Class != types.ErrClassCancelled {
		t.Fatalf("errors = %v, want cancelled record", res.Errors)
	}
}

func TestIndependentStepsBothRun(t *testing.T) {
	q := &memQueue{}
	c, _ := newCoordinator(t, q)

	intent := types.ParsedIntent{
		Action:   types.ActionBookMeeting,
		Entities: map[string]string{"lead_id": "lead-3", "funnel_stage": "qualified", "deal_size": "20000"},
	}
	account := types.AccountState{AccountID: "acct-2", IsAuthenticated: true, Tier: types.TierPro}

	res := c.Dispatch(context.Background(), intent, account)
	if res.Status != types.CrewOK {
		t.Fatalf("status = %v, errors = %v", res.Status, res.Errors)
	}
	if res.Payload["fee"] != 2000 {
		t.Fatalf("fee = %v, want 2000", res.Payload["fee"])
	}
	if res.Payload["upsell"] == "" {
		t.Fatal("upsell verdict missing")
	}
	if res.Payload["meeting"] != "/book" {
		t.Fatalf("meeting = %v", res.Payload["meeting"])
	}
	if q.count() != 1 {
		t.Fatalf("invites enqueued = %d, want 1", q.count())
	}
}

func TestUnroutableActionFails(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	res := c.Dispatch(context.Background(), types.ParsedIntent{Action: types.ActionHelp}, types.AccountState{})
	if res.Status != types.CrewFailed {
		t.Fatalf("status = %v", res.Status)
	}
	if res.Errors[0].Class != types.ErrClassValidation {
		t.Fatalf("class = %v", res.Errors[0].Class)
	}
}

func TestColdLeadSkipsOutbound(t *testing.T) {
	q := &memQueue{}
	b := bus.New(64, nil)
	c := NewCoordinator(testEngine(t), b, q, Collaborators{Scorer: fixedScorer(0.1)}, Options{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}, nil)

	intent := types.ParsedIntent{Action: types.ActionLaunchCampaign, Entities: map[string]string{"lead_id": "lead-9"}}
	res := c.Dispatch(context.Background(), intent, types.AccountState{AccountID: "acct-3", Tier: types.TierPro})

	if res.Status != types.CrewOK {
		t.Fatalf("status = %v, errors = %v", res.Status, res.Errors)
	}
	if res.Payload["scheduled"] != false {
		t.Fatalf("cold lead must not be scheduled: %v", res.Payload)
	}
	if q.count() != 0 {
		t.Fatalf("enqueued = %d, want 0", q.count())
	}
}

func TestHighRiskDraftRejected(t *testing.T) {
	q := &memQueue{}
	c, _ := newCoordinator(t, q)

	intent := types.ParsedIntent{
		Action:   types.ActionLaunchCampaign,
		Entities: map[string]string{"lead_id": "lead-4", "compliance_risk": "high"},
	}
	res := c.Dispatch(context.Background(), intent, types.AccountState{AccountID: "acct-4", Tier: types.TierPro})

	if res.Status != types.CrewFailed {
		t.Fatalf("status = %v, want %v", res.Status, types.CrewFailed)
	}
	if res.Payload["compliance"] != "/reject" {
		t.Fatalf("compliance = %v, want /reject", res.Payload["compliance"])
	}
	if len(res.Errors) == 0 || res.Errors[0].Class != types.ErrClassValidation {
		t.Fatalf("errors = %v, want validation record", res.Errors)
	}
	if q.count() != 0 {
		t.Fatalf("enqueued = %d, want 0", q.count())
	}
}

type fixedScorer float64

func (f fixedScorer) Score(ctx context.Context, leadID string) (float64, error) {
	return float64(f), nil
}
