package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrClass
	}{
		{"validation", ValidationError("missing lead ids"), ErrClassValidation},
		{"transient", TransientError("timeout talking to scorer"), ErrClassTransient},
		{"fatal", FatalError("nil coordinator"), ErrClassFatal},
		{"unclassified defaults to fatal", errors.New("boom"), ErrClassFatal},
		{"context cancelled", context.Canceled, ErrClassCancelled},
		{"deadline exceeded", context.DeadlineExceeded, ErrClassCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	inner := TransientError("rate limited")
	wrapped := fmt.Errorf("step draft: %w", inner)

	if !IsTransient(wrapped) {
		t.Errorf("wrapped transient error lost its class")
	}
	if Classify(wrapped) != ErrClassTransient {
		t.Errorf("Classify(wrapped) = %s, want %s", Classify(wrapped), ErrClassTransient)
	}
}

func TestWrapTransientNil(t *testing.T) {
	if WrapTransient(nil) != nil {
		t.Error("WrapTransient(nil) should be nil")
	}
}

func TestActionable(t *testing.T) {
	if (ParsedIntent{Action: ActionConversational}).Actionable() {
		t.Error("conversational intent should not be actionable")
	}
	if !(ParsedIntent{Action: ActionLaunchCampaign}).Actionable() {
		t.Error("launch_campaign intent should be actionable")
	}
}

func TestDefaultSentienceState(t *testing.T) {
	s := DefaultSentienceState("acct-1")
	if s.Mood != MoodNeutral {
		t.Errorf("default mood = %s, want %s", s.Mood, MoodNeutral)
	}
	if s.InteractionCount != 0 {
		t.Errorf("default interaction count = %d, want 0", s.InteractionCount)
	}
	if s.Confidence != 0.5 || s.Warmth != 0.5 {
		t.Errorf("default confidence/warmth = %f/%f, want 0.5/0.5", s.Confidence, s.Warmth)
	}
}
