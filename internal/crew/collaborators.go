package crew

import (
	"context"
	"fmt"
	"hash/fnv"
)

// LeadScorer ranks a lead's likelihood to convert. Owned externally;
// crews only consume the score band.
type LeadScorer interface {
	Score(ctx context.Context, leadID string) (float64, error)
}

// Copywriter drafts outbound message text for a lead and channel.
type Copywriter interface {
	Draft(ctx context.Context, leadID, channel, goal string) (string, error)
}

// Collaborators bundles the externally-owned capabilities crews depend
// on. Nil fields are replaced with deterministic defaults.
type Collaborators struct {
	Scorer LeadScorer
	Writer Copywriter
}

func (c *Collaborators) fillDefaults() {
	if c.Scorer == nil {
		c.Scorer = hashScorer{}
	}
	if c.Writer == nil {
		c.Writer = templateWriter{}
	}
}

// hashScorer derives a stable pseudo-score from the lead id so runs are
// reproducible without a live scoring service.
type hashScorer struct{}

func (hashScorer) Score(ctx context.Context, leadID string) (float64, error) {
	h := fnv.New32a()
	h.Write([]byte(leadID))
	return float64(h.Sum32()%100) / 100.0, nil
}

// templateWriter produces fixed-form copy keyed on channel and goal.
type templateWriter struct{}

func (templateWriter) Draft(ctx context.Context, leadID, channel, goal string) (string, error) {
	switch goal {
	case "reactivation":
		return fmt.Sprintf("Hi! It has been a while since we talked. Still interested? (lead %s via %s)", leadID, channel), nil
	case "follow_up":
		return fmt.Sprintf("Just checking in on my last note. Any questions? (lead %s via %s)", leadID, channel), nil
	default:
		return fmt.Sprintf("Quick update for you. (lead %s via %s)", leadID, channel), nil
	}
}

// scoreBand maps a raw score to the band names the transition table and
// rules use.
func scoreBand(score float64) string {
	switch {
	case score >= 0.7:
		return "/score_hot"
	case score >= 0.4:
		return "/score_warm"
	default:
		return "/score_cold"
	}
}
