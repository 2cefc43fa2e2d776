// Package reasoner provides the single external reasoning collaborator:
// one synchronous Reason call over the Gemini API. The decision engine's
// third tier and the sentience layer's self-review pass are its only
// consumers; both must supply their own timeout via context.
package reasoner

import (
	"context"
	"errors"
	"strings"

	"crewhq/internal/types"
)

// Reasoner is the narrow interface the rest of the system depends on.
// Implementations must honor ctx cancellation and deadlines.
type Reasoner interface {
	Reason(ctx context.Context, prompt, contextText string) (string, error)
}

// joinPrompt renders the prompt plus optional grounding context the way
// the external call expects it.
func joinPrompt(prompt, contextText string) string {
	prompt = strings.TrimSpace(prompt)
	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\n")
	sb.WriteString(prompt)
	return sb.String()
}

// classify maps transport-level failures onto the shared error taxonomy
// so callers can apply retry policy without inspecting provider errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.WrapTransient(err)
}
