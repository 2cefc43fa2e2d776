package reasoner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiReasoner calls the Gemini API through the official genai SDK.
type GeminiReasoner struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiReasoner creates a Gemini-backed reasoner. The timeout is the
// default per-call ceiling; callers may pass a shorter deadline via ctx
// and the shortest one wins.
func NewGeminiReasoner(apiKey, model string, timeout time.Duration, logger *zap.Logger) (*GeminiReasoner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reasoner API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiReasoner{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger.Named("reasoner"),
	}, nil
}

// Reason performs one synchronous generation call.
func (r *GeminiReasoner) Reason(ctx context.Context, prompt, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	full := joinPrompt(prompt, contextText)
	start := time.Now()

	contents := []*genai.Content{
		genai.NewContentFromText(full, genai.RoleUser),
	}
	result, err := r.client.Models.GenerateContent(ctx, r.model, contents, nil)
	if err != nil {
		r.logger.Warn("generation failed",
			zap.String("model", r.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", classify(err)
	}

	text := result.Text()
	if text == "" {
		return "", classify(fmt.Errorf("empty response from %s", r.model))
	}

	r.logger.Debug("generation complete",
		zap.String("model", r.model),
		zap.Int("prompt_chars", len(full)),
		zap.Int("response_chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}
