package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crewhq/internal/types"
)

// History persists bounded per-conversation turn lists on top of KV.
// The orchestrator facade is its only writer.
type History struct {
	kv       KV
	maxTurns int
}

// NewHistory wraps kv. maxTurns bounds each conversation; oldest turns
// are evicted first.
func NewHistory(kv KV, maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &History{kv: kv, maxTurns: maxTurns}
}

func historyKey(conversationID string) string {
	return "conversation/" + conversationID
}

// Load returns the retained turns for a conversation, oldest first.
func (h *History) Load(ctx context.Context, conversationID string) ([]types.ConversationTurn, error) {
	data, _, err := h.kv.Get(ctx, historyKey(conversationID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []types.ConversationTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("corrupt history for %s: %w", conversationID, err)
	}
	return turns, nil
}

// Append adds turns to a conversation, evicting the oldest entries past
// the bound. The caller serializes appends per conversation, so the
// write is unconditional.
func (h *History) Append(ctx context.Context, conversationID string, turns ...types.ConversationTurn) error {
	existing, err := h.Load(ctx, conversationID)
	if err != nil {
		return err
	}

	combined := append(existing, turns...)
	if len(combined) > h.maxTurns {
		combined = combined[len(combined)-h.maxTurns:]
	}

	data, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return h.kv.Put(ctx, historyKey(conversationID), data, -1)
}
