// Package account fetches per-request account snapshots from the
// external account service. The client is fail-fast: if the service is
// unreachable or slow, the caller gets an unauthenticated snapshot and
// the permission gate does the rest.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"crewhq/internal/types"
)

// Service resolves account state. Fetch must never be cached across
// requests: tier changes have to be visible on the next command.
type Service interface {
	Fetch(ctx context.Context, accountID string) types.AccountState
}

// Client talks HTTP to the account service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an account service client with its own timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("account"),
	}
}

// Fetch returns the live account snapshot, or the unauthenticated
// default when the service cannot answer.
func (c *Client) Fetch(ctx context.Context, accountID string) types.AccountState {
	fallback := types.AccountState{AccountID: accountID, IsAuthenticated: false, Tier: types.TierFree}

	endpoint := fmt.Sprintf("%s/accounts/%s", c.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.Warn("bad account request", zap.String("account_id", accountID), zap.Error(err))
		return fallback
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("account service unreachable, treating caller as unauthenticated",
			zap.String("account_id", accountID), zap.Error(err))
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("account service error",
			zap.String("account_id", accountID),
			zap.Int("status", resp.StatusCode))
		return fallback
	}

	var state types.AccountState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		c.logger.Warn("account response malformed", zap.String("account_id", accountID), zap.Error(err))
		return fallback
	}
	state.AccountID = accountID
	return state
}

// Static is a fixed-map service for tests and local development.
type Static struct {
	Accounts map[string]types.AccountState
}

// Fetch returns the configured snapshot or the unauthenticated default.
func (s *Static) Fetch(ctx context.Context, accountID string) types.AccountState {
	if state, ok := s.Accounts[accountID]; ok {
		return state
	}
	return types.AccountState{AccountID: accountID, IsAuthenticated: false, Tier: types.TierFree}
}
