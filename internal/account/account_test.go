package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crewhq/internal/types"
)

func TestFetchReturnsServiceState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_authenticated":true,"tier":"/pro","monthly_usage":12}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	state := c.Fetch(context.Background(), "acct-1")

	if !state.IsAuthenticated {
		t.Fatal("expected authenticated state")
	}
	if state.Tier != types.TierPro {
		t.Fatalf("tier = %v, want %v", state.Tier, types.TierPro)
	}
	if state.AccountID != "acct-1" {
		t.Fatalf("account id = %q", state.AccountID)
	}
}

func TestFetchFallsBackWhenUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", 200*time.Millisecond, nil)
	state := c.Fetch(context.Background(), "acct-2")

	if state.IsAuthenticated {
		t.Fatal("unreachable service must yield unauthenticated state")
	}
	if state.Tier != types.TierFree {
		t.Fatalf("tier = %v, want %v", state.Tier, types.TierFree)
	}
}

func TestFetchFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	if state := c.Fetch(context.Background(), "acct-3"); state.IsAuthenticated {
		t.Fatal("5xx must yield unauthenticated state")
	}
}

func TestFetchFallsBackOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	if state := c.Fetch(context.Background(), "acct-4"); state.IsAuthenticated {
		t.Fatal("garbage body must yield unauthenticated state")
	}
}

func TestStaticFetch(t *testing.T) {
	s := &Static{Accounts: map[string]types.AccountState{
		"known": {AccountID: "known", IsAuthenticated: true, Tier: types.TierEnterprise},
	}}

	if got := s.Fetch(context.Background(), "known"); got.Tier != types.TierEnterprise {
		t.Fatalf("tier = %v", got.Tier)
	}
	if got := s.Fetch(context.Background(), "missing"); got.IsAuthenticated {
		t.Fatal("unknown account must be unauthenticated")
	}
}
