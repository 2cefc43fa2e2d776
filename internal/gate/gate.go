// Package gate enforces per-account authorization for parsed intents.
//
// The feature table is pure data loaded once at process start and
// immutable for the process lifetime: authorization never calls external
// services. Tier changes take effect on the next request, when a fresh
// AccountState snapshot is fetched.
package gate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crewhq/internal/types"
)

// Reason codes surfaced to the user layer.
const (
	ReasonLoginRequired   = "login_required"
	ReasonUpgradeRequired = "upgrade_required"
	ReasonUnknownAction   = "unknown_action"
)

// Decision is the gate's verdict. Expected denials are data, not errors.
type Decision struct {
	Allowed bool
	Reason  string
}

// featureFile is the YAML shape of the feature table.
type featureFile struct {
	Public []string            `yaml:"public"`
	Tiers  map[string][]string `yaml:"tiers"`
}

// Gate authorizes intents against the static feature table.
type Gate struct {
	public map[types.Action]bool
	tiers  map[types.Tier]map[types.Action]bool
}

// New builds a gate from explicit table data.
func New(public []types.Action, tiers map[types.Tier][]types.Action) *Gate {
	g := &Gate{
		public: make(map[types.Action]bool, len(public)),
		tiers:  make(map[types.Tier]map[types.Action]bool, len(tiers)),
	}
	for _, a := range public {
		g.public[a] = true
	}
	for tier, actions := range tiers {
		set := make(map[types.Action]bool, len(actions))
		for _, a := range actions {
			set[a] = true
		}
		g.tiers[tier] = set
	}
	return g
}

// Load reads the feature table from a YAML file.
func Load(path string) (*Gate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature table: %w", err)
	}
	var file featureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feature table: %w", err)
	}

	public := make([]types.Action, 0, len(file.Public))
	for _, a := range file.Public {
		public = append(public, types.Action(a))
	}
	tiers := make(map[types.Tier][]types.Action, len(file.Tiers))
	for tier, actions := range file.Tiers {
		list := make([]types.Action, 0, len(actions))
		for _, a := range actions {
			list = append(list, types.Action(a))
		}
		tiers[types.Tier(tier)] = list
	}
	return New(public, tiers), nil
}

// Authorize decides whether the account may execute the intent. Pure
// table lookup; no I/O, no mutation.
func (g *Gate) Authorize(account types.AccountState, intent types.ParsedIntent) Decision {
	if g.public[intent.Action] {
		return Decision{Allowed: true}
	}

	if !account.IsAuthenticated {
		return Decision{Allowed: false, Reason: ReasonLoginRequired}
	}

	allowed, known := g.tierAllows(account.Tier, intent.Action)
	if !known {
		return Decision{Allowed: false, Reason: ReasonUnknownAction}
	}
	if !allowed {
		return Decision{Allowed: false, Reason: ReasonUpgradeRequired}
	}
	return Decision{Allowed: true}
}

// tierAllows reports (allowed, action-known-to-any-tier).
func (g *Gate) tierAllows(tier types.Tier, action types.Action) (bool, bool) {
	known := false
	for _, set := range g.tiers {
		if set[action] {
			known = true
			break
		}
	}
	if !known {
		return false, false
	}
	set, ok := g.tiers[tier]
	if !ok {
		return false, true
	}
	return set[action], true
}
