package decision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// transitionKey keys the tier-1 table.
type transitionKey struct {
	State string
	Class string
}

// Transition is one row of the tier-1 table as it appears in YAML.
type Transition struct {
	State  string `yaml:"state"`
	Class  string `yaml:"class"`
	Action string `yaml:"action"`
	Reason string `yaml:"reason"`
}

// transitionFile is the YAML document shape.
type transitionFile struct {
	Transitions []Transition `yaml:"transitions"`
}

// TransitionTable is the deterministic tier-1 lookup. It is built once
// and never mutated, so lookups need no locking.
type TransitionTable struct {
	entries map[transitionKey]Outcome
}

// NewTransitionTable builds a table from explicit rows.
func NewTransitionTable(rows []Transition) (*TransitionTable, error) {
	entries := make(map[transitionKey]Outcome, len(rows))
	for _, row := range rows {
		if row.State == "" || row.Action == "" {
			return nil, fmt.Errorf("transition row needs state and action: %+v", row)
		}
		key := transitionKey{State: row.State, Class: row.Class}
		if _, dup := entries[key]; dup {
			return nil, fmt.Errorf("duplicate transition for (%s, %s)", row.State, row.Class)
		}
		entries[key] = Outcome{
			Decided: true,
			Action:  row.Action,
			Reason:  row.Reason,
			Source:  SourceStateMachine,
		}
	}
	return &TransitionTable{entries: entries}, nil
}

// LoadTransitionTable reads the table from a YAML file.
func LoadTransitionTable(path string) (*TransitionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transition table: %w", err)
	}
	var file transitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse transition table: %w", err)
	}
	return NewTransitionTable(file.Transitions)
}

// Lookup resolves (state, class) to an outcome. The second return is
// false when no row matches.
func (t *TransitionTable) Lookup(state, class string) (Outcome, bool) {
	out, ok := t.entries[transitionKey{State: state, Class: class}]
	return out, ok
}

// Len reports the number of rows, for diagnostics.
func (t *TransitionTable) Len() int {
	return len(t.entries)
}
