package decision

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact is a single logical fact asserted into the rule kernel for one
// evaluation, e.g. intent_action(/launch_campaign).
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String renders the Datalog form of the fact. Strings starting with "/"
// are emitted as Mangle name constants.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%f", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// RuleKernel evaluates the tier-2 decision rules: a fixed Mangle program
// (declarations plus policy rules) combined with per-query facts. The
// program text is replaceable at runtime (rule hot-reload); evaluation
// itself is stateless per query.
type RuleKernel struct {
	mu      sync.RWMutex
	schemas string
	policy  string
}

// NewRuleKernel creates a kernel with inline program text. Either part
// may be empty.
func NewRuleKernel(schemas, policy string) *RuleKernel {
	return &RuleKernel{schemas: schemas, policy: policy}
}

// NewRuleKernelFromDir loads all .gl files from dir: files named
// schema*.gl contribute declarations, everything else policy rules.
func NewRuleKernelFromDir(dir string) (*RuleKernel, error) {
	k := &RuleKernel{}
	if err := k.LoadDir(dir); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadDir re-reads rule files from dir, replacing the current program.
func (k *RuleKernel) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read rules dir: %w", err)
	}

	var schemas, policy strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gl") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read rule file %s: %w", entry.Name(), err)
		}
		if strings.HasPrefix(entry.Name(), "schema") {
			schemas.Write(data)
			schemas.WriteString("\n")
		} else {
			policy.Write(data)
			policy.WriteString("\n")
		}
	}

	k.mu.Lock()
	k.schemas = schemas.String()
	k.policy = policy.String()
	k.mu.Unlock()
	return nil
}

// decision is one derived decide/3 fact.
type decision struct {
	priority int64
	action   string
	reason   string
}

// Decide evaluates the program against the given facts and returns all
// derived decide(Priority, Action, Reason) facts sorted by priority.
func (k *RuleKernel) Decide(facts []Fact) ([]decision, error) {
	k.mu.RLock()
	schemas, policy := k.schemas, k.policy
	k.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(schemas)
	sb.WriteString("\n")
	for _, f := range facts {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	sb.WriteString(policy)

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule program: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze rule program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("failed to evaluate rule program: %w", err)
	}

	var results []decision
	for pred := range programInfo.Decls {
		if pred.Symbol != "decide" {
			continue
		}
		store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			if d, ok := atomToDecision(a); ok {
				results = append(results, d)
			}
			return nil
		})
		break
	}

	sort.Slice(results, func(i, j int) bool { return results[i].priority < results[j].priority })
	return results, nil
}

// atomToDecision extracts (priority, action, reason) from a decide atom.
func atomToDecision(a ast.Atom) (decision, bool) {
	if len(a.Args) != 3 {
		return decision{}, false
	}

	var d decision
	if c, ok := a.Args[0].(ast.Constant); ok && c.Type == ast.NumberType {
		d.priority = c.NumValue
	}
	if c, ok := a.Args[1].(ast.Constant); ok {
		d.action = c.Symbol
	}
	if c, ok := a.Args[2].(ast.Constant); ok {
		d.reason = c.Symbol
	}
	if d.action == "" {
		return decision{}, false
	}
	return d, true
}

// RuleEngine is the tier-2 facade over the kernel: first match wins.
type RuleEngine struct {
	kernel *RuleKernel
}

// NewRuleEngine wraps a kernel.
func NewRuleEngine(kernel *RuleKernel) *RuleEngine {
	return &RuleEngine{kernel: kernel}
}

// Evaluate runs the rules top-to-down (by declared priority) and returns
// the first decision. Evaluation errors degrade to "no decision"; the
// rule tier never fails a request.
func (r *RuleEngine) Evaluate(facts []Fact) (Outcome, bool) {
	decisions, err := r.kernel.Decide(facts)
	if err != nil || len(decisions) == 0 {
		return NoDecision, false
	}
	best := decisions[0]
	return Outcome{
		Decided: true,
		Action:  best.action,
		Reason:  best.reason,
		Source:  SourceRules,
	}, true
}
