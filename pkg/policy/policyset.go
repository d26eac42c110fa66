package policy

import (
	"sort"

	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// PolicySet is an immutable bundle of rules across the four domains plus
// a default decision. Rules are sorted exactly once at construction, by
// (priority desc, specificity desc, list-order asc); Evaluate is then a
// linear scan with no locking and no resort, matching the copy-on-write
// "readers see an immutable snapshot" rule (§5).
type PolicySet struct {
	defaultDecision Decision
	byType          map[RuleType][]Rule
}

// Build constructs a PolicySet from unordered per-domain rule lists,
// validating and pre-sorting each. Loading a malformed PolicySet is
// fatal, per §4.3's failure semantics.
func Build(defaultDecision Decision, fileRules, networkRules, shellRules, secretRules []Rule) (*PolicySet, error) {
	if defaultDecision == "" {
		defaultDecision = DecisionBlock
	}
	ps := &PolicySet{
		defaultDecision: defaultDecision,
		byType:          make(map[RuleType][]Rule),
	}
	domains := []struct {
		t     RuleType
		rules []Rule
	}{
		{RuleFile, fileRules},
		{RuleNetwork, networkRules},
		{RuleShell, shellRules},
		{RuleSecret, secretRules},
	}
	for _, d := range domains {
		sorted, err := prepareRules(d.t, d.rules)
		if err != nil {
			return nil, err
		}
		ps.byType[d.t] = sorted
	}
	return ps, nil
}

func prepareRules(t RuleType, rules []Rule) ([]Rule, error) {
	out := make([]Rule, len(rules))
	copy(out, rules)
	for i := range out {
		out[i].Type = t
		out[i].index = i
		out[i].specificity = sandbox.Specificity(out[i].pattern())
		if err := validateRule(&out[i]); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].specificity != out[j].specificity {
			return out[i].specificity > out[j].specificity
		}
		return out[i].index < out[j].index
	})
	return out, nil
}

func validateRule(r *Rule) error {
	if r.Decision != DecisionAllow && r.Decision != DecisionBlock && r.Decision != DecisionApprove {
		return &ValidationError{Message: "invalid decision", RuleType: r.Type, Decision: r.Decision}
	}
	if r.pattern() == "" {
		return &ValidationError{Message: "missing pattern for rule type", RuleType: r.Type}
	}
	return nil
}

// ValidationError reports a malformed rule at PolicySet construction.
type ValidationError struct {
	Message  string
	RuleType RuleType
	Decision Decision
}

func (e *ValidationError) Error() string {
	return "policy: " + e.Message + " (type=" + string(e.RuleType) + ")"
}

// DefaultDecision returns the decision used when no rule matches.
func (ps *PolicySet) DefaultDecision() Decision {
	return ps.defaultDecision
}

// Rules returns the pre-sorted rule list for a domain, for diagnostics.
func (ps *PolicySet) Rules(t RuleType) []Rule {
	return ps.byType[t]
}
