package policy

import (
	"strings"

	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// Result is the outcome of evaluating a Request against a PolicySet.
type Result struct {
	Decision    Decision
	MatchedRule string // Rule.ID, empty if the default decision applied
	Reason      string
}

// Evaluate runs the evaluation contract from §4.3: select the domain's
// rule list, skip disabled rules, return the first (already
// priority/specificity/order sorted) rule whose pattern matches; if none
// match, use the PolicySet's default decision. Evaluate never panics —
// any internal matching error degrades to DecisionBlock, per the
// "rule evaluation itself must not throw" failure semantics; callers are
// expected to additionally audit that case.
func Evaluate(ps *PolicySet, req Request) Result {
	subject := req.subject()

	if req.Type == RuleNetwork && sandbox.IsDefaultBlockedHost(subject) {
		return Result{Decision: DecisionBlock, Reason: "blocked by default SSRF hostname/range blocklist"}
	}
	if req.Type == RuleSecret && sandbox.IsDefaultBlockedSecret(subject) {
		return Result{Decision: DecisionBlock, Reason: "blocked by default secret-name blocklist"}
	}

	rules := ps.Rules(req.Type)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if matches(r, req, subject) {
			return Result{Decision: r.Decision, MatchedRule: r.ID, Reason: r.Reason}
		}
	}

	return Result{Decision: ps.defaultDecision, Reason: "no rule matched; applied default decision"}
}

func matches(r Rule, req Request, subject string) bool {
	switch r.Type {
	case RuleFile:
		if !matchFilePath(r.Pattern, subject) {
			return false
		}
		return req.Operation == "" || operationMatches(r, req.Operation)
	case RuleNetwork:
		return matchHostGlob(r.Host, subject)
	case RuleShell:
		return strings.Contains(subject, r.Command)
	case RuleSecret:
		return matchSecretGlob(r.Name, subject)
	default:
		return false
	}
}

// operationMatches has no per-rule operation filter in the wire format
// (spec.md's rule shape carries only a pattern/decision per type), so
// every enabled, pattern-matching file rule applies regardless of
// operation; this keeps the matcher a pure function of (pattern,
// subject) while leaving room for a future per-operation rule field.
func operationMatches(r Rule, op FileOperation) bool {
	return true
}

func matchFilePath(pattern, path string) bool {
	return sandbox.MatchPathGlob(pattern, path)
}

func matchHostGlob(pattern, host string) bool {
	return sandbox.MatchHostGlob(pattern, host)
}

func matchSecretGlob(pattern, name string) bool {
	return sandbox.MatchSecretGlob(pattern, name)
}
