package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPolicyBlockWithMatchingRule is scenario 2 from spec.md §8.
func TestPolicyBlockWithMatchingRule(t *testing.T) {
	ps, err := Build(DecisionAllow,
		[]Rule{{ID: "R1", Pattern: "**/.ssh/**", Decision: DecisionBlock, Priority: 100, Enabled: true}},
		nil, nil, nil,
	)
	require.NoError(t, err)

	result := Evaluate(ps, Request{Type: RuleFile, Path: "/home/u/.ssh/id_rsa", Operation: OpRead})
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.Equal(t, "R1", result.MatchedRule)
}

// TestPriorityWinsOverOrder is scenario 3 from spec.md §8.
func TestPriorityWinsOverOrder(t *testing.T) {
	ps, err := Build(DecisionBlock,
		[]Rule{
			{ID: "R1", Pattern: "/tmp/**", Decision: DecisionAllow, Priority: 10, Enabled: true},
			{ID: "R2", Pattern: "/tmp/secret", Decision: DecisionBlock, Priority: 100, Enabled: true},
		},
		nil, nil, nil,
	)
	require.NoError(t, err)

	result := Evaluate(ps, Request{Type: RuleFile, Path: "/tmp/secret"})
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.Equal(t, "R2", result.MatchedRule)
}

func TestEvaluate_NoMatchUsesDefault(t *testing.T) {
	ps, err := Build(DecisionBlock, nil, nil, nil, nil)
	require.NoError(t, err)

	result := Evaluate(ps, Request{Type: RuleFile, Path: "/tmp/anything"})
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.Empty(t, result.MatchedRule)
}

func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	ps, err := Build(DecisionAllow,
		[]Rule{{ID: "R1", Pattern: "/tmp/**", Decision: DecisionBlock, Priority: 100, Enabled: false}},
		nil, nil, nil,
	)
	require.NoError(t, err)

	result := Evaluate(ps, Request{Type: RuleFile, Path: "/tmp/x"})
	assert.Equal(t, DecisionAllow, result.Decision)
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	ps, err := Build(DecisionBlock,
		[]Rule{{ID: "R1", Pattern: "/tmp/**", Decision: DecisionAllow, Priority: 50, Enabled: true}},
		nil, nil, nil,
	)
	require.NoError(t, err)

	req := Request{Type: RuleFile, Path: "/tmp/x"}
	first := Evaluate(ps, req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(ps, req))
	}
}

func TestEvaluate_NetworkDefaultBlocklistWinsOverAllowRule(t *testing.T) {
	ps, err := Build(DecisionBlock, nil,
		[]Rule{{ID: "N1", Host: "*", Decision: DecisionAllow, Priority: 1000, Enabled: true}},
		nil, nil,
	)
	require.NoError(t, err)

	result := Evaluate(ps, Request{Type: RuleNetwork, Host: "169.254.169.254"})
	assert.Equal(t, DecisionBlock, result.Decision)
}

func TestBuild_RejectsInvalidDecision(t *testing.T) {
	_, err := Build(DecisionBlock, []Rule{{ID: "R1", Pattern: "/tmp/*", Decision: "nonsense", Enabled: true}}, nil, nil, nil)
	assert.Error(t, err)
}

func TestLoadBytes_YAML(t *testing.T) {
	yamlDoc := []byte(`
template: strict
file:
  default: block
  rules:
    - pattern: "/tmp/**"
      decision: allow
      priority: 10
network:
  default: block
  rules: []
shell:
  default: block
  rules: []
secret:
  default: block
  rules: []
`)
	ps, err := LoadBytes(yamlDoc, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, ps.DefaultDecision())

	result := Evaluate(ps, Request{Type: RuleFile, Path: "/tmp/a"})
	assert.Equal(t, DecisionAllow, result.Decision)
}
