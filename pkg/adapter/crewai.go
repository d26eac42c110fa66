package adapter

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// CrewAIAgent is one crew member's config: a role and the tools it may
// invoke.
type CrewAIAgent struct {
	Role  string   `yaml:"role"`
	Tools []string `yaml:"tools,omitempty"`
}

// CrewAIConfig is the normalized shape of a CrewAI crew definition.
type CrewAIConfig struct {
	Name   string        `yaml:"name"`
	Agents []CrewAIAgent `yaml:"agents"`
}

// CrewAIAdapter hosts a CrewAI crew inside the runtime.
type CrewAIAdapter struct {
	*Base
	config CrewAIConfig
}

// NewCrewAIAdapter returns an idle adapter. eval may be nil.
func NewCrewAIAdapter(eval PolicyEvaluator) *CrewAIAdapter {
	return &CrewAIAdapter{Base: NewBase(eval)}
}

func (a *CrewAIAdapter) Load(ctx context.Context, config []byte) error {
	var cfg CrewAIConfig
	if err := yaml.Unmarshal(config, &cfg); err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "parse crewai config", err)
	}
	if len(cfg.Agents) == 0 {
		return errs.New(errs.InvalidConfiguration, "crewai config requires at least one agent")
	}

	var tools []string
	for _, agent := range cfg.Agents {
		tools = append(tools, agent.Tools...)
	}
	caps, err := deriveCapabilities(tools, nil)
	if err != nil {
		return err
	}

	a.config = cfg
	return a.SetLoaded(caps)
}

func (a *CrewAIAdapter) Start(ctx context.Context, sb *sandbox.Sandbox) error {
	return a.StartWithSandbox(sb)
}

func (a *CrewAIAdapter) Stop(ctx context.Context) error {
	return a.StopAdapter()
}

// HandleMessage dispatches CrewAI's "run_task" (a crew member invokes one
// of its tools, gated) and "get_crew" (read-only introspection).
func (a *CrewAIAdapter) HandleMessage(ctx context.Context, msg Message) error {
	if err := a.RequireRunning(); err != nil {
		return err
	}
	switch msg.Kind {
	case "get_crew":
		return nil
	case "run_task":
		tool, _ := msg.Payload.(string)
		if tool == "" {
			return errs.New(errs.InvalidConfiguration, "run_task requires a tool name payload")
		}
		caps, err := deriveCapabilities([]string{tool}, nil)
		if err != nil || len(caps) == 0 {
			return errs.New(errs.InvalidConfiguration, "tool has no resolvable capability").WithDetail("tool", tool)
		}
		return a.Authorize(caps[0], sandbox.CheckOptions{Operation: tool}, policy.Request{
			Type:    policy.RuleShell,
			Command: tool,
		})
	default:
		return errs.New(errs.InvalidConfiguration, "unknown crewai message kind").WithDetail("kind", msg.Kind)
	}
}

var _ Adapter = (*CrewAIAdapter)(nil)
