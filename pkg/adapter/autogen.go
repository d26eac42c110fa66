package adapter

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// AutoGenAgent is one participant's config in an AutoGen conversation.
type AutoGenAgent struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools,omitempty"`
}

// AutoGenConfig is the normalized shape of an AutoGen conversation
// definition.
type AutoGenConfig struct {
	Conversation string         `json:"conversation"`
	Agents       []AutoGenAgent `json:"agents"`
}

// AutoGenAdapter hosts an AutoGen multi-agent conversation inside the
// runtime.
type AutoGenAdapter struct {
	*Base
	config AutoGenConfig
}

// NewAutoGenAdapter returns an idle adapter. eval may be nil.
func NewAutoGenAdapter(eval PolicyEvaluator) *AutoGenAdapter {
	return &AutoGenAdapter{Base: NewBase(eval)}
}

func (a *AutoGenAdapter) Load(ctx context.Context, config []byte) error {
	var cfg AutoGenConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "parse autogen config", err)
	}
	if len(cfg.Agents) == 0 {
		return errs.New(errs.InvalidConfiguration, "autogen config requires at least one agent")
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

func (a *AutoGenAdapter) Start(ctx context.Context, sb *sandbox.Sandbox) error {
	return a.StartWithSandbox(sb)
}

func (a *AutoGenAdapter) Stop(ctx context.Context) error {
	return a.StopAdapter()
}

// HandleMessage dispatches AutoGen's "send_message" (one agent turn,
// read-only) and "call_tool" (a named agent invokes a tool, gated).
func (a *AutoGenAdapter) HandleMessage(ctx context.Context, msg Message) error {
	if err := a.RequireRunning(); err != nil {
		return err
	}
	switch msg.Kind {
	case "send_message":
		return nil
	case "call_tool":
		tool, _ := msg.Payload.(string)
		if tool == "" {
			return errs.New(errs.InvalidConfiguration, "call_tool requires a tool name payload")
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
		return errs.New(errs.InvalidConfiguration, "unknown autogen message kind").WithDetail("kind", msg.Kind)
	}
}

var _ Adapter = (*AutoGenAdapter)(nil)
