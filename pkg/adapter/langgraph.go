package adapter

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// LangGraphNode is one node of a LangGraph graph config. Tool is the
// LangGraph tool name bound to this node, if any.
type LangGraphNode struct {
	Name         string               `json:"name"`
	Tool         string               `json:"tool,omitempty"`
	Capabilities []sandbox.Capability `json:"capabilities,omitempty"`
	Edges        []string             `json:"edges,omitempty"`
}

// LangGraphConfig is the normalized shape of a LangGraph graph
// definition: a node list plus the entry node name.
type LangGraphConfig struct {
	Entry string          `json:"entry"`
	Nodes []LangGraphNode `json:"nodes"`
}

// LangGraphAdapter hosts a LangGraph graph inside the runtime.
type LangGraphAdapter struct {
	*Base
	config LangGraphConfig
}

// NewLangGraphAdapter returns an idle adapter. eval may be nil.
func NewLangGraphAdapter(eval PolicyEvaluator) *LangGraphAdapter {
	return &LangGraphAdapter{Base: NewBase(eval)}
}

func (a *LangGraphAdapter) Load(ctx context.Context, config []byte) error {
	var cfg LangGraphConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "parse langgraph config", err)
	}
	if cfg.Entry == "" || len(cfg.Nodes) == 0 {
		return errs.New(errs.InvalidConfiguration, "langgraph config requires entry and at least one node")
	}

	var tools []string
	var declared []ToolDeclaredCapability
	for _, n := range cfg.Nodes {
		if n.Tool == "" {
			continue
		}
		tools = append(tools, n.Tool)
		if len(n.Capabilities) > 0 {
			declared = append(declared, ToolDeclaredCapability{Tool: n.Tool, Capabilities: n.Capabilities})
		}
	}
	caps, err := deriveCapabilities(tools, declared)
	if err != nil {
		return err
	}

	a.config = cfg
	return a.SetLoaded(caps)
}

func (a *LangGraphAdapter) Start(ctx context.Context, sb *sandbox.Sandbox) error {
	return a.StartWithSandbox(sb)
}

func (a *LangGraphAdapter) Stop(ctx context.Context) error {
	return a.StopAdapter()
}

// HandleMessage dispatches LangGraph's two message kinds: "invoke_node"
// (runs one node's bound tool, a side-effecting action gated by sandbox
// + policy) and "get_state" (read-only, no gate).
func (a *LangGraphAdapter) HandleMessage(ctx context.Context, msg Message) error {
	if err := a.RequireRunning(); err != nil {
		return err
	}
	switch msg.Kind {
	case "get_state":
		return nil
	case "invoke_node":
		nodeName, _ := msg.Payload.(string)
		node := a.nodeByName(nodeName)
		if node == nil {
			return errs.New(errs.NotFound, "unknown langgraph node").WithDetail("node", nodeName)
		}
		caps, err := deriveCapabilities([]string{node.Tool}, nil)
		if err != nil || len(caps) == 0 {
			return errs.New(errs.InvalidConfiguration, "node has no resolvable capability").WithDetail("node", nodeName)
		}
		return a.Authorize(caps[0], sandbox.CheckOptions{Operation: node.Tool}, policy.Request{
			Type:    policy.RuleShell,
			Command: node.Tool,
		})
	default:
		return errs.New(errs.InvalidConfiguration, "unknown langgraph message kind").WithDetail("kind", msg.Kind)
	}
}

func (a *LangGraphAdapter) nodeByName(name string) *LangGraphNode {
	for i := range a.config.Nodes {
		if a.config.Nodes[i].Name == name {
			return &a.config.Nodes[i]
		}
	}
	return nil
}

var _ Adapter = (*LangGraphAdapter)(nil)
