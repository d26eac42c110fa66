package adapter

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// OpenClawSkill is one skill entry in an OpenClaw skill set.
type OpenClawSkill struct {
	Name string `json:"name"`
	Tool string `json:"tool,omitempty"`
}

// OpenClawConfig is the normalized shape of an OpenClaw skill-set
// definition. Frame names which response framing the caller expects;
// only "res" (the canonical frame) is supported by OpenClawAdapter.
type OpenClawConfig struct {
	Frame  string          `json:"frame"`
	Skills []OpenClawSkill `json:"skills"`
}

// OpenClawAdapter hosts an OpenClaw skill set using the canonical
// "res"-frame response shape (§9 Design Notes).
type OpenClawAdapter struct {
	*Base
	config OpenClawConfig
}

// NewOpenClawAdapter returns an idle adapter. eval may be nil.
func NewOpenClawAdapter(eval PolicyEvaluator) *OpenClawAdapter {
	return &OpenClawAdapter{Base: NewBase(eval)}
}

func (a *OpenClawAdapter) Load(ctx context.Context, config []byte) error {
	var cfg OpenClawConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "parse openclaw config", err)
	}
	if cfg.Frame == "" {
		cfg.Frame = "res"
	}
	if cfg.Frame != "res" {
		return errs.New(errs.InvalidConfiguration, "openclaw adapter only supports the res frame; use the legacy adapter").
			WithDetail("frame", cfg.Frame)
	}
	if len(cfg.Skills) == 0 {
		return errs.New(errs.InvalidConfiguration, "openclaw config requires at least one skill")
	}

	var tools []string
	for _, skill := range cfg.Skills {
		if skill.Tool != "" {
			tools = append(tools, skill.Tool)
		}
	}
	caps, err := deriveCapabilities(tools, nil)
	if err != nil {
		return err
	}

	a.config = cfg
	return a.SetLoaded(caps)
}

func (a *OpenClawAdapter) Start(ctx context.Context, sb *sandbox.Sandbox) error {
	return a.StartWithSandbox(sb)
}

func (a *OpenClawAdapter) Stop(ctx context.Context) error {
	return a.StopAdapter()
}

// HandleMessage dispatches OpenClaw's "invoke_skill" (gated) and
// "list_skills" (read-only).
func (a *OpenClawAdapter) HandleMessage(ctx context.Context, msg Message) error {
	if err := a.RequireRunning(); err != nil {
		return err
	}
	switch msg.Kind {
	case "list_skills":
		return nil
	case "invoke_skill":
		skillName, _ := msg.Payload.(string)
		skill := a.skillByName(skillName)
		if skill == nil {
			return errs.New(errs.NotFound, "unknown openclaw skill").WithDetail("skill", skillName)
		}
		caps, err := deriveCapabilities([]string{skill.Tool}, nil)
		if err != nil || len(caps) == 0 {
			return errs.New(errs.InvalidConfiguration, "skill has no resolvable capability").WithDetail("skill", skillName)
		}
		return a.Authorize(caps[0], sandbox.CheckOptions{Operation: skill.Tool}, policy.Request{
			Type:    policy.RuleShell,
			Command: skill.Tool,
		})
	default:
		return errs.New(errs.InvalidConfiguration, "unknown openclaw message kind").WithDetail("kind", msg.Kind)
	}
}

func (a *OpenClawAdapter) skillByName(name string) *OpenClawSkill {
	for i := range a.config.Skills {
		if a.config.Skills[i].Name == name {
			return &a.config.Skills[i]
		}
	}
	return nil
}

var _ Adapter = (*OpenClawAdapter)(nil)

// LegacyAdapter loads an OpenClaw skill set using the older, divergent
// "legacy" response framing. It parses successfully (so pre-flight
// capability listing still works) but refuses Start unconditionally: no
// code path in this repository implements the legacy framing's semantics
// (§9 Design Notes: "openclaw vs openclaw-legacy framing").
type LegacyAdapter struct {
	*Base
	config OpenClawConfig
}

// NewOpenClawLegacyAdapter returns an idle legacy-framing stub adapter.
func NewOpenClawLegacyAdapter() *LegacyAdapter {
	return &LegacyAdapter{Base: NewBase(nil)}
}

func (a *LegacyAdapter) Load(ctx context.Context, config []byte) error {
	var cfg OpenClawConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "parse openclaw legacy config", err)
	}
	var tools []string
	for _, skill := range cfg.Skills {
		if skill.Tool != "" {
			tools = append(tools, skill.Tool)
		}
	}
	caps, err := deriveCapabilities(tools, nil)
	if err != nil {
		return err
	}
	a.config = cfg
	return a.SetLoaded(caps)
}

func (a *LegacyAdapter) Start(ctx context.Context, sb *sandbox.Sandbox) error {
	return errs.New(errs.InvalidConfiguration, "openclaw legacy response framing is not implemented; use the res-frame adapter")
}

func (a *LegacyAdapter) Stop(ctx context.Context) error {
	return a.StopAdapter()
}

func (a *LegacyAdapter) HandleMessage(ctx context.Context, msg Message) error {
	return a.RequireRunning()
}

var _ Adapter = (*LegacyAdapter)(nil)
