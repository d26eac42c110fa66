package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentkernel/pkg/errs"
)

// Template names a pre-baked default-decision profile, per the policy
// YAML shape's top-level "template" key.
type Template string

const (
	TemplateStrict     Template = "strict"
	TemplateBalanced   Template = "balanced"
	TemplatePermissive Template = "permissive"
)

// domainConfig is one of the four per-domain blocks in the YAML shape.
type domainConfig struct {
	Default Decision   `yaml:"default" json:"default"`
	Rules   []ruleWire `yaml:"rules" json:"rules"`
}

// ruleWire is the wire shape of one rule entry; the discriminating field
// name differs per domain (pattern/host/command/name), so Config parses
// each domain's rules with its own field into a typed Rule.
type ruleWire struct {
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Host     string   `yaml:"host,omitempty" json:"host,omitempty"`
	Command  string   `yaml:"command,omitempty" json:"command,omitempty"`
	Name     string   `yaml:"name,omitempty" json:"name,omitempty"`
	Decision Decision `yaml:"decision" json:"decision"`
	Priority int      `yaml:"priority,omitempty" json:"priority,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Reason   string   `yaml:"reason,omitempty" json:"reason,omitempty"`
	ID       string   `yaml:"id,omitempty" json:"id,omitempty"`
}

// Config is the top-level policy configuration file shape (§6).
type Config struct {
	Template Template     `yaml:"template,omitempty" json:"template,omitempty"`
	File     domainConfig `yaml:"file,omitempty" json:"file,omitempty"`
	Network  domainConfig `yaml:"network,omitempty" json:"network,omitempty"`
	Shell    domainConfig `yaml:"shell,omitempty" json:"shell,omitempty"`
	Secret   domainConfig `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// LoadFile reads a policy Config from a JSON or YAML file, expanding
// ${VAR} references against the process environment, and builds the
// resulting PolicySet. Unknown top-level keys are ignored (yaml.v3 and
// encoding/json both do this by default).
func LoadFile(path string) (*PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "read policy config", err)
	}
	return LoadBytes(data, filepath.Ext(path))
}

// LoadBytes parses raw policy configuration bytes. ext selects the
// format (".json", ".yaml"/".yml"); any other value tries JSON first.
func LoadBytes(data []byte, ext string) (*PolicySet, error) {
	expanded := os.Expand(string(data), lookupEnv)

	var cfg Config
	var err error
	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal([]byte(expanded), &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), &cfg)
	default:
		if jerr := json.Unmarshal([]byte(expanded), &cfg); jerr != nil {
			err = yaml.Unmarshal([]byte(expanded), &cfg)
		}
	}
	if err != nil {
		return nil, errs.Wrap(errs.InvalidConfiguration, "parse policy config", err)
	}

	fileRules, err := toRules(RuleFile, cfg.File)
	if err != nil {
		return nil, err
	}
	networkRules, err := toRules(RuleNetwork, cfg.Network)
	if err != nil {
		return nil, err
	}
	shellRules, err := toRules(RuleShell, cfg.Shell)
	if err != nil {
		return nil, err
	}
	secretRules, err := toRules(RuleSecret, cfg.Secret)
	if err != nil {
		return nil, err
	}

	def := defaultDecisionFor(cfg)
	ps, err := Build(def, fileRules, networkRules, shellRules, secretRules)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidConfiguration, "build policy set", err)
	}
	return ps, nil
}

func lookupEnv(key string) string {
	return os.Getenv(key)
}

func defaultDecisionFor(cfg Config) Decision {
	for _, d := range []Decision{cfg.File.Default, cfg.Network.Default, cfg.Shell.Default, cfg.Secret.Default} {
		if d != "" {
			return d
		}
	}
	switch cfg.Template {
	case TemplatePermissive:
		return DecisionAllow
	case TemplateBalanced:
		return DecisionApprove
	default:
		return DecisionBlock
	}
}

func toRules(t RuleType, dc domainConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(dc.Rules))
	for i, w := range dc.Rules {
		enabled := true
		if w.Enabled != nil {
			enabled = *w.Enabled
		}
		r := Rule{
			ID:       w.ID,
			Type:     t,
			Decision: w.Decision,
			Priority: w.Priority,
			Enabled:  enabled,
			Reason:   w.Reason,
			Pattern:  w.Pattern,
			Host:     w.Host,
			Command:  w.Command,
			Name:     w.Name,
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", t, i)
		}
		out = append(out, r)
	}
	return out, nil
}
