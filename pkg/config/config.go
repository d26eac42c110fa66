// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentkernel/pkg/checkpoint"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/ratelimit"
)

// StoreBackend selects which pkg/store implementation backs checkpoints
// and transition history.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendFile     StoreBackend = "file"
	BackendPostgres StoreBackend = "postgres"
)

func (b StoreBackend) Valid() bool {
	switch b {
	case BackendMemory, BackendFile, BackendPostgres:
		return true
	default:
		return false
	}
}

// StoreConfig configures the storage backend shared by checkpoints and
// transition history (§4.7, §6 "pluggable Storage backends").
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend,omitempty" json:"backend,omitempty"`
	// Dir is the base directory for Backend == BackendFile.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
	// DSN is the postgres connection string for Backend == BackendPostgres.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

func (c *StoreConfig) Validate() error {
	if c.Backend == "" {
		return nil
	}
	if !c.Backend.Valid() {
		return fmt.Errorf("config: unknown store backend %q", c.Backend)
	}
	if c.Backend == BackendFile && c.Dir == "" {
		return fmt.Errorf("config: store backend %q requires dir", c.Backend)
	}
	if c.Backend == BackendPostgres && c.DSN == "" {
		return fmt.Errorf("config: store backend %q requires dsn", c.Backend)
	}
	return nil
}

// RateLimitStoreBackend selects which pkg/ratelimit.Store implementation
// backs bucket state: memory (single process) or redis (shared across
// replicas).
type RateLimitStoreBackend string

const (
	RateLimitStoreMemory RateLimitStoreBackend = "memory"
	RateLimitStoreRedis  RateLimitStoreBackend = "redis"
)

func (b RateLimitStoreBackend) Valid() bool {
	switch b {
	case RateLimitStoreMemory, RateLimitStoreRedis, "":
		return true
	default:
		return false
	}
}

// RateLimitStoreConfig configures the ratelimit.Store backend.
type RateLimitStoreConfig struct {
	Backend RateLimitStoreBackend `yaml:"backend,omitempty" json:"backend,omitempty"`
	// Addr is the redis server address for Backend == RateLimitStoreRedis.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

func (c *RateLimitStoreConfig) Validate() error {
	if !c.Backend.Valid() {
		return fmt.Errorf("config: unknown rate limit store backend %q", c.Backend)
	}
	if c.Backend == RateLimitStoreRedis && c.Addr == "" {
		return fmt.Errorf("config: redis rate limit store requires addr")
	}
	return nil
}

// AuditSinkConfig configures one audit sink (§4.6: console/memory/file/postgres).
type AuditSinkConfig struct {
	Kind string `yaml:"kind" json:"kind"`
	// Path is the file sink's target path, ignored by other kinds.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Capacity is the memory sink's ring buffer size, ignored by other kinds.
	Capacity int `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	// DSN is the postgres sink's connection string, ignored by other kinds.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

func (c *AuditSinkConfig) Validate() error {
	switch c.Kind {
	case "console", "":
		return nil
	case "memory":
		if c.Capacity <= 0 {
			return fmt.Errorf("config: memory audit sink requires a positive capacity")
		}
	case "file":
		if c.Path == "" {
			return fmt.Errorf("config: file audit sink requires a path")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("config: postgres audit sink requires a dsn")
		}
	default:
		return fmt.Errorf("config: unknown audit sink kind %q", c.Kind)
	}
	return nil
}

// RuntimeConfig is the top-level configuration document for
// cmd/agentkernel: where the policy set and agent manifests live, which
// storage backend to use, and every component sub-config. It composes
// the narrower per-package Config types rather than reimplementing them.
type RuntimeConfig struct {
	// PolicyFile is a path to a pkg/policy Config document (JSON/YAML).
	PolicyFile string `yaml:"policy_file,omitempty" json:"policyFile,omitempty"`
	// ManifestDir is a directory of AgentManifest documents, one per file.
	ManifestDir string `yaml:"manifest_dir,omitempty" json:"manifestDir,omitempty"`

	Store          StoreConfig           `yaml:"store,omitempty" json:"store,omitempty"`
	RateLimit      ratelimit.Config      `yaml:"rate_limit,omitempty" json:"rateLimit,omitempty"`
	RateLimitStore RateLimitStoreConfig  `yaml:"rate_limit_store,omitempty" json:"rateLimitStore,omitempty"`
	Checkpoint     checkpoint.Config     `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	AuditSinks     []AuditSinkConfig     `yaml:"audit_sinks,omitempty" json:"auditSinks,omitempty"`

	// MetricsAddr is the listen address for the Prometheus /metrics and
	// health endpoints, e.g. ":9090". Empty makes the serve command listen
	// on ":8080".
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metricsAddr,omitempty"`
}

// Validate checks every sub-config and cross-references PolicyFile and
// ManifestDir without touching the filesystem (that happens in Load).
func (c *RuntimeConfig) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.RateLimitStore.Validate(); err != nil {
		return err
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return err
	}
	for i := range c.AuditSinks {
		if err := c.AuditSinks[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SetDefaults fills in the zero-value fallbacks a fresh RuntimeConfig
// needs to be useful out of the box: an in-memory store and a single
// console audit sink, matching spec.md's "sane defaults, no required
// configuration file" stance for single-process mode.
func (c *RuntimeConfig) SetDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.RateLimitStore.Backend == "" {
		c.RateLimitStore.Backend = RateLimitStoreMemory
	}
	if len(c.AuditSinks) == 0 {
		c.AuditSinks = []AuditSinkConfig{{Kind: "console"}}
	}
}

// LoadFile reads a RuntimeConfig from a JSON or YAML file, expanding
// ${VAR}/${VAR:-default}/$VAR references against the process
// environment before parsing, the way the teacher's pkg/config/env.go
// expands raw config text ahead of unmarshaling.
func LoadFile(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "read runtime config", err)
	}
	return LoadBytes(data, filepath.Ext(path))
}

// LoadBytes parses raw runtime configuration bytes. ext selects the
// format (".json", ".yaml"/".yml"); any other value tries JSON first and
// falls back to YAML.
func LoadBytes(data []byte, ext string) (*RuntimeConfig, error) {
	expanded := ExpandEnv(string(data), lookupEnv)

	var cfg RuntimeConfig
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
		return nil, errs.Wrap(errs.InvalidConfiguration, "parse runtime config", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.InvalidConfiguration, "validate runtime config", err)
	}
	return &cfg, nil
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}
