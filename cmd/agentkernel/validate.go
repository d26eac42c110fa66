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

package main

import (
	"fmt"

	"github.com/kadirpekel/agentkernel/pkg/config"
)

// ValidateCmd parses and validates a runtime config, its referenced
// policy file, and its manifest directory, without starting anything.
type ValidateCmd struct {
	Config string `short:"c" help:"Path to runtime config file (JSON or YAML)." type:"path" required:""`
}

func (c *ValidateCmd) Run() error {
	_ = config.LoadEnvFiles()
	cfg, err := config.LoadFile(c.Config)
	if err != nil {
		return err
	}
	fmt.Printf("runtime config OK: store=%s metrics_addr=%q audit_sinks=%d\n",
		cfg.Store.Backend, cfg.MetricsAddr, len(cfg.AuditSinks))

	if cfg.PolicyFile != "" {
		if _, err := loadPolicy(cfg.PolicyFile); err != nil {
			return err
		}
		fmt.Printf("policy file OK: %s\n", cfg.PolicyFile)
	}

	if cfg.ManifestDir != "" {
		manifests, err := config.LoadManifestDir(cfg.ManifestDir)
		if err != nil {
			return err
		}
		fmt.Printf("manifest directory OK: %d manifest(s)\n", len(manifests))
	}

	return nil
}
