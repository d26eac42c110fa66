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

package checkpoint

import (
	"fmt"
	"time"
)

// Config configures automatic checkpointing and startup recovery.
//
// Example YAML configuration:
//
//	checkpoint:
//	  enabled: true
//	  interval: 30s
//	  recovery:
//	    auto_resume: true
//	    timeout: 1h
type Config struct {
	// Enabled turns on the auto-checkpoint timer (§4.7 "optional
	// auto-checkpointing"). Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Interval is the auto-checkpoint timer period. Zero disables it even
	// if Enabled is true (§4.7: "Interval 0 disables it").
	Interval time.Duration `yaml:"interval,omitempty"`

	Recovery RecoveryConfig `yaml:"recovery,omitempty"`
}

// RecoveryConfig configures startup recovery behavior.
type RecoveryConfig struct {
	// AutoResume loads every persisted checkpoint and restores its agent
	// on startup. Default: false.
	AutoResume bool `yaml:"auto_resume,omitempty"`

	// Timeout bounds how old a checkpoint may be and still be considered
	// recoverable; older checkpoints are treated as expired: RecoverAll
	// logs and skips them, so their agents are not restored. Zero means
	// no limit.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("checkpoint: interval must be non-negative")
	}
	if c.Recovery.Timeout < 0 {
		return fmt.Errorf("checkpoint: recovery timeout must be non-negative")
	}
	return nil
}

// Expired reports whether a checkpoint created at createdAt is too old to
// recover, given now.
func (c *Config) Expired(createdAt, now time.Time) bool {
	if c.Recovery.Timeout <= 0 {
		return false
	}
	return now.Sub(createdAt) > c.Recovery.Timeout
}
