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

// Package checkpoint persists versioned snapshots of an agent's runtime
// state (state machine position, transition history, grants, usage) so a
// restart can recover it, per the AgentCheckpoint data model.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/manifest"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// CurrentVersion is the checkpoint schema version this build writes and
// reads without migration.
const CurrentVersion = 1

// AgentCheckpoint is a versioned snapshot sufficient to recover an agent's
// runtime state.
type AgentCheckpoint struct {
	Version      int                            `json:"version"`
	AgentID      string                         `json:"agentId"`
	Timestamp    time.Time                      `json:"timestamp"`
	State        statemachine.State             `json:"state"`
	StateHistory []statemachine.StateTransition `json:"stateHistory"`
	Usage        manifest.ResourceUsage         `json:"usage"`
	Manifest     manifest.AgentManifest         `json:"manifest"`
	Env          map[string]string              `json:"env,omitempty"`
	ParentID     string                         `json:"parentId,omitempty"`
	CreatedAt    time.Time                      `json:"createdAt"`
	Capabilities []sandbox.CapabilityGrant      `json:"capabilities"`
	CustomData   map[string]any                 `json:"customData,omitempty"`
}

// Validate checks that the checkpoint is well-formed and recoverable by
// this build (version mismatch aside, which Migrate handles separately).
func (c *AgentCheckpoint) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("checkpoint: agentId is required")
	}
	if !c.State.Valid() {
		return fmt.Errorf("checkpoint: invalid state %q", c.State)
	}
	if err := c.Manifest.Validate(); err != nil {
		return fmt.Errorf("checkpoint: manifest: %w", err)
	}
	return nil
}

// migrations maps a source version to the function that upgrades a
// checkpoint from that version to version+1. Migrations are monotonic and
// idempotent: applying migrations[v] to an already-migrated checkpoint at
// version v+1 never runs (Migrate only invokes the function for the
// checkpoint's own recorded version).
var migrations = map[int]func(*AgentCheckpoint) error{
	// No migrations yet; CurrentVersion is 1, the initial schema.
}

// Migrate upgrades c in place to CurrentVersion. A checkpoint whose
// version is newer than CurrentVersion fails to load (§4.7: "if >, load
// fails") since this build cannot interpret fields it has never seen.
func Migrate(c *AgentCheckpoint) error {
	if c.Version > CurrentVersion {
		return errs.New(errs.InvalidConfiguration,
			fmt.Sprintf("checkpoint version %d is newer than supported version %d", c.Version, CurrentVersion))
	}
	for c.Version < CurrentVersion {
		migrate, ok := migrations[c.Version]
		if !ok {
			return errs.New(errs.Internal, fmt.Sprintf("no migration registered from checkpoint version %d", c.Version))
		}
		if err := migrate(c); err != nil {
			return errs.Wrap(errs.Internal, "checkpoint migration failed", err)
		}
		c.Version++
	}
	return nil
}
