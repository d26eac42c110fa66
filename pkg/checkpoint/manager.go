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
	"context"
	"log/slog"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/errs"
)

// Getter produces a fresh AgentCheckpoint snapshot for agentID, e.g. by
// reading the current statemachine.Machine/sandbox.Sandbox/ResourceUsage
// view. The auto-checkpoint timer calls it; callers may also call
// Manager.Save directly from event-driven checkpoint points.
type Getter func(ctx context.Context, agentID string) (*AgentCheckpoint, error)

// Manager orchestrates checkpoint persistence and startup recovery over a
// Store, generalizing the teacher's hooks-around-a-runner pattern from
// per-task LLM checkpoints to per-agent runtime snapshots.
type Manager struct {
	config Config
	store  Store
}

// NewManager creates a Manager. A zero Config disables auto-checkpointing
// and auto-resume; Save/Load/Delete remain usable regardless.
func NewManager(cfg Config, store Store) *Manager {
	return &Manager{config: cfg, store: store}
}

// Save validates and persists a checkpoint, stamping Version and
// Timestamp.
func (m *Manager) Save(ctx context.Context, c *AgentCheckpoint, now time.Time) error {
	c.Version = CurrentVersion
	c.Timestamp = now
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if err := c.Validate(); err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "invalid checkpoint", err)
	}
	if err := m.store.Save(ctx, c); err != nil {
		return errs.Wrap(errs.StorageFailure, "save checkpoint", err)
	}
	return nil
}

// Load retrieves and migrates a checkpoint to CurrentVersion.
func (m *Manager) Load(ctx context.Context, agentID string) (*AgentCheckpoint, error) {
	c, err := m.store.Load(ctx, agentID)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "load checkpoint", err)
	}
	if err := Migrate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a checkpoint, e.g. once its agent reaches terminated.
func (m *Manager) Delete(ctx context.Context, agentID string) error {
	if err := m.store.Delete(ctx, agentID); err != nil {
		return errs.Wrap(errs.StorageFailure, "delete checkpoint", err)
	}
	return nil
}

// RecoverAll loads every persisted checkpoint, skipping (and logging) any
// that have expired per the recovery timeout, for the caller to restore
// into live AgentContext/Machine/Sandbox instances.
func (m *Manager) RecoverAll(ctx context.Context, now time.Time) ([]*AgentCheckpoint, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "list checkpoints", err)
	}
	var recovered []*AgentCheckpoint
	for _, id := range ids {
		c, err := m.Load(ctx, id)
		if err != nil {
			slog.Warn("failed to load checkpoint during recovery", "agent_id", id, "error", err)
			continue
		}
		if m.config.Expired(c.CreatedAt, now) {
			slog.Warn("checkpoint expired, skipping recovery", "agent_id", id, "created_at", c.CreatedAt)
			continue
		}
		recovered = append(recovered, c)
	}
	return recovered, nil
}

// AutoResumeEnabled reports whether RecoverAll should run at startup.
func (m *Manager) AutoResumeEnabled() bool {
	return m.config.Recovery.AutoResume
}

// RunAutoCheckpoint starts a ticker that calls get and Save every
// m.config.Interval, until ctx is cancelled. It is a no-op if
// checkpointing is disabled or the interval is zero (§4.7: "Interval 0
// disables it").
func (m *Manager) RunAutoCheckpoint(ctx context.Context, agentID string, get Getter) {
	if !m.config.Enabled || m.config.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := get(ctx, agentID)
			if err != nil {
				slog.Warn("auto-checkpoint snapshot failed", "agent_id", agentID, "error", err)
				continue
			}
			if err := m.Save(ctx, snap, time.Now()); err != nil {
				slog.Warn("auto-checkpoint save failed", "agent_id", agentID, "error", err)
			}
		}
	}
}
