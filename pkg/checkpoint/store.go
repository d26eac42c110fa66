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

import "context"

// Store is the narrow persistence contract checkpoint backends implement
// (§4.7): save/load/delete/list/exists. A single Save MUST be atomic —
// readers never observe a partial write (pkg/store's filestore does this
// with write-to-temp + rename; pgstore with a single transaction).
type Store interface {
	Save(ctx context.Context, c *AgentCheckpoint) error
	Load(ctx context.Context, agentID string) (*AgentCheckpoint, error)
	Delete(ctx context.Context, agentID string) error
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, agentID string) (bool, error)
}
