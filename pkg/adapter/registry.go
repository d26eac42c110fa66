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

package adapter

import (
	"fmt"

	"github.com/kadirpekel/agentkernel/pkg/registry"
)

// Factory builds a fresh, unloaded Adapter for one foreign framework kind,
// wired to eval so its HandleMessage can authorize against the runtime's
// policy engine.
type Factory func(eval PolicyEvaluator) Adapter

// Kinds this package ships a Factory for out of the box.
const (
	KindLangGraph = "langgraph"
	KindCrewAI    = "crewai"
	KindAutoGen   = "autogen"
	KindOpenClaw  = "openclaw"
)

// Registry maps a framework kind string (as named in an AgentManifest) to
// the Factory that builds its Adapter, so the runtime doesn't need a
// compile-time switch over every framework it supports (§4.5: adapters
// are a pluggable boundary).
type Registry struct {
	*registry.BaseRegistry[Factory]
}

// NewRegistry returns a Registry pre-populated with this package's own
// LangGraph, CrewAI, AutoGen, and OpenClaw adapters. Callers may Register
// additional kinds, e.g. an out-of-process grpcplugin.HostAdapter.
func NewRegistry() *Registry {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Factory]()}
	_ = r.Register(KindLangGraph, func(eval PolicyEvaluator) Adapter { return NewLangGraphAdapter(eval) })
	_ = r.Register(KindCrewAI, func(eval PolicyEvaluator) Adapter { return NewCrewAIAdapter(eval) })
	_ = r.Register(KindAutoGen, func(eval PolicyEvaluator) Adapter { return NewAutoGenAdapter(eval) })
	_ = r.Register(KindOpenClaw, func(eval PolicyEvaluator) Adapter { return NewOpenClawAdapter(eval) })
	return r
}

// Build looks up kind and constructs an Adapter via its Factory.
func (r *Registry) Build(kind string, eval PolicyEvaluator) (Adapter, error) {
	factory, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("adapter: unknown framework kind %q", kind)
	}
	return factory(eval), nil
}
