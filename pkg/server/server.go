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

// Package server exposes the runtime's optional HTTP surface (§6):
// health and Prometheus metrics endpoints, plus a spawn/transition API
// the reference CLI and an external approval workflow can call against.
// This is an ambient convenience, not the product surface (§1 Non-goals
// name the API/UI as out of scope) — it exists so the metrics and audit
// pipeline this build wires have something to be scraped/called by.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/manifest"
	"github.com/kadirpekel/agentkernel/pkg/metrics"
	"github.com/kadirpekel/agentkernel/pkg/runtime"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// Server wraps a chi router around a runtime.Runtime, following the
// teacher's middleware-chain, typed-handler routing idiom.
type Server struct {
	rt     *runtime.Runtime
	router chi.Router
}

// New builds a Server. m may be nil (the metrics endpoint then answers
// 404 Not Found, per metrics.Metrics' nil-safe Handler).
func New(rt *runtime.Runtime, m *metrics.Metrics) *Server {
	s := &Server{rt: rt}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", m.Handler())
	r.Route("/agents", func(r chi.Router) {
		r.Post("/", s.handleSpawn)
		r.Get("/", s.handleList)
		r.Post("/{agentID}/transitions", s.handleTransition)
	})
	r.Get("/approvals", s.handleListApprovals)
	r.Post("/approvals/{approvalID}", s.handleApproval)

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.rt.Agents()})
}

type spawnRequest struct {
	Manifest manifest.AgentManifest `json:"manifest"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidConfiguration, "malformed request body"))
		return
	}
	h, err := s.rt.Spawn(r.Context(), req.Manifest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"agentId": h.Context.AgentID,
		"state":   h.Machine.State(),
	})
}

type transitionRequest struct {
	Event  statemachine.Event `json:"event"`
	Reason string             `json:"reason,omitempty"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidConfiguration, "malformed request body"))
		return
	}
	if err := s.rt.Transition(agentID, req.Event, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	h, _ := s.rt.Agent(agentID)
	writeJSON(w, http.StatusOK, map[string]any{"state": h.Machine.State()})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvalIds": s.rt.Approvals().PendingIDs()})
}

type approvalRequest struct {
	Approved bool `json:"approved"`
}

// handleApproval is the out-of-band callback endpoint §4.3's `approve`
// decision waits on: an external human/agent approver POSTs here with
// a pending approvalId (as listed by GET /approvals), resolving that
// Authorize call's pending 30s (default) wait.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidConfiguration, "malformed request body"))
		return
	}
	if !s.rt.Approvals().Resolve(approvalID, req.Approved) {
		writeError(w, errs.New(errs.NotFound, "no pending approval with this id").WithDetail("approval_id", approvalID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvalId": approvalID, "approved": req.Approved})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := errs.Of(err).HTTPStatus()
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
