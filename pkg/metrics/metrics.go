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

// Package metrics collects Prometheus metrics for every core component:
// state transitions, sandbox checks, policy decisions, rate-limit
// outcomes, audit delivery, and checkpoint I/O latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and every metric family this build exposes.
// A nil *Metrics is valid everywhere a component accepts one: all
// recording methods on a nil receiver are no-ops, so callers never need
// a separate "metrics disabled" branch.
type Metrics struct {
	registry *prometheus.Registry

	stateTransitions  *prometheus.CounterVec
	stateCurrentGauge *prometheus.GaugeVec

	sandboxChecks *prometheus.CounterVec

	policyDecisions *prometheus.CounterVec
	policyEvalDur   prometheus.Histogram

	rateLimitDecisions *prometheus.CounterVec
	rateLimitUtil      *prometheus.GaugeVec

	auditEvents       *prometheus.CounterVec
	auditSinkFailures *prometheus.CounterVec
	auditBufferDepth  *prometheus.GaugeVec

	checkpointOps     *prometheus.CounterVec
	checkpointLatency *prometheus.HistogramVec

	adapterStateGauge *prometheus.GaugeVec
}

// New builds a fully-registered Metrics using namespace "agentkernel".
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "statemachine",
		Name:      "transitions_total",
		Help:      "Total number of agent lifecycle state transitions.",
	}, []string{"from", "to", "event"})

	m.stateCurrentGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "statemachine",
		Name:      "agents_in_state",
		Help:      "Number of agents currently in each lifecycle state.",
	}, []string{"state"})

	m.sandboxChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "sandbox",
		Name:      "checks_total",
		Help:      "Total number of capability checks, by capability and outcome.",
	}, []string{"capability", "allowed"})

	m.policyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Total number of policy evaluations, by rule type and decision.",
	}, []string{"rule_type", "decision"})

	m.policyEvalDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentkernel",
		Subsystem: "policy",
		Name:      "evaluate_duration_seconds",
		Help:      "Policy evaluation latency in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
	})

	m.rateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Total number of rate-limit checks, by bucket kind and outcome.",
	}, []string{"kind", "allowed"})

	m.rateLimitUtil = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "ratelimit",
		Name:      "bucket_utilization_ratio",
		Help:      "Fraction of a rate-limit bucket's capacity currently consumed.",
	}, []string{"agent_id", "kind"})

	m.auditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "audit",
		Name:      "events_total",
		Help:      "Total number of audit events logged, by category and severity.",
	}, []string{"category", "severity"})

	m.auditSinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "audit",
		Name:      "sink_failures_total",
		Help:      "Total number of audit sink write failures, by sink.",
	}, []string{"sink"})

	m.auditBufferDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "audit",
		Name:      "sink_buffer_depth",
		Help:      "Current number of buffered events awaiting delivery, by sink.",
	}, []string{"sink"})

	m.checkpointOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "checkpoint",
		Name:      "operations_total",
		Help:      "Total number of checkpoint store operations, by op and outcome.",
	}, []string{"op", "outcome"})

	m.checkpointLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentkernel",
		Subsystem: "checkpoint",
		Name:      "operation_duration_seconds",
		Help:      "Checkpoint store operation latency in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"op"})

	m.adapterStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "adapter",
		Name:      "instances_in_state",
		Help:      "Number of adapter instances currently in each state, by framework.",
	}, []string{"framework", "state"})

	m.registry.MustRegister(
		m.stateTransitions, m.stateCurrentGauge,
		m.sandboxChecks,
		m.policyDecisions, m.policyEvalDur,
		m.rateLimitDecisions, m.rateLimitUtil,
		m.auditEvents, m.auditSinkFailures, m.auditBufferDepth,
		m.checkpointOps, m.checkpointLatency,
		m.adapterStateGauge,
	)

	return m
}

// Handler exposes the registry over HTTP in the Prometheus exposition
// format, mounted by pkg/server under /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *Metrics) StateTransition(from, to, event string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to, event).Inc()
}

func (m *Metrics) SetAgentsInState(state string, count float64) {
	if m == nil {
		return
	}
	m.stateCurrentGauge.WithLabelValues(state).Set(count)
}

func (m *Metrics) SandboxCheck(capability string, allowed bool) {
	if m == nil {
		return
	}
	m.sandboxChecks.WithLabelValues(capability, boolLabel(allowed)).Inc()
}

func (m *Metrics) PolicyDecision(ruleType, decision string) {
	if m == nil {
		return
	}
	m.policyDecisions.WithLabelValues(ruleType, decision).Inc()
}

func (m *Metrics) PolicyEvaluateDuration(seconds float64) {
	if m == nil {
		return
	}
	m.policyEvalDur.Observe(seconds)
}

func (m *Metrics) RateLimitDecision(kind string, allowed bool) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(kind, boolLabel(allowed)).Inc()
}

func (m *Metrics) RateLimitUtilization(agentID, kind string, ratio float64) {
	if m == nil {
		return
	}
	m.rateLimitUtil.WithLabelValues(agentID, kind).Set(ratio)
}

func (m *Metrics) AuditEvent(category, severity string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(category, severity).Inc()
}

func (m *Metrics) AuditSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.auditSinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) AuditBufferDepth(sink string, depth float64) {
	if m == nil {
		return
	}
	m.auditBufferDepth.WithLabelValues(sink).Set(depth)
}

func (m *Metrics) CheckpointOp(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.checkpointOps.WithLabelValues(op, outcome).Inc()
	m.checkpointLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) SetAdaptersInState(framework, state string, count float64) {
	if m == nil {
		return
	}
	m.adapterStateGauge.WithLabelValues(framework, state).Set(count)
}
