package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkernel/pkg/manifest"
	"github.com/kadirpekel/agentkernel/pkg/metrics"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/runtime"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ps, err := policy.Build(policy.DecisionAllow, nil, nil, nil, nil)
	require.NoError(t, err)
	rt := runtime.New(runtime.WithPolicy(ps))
	return New(rt, metrics.New())
}

func newTestServerWithRuntime(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	ps, err := policy.Build(policy.DecisionApprove, nil, nil, nil, nil)
	require.NoError(t, err)
	rt := runtime.New(runtime.WithPolicy(ps), runtime.WithApprovalCallback(nil, time.Second))
	return New(rt, metrics.New()), rt
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMetrics_ExposesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSpawn_CreatesAgent(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"manifest": manifest.AgentManifest{
			ID: "m1", Name: "Test", Version: "1.0", EntryPoint: "run", TrustLevel: manifest.TrustSupervised,
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/agents/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["agentId"])
}

func TestHandleSpawn_RejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/agents/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSpawn_RejectsInvalidManifest(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"manifest": manifest.AgentManifest{}})
	req := httptest.NewRequest(http.MethodPost, "/agents/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTransition_AppliesEventAndReportsState(t *testing.T) {
	s := newTestServer(t)
	spawnBody, _ := json.Marshal(map[string]any{
		"manifest": manifest.AgentManifest{
			ID: "m1", Name: "Test", Version: "1.0", EntryPoint: "run", TrustLevel: manifest.TrustSupervised,
		},
	})
	spawnReq := httptest.NewRequest(http.MethodPost, "/agents/", bytes.NewReader(spawnBody))
	spawnRec := httptest.NewRecorder()
	s.ServeHTTP(spawnRec, spawnReq)
	var spawned map[string]any
	require.NoError(t, json.Unmarshal(spawnRec.Body.Bytes(), &spawned))
	agentID := spawned["agentId"].(string)

	transBody, _ := json.Marshal(map[string]any{"event": statemachine.EventInitialize})
	transReq := httptest.NewRequest(http.MethodPost, "/agents/"+agentID+"/transitions", bytes.NewReader(transBody))
	transRec := httptest.NewRecorder()
	s.ServeHTTP(transRec, transReq)
	require.Equal(t, http.StatusOK, transRec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(transRec.Body.Bytes(), &resp))
	assert.Equal(t, string(statemachine.StateInitializing), resp["state"])
}

func TestHandleTransition_UnknownAgentReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"event": statemachine.EventInitialize})
	req := httptest.NewRequest(http.MethodPost, "/agents/does-not-exist/transitions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleList_ReturnsSpawnedAgents(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"manifest": manifest.AgentManifest{
			ID: "m1", Name: "Test", Version: "1.0", EntryPoint: "run", TrustLevel: manifest.TrustSupervised,
		},
	})
	spawnReq := httptest.NewRequest(http.MethodPost, "/agents/", bytes.NewReader(body))
	s.ServeHTTP(httptest.NewRecorder(), spawnReq)

	req := httptest.NewRequest(http.MethodGet, "/agents/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["agents"], 1)
}

func TestHandleApproval_ResolvesPendingAuthorizeCall(t *testing.T) {
	s, rt := newTestServerWithRuntime(t)
	h, err := rt.Spawn(context.Background(), manifest.AgentManifest{
		ID: "m1", Name: "Test", Version: "1.0", EntryPoint: "run",
		TrustLevel: manifest.TrustSupervised, RequiredPermissions: []sandbox.Capability{sandbox.CapFileRead},
	})
	require.NoError(t, err)

	authorizeErr := make(chan error, 1)
	go func() {
		authorizeErr <- rt.Authorize(h.Context.AgentID, sandbox.CapFileRead, sandbox.CheckOptions{Path: "/tmp/x"}, policy.Request{
			Type: policy.RuleFile, Path: "/tmp/x", Operation: policy.OpRead,
		})
	}()

	var approvalID string
	require.Eventually(t, func() bool {
		ids := rt.Approvals().PendingIDs()
		if len(ids) == 0 {
			return false
		}
		approvalID = ids[0]
		return true
	}, time.Second, time.Millisecond)

	body, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest(http.MethodPost, "/approvals/"+approvalID, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, <-authorizeErr)
}

func TestHandleApproval_UnknownIDReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest(http.MethodPost, "/approvals/does-not-exist", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListApprovals_ReturnsEmptyWhenNonePending(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/approvals", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp["approvalIds"])
}
