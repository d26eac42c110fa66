package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAgentID_Unique(t *testing.T) {
	a := NewAgentID()
	b := NewAgentID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "agt_"))
}

func TestNewEventID_Prefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewEventID(), "evt_"))
}

func TestNewGrantID_Prefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewGrantID(), "grt_"))
}

func TestNewTraceID_Prefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewTraceID(), "trc_"))
}

func TestNewApprovalID_Prefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewApprovalID(), "apr_"))
}
