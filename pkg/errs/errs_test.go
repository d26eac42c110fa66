package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	e := New(NotFound, "agent not found")
	assert.Equal(t, "not_found: agent not found", e.Error())

	wrapped := Wrap(StorageFailure, "save failed", errors.New("disk full"))
	assert.Equal(t, "storage_failure: save failed: disk full", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(Internal, "unexpected", cause)
	assert.Same(t, cause, errors.Unwrap(e))
}

func TestError_WithDetails_Immutable(t *testing.T) {
	base := New(PolicyBlocked, "blocked by rule")
	derived := base.WithDetail("rule_id", "R1")

	assert.Empty(t, base.Details)
	assert.Equal(t, "R1", derived.Details["rule_id"])

	derived2 := derived.WithDetails(map[string]any{"path": "/tmp/x"})
	assert.Len(t, derived.Details, 1, "original details map must not be mutated")
	assert.Equal(t, "R1", derived2.Details["rule_id"])
	assert.Equal(t, "/tmp/x", derived2.Details["path"])
}

func TestError_Is(t *testing.T) {
	a := New(RateLimited, "too many requests")
	b := New(RateLimited, "different message, same kind")
	c := New(Timeout, "timed out")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestOf(t *testing.T) {
	require.Equal(t, PolicyBlocked, Of(New(PolicyBlocked, "x")))
	require.Equal(t, Kind(""), Of(errors.New("plain")))
}

func TestKind_HTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		InvalidConfiguration: 400,
		PermissionDenied:     403,
		PolicyBlocked:        403,
		NotFound:             404,
		Conflict:             409,
		ApprovalRequired:     409,
		RateLimited:          429,
		InvalidState:         422,
		Timeout:              504,
		Cancelled:            499,
		StorageFailure:       503,
		Internal:             500,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), "kind %s", kind)
	}
}
