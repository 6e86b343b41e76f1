package rpcerr

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestFailDefaultsToServerError(t *testing.T) {
	env := Fail(errors.New("boom"))
	require.False(t, env.Success)
	require.Equal(t, ReasonServerError, env.Reason)
}

func TestFailPreservesTaxonomyReason(t *testing.T) {
	err := New(ReasonForbidden, "not an admin")
	env := Fail(err)
	require.Equal(t, ReasonForbidden, env.Reason)
	require.Equal(t, http.StatusForbidden, Status(err))
}

func TestWrapPreservesCauseChain(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := Wrap(ReasonBadSignature, cause, "signature check failed")
	require.True(t, errors.Is(wrapped, cause))
	require.Equal(t, http.StatusUnauthorized, wrapped.HTTPStatus())
}

func TestWithDetailsCarriesStaleEnvelope(t *testing.T) {
	err := New(ReasonStale, "stale update").WithDetails(map[string]int{"count": 3})
	env := Fail(err)
	require.Equal(t, ReasonStale, env.Reason)
	require.NotNil(t, env.Details)
}

func TestOKEnvelope(t *testing.T) {
	env := OK(map[string]string{"id": "i1"})
	require.True(t, env.Success)
	require.NotNil(t, env.Data)
}
