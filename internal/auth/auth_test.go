package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHeader_MissingUserFails(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := FromHeader(r)
	assert.False(t, ok)
}

func TestFromHeader_ParsesRolesAndAdmin(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Pipelinehub-User", "alice")
	r.Header.Set("X-Pipelinehub-Roles", "collector, admin,qa")

	p, ok := FromHeader(r)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, []string{"collector", "admin", "qa"}, p.Roles)
	assert.True(t, p.IsAdmin)
	assert.True(t, p.HasRole("qa"))
	assert.False(t, p.HasRole("loader"))
}

func TestFromHeader_NoRolesHeader(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Pipelinehub-User", "bob")

	p, ok := FromHeader(r)
	require.True(t, ok)
	assert.Empty(t, p.Roles)
	assert.False(t, p.IsAdmin)
}

func TestRequirePrincipal_RejectsUnauthenticated(t *testing.T) {
	t.Parallel()

	handler := RequirePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a principal")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequirePrincipal_AttachesPrincipalToContext(t *testing.T) {
	t.Parallel()

	var seen Principal
	handler := RequirePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = p
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Pipelinehub-User", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", seen.Username)
}

func TestFromContext_AbsentReturnsFalse(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(t.Context())
	assert.False(t, ok)
}
