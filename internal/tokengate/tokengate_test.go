package tokengate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/bus"
)

func TestNew_GeneratesAndPersistsEntityToken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "entity_token")

	g, err := New(path, "", true)
	require.NoError(t, err)
	require.NotEmpty(t, g.entityToken)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, g.entityToken, string(data))
}

func TestNew_LoadsExistingToken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "entity_token")
	require.NoError(t, os.WriteFile(path, []byte("existing-token"), 0o600))

	g, err := New(path, "", true)
	require.NoError(t, err)
	assert.Equal(t, "existing-token", g.entityToken)
}

func TestValidate_EntityAndMasterTokensPass(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "entity_token")
	g, err := New(path, "master-secret", true)
	require.NoError(t, err)

	assert.NoError(t, g.Validate(g.entityToken))
	assert.NoError(t, g.Validate("master-secret"))
	assert.ErrorIs(t, g.Validate("garbage"), bus.ErrAuthRejected)
}

func TestValidate_StrictRejectsMissingToken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "entity_token")
	g, err := New(path, "", true)
	require.NoError(t, err)

	assert.ErrorIs(t, g.Validate(""), bus.ErrAuthRejected)
}

func TestValidate_PermissivePassesMissingButRejectsInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "entity_token")
	g, err := New(path, "", false)
	require.NoError(t, err)

	assert.NoError(t, g.Validate(""))
	assert.ErrorIs(t, g.Validate("garbage"), bus.ErrAuthRejected)
}

func TestRegenerateToken_InvalidatesOld(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "entity_token")
	g, err := New(path, "", true)
	require.NoError(t, err)
	old := g.entityToken

	newToken, err := g.RegenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, old, newToken)
	assert.ErrorIs(t, g.Validate(old), bus.ErrAuthRejected)
	assert.NoError(t, g.Validate(newToken))
}

func TestIsExempt(t *testing.T) {
	t.Parallel()
	assert.True(t, IsExempt("pps_health"))
	assert.True(t, IsExempt("raw_search"))
	assert.False(t, IsExempt("anchor_save"))
}
