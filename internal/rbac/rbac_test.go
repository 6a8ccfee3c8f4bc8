package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllows(t *testing.T) {
	assert.True(t, Allows(RoleOperator, RoleViewer, RoleOperator))
	assert.False(t, Allows(RoleViewer, RoleOperator))
	assert.False(t, Allows("", RoleViewer))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("operator")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, r)

	_, err = ParseRole("admin")
	assert.Error(t, err)
}
