// internal/utils/jwt_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateJWT("user-1", "tenant-1", RoleAdmin, 1)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "shiftwise-billing", claims.Issuer)
}

func TestValidateJWTWrongSecret(t *testing.T) {
	SetJWTSecret("test-secret")
	token, err := GenerateJWT("user-1", "tenant-1", RoleTenant, 1)
	require.NoError(t, err)

	SetJWTSecret("other-secret")
	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateJWTExpired(t *testing.T) {
	SetJWTSecret("test-secret")
	token, err := GenerateJWT("user-1", "tenant-1", RoleTenant, -1)
	require.NoError(t, err)

	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateJWTGarbage(t *testing.T) {
	_, err := ValidateJWT("not.a.token")
	assert.Error(t, err)
}
