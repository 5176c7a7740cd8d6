package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/workspace-hub-api/internal/middleware"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

func TestClaimsFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, claimsFromContext(c))

	c.Set(middleware.ContextUserKey, "not claims")
	assert.Nil(t, claimsFromContext(c))

	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.GlobalRoleUser})
	claims := claimsFromContext(c)
	require.NotNil(t, claims)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestInt64Param(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	id, err := int64Param(c, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, value := range []string{"abc", "0", "-3", ""} {
		c.Params = gin.Params{{Key: "id", Value: value}}
		_, err := int64Param(c, "id")
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}
