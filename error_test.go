package oidcrp

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthError(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	e := &AuthError{Code: "login_required"}
	assert.Equal("login_required", e.Error())

	e = &AuthError{
		Code:        "invalid_request",
		Description: "missing state",
		State:       map[string]interface{}{"return_to": "/inbox"},
	}
	assert.Equal("invalid_request: missing state", e.Error())

	var authErr *AuthError
	wrapped := fmt.Errorf("signin failed: %w", e)
	assert.True(errors.As(wrapped, &authErr))
	assert.Equal(map[string]interface{}{"return_to": "/inbox"}, authErr.State)
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	e := &TimeoutError{Op: "navigate", Budget: 10 * time.Second}
	assert.ErrorIs(e, ErrTimeout)
	assert.NotErrorIs(e, ErrNotFound)
	assert.Contains(e.Error(), "navigate")

	wrapped := fmt.Errorf("silent signin: %w", e)
	assert.ErrorIs(wrapped, ErrTimeout)
}
