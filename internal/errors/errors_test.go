package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsType(t *testing.T) {
	err := fmt.Errorf("loading revision: %w", NoSuchRevision("rev-1"))

	assert.True(t, IsType(err, ErrorTypeNoSuchRevision))
	assert.False(t, IsType(err, ErrorTypeNotFound))
	assert.Equal(t, ErrorTypeNoSuchRevision, TypeOf(err))
	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
}

func TestErrorsIsMatchesType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", DuplicateKey("f1/r1"))
	assert.True(t, stderrors.Is(err, &Error{Type: ErrorTypeDuplicateKey}))
	assert.False(t, stderrors.Is(err, &Error{Type: ErrorTypeNotFound}))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusCode(NoSuchPath("a/b")))
	assert.Equal(t, http.StatusConflict, StatusCode(fmt.Errorf("x: %w", LockContention("lock", "pid 1"))))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(stderrors.New("boom")))
}

func TestLockContentionNamesHolder(t *testing.T) {
	err := LockContention("repo/lock", "alice@host (pid 42)")
	assert.Contains(t, err.Error(), "alice@host (pid 42)")
}
