package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, Code(NotFound("approval_request", "x")))
	assert.Equal(t, ErrCodeInternal, Code(stderrors.New("plain")))

	// Code survives wrapping through fmt.Errorf.
	wrapped := fmt.Errorf("outer: %w", New(ErrCodeAlreadyDecided, "done"))
	assert.Equal(t, ErrCodeAlreadyDecided, Code(wrapped))
	assert.True(t, Is(wrapped, ErrCodeAlreadyDecided))
}

func TestInsufficientAuthorityGap(t *testing.T) {
	err := InsufficientAuthority(5000, 3000)
	assert.Equal(t, ErrCodeInsufficientAuthority, Code(err))
	assert.EqualValues(t, 5000, Detail(err, "amount"))
	assert.EqualValues(t, 3000, Detail(err, "limit"))
	assert.EqualValues(t, 2000, Detail(err, "gap"))
	assert.Nil(t, Detail(err, "missing"))
	assert.Contains(t, err.Error(), "exceeds approval limit")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeDispatchFailed, "downstream action failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeNotFound:              http.StatusNotFound,
		ErrCodeInvalidInput:          http.StatusBadRequest,
		ErrCodeInvalidWindow:         http.StatusBadRequest,
		ErrCodeNotOwner:              http.StatusForbidden,
		ErrCodeInsufficientAuthority: http.StatusForbidden,
		ErrCodeDelegateNotEligible:   http.StatusForbidden,
		ErrCodeAlreadyDecided:        http.StatusConflict,
		ErrCodeStaleState:            http.StatusConflict,
		ErrCodeConflict:              http.StatusConflict,
		ErrCodeLockTimeout:           http.StatusServiceUnavailable,
		ErrCodeDispatchFailed:        http.StatusBadGateway,
		ErrCodeInternal:              http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(New(code, "x")), string(code))
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("plain")))
}
