package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NoCause(t *testing.T) {
	err := New(ValidationError, "bad filter")
	assert.Equal(t, "bad filter", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap_IncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(DBUnavailable, "error opening region", cause)
	assert.Equal(t, "error opening region: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestKindOf_TypedError(t *testing.T) {
	err := New(PermissionDenied, "nope")
	assert.Equal(t, PermissionDenied, KindOf(err))
}

func TestKindOf_PlainErrorFallsBackToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain error")))
}

func TestKindOf_Nil(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrors_As_Unwraps(t *testing.T) {
	cause := New(DuplicateKey, "already archived")
	wrapped := Wrap(Internal, "insert failed", cause)

	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, Internal, target.Kind)

	assert.True(t, errors.As(errors.Unwrap(wrapped), &target))
	assert.Equal(t, DuplicateKey, target.Kind)
}
