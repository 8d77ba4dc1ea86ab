package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewConfigError("endpoints.name", "duplicate endpoint name: dup")
	assert.Equal(t, "config: invalid configuration for endpoints.name: duplicate endpoint name: dup", err.Error())

	wrapped := NewEndpointError(ErrKindUpstreamRequest, "local", "fetching model list", errors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), `endpoint "local"`)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := WrapError(ErrKindUpstreamBodyRead, "reading body", inner)
	assert.ErrorIs(t, err, inner)
}

func TestErrorIsFatal(t *testing.T) {
	assert.True(t, NewError(ErrKindConfig, "x").IsFatal())
	assert.True(t, NewError(ErrKindBind, "x").IsFatal())
	assert.True(t, NewError(ErrKindShutdown, "x").IsFatal())
	assert.False(t, NewError(ErrKindTimeout, "x").IsFatal())
	assert.False(t, NewError(ErrKindModelNotFound, "x").IsFatal())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrKindTimeout, KindOf(NewError(ErrKindTimeout, "slow")))
	assert.Equal(t, ErrKindInternal, KindOf(errors.New("plain")))

	// kind survives further wrapping
	wrapped := fmt.Errorf("outer: %w", NewError(ErrKindDiscoveryParse, "bad json"))
	assert.Equal(t, ErrKindDiscoveryParse, KindOf(wrapped))
}
