package lherr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapid7/lighthouse/internal/lherr"
)

func TestIsMatchesByKind(t *testing.T) {
	err := lherr.New(lherr.NotFound, "path a/b not found")
	assert.True(t, errors.Is(err, lherr.ErrNotFound))
	assert.False(t, errors.Is(err, lherr.ErrConflict))
}

func TestKindOf(t *testing.T) {
	err := lherr.New(lherr.Conflict, "stale base")
	kind, ok := lherr.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, lherr.Conflict, kind)

	_, ok = lherr.KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrapPreservesInner(t *testing.T) {
	inner := errors.New("disk full")
	err := lherr.Wrap(lherr.Unavailable, inner)
	assert.Equal(t, inner, errors.Unwrap(err))
	assert.Equal(t, "disk full", err.Error())
}
