package runtimeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesBySentinel(t *testing.T) {
	err := New(Cgroup, "cgroup.ApplyLimits", errors.New("permission denied"))

	assert.True(t, errors.Is(err, Sentinel(Cgroup)))
	assert.False(t, errors.Is(err, Sentinel(Namespace)))
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := New(NotFound, "record.Load", errors.New("no such file"))
	wrapped := errors.New("higher level: " + base.Error())

	assert.Equal(t, NotFound, KindOf(base))
	assert.Equal(t, Unknown, KindOf(wrapped))

	rewrapped := fmtErrorfW(base)
	assert.Equal(t, NotFound, KindOf(rewrapped))
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New(Invalid, "lifecycle.Start", errors.New("not created"))
	require.Contains(t, err.Error(), "lifecycle.Start")
	require.Contains(t, err.Error(), "invalid")
	require.Contains(t, err.Error(), "not created")
}

func fmtErrorfW(err error) error {
	return &wrapper{err: err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
