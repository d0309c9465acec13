package apperr

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSample = New(KindConflict, "sample", "sample conflict")

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "sentinel", err: errSample, want: KindConflict},
		{name: "wrapped sentinel", err: errors.Wrap(errSample, "cancel order"), want: KindConflict},
		{name: "dependency", err: Dependency("load order", errors.New("conn refused")), want: KindDependency},
		{name: "plain", err: errors.New("boom"), want: KindUnknown},
		{name: "nil", err: nil, want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWith(t *testing.T) {
	cause := errors.New("remote said no")
	err := errors.Wrap(errSample.With(cause), "verify")

	require.ErrorIs(t, err, errSample)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "sample", CodeOf(err))
	assert.Contains(t, err.Error(), "remote said no")
}

func TestDependency_KeepsClassifiedErrors(t *testing.T) {
	err := Dependency("load", errSample)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Nil(t, Dependency("noop", nil))
}
