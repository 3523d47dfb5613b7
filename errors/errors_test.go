package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"connector timeout is transient", ErrConnectorTimeout, ErrorTransient},
		{"storage unavailable is transient", ErrStorageUnavailable, ErrorTransient},
		{"unsupported entity type is invalid", ErrUnsupportedEntityType, ErrorInvalid},
		{"auth failure is invalid", ErrConnectorAuth, ErrorInvalid},
		{"normalization failure is invalid", ErrNormalizationFailed, ErrorInvalid},
		{"retry exhaustion is fatal", ErrMaxRetriesExceeded, ErrorFatal},
		{"unknown errors default to transient", stderrors.New("something odd"), ErrorTransient},
		{"message pattern: rate limit", stderrors.New("vendor api: rate limit hit"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapClassified(t *testing.T) {
	base := stderrors.New("dial tcp: refused")

	err := WrapTransient(base, "Adapter", "handleJob", "fetch identities")
	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "Adapter.handleJob: fetch identities failed")

	err = WrapInvalid(base, "Processor", "normalize", "decode record")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestIsInvalid_BeatsTransientPatterns(t *testing.T) {
	// A wrapped invalid error whose message happens to contain "connection"
	// must still classify as invalid.
	err := WrapInvalid(stderrors.New("connection field missing"), "Processor", "normalize", "validate")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}
