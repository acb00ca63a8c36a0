package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Store", "Get", "fetch key")

	require.Error(t, err)
	assert.Equal(t, "Store.Get: fetch key failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Store", "Get", "fetch key"))
	assert.NoError(t, WrapRemote(nil, "a", "b", "c"))
	assert.NoError(t, WrapInternal(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
}

func TestClassification(t *testing.T) {
	base := stderrors.New("boom")

	remote := WrapRemote(base, "Dispatcher", "Dispatch", "handle SUB")
	internal := WrapInternal(base, "Pipeline", "Apply", "decode document")
	invalid := WrapInvalid(base, "Config", "Validate", "check port")

	assert.True(t, IsRemote(remote))
	assert.False(t, IsRemote(internal))
	assert.True(t, IsInternal(internal))
	assert.False(t, IsInternal(remote))
	assert.True(t, IsInvalid(invalid))
	assert.False(t, IsInvalid(remote))

	assert.Equal(t, ErrorRemote, Classify(remote))
	assert.Equal(t, ErrorInternal, Classify(internal))
	assert.Equal(t, ErrorInvalid, Classify(invalid))
}

func TestClassification_SurvivesWrapping(t *testing.T) {
	inner := WrapRemote(stderrors.New("boom"), "a", "b", "c")
	outer := fmt.Errorf("outer: %w", inner)

	assert.True(t, IsRemote(outer))
	assert.Equal(t, ErrorRemote, Classify(outer))
}

func TestClassify_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, ErrorInternal, Classify(stderrors.New("plain")))
	assert.Equal(t, ErrorInternal, Classify(context.Canceled))
}

func TestIsInvalid_SentinelErrors(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidConfig))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrMissingConfig)))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "remote", ErrorRemote.String())
	assert.Equal(t, "internal", ErrorInternal.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}
