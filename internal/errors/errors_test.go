package errors

import (
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBasics(t *testing.T) {
	err := Newf("decode failed: %s", "bad frame").
		Component("input").
		Category(CategoryFileFormat).
		Context("filename", "x.flac").
		Build()

	require.Error(t, err)
	assert.Equal(t, "decode failed: bad frame", err.Error())
	assert.Equal(t, "input", err.GetComponent())
	assert.Equal(t, string(CategoryFileFormat), err.GetCategory())
	assert.Equal(t, "x.flac", err.GetContext()["filename"])
}

func TestNewNilErrorStillBuilds(t *testing.T) {
	err := New(nil).Category(CategoryInternal).Build()
	require.Error(t, err)
	assert.Equal(t, string(CategoryInternal), err.GetCategory())
}

func TestDefaultCategoryIsGeneric(t *testing.T) {
	err := New(NewStd("boom")).Build()
	assert.Equal(t, string(CategoryGeneric), err.GetCategory())
}

func TestIsCategoryThroughWrapping(t *testing.T) {
	inner := Newf("no seek table").Category(CategoryFunctionNotSupported).Build()
	wrapped := fmt.Errorf("seeking: %w", inner)

	assert.True(t, IsFunctionNotSupported(wrapped))
	assert.False(t, IsRetry(wrapped))
	assert.False(t, IsFunctionNotSupported(io.EOF))
}

func TestFunctionNotSupportedHelper(t *testing.T) {
	err := FunctionNotSupported("seek")
	assert.True(t, IsFunctionNotSupported(err))
	assert.Contains(t, err.Error(), "seek")
}

func TestUnwrap(t *testing.T) {
	base := NewStd("base")
	err := New(base).Build()
	assert.True(t, Is(err, base))
	assert.Equal(t, base, Unwrap(err))
}

func TestMessageFormatsContextAndErrno(t *testing.T) {
	err := New(syscall.ENOENT).Category(CategoryErrno).Build()
	msg := Message(err, "opening file `x.wav'")

	assert.Contains(t, msg, "opening file `x.wav'")
	assert.Contains(t, msg, syscall.ENOENT.Error())

	assert.Equal(t, "just context", Message(nil, "just context"))
	assert.Equal(t, "boom", Message(NewStd("boom"), ""))
}
