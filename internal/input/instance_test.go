package input

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canto-player/canto/internal/sample"
)

// The u8 fake plugin produces a short unsigned 8-bit ramp so the
// instance's narrowing path is exercised end to end.
func init() {
	Register(&Plugin{
		Name:       "fakeu8",
		Priority:   50,
		Extensions: []string{"fakeu8"},
		Schemes:    []string{"fakeu8"},
		ABIVersion: ABIVersion,
		New: func(src *Source) Decoder {
			return &fakeDecoder{
				src:  src,
				sf:   sample.New(8000, 1, 8, false, false),
				data: []byte{0x80, 0x00, 0xFF, 0x80},
			}
		},
	})
}

func TestInstanceNarrowsToS16(t *testing.T) {
	in, err := NewInstance("fakeu8://x")
	require.NoError(t, err)
	require.NoError(t, in.Open())

	assert.Equal(t, sample.New(8000, 1, 8, false, false), in.NativeFormat())
	assert.Equal(t, sample.New(8000, 1, 16, true, false), in.Format())

	buf := make([]byte, 64)
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n, "four u8 samples widen to eight bytes")
	assert.Equal(t, int16(0), s16(buf, 0))
	assert.Equal(t, int16(-32768), s16(buf, 1))
	assert.Equal(t, int16(32512), s16(buf, 2))
	assert.Equal(t, int16(0), s16(buf, 3))

	// EOF latches.
	n, err = in.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
	assert.True(t, in.EOF())

	n, err = in.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, in.Close())
}

func TestInstanceSeekClearsEOF(t *testing.T) {
	in, err := NewInstance("fakeu8://x")
	require.NoError(t, err)
	require.NoError(t, in.Open())

	buf := make([]byte, 64)
	_, _ = in.Read(buf)
	_, err = in.Read(buf)
	require.Equal(t, io.EOF, err)

	require.NoError(t, in.Seek(0))
	assert.False(t, in.EOF())

	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestInstancePassesWideFormatsThrough(t *testing.T) {
	Register(&Plugin{
		Name:       "fake24",
		Priority:   50,
		Schemes:    []string{"fake24"},
		ABIVersion: ABIVersion,
		New: func(src *Source) Decoder {
			return &fakeDecoder{
				src:  src,
				sf:   sample.New(96000, 2, 24, true, false),
				data: make([]byte, 24),
			}
		},
	})

	in, err := NewInstance("fake24://x")
	require.NoError(t, err)
	require.NoError(t, in.Open())

	assert.Equal(t, in.NativeFormat(), in.Format(), "24-bit input is not narrowed")
}
