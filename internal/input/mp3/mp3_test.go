package mp3

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canto-player/canto/internal/input"
)

// buildMP3 writes silent MPEG-1 Layer III frames: 128 kbit/s, 44.1 kHz,
// single channel, no CRC. All-zero side info encodes zero spectral
// data, which decodes to silence. Frame length is 144*128000/44100 =
// 417 bytes with no padding.
func buildMP3(t *testing.T, dir string, frames int) string {
	t.Helper()

	const frameLen = 417
	var out bytes.Buffer
	for i := 0; i < frames; i++ {
		frame := make([]byte, frameLen)
		frame[0] = 0xFF // sync
		frame[1] = 0xFB // MPEG-1 Layer III, no CRC
		frame[2] = 0x90 // 128 kbit/s, 44.1 kHz, no padding
		frame[3] = 0xC0 // single channel
		out.Write(frame)
	}

	path := filepath.Join(dir, "test.mp3")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestMP3OpenReportsFormat(t *testing.T) {
	path := buildMP3(t, t.TempDir(), 10)

	in, err := input.NewInstance(path)
	require.NoError(t, err)
	require.NoError(t, in.Open())
	defer func() { _ = in.Close() }()

	assert.Equal(t, "mp3", in.PluginName())
	sf := in.Format()
	assert.Equal(t, 44100, sf.Rate())
	assert.Equal(t, 2, sf.Channels(), "the decoder always emits stereo")
	assert.Equal(t, 16, sf.Bits())

	// 10 frames of 1152 samples at 44.1 kHz.
	d, err := in.Duration()
	require.NoError(t, err)
	assert.InDelta(t, 10*1152.0/44100.0, d, 0.05)
}

func TestMP3DecodesSilence(t *testing.T) {
	path := buildMP3(t, t.TempDir(), 10)

	in, err := input.NewInstance(path)
	require.NoError(t, err)
	require.NoError(t, in.Open())
	defer func() { _ = in.Close() }()

	var total int
	silent := true
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		total += n
		for i := 0; i < n; i++ {
			if buf[i] != 0 {
				silent = false
			}
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	// 10 frames of 1152 stereo s16 frames each; allow the decoder a
	// frame of slack at the stream edges.
	assert.InDelta(t, 10*1152*4, total, 1152*4)
	assert.Zero(t, total%4, "whole output frames only")
	assert.True(t, silent, "zeroed spectral data decodes to silence")
}

func TestMP3Bitrate(t *testing.T) {
	path := buildMP3(t, t.TempDir(), 10)

	in, err := input.NewInstance(path)
	require.NoError(t, err)
	require.NoError(t, in.Open())
	defer func() { _ = in.Close() }()

	br, err := in.Bitrate()
	require.NoError(t, err)
	assert.InDelta(t, 128000, br, 10000)
}
