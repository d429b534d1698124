package input

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// icyStream builds a shoutcast-style stream: audio interleaved with
// metadata blocks every metaint bytes.
func icyStream(metaint int, audio []byte, meta string) []byte {
	var out bytes.Buffer
	pos := 0
	wroteMeta := false
	for pos < len(audio) {
		n := metaint
		if pos+n > len(audio) {
			n = len(audio) - pos
		}
		out.Write(audio[pos : pos+n])
		pos += n
		if n == metaint {
			if !wroteMeta && meta != "" {
				blocks := (len(meta) + 15) / 16
				out.WriteByte(byte(blocks))
				padded := make([]byte, blocks*16)
				copy(padded, meta)
				out.Write(padded)
				wroteMeta = true
			} else {
				out.WriteByte(0)
			}
		}
	}
	return out.Bytes()
}

func TestSourceSplicesICYMetadata(t *testing.T) {
	audio := make([]byte, 64)
	for i := range audio {
		audio[i] = byte(i)
	}
	stream := icyStream(16, audio, "StreamTitle='Test Artist - Test Title';")

	src := NewRemoteSource("http://example/stream", bytes.NewReader(stream), 16)

	var got []byte
	buf := make([]byte, 7) // odd size to cross block boundaries
	for {
		n, err := src.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, audio, got, "decoder must only see audio bytes")

	meta, changed := src.Metadata()
	assert.True(t, changed)
	assert.Equal(t, "Test Artist - Test Title", meta)

	// The changed flag reports once per distinct string.
	_, changed = src.Metadata()
	assert.False(t, changed)
}

func TestSourceWithoutMetaintPassesThrough(t *testing.T) {
	data := []byte("plain audio bytes")
	src := NewRemoteSource("http://example/stream", bytes.NewReader(data), 0)

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, changed := src.Metadata()
	assert.False(t, changed)
}

func TestSourceSeekUnsupportedOnStreams(t *testing.T) {
	src := NewRemoteSource("http://example/stream", bytes.NewBuffer(nil), 0)
	assert.False(t, src.Seekable())
	_, err := src.Seek(0, io.SeekStart)
	assert.Error(t, err)
}
