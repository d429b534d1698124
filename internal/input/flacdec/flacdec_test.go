package flacdec

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/sample"
)

// The fixture is a minimal but fully valid FLAC stream: STREAMINFO, a
// VORBIS_COMMENT block, and one fixed-blocksize frame holding a single
// CONSTANT subframe, with real header CRC-8, frame CRC-16 and audio
// MD5 so the parser's integrity checks pass.
const (
	fixRate      = 44100
	fixBlockSize = 192
)

var fixSample uint16 = 0x1234

func crc8ATM(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func crc16Buypass(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func buildFlac(t *testing.T, dir string, comments map[string]string) string {
	t.Helper()

	var out bytes.Buffer
	out.WriteString("fLaC")

	// STREAMINFO, 34 bytes.
	var info bytes.Buffer
	_ = binary.Write(&info, binary.BigEndian, uint16(fixBlockSize)) // min block size
	_ = binary.Write(&info, binary.BigEndian, uint16(fixBlockSize)) // max block size
	info.Write([]byte{0, 0, 0})                                     // min frame size unknown
	info.Write([]byte{0, 0, 0})                                     // max frame size unknown
	// 20 bits rate | 3 bits channels-1 | 5 bits bps-1 | 36 bits samples
	packed := uint64(fixRate)<<44 | uint64(0)<<41 | uint64(15)<<36 | uint64(fixBlockSize)
	_ = binary.Write(&info, binary.BigEndian, packed)
	// MD5 of the unencoded little-endian samples.
	var audio bytes.Buffer
	for i := 0; i < fixBlockSize; i++ {
		audio.WriteByte(byte(fixSample))
		audio.WriteByte(byte(fixSample >> 8))
	}
	sum := md5.Sum(audio.Bytes())
	info.Write(sum[:])

	out.WriteByte(0x00) // not last, type STREAMINFO
	out.Write([]byte{0, 0, 34})
	out.Write(info.Bytes())

	// VORBIS_COMMENT, last metadata block.
	var vc bytes.Buffer
	vendor := "canto test"
	_ = binary.Write(&vc, binary.LittleEndian, uint32(len(vendor)))
	vc.WriteString(vendor)
	_ = binary.Write(&vc, binary.LittleEndian, uint32(len(comments)))
	for k, v := range comments {
		line := k + "=" + v
		_ = binary.Write(&vc, binary.LittleEndian, uint32(len(line)))
		vc.WriteString(line)
	}
	out.WriteByte(0x84) // last, type VORBIS_COMMENT
	out.Write([]byte{byte(vc.Len() >> 16), byte(vc.Len() >> 8), byte(vc.Len())})
	out.Write(vc.Bytes())

	// One audio frame: fixed blocking, block size code 0001 (192),
	// rate code 1001 (44100), mono, 16 bps, frame number 0.
	frame := []byte{0xFF, 0xF8, 0x19, 0x08, 0x00}
	frame = append(frame, crc8ATM(frame))
	// CONSTANT subframe, 16-bit big-endian value.
	frame = append(frame, 0x00, byte(fixSample>>8), byte(fixSample))
	crc := crc16Buypass(frame)
	frame = append(frame, byte(crc>>8), byte(crc))
	out.Write(frame)

	path := filepath.Join(dir, "test.flac")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestFlacOpenReportsFormat(t *testing.T) {
	path := buildFlac(t, t.TempDir(), nil)

	in, err := input.NewInstance(path)
	require.NoError(t, err)
	require.NoError(t, in.Open())
	defer func() { _ = in.Close() }()

	assert.Equal(t, "flac", in.PluginName())
	assert.Equal(t, sample.New(fixRate, 1, 16, true, false), in.Format())

	d, err := in.Duration()
	require.NoError(t, err)
	assert.InDelta(t, float64(fixBlockSize)/fixRate, d, 1e-6)
}

func TestFlacDecodesAndInterleaves(t *testing.T) {
	path := buildFlac(t, t.TempDir(), nil)

	in, err := input.NewInstance(path)
	require.NoError(t, err)
	require.NoError(t, in.Open())
	defer func() { _ = in.Close() }()

	var pcm []byte
	buf := make([]byte, 100) // odd size to cross the frame buffer
	for {
		n, err := in.Read(buf)
		pcm = append(pcm, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	require.Len(t, pcm, fixBlockSize*2, "192 mono 16-bit samples")
	for i := 0; i < len(pcm); i += 2 {
		require.Equal(t, byte(fixSample), pcm[i], "low byte at %d", i)
		require.Equal(t, byte(fixSample>>8), pcm[i+1], "high byte at %d", i)
	}
}

func TestFlacComments(t *testing.T) {
	path := buildFlac(t, t.TempDir(), map[string]string{
		"TITLE":                 "Fixture",
		"ARTIST":                "Nobody",
		"REPLAYGAIN_TRACK_GAIN": "-6.00 dB",
	})

	in, err := input.NewInstance(path)
	require.NoError(t, err)
	require.NoError(t, in.Open())
	defer func() { _ = in.Close() }()

	c, err := in.ReadComments()
	require.NoError(t, err)
	assert.Equal(t, "Fixture", c.Get("title"))
	assert.Equal(t, "Nobody", c.Get("artist"))
	assert.Equal(t, "-6.00 dB", c.Get("replaygain_track_gain"))
}

func TestFlacProbeMagic(t *testing.T) {
	var plugin *input.Plugin
	for _, p := range input.Plugins() {
		if p.Name == "flac" {
			plugin = p
		}
	}
	require.NotNil(t, plugin)

	assert.True(t, plugin.Probe([]byte("fLaC\x00\x00\x00\x22")))
	assert.False(t, plugin.Probe([]byte("OggS")))
}
