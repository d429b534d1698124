package player

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/observability"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"

	// Sink and decoder plugins used by the engine tests.
	_ "github.com/canto-player/canto/internal/input/wave"
	_ "github.com/canto-player/canto/internal/output/nullout"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// The fileinfo cache janitor lives for the whole binary.
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

/* synthetic decoder plugin */

// synthConfig describes what the synth decoder produces for one
// filename.
type synthConfig struct {
	sf         sample.Format
	totalBytes int64
	stallEvery int64 // return one retry error after this many bytes
}

var (
	synthMu      sync.Mutex
	synthConfigs = map[string]synthConfig{}
)

func setSynth(name string, cfg synthConfig) {
	synthMu.Lock()
	defer synthMu.Unlock()
	synthConfigs[name] = cfg
}

// synthDecoder produces silence on demand; no file content is read.
type synthDecoder struct {
	src *input.Source
	cfg synthConfig

	pos        int64
	sinceStall int64
}

func (d *synthDecoder) Open() error {
	synthMu.Lock()
	cfg, ok := synthConfigs[d.src.Filename]
	synthMu.Unlock()
	if !ok {
		return errors.Newf("no synth config for %s", d.src.Filename).
			Category(errors.CategoryFileFormat).
			Build()
	}
	d.cfg = cfg
	d.pos = 0
	d.sinceStall = 0
	return nil
}

func (d *synthDecoder) Close() error { return nil }

func (d *synthDecoder) Read(p []byte) (int, error) {
	if d.pos >= d.cfg.totalBytes {
		return 0, io.EOF
	}
	if d.cfg.stallEvery > 0 && d.sinceStall >= d.cfg.stallEvery {
		d.sinceStall = 0
		return 0, errors.Newf("decoder stalled").
			Category(errors.CategoryRetry).
			Build()
	}
	n := int64(len(p))
	if rem := d.cfg.totalBytes - d.pos; n > rem {
		n = rem
	}
	if d.cfg.stallEvery > 0 {
		if rem := d.cfg.stallEvery - d.sinceStall; n > rem {
			n = rem
		}
	}
	for i := int64(0); i < n; i++ {
		p[i] = 0
	}
	d.pos += n
	d.sinceStall += n
	return int(n), nil
}

func (d *synthDecoder) Seek(offset float64) error {
	off := int64(offset * float64(d.cfg.sf.SecondSize()))
	off -= off % int64(d.cfg.sf.FrameSize())
	if off > d.cfg.totalBytes {
		off = d.cfg.totalBytes
	}
	d.pos = off
	return nil
}

func (d *synthDecoder) ReadComments() (track.Comments, error) { return track.Comments{}, nil }

func (d *synthDecoder) Duration() (float64, error) {
	return float64(d.cfg.totalBytes) / float64(d.cfg.sf.SecondSize()), nil
}

func (d *synthDecoder) Bitrate() (int, error)        { return 0, errors.FunctionNotSupported("bitrate") }
func (d *synthDecoder) BitrateCurrent() (int, error) { return 0, errors.FunctionNotSupported("bitrate") }
func (d *synthDecoder) Codec() (string, error)       { return "synth", nil }
func (d *synthDecoder) CodecProfile() (string, error) {
	return "", errors.FunctionNotSupported("codec_profile")
}
func (d *synthDecoder) Format() sample.Format { return d.cfg.sf }
func (d *synthDecoder) ChannelMap() sample.ChannelMap {
	return sample.DefaultWaveExMap(d.cfg.sf.Channels())
}

func init() {
	newSynth := func(src *input.Source) input.Decoder { return &synthDecoder{src: src} }
	input.Register(&input.Plugin{
		Name:       "synth",
		Priority:   50,
		Extensions: []string{"synth"},
		ABIVersion: input.ABIVersion,
		New:        newSynth,
	})
	input.Register(&input.Plugin{
		Name:       "synthremote",
		Priority:   50,
		Schemes:    []string{"synthr"},
		ABIVersion: input.ABIVersion,
		New:        newSynth,
	})
}

/* helpers */

// writeWav writes a canonical PCM WAV of silence.
func writeWav(t *testing.T, dir, name string, seconds float64, rate, channels int) string {
	t.Helper()
	frameSize := 2 * channels
	dataLen := int(seconds*float64(rate)) * frameSize

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataLen))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(rate*frameSize))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(frameSize))
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataLen))

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.Write(hdr[:])
	require.NoError(t, err)
	_, err = f.Write(make([]byte, dataLen))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

// newTestPlayer builds a started player fed from a fixed file list,
// using the null sink.
func newTestPlayer(t *testing.T, metrics *observability.Metrics, files ...string) (*Player, *atomic.Int32) {
	t.Helper()
	var next atomic.Int32
	getNext := func() (*track.Info, bool) {
		i := int(next.Add(1)) - 1
		if i >= len(files) {
			return nil, false
		}
		return track.NewInfo(files[i]), true
	}
	p := New(Callbacks{GetNext: getNext}, Options{
		BufferChunks: 3,
		OutputName:   "null",
		RGPreamp:     6.0,
		RGLimit:      true,
		Metrics:      metrics,
	})
	p.Start()
	t.Cleanup(p.Shutdown)
	return p, &next
}

/* scenarios */

func TestPlaySilentWavToCompletion(t *testing.T) {
	metrics := observability.NewMetrics()
	path := writeWav(t, t.TempDir(), "silence.wav", 1.0, 44100, 1)
	p, _ := newTestPlayer(t, metrics, path)

	p.Play()

	require.Eventually(t, func() bool {
		return p.Info().Status == StatusStopped
	}, 5*time.Second, 10*time.Millisecond)

	final := p.Info()
	assert.Equal(t, StatusStopped, final.Status)
	require.NotNil(t, final.Track, "the finished track stays published")
	assert.Equal(t, path, final.Track.Filename)
	assert.Empty(t, final.ErrorMsg)
	assert.Equal(t, 1, final.Position, "position persists at the track end")
	// One second of mono 44.1 kHz s16: every byte reaches the sink.
	assert.Equal(t, float64(88200), testutil.ToFloat64(metrics.WrittenBytes))
}

func TestPauseToggle(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "long.synth")
	require.NoError(t, os.WriteFile(name, nil, 0o644))
	setSynth(name, synthConfig{
		sf:         sample.New(44100, 2, 16, true, false),
		totalBytes: int64(30 * 176400),
	})

	p, _ := newTestPlayer(t, nil, name)
	p.Play()
	require.Eventually(t, func() bool {
		return p.Info().Status == StatusPlaying
	}, 2*time.Second, 10*time.Millisecond)

	p.Pause()
	assert.Equal(t, StatusPaused, p.Info().Status)

	p.Pause()
	assert.Equal(t, StatusPlaying, p.Info().Status)

	p.Stop()
	assert.Equal(t, StatusStopped, p.Info().Status)
	p.Stop()
	assert.Equal(t, StatusStopped, p.Info().Status)
}

func TestSeekRelativeForward(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "seek.synth")
	require.NoError(t, os.WriteFile(name, nil, 0o644))
	sf := sample.New(8000, 1, 16, true, false)
	setSynth(name, synthConfig{sf: sf, totalBytes: int64(60 * sf.SecondSize())})

	p, _ := newTestPlayer(t, nil, name)
	p.Play()
	require.Eventually(t, func() bool {
		return p.Info().Status == StatusPlaying
	}, 2*time.Second, 10*time.Millisecond)

	before := p.Info().Position
	p.Seek(30, true)

	after := p.Info().Position
	assert.GreaterOrEqual(t, after, before+29)
	assert.LessOrEqual(t, after, before+31)

	// The scale cursor re-anchors on the new position so nothing is
	// scaled twice or skipped.
	p.consumerMu.Lock()
	assert.Equal(t, p.consumerPos, p.scalePos)
	p.consumerMu.Unlock()

	p.Stop()
}

func TestSeekIgnoredWhenStopped(t *testing.T) {
	p, _ := newTestPlayer(t, nil)
	// Stopped: seek is a no-op.
	p.Seek(10, true)
	assert.Equal(t, StatusStopped, p.Info().Status)
}

func TestBufferChunksClamped(t *testing.T) {
	p, _ := newTestPlayer(t, nil)

	p.SetBufferChunks(50)
	assert.Equal(t, 30, p.GetBufferChunks())

	p.SetBufferChunks(1)
	assert.Equal(t, 3, p.GetBufferChunks())

	p.SetBufferChunks(10)
	assert.Equal(t, 10, p.GetBufferChunks())
}

func TestVolumeRoundTrip(t *testing.T) {
	p, _ := newTestPlayer(t, nil)

	require.NoError(t, p.SetVolume(40, 50))
	l, r, err := p.GetVolume()
	require.NoError(t, err)
	assert.Equal(t, 40, l)
	assert.Equal(t, 50, r)
}

func TestSetOpKeepsPlaying(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "switch.synth")
	require.NoError(t, os.WriteFile(name, nil, 0o644))
	setSynth(name, synthConfig{
		sf:         sample.New(44100, 2, 16, true, false),
		totalBytes: int64(30 * 176400),
	})

	p, _ := newTestPlayer(t, nil, name)
	p.Play()
	require.Eventually(t, func() bool {
		return p.Info().Status == StatusPlaying
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.SetOp("null"))
	assert.Equal(t, "null", p.GetOp())

	// Switching sinks mid-track must not surface a stop.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusPlaying, p.Info().Status)

	p.Stop()
}

func TestUnderrunRecovery(t *testing.T) {
	metrics := observability.NewMetrics()
	dir := t.TempDir()
	name := filepath.Join(dir, "stall.synth")
	require.NoError(t, os.WriteFile(name, nil, 0o644))
	sf := sample.New(44100, 2, 16, true, false)
	total := int64(sf.SecondSize()) // one second
	setSynth(name, synthConfig{sf: sf, totalBytes: total, stallEvery: 5000})

	p, _ := newTestPlayer(t, metrics, name)
	p.Play()

	sawPlaying := false
	deadline := time.Now().Add(10 * time.Second)
	var final InfoSnapshot
	for time.Now().Before(deadline) {
		final = p.Info()
		if final.Status == StatusPlaying {
			sawPlaying = true
		}
		// The stalling decoder must never surface an error or a
		// mid-track stop.
		assert.Empty(t, final.ErrorMsg)
		if final.Status == StatusStopped && sawPlaying {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	assert.True(t, sawPlaying)
	assert.Equal(t, StatusStopped, final.Status)
	assert.Equal(t, float64(total), testutil.ToFloat64(metrics.WrittenBytes))
}

func TestRemoteDisconnectStopsWithoutAdvancing(t *testing.T) {
	url := "synthr://stream/1"
	sf := sample.New(44100, 2, 16, true, false)
	setSynth(url, synthConfig{sf: sf, totalBytes: int64(sf.SecondSize() / 2)})

	var nextCalls atomic.Int32
	p := New(Callbacks{GetNext: func() (*track.Info, bool) {
		nextCalls.Add(1)
		return nil, false
	}}, Options{BufferChunks: 3, OutputName: "null"})
	p.Start()
	t.Cleanup(p.Shutdown)

	p.PlayFile(track.NewInfo(url))

	require.Eventually(t, func() bool {
		info := p.Info()
		return info.Status == StatusStopped && info.ErrorMsg != ""
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, p.Info().ErrorMsg, "lost connection")
	assert.Zero(t, nextCalls.Load(), "remote EOF must not auto-advance")
}

func TestPauseRejectedOnRemoteStream(t *testing.T) {
	url := "synthr://stream/2"
	sf := sample.New(44100, 2, 16, true, false)
	setSynth(url, synthConfig{sf: sf, totalBytes: int64(5 * sf.SecondSize())})

	p := New(Callbacks{GetNext: func() (*track.Info, bool) { return nil, false }},
		Options{BufferChunks: 3, OutputName: "null"})
	p.Start()
	t.Cleanup(p.Shutdown)

	p.PlayFile(track.NewInfo(url))
	require.Eventually(t, func() bool {
		return p.Info().Status == StatusPlaying
	}, 2*time.Second, 10*time.Millisecond)

	p.Pause()
	assert.Equal(t, StatusPlaying, p.Info().Status)

	p.Stop()
}

func TestTrackAdvanceReopensOnFormatChange(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.synth")
	second := filepath.Join(dir, "b.synth")
	require.NoError(t, os.WriteFile(first, nil, 0o644))
	require.NoError(t, os.WriteFile(second, nil, 0o644))

	sfA := sample.New(44100, 2, 16, true, false)
	sfB := sample.New(22050, 1, 16, true, false)
	setSynth(first, synthConfig{sf: sfA, totalBytes: int64(sfA.SecondSize() / 4)})
	setSynth(second, synthConfig{sf: sfB, totalBytes: int64(sfB.SecondSize() / 4)})

	p, next := newTestPlayer(t, nil, first, second)
	p.Play()

	require.Eventually(t, func() bool {
		return p.Info().Status == StatusStopped
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), next.Load(), "both tracks played, then exhaustion")
	assert.Empty(t, p.Info().ErrorMsg)

	// The sink saw the second format last.
	p.consumerMu.Lock()
	assert.Equal(t, sfB, p.bufferSF)
	p.consumerMu.Unlock()
}
