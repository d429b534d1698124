// Package flacdec implements the FLAC decoder plugin using
// mewkiz/flac. Frames are decoded one at a time and interleaved into
// little-endian PCM at the stream's bit depth.
package flacdec

import (
	"io"
	"strings"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

type decoder struct {
	src    *input.Source
	stream *flac.Stream

	sf       sample.Format
	nsamples uint64

	// Interleaved bytes of the current frame not yet handed out.
	pending []byte
	off     int
}

func newDecoder(src *input.Source) input.Decoder {
	return &decoder{src: src}
}

func (d *decoder) Open() error {
	stream, err := flac.NewSeek(d.src)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileFormat).
			Context("filename", d.src.Filename).
			Build()
	}
	info := stream.Info
	bits := int(info.BitsPerSample)
	if bits%8 != 0 || bits > 32 {
		return errors.Newf("unsupported flac bit depth %d", bits).
			Category(errors.CategoryUnsupportedFileType).
			Build()
	}
	d.stream = stream
	d.sf = sample.New(int(info.SampleRate), int(info.NChannels), bits, true, false)
	d.nsamples = info.NSamples
	d.pending = nil
	d.off = 0
	return nil
}

func (d *decoder) Close() error {
	d.stream = nil
	d.pending = nil
	return nil
}

func (d *decoder) Read(p []byte) (int, error) {
	if d.off >= len(d.pending) {
		if err := d.decodeFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.pending[d.off:])
	d.off += n
	return n, nil
}

// decodeFrame parses the next audio frame and interleaves its
// subframes into pending.
func (d *decoder) decodeFrame() error {
	frame, err := d.stream.ParseNext()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileFormat).
			Context("operation", "parse_frame").
			Build()
	}

	channels := len(frame.Subframes)
	if channels == 0 {
		return errors.Newf("flac frame without subframes").
			Category(errors.CategoryFileFormat).
			Build()
	}
	blockSize := len(frame.Subframes[0].Samples)
	ss := d.sf.SampleSize()

	need := blockSize * channels * ss
	if cap(d.pending) < need {
		d.pending = make([]byte, need)
	}
	d.pending = d.pending[:need]

	for i := 0; i < blockSize; i++ {
		for ch := 0; ch < channels; ch++ {
			v := frame.Subframes[ch].Samples[i]
			base := (i*channels + ch) * ss
			for b := 0; b < ss; b++ {
				d.pending[base+b] = byte(v >> (8 * b))
			}
		}
	}
	d.off = 0
	return nil
}

func (d *decoder) Seek(offset float64) error {
	target := uint64(offset * float64(d.sf.Rate()))
	if _, err := d.stream.Seek(target); err != nil {
		return errors.New(err).
			Category(errors.CategoryFunctionNotSupported).
			Context("operation", "seek").
			Build()
	}
	d.pending = nil
	d.off = 0
	return nil
}

func (d *decoder) ReadComments() (track.Comments, error) {
	var c track.Comments
	for _, block := range d.stream.Blocks {
		vc, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, tag := range vc.Tags {
			c = append(c, track.Comment{
				Key: strings.ToLower(tag[0]),
				Val: tag[1],
			})
		}
	}
	return c, nil
}

func (d *decoder) Duration() (float64, error) {
	if d.nsamples == 0 {
		return 0, errors.FunctionNotSupported("duration")
	}
	return float64(d.nsamples) / float64(d.sf.Rate()), nil
}

func (d *decoder) Bitrate() (int, error) {
	dur, err := d.Duration()
	if err != nil || dur <= 0 {
		return 0, errors.FunctionNotSupported("bitrate")
	}
	size, err := sourceSize(d.src)
	if err != nil {
		return 0, errors.FunctionNotSupported("bitrate")
	}
	return int(float64(size*8) / dur), nil
}

func (d *decoder) BitrateCurrent() (int, error) {
	return 0, errors.FunctionNotSupported("bitrate_current")
}

func (d *decoder) Codec() (string, error) { return "flac", nil }

func (d *decoder) CodecProfile() (string, error) {
	return "", errors.FunctionNotSupported("codec_profile")
}

func (d *decoder) Format() sample.Format { return d.sf }

func (d *decoder) ChannelMap() sample.ChannelMap {
	return sample.DefaultWaveExMap(d.sf.Channels())
}

// sourceSize reads the source length without disturbing the stream's
// parse position beyond a restore.
func sourceSize(src *input.Source) (int64, error) {
	cur, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

func init() {
	input.Register(&input.Plugin{
		Name:       "flac",
		Priority:   50,
		Extensions: []string{"flac", "fla"},
		MimeTypes:  []string{"audio/flac", "audio/x-flac"},
		ABIVersion: input.ABIVersion,
		Probe: func(hdr []byte) bool {
			return len(hdr) >= 4 && string(hdr[0:4]) == "fLaC"
		},
		New: newDecoder,
	})
}
