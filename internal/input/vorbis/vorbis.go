// Package vorbis implements the Ogg Vorbis decoder plugin using
// jfreymuth/oggvorbis, converting its float output to signed 16-bit.
package vorbis

import (
	"io"
	"strings"

	"github.com/jfreymuth/oggvorbis"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

type decoder struct {
	src *input.Source
	r   *oggvorbis.Reader

	sf       sample.Format
	comments track.Comments
	floats   []float32
	fileSize int64
}

func newDecoder(src *input.Source) input.Decoder {
	return &decoder{src: src}
}

func (d *decoder) Open() error {
	// The comment header is read before the stream reader is created:
	// the reader buffers internally, so seeking underneath it later
	// would corrupt decoding.
	if d.src.Seekable() {
		if ch, err := oggvorbis.GetCommentHeader(d.src); err == nil {
			d.comments = parseComments(ch.Comments)
		}
		size, err := d.src.Seek(0, io.SeekEnd)
		if err == nil {
			d.fileSize = size
		}
		if _, err := d.src.Seek(0, io.SeekStart); err != nil {
			return errors.New(err).Category(errors.CategoryErrno).Build()
		}
	}

	r, err := oggvorbis.NewReader(d.src)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileFormat).
			Context("filename", d.src.Filename).
			Build()
	}
	d.r = r
	d.sf = sample.New(r.SampleRate(), r.Channels(), 16, true, false)
	return nil
}

func (d *decoder) Close() error {
	d.r = nil
	d.floats = nil
	return nil
}

func (d *decoder) Read(p []byte) (int, error) {
	want := len(p) / 2
	want -= want % d.sf.Channels()
	if want == 0 {
		return 0, nil
	}
	if cap(d.floats) < want {
		d.floats = make([]float32, want)
	}
	n, err := d.r.Read(d.floats[:want])
	if n == 0 {
		if err == io.EOF {
			return 0, io.EOF
		}
		if err != nil {
			return 0, errors.New(err).
				Category(errors.CategoryFileFormat).
				Context("operation", "decode").
				Build()
		}
		return 0, nil
	}
	return floatsToS16(p, d.floats[:n]), nil
}

// floatsToS16 converts interleaved float samples to signed 16-bit
// little-endian, clamping at full scale, and returns the output byte
// count.
func floatsToS16(dst []byte, src []float32) int {
	for i, f := range src {
		v := int32(f * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i*2] = byte(v)
		dst[i*2+1] = byte(uint32(v) >> 8)
	}
	return len(src) * 2
}

func (d *decoder) Seek(offset float64) error {
	if !d.src.Seekable() {
		return errors.FunctionNotSupported("seek")
	}
	pos := int64(offset * float64(d.sf.Rate()))
	if err := d.r.SetPosition(pos); err != nil {
		return errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "seek").
			Build()
	}
	return nil
}

func (d *decoder) ReadComments() (track.Comments, error) {
	return d.comments, nil
}

func (d *decoder) Duration() (float64, error) {
	length := d.r.Length()
	if length <= 0 {
		return 0, errors.FunctionNotSupported("duration")
	}
	return float64(length) / float64(d.sf.Rate()), nil
}

func (d *decoder) Bitrate() (int, error) {
	dur, err := d.Duration()
	if err != nil || dur <= 0 || d.fileSize <= 0 {
		return 0, errors.FunctionNotSupported("bitrate")
	}
	return int(float64(d.fileSize*8) / dur), nil
}

func (d *decoder) BitrateCurrent() (int, error) {
	return d.Bitrate()
}

func (d *decoder) Codec() (string, error) { return "vorbis", nil }

func (d *decoder) CodecProfile() (string, error) {
	return "", errors.FunctionNotSupported("codec_profile")
}

func (d *decoder) Format() sample.Format { return d.sf }

func (d *decoder) ChannelMap() sample.ChannelMap {
	return sample.DefaultWaveExMap(d.sf.Channels())
}

// parseComments splits "KEY=value" vorbis comment strings.
func parseComments(raw []string) track.Comments {
	var c track.Comments
	for _, line := range raw {
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		c = append(c, track.Comment{
			Key: strings.ToLower(line[:i]),
			Val: line[i+1:],
		})
	}
	return c
}

func init() {
	input.Register(&input.Plugin{
		Name:       "vorbis",
		Priority:   50,
		Extensions: []string{"ogg", "oga"},
		MimeTypes:  []string{"audio/ogg", "application/ogg", "audio/x-ogg"},
		ABIVersion: input.ABIVersion,
		Probe: func(hdr []byte) bool {
			return len(hdr) >= 4 && string(hdr[0:4]) == "OggS"
		},
		New: newDecoder,
	})
}
