// Package mp3 implements the MP3 decoder plugin using
// hajimehoshi/go-mp3, which always produces signed 16-bit stereo.
//
// ID3 tag reading lives in the tag layer of the outer shell, not here;
// ReadComments returns an empty list.
package mp3

import (
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

// go-mp3 output is interleaved s16le stereo: 4 bytes per frame.
const outFrameSize = 4

type decoder struct {
	src *input.Source
	d   *gomp3.Decoder

	sf       sample.Format
	fileSize int64
}

func newDecoder(src *input.Source) input.Decoder {
	return &decoder{src: src}
}

func (d *decoder) Open() error {
	if d.src.Seekable() {
		size, err := d.src.Seek(0, io.SeekEnd)
		if err == nil {
			d.fileSize = size
		}
		if _, err := d.src.Seek(0, io.SeekStart); err != nil {
			return errors.New(err).Category(errors.CategoryErrno).Build()
		}
	}
	dec, err := gomp3.NewDecoder(d.src)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileFormat).
			Context("filename", d.src.Filename).
			Build()
	}
	d.d = dec
	d.sf = sample.New(dec.SampleRate(), 2, 16, true, false)
	return nil
}

func (d *decoder) Close() error {
	d.d = nil
	return nil
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.d.Read(p)
	if n > 0 {
		return n, nil
	}
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

func (d *decoder) Seek(offset float64) error {
	if !d.src.Seekable() {
		return errors.FunctionNotSupported("seek")
	}
	off := int64(offset*float64(d.sf.SecondSize()) + 0.5)
	off -= off % outFrameSize
	if _, err := d.d.Seek(off, io.SeekStart); err != nil {
		return errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "seek").
			Build()
	}
	return nil
}

func (d *decoder) ReadComments() (track.Comments, error) {
	return track.Comments{}, nil
}

func (d *decoder) Duration() (float64, error) {
	length := d.d.Length()
	if length <= 0 {
		return 0, errors.FunctionNotSupported("duration")
	}
	return float64(length) / float64(d.sf.SecondSize()), nil
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

func (d *decoder) Codec() (string, error) { return "mp3", nil }

func (d *decoder) CodecProfile() (string, error) {
	return "", errors.FunctionNotSupported("codec_profile")
}

func (d *decoder) Format() sample.Format { return d.sf }

func (d *decoder) ChannelMap() sample.ChannelMap {
	return sample.DefaultWaveExMap(2)
}

func init() {
	input.Register(&input.Plugin{
		Name:       "mp3",
		Priority:   50,
		Extensions: []string{"mp3"},
		MimeTypes:  []string{"audio/mpeg", "audio/mp3"},
		ABIVersion: input.ABIVersion,
		New:        newDecoder,
	})
}
