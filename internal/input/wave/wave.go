// Package wave implements the WAV decoder plugin on top of
// go-audio/wav for container parsing, with raw PCM reads against the
// source so seeking is a plain byte offset.
package wave

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

const (
	formatPCM        = 0x0001
	formatExtensible = 0xfffe
)

type decoder struct {
	src *input.Source

	sf sample.Format
	cm sample.ChannelMap

	pcmStart int64
	pcmSize  int64
	pos      int64
}

func newDecoder(src *input.Source) input.Decoder {
	return &decoder{src: src}
}

func (d *decoder) Open() error {
	if !d.src.Seekable() {
		return errors.Newf("wav source is not seekable").
			Category(errors.CategoryUnsupportedFileType).
			Build()
	}
	wd := wav.NewDecoder(d.src)
	if err := wd.FwdToPCM(); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileFormat).
			Context("filename", d.src.Filename).
			Build()
	}
	if wd.WavAudioFormat != formatPCM && wd.WavAudioFormat != formatExtensible {
		return errors.Newf("unsupported wav format tag %d", wd.WavAudioFormat).
			Category(errors.CategoryUnsupportedFileType).
			Build()
	}
	bits := int(wd.BitDepth)
	channels := int(wd.NumChans)
	switch bits {
	case 8, 16, 24, 32:
	default:
		return errors.Newf("unsupported wav bit depth %d", bits).
			Category(errors.CategorySampleFormat).
			Build()
	}
	if channels < 1 {
		return errors.Newf("wav has no channels").
			Category(errors.CategorySampleFormat).
			Build()
	}

	d.sf = sample.New(int(wd.SampleRate), channels, bits, bits > 8, false)
	d.cm = sample.DefaultWaveExMap(channels)

	start, err := d.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.New(err).Category(errors.CategoryErrno).Build()
	}
	d.pcmStart = start
	d.pcmSize = int64(wd.PCMSize)
	// Clamp to whole frames; the file might be truncated.
	d.pcmSize -= d.pcmSize % int64(d.sf.FrameSize())
	d.pos = 0
	return nil
}

func (d *decoder) Close() error {
	return nil
}

func (d *decoder) Read(p []byte) (int, error) {
	if d.pos >= d.pcmSize {
		return 0, io.EOF
	}
	if rem := d.pcmSize - d.pos; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := d.src.Read(p)
	if n > 0 {
		d.pos += int64(n)
		return n, nil
	}
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "read").
			Build()
	}
	return 0, nil
}

func (d *decoder) Seek(offset float64) error {
	off := int64(offset*float64(d.sf.SecondSize()) + 0.5)
	off -= off % int64(d.sf.FrameSize())
	if off > d.pcmSize {
		off = d.pcmSize
	}
	if _, err := d.src.Seek(d.pcmStart+off, io.SeekStart); err != nil {
		return errors.New(err).Category(errors.CategoryErrno).Build()
	}
	d.pos = off
	return nil
}

func (d *decoder) ReadComments() (track.Comments, error) {
	cur, err := d.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryErrno).Build()
	}
	defer func() { _, _ = d.src.Seek(cur, io.SeekStart) }()

	if _, err := d.src.Seek(0, io.SeekStart); err != nil {
		return nil, errors.New(err).Category(errors.CategoryErrno).Build()
	}
	wd := wav.NewDecoder(d.src)
	wd.ReadMetadata()
	if wd.Metadata == nil {
		return track.Comments{}, nil
	}

	var c track.Comments
	add := func(key, val string) {
		if val != "" {
			c = append(c, track.Comment{Key: key, Val: val})
		}
	}
	add("artist", wd.Metadata.Artist)
	add("title", wd.Metadata.Title)
	add("album", wd.Metadata.Product)
	add("genre", wd.Metadata.Genre)
	add("date", wd.Metadata.CreationDate)
	add("tracknumber", wd.Metadata.TrackNbr)
	add("comment", wd.Metadata.Comments)
	add("copyright", wd.Metadata.Copyright)
	add("software", wd.Metadata.Software)
	return c, nil
}

func (d *decoder) Duration() (float64, error) {
	return float64(d.pcmSize) / float64(d.sf.SecondSize()), nil
}

func (d *decoder) Bitrate() (int, error) {
	return d.sf.Bits() * d.sf.Rate() * d.sf.Channels(), nil
}

func (d *decoder) BitrateCurrent() (int, error) {
	return d.Bitrate()
}

func (d *decoder) Codec() (string, error) {
	sign := "u"
	if d.sf.Signed() {
		sign = "s"
	}
	order := "le"
	if d.sf.BigEndian() {
		order = "be"
	}
	return fmt.Sprintf("pcm_%s%d%s", sign, d.sf.Bits(), order), nil
}

func (d *decoder) CodecProfile() (string, error) {
	return "", errors.FunctionNotSupported("codec_profile")
}

func (d *decoder) Format() sample.Format { return d.sf }

func (d *decoder) ChannelMap() sample.ChannelMap { return d.cm }

func init() {
	input.Register(&input.Plugin{
		Name:       "wav",
		Priority:   50,
		Extensions: []string{"wav", "wave"},
		MimeTypes:  []string{"audio/wav", "audio/x-wav"},
		ABIVersion: input.ABIVersion,
		Probe: func(hdr []byte) bool {
			return len(hdr) >= 12 && string(hdr[0:4]) == "RIFF" && string(hdr[8:12]) == "WAVE"
		},
		New: newDecoder,
	})
}
