package input

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

// Instance binds a selected plugin to an open source and adds the
// engine-side behavior every decoder gets for free: EOF latching, the
// narrow-to-s16 conversion feeding the ring buffer, metadata change
// observation and per-instance stats.
//
// An Instance is owned by one goroutine at a time (the producer while
// playing, the state machine during lifecycle commands).
type Instance struct {
	id     string
	plugin *Plugin
	src    *Source
	dec    Decoder
	log    *slog.Logger

	open bool
	eof  bool

	nativeSF sample.Format
	bufferSF sample.Format
	cm       sample.ChannelMap

	scratch []byte

	// Producer-owned stats; no locking by design.
	bytesProduced int64
}

// NewInstance selects a plugin for filename and prepares an unopened
// instance. A filename with a URI scheme marks the source remote and
// leaves the transport to the selected plugin; an externally opened
// stream enters through NewInstanceFromSource.
func NewInstance(filename string) (*Instance, error) {
	p, err := findPlugin(filename)
	if err != nil {
		return nil, err
	}
	return &Instance{
		id:     uuid.NewString(),
		plugin: p,
		src:    &Source{Filename: filename, Remote: uriScheme(filename) != ""},
		log:    logger().With("plugin", p.Name),
	}, nil
}

// NewInstanceFromSource wraps an externally constructed source (for
// remote streams the outer shell connected). The plugin is selected by
// the source's URL.
func NewInstanceFromSource(src *Source) (*Instance, error) {
	p, err := findPlugin(src.Filename)
	if err != nil {
		return nil, err
	}
	return &Instance{
		id:     uuid.NewString(),
		plugin: p,
		src:    src,
		log:    logger().With("plugin", p.Name),
	}, nil
}

// PluginName returns the name of the selected plugin.
func (in *Instance) PluginName() string { return in.plugin.Name }

// Filename returns the source filename or URL.
func (in *Instance) Filename() string { return in.src.Filename }

// Remote reports whether the source is a remote stream.
func (in *Instance) Remote() bool { return in.src.Remote }

// IsOpen reports whether the decoder is currently open.
func (in *Instance) IsOpen() bool { return in.open }

// Open opens the source (reopening the file when a previous Close
// released it) and the decoder, and derives the ring buffer format.
func (in *Instance) Open() error {
	if in.open {
		return errors.Newf("decoder already open: %s", in.src.Filename).
			Category(errors.CategoryInternal).
			Build()
	}
	if in.src.r == nil && !in.src.Remote {
		reopened, err := OpenSource(in.src.Filename)
		if err != nil {
			return err
		}
		in.src = reopened
	}
	in.dec = in.plugin.New(in.src)
	if err := in.dec.Open(); err != nil {
		_ = in.src.Close()
		in.src = &Source{Filename: in.src.Filename, Remote: in.src.Remote, MetaInt: in.src.MetaInt}
		return err
	}
	in.nativeSF = in.dec.Format()
	in.bufferSF = narrowFormat(in.nativeSF)
	in.cm = in.dec.ChannelMap()
	if !in.cm.Valid(in.bufferSF.Channels()) {
		in.cm = sample.DefaultWaveExMap(in.bufferSF.Channels())
	}
	in.open = true
	in.eof = false
	in.scratch = nil
	in.log.Debug("decoder opened",
		"instance", in.id,
		"file", in.src.Filename,
		"native_format", in.nativeSF.String(),
		"buffer_format", in.bufferSF.String())
	return nil
}

// Close closes the decoder and releases the source. The instance stays
// loaded; Open reopens it.
func (in *Instance) Close() error {
	if !in.open {
		return nil
	}
	err := in.dec.Close()
	if cerr := in.src.Close(); err == nil {
		err = cerr
	}
	in.src = &Source{Filename: in.src.Filename, Remote: in.src.Remote, MetaInt: in.src.MetaInt}
	in.dec = nil
	in.open = false
	in.eof = false
	return err
}

// narrowFormat maps decoder output to the ring buffer format: inputs
// of at most 16 bits and 2 channels become signed 16-bit
// little-endian; anything wider passes through untouched.
func narrowFormat(sf sample.Format) sample.Format {
	if sf.Bits() <= 16 && sf.Channels() <= 2 {
		return sample.New(sf.Rate(), sf.Channels(), 16, true, false)
	}
	return sf
}

// Read produces PCM in the ring buffer format. io.EOF is latched: once
// returned, every following call returns it without touching the
// decoder. Fatal decode errors also latch EOF so the consumer can
// drain and advance.
func (in *Instance) Read(p []byte) (int, error) {
	if !in.open {
		return 0, errors.Newf("read on closed decoder").
			Category(errors.CategoryInternal).
			Build()
	}
	if in.eof {
		return 0, io.EOF
	}

	var n int
	var err error
	if in.bufferSF == in.nativeSF {
		n, err = in.dec.Read(p)
	} else {
		n, err = in.readConverted(p)
	}

	switch {
	case err == io.EOF:
		in.eof = true
		return 0, io.EOF
	case err != nil && !errors.IsRetry(err):
		in.eof = true
		return 0, err
	case err != nil:
		return 0, err
	}
	in.bytesProduced += int64(n)
	return n, nil
}

// readConverted reads native samples into a scratch buffer and widens
// or reorders them into signed 16-bit little-endian output.
func (in *Instance) readConverted(p []byte) (int, error) {
	sampleIn := in.nativeSF.SampleSize()
	// Output is always two bytes per sample here.
	want := len(p) / 2 * sampleIn
	if want == 0 {
		return 0, nil
	}
	if frame := in.nativeSF.FrameSize(); want%frame != 0 {
		want -= want % frame
	}
	if cap(in.scratch) < want {
		in.scratch = make([]byte, want)
	}
	n, err := in.dec.Read(in.scratch[:want])
	if n <= 0 || err != nil {
		return 0, err
	}
	n -= n % sampleIn
	out := convertToS16(p, in.scratch[:n], in.nativeSF)
	return out, nil
}

// EOF reports whether the decoder has reached end of stream.
func (in *Instance) EOF() bool { return in.eof }

// Seek repositions the decoder to offset seconds from the start and
// clears a latched EOF on success.
func (in *Instance) Seek(offset float64) error {
	if !in.open {
		return errors.Newf("seek on closed decoder").
			Category(errors.CategoryInternal).
			Build()
	}
	if err := in.dec.Seek(offset); err != nil {
		return err
	}
	in.eof = false
	return nil
}

// Format returns the ring buffer sample format (post narrowing).
func (in *Instance) Format() sample.Format { return in.bufferSF }

// NativeFormat returns the decoder's own sample format.
func (in *Instance) NativeFormat() sample.Format { return in.nativeSF }

// ChannelMap returns the channel layout for the buffer format.
func (in *Instance) ChannelMap() sample.ChannelMap { return in.cm }

// Metadata returns the last in-band metadata string and whether it
// changed since the previous call.
func (in *Instance) Metadata() (string, bool) {
	return in.src.Metadata()
}

// ReadComments delegates to the decoder.
func (in *Instance) ReadComments() (track.Comments, error) {
	return in.dec.ReadComments()
}

// Duration returns the track duration in seconds, or an error with
// category function-not-supported when the plugin cannot tell.
func (in *Instance) Duration() (float64, error) {
	if !in.open {
		return 0, errors.Newf("duration on closed decoder").
			Category(errors.CategoryInternal).
			Build()
	}
	return in.dec.Duration()
}

// Bitrate returns the average bitrate in bits per second.
func (in *Instance) Bitrate() (int, error) { return in.dec.Bitrate() }

// BitrateCurrent returns the instantaneous bitrate in bits per second.
func (in *Instance) BitrateCurrent() (int, error) { return in.dec.BitrateCurrent() }

// Codec returns the codec name.
func (in *Instance) Codec() (string, error) { return in.dec.Codec() }

// CodecProfile returns the codec profile, if any.
func (in *Instance) CodecProfile() (string, error) { return in.dec.CodecProfile() }

// BytesProduced returns the PCM bytes produced since Open.
func (in *Instance) BytesProduced() int64 { return in.bytesProduced }
