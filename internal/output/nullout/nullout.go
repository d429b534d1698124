// Package nullout provides a sink that consumes PCM at wall-clock
// rate against a virtual device buffer. It backs the engine tests and
// headless operation, and carries a software mixer so volume plumbing
// works without hardware.
package nullout

import (
	"strconv"
	"time"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/output"
	"github.com/canto-player/canto/internal/sample"
)

const defaultBufferMs = 200

type nullSink struct {
	bufferMs int

	open   bool
	paused bool
	sf     sample.Format

	buffered int // bytes queued in the virtual device
	capacity int
	last     time.Time
}

func (s *nullSink) Init() error {
	if s.bufferMs == 0 {
		s.bufferMs = defaultBufferMs
	}
	return nil
}

func (s *nullSink) Exit() {}

func (s *nullSink) Open(sf sample.Format, cm sample.ChannelMap) error {
	if !sf.Valid() {
		return errors.Newf("cannot play format: %s", sf).
			Category(errors.CategorySampleFormat).
			Build()
	}
	s.open = true
	s.paused = false
	s.sf = sf
	s.capacity = sf.SecondSize() * s.bufferMs / 1000
	// Low sample rates still get a device buffer a consumer can make
	// progress against.
	if s.capacity < 16*1024 {
		s.capacity = 16 * 1024
	}
	if frame := sf.FrameSize(); s.capacity%frame != 0 {
		s.capacity -= s.capacity % frame
	}
	s.buffered = 0
	s.last = time.Now()
	return nil
}

func (s *nullSink) Close() error {
	s.open = false
	s.buffered = 0
	return nil
}

func (s *nullSink) Drop() error {
	s.buffered = 0
	s.last = time.Now()
	return nil
}

// drain removes the bytes the virtual device has "played" since the
// last call.
func (s *nullSink) drain() {
	now := time.Now()
	if !s.open || s.paused {
		s.last = now
		return
	}
	elapsed := now.Sub(s.last)
	drained := int(float64(s.sf.SecondSize()) * elapsed.Seconds())
	drained -= drained % s.sf.FrameSize()
	if drained > 0 {
		s.buffered -= drained
		if s.buffered < 0 {
			s.buffered = 0
		}
		s.last = now
	}
}

func (s *nullSink) Write(p []byte) (int, error) {
	if !s.open {
		return 0, errors.Newf("sink not open").
			Category(errors.CategoryNotOpen).
			Build()
	}
	s.drain()
	n := s.capacity - s.buffered
	if n > len(p) {
		n = len(p)
	}
	n -= n % s.sf.FrameSize()
	s.buffered += n
	return n, nil
}

func (s *nullSink) BufferSpace() (int, error) {
	if !s.open {
		return 0, errors.Newf("sink not open").
			Category(errors.CategoryNotOpen).
			Build()
	}
	s.drain()
	space := s.capacity - s.buffered
	space -= space % s.sf.FrameSize()
	return space, nil
}

func (s *nullSink) Pause() error {
	s.drain()
	s.paused = true
	return nil
}

func (s *nullSink) Unpause() error {
	s.paused = false
	s.last = time.Now()
	return nil
}

// nullMixer is a software volume store with the usual 0-100 range.
type nullMixer struct {
	l, r int
}

func (m *nullMixer) Open() (int, error) {
	m.l = output.SoftVolMax
	m.r = output.SoftVolMax
	return output.SoftVolMax, nil
}

func (m *nullMixer) Close() error { return nil }

func (m *nullMixer) SetVolume(l, r int) error {
	m.l = l
	m.r = r
	return nil
}

func (m *nullMixer) GetVolume() (int, int, error) {
	return m.l, m.r, nil
}

func init() {
	sink := &nullSink{}
	output.Register(&output.Plugin{
		Name:       "null",
		Priority:   -1, // only selected explicitly or as a last resort
		ABIVersion: output.ABIVersion,
		PCM:        sink,
		PCMOptions: []output.Option{
			{
				Name: "buffer_ms",
				Set: func(val string) error {
					ms, err := strconv.Atoi(val)
					if err != nil || ms < 10 || ms > 5000 {
						return errors.Newf("invalid buffer_ms: %q", val).
							Category(errors.CategoryNotOption).
							Build()
					}
					sink.bufferMs = ms
					return nil
				},
				Get: func() (string, error) {
					ms := sink.bufferMs
					if ms == 0 {
						ms = defaultBufferMs
					}
					return strconv.Itoa(ms), nil
				},
			},
		},
		Mixer: &nullMixer{},
	})
}
