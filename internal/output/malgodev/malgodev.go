// Package malgodev provides the default sink plugin: playback through
// a hardware device via malgo (miniaudio), covering the ALSA, WASAPI
// and CoreAudio backends.
package malgodev

import (
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/output"
	"github.com/canto-player/canto/internal/sample"
)

// stagingMs is how much decoded audio the sink keeps queued for the
// device callback. Small enough that drop feels immediate, large
// enough to ride out scheduling jitter.
const stagingMs = 250

type malgoSink struct {
	deviceName string

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	sf     sample.Format

	// The device callback runs on a miniaudio thread; staging is the
	// only state shared with it.
	mu       sync.Mutex
	staging  []byte
	capacity int
}

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system: %s", runtime.GOOS).
			Category(errors.CategoryNotSupported).
			Build()
	}
}

func (s *malgoSink) Init() error {
	backend, err := backendForPlatform()
	if err != nil {
		return err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryNotSupported).
			Context("operation", "init_context").
			Context("os", runtime.GOOS).
			Build()
	}
	s.ctx = ctx
	return nil
}

func (s *malgoSink) Exit() {
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}

func formatFor(sf sample.Format) (malgo.FormatType, error) {
	switch {
	case sf.Bits() == 8 && !sf.Signed():
		return malgo.FormatU8, nil
	case sf.Bits() == 16 && sf.Signed() && !sf.BigEndian():
		return malgo.FormatS16, nil
	case sf.Bits() == 24 && sf.Signed() && !sf.BigEndian():
		return malgo.FormatS24, nil
	case sf.Bits() == 32 && sf.Signed() && !sf.BigEndian():
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, errors.Newf("cannot play format: %s", sf).
			Category(errors.CategorySampleFormat).
			Build()
	}
}

func (s *malgoSink) Open(sf sample.Format, cm sample.ChannelMap) error {
	if s.ctx == nil {
		return errors.Newf("sink not initialized").
			Category(errors.CategoryNotInitialized).
			Build()
	}
	if !sf.Valid() {
		return errors.Newf("invalid sample format: %s", sf).
			Category(errors.CategorySampleFormat).
			Build()
	}
	format, err := formatFor(sf)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(sf.Channels())
	deviceConfig.SampleRate = uint32(sf.Rate())
	deviceConfig.Alsa.NoMMap = 1

	if s.deviceName != "" {
		info, err := s.findDevice()
		if err != nil {
			return err
		}
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{Data: s.onData}
	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return errors.New(err).
			Category(errors.CategorySampleFormat).
			Context("operation", "init_device").
			Context("format", sf.String()).
			Build()
	}

	s.sf = sf
	s.capacity = sf.SecondSize() * stagingMs / 1000
	if s.capacity < 16*1024 {
		s.capacity = 16 * 1024
	}
	s.capacity -= s.capacity % sf.FrameSize()

	s.mu.Lock()
	s.staging = s.staging[:0]
	s.mu.Unlock()

	if err := device.Start(); err != nil {
		device.Uninit()
		return errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "start_device").
			Build()
	}
	s.device = device
	return nil
}

func (s *malgoSink) Close() error {
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	s.mu.Lock()
	s.staging = s.staging[:0]
	s.mu.Unlock()
	return nil
}

func (s *malgoSink) Drop() error {
	s.mu.Lock()
	s.staging = s.staging[:0]
	s.mu.Unlock()
	return nil
}

// onData feeds the device from staging, padding underruns with
// silence.
func (s *malgoSink) onData(pOutput, pInput []byte, framecount uint32) {
	s.mu.Lock()
	n := copy(pOutput, s.staging)
	s.staging = s.staging[:copy(s.staging, s.staging[n:])]
	s.mu.Unlock()
	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
}

func (s *malgoSink) Write(p []byte) (int, error) {
	if s.device == nil {
		return 0, errors.Newf("sink not open").
			Category(errors.CategoryNotOpen).
			Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.capacity - len(s.staging)
	if n > len(p) {
		n = len(p)
	}
	n -= n % s.sf.FrameSize()
	s.staging = append(s.staging, p[:n]...)
	return n, nil
}

func (s *malgoSink) BufferSpace() (int, error) {
	if s.device == nil {
		return 0, errors.Newf("sink not open").
			Category(errors.CategoryNotOpen).
			Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	space := s.capacity - len(s.staging)
	space -= space % s.sf.FrameSize()
	return space, nil
}

func (s *malgoSink) Pause() error {
	if s.device == nil {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "pause_device").
			Build()
	}
	return nil
}

func (s *malgoSink) Unpause() error {
	if s.device == nil {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "unpause_device").
			Build()
	}
	return nil
}

// findDevice resolves the device option against the playback devices,
// by exact name first, then substring.
func (s *malgoSink) findDevice() (*malgo.DeviceInfo, error) {
	devices, err := s.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryErrno).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range devices {
		if devices[i].Name() == s.deviceName {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if strings.Contains(devices[i].Name(), s.deviceName) {
			return &devices[i], nil
		}
	}
	return nil, errors.Newf("no matching playback device: %s", s.deviceName).
		Category(errors.CategoryNotOption).
		Context("available_devices", len(devices)).
		Build()
}

func init() {
	sink := &malgoSink{}
	output.Register(&output.Plugin{
		Name:       "malgo",
		Priority:   50,
		ABIVersion: output.ABIVersion,
		PCM:        sink,
		PCMOptions: []output.Option{
			{
				Name: "device",
				Set: func(val string) error {
					sink.deviceName = val
					return nil
				},
				Get: func() (string, error) {
					return sink.deviceName, nil
				},
			},
		},
		// miniaudio exposes no master volume control; the engine's
		// software volume takes over.
	})
}
