package output

import (
	"fmt"
	"log/slog"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/sample"
)

// SoftVolMax is the software volume range (0..100 per channel).
const SoftVolMax = 100

// Controller keeps at most one sink open and owns the volume routing.
// It has no internal locking: the consumer goroutine and the command
// path both access it under the consumer lock.
type Controller struct {
	log *slog.Logger

	usable  map[string]bool // set by InitAll, sinks whose Init succeeded
	inited  bool
	current *Plugin

	sinkOpen      bool
	sf            sample.Format
	cm            sample.ChannelMap
	emulatedPause bool // sink closed to fake a pause; reopen on unpause

	mixerOpen bool
	volumeMax int

	softVol            bool
	softVolL, softVolR int
}

// NewController creates a controller over the registered plugins.
func NewController() *Controller {
	return &Controller{
		log:      logger(),
		usable:   make(map[string]bool),
		softVolL: SoftVolMax,
		softVolR: SoftVolMax,
	}
}

// InitAll initializes every registered sink once. Sinks whose Init
// fails, with any error, are left out of selection.
func (c *Controller) InitAll() {
	if c.inited {
		return
	}
	c.inited = true
	for _, p := range Plugins() {
		if err := p.PCM.Init(); err != nil {
			c.log.Warn("sink plugin failed to initialize",
				"plugin", p.Name, "error", err)
			continue
		}
		c.usable[p.Name] = true
	}
}

// ExitAll closes the open sink and shuts down every usable plugin.
func (c *Controller) ExitAll() {
	_ = c.Close()
	c.closeMixer()
	for _, p := range Plugins() {
		if c.usable[p.Name] {
			p.PCM.Exit()
			c.usable[p.Name] = false
		}
	}
	c.current = nil
}

// Select makes the named plugin current. The open sink, if any, must
// already be closed by the caller.
func (c *Controller) Select(name string) error {
	for _, p := range Plugins() {
		if p.Name != name {
			continue
		}
		if !c.usable[name] {
			return errors.Newf("sink plugin not initialized: %s", name).
				Category(errors.CategoryNotInitialized).
				Build()
		}
		c.setCurrent(p)
		return nil
	}
	return errors.Newf("no such sink plugin: %s", name).
		Category(errors.CategoryNoPlugin).
		Build()
}

// SelectAny makes the highest-priority usable plugin current.
func (c *Controller) SelectAny() error {
	for _, p := range Plugins() {
		if c.usable[p.Name] {
			c.setCurrent(p)
			return nil
		}
	}
	return errors.Newf("no usable sink plugin").
		Category(errors.CategoryNoPlugin).
		Build()
}

func (c *Controller) setCurrent(p *Plugin) {
	if c.current == p {
		return
	}
	c.closeMixer()
	c.current = p
	c.log.Info("sink selected", "plugin", p.Name)
	if p.Mixer != nil {
		max, err := p.Mixer.Open()
		if err != nil {
			c.log.Warn("mixer open failed", "plugin", p.Name, "error", err)
		} else {
			c.mixerOpen = true
			c.volumeMax = max
		}
	}
}

func (c *Controller) closeMixer() {
	if c.mixerOpen {
		_ = c.current.Mixer.Close()
		c.mixerOpen = false
	}
	c.volumeMax = 0
}

// CurrentName returns the selected plugin name, or "".
func (c *Controller) CurrentName() string {
	if c.current == nil {
		return ""
	}
	return c.current.Name
}

// IsOpen reports whether a sink is open.
func (c *Controller) IsOpen() bool { return c.sinkOpen }

// Format returns the format the sink was opened with.
func (c *Controller) Format() sample.Format { return c.sf }

// Open opens the current sink (selecting one if none is selected) for
// the given format.
func (c *Controller) Open(sf sample.Format, cm sample.ChannelMap) error {
	if c.current == nil {
		if err := c.SelectAny(); err != nil {
			return err
		}
	}
	if !sf.Valid() {
		return errors.Newf("invalid sample format: %s", sf).
			Category(errors.CategorySampleFormat).
			Build()
	}
	if err := c.current.PCM.Open(sf, cm); err != nil {
		return err
	}
	c.sinkOpen = true
	c.emulatedPause = false
	c.sf = sf
	c.cm = cm
	return nil
}

// Close closes the open sink through the plugin's Close. The controller
// adds no drain step, so queued audio is not waited for here.
func (c *Controller) Close() error {
	if !c.sinkOpen {
		return nil
	}
	c.sinkOpen = false
	c.emulatedPause = false
	return c.current.PCM.Close()
}

// Drop discards everything buffered in the sink.
func (c *Controller) Drop() error {
	if !c.sinkOpen {
		return nil
	}
	return c.current.PCM.Drop()
}

// Write hands PCM to the sink, returning the bytes accepted.
func (c *Controller) Write(p []byte) (int, error) {
	if !c.sinkOpen {
		return 0, errors.Newf("sink not open").
			Category(errors.CategoryNotOpen).
			Build()
	}
	return c.current.PCM.Write(p)
}

// BufferSpace returns the writable byte count of the open sink.
func (c *Controller) BufferSpace() (int, error) {
	if !c.sinkOpen {
		return 0, errors.Newf("sink not open").
			Category(errors.CategoryNotOpen).
			Build()
	}
	return c.current.PCM.BufferSpace()
}

// Pause pauses the sink, emulating with drop+close when the plugin has
// no native pause.
func (c *Controller) Pause() error {
	if !c.sinkOpen {
		return nil
	}
	err := c.current.PCM.Pause()
	if errors.IsFunctionNotSupported(err) {
		if err := c.current.PCM.Drop(); err != nil {
			return err
		}
		if err := c.current.PCM.Close(); err != nil {
			return err
		}
		c.emulatedPause = true
		return nil
	}
	return err
}

// Unpause resumes the sink, reopening it when pause was emulated.
func (c *Controller) Unpause() error {
	if !c.sinkOpen {
		return nil
	}
	if c.emulatedPause {
		c.emulatedPause = false
		return c.current.PCM.Open(c.sf, c.cm)
	}
	err := c.current.PCM.Unpause()
	if errors.IsFunctionNotSupported(err) {
		return nil
	}
	return err
}

// SetSoftVol switches volume handling between the scaler and the
// plugin mixer.
func (c *Controller) SetSoftVol(enabled bool) {
	c.softVol = enabled
}

// SoftVol reports whether software volume is active: requested
// explicitly, or forced because the current sink has no mixer.
func (c *Controller) SoftVol() bool {
	return c.softVol || !c.mixerOpen
}

// SoftVolLR returns the software volume levels for the scaler.
func (c *Controller) SoftVolLR() (l, r int) { return c.softVolL, c.softVolR }

// VolumeMax returns the volume range of the active control.
func (c *Controller) VolumeMax() int {
	if c.SoftVol() {
		return SoftVolMax
	}
	return c.volumeMax
}

// SetVolume sets the active volume control.
func (c *Controller) SetVolume(l, r int) error {
	if c.SoftVol() {
		c.softVolL = clampVol(l, SoftVolMax)
		c.softVolR = clampVol(r, SoftVolMax)
		return nil
	}
	return c.current.Mixer.SetVolume(l, r)
}

// GetVolume reads the active volume control.
func (c *Controller) GetVolume() (l, r int, err error) {
	if c.SoftVol() {
		return c.softVolL, c.softVolR, nil
	}
	return c.current.Mixer.GetVolume()
}

func clampVol(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// optionBlockSize is the id space reserved per plugin: option ids are
// id = pluginIndex*32 + optionIndex, a plugin's PCM options first and
// its mixer options after.
const optionBlockSize = 32

// optionRef identifies one plugin option in the block-allocated id
// space the shell iterates with ForEachOption.
type optionRef struct {
	id  int
	opt *Option
	key string
}

// optionRefs enumerates every registered plugin's options with their
// block-allocated ids; ids are stable for a given plugin set.
func optionRefs() []optionRef {
	var refs []optionRef
	for pi, p := range Plugins() {
		oi := 0
		add := func(kind string, opts []Option) {
			for i := range opts {
				if oi >= optionBlockSize {
					break
				}
				refs = append(refs, optionRef{
					id:  pi*optionBlockSize + oi,
					opt: &opts[i],
					key: fmt.Sprintf("%s.%s.%s", kind, p.Name, opts[i].Name),
				})
				oi++
			}
		}
		add("dsp", p.PCMOptions)
		add("mixer", p.MixerOptions)
	}
	return refs
}

func findOption(id int) (*Option, error) {
	for _, ref := range optionRefs() {
		if ref.id == id {
			return ref.opt, nil
		}
	}
	return nil, errors.Newf("no such option id: %d", id).
		Category(errors.CategoryNotOption).
		Build()
}

// SetOption sets the option with the given id.
func (c *Controller) SetOption(id int, val string) error {
	opt, err := findOption(id)
	if err != nil {
		return err
	}
	return opt.Set(val)
}

// GetOption returns the value of the option with the given id.
func (c *Controller) GetOption(id int) (string, error) {
	opt, err := findOption(id)
	if err != nil {
		return "", err
	}
	return opt.Get()
}

// ForEachOption calls cb with every option id and its dotted key.
func (c *Controller) ForEachOption(cb func(id int, key string)) {
	for _, ref := range optionRefs() {
		cb(ref.id, ref.key)
	}
}
