// Package player implements the playback engine: a producer goroutine
// that decodes into a chunked ring buffer, a consumer goroutine that
// scales and writes PCM to the selected sink, and the command state
// machine that serializes the outer shell against both.
//
// Lock order is fixed: every command takes the consumer lock, then the
// producer lock. The producer goroutine only takes its own lock; the
// consumer goroutine takes the producer lock only while holding its
// own, in the same order, so a command can never deadlock against them.
package player

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/logging"
	"github.com/canto-player/canto/internal/observability"
	"github.com/canto-player/canto/internal/output"
	"github.com/canto-player/canto/internal/ringbuf"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

// Callbacks are supplied by the outer shell.
type Callbacks struct {
	// GetNext returns the next track to play. The returned Info
	// carries a reference owned by the player. Called from the
	// consumer goroutine at EOF and from play when nothing is loaded.
	GetNext func() (*track.Info, bool)
}

// Options configure a new engine.
type Options struct {
	BufferChunks int    // ring buffer size, clamped to [3,30]; 0 means 10
	OutputName   string // preferred sink plugin; "" selects by priority
	SoftVol      bool
	SoftVolL     int
	SoftVolR     int
	ReplayGain   ReplayGainMode
	RGLimit      bool
	RGPreamp     float64 // dB

	Metrics *observability.Metrics // optional
}

// Player is the engine. One instance per process; the outer shell owns
// it.
type Player struct {
	cbs     Callbacks
	log     *slog.Logger
	metrics *observability.Metrics

	// Consumer side. consumerMu guards everything below it plus the
	// output controller.
	consumerMu      sync.Mutex
	consumerRunning bool
	consumerStatus  consumerStatus
	consumerPos     int
	scalePos        int
	bufferSF        sample.Format
	bufferCM        sample.ChannelMap
	out             *output.Controller
	lastPos         int
	lastMixerCheck  time.Time
	rgScale         float64

	// Producer side.
	producerMu      sync.Mutex
	producerRunning bool
	producerStatus  producerStatus
	ip              *input.Instance

	// Shared ring buffer; it carries its own lock.
	buf *ringbuf.Buffer

	// Command-owned settings, written under both locks.
	cont     bool
	rgMode   ReplayGainMode
	rgLimit  bool
	rgPreamp float64

	info info
	wg   sync.WaitGroup
}

// New builds an engine. Start spawns the goroutines.
func New(cbs Callbacks, opts Options) *Player {
	chunks := clampChunks(opts.BufferChunks)
	log := logging.ForService("player")
	if log == nil {
		log = slog.Default()
	}

	p := &Player{
		cbs:      cbs,
		log:      log,
		metrics:  opts.Metrics,
		out:      output.NewController(),
		buf:      ringbuf.New(chunks),
		cont:     true,
		rgMode:   opts.ReplayGain,
		rgLimit:  opts.RGLimit,
		rgPreamp: opts.RGPreamp,
		rgScale:  1.0,
	}
	p.out.InitAll()
	if opts.OutputName != "" {
		if err := p.out.Select(opts.OutputName); err != nil {
			log.Warn("configured sink unavailable, falling back",
				"plugin", opts.OutputName, "error", err)
		}
	}
	if p.out.CurrentName() == "" {
		if err := p.out.SelectAny(); err != nil {
			log.Warn("no usable sink plugin", "error", err)
		}
	}
	p.out.SetSoftVol(opts.SoftVol)
	if opts.SoftVolL != 0 || opts.SoftVolR != 0 {
		_ = p.out.SetVolume(opts.SoftVolL, opts.SoftVolR)
	}

	if l, r, err := p.out.GetVolume(); err == nil {
		p.volumeUpdate(l, r)
	}

	p.info.bufferSize = chunks
	if p.metrics != nil {
		p.metrics.BufferChunks.Set(float64(chunks))
	}
	return p
}

func clampChunks(n int) int {
	if n == 0 {
		return 10
	}
	if n < 3 {
		return 3
	}
	if n > 30 {
		return 30
	}
	return n
}

// Start spawns the producer and consumer goroutines and publishes the
// initial status.
func (p *Player) Start() {
	p.consumerMu.Lock()
	p.producerMu.Lock()
	p.consumerRunning = true
	p.producerRunning = true
	p.producerMu.Unlock()
	p.consumerMu.Unlock()

	p.wg.Add(2)
	go p.producerLoop()
	go p.consumerLoop()

	p.playerLock()
	p.statusChanged()
	p.playerUnlock()
}

// Shutdown stops both goroutines, waits for them and shuts the sink
// plugins down. The producer drains to unloaded on its way out.
func (p *Player) Shutdown() {
	p.playerLock()
	p.consumerRunning = false
	p.producerRunning = false
	p.playerUnlock()

	p.wg.Wait()

	p.consumerMu.Lock()
	p.out.ExitAll()
	p.consumerMu.Unlock()
}

// LoadPlugins logs the decoder and sink registries; the plugin
// packages registered themselves at import time.
func LoadPlugins() {
	input.DumpPlugins()
	output.DumpPlugins()
}

/* locking */

func (p *Player) playerLock() {
	p.consumerMu.Lock()
	p.producerMu.Lock()
}

func (p *Player) playerUnlock() {
	p.producerMu.Unlock()
	p.consumerMu.Unlock()
}

/* updating published state */

func (p *Player) externalStatus() Status {
	switch p.consumerStatus {
	case csPaused:
		return StatusPaused
	case csPlaying:
		return StatusPlaying
	default:
		return StatusStopped
	}
}

// fileChanged publishes a new current track, taking over its
// reference, and recomputes the replay gain scale.
func (p *Player) fileChanged(ti *track.Info) {
	p.info.mu.Lock()
	if p.info.ti != nil {
		p.info.ti.Unref()
	}
	p.info.ti = ti
	p.info.metadata = ""
	p.info.pos = 0
	p.info.fileChanged = true
	p.info.mu.Unlock()

	if ti != nil {
		p.log.Info("file changed", "file", ti.Filename)
	} else {
		p.log.Info("unloaded")
	}
	p.updateRGScale()
	if p.metrics != nil {
		p.metrics.TrackChanges.Inc()
	}
}

// metadataChanged publishes new in-band stream metadata.
func (p *Player) metadataChanged(meta string) {
	if len(meta) > metadataMax {
		meta = meta[:metadataMax]
	}
	p.info.mu.Lock()
	if meta != p.info.metadata {
		p.info.metadata = meta
		p.info.metadataChanged = true
	}
	p.info.mu.Unlock()
}

func (p *Player) volumeUpdate(left, right int) {
	p.info.mu.Lock()
	if p.info.volLeft != left || p.info.volRight != right {
		p.info.volLeft = left
		p.info.volRight = right
		p.info.volChanged = true
	}
	p.info.mu.Unlock()
}

// playerError publishes an error message and the current status.
func (p *Player) playerError(msg string) {
	p.info.mu.Lock()
	p.info.status = p.externalStatus()
	p.info.bufferFill = p.buf.FilledChunks()
	p.info.bufferSize = p.buf.Chunks()
	p.info.statusChanged = true
	p.info.errorMsg = msg
	p.info.mu.Unlock()

	p.log.Error("player error", "error", msg)
}

func (p *Player) ipError(err error, context string) {
	p.playerError(errors.Message(err, context))
	if p.metrics != nil {
		p.metrics.DecodeErrors.Inc()
	}
}

func (p *Player) opError(err error, context string) {
	p.playerError(errors.Message(err, context))
	if p.metrics != nil {
		p.metrics.SinkErrors.Inc()
	}
}

// producerBufferFillUpdate publishes the buffer fill when it moved.
func (p *Player) producerBufferFillUpdate() {
	fill := p.buf.FilledChunks()
	p.info.mu.Lock()
	if fill != p.info.bufferFill {
		p.info.bufferFill = fill
		p.info.bufferFillChanged = true
	}
	p.info.mu.Unlock()
	if p.metrics != nil {
		p.metrics.BufferFill.Set(float64(fill))
	}
}

// consumerPositionUpdate publishes the play position, at most once per
// second of position change.
func (p *Player) consumerPositionUpdate() {
	pos := 0
	if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		if ss := p.bufferSF.SecondSize(); ss > 0 {
			pos = p.consumerPos / ss
		}
	}
	if pos == p.lastPos {
		return
	}
	p.lastPos = pos

	p.info.mu.Lock()
	p.info.pos = pos
	p.info.positionChanged = true
	p.info.mu.Unlock()
}

// statusChanged publishes a full status snapshot after a command or a
// big engine transition. The position only resets at set-file and
// seek, so a finished track keeps its final position on screen.
func (p *Player) statusChanged() {
	p.info.mu.Lock()
	p.info.status = p.externalStatus()
	if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		if ss := p.bufferSF.SecondSize(); ss > 0 {
			p.info.pos = p.consumerPos / ss
		}
	}
	p.info.bufferFill = p.buf.FilledChunks()
	p.info.bufferSize = p.buf.Chunks()
	p.info.statusChanged = true
	p.info.mu.Unlock()
}

/* engine helpers, called with the relevant locks held */

func (p *Player) resetBuffer() {
	p.buf.Reset()
	p.consumerPos = 0
	p.scalePos = 0
}

func (p *Player) secondSize() int {
	if ss := p.bufferSF.SecondSize(); ss > 0 {
		return ss
	}
	return 1
}

/* producer substate, producer lock held */

func (p *Player) producerPlay() {
	switch p.producerStatus {
	case psUnloaded:
		ti, ok := p.cbs.GetNext()
		if !ok {
			return
		}
		ip, err := input.NewInstance(ti.Filename)
		if err == nil {
			err = ip.Open()
		}
		if err != nil {
			p.ipError(err, "opening file `"+ti.Filename+"'")
			ti.Unref()
			p.fileChanged(nil)
			return
		}
		p.ip = ip
		p.producerStatus = psPlaying
		p.fileChanged(ti)
	case psPlaying:
		if p.ip.Seek(0.0) == nil {
			p.resetBuffer()
		}
	case psStopped:
		if err := p.ip.Open(); err != nil {
			p.ipError(err, "opening file `"+p.ip.Filename()+"'")
			p.ip = nil
			p.producerStatus = psUnloaded
			return
		}
		p.producerStatus = psPlaying
	case psPaused:
		p.producerStatus = psPlaying
	}
}

func (p *Player) producerStop() {
	if p.producerStatus == psPlaying || p.producerStatus == psPaused {
		_ = p.ip.Close()
		p.producerStatus = psStopped
		p.resetBuffer()
	}
}

func (p *Player) producerUnload() {
	p.producerStop()
	if p.producerStatus == psStopped {
		p.ip = nil
		p.producerStatus = psUnloaded
	}
}

func (p *Player) producerPause() {
	switch p.producerStatus {
	case psPlaying:
		p.producerStatus = psPaused
	case psPaused:
		p.producerStatus = psPlaying
	}
}

// producerSetFile loads ti without opening it; the play path opens.
func (p *Player) producerSetFile(ti *track.Info) {
	p.producerUnload()
	ip, err := input.NewInstance(ti.Filename)
	if err != nil {
		p.ipError(err, "loading file `"+ti.Filename+"'")
		ti.Unref()
		p.fileChanged(nil)
		return
	}
	p.ip = ip
	p.producerStatus = psStopped
	p.fileChanged(ti)
}

/* consumer substate, consumer lock held (play also needs producer) */

func (p *Player) consumerPlay() {
	switch p.consumerStatus {
	case csPlaying:
		_ = p.out.Drop()
	case csStopped:
		p.bufferSF = p.ip.Format()
		p.bufferCM = p.ip.ChannelMap()
		if err := p.out.Open(p.bufferSF, p.bufferCM); err != nil {
			p.opError(err, "opening audio device")
		} else {
			p.consumerStatus = csPlaying
		}
	case csPaused:
		_ = p.out.Unpause()
		p.consumerStatus = csPlaying
	}
}

func (p *Player) consumerDrainAndStop() {
	if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		_ = p.out.Close()
		p.consumerStatus = csStopped
	}
}

func (p *Player) consumerStop() {
	if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		_ = p.out.Drop()
		_ = p.out.Close()
		p.consumerStatus = csStopped
	}
}

func (p *Player) consumerPause() {
	switch p.consumerStatus {
	case csPlaying:
		_ = p.out.Pause()
		p.consumerStatus = csPaused
	case csPaused:
		_ = p.out.Unpause()
		p.consumerStatus = csPlaying
	}
}

/* format transitions and EOF, both locks held */

// changeSF reopens the sink when the next track's buffer format
// differs from the open one, so samples of different formats are never
// written contiguously.
func (p *Player) changeSF(drop bool) error {
	oldSF := p.bufferSF
	p.bufferSF = p.ip.Format()
	p.bufferCM = p.ip.ChannelMap()

	if p.bufferSF != oldSF {
		if drop {
			_ = p.out.Drop()
		}
		_ = p.out.Close()
		if err := p.out.Open(p.bufferSF, p.bufferCM); err != nil {
			p.opError(err, "opening audio device")
			p.consumerStatus = csStopped
			p.producerStop()
			return err
		}
	} else if p.consumerStatus == csPaused {
		_ = p.out.Drop()
		_ = p.out.Unpause()
	}
	p.consumerStatus = csPlaying
	return nil
}

// consumerHandleEOF advances to the next track or stops.
func (p *Player) consumerHandleEOF() {
	// Publish the final position while the consumer still counts as
	// playing; once it stops, status updates leave the position as is.
	p.consumerPositionUpdate()

	if p.ip.Remote() {
		p.producerStop()
		p.consumerDrainAndStop()
		p.playerError("lost connection")
		return
	}

	if ti, ok := p.cbs.GetNext(); ok {
		p.producerUnload()
		ip, err := input.NewInstance(ti.Filename)
		if err != nil {
			p.ipError(err, "loading file `"+ti.Filename+"'")
			p.consumerStop()
			ti.Unref()
			p.fileChanged(nil)
			p.statusChanged()
			return
		}
		p.ip = ip
		p.producerStatus = psStopped
		// psStopped, csPlaying
		if p.cont {
			p.producerPlay()
			if p.producerStatus == psUnloaded {
				p.consumerStop()
				ti.Unref()
				p.fileChanged(nil)
			} else {
				// psPlaying
				p.fileChanged(ti)
				if p.changeSF(false) == nil {
					p.prebuffer()
				}
			}
		} else {
			p.consumerDrainAndStop()
			p.fileChanged(ti)
		}
	} else {
		// End of the list: stop but keep the finished track and its
		// final position published.
		p.producerUnload()
		p.consumerDrainAndStop()
	}
	p.statusChanged()
}

// prebuffer fills the ring buffer before the consumer starts writing:
// 250 ms worth of chunks for local files, the whole buffer for remote
// streams. Runs in the calling goroutine with both locks held.
func (p *Player) prebuffer() {
	if p.producerStatus != psPlaying {
		return
	}
	limitChunks := p.buf.Chunks()
	if !p.ip.Remote() {
		limitSize := 250 * p.secondSize() / 1000
		limitChunks = limitSize / ringbuf.ChunkSize
		if limitChunks < 1 {
			limitChunks = 1
		}
	}

	for {
		if p.buf.FilledChunks() >= limitChunks {
			break
		}
		w := p.buf.WriteRegion()
		if w == nil {
			break
		}
		n, err := p.ip.Read(w)
		switch {
		case err == nil:
		case errors.IsRetry(err):
			continue
		case err == io.EOF:
			n = 0
		default:
			p.ipError(err, "reading file "+p.ip.Filename())
			n = 0
		}
		if meta, changed := p.ip.Metadata(); changed {
			p.metadataChanged(meta)
		}
		// A zero count marks the current chunk filled.
		p.buf.Fill(n)
		p.producerBufferFillUpdate()
		if n == 0 {
			break
		}
	}
}
