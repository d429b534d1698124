package player

import (
	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/ringbuf"
	"github.com/canto-player/canto/internal/track"
)

// Play starts playback. With a track already playing it restarts it
// from the beginning; with nothing loaded it pulls the next track from
// the GetNext callback.
func (p *Player) Play() {
	p.playerLock()
	defer p.playerUnlock()

	if p.producerStatus == psPlaying && p.ip.Remote() {
		// seeking not allowed
		return
	}
	prebuffer := p.consumerStatus == csStopped
	p.producerPlay()
	if p.producerStatus == psPlaying {
		p.consumerPlay()
		if p.consumerStatus != csPlaying {
			p.producerStop()
		}
	} else {
		p.consumerStop()
	}
	p.statusChanged()
	if p.consumerStatus == csPlaying && prebuffer {
		p.prebuffer()
	}
}

// Stop stops playback hard: buffered audio is dropped, the decoder is
// closed but stays loaded so Play can resume the same track.
func (p *Player) Stop() {
	p.playerLock()
	defer p.playerUnlock()

	p.consumerStop()
	p.producerStop()
	p.statusChanged()
}

// Pause toggles pause. From stopped it starts playback; on remote
// streams it is rejected because the stream cannot be suspended.
func (p *Player) Pause() {
	p.playerLock()
	defer p.playerUnlock()

	if p.consumerStatus == csStopped {
		p.producerPlay()
		if p.producerStatus == psPlaying {
			p.consumerPlay()
			if p.consumerStatus != csPlaying {
				p.producerStop()
			}
		}
		p.statusChanged()
		if p.consumerStatus == csPlaying {
			p.prebuffer()
		}
		return
	}

	if p.ip != nil && p.ip.Remote() {
		// pausing not allowed
		return
	}
	p.producerPause()
	p.consumerPause()
	p.statusChanged()
}

// SetFile loads ti as the current track without starting playback;
// when something is already playing the new track starts immediately.
// The player takes over the caller's reference on ti.
func (p *Player) SetFile(ti *track.Info) {
	p.playerLock()
	defer p.playerUnlock()

	p.producerSetFile(ti)
	if p.producerStatus == psUnloaded {
		p.consumerStop()
	} else if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		// psStopped
		p.producerPlay()
		if p.producerStatus == psUnloaded {
			p.consumerStop()
		} else {
			_ = p.changeSF(true)
		}
	}
	p.statusChanged()
	if p.producerStatus == psPlaying {
		p.prebuffer()
	}
}

// PlayFile loads ti and starts playing it. The player takes over the
// caller's reference on ti.
func (p *Player) PlayFile(ti *track.Info) {
	p.playerLock()
	defer p.playerUnlock()

	p.producerSetFile(ti)
	if p.producerStatus == psUnloaded {
		p.consumerStop()
	} else {
		// psStopped
		p.producerPlay()
		if p.producerStatus == psUnloaded {
			p.consumerStop()
		} else if p.consumerStatus == csStopped {
			// psPlaying
			p.consumerPlay()
			if p.consumerStatus == csStopped {
				p.producerStop()
			}
		} else {
			_ = p.changeSF(true)
		}
	}
	p.statusChanged()
	if p.producerStatus == psPlaying {
		p.prebuffer()
	}
}

// Seek moves the play position, in seconds, absolutely or relative to
// the current position. Everything buffered in the ring and in the
// sink is dropped.
func (p *Player) Seek(offset float64, relative bool) {
	p.playerLock()
	defer p.playerUnlock()

	if p.consumerStatus != csPlaying && p.consumerStatus != csPaused {
		return
	}

	pos := float64(p.consumerPos) / float64(p.secondSize())
	duration, err := p.ip.Duration()
	if err != nil {
		// can't seek
		p.log.Debug("seek rejected, duration unknown")
		return
	}

	var newPos float64
	if relative {
		newPos = pos + offset
		if newPos < 0.0 {
			newPos = 0.0
		}
		if offset > 0.0 {
			// seeking forward
			if newPos > duration-5.0 {
				newPos = duration - 5.0
			}
			if newPos < 0.0 {
				newPos = 0.0
			}
			if newPos < pos+0.5 {
				// must seek at least 0.5s
				p.log.Debug("seek ignored, too close to end")
				return
			}
		}
	} else {
		newPos = offset
		if newPos < 0.0 {
			p.log.Debug("seek offset negative")
			return
		}
		if newPos > duration {
			p.log.Debug("seek offset too large")
			return
		}
	}

	if err := p.ip.Seek(newPos); err != nil {
		if !errors.IsFunctionNotSupported(err) {
			p.log.Error("seek failed", "error", err)
		}
		return
	}
	_ = p.out.Drop()
	p.resetBuffer()
	p.consumerPos = int(newPos * float64(p.secondSize()))
	p.scalePos = p.consumerPos
	p.consumerPositionUpdate()
}

// SetOp switches to the named sink plugin without stopping playback;
// an empty name selects the highest-priority usable plugin.
func (p *Player) SetOp(name string) error {
	p.playerLock()
	defer p.playerUnlock()

	// a paused sink's queued audio is dropped before the sink is closed
	if p.consumerStatus == csPaused {
		_ = p.out.Drop()
	}
	if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		_ = p.out.Close()
	}

	var err error
	if name != "" {
		p.log.Info("selecting sink", "plugin", name)
		err = p.out.Select(name)
	} else {
		err = p.out.SelectAny()
	}
	if err != nil {
		p.consumerStatus = csStopped
		p.producerStop()
		p.playerError(errors.Message(err, "selecting output plugin '"+name+"'"))
		return err
	}

	if p.consumerStatus == csPlaying || p.consumerStatus == csPaused {
		p.bufferSF = p.ip.Format()
		p.bufferCM = p.ip.ChannelMap()
		if err := p.out.Open(p.bufferSF, p.bufferCM); err != nil {
			p.consumerStatus = csStopped
			p.producerStop()
			p.opError(err, "opening audio device")
			return err
		}
		if p.consumerStatus == csPaused {
			_ = p.out.Pause()
		}
	}

	if l, r, err := p.out.GetVolume(); err == nil {
		p.volumeUpdate(l, r)
	}
	return nil
}

// GetOp returns the current sink plugin name.
func (p *Player) GetOp() string {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()
	return p.out.CurrentName()
}

// SetBufferChunks resizes the ring buffer, stopping both sides first.
// The count is clamped to [3,30].
func (p *Player) SetBufferChunks(n int) {
	if n < 3 {
		n = 3
	}
	n = clampChunks(n)

	p.playerLock()
	defer p.playerUnlock()

	p.producerStop()
	p.consumerStop()

	p.buf = ringbuf.New(n)
	p.resetBuffer()
	if p.metrics != nil {
		p.metrics.BufferChunks.Set(float64(n))
	}
	p.statusChanged()
}

// GetBufferChunks returns the ring buffer size.
func (p *Player) GetBufferChunks() int {
	p.playerLock()
	defer p.playerUnlock()
	return p.buf.Chunks()
}

// SetVolume sets the active volume control (sink mixer, or the
// software volume when soft-vol is on or the sink has no mixer).
func (p *Player) SetVolume(l, r int) error {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()
	if err := p.out.SetVolume(l, r); err != nil {
		return err
	}
	p.volumeUpdate(l, r)
	return nil
}

// GetVolume reads the active volume control.
func (p *Player) GetVolume() (l, r int, err error) {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()
	return p.out.GetVolume()
}

// SetSoftVol switches between mixer volume and scaler volume. Samples
// already written keep their old scaling; the scale cursor re-anchors
// at the current consumer position.
func (p *Player) SetSoftVol(enabled bool) {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()

	// don't move scalePos if scaling is already active
	if !p.out.SoftVol() && p.rgMode == RGOff {
		p.scalePos = p.consumerPos
	}
	p.out.SetSoftVol(enabled)
	if l, r, err := p.out.GetVolume(); err == nil {
		p.volumeUpdate(l, r)
	}
}

// SetRG sets the replay gain mode and recomputes the scale from the
// current track's tags.
func (p *Player) SetRG(mode ReplayGainMode) {
	p.playerLock()
	defer p.playerUnlock()

	if !p.out.SoftVol() && p.rgMode == RGOff {
		p.scalePos = p.consumerPos
	}
	p.rgMode = mode
	p.updateRGScale()
}

// SetRGLimit toggles the 1/peak cap on the replay gain scale.
func (p *Player) SetRGLimit(limit bool) {
	p.playerLock()
	defer p.playerUnlock()
	p.rgLimit = limit
	p.updateRGScale()
}

// SetRGPreamp sets the replay gain preamp in dB.
func (p *Player) SetRGPreamp(db float64) {
	p.playerLock()
	defer p.playerUnlock()
	p.rgPreamp = db
	p.updateRGScale()
}

// SetCont controls whether playback continues with the next track at
// EOF.
func (p *Player) SetCont(cont bool) {
	p.playerLock()
	defer p.playerUnlock()
	p.cont = cont
}

// SetOpOption sets a sink plugin option by flat id, stopping both
// sides first because plugins may not tolerate live option changes.
func (p *Player) SetOpOption(id int, val string) error {
	p.playerLock()
	defer p.playerUnlock()

	p.consumerStop()
	p.producerStop()
	err := p.out.SetOption(id, val)
	p.statusChanged()
	return err
}

// GetOpOption returns a sink plugin option by flat id.
func (p *Player) GetOpOption(id int) (string, error) {
	p.playerLock()
	defer p.playerUnlock()
	return p.out.GetOption(id)
}

// ForEachOpOption iterates the sink option table, stopping both sides
// the way option writes do.
func (p *Player) ForEachOpOption(cb func(id int, key string)) {
	p.playerLock()
	defer p.playerUnlock()

	p.consumerStop()
	p.producerStop()
	p.out.ForEachOption(cb)
	p.statusChanged()
}

// GetFileInfo probes a file's duration and comments without touching
// the playback pipeline.
func (p *Player) GetFileInfo(path string) (*input.FileInfo, error) {
	return input.GetFileInfo(path)
}
