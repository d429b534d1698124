package player

import (
	"io"
	"time"

	"github.com/canto-player/canto/internal/errors"
)

// The fixed cadences of the engine. The 50 ms idle sleep doubles as
// the mixer polling tick and is part of the observable contract.
const (
	idleSleep     = 50 * time.Millisecond
	spaceSleep    = 25 * time.Millisecond
	underrunSleep = 10 * time.Millisecond

	// The consumer refuses to bother the sink for less than this many
	// writable bytes (roughly 25 ms of CD audio).
	minWriteSpace = 4096

	mixerPollInterval = 300 * time.Millisecond
)

// producerLoop decodes into the ring buffer while the producer is in
// the playing state. It owns the decoder instance.
func (p *Player) producerLoop() {
	defer p.wg.Done()
	for {
		// Chunks to fill per wakeup: more makes seeking sluggish,
		// fewer risks underruns.
		const chunks = 1

		p.producerMu.Lock()
		if !p.producerRunning {
			break
		}

		if p.producerStatus == psUnloaded ||
			p.producerStatus == psPaused ||
			p.producerStatus == psStopped || p.ip.EOF() {
			p.producerMu.Unlock()
			time.Sleep(idleSleep)
			continue
		}
		for i := 0; ; i++ {
			w := p.buf.WriteRegion()
			if w == nil {
				// buffer is full
				p.producerMu.Unlock()
				time.Sleep(idleSleep)
				break
			}
			n, err := p.ip.Read(w)
			if err != nil {
				if errors.IsRetry(err) {
					p.producerMu.Unlock()
					time.Sleep(idleSleep)
					break
				}
				if err != io.EOF {
					p.ipError(err, "reading file "+p.ip.Filename())
				}
				// The instance has latched EOF either way.
				n = 0
			}
			if meta, changed := p.ip.Metadata(); changed {
				p.metadataChanged(meta)
			}
			// A zero count marks the current chunk filled.
			p.buf.Fill(n)
			if n == 0 {
				// consumer handles EOF
				p.producerMu.Unlock()
				time.Sleep(idleSleep)
				break
			}
			if p.metrics != nil {
				p.metrics.DecodedBytes.Add(float64(n))
			}
			if i == chunks {
				p.producerMu.Unlock()
				// don't sleep
				break
			}
		}
		p.producerBufferFillUpdate()
	}
	p.producerUnload()
	p.producerMu.Unlock()
}

// consumerLoop drains the ring buffer into the sink while the consumer
// is in the playing state. It owns the sink.
func (p *Player) consumerLoop() {
	defer p.wg.Done()
	for {
		p.consumerMu.Lock()
		if !p.consumerRunning {
			break
		}

		if p.consumerStatus == csPaused || p.consumerStatus == csStopped {
			p.mixerCheck()
			p.consumerMu.Unlock()
			time.Sleep(idleSleep)
			continue
		}
		space, err := p.out.BufferSpace()
		if err != nil {
			// busy
			p.consumerPositionUpdate()
			p.consumerMu.Unlock()
			time.Sleep(idleSleep)
			continue
		}

		for {
			if space < minWriteSpace {
				p.consumerPositionUpdate()
				p.mixerCheck()
				p.consumerMu.Unlock()
				time.Sleep(spaceSleep)
				break
			}
			r := p.buf.ReadRegion()
			if r == nil {
				p.producerMu.Lock()
				if p.producerStatus != psPlaying {
					p.producerMu.Unlock()
					p.consumerMu.Unlock()
					break
				}
				// must recheck the region
				r = p.buf.ReadRegion()
				if r == nil {
					// Safe to check EOF now: the producer cannot be
					// mid-fill while we hold its lock.
					if p.ip.EOF() {
						p.consumerHandleEOF()
						p.producerMu.Unlock()
						p.consumerMu.Unlock()
						break
					}
					// possible underrun
					p.producerMu.Unlock()
					p.consumerPositionUpdate()
					if p.metrics != nil {
						p.metrics.Underruns.Inc()
					}
					p.consumerMu.Unlock()
					time.Sleep(underrunSleep)
					break
				}
				// ring buffer and decoder EOF were inconsistent
				p.producerMu.Unlock()
			}
			if len(r) > space {
				r = r[:space]
			}
			if p.out.SoftVol() || p.rgMode != RGOff {
				p.scaleSamples(r)
			}
			n, werr := p.out.Write(r)
			if werr != nil {
				p.log.Warn("sink write failed, reopening", "error", werr)
				if p.metrics != nil {
					p.metrics.SinkErrors.Inc()
				}
				// One reopen attempt with the format already open;
				// a second failure leaves us stopped.
				_ = p.out.Close()
				p.consumerStatus = csStopped
				if oerr := p.out.Open(p.bufferSF, p.bufferCM); oerr != nil {
					p.opError(oerr, "opening audio device")
				} else {
					p.consumerStatus = csPlaying
				}
				p.consumerMu.Unlock()
				break
			}
			p.buf.Consume(n)
			p.consumerPos += n
			space -= n
			if p.metrics != nil {
				p.metrics.WrittenBytes.Add(float64(n))
			}
		}
	}
	p.consumerStop()
	p.consumerMu.Unlock()
}

// mixerCheck polls the active volume control at most every 300 ms so
// external volume changes show up in the published state.
func (p *Player) mixerCheck() {
	now := time.Now()
	if now.Sub(p.lastMixerCheck) < mixerPollInterval {
		return
	}
	p.lastMixerCheck = now
	if l, r, err := p.out.GetVolume(); err == nil {
		p.volumeUpdate(l, r)
	}
}
