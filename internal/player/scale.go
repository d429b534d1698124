package player

import (
	"math"

	"github.com/canto-player/canto/internal/output"
)

const softVolScale = 65536

// Gain coefficients for volumes 0..99; volume 100 uses softVolScale
// directly. Data matches alsa-lib's softvol dB curve.
var softVolDB = [100]int{
	0x0000, 0x0110, 0x011c, 0x012f, 0x013d, 0x0152, 0x0161, 0x0179,
	0x018a, 0x01a5, 0x01c1, 0x01d5, 0x01f5, 0x020b, 0x022e, 0x0247,
	0x026e, 0x028a, 0x02b6, 0x02d5, 0x0306, 0x033a, 0x035f, 0x0399,
	0x03c2, 0x0403, 0x0431, 0x0479, 0x04ac, 0x04fd, 0x0553, 0x058f,
	0x05ef, 0x0633, 0x069e, 0x06ea, 0x0761, 0x07b5, 0x083a, 0x0898,
	0x092c, 0x09cb, 0x0a3a, 0x0aeb, 0x0b67, 0x0c2c, 0x0cb6, 0x0d92,
	0x0e2d, 0x0f21, 0x1027, 0x10de, 0x1202, 0x12cf, 0x1414, 0x14f8,
	0x1662, 0x1761, 0x18f5, 0x1a11, 0x1bd3, 0x1db4, 0x1f06, 0x211d,
	0x2297, 0x24ec, 0x2690, 0x292a, 0x2aff, 0x2de5, 0x30fe, 0x332b,
	0x369f, 0x390d, 0x3ce6, 0x3f9b, 0x43e6, 0x46eb, 0x4bb3, 0x4f11,
	0x5466, 0x5a18, 0x5e19, 0x6472, 0x68ea, 0x6ffd, 0x74f8, 0x7cdc,
	0x826a, 0x8b35, 0x9499, 0x9b35, 0xa5ad, 0xad0b, 0xb8b7, 0xc0ee,
	0xcdf1, 0xd71a, 0xe59c, 0xefd3,
}

// scaleSample multiplies the little-endian 16-bit sample at index i by
// vol/softVolScale, rounding to nearest (halves away from zero) and
// clamping to int16 range.
func scaleSample(buf []byte, i, vol int) {
	s := int(int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8))
	if s < 0 {
		s = (s*vol - softVolScale/2) / softVolScale
		if s < -32768 {
			s = -32768
		}
	} else {
		s = (s*vol + softVolScale/2) / softVolScale
		if s > 32767 {
			s = 32767
		}
	}
	buf[2*i] = byte(s)
	buf[2*i+1] = byte(uint16(int16(s)) >> 8)
}

// scaleSamples applies soft volume and replay gain in place to the
// region about to be written to the sink. The region starts at
// consumerPos; scalePos tracks how far scaling has already run so a
// region overlapping an earlier one is never scaled twice.
//
// Called under the consumer lock.
func (p *Player) scaleSamples(buf []byte) {
	count := len(buf)
	if p.scalePos < p.consumerPos {
		// Anchor was missed somewhere; never scale twice, never
		// scale stale bytes.
		p.scalePos = p.consumerPos
	}
	if p.scalePos != p.consumerPos {
		offs := p.scalePos - p.consumerPos
		if offs >= count {
			return
		}
		buf = buf[offs:]
		count -= offs
	}
	p.scalePos += count

	l := softVolScale
	r := softVolScale
	volL, volR := p.out.SoftVolLR()
	if p.out.SoftVol() {
		if volL != output.SoftVolMax {
			l = softVolDB[clampTable(volL)]
		}
		if volR != output.SoftVolMax {
			r = softVolDB[clampTable(volR)]
		}
	}

	if p.rgScale == 1.0 && l == softVolScale && r == softVolScale {
		return
	}

	ch := p.bufferSF.Channels()
	bits := p.bufferSF.Bits()
	if bits != 16 || !p.bufferSF.Signed() || ch < 1 || ch > 2 {
		return
	}

	l = int(float64(l) * p.rgScale)
	r = int(float64(r) * p.rgScale)

	if ch == 2 {
		for i := 0; i < count/4; i++ {
			scaleSample(buf, i*2, l)
			scaleSample(buf, i*2+1, r)
		}
	} else {
		for i := 0; i < count/2; i++ {
			scaleSample(buf, i, l)
		}
	}
}

func clampTable(v int) int {
	if v < 0 {
		return 0
	}
	if v > 99 {
		return 99
	}
	return v
}

// updateRGScale recomputes the replay gain factor from the current
// track's tags. Called with the info mutex NOT held.
func (p *Player) updateRGScale() {
	p.rgScale = 1.0
	ti := p.Info().Track
	if ti == nil || p.rgMode == RGOff {
		return
	}

	var gainKey, peakKey string
	if p.rgMode == RGTrack {
		gainKey, peakKey = "replaygain_track_gain", "replaygain_track_peak"
	} else {
		gainKey, peakKey = "replaygain_album_gain", "replaygain_album_peak"
	}

	gain, okG := ti.Comments.GetFloat(gainKey)
	peak, okP := ti.Comments.GetFloat(peakKey)
	if !okG || !okP {
		p.log.Debug("replaygain tags not available", "mode", p.rgMode.String())
		return
	}
	if peak < 0.05 {
		p.log.Debug("replaygain peak too small", "peak", peak)
		return
	}

	db := p.rgPreamp + gain
	scale := math.Pow(10.0, db/20.0)
	if p.rgLimit {
		if limit := 1.0 / peak; scale > limit {
			scale = limit
		}
	}
	p.rgScale = scale
	p.log.Debug("replaygain scale updated",
		"gain_db", gain, "peak", peak, "preamp_db", p.rgPreamp, "scale", scale)
}
