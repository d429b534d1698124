package player

import (
	"sync"

	"github.com/canto-player/canto/internal/track"
)

// metadataMax bounds the published stream metadata string.
const metadataMax = 4096

// info is the published player state. It has its own mutex so the
// outer shell can snapshot it without touching the engine locks.
type info struct {
	mu sync.Mutex

	ti         *track.Info
	status     Status
	pos        int
	bufferFill int
	bufferSize int
	volLeft    int
	volRight   int
	metadata   string
	errorMsg   string

	fileChanged       bool
	metadataChanged   bool
	statusChanged     bool
	positionChanged   bool
	bufferFillChanged bool
	volChanged        bool
}

// InfoSnapshot is a copy of the published player state.
type InfoSnapshot struct {
	Track      *track.Info // ref held by the player, not the snapshot
	Status     Status
	Position   int // whole seconds into the track
	BufferFill int // chunks
	BufferSize int // chunks
	VolLeft    int
	VolRight   int
	Metadata   string
	ErrorMsg   string

	FileChanged       bool
	MetadataChanged   bool
	StatusChanged     bool
	PositionChanged   bool
	BufferFillChanged bool
	VolChanged        bool
}

func (i *info) snapshot(clearFlags bool) InfoSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := InfoSnapshot{
		Track:      i.ti,
		Status:     i.status,
		Position:   i.pos,
		BufferFill: i.bufferFill,
		BufferSize: i.bufferSize,
		VolLeft:    i.volLeft,
		VolRight:   i.volRight,
		Metadata:   i.metadata,
		ErrorMsg:   i.errorMsg,

		FileChanged:       i.fileChanged,
		MetadataChanged:   i.metadataChanged,
		StatusChanged:     i.statusChanged,
		PositionChanged:   i.positionChanged,
		BufferFillChanged: i.bufferFillChanged,
		VolChanged:        i.volChanged,
	}
	if clearFlags {
		i.fileChanged = false
		i.metadataChanged = false
		i.statusChanged = false
		i.positionChanged = false
		i.bufferFillChanged = false
		i.volChanged = false
	}
	return s
}

// Info returns the current published state without acknowledging any
// change flags.
func (p *Player) Info() InfoSnapshot {
	return p.info.snapshot(false)
}

// ConsumeChanges returns the current published state and clears the
// change flags; the outer shell's event loop calls this.
func (p *Player) ConsumeChanges() InfoSnapshot {
	return p.info.snapshot(true)
}
