// Package track carries track metadata between the decoder layer, the
// player engine and the outer shell.
package track

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// Comment is one key/value metadata pair.
type Comment struct {
	Key string
	Val string
}

// Comments is an ordered metadata list. Keys compare case-insensitively
// and use the vorbis-comment vocabulary (artist, title, album,
// tracknumber, replaygain_track_gain, ...).
type Comments []Comment

// Get returns the value for key, or "" when absent.
func (c Comments) Get(key string) string {
	for i := range c {
		if strings.EqualFold(c[i].Key, key) {
			return c[i].Val
		}
	}
	return ""
}

// GetFloat parses the value for key as a float, stripping a trailing
// unit suffix such as " dB".
func (c Comments) GetFloat(key string) (float64, bool) {
	v := c.Get(key)
	if v == "" {
		return 0, false
	}
	if i := strings.IndexAny(v, " \t"); i > 0 {
		v = v[:i]
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Info is a ref-counted handle to one track. The player holds a ref
// for the currently playing track; the outer shell holds its own.
type Info struct {
	Filename string
	Duration int // whole seconds, -1 when unknown
	Comments Comments

	refs atomic.Int32
}

// NewInfo creates an Info with one reference held by the caller.
func NewInfo(filename string) *Info {
	ti := &Info{Filename: filename, Duration: -1}
	ti.refs.Store(1)
	return ti
}

// Ref takes an additional reference.
func (ti *Info) Ref() { ti.refs.Add(1) }

// Unref drops a reference. The Info is plain garbage-collected memory,
// so the count only documents ownership; dropping below zero panics to
// catch double releases.
func (ti *Info) Unref() {
	if ti.refs.Add(-1) < 0 {
		panic("track: Unref without matching Ref")
	}
}

// Refs returns the current reference count.
func (ti *Info) Refs() int { return int(ti.refs.Load()) }
