// Package output implements the sink plugin layer: the Sink and Mixer
// capability sets, the plugin registry, and the controller that keeps
// exactly one sink open and routes volume either to the sink's mixer
// or to the software volume state.
package output

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/canto-player/canto/internal/logging"
	"github.com/canto-player/canto/internal/sample"
)

// ABIVersion is the sink plugin ABI this registry accepts.
const ABIVersion = 1

func logger() *slog.Logger {
	if l := logging.ForService("output"); l != nil {
		return l
	}
	return slog.Default()
}

// Sink is the capability set a sink plugin implements for PCM output.
// A Sink is owned by the consumer goroutine; calls are serialized.
//
// Open must reject invalid sample formats with a sample-format
// category error; the engine reports it and does not retry with
// another format. Write may
// accept fewer bytes than offered but always a multiple of the frame
// size. BufferSpace returns writable bytes (frame-aligned, possibly
// zero); a busy sink may return an error with category retry.
// Pause and Unpause are optional: a function-not-supported error makes
// the controller emulate them via drop+close+reopen.
type Sink interface {
	Init() error
	Exit()
	Open(sf sample.Format, cm sample.ChannelMap) error
	Close() error
	Drop() error
	Write(p []byte) (int, error)
	BufferSpace() (int, error)
	Pause() error
	Unpause() error
}

// Mixer is the optional hardware volume control beside a sink.
type Mixer interface {
	Open() (volumeMax int, err error)
	Close() error
	SetVolume(l, r int) error
	GetVolume() (l, r int, err error)
}

// Option is one named plugin option.
type Option struct {
	Name string
	Set  func(val string) error
	Get  func() (string, error)
}

// Plugin is the symbol table a sink plugin exports.
type Plugin struct {
	Name       string
	Priority   int
	ABIVersion int

	PCM        Sink
	PCMOptions []Option

	Mixer        Mixer // nil when the sink has no hardware mixer
	MixerOptions []Option
}

var (
	registryMu sync.RWMutex
	plugins    []*Plugin
)

// Register adds a plugin to the registry, keeping priority order. It
// is meant to be called from plugin package init functions.
func Register(p *Plugin) {
	if p.ABIVersion != ABIVersion {
		logger().Error("rejecting sink plugin with wrong ABI version",
			"plugin", p.Name, "abi", p.ABIVersion)
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	plugins = append(plugins, p)
	sort.SliceStable(plugins, func(i, j int) bool {
		return plugins[i].Priority > plugins[j].Priority
	})
}

// Plugins returns the registered plugins in priority order.
func Plugins() []*Plugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Plugin, len(plugins))
	copy(out, plugins)
	return out
}

// DumpPlugins logs the registry the way the startup scan reports it.
func DumpPlugins() {
	for _, p := range Plugins() {
		logger().Info("sink plugin",
			"name", p.Name,
			"priority", p.Priority,
			"has_mixer", p.Mixer != nil)
	}
}
