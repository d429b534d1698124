// Package input implements the decoder plugin layer: the Decoder
// capability set, the plugin registry with extension/MIME/scheme
// dispatch, and the Instance wrapper the producer goroutine drives.
//
// Plugins are compiled in and register themselves from package init;
// the registry is populated once at startup and never shrinks.
package input

import (
	"log/slog"
	"mime"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/logging"
	"github.com/canto-player/canto/internal/sample"
	"github.com/canto-player/canto/internal/track"
)

// ABIVersion is the decoder plugin ABI this registry accepts.
const ABIVersion = 1

func logger() *slog.Logger {
	if l := logging.ForService("input"); l != nil {
		return l
	}
	return slog.Default()
}

// Decoder is the capability set a decoder plugin implements. A Decoder
// is owned by a single goroutine; none of its methods are safe for
// concurrent use.
//
// Read fills p with PCM in the format reported by Format and returns
// io.EOF at end of stream. A transient stall returns an error with
// category retry; any other error is a fatal decode error. Optional
// capabilities (Seek, Duration, the bitrate and codec probes) return a
// function-not-supported error when unimplemented.
type Decoder interface {
	Open() error
	Close() error
	Read(p []byte) (int, error)
	Seek(offset float64) error
	ReadComments() (track.Comments, error)
	Duration() (float64, error)
	Bitrate() (int, error)
	BitrateCurrent() (int, error)
	Codec() (string, error)
	CodecProfile() (string, error)

	// Format and ChannelMap are valid after a successful Open.
	Format() sample.Format
	ChannelMap() sample.ChannelMap
}

// Option is one named plugin option.
type Option struct {
	Name string
	Set  func(val string) error
	Get  func() (string, error)
}

// Plugin is the symbol table a decoder plugin exports.
type Plugin struct {
	Name       string
	Priority   int
	Extensions []string // lowercase, "*" registers the fallback plugin
	MimeTypes  []string
	Schemes    []string // URL schemes such as "http", "cdda"
	Options    []Option
	ABIVersion int

	// Probe reports whether hdr (up to 16 bytes of file magic) looks
	// like this plugin's format. Optional.
	Probe func(hdr []byte) bool

	// New creates a decoder for the source. The decoder may read and
	// seek the source freely from Open on.
	New func(src *Source) Decoder
}

var (
	registryMu sync.RWMutex
	plugins    []*Plugin
)

// Register adds a plugin to the registry. It is meant to be called
// from plugin package init functions.
func Register(p *Plugin) {
	if p.ABIVersion != ABIVersion {
		logger().Error("rejecting decoder plugin with wrong ABI version",
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

// SetOption sets a named option on a plugin ("plugin.option" key).
func SetOption(pluginName, option, val string) error {
	for _, p := range Plugins() {
		if p.Name != pluginName {
			continue
		}
		for i := range p.Options {
			if p.Options[i].Name == option {
				return p.Options[i].Set(val)
			}
		}
		return errors.Newf("no such option: %s.%s", pluginName, option).
			Category(errors.CategoryNotOption).
			Build()
	}
	return errors.Newf("no such decoder plugin: %s", pluginName).
		Category(errors.CategoryNoPlugin).
		Build()
}

// uriScheme returns the scheme of filename, or "" for plain paths.
func uriScheme(filename string) string {
	i := strings.Index(filename, "://")
	if i <= 0 {
		return ""
	}
	scheme := filename[:i]
	for _, r := range scheme {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '+' && r != '-' && r != '.' {
			return ""
		}
	}
	return strings.ToLower(scheme)
}

// findPlugin applies the selection policy: scheme, then extension with
// priority tie-break, then MIME type, then magic probe, then the "*"
// fallback.
func findPlugin(filename string) (*Plugin, error) {
	all := Plugins()

	if scheme := uriScheme(filename); scheme != "" {
		for _, p := range all {
			for _, s := range p.Schemes {
				if s == scheme {
					return p, nil
				}
			}
		}
		return nil, errors.Newf("unsupported url scheme: %s", scheme).
			Category(errors.CategoryInvalidURI).
			Context("filename", filename).
			Build()
	}

	ext := strings.ToLower(strings.TrimPrefix(fileExt(filename), "."))
	if ext != "" {
		for _, p := range all { // priority order
			for _, e := range p.Extensions {
				if e == ext {
					return p, nil
				}
			}
		}

		if mt := mime.TypeByExtension("." + ext); mt != "" {
			if i := strings.IndexByte(mt, ';'); i > 0 {
				mt = mt[:i]
			}
			for _, p := range all {
				for _, m := range p.MimeTypes {
					if m == mt {
						return p, nil
					}
				}
			}
		}
	}

	if p := probeMagic(filename, all); p != nil {
		return p, nil
	}

	for _, p := range all {
		for _, e := range p.Extensions {
			if e == "*" {
				return p, nil
			}
		}
	}

	return nil, errors.Newf("unrecognized file type: %s", filename).
		Category(errors.CategoryUnrecognizedFileType).
		Context("extension", ext).
		Build()
}

// probeMagic reads up to 16 bytes of file magic and asks each plugin.
func probeMagic(filename string, all []*Plugin) *Plugin {
	f, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	hdr := make([]byte, 16)
	n, err := f.Read(hdr)
	if err != nil || n == 0 {
		return nil
	}
	hdr = hdr[:n]

	for _, p := range all {
		if p.Probe != nil && p.Probe(hdr) {
			return p
		}
	}
	return nil
}

func fileExt(filename string) string {
	base := filename
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return base[i:]
	}
	return ""
}

// DumpPlugins logs the registry the way the startup scan reports it.
func DumpPlugins() {
	for _, p := range Plugins() {
		logger().Info("decoder plugin",
			"name", p.Name,
			"priority", p.Priority,
			"extensions", strings.Join(p.Extensions, ","),
			"mime_types", strings.Join(p.MimeTypes, ","),
			"schemes", strings.Join(p.Schemes, ","))
	}
}
