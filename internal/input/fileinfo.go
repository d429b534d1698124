package input

import (
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/canto-player/canto/internal/errors"
	"github.com/canto-player/canto/internal/track"
)

// FileInfo is the result of probing a file without attaching it to the
// playback pipeline.
type FileInfo struct {
	Duration int // whole seconds, -1 when unknown
	Comments track.Comments
}

// fileinfoCache keeps recent probes; the browser and playlist ask for
// the same files repeatedly.
var fileinfoCache = gocache.New(5*time.Minute, 10*time.Minute)

// GetFileInfo briefly opens a decoder for path and returns its
// duration and comments. Remote URLs return an empty result without
// touching the network.
func GetFileInfo(path string) (*FileInfo, error) {
	if uriScheme(path) != "" {
		return &FileInfo{Duration: -1}, nil
	}

	key := cacheKey(path)
	if v, ok := fileinfoCache.Get(key); ok {
		fi := v.(FileInfo)
		return &fi, nil
	}

	in, err := NewInstance(path)
	if err != nil {
		return nil, err
	}
	if err := in.Open(); err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()

	fi := FileInfo{Duration: -1}
	if d, err := in.Duration(); err == nil {
		fi.Duration = int(d)
	} else if !errors.IsFunctionNotSupported(err) {
		return nil, err
	}
	if c, err := in.ReadComments(); err == nil {
		fi.Comments = c
	} else if !errors.IsFunctionNotSupported(err) {
		return nil, err
	}

	fileinfoCache.Set(key, fi, gocache.DefaultExpiration)
	return &fi, nil
}

// cacheKey keys probes on path and mtime so edited files re-probe.
func cacheKey(path string) string {
	st, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s|%d|%d", path, st.Size(), st.ModTime().UnixNano())
}
