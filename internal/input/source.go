package input

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/canto-player/canto/internal/errors"
)

// metadataMax bounds one in-band metadata block (255 length units of
// 16 bytes each).
const metadataMax = 255 * 16

// Source is the byte stream handed to a decoder plugin, together with
// the stream-level state the engine needs to observe: the remote flag
// and in-band (ICY) metadata updates.
//
// For remote streams with a metadata interval, Read splices the
// metadata blocks out of the stream so the decoder only ever sees
// audio bytes.
type Source struct {
	Filename string
	Remote   bool
	MetaInt  int

	r io.Reader
	s io.Seeker // nil when the stream cannot seek
	c io.Closer // nil when the caller owns the stream

	// counter counts audio bytes since the last metadata block.
	counter int

	mu              sync.Mutex
	metadata        string
	metadataChanged bool
}

// OpenSource opens a local file source.
func OpenSource(filename string) (*Source, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryErrno).
			Context("filename", filename).
			Build()
	}
	return &Source{Filename: filename, r: f, s: f, c: f}, nil
}

// NewRemoteSource wraps a stream the outer shell already connected
// (the HTTP client is not part of the engine). metaint > 0 enables the
// in-band metadata interposer.
func NewRemoteSource(url string, stream io.Reader, metaint int) *Source {
	src := &Source{Filename: url, Remote: true, MetaInt: metaint, r: stream}
	if c, ok := stream.(io.Closer); ok {
		src.c = c
	}
	return src
}

// newMemSource backs a source with an in-memory reader. Test seam.
func newMemSource(name string, r io.ReadSeeker) *Source {
	return &Source{Filename: name, r: r, s: r}
}

// Read reads audio bytes, splicing out in-band metadata blocks on
// remote streams with a metadata interval.
func (s *Source) Read(p []byte) (int, error) {
	if !s.Remote || s.MetaInt <= 0 {
		return s.r.Read(p)
	}

	if s.counter == s.MetaInt {
		if err := s.readMetadata(); err != nil {
			return 0, err
		}
		s.counter = 0
	}

	if max := s.MetaInt - s.counter; len(p) > max {
		p = p[:max]
	}
	n, err := s.r.Read(p)
	s.counter += n
	return n, err
}

// readMetadata consumes one metadata block: a length byte scaled by
// 16, then that many bytes of "StreamTitle='...';" text.
func (s *Source) readMetadata() error {
	var lenByte [1]byte
	if _, err := io.ReadFull(s.r, lenByte[:]); err != nil {
		return err
	}
	size := int(lenByte[0]) * 16
	if size == 0 {
		return nil
	}
	if size > metadataMax {
		return errors.Newf("metadata block too large: %d", size).
			Category(errors.CategoryFileFormat).
			Build()
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return err
	}
	meta := strings.TrimRight(string(buf), "\x00")
	if title, ok := parseStreamTitle(meta); ok {
		meta = title
	}

	s.mu.Lock()
	if meta != "" && meta != s.metadata {
		s.metadata = meta
		s.metadataChanged = true
	}
	s.mu.Unlock()
	return nil
}

// parseStreamTitle extracts the title from "StreamTitle='...';".
func parseStreamTitle(meta string) (string, bool) {
	const prefix = "StreamTitle='"
	i := strings.Index(meta, prefix)
	if i < 0 {
		return "", false
	}
	rest := meta[i+len(prefix):]
	j := strings.Index(rest, "';")
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// Metadata returns the current metadata string and whether it changed
// since the last call; the changed flag is cleared.
func (s *Source) Metadata() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.metadataChanged
	s.metadataChanged = false
	return s.metadata, changed
}

// Seek repositions a seekable source.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	if s.s == nil {
		return 0, errors.FunctionNotSupported("seek")
	}
	return s.s.Seek(offset, whence)
}

// Seekable reports whether the underlying stream supports seeking.
func (s *Source) Seekable() bool { return s.s != nil }

// Close releases the underlying stream if the source owns it.
func (s *Source) Close() error {
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	s.c = nil
	return err
}
