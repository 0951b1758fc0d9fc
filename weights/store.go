package weights

import (
	"fmt"
	"io"
	"os"

	"github.com/llama2core/llama2core/internal/apierr"
	"golang.org/x/sys/unix"
)

// AccessMode selects how the Weight Store obtains the checkpoint payload.
type AccessMode int

const (
	// AccessMmap memory-maps the checkpoint file read-only.
	AccessMmap AccessMode = iota
	// AccessPagedCache keeps a byte-budgeted LRU window over the file,
	// paging tensor regions in on demand.
	AccessPagedCache
	// AccessAbsolute treats a caller-supplied byte slice as the payload;
	// the store never frees it.
	AccessAbsolute
)

// Handle is a read-only view into one tensor region. Release must be
// called once the holder is done reading; it is a no-op for the mmap and
// absolute access modes, and unpins the region for eviction under the
// paged cache.
type Handle struct {
	bytes   []byte
	release func()
}

// Bytes returns the region's backing bytes. Valid until Release is called.
func (h Handle) Bytes() []byte { return h.bytes }

// Release returns the handle's pin, if any, to the store.
func (h Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Store is the uniform byte-window view over a checkpoint payload that the
// rest of the engine reads tensors through (spec §4.1). Slice offsets and
// lengths are always computed by the Layout in layout.go.
type Store interface {
	// Slice returns a read-only view of length bytes starting at offset
	// within the payload (not including the header).
	Slice(offset, length int64) (Handle, error)
	// Close releases all resources the store holds.
	Close() error
}

// OpenMmap memory-maps path read-only and returns a Store over the bytes
// following the header at dataOffset.
func OpenMmap(path string, dataOffset int64) (Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("weights: open %q: %w: %v", path, apierr.ErrBadPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("weights: stat %q: %w: %v", path, apierr.ErrIoError, err)
	}
	size := int(info.Size())
	if size <= int(dataOffset) {
		return nil, fmt.Errorf("weights: %q shorter than header: %w", path, apierr.ErrBadFormat)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("weights: mmap %q: %w: %v", path, apierr.ErrIoError, err)
	}
	return &mmapStore{data: data, base: dataOffset}, nil
}

type mmapStore struct {
	data []byte
	base int64
}

func (s *mmapStore) Slice(offset, length int64) (Handle, error) {
	start := s.base + offset
	end := start + length
	if start < 0 || end > int64(len(s.data)) {
		return Handle{}, fmt.Errorf("weights: slice [%d,%d) out of bounds: %w", start, end, apierr.ErrBadFormat)
	}
	return Handle{bytes: s.data[start:end]}, nil
}

func (s *mmapStore) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// OpenAbsolute wraps a caller-owned byte slice as the payload, starting
// dataOffset bytes in. The store never frees base; the caller retains
// ownership for the lifetime of the Transformer.
func OpenAbsolute(base []byte, dataOffset int64) (Store, error) {
	if base == nil {
		return nil, fmt.Errorf("weights: absolute access requires a non-nil base: %w", apierr.ErrBadConfig)
	}
	if int64(len(base)) <= dataOffset {
		return nil, fmt.Errorf("weights: absolute buffer shorter than header: %w", apierr.ErrBadFormat)
	}
	return &absoluteStore{data: base, base: dataOffset}, nil
}

type absoluteStore struct {
	data []byte
	base int64
}

func (s *absoluteStore) Slice(offset, length int64) (Handle, error) {
	start := s.base + offset
	end := start + length
	if start < 0 || end > int64(len(s.data)) {
		return Handle{}, fmt.Errorf("weights: slice [%d,%d) out of bounds: %w", start, end, apierr.ErrBadFormat)
	}
	return Handle{bytes: s.data[start:end]}, nil
}

func (s *absoluteStore) Close() error { return nil }

// *os.File satisfies io.ReaderAt, so an open checkpoint file can be passed
// straight to ParseHeader.
var _ io.ReaderAt = (*os.File)(nil)
