package weights

import (
	"fmt"
	"os"

	"github.com/llama2core/llama2core/internal/apierr"
)

// LoadOptions selects how a checkpoint is opened. Exactly one of
// CheckpointPath or Base is meaningful, depending on Mode.
type LoadOptions struct {
	Mode           AccessMode
	CheckpointPath string
	Base           []byte // AccessAbsolute
	CacheLimit     int64  // AccessPagedCache
}

// Load opens a checkpoint according to opts and returns its WeightSet.
// This is the single construction entry point A→B of the dataflow in
// spec §2: parse the header, build the tensor layout, open the
// appropriate Store, and bind them into a WeightSet.
func Load(opts LoadOptions) (*WeightSet, error) {
	switch opts.Mode {
	case AccessAbsolute:
		if opts.Base == nil {
			return nil, fmt.Errorf("weights: absolute access requires model_base: %w", apierr.ErrBadConfig)
		}
		cfg, dataOffset, err := ParseHeader(byteReaderAt(opts.Base))
		if err != nil {
			return nil, err
		}
		store, err := OpenAbsolute(opts.Base, dataOffset)
		if err != nil {
			return nil, err
		}
		return bind(cfg, store)

	case AccessMmap:
		if opts.CheckpointPath == "" {
			return nil, fmt.Errorf("weights: checkpoint_path required for mmap access: %w", apierr.ErrBadConfig)
		}
		f, err := os.Open(opts.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("weights: open %q: %w: %v", opts.CheckpointPath, apierr.ErrBadPath, err)
		}
		cfg, dataOffset, err := ParseHeader(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		store, err := OpenMmap(opts.CheckpointPath, dataOffset)
		if err != nil {
			return nil, err
		}
		return bind(cfg, store)

	case AccessPagedCache:
		if opts.CheckpointPath == "" {
			return nil, fmt.Errorf("weights: checkpoint_path required for paged cache access: %w", apierr.ErrBadConfig)
		}
		if opts.CacheLimit <= 0 {
			return nil, fmt.Errorf("weights: paged cache requires a positive cache_limit: %w", apierr.ErrBadConfig)
		}
		f, err := os.Open(opts.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("weights: open %q: %w: %v", opts.CheckpointPath, apierr.ErrBadPath, err)
		}
		cfg, dataOffset, err := ParseHeader(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		layout := BuildLayout(cfg)
		store, err := OpenPagedCache(opts.CheckpointPath, dataOffset, opts.CacheLimit, layout.LargestRegionBytes())
		if err != nil {
			return nil, err
		}
		ws, err := NewWeightSet(cfg, layout, store)
		if err != nil {
			store.Close()
			return nil, err
		}
		return ws, nil

	default:
		return nil, fmt.Errorf("weights: unknown access mode %d: %w", opts.Mode, apierr.ErrBadConfig)
	}
}

func bind(cfg ModelConfig, store Store) (*WeightSet, error) {
	layout := BuildLayout(cfg)
	ws, err := NewWeightSet(cfg, layout, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return ws, nil
}

// byteReaderAt adapts a []byte to io.ReaderAt for header parsing without a
// copy.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("weights: offset %d out of range", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("weights: short read at offset %d", off)
	}
	return n, nil
}
