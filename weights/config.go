// Package weights implements the Weight Store and Model Descriptor: a
// uniform byte-window view over a llama2 checkpoint across three
// substitutable access modes (memory-mapped, caller-owned memory, and a
// byte-budgeted paged cache), plus the header parser that locates every
// tensor region within the checkpoint.
package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/llama2core/llama2core/internal/apierr"
)

// quantMagic is the 4-byte marker prefixing an INT8-quantized checkpoint
// header, per spec: "ak42".
var quantMagic = [4]byte{'a', 'k', '4', '2'}

const supportedQuantVersion = 2

// ModelConfig holds the immutable hyperparameters parsed from a checkpoint
// header. Shapes are derived once at load and never change afterward.
type ModelConfig struct {
	Dim        int
	HiddenDim  int
	NLayers    int
	NHeads     int
	NKVHeads   int
	VocabSize  int
	SeqLen     int
	HeadDim    int // Dim / NHeads
	KVDim      int // HeadDim * NKVHeads
	SharedWeights bool

	Quantized bool
	GroupSize int

	// RawHyperparameters holds a companion HuggingFace-style config.json
	// sidecar as returned by LoadSidecarHyperparameters. Load and
	// ParseHeader never look for a sidecar, so it stays nil unless the
	// caller fills it. It is metadata only; shapes always come from the
	// binary header, never from this map.
	RawHyperparameters map[string]any
}

// headerFields is the fixed-width int32 header: dim, hidden_dim, n_layers,
// n_heads, n_kv_heads, vocab_size (sign encodes shared weights), seq_len.
const headerFields = 7

// ParseHeader reads the fixed-width header at offset 0 of r and returns the
// parsed ModelConfig plus the byte offset at which tensor data begins.
func ParseHeader(r io.ReaderAt) (ModelConfig, int64, error) {
	var probe [4]byte
	if _, err := r.ReadAt(probe[:], 0); err != nil {
		return ModelConfig{}, 0, fmt.Errorf("weights: read header magic: %w: %v", apierr.ErrIoError, err)
	}

	var cfg ModelConfig
	var offset int64

	if probe == quantMagic {
		hdr := make([]byte, 4+4+4+headerFields*4)
		if _, err := r.ReadAt(hdr, 0); err != nil {
			return ModelConfig{}, 0, fmt.Errorf("weights: read quantized header: %w: %v", apierr.ErrIoError, err)
		}
		version := int32(binary.LittleEndian.Uint32(hdr[4:8]))
		if version != supportedQuantVersion {
			return ModelConfig{}, 0, fmt.Errorf("weights: quantized header version %d unsupported: %w", version, apierr.ErrBadFormat)
		}
		groupSize := int32(binary.LittleEndian.Uint32(hdr[8:12]))
		if groupSize <= 0 {
			return ModelConfig{}, 0, fmt.Errorf("weights: non-positive group size: %w", apierr.ErrBadFormat)
		}
		fields := parseInt32Fields(hdr[12:])
		cfg = configFromFields(fields)
		cfg.Quantized = true
		cfg.GroupSize = int(groupSize)
		offset = int64(len(hdr))
	} else {
		hdr := make([]byte, headerFields*4)
		if _, err := r.ReadAt(hdr, 0); err != nil {
			return ModelConfig{}, 0, fmt.Errorf("weights: read header: %w: %v", apierr.ErrIoError, err)
		}
		fields := parseInt32Fields(hdr)
		cfg = configFromFields(fields)
		offset = int64(len(hdr))
	}

	if err := cfg.validate(); err != nil {
		return ModelConfig{}, 0, err
	}
	return cfg, offset, nil
}

func parseInt32Fields(b []byte) [headerFields]int32 {
	var out [headerFields]int32
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out
}

func configFromFields(f [headerFields]int32) ModelConfig {
	vocab := f[5]
	shared := vocab > 0
	if vocab < 0 {
		vocab = -vocab
	}
	cfg := ModelConfig{
		Dim:           int(f[0]),
		HiddenDim:     int(f[1]),
		NLayers:       int(f[2]),
		NHeads:        int(f[3]),
		NKVHeads:      int(f[4]),
		VocabSize:     int(vocab),
		SeqLen:        int(f[6]),
		SharedWeights: shared,
	}
	if cfg.NHeads > 0 {
		cfg.HeadDim = cfg.Dim / cfg.NHeads
	}
	cfg.KVDim = cfg.HeadDim * cfg.NKVHeads
	return cfg
}

func (c ModelConfig) validate() error {
	if c.Dim <= 0 || c.HiddenDim <= 0 || c.NLayers <= 0 || c.NHeads <= 0 || c.NKVHeads <= 0 || c.VocabSize <= 0 || c.SeqLen <= 0 {
		return fmt.Errorf("weights: non-positive dimension in header: %w", apierr.ErrBadFormat)
	}
	if c.NHeads%c.NKVHeads != 0 {
		return fmt.Errorf("weights: n_heads %d not a multiple of n_kv_heads %d: %w", c.NHeads, c.NKVHeads, apierr.ErrBadFormat)
	}
	if c.Dim%c.NHeads != 0 {
		return fmt.Errorf("weights: dim %d not divisible by n_heads %d: %w", c.Dim, c.NHeads, apierr.ErrBadFormat)
	}
	return nil
}

// LoadSidecarHyperparameters reads an optional HuggingFace-style JSON
// config file next to the checkpoint. It returns nil for an empty path, a
// missing or unreadable file, or invalid JSON; no error is reported, since
// shapes always come from the binary header.
func LoadSidecarHyperparameters(path string) map[string]any {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
