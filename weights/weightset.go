package weights

import (
	"fmt"

	"github.com/llama2core/llama2core/internal/apierr"
	"github.com/llama2core/llama2core/internal/binfmt"
)

// Matrix is a dense 2-D weight, either plain float32 or symmetric per-group
// INT8 quantized. Exactly one of Float or (Quant, Scale) is populated,
// selected by Quantized.
type Matrix struct {
	Rows, Cols int
	Quantized  bool
	GroupSize  int

	Float []float32 // len == Rows*Cols, iff !Quantized
	Quant []int8    // len == Rows*Cols, iff Quantized
	Scale []float32 // one scale per GroupSize-element group, iff Quantized
}

// WeightSet is the uniform view over a checkpoint's tensors (spec §3
// "WeightSet"), combining a Layout (where things are) with a Store (how
// bytes are obtained).
type WeightSet struct {
	cfg    ModelConfig
	layout Layout
	store  Store
}

// NewWeightSet validates that store's backing payload is at least as long
// as layout requires, and returns a WeightSet over it.
func NewWeightSet(cfg ModelConfig, layout Layout, store Store) (*WeightSet, error) {
	// A cheap end-to-end sanity probe: request the very last byte the
	// layout says should exist. This surfaces a truncated file immediately
	// rather than on the first forward pass.
	size := layout.ByteSize()
	if size > 0 {
		h, err := store.Slice(size-1, 1)
		if err != nil {
			return nil, fmt.Errorf("weights: checkpoint shorter than header declares: %w", apierr.ErrBadFormat)
		}
		h.Release()
	}
	return &WeightSet{cfg: cfg, layout: layout, store: store}, nil
}

// Vector returns a 1-D RMSNorm weight (always float32). The returned
// Handle must be released once the caller is done reading.
func (w *WeightSet) Vector(kind TensorKind, layer int) ([]float32, Handle, error) {
	r, ok := w.layout.find(kind, layer)
	if !ok {
		return nil, Handle{}, fmt.Errorf("weights: no such tensor kind=%d layer=%d: %w", kind, layer, apierr.ErrBadFormat)
	}
	h, err := w.store.Slice(r.elemOffset*4, r.count()*4)
	if err != nil {
		return nil, Handle{}, err
	}
	return binfmt.Float32s(h.Bytes()), h, nil
}

// Matrix returns a 2-D weight, quantized or not according to the
// checkpoint. Two Handles may need releasing for a quantized matrix (data
// + scales); both are bundled into a single composite release via the
// returned Handle.
func (w *WeightSet) Matrix(kind TensorKind, layer int) (Matrix, Handle, error) {
	r, ok := w.layout.find(kind, layer)
	if !ok {
		return Matrix{}, Handle{}, fmt.Errorf("weights: no such tensor kind=%d layer=%d: %w", kind, layer, apierr.ErrBadFormat)
	}
	m := Matrix{Rows: r.rows, Cols: r.cols, Quantized: w.cfg.Quantized, GroupSize: w.cfg.GroupSize}
	if !w.cfg.Quantized {
		dh, err := w.store.Slice(r.elemOffset*4, r.count()*4)
		if err != nil {
			return Matrix{}, Handle{}, err
		}
		m.Float = binfmt.Float32s(dh.Bytes())
		return m, dh, nil
	}

	dh, err := w.store.Slice(r.elemOffset, r.count())
	if err != nil {
		return Matrix{}, Handle{}, err
	}
	sh, err := w.store.Slice(r.scaleOffset*4, r.numGroups*4)
	if err != nil {
		dh.Release()
		return Matrix{}, Handle{}, err
	}
	m.Quant = binfmt.Int8s(dh.Bytes())
	m.Scale = binfmt.Float32s(sh.Bytes())
	return m, Handle{release: func() { dh.Release(); sh.Release() }}, nil
}

// Config returns the checkpoint's hyperparameters.
func (w *WeightSet) Config() ModelConfig { return w.cfg }

// Close releases the underlying store.
func (w *WeightSet) Close() error { return w.store.Close() }

// Summary renders a short human-readable description of the loaded model,
// used to fill the desc buffer in the public Config (spec §6).
func (w *WeightSet) Summary(name string) string {
	kind := "float32"
	if w.cfg.Quantized {
		kind = fmt.Sprintf("int8 (group=%d)", w.cfg.GroupSize)
	}
	return fmt.Sprintf(
		"%s: dim=%d hidden=%d layers=%d heads=%d kv_heads=%d vocab=%d seq_len=%d weights=%s",
		name, w.cfg.Dim, w.cfg.HiddenDim, w.cfg.NLayers, w.cfg.NHeads, w.cfg.NKVHeads, w.cfg.VocabSize, w.cfg.SeqLen, kind,
	)
}
