package weights

// TensorKind identifies one of the tensor families in the checkpoint's
// declaration order (spec §4.2).
type TensorKind int

const (
	TokenEmbedding TensorKind = iota
	AttnNorm
	WQ
	WK
	WV
	WO
	FFNNorm
	W1
	W2
	W3
	FinalNorm
	OutputClassifier
)

// twoDimensional reports whether a tensor kind is a quantizable matrix
// (as opposed to a 1-D RMSNorm weight, which is always float32).
func (k TensorKind) twoDimensional() bool {
	switch k {
	case AttnNorm, FFNNorm, FinalNorm:
		return false
	default:
		return true
	}
}

// region describes one tensor's location within the payload: its element
// count (rows*cols for matrices, length for vectors) and, for quantized
// matrices, the parallel scale array that precedes it.
type region struct {
	kind       TensorKind
	layer      int // -1 for non-per-layer tensors
	rows, cols int
	elemOffset int64 // offset in elements (float32 or int8) from start of its own plane
	scaleOffset int64 // offset in float32 scales, quantized tensors only
	numGroups  int64
}

func (r region) count() int64 { return int64(r.rows) * int64(r.cols) }

// Layout precomputes the byte/element layout of every tensor in the
// checkpoint given its hyperparameters, in the declaration order from
// spec §4.2: token embedding, then per layer (attn-norm, WQ, WK, WV, WO,
// ffn-norm, W1, W2, W3), then final norm, then (iff not shared) the output
// classifier.
//
// Float and quantized checkpoints use the same tensor ordering; quantized
// matrices are additionally preceded by a per-group float32 scale array,
// tracked here via a second, independent running offset (scaleOffset).
type Layout struct {
	cfg     ModelConfig
	regions []region

	floatElems int64 // total float32 elements across all tensors (quantized: norms + scales)
	quantElems int64 // total int8 elements across quantized matrices
}

// BuildLayout computes the full tensor layout for cfg.
func BuildLayout(cfg ModelConfig) Layout {
	l := Layout{cfg: cfg}
	var floatOff, quantOff, scaleOff int64

	addMatrix := func(kind TensorKind, layer, rows, cols int) {
		r := region{kind: kind, layer: layer, rows: rows, cols: cols}
		if cfg.Quantized {
			r.elemOffset = quantOff
			n := r.count()
			r.numGroups = (n + int64(cfg.GroupSize) - 1) / int64(cfg.GroupSize)
			r.scaleOffset = scaleOff
			scaleOff += r.numGroups
			quantOff += n
		} else {
			r.elemOffset = floatOff
			floatOff += r.count()
		}
		l.regions = append(l.regions, r)
	}
	addVector := func(kind TensorKind, layer, n int) {
		r := region{kind: kind, layer: layer, rows: n, cols: 1, elemOffset: floatOff}
		floatOff += int64(n)
		l.regions = append(l.regions, r)
	}

	addMatrix(TokenEmbedding, -1, cfg.VocabSize, cfg.Dim)
	for layer := 0; layer < cfg.NLayers; layer++ {
		addVector(AttnNorm, layer, cfg.Dim)
		addMatrix(WQ, layer, cfg.Dim, cfg.Dim)
		addMatrix(WK, layer, cfg.KVDim, cfg.Dim)
		addMatrix(WV, layer, cfg.KVDim, cfg.Dim)
		addMatrix(WO, layer, cfg.Dim, cfg.Dim)
		addVector(FFNNorm, layer, cfg.Dim)
		addMatrix(W1, layer, cfg.HiddenDim, cfg.Dim)
		addMatrix(W2, layer, cfg.Dim, cfg.HiddenDim)
		addMatrix(W3, layer, cfg.HiddenDim, cfg.Dim)
	}
	addVector(FinalNorm, -1, cfg.Dim)
	if !cfg.SharedWeights {
		addMatrix(OutputClassifier, -1, cfg.VocabSize, cfg.Dim)
	}

	// Quantized scales are stored as a float32 plane that sits logically
	// alongside the norm vectors; give scale offsets room after the norms
	// by rebasing them past floatOff, which at this point holds only the
	// total size of all 1-D (always-float) tensors.
	if cfg.Quantized {
		for i := range l.regions {
			if l.regions[i].kind.twoDimensional() {
				l.regions[i].scaleOffset += floatOff
			}
		}
		l.floatElems = floatOff + scaleOff
		l.quantElems = quantOff
	} else {
		l.floatElems = floatOff
	}
	return l
}

func (l Layout) find(kind TensorKind, layer int) (region, bool) {
	for _, r := range l.regions {
		if r.kind == kind && r.layer == layer {
			return r, true
		}
	}
	return region{}, false
}

// ByteSize returns the total payload size in bytes implied by this layout,
// used to validate a checkpoint file's actual length and to size a paged
// cache's largest single fetch.
func (l Layout) ByteSize() int64 {
	size := l.floatElems * 4
	if l.cfg.Quantized {
		size += l.quantElems // int8, one byte each
	}
	return size
}

// LargestRegionBytes returns the byte footprint of the largest single
// tensor (its quantized bytes plus scales, or its float32 bytes), which a
// paged cache's budget must be able to hold in full.
func (l Layout) LargestRegionBytes() int64 {
	var max int64
	for _, r := range l.regions {
		var sz int64
		if l.cfg.Quantized && r.kind.twoDimensional() {
			sz = r.count() + r.numGroups*4
		} else {
			sz = r.count() * 4
		}
		if sz > max {
			max = sz
		}
	}
	return max
}
