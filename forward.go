package llama2

import (
	"math"

	"github.com/llama2core/llama2core/kernels"
	"github.com/llama2core/llama2core/weights"
)

// forwardScratch holds the Transformer-owned activation buffers the
// single-token decoder step reads and writes. Because the Scheduler steps
// sessions one at a time (spec §4.5's serialized-forward approach), one
// shared scratch space is correct: no two forward passes are ever
// in-flight together.
type forwardScratch struct {
	x, xb, xb2 []float32 // dim
	hb, hb2    []float32 // hidden_dim
	q          []float32 // dim (query projection, all heads)
	att        []float32 // seq_len (attention scores for one head)
	logits     []float32 // vocab_size

	// Per-group INT8 activation quantization buffers, sized for the two
	// distinct input widths matmuls run against (dim and hidden_dim).
	// Populated by kernels.QuantizeActivation only when the checkpoint is
	// quantized; unused otherwise.
	xq []int8
	xs []float32
	hq []int8
	hs []float32
}

func newForwardScratch(cfg weights.ModelConfig) forwardScratch {
	s := forwardScratch{
		x:      make([]float32, cfg.Dim),
		xb:     make([]float32, cfg.Dim),
		xb2:    make([]float32, cfg.Dim),
		hb:     make([]float32, cfg.HiddenDim),
		hb2:    make([]float32, cfg.HiddenDim),
		q:      make([]float32, cfg.Dim),
		att:    make([]float32, cfg.SeqLen),
		logits: make([]float32, cfg.VocabSize),
	}
	if cfg.Quantized {
		dimGroups := (cfg.Dim + cfg.GroupSize - 1) / cfg.GroupSize
		hiddenGroups := (cfg.HiddenDim + cfg.GroupSize - 1) / cfg.GroupSize
		s.xq = make([]int8, cfg.Dim)
		s.xs = make([]float32, dimGroups)
		s.hq = make([]int8, cfg.HiddenDim)
		s.hs = make([]float32, hiddenGroups)
	}
	return s
}

// matVec dispatches to the float or INT8 matmul kernel depending on
// whether the checkpoint is quantized, quantizing the activation x on the
// fly into scratch buffers (xq, xs) sized for x's width.
func (t *Transformer) matVec(out, x []float32, m weights.Matrix, xq []int8, xs []float32) {
	if !m.Quantized {
		kernels.MatMulFloat(t.pool, out, x, m.Float, m.Cols, m.Rows)
		return
	}
	kernels.QuantizeActivation(xq, xs, x, m.GroupSize)
	kernels.MatMulQ8(t.pool, out, xq, xs, m.Quant, m.Scale, m.Cols, m.Rows, m.GroupSize)
}

// forward runs one decoder step for token tok at position pos, writing
// the resulting key/value projections into sess's per-layer KV cache and
// returning the (scratch-owned, valid only until the next call) logits
// over the vocabulary.
func (t *Transformer) forward(tok, pos int, sess *Session) ([]float32, error) {
	cfg := t.weights.Config()
	s := &t.scratch

	embRow, eh, err := t.weights.Matrix(weights.TokenEmbedding, -1)
	if err != nil {
		return nil, err
	}
	embeddingRow(s.x, embRow, tok)
	eh.Release()

	groupSize := cfg.NHeads / cfg.NKVHeads

	for layer := 0; layer < cfg.NLayers; layer++ {
		if err := t.forwardLayer(layer, pos, cfg, groupSize, sess); err != nil {
			return nil, err
		}
	}

	finalNorm, fh, err := t.weights.Vector(weights.FinalNorm, -1)
	if err != nil {
		return nil, err
	}
	kernels.RMSNorm(s.x, s.x, finalNorm)
	fh.Release()

	classifierKind := weights.OutputClassifier
	classifierLayer := -1
	if cfg.SharedWeights {
		classifierKind = weights.TokenEmbedding
	}
	classifier, ch, err := t.weights.Matrix(classifierKind, classifierLayer)
	if err != nil {
		return nil, err
	}
	t.matVec(s.logits, s.x, classifier, s.xq, s.xs)
	ch.Release()

	return s.logits, nil
}

func (t *Transformer) forwardLayer(layer, pos int, cfg weights.ModelConfig, groupSize int, sess *Session) error {
	s := &t.scratch

	attnNorm, anh, err := t.weights.Vector(weights.AttnNorm, layer)
	if err != nil {
		return err
	}
	kernels.RMSNorm(s.xb, s.x, attnNorm)
	anh.Release()

	wq, wqh, err := t.weights.Matrix(weights.WQ, layer)
	if err != nil {
		return err
	}
	t.matVec(s.q, s.xb, wq, s.xq, s.xs)
	wqh.Release()

	kBase := layer*cfg.SeqLen*cfg.KVDim + pos*cfg.KVDim
	kDst := sess.kCache[kBase : kBase+cfg.KVDim]
	vDst := sess.vCache[kBase : kBase+cfg.KVDim]

	wk, wkh, err := t.weights.Matrix(weights.WK, layer)
	if err != nil {
		return err
	}
	t.matVec(kDst, s.xb, wk, s.xq, s.xs)
	wkh.Release()

	wv, wvh, err := t.weights.Matrix(weights.WV, layer)
	if err != nil {
		return err
	}
	t.matVec(vDst, s.xb, wv, s.xq, s.xs)
	wvh.Release()

	kernels.RoPE(s.q, kDst, pos, cfg.HeadDim, cfg.KVDim, cfg.Dim)

	t.attention(layer, pos, cfg, groupSize, sess)

	wo, woh, err := t.weights.Matrix(weights.WO, layer)
	if err != nil {
		return err
	}
	t.matVec(s.xb2, s.xb, wo, s.xq, s.xs)
	woh.Release()

	for i := range s.x {
		s.x[i] += s.xb2[i]
	}

	ffnNorm, fnh, err := t.weights.Vector(weights.FFNNorm, layer)
	if err != nil {
		return err
	}
	kernels.RMSNorm(s.xb, s.x, ffnNorm)
	fnh.Release()

	w1, w1h, err := t.weights.Matrix(weights.W1, layer)
	if err != nil {
		return err
	}
	t.matVec(s.hb, s.xb, w1, s.hq, s.hs)
	w1h.Release()

	w3, w3h, err := t.weights.Matrix(weights.W3, layer)
	if err != nil {
		return err
	}
	t.matVec(s.hb2, s.xb, w3, s.hq, s.hs)
	w3h.Release()

	kernels.SwiGLU(s.hb, s.hb2)

	w2, w2h, err := t.weights.Matrix(weights.W2, layer)
	if err != nil {
		return err
	}
	t.matVec(s.xb, s.hb, w2, s.hq, s.hs)
	w2h.Release()

	for i := range s.x {
		s.x[i] += s.xb[i]
	}
	return nil
}

// attention computes grouped-query attention for every query head at
// position pos against the KV cache entries [0, pos], writing the
// concatenated per-head output into scratch.xb.
func (t *Transformer) attention(layer, pos int, cfg weights.ModelConfig, groupSize int, sess *Session) {
	s := &t.scratch
	layerBase := layer * cfg.SeqLen * cfg.KVDim
	scale := float32(1.0 / math.Sqrt(float64(cfg.HeadDim)))

	for h := 0; h < cfg.NHeads; h++ {
		kvHead := h / groupSize
		qh := s.q[h*cfg.HeadDim : (h+1)*cfg.HeadDim]

		for tpos := 0; tpos <= pos; tpos++ {
			kBase := layerBase + tpos*cfg.KVDim + kvHead*cfg.HeadDim
			kh := sess.kCache[kBase : kBase+cfg.HeadDim]
			s.att[tpos] = dotProduct(qh, kh) * scale
		}
		kernels.Softmax(s.att[:pos+1])

		out := s.xb[h*cfg.HeadDim : (h+1)*cfg.HeadDim]
		for i := range out {
			out[i] = 0
		}
		for tpos := 0; tpos <= pos; tpos++ {
			vBase := layerBase + tpos*cfg.KVDim + kvHead*cfg.HeadDim
			vh := sess.vCache[vBase : vBase+cfg.HeadDim]
			w := s.att[tpos]
			for i, v := range vh {
				out[i] += w * v
			}
		}
	}
}

// embeddingRow extracts one row of the token embedding matrix into dst,
// dequantizing on the fly if the checkpoint is INT8-quantized.
func embeddingRow(dst []float32, m weights.Matrix, row int) {
	if !m.Quantized {
		copy(dst, m.Float[row*m.Cols:(row+1)*m.Cols])
		return
	}
	groupsPerRow := (m.Cols + m.GroupSize - 1) / m.GroupSize
	rowBase := row * m.Cols
	scaleBase := row * groupsPerRow
	for g := 0; g < groupsPerRow; g++ {
		start := g * m.GroupSize
		end := start + m.GroupSize
		if end > m.Cols {
			end = m.Cols
		}
		scale := m.Scale[scaleBase+g]
		for j := start; j < end; j++ {
			dst[j] = float32(m.Quant[rowBase+j]) * scale
		}
	}
}

func dotProduct(a, b []float32) float32 {
	var sum float64
	for i, v := range a {
		sum += float64(v) * float64(b[i])
	}
	return float32(sum)
}
