package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRMSNorm(t *testing.T) {
	x := []float32{1, 2, 3}
	w := []float32{1, 1, 1}
	out := make([]float32, 3)
	RMSNorm(out, x, w)

	meanSq := (1.0 + 4.0 + 9.0) / 3.0
	scale := 1.0 / math.Sqrt(meanSq+1e-5)
	assert.InDelta(t, 1*scale, out[0], 1e-4)
	assert.InDelta(t, 2*scale, out[1], 1e-4)
	assert.InDelta(t, 3*scale, out[2], 1e-4)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	// monotonic: larger input -> larger probability
	assert.True(t, x[3] > x[2] && x[2] > x[1] && x[1] > x[0])
}

func TestRoPEPreservesPairNorm(t *testing.T) {
	// Rotation is norm-preserving per pair.
	q := []float32{1, 0, 0, 1}
	k := []float32{1, 0}
	RoPE(q, k, 5, 4, 2, 4)
	n0 := q[0]*q[0] + q[1]*q[1]
	n1 := q[2]*q[2] + q[3]*q[3]
	assert.InDelta(t, 1.0, n0, 1e-5)
	assert.InDelta(t, 1.0, n1, 1e-5)
}

func TestRoPEZeroPositionIsIdentity(t *testing.T) {
	q := []float32{1, 2, 3, 4}
	k := []float32{5, 6}
	RoPE(q, k, 0, 4, 2, 4)
	assert.Equal(t, []float32{1, 2, 3, 4}, q)
	assert.Equal(t, []float32{5, 6}, k)
}

func TestSwiGLU(t *testing.T) {
	hb := []float32{0, 1, -1}
	hb2 := []float32{2, 2, 2}
	SwiGLU(hb, hb2)
	// at x=0, sigmoid(0)=0.5, so swiglu(0)=0
	assert.InDelta(t, 0, hb[0], 1e-6)
	// x*sigmoid(x)*2 for x=1
	sig1 := 1.0 / (1.0 + math.Exp(-1))
	assert.InDelta(t, 1*sig1*2, hb[1], 1e-4)
}

func TestMatMulFloatMatchesNaive(t *testing.T) {
	w := []float32{1, 2, 3, 4, 5, 6} // 2x3
	x := []float32{1, 1, 1}
	out := make([]float32, 2)
	MatMulFloat(nil, out, x, w, 3, 2)
	assert.Equal(t, []float32{6, 15}, out)
}

func TestMatMulFloatParallelMatchesSerial(t *testing.T) {
	const inDim, outDim = 16, 37
	w := make([]float32, inDim*outDim)
	x := make([]float32, inDim)
	for i := range w {
		w[i] = float32(i%7) - 3
	}
	for i := range x {
		x[i] = float32(i) * 0.5
	}
	serial := make([]float32, outDim)
	MatMulFloat(nil, serial, x, w, inDim, outDim)

	parallel := make([]float32, outDim)
	MatMulFloat(NewPool(4), parallel, x, w, inDim, outDim)

	for i := range serial {
		assert.InDelta(t, serial[i], parallel[i], 1e-3)
	}
}

func TestQuantizeActivationRoundTripsWithinScale(t *testing.T) {
	x := []float32{1, -2, 3, -4, 0.5}
	xq := make([]int8, len(x))
	xs := make([]float32, 1)
	QuantizeActivation(xq, xs, x, 8)
	for i, v := range x {
		dq := float32(xq[i]) * xs[0]
		assert.InDelta(t, v, dq, xs[0]+1e-3)
	}
}

func TestMatMulQ8MatchesFloatWithinQuantizationError(t *testing.T) {
	const inDim, outDim, group = 8, 3, 4
	w := []float32{
		1, 2, 3, 4, 5, 6, 7, 8,
		-1, -2, -3, -4, -5, -6, -7, -8,
		0.5, 1.5, 2.5, 3.5, -0.5, -1.5, -2.5, -3.5,
	}
	x := []float32{1, 1, 1, 1, 1, 1, 1, 1}

	wantF := make([]float32, outDim)
	MatMulFloat(nil, wantF, x, w, inDim, outDim)

	groupsPerRow := inDim / group
	wq := make([]int8, len(w))
	ws := make([]float32, outDim*groupsPerRow)
	for r := 0; r < outDim; r++ {
		QuantizeActivation(wq[r*inDim:(r+1)*inDim], ws[r*groupsPerRow:(r+1)*groupsPerRow], w[r*inDim:(r+1)*inDim], group)
	}
	xq := make([]int8, inDim)
	xs := make([]float32, groupsPerRow)
	QuantizeActivation(xq, xs, x, group)

	got := make([]float32, outDim)
	MatMulQ8(nil, got, xq, xs, wq, ws, inDim, outDim, group)

	for i := range wantF {
		assert.InDelta(t, wantF[i], got[i], 1.0) // coarse int8 quantization tolerance
	}
}
