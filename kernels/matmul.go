package kernels

// MatMulFloat computes out = W * x for a dense [outDim x inDim] row-major
// weight matrix W and input vector x of length inDim, writing outDim
// values into out. pool, if non-nil, divides the outDim rows across its
// workers; a nil pool runs serially (used for pool size 1).
func MatMulFloat(pool *Pool, out, x, w []float32, inDim, outDim int) {
	row := func(i int) {
		base := i * inDim
		out[i] = dot(w[base:base+inDim], x)
	}
	runRows(pool, outDim, row)
}

// MatMulQ8 computes out = W_q * x for a per-group INT8-quantized weight
// matrix, dequantizing in blocks of groupSize and accumulating in
// float32, per spec §4.4. x arrives already quantized to int8 with a
// per-group absmax scale (xq, xs); the caller computes these with
// QuantizeActivation immediately before each call.
func MatMulQ8(pool *Pool, out []float32, xq []int8, xs []float32, wq []int8, ws []float32, inDim, outDim, groupSize int) {
	groupsPerRow := (inDim + groupSize - 1) / groupSize
	row := func(i int) {
		var acc float32
		rowBase := i * inDim
		scaleBase := i * groupsPerRow
		for g := 0; g < groupsPerRow; g++ {
			start := g * groupSize
			end := start + groupSize
			if end > inDim {
				end = inDim
			}
			var groupSum int32
			for j := start; j < end; j++ {
				groupSum += int32(xq[j]) * int32(wq[rowBase+j])
			}
			acc += float32(groupSum) * xs[g] * ws[scaleBase+g]
		}
		out[i] = acc
	}
	runRows(pool, outDim, row)
}

// QuantizeActivation quantizes x into per-group int8 values with a
// per-group absmax scale, the activation-side half of MatMulQ8's on-the-fly
// quantization.
func QuantizeActivation(xq []int8, xs []float32, x []float32, groupSize int) {
	groups := (len(x) + groupSize - 1) / groupSize
	for g := 0; g < groups; g++ {
		start := g * groupSize
		end := start + groupSize
		if end > len(x) {
			end = len(x)
		}
		var max float32
		for _, v := range x[start:end] {
			if abs := absf32(v); abs > max {
				max = abs
			}
		}
		scale := max / 127.0
		if scale == 0 {
			scale = 1
		}
		xs[g] = scale
		for j := start; j < end; j++ {
			xq[j] = int8(x[j] / scale)
		}
	}
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
