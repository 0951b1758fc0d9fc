package llama2

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/llama2core/llama2core/weights"
)

// testShapes is a deliberately tiny model big enough to exercise every
// shape-dependent path in forward.go (grouped-query attention, the
// residual adds, the FFN) without the cost of a real checkpoint.
type testShapes struct {
	dim, hiddenDim, nLayers, nHeads, nKVHeads, vocabSize, seqLen int
}

func smallShapes() testShapes {
	return testShapes{dim: 8, hiddenDim: 16, nLayers: 2, nHeads: 2, nKVHeads: 1, vocabSize: 259, seqLen: 8}
}

// buildCheckpoint writes a plain (non-quantized) checkpoint with
// pseudo-random weights, in the exact tensor order weights.BuildLayout
// expects, and returns its bytes.
func buildCheckpoint(t *testing.T, s testShapes) []byte {
	t.Helper()
	headDim := s.dim / s.nHeads
	kvDim := headDim * s.nKVHeads

	var buf bytes.Buffer
	header := []int32{
		int32(s.dim), int32(s.hiddenDim), int32(s.nLayers),
		int32(s.nHeads), int32(s.nKVHeads), int32(-s.vocabSize), int32(s.seqLen),
	}
	for _, v := range header {
		must(t, binary.Write(&buf, binary.LittleEndian, v))
	}

	rng := rand.New(rand.NewSource(1))
	writeFloats := func(n int) {
		for i := 0; i < n; i++ {
			must(t, binary.Write(&buf, binary.LittleEndian, float32(rng.NormFloat64()*0.05)))
		}
	}

	writeFloats(s.vocabSize * s.dim) // token embedding
	for layer := 0; layer < s.nLayers; layer++ {
		writeFloats(s.dim)             // attn norm
		writeFloats(s.dim * s.dim)     // wq
		writeFloats(s.dim * kvDim)     // wk
		writeFloats(s.dim * kvDim)     // wv
		writeFloats(s.dim * s.dim)     // wo
		writeFloats(s.dim)             // ffn norm
		writeFloats(s.dim * s.hiddenDim) // w1
		writeFloats(s.hiddenDim * s.dim) // w2
		writeFloats(s.dim * s.hiddenDim) // w3
	}
	writeFloats(s.dim)                 // final norm
	writeFloats(s.vocabSize * s.dim)   // output classifier (unshared)

	return buf.Bytes()
}

// writeTestTokenizer writes a minimal but well-formed vocabulary file:
// the 259 ids every byte-fallback-capable tokenizer needs (an unused slot
// at 0, BOS at 1, EOS at 2, and literal "<0xNN>" entries at 3..258) and
// nothing else, so every prompt encodes to byte-fallback ids.
func writeTestTokenizer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenizer.bin")

	var buf bytes.Buffer
	must(t, binary.Write(&buf, binary.LittleEndian, int32(8))) // max_token_len

	writeEntry := func(score float32, s string) {
		must(t, binary.Write(&buf, binary.LittleEndian, score))
		must(t, binary.Write(&buf, binary.LittleEndian, int32(len(s))))
		buf.WriteString(s)
	}

	writeEntry(0, "<unk>")
	writeEntry(0, "<s>")
	writeEntry(0, "</s>")
	for b := 0; b < 256; b++ {
		writeEntry(-1, byteLiteral(byte(b)))
	}

	must(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func byteLiteral(b byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{'<', '0', 'x', hex[b>>4], hex[b&0xf], '>'})
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testEngineConfig(checkpoint []byte, tokPath string) EngineConfig {
	return EngineConfig{
		APIVersion:    APIVersion,
		TokenizerPath: tokPath,
		ModelAccess:   weights.AccessAbsolute,
		ModelBase:     checkpoint,
		Threads:       2,
		MaxSessions:   1,
	}
}
