package tokenizer

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestVocab writes entries as a tiny on-disk tokenizer file, matching
// the file layout in spec §6. byteVocab supplies control placeholders at
// ids 0..2, byte-fallback entries at 3..258, and any extra merge-able
// tokens after them.
func writeTestVocab(t *testing.T, entries []token) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "vocab-*.bin")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, binary.Write(f, binary.LittleEndian, int32(16)))
	for _, e := range entries {
		require.NoError(t, binary.Write(f, binary.LittleEndian, e.score))
		require.NoError(t, binary.Write(f, binary.LittleEndian, int32(len(e.bytes))))
		_, err := f.Write(e.bytes)
		require.NoError(t, err)
	}
	return f.Name()
}

func byteVocab(extra ...token) []token {
	out := make([]token, 3, 3+256+len(extra))
	out[0] = token{bytes: []byte("<s>")}
	out[1] = token{bytes: []byte("<s>")}
	out[2] = token{bytes: []byte("</s>")}
	for b := 0; b < 256; b++ {
		out = append(out, token{bytes: []byte(byteLiteral(byte(b)))})
	}
	return append(out, extra...)
}

func byteLiteral(b byte) string {
	const hex = "0123456789ABCDEF"
	return "<0x" + string(hex[b>>4]) + string(hex[b&0xF]) + ">"
}

func TestDecodeStripsLeadingSpaceAfterBOS(t *testing.T) {
	vocab := byteVocab(token{bytes: []byte(" hello"), score: 1})
	path := writeTestVocab(t, vocab)
	tk, err := Load(path, len(vocab))
	require.NoError(t, err)

	got := tk.Decode(BOS, len(vocab)-1)
	assert.Equal(t, "hello", string(got))
}

func TestDecodeByteFallbackLiteral(t *testing.T) {
	vocab := byteVocab()
	path := writeTestVocab(t, vocab)
	tk, err := Load(path, len(vocab))
	require.NoError(t, err)

	got := tk.Decode(0, byteFallback('A'))
	assert.Equal(t, []byte{'A'}, got)
}

func TestEncodeRoundTrip(t *testing.T) {
	// "ab" merges into a single higher-scoring token; round tripping the
	// encoding (minus BOS) through Decode must reproduce the original
	// string, per spec §8 property 4.
	vocab := byteVocab(token{bytes: []byte("ab"), score: 10})
	path := writeTestVocab(t, vocab)
	tk, err := Load(path, len(vocab))
	require.NoError(t, err)

	ids := tk.Encode("ab", true)
	require.Equal(t, []int{BOS, len(vocab) - 1}, ids)

	var out bytes.Buffer
	prev := BOS
	for _, id := range ids[1:] {
		out.Write(tk.Decode(prev, id))
		prev = id
	}
	assert.Equal(t, "ab", out.String())
}

func TestEncodeFallsBackToBytesForUnknownRune(t *testing.T) {
	vocab := byteVocab()
	path := writeTestVocab(t, vocab)
	tk, err := Load(path, len(vocab))
	require.NoError(t, err)

	ids := tk.Encode("A", false)
	assert.Equal(t, []int{byteFallback('A')}, ids)
}

func TestWrapChatWithAndWithoutSystem(t *testing.T) {
	assert.Equal(t, "[INST] hello [/INST]", WrapChat("", "hello"))
	assert.Equal(t, "[INST] <<SYS>>\nbe nice\n<</SYS>>\n\nhello [/INST]", WrapChat("be nice", "hello"))
}
