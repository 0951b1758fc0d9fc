// Package tokenizer implements the byte-pair encoder/decoder described in
// spec §4.3: a vocabulary indexed by both id and surface form, control
// tokens, UTF-8 byte fallback, and a chat-template overlay.
package tokenizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/llama2core/llama2core/internal/apierr"
)

// Control token ids, fixed per spec §6.
const (
	BOS = 1
	EOS = 2
)

// byteFallbackBase is the first id (3) of the 256 single-byte fallback
// tokens (3..258), covering every possible byte that isn't otherwise a
// vocabulary entry.
const byteFallbackBase = 3

// token is one vocabulary entry.
type token struct {
	bytes []byte
	score float32
}

// Tokenizer holds the loaded vocabulary, indexed both by id (the primary
// table) and by surface bytes (for longest-prefix / merge lookup).
type Tokenizer struct {
	tokens       []token
	idByBytes    map[string]int
	maxTokenLen  int
}

// Load reads a tokenizer file in the format from spec §6: int32
// max-token-length, then for i = 0..vocab_size-1: float32 score, int32
// length, length bytes.
func Load(path string, vocabSize int) (*Tokenizer, error) {
	if path == "" {
		return nil, fmt.Errorf("tokenizer: empty path: %w", apierr.ErrBadPath)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: open %q: %w: %v", path, apierr.ErrBadPath, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var maxLen int32
	if err := binary.Read(r, binary.LittleEndian, &maxLen); err != nil {
		return nil, fmt.Errorf("tokenizer: read max token length: %w: %v", apierr.ErrIoError, err)
	}

	tk := &Tokenizer{
		tokens:      make([]token, vocabSize),
		idByBytes:   make(map[string]int, vocabSize),
		maxTokenLen: int(maxLen),
	}

	for i := 0; i < vocabSize; i++ {
		var score float32
		if err := binary.Read(r, binary.LittleEndian, &score); err != nil {
			return nil, fmt.Errorf("tokenizer: read score for token %d: %w: %v", i, apierr.ErrIoError, err)
		}
		var length int32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("tokenizer: read length for token %d: %w: %v", i, apierr.ErrIoError, err)
		}
		if length < 0 || int(length) > tk.maxTokenLen*4 {
			return nil, fmt.Errorf("tokenizer: token %d length %d exceeds file: %w", i, length, apierr.ErrBadFormat)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("tokenizer: read bytes for token %d: %w: %v", i, apierr.ErrIoError, err)
		}
		tk.tokens[i] = token{bytes: buf, score: score}
		tk.idByBytes[string(buf)] = i
	}
	return tk, nil
}

// VocabSize returns the number of loaded vocabulary entries.
func (tk *Tokenizer) VocabSize() int { return len(tk.tokens) }

// idFor returns the vocabulary id for the exact surface bytes s, if present.
func (tk *Tokenizer) idFor(s []byte) (int, bool) {
	id, ok := tk.idByBytes[string(s)]
	return id, ok
}

// byteFallback returns the fixed id for a single raw byte, per spec §3:
// "Bytes outside any vocabulary token are encoded as <0xNN> fallback
// tokens occupying ids 3..258."
func byteFallback(b byte) int { return byteFallbackBase + int(b) }

// surface returns the surface bytes for id, handling the <0xNN> fallback
// tokens by synthesizing the single raw byte they represent.
func (tk *Tokenizer) surface(id int) []byte {
	if id >= byteFallbackBase && id < byteFallbackBase+256 {
		if id < len(tk.tokens) && tk.tokens[id].bytes != nil {
			// A real vocabulary entry also lives at this id (common for
			// llama2 vocabularies, which place literal single-byte
			// entries in this same range); prefer it so printable bytes
			// round-trip through their natural surface form.
			return tk.tokens[id].bytes
		}
		return []byte{byte(id - byteFallbackBase)}
	}
	if id < 0 || id >= len(tk.tokens) {
		return nil
	}
	return tk.tokens[id].bytes
}

// Decode returns the surface bytes for id given the previously emitted
// token prevID, applying the two llama2 detokenization adjustments from
// spec §4.3:
//
//	(a) if prevID == BOS and the bytes begin with a leading space, strip it
//	(b) if the bytes spell "<0xNN>", emit the raw byte NN
func (tk *Tokenizer) Decode(prevID, id int) []byte {
	raw := tk.surface(id)
	if n, ok := parseByteLiteral(raw); ok {
		return []byte{n}
	}
	if prevID == BOS && len(raw) > 0 && raw[0] == ' ' {
		return raw[1:]
	}
	return raw
}

// parseByteLiteral recognizes a "<0xNN>" surface string and returns its
// raw byte value.
func parseByteLiteral(b []byte) (byte, bool) {
	if len(b) != 6 || b[0] != '<' || b[1] != '0' || b[2] != 'x' || b[5] != '>' {
		return 0, false
	}
	hi, ok1 := hexDigit(b[3])
	lo, ok2 := hexDigit(b[4])
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi<<4 | lo, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
