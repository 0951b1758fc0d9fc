package tokenizer

import "unicode/utf8"

// Encode implements spec §4.3 Encode(text):
//  1. optionally prepend BOS
//  2. split into UTF-8 characters, mapping each to its vocabulary id,
//     falling back to byte-level ids for any character not present
//  3. iteratively merge the adjacent pair with the highest score until no
//     beneficial merge remains
//  4. return the final id sequence
func (tk *Tokenizer) Encode(text string, addBOS bool) []int {
	ids := make([]int, 0, len(text)+1)
	if addBOS {
		ids = append(ids, BOS)
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		chunk := text[i : i+size]
		if r == utf8.RuneError && size == 1 {
			ids = append(ids, byteFallback(text[i]))
			i++
			continue
		}
		if id, ok := tk.idFor([]byte(chunk)); ok {
			ids = append(ids, id)
		} else {
			for j := 0; j < size; j++ {
				ids = append(ids, byteFallback(text[i+j]))
			}
		}
		i += size
	}

	return tk.mergeAll(ids)
}

// mergeAll repeatedly merges the best-scoring adjacent pair until none
// merges, matching llama2's greedy BPE merge loop.
func (tk *Tokenizer) mergeAll(ids []int) []int {
	for {
		bestScore := float32(-1e30)
		bestIdx := -1
		bestID := -1
		for i := 0; i+1 < len(ids); i++ {
			merged := append(append([]byte{}, tk.surfaceRaw(ids[i])...), tk.surfaceRaw(ids[i+1])...)
			id, ok := tk.idFor(merged)
			if !ok {
				continue
			}
			score := tk.tokens[id].score
			if score > bestScore || (score == bestScore && id < bestID) {
				bestScore = score
				bestIdx = i
				bestID = id
			}
		}
		if bestIdx == -1 {
			return ids
		}
		ids[bestIdx] = bestID
		ids = append(ids[:bestIdx+1], ids[bestIdx+2:]...)
	}
}

// surfaceRaw returns the vocabulary surface bytes for id without applying
// any decode-time adjustment (used only for merge-candidate construction,
// never for output).
func (tk *Tokenizer) surfaceRaw(id int) []byte {
	if id >= byteFallbackBase && id < byteFallbackBase+256 {
		return []byte{byte(id - byteFallbackBase)}
	}
	if id < 0 || id >= len(tk.tokens) {
		return nil
	}
	return tk.tokens[id].bytes
}
