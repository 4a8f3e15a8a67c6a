package normalize

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens counts tokens in text with the o200k BPE encoding, the
// closest common denominator across current chat models. When the codec
// cannot be initialized it falls back to the rough chars/4 approximation.
// Exact per-model counts are not required here: the result only feeds the
// truncation ratio heuristic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.O200kBase)
		if err == nil {
			codec = c
		}
	})
	if codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
