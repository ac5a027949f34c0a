package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable
// approximation for Claude-family models.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Estimate returns an approximate token count for the given text. Used
// where the provider reports no usage, e.g. locally authored messages.
func Estimate(text string) (int, error) {
	c, err := getCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EstimateSimple returns an approximate token count, falling back to a
// chars/4 heuristic if the tokenizer is unavailable.
func EstimateSimple(text string) int {
	count, err := Estimate(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return count
}
