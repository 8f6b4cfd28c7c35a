package chunk

import (
	"fmt"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter measures text length in model tokens.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts cl100k_base BPE tokens, matching what embedding
// and chat models see.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("chunk: load cl100k_base: %w", err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter approximates tokens as whitespace-separated words. Used when
// the BPE data is unavailable and in tests, where it is deterministic.
type WordCounter struct{}

func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }
