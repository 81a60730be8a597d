package store

import (
	"fmt"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token cost of a piece of message content.
// Counters must be pure: identical input yields identical output.
type TokenCounter interface {
	Count(s string) int
}

// HeuristicCounter estimates tokens without a tokenizer model:
// ceil(runes/4) + ceil(specials/2) + ceil(newlines/2), where a special is
// any rune that is neither a letter, digit, nor whitespace.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	var runes, specials, newlines int
	for _, r := range s {
		runes++
		switch {
		case r == '\n':
			newlines++
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
		default:
			specials++
		}
	}
	return ceilDiv(runes, 4) + ceilDiv(specials, 2) + ceilDiv(newlines, 2)
}

func ceilDiv(n, d int) int { return (n + d - 1) / d }

// TiktokenCounter counts tokens with a real BPE encoding. Used when exact
// counts matter more than the startup cost of loading the encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	return len(c.enc.Encode(s, nil, nil))
}
