package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"chatrelay/internal/models"
)

// Counter measures text in model tokens. Counting is deterministic for a
// given encoding, so callers may treat it as a pure function.
type Counter interface {
	CountTokens(text string) int
	CountMessageTokens(role models.Role, content string) int
}

// messageOverhead approximates the per-message formatting cost of the chat
// completion wire format.
const messageOverhead = 4

// TiktokenCounter counts tokens with the BPE encoding of the configured model.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves the encoding for the model, falling back to
// cl100k_base when the model is unknown.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("resolve token encoding: %w", err)
		}
	}
	return &TiktokenCounter{encoding: enc}, nil
}

var _ Counter = (*TiktokenCounter)(nil)

func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountMessageTokens(role models.Role, content string) int {
	return c.CountTokens(string(role)) + c.CountTokens(content) + messageOverhead
}
