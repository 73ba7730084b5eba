// Package usage resolves per-conversation token usage from the upstream
// conversational API.
package usage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNegativeCount is returned when the upstream reports a negative token count.
var ErrNegativeCount = errors.New("negative token count")

// Record is the token usage of one run within a conversation.
type Record struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Validate rejects records the pricing layer cannot accept.
func (r Record) Validate() error {
	if r.PromptTokens < 0 || r.CompletionTokens < 0 {
		return fmt.Errorf("%w: prompt=%d completion=%d", ErrNegativeCount, r.PromptTokens, r.CompletionTokens)
	}
	return nil
}

// Lookup returns the usage records of a conversation. An empty slice is a
// valid result for a conversation that has not consumed any tokens.
type Lookup interface {
	Lookup(ctx context.Context, conversationID string) ([]Record, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, conversationID string) ([]Record, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, conversationID string) ([]Record, error) {
	return f(ctx, conversationID)
}
