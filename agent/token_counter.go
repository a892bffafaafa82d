// Package agent implements the conversation context management and LLM
// orchestration for the chat service: token counting, stale-reference
// filtering, budget truncation, ordinal task resolution, and the tool
// loop against the MCP server.
package agent

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter is the sizing oracle used by the truncator. Satisfied by
// TokenCounter; tests substitute simpler implementations.
type Counter interface {
	Count(text string) int
}

// modelToEncoding maps model name prefixes to their tiktoken encoding.
// Everything current speaks cl100k_base; the map exists so new model
// families can diverge without touching call sites.
var modelToEncoding = map[string]string{
	"gpt-4":   "cl100k_base",
	"gpt-3.5": "cl100k_base",
	"gemini":  "cl100k_base",
	"claude":  "cl100k_base",
	"mistral": "cl100k_base",
	"llama":   "cl100k_base",
}

// EncodingForModel returns the tiktoken encoding name for a model,
// falling back to cl100k_base for unknown families.
func EncodingForModel(model string) string {
	lower := strings.ToLower(model)
	if name, ok := tiktoken.MODEL_TO_ENCODING[lower]; ok {
		return name
	}
	for prefix, name := range modelToEncoding {
		if strings.Contains(lower, prefix) {
			return name
		}
	}
	return "cl100k_base"
}

// TokenCounter counts tokens with a fixed tiktoken encoding. Construct it
// once at startup; an unavailable encoding is a configuration error, not
// something to retry per request.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTokenCounter builds a counter for the named encoding.
func NewTokenCounter(encodingName string) (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("encoding %q unavailable: %w", encodingName, err)
	}
	return &TokenCounter{encoding: encoding, name: encodingName}, nil
}

// Count returns the number of tokens in text. Count("") == 0.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// EncodingName returns the encoding this counter was built with.
func (t *TokenCounter) EncodingName() string { return t.name }
