package service

import (
	"encoding/json"
	"strings"
)

// StreamChunkParser is the interface for provider-specific chunk parsing
type StreamChunkParser interface {
	ParseChunk(data []byte) (*StreamChunk, error)
}

// rawStreamChunk covers both the plain OpenAI delta and the reasoning
// variants (reasoning_content on NVIDIA/DeepSeek, reasoning elsewhere).
type rawStreamChunk struct {
	Choices []struct {
		Delta struct {
			Role             string  `json:"role,omitempty"`
			Content          string  `json:"content,omitempty"`
			ReasoningContent *string `json:"reasoning_content,omitempty"`
			Reasoning        *string `json:"reasoning,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

func decodeStreamChunk(data []byte, withReasoning bool) (*StreamChunk, error) {
	var raw rawStreamChunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	chunk := &StreamChunk{}
	if len(raw.Choices) == 0 {
		return chunk, nil
	}

	choice := raw.Choices[0]
	chunk.Role = choice.Delta.Role
	chunk.Content = choice.Delta.Content
	chunk.Done = choice.FinishReason != nil && *choice.FinishReason != ""

	if withReasoning {
		switch {
		case choice.Delta.ReasoningContent != nil:
			chunk.ThinkingContent = *choice.Delta.ReasoningContent
		case choice.Delta.Reasoning != nil:
			chunk.ThinkingContent = *choice.Delta.Reasoning
		}
	}
	return chunk, nil
}

// NVIDIAStreamChunkParser keeps reasoning deltas as thinking content
type NVIDIAStreamChunkParser struct{}

// ParseChunk converts an NVIDIA chunk to a StreamChunk
func (p *NVIDIAStreamChunkParser) ParseChunk(data []byte) (*StreamChunk, error) {
	return decodeStreamChunk(data, true)
}

// OpenAIStreamChunkParser reads standard content deltas only
type OpenAIStreamChunkParser struct{}

// ParseChunk converts a standard OpenAI chunk to a StreamChunk
func (p *OpenAIStreamChunkParser) ParseChunk(data []byte) (*StreamChunk, error) {
	return decodeStreamChunk(data, false)
}

// IsNVIDIAProvider checks if the base URL is NVIDIA API
func IsNVIDIAProvider(baseURL string) bool {
	return strings.Contains(baseURL, "integrate.api.nvidia.com")
}

// IsOpenAIProvider checks if the base URL is official OpenAI API
func IsOpenAIProvider(baseURL string) bool {
	return strings.Contains(baseURL, "api.openai.com")
}

// chunkParserFor picks a parser by base URL. Unknown OpenAI-compatible hosts
// (vLLM, Ollama, OpenRouter) often send reasoning deltas, so they get the
// reasoning-aware parser too.
func chunkParserFor(baseURL string) (StreamChunkParser, string) {
	switch {
	case IsOpenAIProvider(baseURL):
		return &OpenAIStreamChunkParser{}, "openai"
	case IsNVIDIAProvider(baseURL):
		return &NVIDIAStreamChunkParser{}, "nvidia"
	default:
		return &NVIDIAStreamChunkParser{}, "openai-compatible"
	}
}
