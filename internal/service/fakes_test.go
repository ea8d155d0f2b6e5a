package service

import (
	"context"
	"errors"
	"sync"
)

// fakeAIClient is an in-memory AIClient
type fakeAIClient struct {
	mu sync.Mutex

	disabled   bool
	replies    []string // returned in order; the last one repeats
	chatErr    error
	chunks     []StreamChunk
	embedFn    func(inputs []string) ([][]float32, error)
	requests   []ChatCompletionRequest
	embedCalls [][]string
}

func (f *fakeAIClient) IsEnabled() bool { return !f.disabled }

func (f *fakeAIClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if len(f.replies) == 0 {
		return nil, errors.New("no reply configured")
	}
	idx := min(len(f.requests)-1, len(f.replies)-1)

	resp := &ChatCompletionResponse{Model: req.Model}
	resp.Choices = append(resp.Choices, struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	}{Message: TextMessage("assistant", f.replies[idx])})
	return resp, nil
}

func (f *fakeAIClient) ChatCompletionStream(ctx context.Context, req ChatCompletionRequest, callback StreamCallback) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks := f.chunks
	err := f.chatErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for i := range chunks {
		if err := callback(&chunks[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAIClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls = append(f.embedCalls, inputs)
	fn := f.embedFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no embeddings configured")
	}
	return fn(inputs)
}

func (f *fakeAIClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

var _ AIClient = (*fakeAIClient)(nil)
