package llm

import (
	"context"
	"sync"
)

// Fake is a scriptable Client for tests. Nil funcs return zero values.
type Fake struct {
	mu sync.Mutex

	CompleteFunc     func(req CompletionRequest) (string, error)
	CompleteJSONFunc func(req CompletionRequest) (string, error)
	EmbedFunc        func(text string) ([]float32, error)

	Requests []CompletionRequest
	Embedded []string
}

func (f *Fake) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.record(req)
	if f.CompleteFunc == nil {
		return "", nil
	}
	return f.CompleteFunc(req)
}

func (f *Fake) CompleteJSON(_ context.Context, req CompletionRequest) (string, error) {
	f.record(req)
	if f.CompleteJSONFunc == nil {
		return "{}", nil
	}
	return f.CompleteJSONFunc(req)
}

func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.Embedded = append(f.Embedded, text)
	f.mu.Unlock()
	if f.EmbedFunc == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return f.EmbedFunc(text)
}

func (f *Fake) Close() error { return nil }

func (f *Fake) record(req CompletionRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
}
