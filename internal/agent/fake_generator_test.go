package agent

import (
	"context"
	"sync"
)

// fakeGenerator replays canned results and records requests.
type fakeGenerator struct {
	mu       sync.Mutex
	results  []Result
	requests []GenerateRequest
}

func newFakeGenerator(results ...Result) *fakeGenerator {
	return &fakeGenerator{results: results}
}

func (f *fakeGenerator) Generate(_ context.Context, req GenerateRequest) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.results) == 0 {
		return EmptyResult()
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

func (f *fakeGenerator) Close() error { return nil }

func (f *fakeGenerator) lastRequest() GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return GenerateRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
