package research

import (
	"context"
	"sync"

	"github.com/sells-group/opportunity-intel/pkg/anthropic"
	"github.com/sells-group/opportunity-intel/pkg/perplexity"
)

type fakePerplexity struct {
	mu   sync.Mutex
	reqs []perplexity.SearchRequest
	resp *perplexity.SearchResponse
	err  error
}

func (f *fakePerplexity) Search(_ context.Context, req perplexity.SearchRequest) (*perplexity.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type fakeAnthropic struct {
	reqs []anthropic.Request
	resp *anthropic.Completion
	err  error
}

func (f *fakeAnthropic) Complete(_ context.Context, req anthropic.Request) (*anthropic.Completion, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

// scriptedEngine returns the scripted errors in order, then answers.
type scriptedEngine struct {
	mu    sync.Mutex
	errs  []error
	calls int
	text  string
}

func (s *scriptedEngine) Name() string { return "scripted" }

func (s *scriptedEngine) Ask(_ context.Context, _ Query) (*Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Answer{Engine: "scripted", Text: s.text}, nil
}
