package council

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedDispatcher implements Dispatcher for FanOut tests.
type scriptedDispatcher struct {
	mu   sync.Mutex
	seen []string
	fn   func(ctx context.Context, modelID string) (*CompletionResponse, bool)
}

func (s *scriptedDispatcher) Dispatch(ctx context.Context, modelID string, req *CompletionRequest) (*CompletionResponse, bool) {
	s.mu.Lock()
	s.seen = append(s.seen, modelID)
	s.mu.Unlock()
	return s.fn(ctx, modelID)
}

func TestFanOutReturnsExactKeySetForEveryInput(t *testing.T) {
	d := &scriptedDispatcher{fn: func(ctx context.Context, modelID string) (*CompletionResponse, bool) {
		if modelID == "bad-model" {
			return nil, false
		}
		return &CompletionResponse{Content: "ok", Model: modelID}, true
	}}

	fanOut := NewFanOut(d, nil)
	models := []string{"model-a", "bad-model", "model-c"}
	results := fanOut.Dispatch(context.Background(), models, &CompletionRequest{})

	if len(results) != len(models) {
		t.Fatalf("expected %d keys, got %d", len(models), len(results))
	}
	for _, id := range models {
		if _, ok := results[id]; !ok {
			t.Errorf("missing key %q in results", id)
		}
	}
	if results["bad-model"] != nil {
		t.Errorf("expected nil response for failed model, got %+v", results["bad-model"])
	}
	if results["model-a"] == nil || results["model-a"].Content != "ok" {
		t.Errorf("expected successful response for model-a, got %+v", results["model-a"])
	}
}

func TestFanOutOneFailureDoesNotCancelSiblings(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	d := &scriptedDispatcher{fn: func(ctx context.Context, modelID string) (*CompletionResponse, bool) {
		if modelID == "fails-fast" {
			return nil, false
		}
		// slow-model blocks briefly; if the fast failure cancelled the
		// shared context this call would observe ctx.Done() instead.
		select {
		case <-time.After(50 * time.Millisecond):
			return &CompletionResponse{Content: "slow ok", Model: modelID}, true
		case <-ctx.Done():
			return nil, false
		}
	}}

	fanOut := NewFanOut(d, nil)
	results := fanOut.Dispatch(context.Background(), []string{"fails-fast", "slow-model"}, &CompletionRequest{})

	wg.Done()
	if results["slow-model"] == nil {
		t.Fatal("expected slow-model to still succeed after a sibling's failure")
	}
}

func TestFanOutPropagatesCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	d := &scriptedDispatcher{fn: func(ctx context.Context, modelID string) (*CompletionResponse, bool) {
		close(started)
		<-ctx.Done()
		return nil, false
	}}

	fanOut := NewFanOut(d, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan map[string]*CompletionResponse)
	go func() {
		done <- fanOut.Dispatch(ctx, []string{"model-a"}, &CompletionRequest{})
	}()

	<-started
	cancel()

	select {
	case results := <-done:
		if results["model-a"] != nil {
			t.Errorf("expected nil response after caller cancellation, got %+v", results["model-a"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return after caller cancellation")
	}
}

func TestFanOutEmptyModelList(t *testing.T) {
	d := &scriptedDispatcher{fn: func(ctx context.Context, modelID string) (*CompletionResponse, bool) {
		t.Fatal("dispatch should not be called for an empty model list")
		return nil, false
	}}
	fanOut := NewFanOut(d, nil)
	results := fanOut.Dispatch(context.Background(), nil, &CompletionRequest{})
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}
