package council

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Dispatcher is the subset of Router the Fan-Out Executor depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, modelID string, req *CompletionRequest) (*CompletionResponse, bool)
}

// FanOut runs one call per model id concurrently and collects every
// outcome, guaranteeing the returned map always contains exactly the
// input id set as keys — a missing Model Response is represented by a nil
// value, never by a missing key. One model's failure never cancels the
// others; only the caller's own context cancellation propagates to
// in-flight calls.
type FanOut struct {
	router Dispatcher
	logger Logger
}

// NewFanOut creates a Fan-Out Executor bound to the given Router.
func NewFanOut(router Dispatcher, logger Logger) *FanOut {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &FanOut{router: router, logger: logger}
}

// Dispatch issues req against every model id concurrently.
func (f *FanOut) Dispatch(ctx context.Context, modelIDs []string, req *CompletionRequest) map[string]*CompletionResponse {
	results := make(map[string]*CompletionResponse, len(modelIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range modelIDs {
		id := id
		g.Go(func() error {
			resp, ok := f.router.Dispatch(gctx, id, req)
			mu.Lock()
			if ok {
				results[id] = resp
			} else {
				results[id] = nil
			}
			mu.Unlock()
			// Every call independently succeeds or fails as "no response";
			// never return a non-nil error here, or errgroup would cancel
			// gctx and abort sibling in-flight calls.
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range modelIDs {
		if _, ok := results[id]; !ok {
			results[id] = nil
		}
	}

	return results
}
