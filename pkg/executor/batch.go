package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/contract"
)

// Outcome pairs a result with its typed error for async consumers.
type Outcome struct {
	Result *contract.Result
	Err    error
}

// ExecuteAsync runs one action in the background and delivers its outcome on
// the returned channel. The channel is buffered, so the outcome never blocks
// on an absent reader.
func (e *Executor) ExecuteAsync(ctx context.Context, req *contract.Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		res, err := e.Execute(ctx, req)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// ExecuteBatch runs a set of requests and returns one result per request in
// input order. Failures never abort the batch; they surface as failed
// results in their slot. Sequential mode runs requests one at a time;
// parallel mode runs them over a worker pool bounded by the configured
// max concurrency.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []*contract.Request, parallel bool) []*contract.Result {
	results := make([]*contract.Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	if !parallel {
		for i, req := range reqs {
			results[i] = e.executeToResult(ctx, req)
		}
		return results
	}

	workers := e.config.Globals().MaxConcurrency
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *contract.Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.executeToResult(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

// executeToResult folds a dispatch failure into a result so batch callers
// always get a slot per request.
func (e *Executor) executeToResult(ctx context.Context, req *contract.Request) *contract.Result {
	res, err := e.Execute(ctx, req)
	if res == nil {
		res = failedResult(req.Action, time.Now(), 0, err)
	}
	return res
}
