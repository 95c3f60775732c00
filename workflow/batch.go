package workflow

import (
	"context"
	"sync"
)

const defaultBatchWorkers = 4

// BatchItemResult is the outcome of one request in a batch. Exactly one of
// Result and Err is set.
type BatchItemResult struct {
	Index    int
	ThreadID string
	Result   *Result
	Err      error
}

// BatchResult aggregates a batch run. Every submitted request is accounted
// for in Items exactly once; Successful + Failed == Total.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Items      []BatchItemResult
}

// AnalyzeBatch runs independent analyze requests under a bounded worker
// pool. One request failing or being cancelled never affects the others; a
// request is counted failed when it returned an error or ended in a FAILED
// or CANCELLED stage.
func (c *Controller) AnalyzeBatch(ctx context.Context, requests []AnalyzeRequest, workers int) *BatchResult {
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	batch := &BatchResult{
		Total: len(requests),
		Items: make([]BatchItemResult, len(requests)),
	}
	if len(requests) == 0 {
		return batch
	}

	c.logger.Info("starting batch of %d analyses with %d workers", len(requests), workers)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := c.Analyze(ctx, requests[i])
				item := BatchItemResult{Index: i, ThreadID: requests[i].ThreadID, Err: err}
				if err == nil {
					item.Result = res
					item.ThreadID = res.ThreadID
				}
				batch.Items[i] = item
			}
		}()
	}

	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, item := range batch.Items {
		if item.Err != nil || item.Result.Status == StatusFailed || item.Result.Status == StatusCancelled {
			batch.Failed++
		} else {
			batch.Successful++
		}
	}
	return batch
}
