package recall

import (
	"context"
	"sync"

	"github.com/recallhq/recall-go/pkg/coordinator"
	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/retrieval"
)

// RememberResult carries the outcome of an asynchronous Remember.
type RememberResult struct {
	Record *core.MemoryRecord
	Write  *coordinator.WriteResult
	Error  error
}

// RecallResult carries the outcome of an asynchronous Recall.
type RecallResult struct {
	Result *retrieval.HybridResult
	Error  error
}

// AsyncClient provides asynchronous Remember and Recall.
//
// It wraps the synchronous Client and executes each call in its own
// goroutine, returning a channel that receives the result when the
// operation completes. Wait blocks until every launched operation has
// finished.
//
// Example:
//
//	asyncClient, _ := recall.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.RememberAsync(ctx, scope, "User likes Go")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client.
//
// Parameters:
//   - cfg: Complete configuration (see core.Config)
//   - opts: Optional settings (logger)
//
// Returns:
//   - *AsyncClient: The asynchronous client instance
//   - error: Returns an error if initialization fails
func NewAsyncClient(cfg *core.Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// RememberAsync stores a memory asynchronously.
//
// Parameters:
//   - ctx: Context for the write
//   - scope: The (owner, project) scope
//   - content: Memory content
//   - opts: Optional settings (kind, metadata)
//
// Returns:
//   - <-chan *RememberResult: Channel that receives the result
func (ac *AsyncClient) RememberAsync(ctx context.Context, scope core.Scope, content string, opts ...RememberOption) <-chan *RememberResult {
	resultChan := make(chan *RememberResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		record, write, err := ac.Remember(ctx, scope, content, opts...)
		resultChan <- &RememberResult{
			Record: record,
			Write:  write,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// RecallAsync runs a retrieval asynchronously.
//
// Parameters:
//   - ctx: Context for the retrieval
//   - scope: The (owner, project) scope
//   - query: Free-text query
//   - opts: Optional settings (top K, score threshold, filters)
//
// Returns:
//   - <-chan *RecallResult: Channel that receives the result
func (ac *AsyncClient) RecallAsync(ctx context.Context, scope core.Scope, query string, opts ...RecallOption) <-chan *RecallResult {
	resultChan := make(chan *RecallResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.Recall(ctx, scope, query, opts...)
		resultChan <- &RecallResult{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until all launched asynchronous operations complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for in-flight operations and closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.wg.Wait()
	return ac.Client.Close()
}
