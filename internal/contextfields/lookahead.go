package contextfields

import (
	"sync"

	"grove/internal/logging"
)

// PromptSource produces prompts for a context. *Generator is the production
// source.
type PromptSource interface {
	Generate(ctx ContextState) []PromptObject
}

// LookAhead generates prompts off the caller's goroutine and merges them into
// a library. A result is dropped if a request for a later interaction was
// made or applied while it ran, or if the session was reset in between.
type LookAhead struct {
	source PromptSource
	lib    *Library

	mu      sync.Mutex
	epoch   int
	newest  int
	applied int
	closed  bool
	wg      sync.WaitGroup
}

// NewLookAhead returns a look-ahead feeding lib from source.
func NewLookAhead(source PromptSource, lib *Library) *LookAhead {
	return &LookAhead{source: source, lib: lib}
}

// Request starts generation for ctx. It never blocks on the generator and is
// a no-op after Close.
func (la *LookAhead) Request(ctx ContextState) {
	la.mu.Lock()
	if la.closed {
		la.mu.Unlock()
		return
	}
	if ctx.InteractionCount > la.newest {
		la.newest = ctx.InteractionCount
	}
	epoch := la.epoch
	la.wg.Add(1)
	la.mu.Unlock()

	go func() {
		defer la.wg.Done()
		prompts := la.source.Generate(ctx)
		la.apply(epoch, ctx.InteractionCount, prompts)
	}()
}

func (la *LookAhead) apply(epoch, interactions int, prompts []PromptObject) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if epoch != la.epoch || interactions < la.newest || interactions < la.applied {
		logging.RankerDebug("discarding stale look-ahead for interaction %d (newest %d)", interactions, la.newest)
		return
	}
	la.applied = interactions
	la.lib.AddGenerated(prompts...)
}

// Reset forgets request history so results still in flight are discarded.
func (la *LookAhead) Reset() {
	la.mu.Lock()
	la.epoch++
	la.newest = 0
	la.applied = 0
	la.mu.Unlock()
}

// Wait blocks until all in-flight generations have finished.
func (la *LookAhead) Wait() {
	la.wg.Wait()
}

// Close stops accepting requests and waits for in-flight work.
func (la *LookAhead) Close() {
	la.mu.Lock()
	la.closed = true
	la.mu.Unlock()
	la.wg.Wait()
}
