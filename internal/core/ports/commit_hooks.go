package ports

import (
	"context"
	"sync"
)

type commitHooksKey struct{}

type commitHooks struct {
	lock *sync.Mutex
	fns  []func()
}

// WithCommitHooks is for RepoManager implementations. It returns the context
// of a new top level transaction, collecting the functions registered with
// AfterCommit, and the function that runs them once the transaction
// committed. A retried transaction must get a fresh context.
func WithCommitHooks(ctx context.Context) (context.Context, func()) {
	hooks := &commitHooks{lock: &sync.Mutex{}}
	return context.WithValue(ctx, commitHooksKey{}, hooks), hooks.run
}

// AfterCommit runs fn once the transaction carried by ctx commits, or right
// away if ctx carries none. fn is dropped if the transaction rolls back.
func AfterCommit(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks)
	if !ok {
		fn()
		return
	}
	hooks.lock.Lock()
	defer hooks.lock.Unlock()
	hooks.fns = append(hooks.fns, fn)
}

func (h *commitHooks) run() {
	h.lock.Lock()
	fns := h.fns
	h.fns = nil
	h.lock.Unlock()

	for _, fn := range fns {
		fn()
	}
}
