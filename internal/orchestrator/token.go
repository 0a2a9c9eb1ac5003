// Package orchestrator wraps the training pipeline in coordination
// shells: an in-process runner and an HTTP client/worker pair for a
// remote training host. Both produce the same result schema.
package orchestrator

import "sync"

// CancelToken is a one-shot cancellation flag shared between an
// orchestrator and the training loop it drives.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
