package aggregation

import "context"

// Token is the cancellation signal of one run. Cancelling it cancels its
// context, which aborts in-flight queries, and fires every registered cleanup.
// Children are cancelled with their parent.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewToken derives a token from parent. Cancelling parent cancels the token.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel signals the token. Safe to call more than once.
func (t *Token) Cancel() {
	t.cancel()
}

// Stopped reports whether the token or any ancestor was cancelled.
func (t *Token) Stopped() bool {
	return t.ctx.Err() != nil
}

// Context returns the context every store call of the run uses.
func (t *Token) Context() context.Context {
	return t.ctx
}

// RegisterCleanup runs fn once, in its own goroutine, when the token is
// cancelled. The returned func unregisters fn and reports whether it did so
// before fn started.
func (t *Token) RegisterCleanup(fn func()) (unregister func() bool) {
	return context.AfterFunc(t.ctx, fn)
}

// Child returns a token cancelled with t that can also be cancelled on its own.
func (t *Token) Child() *Token {
	return NewToken(t.ctx)
}
