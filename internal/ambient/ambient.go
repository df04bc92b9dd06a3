// Package ambient binds one execution context to a logical task tree.
//
// The binding travels inside a context.Context, so every function and
// goroutine that receives the derived context observes the same request,
// however deeply nested, without the request being passed explicitly.
// Two concurrent Run calls derive independent contexts and can never observe
// each other's binding.
//
//	err := ambient.Run(ctx, ec, func(ctx context.Context) error {
//	    go worker(ctx) // worker calls ambient.From(ctx) and sees ec
//	    return nil
//	})
package ambient

import (
	"context"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

// bindingKey identifies the bound execution context.
type bindingKey struct{}

// Run executes fn with ec bound to the context passed to it.
// The binding ends when fn returns.
func Run(ctx context.Context, ec *domain.Context, fn func(ctx context.Context) error) error {
	return fn(Bind(ctx, ec))
}

// Bind returns a child of ctx carrying ec.
func Bind(ctx context.Context, ec *domain.Context) context.Context {
	return context.WithValue(ctx, bindingKey{}, ec)
}

// From returns the execution context bound to ctx, if any.
func From(ctx context.Context) (*domain.Context, bool) {
	if ctx == nil {
		return nil, false
	}
	ec, ok := ctx.Value(bindingKey{}).(*domain.Context)
	return ec, ok && ec != nil
}

// MustFrom is like From but panics when nothing is bound.
func MustFrom(ctx context.Context) *domain.Context {
	ec, ok := From(ctx)
	if !ok {
		panic("ambient: no execution context bound")
	}
	return ec
}

// RequestID returns the request id of the bound context, or "" outside any scope.
func RequestID(ctx context.Context) string {
	if ec, ok := From(ctx); ok {
		return ec.RequestID
	}
	return ""
}
