package source

import (
	"context"
	"sync"
)

// Checkout is a pinned source revision materialized on disk.
type Checkout struct {
	// Path is the absolute directory holding the source tree.
	Path string

	// Pinned is the exact revision the directory contains.
	Pinned Pinned
}

// LazyCheckout defers the possibly expensive fetch of a pinned source until
// first use. The pin itself is always available, which is needed for cache-key
// computation and lock-file recording before anything is downloaded.
//
// The dispatcher's operations materialize checkouts eagerly because every one
// of them reads the source tree; callers that record pins without reading the
// tree (lock-file writers, audit tooling) obtain a LazyCheckout through
// Resolver.Lazy and pay for the fetch only if they end up needing the files.
type LazyCheckout struct {
	pinned Pinned
	fetch  func(ctx context.Context) (Checkout, error)

	mu   sync.Mutex
	done bool
	out  Checkout
}

// NewLazyCheckout wraps a fetch function. fetch runs at most once
// successfully; a failed fetch is retried on the next call.
func NewLazyCheckout(pinned Pinned, fetch func(ctx context.Context) (Checkout, error)) *LazyCheckout {
	return &LazyCheckout{pinned: pinned, fetch: fetch}
}

// Eager wraps an already materialized checkout.
func Eager(checkout Checkout) *LazyCheckout {
	return &LazyCheckout{
		pinned: checkout.Pinned,
		done:   true,
		out:    checkout,
	}
}

// Pinned returns the exact revision without triggering a fetch.
func (l *LazyCheckout) Pinned() Pinned {
	return l.pinned
}

// Get returns the materialized checkout, fetching it on first use. Successful
// results are cached for the lifetime of the value.
func (l *LazyCheckout) Get(ctx context.Context) (Checkout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.out, nil
	}
	out, err := l.fetch(ctx)
	if err != nil {
		return Checkout{}, err
	}
	l.out = out
	l.done = true
	return out, nil
}
