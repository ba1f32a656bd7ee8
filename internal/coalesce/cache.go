// Package coalesce provides a generic memoizing map that merges concurrent
// identical requests into one underlying execution.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCoalescedRequestFailed is returned to callers that joined an in-flight
// initialization which subsequently failed. Only the caller that started the
// initialization observes the real error; joiners get this sentinel because
// the concrete failure belongs to the initiating request.
var ErrCoalescedRequestFailed = errors.New("coalesced request failed")

// Cache memoizes successful initializations per key for the lifetime of the
// cache. Failed initializations are not cached: a later identical request is
// free to retry.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

type entry[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V])}
}

// GetOrInit returns the cached value for key, joins an in-flight
// initialization for it, or runs init itself. init runs without the cache
// lock held, so concurrent initializations of distinct keys proceed in
// parallel.
func (c *Cache[K, V]) GetOrInit(ctx context.Context, key K, init func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if e.err != nil {
			return zero, fmt.Errorf("%w: %s", ErrCoalescedRequestFailed, e.err)
		}
		return e.val, nil
	}

	e := &entry[V]{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	val, err := init(ctx)

	c.mu.Lock()
	if err != nil {
		// Drop the entry so the key can be retried; anyone already waiting
		// still observes this generation's failure through e.
		e.err = err
		delete(c.entries, key)
	} else {
		e.val = val
	}
	c.mu.Unlock()
	close(e.done)

	return val, err
}

// Peek returns the cached value for key without initializing anything.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	select {
	case <-e.done:
	default:
		return zero, false
	}
	if e.err != nil {
		return zero, false
	}
	return e.val, true
}

// Len returns the number of resident entries, including in-flight ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
