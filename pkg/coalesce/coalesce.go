// Package coalesce deduplicates concurrent in-flight calls that share a key.
//
// While a call for a key is pending, further calls with the same key attach
// to it instead of invoking the function again; every attached caller
// observes the same result or the same error. The pending entry is dropped
// exactly when the call settles, so a later call starts fresh.
//
// Keys are compared by raw string equality. No normalization is applied;
// callers fetching by path must pass canonical paths consistently.
package coalesce

import "sync"

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group coalesces calls by key. The zero value is ready to use.
type Group[V any] struct {
	mu    sync.Mutex
	calls map[string]*call[V]
}

// Do invokes fn once per key per flight. If a call for key is already
// pending, Do waits for it and returns its outcome without invoking fn.
// It reports whether this caller attached to an existing flight.
func (g *Group[V]) Do(key string, fn func() (V, error)) (V, bool, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.val, true, c.err
	}
	if g.calls == nil {
		g.calls = make(map[string]*call[V])
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(c.done)

	return c.val, false, c.err
}

// Pending reports the number of keys with a call in flight.
func (g *Group[V]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
