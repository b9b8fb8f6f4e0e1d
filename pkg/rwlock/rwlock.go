// Package rwlock provides cooperative locks for coordinating shared and
// exclusive access between concurrent filesystem operations.
//
// Unlike sync.RWMutex, release hands the lock off to waiters through
// signals, so a waiter always resumes on its own goroutine and never inside
// the releaser's call stack. Writers are served in arrival order and never
// wait for readers that arrived after they claimed the lock.
package rwlock

import "sync"

// writerBias is subtracted from the reader counter while a writer is active
// or has claimed priority. Any counter value below zero therefore encodes
// both "writer present" and the number of readers still tracked.
const writerBias = 1 << 30

// Mutex is a FIFO handoff lock. Exactly one holder at a time; Unlock passes
// ownership to the oldest waiter, if any.
//
// Misuse (Unlock without a matching Lock) is a caller bug and panics.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock acquires the mutex, blocking until it is available.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()
	<-ch
}

// Unlock releases the mutex. If waiters are queued, ownership transfers to
// the oldest one; the lock never becomes free while the queue is non-empty.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	if !m.held {
		m.mu.Unlock()
		panic("rwlock: Unlock of unlocked Mutex")
	}
	if len(m.waiters) > 0 {
		ch := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		// held stays true: ownership moves to the waiter, which resumes
		// on its own goroutine.
		close(ch)
		return
	}
	m.held = false
	m.mu.Unlock()
}

// RWMutex is a reader-writer lock built on Mutex. Any number of readers may
// hold it concurrently; a writer is exclusive against readers and other
// writers. Writers queue FIFO behind an internal Mutex, and a claiming
// writer waits only for the readers that were active at claim time; later
// readers queue behind it.
//
// The zero value is an unlocked RWMutex. Release without a matching acquire
// panics on either role.
type RWMutex struct {
	w Mutex // serializes writers in arrival order

	mu       sync.Mutex
	count    int32 // active+queued readers, minus writerBias while a writer holds or claims
	awaiting int32 // readers the claiming writer still waits on
	readerQ  []chan struct{}
	writerCh chan struct{}
}

// RLock acquires the lock for reading. Readers proceed immediately unless a
// writer is active or has claimed priority, in which case the reader queues
// until the writer releases.
func (l *RWMutex) RLock() {
	l.mu.Lock()
	l.count++
	if l.count < 0 {
		ch := make(chan struct{})
		l.readerQ = append(l.readerQ, ch)
		l.mu.Unlock()
		<-ch
		return
	}
	l.mu.Unlock()
}

// RUnlock releases one read hold. If a writer is waiting for the readers
// that preceded it, the last such reader to release wakes it.
func (l *RWMutex) RUnlock() {
	l.mu.Lock()
	readers := l.count
	if readers < 0 {
		readers += writerBias
	}
	if readers <= 0 {
		l.mu.Unlock()
		panic("rwlock: RUnlock without matching RLock")
	}
	l.count--
	if l.count < 0 {
		l.awaiting--
		if l.awaiting == 0 && l.writerCh != nil {
			ch := l.writerCh
			l.writerCh = nil
			l.mu.Unlock()
			close(ch)
			return
		}
	}
	l.mu.Unlock()
}

// Lock acquires the lock for writing. The caller first takes its place in
// the writer queue, then claims priority over new readers and waits for the
// readers active at that moment to drain.
func (l *RWMutex) Lock() {
	l.w.Lock()

	l.mu.Lock()
	readers := l.count
	l.count -= writerBias
	l.awaiting = readers
	if readers > 0 {
		ch := make(chan struct{})
		l.writerCh = ch
		l.mu.Unlock()
		<-ch
		return
	}
	l.mu.Unlock()
}

// Unlock releases the write hold: the counter is restored, every queued
// reader is woken at once, and the writer queue advances.
func (l *RWMutex) Unlock() {
	l.mu.Lock()
	if l.count >= 0 {
		l.mu.Unlock()
		panic("rwlock: Unlock of unheld write lock")
	}
	l.count += writerBias
	waiters := l.readerQ
	l.readerQ = nil
	l.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	l.w.Unlock()
}
