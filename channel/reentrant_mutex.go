package channel

import (
	"runtime"
	"sync"
)

//	ReentrantMutex gives Channel the re-entrant locking invariant
//	spec.md §3 requires: a handler that already holds the lock may
//	lock it again (same goroutine) without blocking on itself. Every
//	Lock must be paired with an Unlock; unbalanced calls panic the way
//	an unbalanced sync.Mutex.Unlock does.
type ReentrantMutex struct {
	mu    sync.Mutex
	owner int64
	count int
}

func (m *ReentrantMutex) Lock() {
	id := goid()
	m.mu.Lock()
	if m.count > 0 && m.owner == id {
		m.count++
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.acquire(id)
}

//	acquire spins until the lock is free: it takes the internal mutex,
//	claims ownership if count is zero, and otherwise releases the
//	internal mutex, yields (runtime.Gosched) and tries again.
func (m *ReentrantMutex) acquire(id int64) {
	for {
		m.mu.Lock()
		if m.count == 0 {
			m.owner = id
			m.count = 1
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		runtime.Gosched()
	}
}

//	TryLock attempts a non-blocking acquisition, used by the Channel
//	Pool (spec.md §4.1 step 2) and the Selector Array (spec.md §4.4
//	step 3) — both contracts require "fails if in use" semantics, never
//	blocking.
func (m *ReentrantMutex) TryLock() bool {
	id := goid()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		m.owner = id
		m.count = 1
		return true
	}
	if m.owner == id {
		m.count++
		return true
	}
	return false
}

func (m *ReentrantMutex) Unlock() {
	id := goid()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 || m.owner != id {
		panic("channel: Unlock of unheld or not-owned ReentrantMutex")
	}
	m.count--
}

//	HeldByCurrentGoroutine reports whether the calling goroutine holds
//	the lock at least once. Only the package tests call it.
func (m *ReentrantMutex) HeldByCurrentGoroutine() bool {
	id := goid()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count > 0 && m.owner == id
}
