/*
locks.go - Per-account mutual exclusion

Each account is an independent unit of serialization: a balance
check-then-update must not interleave with another mutation of the same
account. Transfers touch two accounts and take both locks in lexicographic
AccountID order, so two opposing transfers between the same pair can never
deadlock.

Locks are held only for the local commit. The mirror round trip happens
strictly after release.
*/
package ledger

import "sync"

type accountLocks struct {
	mu sync.Mutex
	m  map[AccountID]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{m: make(map[AccountID]*sync.Mutex)}
}

func (l *accountLocks) get(id AccountID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.m[id]
	if !ok {
		mu = &sync.Mutex{}
		l.m[id] = mu
	}
	return mu
}

// lock acquires one account's lock and returns its release.
func (l *accountLocks) lock(id AccountID) func() {
	mu := l.get(id)
	mu.Lock()
	return mu.Unlock
}

// lockPair acquires two accounts' locks in deterministic order and
// returns a single release for both.
func (l *accountLocks) lockPair(a, b AccountID) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	mu1, mu2 := l.get(first), l.get(second)
	mu1.Lock()
	mu2.Lock()
	return func() {
		mu2.Unlock()
		mu1.Unlock()
	}
}
