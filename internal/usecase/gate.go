package usecase

import (
	"sync"
	"sync/atomic"
)

// busyGate admits one dispatched operation at a time. A second caller is
// rejected, never queued.
type busyGate struct {
	held     atomic.Bool
	observer func(busy bool)

	notifyMu sync.Mutex
}

func newBusyGate(observer func(busy bool)) *busyGate {
	if observer == nil {
		observer = func(bool) {}
	}
	return &busyGate{observer: observer}
}

// TryAcquire takes the gate if it is free. The returned lease must be released
// exactly once; Release on the lease is safe to call again.
func (g *busyGate) TryAcquire() (*gateLease, bool) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, false
	}
	g.notify()
	return &gateLease{gate: g}, true
}

// Held reports whether an operation currently owns the gate.
func (g *busyGate) Held() bool {
	return g.held.Load()
}

// notify reports the state observed at call time, so the last notification
// always matches the gate even when acquire and release race.
func (g *busyGate) notify() {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()
	g.observer(g.held.Load())
}

type gateLease struct {
	gate *busyGate
	once sync.Once
}

func (l *gateLease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.gate.held.Store(false)
		l.gate.notify()
	})
}
