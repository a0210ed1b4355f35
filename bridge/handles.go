package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluebook-vm/bluebook/vm"
)

// handle is a host-side reference to a VM value.
type handle struct {
	id       string
	value    vm.Value
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque string ids to VM values. Heap objects referenced
// by a handle are pinned so the collector keeps them. Methods that pin or
// unpin take the VM and must run on the worker goroutine.
type HandleStore struct {
	mu      sync.Mutex
	handles map[string]*handle
	nextID  atomic.Uint64
}

// NewHandleStore creates an empty handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{handles: make(map[string]*handle)}
}

// Create registers value and returns its new handle id.
func (s *HandleStore) Create(v *vm.VM, value vm.Value) string {
	id := fmt.Sprintf("h-%d", s.nextID.Add(1))
	now := time.Now()

	s.mu.Lock()
	s.handles[id] = &handle{id: id, value: value, created: now, lastUsed: now}
	s.mu.Unlock()

	v.Pin(value)
	return id
}

// Lookup returns the value behind id.
func (s *HandleStore) Lookup(id string) (vm.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return vm.Nil, false
	}
	h.lastUsed = time.Now()
	return h.value, true
}

// Release drops a handle and unpins its value. It reports whether the
// handle existed.
func (s *HandleStore) Release(v *vm.VM, id string) bool {
	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if ok {
		v.Unpin(h.value)
	}
	return ok
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Sweep releases handles that have not been used within ttl.
func (s *HandleStore) Sweep(v *vm.VM, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var stale []*handle

	s.mu.Lock()
	for id, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			stale = append(stale, h)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	for _, h := range stale {
		v.Unpin(h.value)
	}
	return len(stale)
}

// StartSweeper runs Sweep on the worker every interval. It returns a stop
// function.
func (s *HandleStore) StartSweeper(w *Worker, interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				n, _ := w.Do(func(v *vm.VM) (any, error) {
					return s.Sweep(v, ttl), nil
				})
				if n, ok := n.(int); ok && n > 0 {
					log.Debugf("swept %d idle handles", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
