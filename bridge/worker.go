package bridge

import (
	"fmt"

	"github.com/bluebook-vm/bluebook/vm"
)

// job is a unit of work to be executed on the VM goroutine.
type job struct {
	fn   func(*vm.VM) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker serializes all VM access through a single goroutine. The
// interpreter is single-threaded; every HTTP handler goes through the
// worker.
type Worker struct {
	vm   *vm.VM
	jobs chan job
	quit chan struct{}
}

// NewWorker creates a Worker and starts its goroutine.
func NewWorker(v *vm.VM) *Worker {
	w := &Worker{
		vm:   v,
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case j := <-w.jobs:
			j.done <- w.execute(j.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the VM, turning a panic into an error.
func (w *Worker) execute(fn func(*vm.VM) (any, error)) (r result) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("panic on the VM goroutine: %v", p)
			r = result{err: fmt.Errorf("bridge: %v", p)}
		}
	}()
	value, err := fn(w.vm)
	return result{value: value, err: err}
}

// Do runs fn on the VM goroutine and waits for it. fn receives the request
// context through its closure and is expected to pass it to the VM so that
// a cancelled request interrupts the interpreter.
func (w *Worker) Do(fn func(*vm.VM) (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan result, 1)}
	select {
	case w.jobs <- j:
	case <-w.quit:
		return nil, errStopped
	}
	select {
	case r := <-j.done:
		return r.value, r.err
	case <-w.quit:
		return nil, errStopped
	}
}

// Stop shuts down the worker goroutine. Jobs still queued are dropped.
func (w *Worker) Stop() {
	close(w.quit)
}
