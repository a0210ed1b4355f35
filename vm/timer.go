package vm

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

// A timer signals its semaphore once the millisecond clock reaches tick.
// Timers are kept in tick order; timers with equal ticks fire in the order
// they were armed. They are not part of snapshots.
type timer struct {
	semaphore Value
	tick      int64
}

// millisecondClock is the clock primitive 135 answers.
func (vm *VM) millisecondClock() int64 {
	return time.Since(vm.startTime).Milliseconds()
}

// scheduleTimer arms sem for tick, replacing a timer already armed for sem.
func (vm *VM) scheduleTimer(sem Value, tick int64) {
	vm.cancelTimer(sem)
	i, _ := slices.BinarySearchFunc(vm.timers, tick+1, func(t timer, target int64) int {
		switch {
		case t.tick < target:
			return -1
		case t.tick > target:
			return 1
		}
		return 0
	})
	vm.timers = slices.Insert(vm.timers, i, timer{semaphore: sem, tick: tick})
}

func (vm *VM) cancelTimer(sem Value) {
	vm.timers = slices.DeleteFunc(vm.timers, func(t timer) bool { return t.semaphore == sem })
}

// PendingTimers reports how many semaphores wait for the clock.
func (vm *VM) PendingTimers() int { return len(vm.timers) }

// fireTimers signals every semaphore whose tick has passed.
func (vm *VM) fireTimers() {
	now := vm.millisecondClock()
	n := 0
	for n < len(vm.timers) && vm.timers[n].tick <= now {
		n++
	}
	if n == 0 {
		return
	}
	due := slices.Clone(vm.timers[:n])
	vm.timers = slices.Delete(vm.timers, 0, n)
	for _, t := range due {
		vm.signalSemaphore(t.semaphore)
	}
}

// idle runs while no process is runnable. It sleeps until the earliest
// timer, fires it and resumes the highest priority ready process. Without
// timers nothing can ever run again, which is a deadlock.
func (vm *VM) idle(ctx context.Context) {
	for vm.active == nil && !vm.done {
		if len(vm.timers) == 0 {
			vm.err = ErrDeadlock
			vm.done = true
			return
		}
		if wait := vm.timers[0].tick - vm.millisecondClock(); wait > 0 {
			t := time.NewTimer(time.Duration(wait) * time.Millisecond)
			select {
			case <-ctx.Done():
				t.Stop()
				vm.err = fmt.Errorf("vm: interrupted: %w", ctx.Err())
				vm.done = true
				return
			case <-t.C:
			}
		}
		vm.fireTimers()
		if next := vm.wakeHighestPriority(); next != Nil {
			vm.transferTo(next)
		}
	}
}
