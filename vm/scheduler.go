package vm

import (
	"errors"
	"fmt"
)

// ErrTerminated is returned when the process running an entry send is
// terminated before the send returns.
var ErrTerminated = errors.New("vm: entry process terminated")

// ---------------------------------------------------------------------------
// Process scheduling
// ---------------------------------------------------------------------------

// The scheduler's state lives in ordinary objects so it survives snapshots
// and is visible from Smalltalk:
//
//	Link               nextLink
//	Process            nextLink suspendedContext priority myList name
//	LinkedList         firstLink lastLink
//	Semaphore          firstLink lastLink excessSignals
//	ProcessorScheduler quiescentProcessLists activeProcess
//
// A switch stores the active context into the outgoing process and loads
// the incoming process's suspended context into the interpreter.

const (
	linkNext                = 0
	processSuspendedContext = 1
	processPriority         = 2
	processMyList           = 3
	processName             = 4
	listFirst               = 0
	listLast                = 1
	semaphoreExcessSignals  = 2
	schedulerLists          = 0
	schedulerActiveProcess  = 1

	// NumPriorities is the number of scheduling priorities.
	NumPriorities = 8
	// UserPriority is the priority of the main process.
	UserPriority = 4
)

func (vm *VM) slots(v Value) []Value {
	if p := vm.Memory.Pointers(v); p != nil {
		return p.Slots
	}
	return nil
}

// Processor returns the ProcessorScheduler.
func (vm *VM) Processor() Value { return vm.processor }

func (vm *VM) activeProcess() Value {
	if s := vm.slots(vm.processor); s != nil {
		return s[schedulerActiveProcess]
	}
	return Nil
}

func (vm *VM) priorityOf(proc Value) int {
	p := vm.slots(proc)[processPriority]
	if !p.IsSmallInt() {
		return UserPriority
	}
	n := int(p.SmallInt())
	if n < 1 {
		return 1
	}
	if n > NumPriorities {
		return NumPriorities
	}
	return n
}

func (vm *VM) readyList(priority int) Value {
	lists := vm.slots(vm.slots(vm.processor)[schedulerLists])
	return lists[priority-1]
}

// newProcess creates a Process for ctx.
func (vm *VM) newProcess(ctx Value, priority int, name Value) Value {
	return vm.Memory.NewPointersWith(vm.Memory.Classes.Process,
		[]Value{Nil, ctx, FromSmallInt(int64(priority)), Nil, name})
}

// ---------------------------------------------------------------------------
// Linked lists
// ---------------------------------------------------------------------------

func (vm *VM) isEmptyList(list Value) bool {
	return vm.slots(list)[listFirst] == Nil
}

func (vm *VM) addLastLink(list, proc Value) {
	l, p := vm.slots(list), vm.slots(proc)
	if l[listFirst] == Nil {
		l[listFirst] = proc
	} else {
		vm.slots(l[listLast])[linkNext] = proc
	}
	l[listLast] = proc
	p[linkNext] = Nil
	p[processMyList] = list
}

func (vm *VM) removeFirstLink(list Value) Value {
	l := vm.slots(list)
	first := l[listFirst]
	if first == Nil {
		return Nil
	}
	p := vm.slots(first)
	next := p[linkNext]
	l[listFirst] = next
	if next == Nil {
		l[listLast] = Nil
	}
	p[linkNext] = Nil
	p[processMyList] = Nil
	return first
}

func (vm *VM) removeLink(list, proc Value) bool {
	l := vm.slots(list)
	var prev Value = Nil
	for cur := l[listFirst]; cur != Nil; cur = vm.slots(cur)[linkNext] {
		if cur != proc {
			prev = cur
			continue
		}
		next := vm.slots(cur)[linkNext]
		if prev == Nil {
			l[listFirst] = next
		} else {
			vm.slots(prev)[linkNext] = next
		}
		if l[listLast] == cur {
			l[listLast] = prev
		}
		p := vm.slots(proc)
		p[linkNext] = Nil
		p[processMyList] = Nil
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Switching
// ---------------------------------------------------------------------------

func (vm *VM) wakeHighestPriority() Value {
	for p := NumPriorities; p >= 1; p-- {
		if list := vm.readyList(p); !vm.isEmptyList(list) {
			return vm.removeFirstLink(list)
		}
	}
	return Nil
}

// transferTo makes proc the active process.
func (vm *VM) transferTo(proc Value) {
	sched := vm.slots(vm.processor)
	if old := sched[schedulerActiveProcess]; old != Nil && vm.active != nil {
		vm.slots(old)[processSuspendedContext] = vm.active.oop
	}
	p := vm.slots(proc)
	ctx := vm.Memory.ContextFor(p[processSuspendedContext])
	if ctx == nil {
		vm.halt(fmt.Errorf("vm: process %s has no context to resume", proc))
		return
	}
	p[processSuspendedContext] = Nil
	p[processMyList] = Nil
	sched[schedulerActiveProcess] = proc
	vm.active = ctx
	log.Debugf("switched to process %s at priority %d", proc, vm.priorityOf(proc))
}

// switchAway leaves the active process (already queued on a semaphore or
// suspended) and runs the highest priority ready process.
func (vm *VM) switchAway() {
	next := vm.wakeHighestPriority()
	if next == Nil {
		if cur := vm.activeProcess(); cur != Nil && vm.active != nil {
			vm.slots(cur)[processSuspendedContext] = vm.active.oop
		}
		if len(vm.timers) > 0 {
			vm.active = nil
			return
		}
		vm.err = ErrDeadlock
		vm.done = true
		return
	}
	vm.transferTo(next)
}

// resumeProcess makes proc runnable, preempting the active process when
// proc has a higher priority. It fails for processes that are already
// queued or have no context.
func (vm *VM) resumeProcess(proc Value) bool {
	p := vm.slots(proc)
	if p == nil || len(p) <= processName || p[processMyList] != Nil || p[processSuspendedContext] == Nil {
		return false
	}
	if vm.active == nil {
		// Idle: whatever process the scheduler names is not running.
		vm.addLastLink(vm.readyList(vm.priorityOf(proc)), proc)
		return true
	}
	active := vm.activeProcess()
	if proc == active {
		return false
	}
	if vm.priorityOf(proc) > vm.priorityOf(active) {
		vm.addLastLink(vm.readyList(vm.priorityOf(active)), active)
		vm.transferTo(proc)
		return true
	}
	vm.addLastLink(vm.readyList(vm.priorityOf(proc)), proc)
	return true
}

// yield lets the other ready processes at the active priority run.
func (vm *VM) yield() {
	active := vm.activeProcess()
	list := vm.readyList(vm.priorityOf(active))
	if vm.isEmptyList(list) {
		return
	}
	vm.addLastLink(list, active)
	vm.transferTo(vm.removeFirstLink(list))
}

// suspendProcess stops proc. The active process switches away.
func (vm *VM) suspendProcess(proc Value) bool {
	if proc == vm.activeProcess() {
		vm.switchAway()
		return true
	}
	p := vm.slots(proc)
	if p == nil || len(p) <= processName {
		return false
	}
	if list := p[processMyList]; list != Nil {
		vm.removeLink(list, proc)
	}
	return true
}

// terminateProcess discards proc's contexts. No unwind blocks run.
func (vm *VM) terminateProcess(proc Value) {
	if proc == vm.activeProcess() {
		if proc == vm.entryProcess && vm.running {
			vm.err = ErrTerminated
			vm.done = true
			return
		}
		vm.active = nil
		vm.switchAway()
		return
	}
	p := vm.slots(proc)
	if list := p[processMyList]; list != Nil {
		vm.removeLink(list, proc)
	}
	p[processSuspendedContext] = Nil
}

// signalSemaphore resumes the first waiting process or records an excess
// signal.
func (vm *VM) signalSemaphore(sem Value) {
	if vm.isEmptyList(sem) {
		s := vm.slots(sem)
		n := int64(0)
		if s[semaphoreExcessSignals].IsSmallInt() {
			n = s[semaphoreExcessSignals].SmallInt()
		}
		s[semaphoreExcessSignals] = FromSmallInt(n + 1)
		return
	}
	vm.resumeProcess(vm.removeFirstLink(sem))
}

// waitSemaphore consumes an excess signal or blocks the active process.
func (vm *VM) waitSemaphore(sem Value) {
	s := vm.slots(sem)
	if n := s[semaphoreExcessSignals]; n.IsSmallInt() && n.SmallInt() > 0 {
		s[semaphoreExcessSignals] = FromSmallInt(n.SmallInt() - 1)
		return
	}
	vm.addLastLink(sem, vm.activeProcess())
	vm.switchAway()
}

// restoreEntryProcess puts the scheduler back on the process that started
// the current entry send once the send is over.
func (vm *VM) restoreEntryProcess() {
	proc := vm.entryProcess
	if proc == Nil || vm.processor == Nil {
		return
	}
	if cur := vm.activeProcess(); cur != proc && cur != Nil {
		c := vm.slots(cur)
		if c[processMyList] == Nil && vm.active != nil {
			c[processSuspendedContext] = vm.active.oop
			vm.addLastLink(vm.readyList(vm.priorityOf(cur)), cur)
		}
		vm.slots(vm.processor)[schedulerActiveProcess] = proc
	}
	p := vm.slots(proc)
	if list := p[processMyList]; list != Nil {
		vm.removeLink(list, proc)
	}
	p[processSuspendedContext] = Nil
	vm.entryProcess = Nil
}
