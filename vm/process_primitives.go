package vm

// ---------------------------------------------------------------------------
// Process and Semaphore primitives
// ---------------------------------------------------------------------------

// Each primitive answers its receiver in the active context before a
// process switch can change which context is active.

func (vm *VM) isProcess(v Value) bool {
	return vm.Memory.ClassOf(v).InheritsFrom(vm.Memory.Classes.Process)
}

func (vm *VM) isSemaphore(v Value) bool {
	return vm.Memory.ClassOf(v).InheritsFrom(vm.Memory.Classes.Semaphore)
}

func (vm *VM) registerProcessPrimitives() {
	// Semaphore signal
	vm.prims[85] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !vm.isSemaphore(rcvr) {
			return fail()
		}
		vm.returnFromPrimitive(0, rcvr)
		vm.signalSemaphore(rcvr)
		return activated()
	}
	// Semaphore wait
	vm.prims[86] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !vm.isSemaphore(rcvr) {
			return fail()
		}
		vm.returnFromPrimitive(0, rcvr)
		vm.waitSemaphore(rcvr)
		return activated()
	}
	// Process resume
	vm.prims[87] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !vm.isProcess(rcvr) || rcvr == vm.activeProcess() {
			return fail()
		}
		p := vm.slots(rcvr)
		if p[processMyList] != Nil || vm.Memory.ContextFor(p[processSuspendedContext]) == nil {
			return fail()
		}
		vm.returnFromPrimitive(0, rcvr)
		vm.resumeProcess(rcvr)
		return activated()
	}
	// Process suspend
	vm.prims[88] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !vm.isProcess(rcvr) {
			return fail()
		}
		vm.returnFromPrimitive(0, rcvr)
		vm.suspendProcess(rcvr)
		return activated()
	}
	// ProcessorScheduler signal: aSemaphore atMilliseconds: aTick
	vm.prims[136] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		sem, tick := args[0], args[1]
		if rcvr != vm.processor || !vm.isSemaphore(sem) || !tick.IsSmallInt() {
			return fail()
		}
		vm.scheduleTimer(sem, tick.SmallInt())
		return success(rcvr)
	}
	// ProcessorScheduler yield
	vm.prims[167] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if rcvr != vm.processor {
			return fail()
		}
		vm.returnFromPrimitive(0, rcvr)
		vm.yield()
		return activated()
	}
	// Process terminate
	vm.prims[1018] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		if !vm.isProcess(rcvr) {
			return fail()
		}
		vm.returnFromPrimitive(0, rcvr)
		log.Debugf("terminating process %s", rcvr)
		vm.terminateProcess(rcvr)
		return activated()
	}
}
