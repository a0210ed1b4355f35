package vm

import "time"

// ---------------------------------------------------------------------------
// Garbage collection
// ---------------------------------------------------------------------------

// collectGarbage runs a mark-sweep collection and returns the number of
// objects reclaimed. It only runs between bytecodes, when every live value
// is reachable from the roots: known classes, the symbol table, globals, the
// scheduler, the interpreter registers and pinned host handles.
func (vm *VM) collectGarbage() int {
	start := time.Now()
	mem := vm.Memory
	var stack []Value
	mark := func(v Value) {
		o := mem.object(v)
		if o == nil {
			return
		}
		if h := o.hdr(); !h.marked {
			h.marked = true
			stack = append(stack, v)
		}
	}

	for _, s := range mem.Classes.slots() {
		if *s.slot != nil {
			mark((*s.slot).oop)
		}
	}
	for _, sym := range mem.symbols {
		mark(sym)
	}
	for _, assoc := range vm.globals {
		mark(assoc)
	}
	for v := range vm.pinned {
		mark(v)
	}
	for _, t := range vm.timers {
		mark(t.semaphore)
	}
	mark(vm.processor)
	mark(vm.entryProcess)
	mark(vm.result)
	if vm.active != nil {
		mark(vm.active.oop)
	}
	if vm.entry != nil {
		mark(vm.entry.oop)
	}

	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		mem.object(v).references(mark)
	}

	freed := 0
	for i := 1; i < len(mem.objects); i++ {
		o := mem.objects[i]
		if o == nil {
			continue
		}
		if h := o.hdr(); h.marked {
			h.marked = false
			continue
		}
		mem.objects[i] = nil
		mem.free = append(mem.free, uint32(i))
		freed++
	}
	mem.sinceGC = 0
	log.Debugf("gc: reclaimed %d objects, %d live, %s", freed, mem.Live(), time.Since(start))
	return freed
}

// CollectGarbage runs a collection outside the interpreter. Values held
// only by Go code must be pinned first.
func (vm *VM) CollectGarbage() int {
	if vm.running {
		return 0
	}
	return vm.collectGarbage()
}
