package vm

import (
	"io"
	"time"
	"unicode"
)

// ---------------------------------------------------------------------------
// System primitives: perform, clocks, memory, Transcript, globals
// ---------------------------------------------------------------------------

// SelectorArity returns the number of arguments a selector takes.
func SelectorArity(name string) int {
	if name == "" {
		return 0
	}
	r := rune(name[0])
	if !unicode.IsLetter(r) && r != '_' {
		return 1
	}
	n := 0
	for _, c := range name {
		if c == ':' {
			n++
		}
	}
	return n
}

func (vm *VM) registerSystemPrimitives() {
	// perform:, perform:with:, ...
	vm.prims[83] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		name := vm.Memory.SymbolName(args[0])
		if name == "" || SelectorArity(name) != len(args)-1 {
			return fail()
		}
		selector := args[0]
		sendArgs := append([]Value(nil), args[1:]...)
		vm.active.drop(len(args) + 1)
		vm.sendFromHost(rcvr, selector, sendArgs, nil)
		return activated()
	}
	// perform:withArguments:
	vm.prims[84] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		name := vm.Memory.SymbolName(args[0])
		elems, ok := vm.Memory.ArrayElements(args[1])
		if name == "" || !ok || SelectorArity(name) != len(elems) {
			return fail()
		}
		selector := args[0]
		sendArgs := append([]Value(nil), elems...)
		vm.active.drop(3)
		vm.sendFromHost(rcvr, selector, sendArgs, nil)
		return activated()
	}
	// perform:withArguments:inSuperclass:
	vm.prims[100] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		name := vm.Memory.SymbolName(args[0])
		elems, ok := vm.Memory.ArrayElements(args[1])
		class := vm.Memory.ClassFor(args[2])
		if name == "" || !ok || class == nil || SelectorArity(name) != len(elems) {
			return fail()
		}
		if !vm.Memory.ClassOf(rcvr).InheritsFrom(class) {
			return fail()
		}
		selector := args[0]
		sendArgs := append([]Value(nil), elems...)
		vm.active.drop(4)
		vm.sendFromHost(rcvr, selector, sendArgs, class)
		return activated()
	}

	// snapshot
	vm.prims[97] = func(vm *VM, _ Value, _ []Value) (Value, PrimStatus) {
		if vm.opts.SnapshotPath == "" {
			return fail()
		}
		if err := vm.SaveSnapshotFile(vm.opts.SnapshotPath); err != nil {
			log.Errorf("snapshot: %s", err)
			return fail()
		}
		return success(False)
	}
	// garbageCollect answers the number of objects reclaimed
	vm.prims[130] = func(vm *VM, _ Value, _ []Value) (Value, PrimStatus) {
		return success(FromSmallInt(int64(vm.collectGarbage())))
	}
	// millisecondClockValue
	vm.prims[135] = func(vm *VM, _ Value, _ []Value) (Value, PrimStatus) {
		return success(FromSmallInt(vm.millisecondClock()))
	}
	// microsecond clock, Unix epoch
	vm.prims[240] = func(vm *VM, _ Value, _ []Value) (Value, PrimStatus) {
		return success(vm.Memory.NewInteger(time.Now().UnixMicro()))
	}

	vm.prims[1000] = primUnhandledError

	// Transcript show:
	vm.prims[1002] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		s, ok := vm.Memory.StringValue(args[0])
		if !ok {
			return fail()
		}
		if _, err := io.WriteString(vm.output, s); err != nil {
			log.Warningf("transcript: %s", err)
		}
		return success(rcvr)
	}

	// SystemDictionary at:
	vm.prims[1015] = func(vm *VM, _ Value, args []Value) (Value, PrimStatus) {
		name, ok := vm.Memory.StringValue(args[0])
		if !ok {
			return fail()
		}
		v, ok := vm.Global(name)
		if !ok {
			return fail()
		}
		return success(v)
	}
	// SystemDictionary at:put:
	vm.prims[1016] = func(vm *VM, _ Value, args []Value) (Value, PrimStatus) {
		name, ok := vm.Memory.StringValue(args[0])
		if !ok || name == "" {
			return fail()
		}
		vm.SetGlobal(name, args[1])
		return success(args[1])
	}
	// SystemDictionary keys
	vm.prims[1020] = func(vm *VM, _ Value, _ []Value) (Value, PrimStatus) {
		names := vm.GlobalNames()
		syms := make([]Value, len(names))
		for i, n := range names {
			syms[i] = vm.Memory.Intern(n)
		}
		return success(vm.Memory.NewArray(syms...))
	}
	// SystemDictionary includesKey:
	vm.prims[1021] = func(vm *VM, _ Value, args []Value) (Value, PrimStatus) {
		name, ok := vm.Memory.StringValue(args[0])
		if !ok {
			return success(False)
		}
		_, ok = vm.Global(name)
		return success(FromBool(ok))
	}
}

// maxTraceDepth bounds the context trace kept with an unhandled error.
const maxTraceDepth = 32

// primUnhandledError ends the entry send with an *UnhandledError. In any
// other process the error is logged and the process terminated.
func primUnhandledError(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
	ue := &UnhandledError{
		Exception: rcvr,
		ClassName: vm.Memory.ClassOf(rcvr).DisplayName(),
		Trace:     vm.Trace(vm.active, maxTraceDepth),
	}
	if p := vm.Memory.Pointers(rcvr); p != nil {
		for i, name := range p.Class().AllInstVarNames() {
			if name == "messageText" {
				ue.MessageText, _ = vm.Memory.StringValue(p.Slots[i])
				break
			}
		}
	}
	proc := vm.activeProcess()
	if proc == Nil || proc == vm.entryProcess {
		vm.err = ue
		vm.done = true
		return activated()
	}
	log.Warningf("%s in process %s; terminating it", ue, proc)
	vm.terminateProcess(proc)
	return activated()
}

// Trace renders up to depth contexts starting at c, innermost first.
func (vm *VM) Trace(c *Context, depth int) []string {
	var lines []string
	for ; c != nil && len(lines) < depth; c = vm.Memory.senderOf(c) {
		if c == vm.entry {
			break
		}
		line := c.method.String()
		if c.IsBlockContext() {
			line = "[] in " + line
		}
		lines = append(lines, line)
	}
	return lines
}
