package vm

// ---------------------------------------------------------------------------
// Compiler primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerCompilerPrimitives() {
	// Behavior compile: answers the selector of the installed method. It
	// fails when no compiler is installed or the source does not compile.
	vm.prims[1010] = func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
		class := vm.Memory.ClassFor(rcvr)
		source, ok := vm.Memory.StringValue(args[0])
		if class == nil || !ok {
			return fail()
		}
		m, err := vm.CompileAndInstall(class, source)
		if err != nil {
			log.Warningf("compile: %s", err)
			return fail()
		}
		return success(m.Selector)
	}
}

// CompileAndInstall compiles source with the installed compiler and adds
// the method to class.
func (vm *VM) CompileAndInstall(class *Class, source string) (*CompiledMethod, error) {
	if vm.compiler == nil {
		return nil, ErrNoCompiler
	}
	m, err := vm.compiler.CompileMethod(vm, class, source)
	if err != nil {
		return nil, err
	}
	vm.InstallMethod(class, m)
	return m, nil
}
