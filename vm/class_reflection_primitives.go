package vm

import "strings"

// ---------------------------------------------------------------------------
// Class and method reflection primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerClassReflectionPrimitives() {
	withClass := func(fn func(vm *VM, c *Class, args []Value) (Value, PrimStatus)) PrimitiveFunc {
		return func(vm *VM, rcvr Value, args []Value) (Value, PrimStatus) {
			c := vm.Memory.ClassFor(rcvr)
			if c == nil {
				return fail()
			}
			return fn(vm, c, args)
		}
	}

	// name
	vm.prims[1006] = withClass(func(vm *VM, c *Class, _ []Value) (Value, PrimStatus) {
		return success(vm.Memory.NewString(c.DisplayName()))
	})
	// superclass
	vm.prims[1007] = withClass(func(_ *VM, c *Class, _ []Value) (Value, PrimStatus) {
		if c.Superclass == nil {
			return success(Nil)
		}
		return success(c.Superclass.oop)
	})
	// selectors
	vm.prims[1008] = withClass(func(vm *VM, c *Class, _ []Value) (Value, PrimStatus) {
		methods := c.Methods()
		sels := make([]Value, len(methods))
		for i, m := range methods {
			sels[i] = m.Selector
		}
		return success(vm.Memory.NewArray(sels...))
	})
	// includesSelector:
	vm.prims[1009] = withClass(func(_ *VM, c *Class, args []Value) (Value, PrimStatus) {
		return success(FromBool(c.Includes(args[0])))
	})
	// removeSelector: answers the removed method or nil
	vm.prims[1011] = withClass(func(vm *VM, c *Class, args []Value) (Value, PrimStatus) {
		name := vm.Memory.SymbolName(args[0])
		if name == "" {
			return fail()
		}
		m := c.LocalMethod(args[0])
		if m == nil || !vm.RemoveMethod(c, name) {
			return success(Nil)
		}
		return success(m.oop)
	})
	// instVarNames
	vm.prims[1012] = withClass(func(vm *VM, c *Class, _ []Value) (Value, PrimStatus) {
		names := make([]Value, len(c.InstVarNames))
		for i, n := range c.InstVarNames {
			names[i] = vm.Memory.NewString(n)
		}
		return success(vm.Memory.NewArray(names...))
	})
	// category
	vm.prims[1013] = withClass(func(vm *VM, c *Class, _ []Value) (Value, PrimStatus) {
		if c.Category == "" {
			return success(Nil)
		}
		return success(vm.Memory.NewString(c.Category))
	})

	// subclass:instanceVariableNames:classVariableNames:category: and the
	// variable and byte variants
	for prim, format := range map[int]Format{1014: FormatFixed, 1022: FormatIndexable, 1026: FormatBytes} {
		vm.prims[prim] = withClass(func(vm *VM, super *Class, args []Value) (Value, PrimStatus) {
			return vm.primDefineClass(super, format, args)
		})
	}

	// CompiledMethod selector, methodClass
	vm.prims[1024] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		m := vm.Memory.Method(rcvr)
		if m == nil {
			return fail()
		}
		return success(m.Selector)
	}
	vm.prims[1025] = func(vm *VM, rcvr Value, _ []Value) (Value, PrimStatus) {
		m := vm.Memory.Method(rcvr)
		if m == nil || m.MethodClass == nil {
			return fail()
		}
		return success(m.MethodClass.oop)
	}
}

func (vm *VM) primDefineClass(super *Class, format Format, args []Value) (Value, PrimStatus) {
	if super.IsMetaclass() {
		return fail()
	}
	name, ok1 := vm.Memory.StringValue(args[0])
	ivars, ok2 := vm.Memory.StringValue(args[1])
	classVars, ok3 := vm.Memory.StringValue(args[2])
	category, ok4 := vm.Memory.StringValue(args[3])
	if !ok1 || !ok2 || !ok3 || !ok4 || name == "" {
		return fail()
	}
	if format == FormatFixed && (super.Format == FormatBytes || super.Format == FormatWords) {
		format = super.Format
	}
	cls, err := vm.DefineClass(name, super, format, strings.Fields(ivars), category)
	if err != nil {
		log.Warningf("%s", err)
		return fail()
	}
	for _, cv := range strings.Fields(classVars) {
		vm.AddClassVariable(cls, cv)
	}
	return success(cls.oop)
}
