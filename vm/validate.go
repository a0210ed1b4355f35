package vm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// maxValidationErrors caps the problems reported for one graph.
const maxValidationErrors = 100

// Validate checks the object graph before any bytecode runs: every root
// class and special object is present, every class chain is finite and
// well-formed, metaclasses pair with their classes, every method passes
// the verifier and every reference resolves. All problems are reported
// together, wrapped in ErrMalformedImage.
func (vm *VM) Validate() error {
	var result *multierror.Error
	report := func(format string, args ...any) {
		if result == nil || len(result.Errors) < maxValidationErrors {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}
	mem := vm.Memory

	for _, s := range mem.Classes.slots() {
		c := *s.slot
		if c == nil {
			report("missing root class %s", s.name)
			continue
		}
		if mem.object(c.oop) != c {
			report("root class %s is not in memory", s.name)
		}
	}
	if result != nil {
		return fmt.Errorf("%w: %w", ErrMalformedImage, result)
	}

	sched := mem.Pointers(vm.processor)
	switch {
	case sched == nil || sched.Class() != mem.Classes.ProcessorScheduler:
		report("missing special object Processor")
	case len(sched.Slots) < 2:
		report("Processor has %d slots", len(sched.Slots))
	default:
		lists, ok := mem.ArrayElements(sched.Slots[schedulerLists])
		if !ok || len(lists) != NumPriorities {
			report("Processor needs %d ready lists", NumPriorities)
		}
		if !mem.IsKindOf(sched.Slots[schedulerActiveProcess], mem.Classes.Process) {
			report("Processor has no active process")
		}
	}
	for name, assoc := range vm.globals {
		if p := mem.Pointers(assoc); p == nil || len(p.Slots) < 2 {
			report("global %s is not bound to an association", name)
		}
	}

	limit := len(mem.objects)
	for i := 1; i < len(mem.objects); i++ {
		o := mem.objects[i]
		if o == nil {
			continue
		}
		oop := o.OOP()
		class := o.Class()
		if class == nil || mem.object(class.oop) != class {
			report("%s has no valid class", oop)
			continue
		}
		o.references(func(v Value) {
			if v.IsObject() && mem.object(v) == nil {
				report("%s refers to missing object %s", oop, v)
			}
		})
		switch x := o.(type) {
		case *Class:
			vm.validateClass(x, limit, report)
		case *CompiledMethod:
			if err := Verify(x); err != nil {
				report("%s: %s", x, err)
			}
		}
	}
	if result != nil {
		return fmt.Errorf("%w: %w", ErrMalformedImage, result)
	}
	return nil
}

func (vm *VM) validateClass(c *Class, limit int, report func(string, ...any)) {
	mem := vm.Memory
	steps := 0
	for s := c.Superclass; s != nil; s = s.Superclass {
		if steps++; steps > limit || s == c {
			report("superclass chain of %s is cyclic", c.DisplayName())
			return
		}
		if mem.object(s.oop) != s {
			report("superclass of %s is not a class in memory", c.DisplayName())
			return
		}
	}
	for sel, m := range c.methods {
		if mem.SymbolName(sel) == "" {
			report("%s has a method under a non-symbol selector", c.DisplayName())
		}
		if m.MethodClass != c {
			report("%s is installed in %s", m, c.DisplayName())
		}
	}
	meta := c.Metaclass()
	if c.IsMetaclass() {
		if meta != mem.Classes.Metaclass {
			report("metaclass %s is not an instance of Metaclass", c.DisplayName())
		}
		if c.thisClass.class != c {
			report("metaclass %s does not pair with its class", c.DisplayName())
		}
		return
	}
	if !meta.IsMetaclass() || meta.thisClass != c {
		report("class %s does not pair with its metaclass", c.Name)
	}
	if c.Superclass == nil && meta.Superclass != mem.Classes.Class {
		report("root class %s: its metaclass must inherit from Class", c.Name)
	}
}
