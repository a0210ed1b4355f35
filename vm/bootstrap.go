package vm

// ---------------------------------------------------------------------------
// Bootstrap: the core class graph and the special objects
// ---------------------------------------------------------------------------

type classSpec struct {
	name     string
	super    string
	format   Format
	ivars    []string
	category string
}

// coreClasses lists the classes the VM itself depends on, superclasses
// first. The kernel sources add methods and the rest of the library.
var coreClasses = []classSpec{
	{"Object", "", FormatFixed, nil, "Kernel-Objects"},
	{"Behavior", "Object", FormatClass, nil, "Kernel-Classes"},
	{"ClassDescription", "Behavior", FormatClass, nil, "Kernel-Classes"},
	{"Class", "ClassDescription", FormatClass, nil, "Kernel-Classes"},
	{"Metaclass", "ClassDescription", FormatClass, nil, "Kernel-Classes"},
	{"UndefinedObject", "Object", FormatFixed, nil, "Kernel-Objects"},
	{"Boolean", "Object", FormatFixed, nil, "Kernel-Objects"},
	{"True", "Boolean", FormatFixed, nil, "Kernel-Objects"},
	{"False", "Boolean", FormatFixed, nil, "Kernel-Objects"},
	{"Magnitude", "Object", FormatFixed, nil, "Kernel-Numbers"},
	{"Character", "Magnitude", FormatFixed, nil, "Kernel-Text"},
	{"Number", "Magnitude", FormatFixed, nil, "Kernel-Numbers"},
	{"Integer", "Number", FormatFixed, nil, "Kernel-Numbers"},
	{"SmallInteger", "Integer", FormatFixed, nil, "Kernel-Numbers"},
	{"LargePositiveInteger", "Integer", FormatBytes, nil, "Kernel-Numbers"},
	{"LargeNegativeInteger", "LargePositiveInteger", FormatBytes, nil, "Kernel-Numbers"},
	{"Float", "Number", FormatFloat, nil, "Kernel-Numbers"},
	{"Collection", "Object", FormatFixed, nil, "Collections-Abstract"},
	{"SequenceableCollection", "Collection", FormatFixed, nil, "Collections-Abstract"},
	{"ArrayedCollection", "SequenceableCollection", FormatFixed, nil, "Collections-Abstract"},
	{"Array", "ArrayedCollection", FormatIndexable, nil, "Collections-Arrayed"},
	{"String", "ArrayedCollection", FormatBytes, nil, "Collections-Text"},
	{"Symbol", "String", FormatBytes, nil, "Collections-Text"},
	{"ByteArray", "ArrayedCollection", FormatBytes, nil, "Collections-Arrayed"},
	{"WordArray", "ArrayedCollection", FormatWords, nil, "Collections-Arrayed"},
	{"LinkedList", "SequenceableCollection", FormatFixed, []string{"firstLink", "lastLink"}, "Kernel-Processes"},
	{"Semaphore", "LinkedList", FormatFixed, []string{"excessSignals"}, "Kernel-Processes"},
	{"Association", "Magnitude", FormatFixed, []string{"key", "value"}, "Collections-Support"},
	{"Message", "Object", FormatFixed, []string{"selector", "arguments", "lookupClass"}, "Kernel-Methods"},
	{"CompiledMethod", "Object", FormatMethod, nil, "Kernel-Methods"},
	{"BlockClosure", "Object", FormatClosure, []string{"outerContext", "startpc", "numArgs"}, "Kernel-Methods"},
	{"Context", "Object", FormatContext, []string{"sender", "pc", "stackp", "method", "closureOrNil", "receiver"}, "Kernel-Methods"},
	{"Link", "Object", FormatFixed, []string{"nextLink"}, "Kernel-Processes"},
	{"Process", "Link", FormatFixed, []string{"suspendedContext", "priority", "myList", "name"}, "Kernel-Processes"},
	{"ProcessorScheduler", "Object", FormatFixed, []string{"quiescentProcessLists", "activeProcess"}, "Kernel-Processes"},
	{"SystemDictionary", "Object", FormatFixed, nil, "System-Support"},
	{"TranscriptStream", "Object", FormatFixed, nil, "System-Support"},
}

// slots pairs each KnownClasses field with the name of the class it
// holds.
func (k *KnownClasses) slots() []struct {
	name string
	slot **Class
} {
	return []struct {
		name string
		slot **Class
	}{
		{"Object", &k.Object},
		{"Behavior", &k.Behavior},
		{"Class", &k.Class},
		{"Metaclass", &k.Metaclass},
		{"UndefinedObject", &k.UndefinedObject},
		{"Boolean", &k.Boolean},
		{"True", &k.True},
		{"False", &k.False},
		{"Magnitude", &k.Magnitude},
		{"Character", &k.Character},
		{"Number", &k.Number},
		{"Integer", &k.Integer},
		{"SmallInteger", &k.SmallInteger},
		{"LargePositiveInteger", &k.LargePositiveInteger},
		{"LargeNegativeInteger", &k.LargeNegativeInteger},
		{"Float", &k.Float},
		{"Collection", &k.Collection},
		{"Array", &k.Array},
		{"String", &k.String},
		{"Symbol", &k.Symbol},
		{"ByteArray", &k.ByteArray},
		{"WordArray", &k.WordArray},
		{"Association", &k.Association},
		{"Message", &k.Message},
		{"CompiledMethod", &k.CompiledMethod},
		{"BlockClosure", &k.BlockClosure},
		{"Context", &k.Context},
		{"Link", &k.Link},
		{"LinkedList", &k.LinkedList},
		{"Process", &k.Process},
		{"Semaphore", &k.Semaphore},
		{"ProcessorScheduler", &k.ProcessorScheduler},
		{"SystemDictionary", &k.SystemDictionary},
	}
}

// bootstrap creates the core classes with their metaclasses, then the
// scheduler with a main process and the Smalltalk, Processor and
// Transcript globals.
func (vm *VM) bootstrap() {
	mem := vm.Memory
	byName := make(map[string]*Class, len(coreClasses))
	ordered := make([]*Class, 0, len(coreClasses))
	for _, spec := range coreClasses {
		var super *Class
		if spec.super != "" {
			super = byName[spec.super]
		}
		c := newClass(spec.name, super, spec.format, spec.ivars)
		c.Category = spec.category
		c.ClassPool = make(map[string]Value)
		byName[spec.name] = c
		ordered = append(ordered, c)
	}
	for _, s := range mem.Classes.slots() {
		*s.slot = byName[s.name]
	}

	// Metaclasses parallel the class hierarchy; Object class inherits from
	// Class.
	for _, c := range ordered {
		metaSuper := mem.Classes.Class
		if c.Superclass != nil {
			metaSuper = c.Superclass.class
		}
		meta := newClass("", metaSuper, FormatClass, nil)
		meta.thisClass = c
		mem.register(meta, mem.Classes.Metaclass)
		mem.register(c, meta)
	}
	for _, c := range ordered {
		vm.SetGlobal(c.Name, c.oop)
	}

	lists := make([]Value, NumPriorities)
	for i := range lists {
		lists[i] = mem.NewPointers(mem.Classes.LinkedList, 2)
	}
	main := vm.newProcess(Nil, UserPriority, mem.NewString("main"))
	vm.processor = mem.NewPointersWith(mem.Classes.ProcessorScheduler,
		[]Value{mem.NewArray(lists...), main})
	vm.SetGlobal("Processor", vm.processor)
	vm.SetGlobal("Smalltalk", mem.NewPointers(mem.Classes.SystemDictionary, 0))
	vm.SetGlobal("Transcript", mem.NewPointers(byName["TranscriptStream"], 0))
	log.Debugf("bootstrapped %d core classes", len(ordered))
}
