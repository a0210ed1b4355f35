package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("bluebook.vm")

// Default tuning values.
const (
	DefaultGCThreshold   = 200_000
	DefaultCheckInterval = 1024
)

// Options configures a VM.
type Options struct {
	CacheMode CacheMode
	// GCThreshold is the number of allocations between collections.
	GCThreshold int
	// CheckInterval is the number of bytecodes between checks for
	// cancellation and garbage collection.
	CheckInterval int
	// Output receives Transcript output; os.Stdout when nil.
	Output io.Writer
	// SnapshotPath is where primitive 97 writes the image.
	SnapshotPath string
}

func (o *Options) setDefaults() {
	if o.GCThreshold <= 0 {
		o.GCThreshold = DefaultGCThreshold
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = DefaultCheckInterval
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
}

// MethodObserver is told about every method dictionary change.
type MethodObserver interface {
	MethodInstalled(class *Class, method *CompiledMethod)
	MethodRemoved(class *Class, selector string)
}

// MethodCompiler compiles method source for a class. The compiler package
// provides one; primitive compile: uses it.
type MethodCompiler interface {
	CompileMethod(vm *VM, class *Class, source string) (*CompiledMethod, error)
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM owns one object memory, its globals, the process scheduler and the
// interpreter registers. A VM is not safe for concurrent use.
type VM struct {
	Memory *Memory

	opts      Options
	output    io.Writer
	globals   map[string]Value // name -> Association
	processor Value            // the ProcessorScheduler
	startTime time.Time
	ImageID   string

	specialSelectors [len(SpecialSelectors)]Value
	sel              struct {
		doesNotUnderstand Value
		mustBeBoolean     Value
		cannotReturn      Value
		aboutToReturn     Value
		printString       Value
	}

	prims     []PrimitiveFunc
	observers []MethodObserver
	compiler  MethodCompiler

	cacheMode  CacheMode
	cacheEpoch uint64
	cacheStats CacheStats

	pinned map[Value]int
	timers []timer

	// interpreter registers
	active       *Context
	entry        *Context
	entryProcess Value
	running      bool
	done         bool
	result       Value
	err          error
}

// New creates a VM holding the core class graph. kernel.Boot builds on it
// to compile the class library.
func New(opts Options) *VM {
	vm := newVM(opts)
	vm.ImageID = uuid.NewString()
	vm.bootstrap()
	vm.initSelectors()
	return vm
}

func newVM(opts Options) *VM {
	opts.setDefaults()
	vm := &VM{
		Memory:    NewMemory(),
		opts:      opts,
		output:    opts.Output,
		globals:   make(map[string]Value),
		startTime: time.Now(),
		cacheMode: opts.CacheMode,
		pinned:    make(map[Value]int),
	}
	vm.registerPrimitives()
	return vm
}

func (vm *VM) initSelectors() {
	for i, s := range SpecialSelectors {
		vm.specialSelectors[i] = vm.Memory.Intern(s.Name)
	}
	vm.sel.doesNotUnderstand = vm.Memory.Intern("doesNotUnderstand:")
	vm.sel.mustBeBoolean = vm.Memory.Intern("mustBeBoolean")
	vm.sel.cannotReturn = vm.Memory.Intern("cannotReturn:")
	vm.sel.aboutToReturn = vm.Memory.Intern("aboutToReturn:through:")
	vm.sel.printString = vm.Memory.Intern("printString")
}

// Options returns the options the VM was created with.
func (vm *VM) Options() Options { return vm.opts }

// Output returns the Transcript writer.
func (vm *VM) Output() io.Writer { return vm.output }

// SetOutput redirects Transcript output.
func (vm *VM) SetOutput(w io.Writer) { vm.output = w }

// SetCompiler installs the compiler used by primitive compile:.
func (vm *VM) SetCompiler(c MethodCompiler) { vm.compiler = c }

// Compiler returns the installed compiler or nil.
func (vm *VM) Compiler() MethodCompiler { return vm.compiler }

// Observe registers a method observer.
func (vm *VM) Observe(o MethodObserver) { vm.observers = append(vm.observers, o) }

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global returns the value bound to name.
func (vm *VM) Global(name string) (Value, bool) {
	assoc, ok := vm.globals[name]
	if !ok {
		return Nil, false
	}
	return vm.Memory.Pointers(assoc).Slots[1], true
}

// SetGlobal binds name to v, keeping an existing binding object.
func (vm *VM) SetGlobal(name string, v Value) {
	if assoc, ok := vm.globals[name]; ok {
		vm.Memory.Pointers(assoc).Slots[1] = v
		return
	}
	vm.globals[name] = vm.Memory.NewAssociation(vm.Memory.Intern(name), v)
}

// GlobalBinding returns the Association for name, creating an unbound (nil)
// one when create is set.
func (vm *VM) GlobalBinding(name string, create bool) (Value, bool) {
	if assoc, ok := vm.globals[name]; ok {
		return assoc, true
	}
	if !create {
		return Nil, false
	}
	vm.SetGlobal(name, Nil)
	return vm.globals[name], true
}

// RemoveGlobal deletes a binding.
func (vm *VM) RemoveGlobal(name string) bool {
	if _, ok := vm.globals[name]; !ok {
		return false
	}
	delete(vm.globals, name)
	return true
}

// GlobalNames returns the bound names in order.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for name := range vm.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClassNamed returns the class bound to a global name.
func (vm *VM) ClassNamed(name string) *Class {
	v, ok := vm.Global(name)
	if !ok {
		return nil
	}
	return vm.Memory.ClassFor(v)
}

// Classes returns every class bound to a global, sorted by name.
func (vm *VM) Classes() []*Class {
	var classes []*Class
	for _, name := range vm.GlobalNames() {
		if c := vm.ClassNamed(name); c != nil && c.Name == name {
			classes = append(classes, c)
		}
	}
	return classes
}

// ---------------------------------------------------------------------------
// Class definition and method installation
// ---------------------------------------------------------------------------

// DefineClass creates a class and its metaclass and binds it globally. A
// definition of an existing class extends it: the superclass and format
// must match, and instance variables, when given, must be the same.
func (vm *VM) DefineClass(name string, super *Class, format Format, ivars []string, category string) (*Class, error) {
	if existing := vm.ClassNamed(name); existing != nil {
		if existing.Superclass != super {
			return nil, fmt.Errorf("vm: class %s already exists with superclass %s", name, superName(existing))
		}
		if existing.Format != format {
			return nil, fmt.Errorf("vm: class %s already exists with format %s", name, existing.Format)
		}
		if ivars != nil && !equalNames(existing.InstVarNames, ivars) {
			return nil, fmt.Errorf("vm: class %s already exists with instance variables %v", name, existing.InstVarNames)
		}
		if category != "" {
			existing.Category = category
		}
		return existing, nil
	}
	if super != nil && (super.Format == FormatBytes || super.Format == FormatWords) && len(ivars) > 0 {
		return nil, fmt.Errorf("vm: %s: %s instances cannot have named instance variables", name, super.Format)
	}
	if super != nil && format == FormatFixed && super.Format == FormatIndexable {
		format = FormatIndexable
	}
	cls := vm.newClassPair(name, super, format, ivars)
	cls.Category = category
	vm.SetGlobal(name, cls.oop)
	vm.invalidateCaches()
	log.Debugf("defined class %s", name)
	return cls, nil
}

// newClassPair creates and registers a class with its metaclass.
func (vm *VM) newClassPair(name string, super *Class, format Format, ivars []string) *Class {
	mem := vm.Memory
	metaSuper := mem.Classes.Class
	if super != nil {
		metaSuper = super.Metaclass()
	}
	meta := newClass("", metaSuper, FormatClass, nil)
	cls := newClass(name, super, format, ivars)
	cls.ClassPool = make(map[string]Value)
	meta.thisClass = cls
	mem.register(meta, mem.Classes.Metaclass)
	mem.register(cls, meta)
	return cls
}

func superName(c *Class) string {
	if c.Superclass == nil {
		return "nil"
	}
	return c.Superclass.Name
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddClassVariable declares a class variable on class.
func (vm *VM) AddClassVariable(class *Class, name string) Value {
	if b, ok := class.ClassPool[name]; ok {
		return b
	}
	if class.ClassPool == nil {
		class.ClassPool = make(map[string]Value)
	}
	b := vm.Memory.NewAssociation(vm.Memory.Intern(name), Nil)
	class.ClassPool[name] = b
	return b
}

// InstallMethod adds or replaces a method, invalidates every send-site
// cache entry and notifies observers.
func (vm *VM) InstallMethod(class *Class, method *CompiledMethod) {
	method.MethodClass = class
	class.putMethod(method.Selector, method)
	vm.invalidateCaches()
	log.Debugf("installed %s", method)
	for _, o := range vm.observers {
		o.MethodInstalled(class, method)
	}
}

// RemoveMethod deletes a method; it reports whether one was defined.
func (vm *VM) RemoveMethod(class *Class, selector string) bool {
	sym, ok := vm.Memory.LookupSymbol(selector)
	if !ok || !class.deleteMethod(sym) {
		return false
	}
	vm.invalidateCaches()
	log.Debugf("removed %s>>%s", class.DisplayName(), selector)
	for _, o := range vm.observers {
		o.MethodRemoved(class, selector)
	}
	return true
}

// ---------------------------------------------------------------------------
// Host handles
// ---------------------------------------------------------------------------

// Pin keeps v alive across collections until a matching Unpin.
func (vm *VM) Pin(v Value) {
	if v.IsObject() {
		vm.pinned[v]++
	}
}

// Unpin releases one Pin of v.
func (vm *VM) Unpin(v Value) {
	if n := vm.pinned[v]; n > 1 {
		vm.pinned[v] = n - 1
	} else {
		delete(vm.pinned, v)
	}
}
