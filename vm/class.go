package vm

import "sort"

// ---------------------------------------------------------------------------
// Instance formats
// ---------------------------------------------------------------------------

// Format describes the shape of a class's instances.
type Format uint8

const (
	FormatFixed     Format = iota // named pointer slots only
	FormatIndexable               // named slots followed by indexable pointers
	FormatBytes                   // indexable bytes, no named slots
	FormatWords                   // indexable 32-bit words, no named slots
	FormatFloat                   // boxed double
	FormatMethod                  // CompiledMethod
	FormatContext                 // Context
	FormatClosure                 // BlockClosure
	FormatClass                   // classes and metaclasses
)

var formatNames = [...]string{
	FormatFixed:     "fixed",
	FormatIndexable: "pointers",
	FormatBytes:     "bytes",
	FormatWords:     "words",
	FormatFloat:     "float",
	FormatMethod:    "method",
	FormatContext:   "context",
	FormatClosure:   "closure",
	FormatClass:     "class",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// IsIndexable reports whether instances carry indexable slots.
func (f Format) IsIndexable() bool {
	switch f {
	case FormatIndexable, FormatBytes, FormatWords:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class is a class or a metaclass. A class's own class (its header class) is
// its metaclass; a metaclass's header class is Metaclass.
type Class struct {
	header

	Name         string
	Superclass   *Class
	Format       Format
	InstVarNames []string // own instance variables, inherited ones excluded
	Category     string

	// ClassPool maps class variable names to Association values shared by
	// the class, its metaclass and all subclasses.
	ClassPool map[string]Value

	methods   map[Value]*CompiledMethod
	thisClass *Class // non-nil for metaclasses
	instSize  int
}

func newClass(name string, super *Class, format Format, ivars []string) *Class {
	c := &Class{
		Name:         name,
		Superclass:   super,
		Format:       format,
		InstVarNames: ivars,
		methods:      make(map[Value]*CompiledMethod),
	}
	c.recomputeInstSize()
	return c
}

func (c *Class) recomputeInstSize() {
	n := len(c.InstVarNames)
	if c.Superclass != nil {
		n += c.Superclass.InstSize()
	}
	c.instSize = n
}

// InstSize returns the number of named instance variables, inherited ones
// included.
func (c *Class) InstSize() int { return c.instSize }

// AllInstVarNames returns inherited instance variable names followed by the
// class's own.
func (c *Class) AllInstVarNames() []string {
	var names []string
	if c.Superclass != nil {
		names = c.Superclass.AllInstVarNames()
	}
	return append(names, c.InstVarNames...)
}

// IsMetaclass reports whether c is a metaclass.
func (c *Class) IsMetaclass() bool { return c.thisClass != nil }

// ThisClass returns the sole instance of a metaclass.
func (c *Class) ThisClass() *Class { return c.thisClass }

// Metaclass returns the class of c.
func (c *Class) Metaclass() *Class { return c.class }

// DisplayName returns "Foo" or "Foo class".
func (c *Class) DisplayName() string {
	if c.thisClass != nil {
		return c.thisClass.Name + " class"
	}
	return c.Name
}

// InheritsFrom reports whether other is c or one of its superclasses.
func (c *Class) InheritsFrom(other *Class) bool {
	for cls := c; cls != nil; cls = cls.Superclass {
		if cls == other {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Method dictionary
// ---------------------------------------------------------------------------

// Lookup walks the superclass chain starting at c and returns the nearest
// method for selector, or nil when no class in the chain defines it.
func (c *Class) Lookup(selector Value) *CompiledMethod {
	for cls := c; cls != nil; cls = cls.Superclass {
		if m, ok := cls.methods[selector]; ok {
			return m
		}
	}
	return nil
}

// LocalMethod returns the method defined on c itself.
func (c *Class) LocalMethod(selector Value) *CompiledMethod {
	return c.methods[selector]
}

// Includes reports whether c itself defines selector.
func (c *Class) Includes(selector Value) bool {
	_, ok := c.methods[selector]
	return ok
}

// Methods returns the methods defined on c sorted by selector name.
func (c *Class) Methods() []*CompiledMethod {
	ms := make([]*CompiledMethod, 0, len(c.methods))
	for _, m := range c.methods {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].SelectorName < ms[j].SelectorName })
	return ms
}

// NumMethods returns the size of the method dictionary.
func (c *Class) NumMethods() int { return len(c.methods) }

// putMethod and deleteMethod mutate the dictionary without invalidating
// caches; VM.InstallMethod and VM.RemoveMethod are the public entry points.
func (c *Class) putMethod(selector Value, m *CompiledMethod) {
	c.methods[selector] = m
}

func (c *Class) deleteMethod(selector Value) bool {
	if _, ok := c.methods[selector]; !ok {
		return false
	}
	delete(c.methods, selector)
	return true
}

// BindingOf resolves a class variable along the superclass chain, starting
// from the instance side for metaclasses.
func (c *Class) BindingOf(name string) (Value, bool) {
	cls := c
	if cls.thisClass != nil {
		cls = cls.thisClass
	}
	for ; cls != nil; cls = cls.Superclass {
		if b, ok := cls.ClassPool[name]; ok {
			return b, true
		}
	}
	return Nil, false
}

// ---------------------------------------------------------------------------
// Object interface
// ---------------------------------------------------------------------------

// Classes expose no pointer slots; reflection goes through primitives.
func (c *Class) NumSlots() int { return 0 }
func (c *Class) FetchPointer(int) (Value, error) { return Nil, ErrIndexOutOfBounds }
func (c *Class) StorePointer(int, Value) error { return ErrIndexOutOfBounds }

func (c *Class) references(visit func(Value)) {
	c.visitClass(visit)
	if c.Superclass != nil {
		visit(c.Superclass.oop)
	}
	if c.thisClass != nil {
		visit(c.thisClass.oop)
	}
	for sel, m := range c.methods {
		visit(sel)
		visit(m.oop)
	}
	for _, b := range c.ClassPool {
		visit(b)
	}
}
