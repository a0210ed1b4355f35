package compiler

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"

	"github.com/bluebook-vm/bluebook/vm"
)

var log = commonlog.GetLogger("bluebook.compiler")

// ---------------------------------------------------------------------------
// Compile helpers for external use
// ---------------------------------------------------------------------------

// Compile parses and compiles one method for class. The source is in
// compile: form: the signature followed by the body. The method is not
// installed.
func Compile(v *vm.VM, class *vm.Class, source string) (*vm.CompiledMethod, error) {
	parser := NewParser(source)
	method := parser.ParseMethod()
	if errs := parser.Errors(); len(errs) > 0 || method == nil {
		return nil, &vm.CompileError{Class: class.DisplayName(), Messages: orMissing(errs, "expected method signature")}
	}
	return CompileMethodDef(v, class, method)
}

// CompileDoIt compiles statements as an argumentless method of
// UndefinedObject that answers the value of its last statement.
func CompileDoIt(v *vm.VM, source string) (*vm.CompiledMethod, error) {
	class := v.Memory.Classes.UndefinedObject
	parser := NewParser(source)
	method := parser.ParseDoIt()
	if errs := parser.Errors(); len(errs) > 0 {
		return nil, &vm.CompileError{Class: class.DisplayName(), Messages: errs}
	}
	return compileDef(v, class, method, true)
}

// Evaluate compiles and runs a DoIt.
func Evaluate(ctx context.Context, v *vm.VM, source string) (vm.Value, error) {
	method, err := CompileDoIt(v, source)
	if err != nil {
		return vm.Nil, err
	}
	return v.Evaluate(ctx, method)
}

// CompileMethodDef compiles a parsed method for class.
func CompileMethodDef(v *vm.VM, class *vm.Class, method *MethodDef) (*vm.CompiledMethod, error) {
	return compileDef(v, class, method, false)
}

func compileDef(v *vm.VM, class *vm.Class, method *MethodDef, answerLast bool) (*vm.CompiledMethod, error) {
	analyzer := NewSemanticAnalyzer(class.AllInstVarNames(), func(name string) bool {
		if _, ok := class.BindingOf(name); ok {
			return true
		}
		_, ok := v.GlobalBinding(name, false)
		return ok
	})
	analyzer.AnalyzeMethod(method)
	for _, w := range analyzer.Warnings() {
		log.Warningf("%s>>%s: %s", class.DisplayName(), method.Selector, w)
	}
	if errs := analyzer.Errors(); len(errs) > 0 {
		return nil, &vm.CompileError{Class: class.DisplayName(), Messages: errs}
	}

	gen := NewCodegen(v, class)
	compiled, err := gen.CompileMethod(method, analyzer.result, answerLast)
	if err != nil {
		if _, ok := err.(*vm.CompileError); ok {
			return nil, err
		}
		return nil, &vm.CompileError{Class: class.DisplayName(), Messages: []string{err.Error()}}
	}
	return compiled, nil
}

func orMissing(errs []string, msg string) []string {
	if len(errs) == 0 {
		return []string{msg}
	}
	return errs
}

// ---------------------------------------------------------------------------
// vm.MethodCompiler
// ---------------------------------------------------------------------------

// Compiler plugs the compiler into a VM for primitive compile:.
type Compiler struct{}

// CompileMethod implements vm.MethodCompiler.
func (Compiler) CompileMethod(v *vm.VM, class *vm.Class, source string) (*vm.CompiledMethod, error) {
	return Compile(v, class, source)
}

// Install makes the compiler available to v.
func Install(v *vm.VM) {
	v.SetCompiler(Compiler{})
}

// ---------------------------------------------------------------------------
// File-in of class definition sources
// ---------------------------------------------------------------------------

// ParseSourceFileFromString parses a class definition source.
func ParseSourceFileFromString(source string) (*SourceFile, error) {
	parser := NewParser(source)
	sf := parser.ParseSourceFile()
	if len(parser.Errors()) > 0 {
		var errs *multierror.Error
		for _, e := range parser.Errors() {
			errs = multierror.Append(errs, fmt.Errorf("compiler: %s", e))
		}
		return sf, errs
	}
	return sf, nil
}

// FileIn defines the classes of a source file and installs their methods.
// All classes are defined before any method is compiled, so methods may
// refer to classes defined later in the file. Errors are collected; every
// definition and method that is correct is still filed in.
func FileIn(v *vm.VM, source string) ([]*vm.Class, error) {
	var errs *multierror.Error
	sf, err := ParseSourceFileFromString(source)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	classes := make([]*vm.Class, len(sf.Classes))
	for i, cd := range sf.Classes {
		class, err := defineClass(v, cd)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		classes[i] = class
	}

	var defined []*vm.Class
	count := 0
	for i, cd := range sf.Classes {
		class := classes[i]
		if class == nil {
			continue
		}
		defined = append(defined, class)
		for _, m := range cd.Methods {
			if err := fileInMethod(v, class, m); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			count++
		}
		for _, m := range cd.ClassMethods {
			if err := fileInMethod(v, class.Metaclass(), m); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			count++
		}
	}
	log.Debugf("filed in %d classes, %d methods", len(defined), count)
	return defined, errs.ErrorOrNil()
}

func fileInMethod(v *vm.VM, class *vm.Class, m *MethodDef) error {
	compiled, err := CompileMethodDef(v, class, m)
	if err != nil {
		return fmt.Errorf("compiler: %s>>%s: %w", class.DisplayName(), m.Selector, err)
	}
	v.InstallMethod(class, compiled)
	return nil
}

// defineClass creates or extends the class a definition names.
func defineClass(v *vm.VM, cd *ClassDef) (*vm.Class, error) {
	existing := v.ClassNamed(cd.Name)
	if cd.Extend {
		if existing == nil {
			return nil, fmt.Errorf("compiler: cannot extend undefined class %s", cd.Name)
		}
		addClassVariables(v, existing, cd)
		return existing, nil
	}

	var super *vm.Class
	if cd.Superclass != "nil" {
		if super = v.ClassNamed(cd.Superclass); super == nil {
			return nil, fmt.Errorf("compiler: %s: undefined superclass %s", cd.Name, cd.Superclass)
		}
	}

	format, err := classFormat(cd, super, existing)
	if err != nil {
		return nil, err
	}

	// An existing class keeps its instance variables unless the
	// definition names them.
	ivars := cd.InstanceVariables
	if ivars == nil && existing == nil {
		ivars = []string{}
	}

	class, err := v.DefineClass(cd.Name, super, format, ivars, cd.Category)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	addClassVariables(v, class, cd)
	return class, nil
}

func addClassVariables(v *vm.VM, class *vm.Class, cd *ClassDef) {
	for _, name := range cd.ClassVariables {
		v.AddClassVariable(class, name)
	}
}

// classFormat picks the instance format: indexed: when given, the format of
// an existing class, or the inherited shape.
func classFormat(cd *ClassDef, super, existing *vm.Class) (vm.Format, error) {
	switch cd.Indexed {
	case "pointers":
		return vm.FormatIndexable, nil
	case "bytes":
		return vm.FormatBytes, nil
	case "words":
		return vm.FormatWords, nil
	}
	if existing != nil {
		return existing.Format, nil
	}
	if super == nil {
		return vm.FormatFixed, nil
	}
	switch super.Format {
	case vm.FormatBytes, vm.FormatWords, vm.FormatIndexable:
		return super.Format, nil
	case vm.FormatFixed:
		return vm.FormatFixed, nil
	}
	return 0, fmt.Errorf("compiler: %s: cannot subclass %s instances of %s", cd.Name, super.Format, super.Name)
}
