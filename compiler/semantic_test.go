package compiler

import (
	"strings"
	"testing"
)

func analyzeSource(t *testing.T, source string, instVars []string) *SemanticAnalyzer {
	t.Helper()
	parser := NewParser(source)
	method := parser.ParseMethod()
	if len(parser.Errors()) > 0 {
		t.Fatalf("parse errors: %v", parser.Errors())
	}
	s := NewSemanticAnalyzer(instVars, func(name string) bool { return name == "Smalltalk" })
	s.AnalyzeMethod(method)
	return s
}

func mentions(msgs []string, parts ...string) bool {
	for _, m := range msgs {
		all := true
		for _, p := range parts {
			all = all && strings.Contains(m, p)
		}
		if all {
			return true
		}
	}
	return false
}

func TestSemanticAnalyzer_UndeclaredVariable(t *testing.T) {
	s := analyzeSource(t, "doIt\n    ^undefinedVar", nil)
	if !mentions(s.Warnings(), "undeclared variable", "undefinedVar") {
		t.Errorf("expected a warning about undefinedVar, got: %v", s.Warnings())
	}
	if len(s.Errors()) != 0 {
		t.Errorf("undeclared variables are not errors: %v", s.Errors())
	}
}

func TestSemanticAnalyzer_DeclaredNames(t *testing.T) {
	s := analyzeSource(t, `doIt: x
    | y |
    y := x + value.
    ^Smalltalk at: y`, []string{"value"})
	if len(s.Warnings()) != 0 || len(s.Errors()) != 0 {
		t.Errorf("unexpected diagnostics: %v %v", s.Warnings(), s.Errors())
	}
}

func TestSemanticAnalyzer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"duplicate temp", "foo | a a | ^a", "duplicate name 'a'"},
		{"temp shadows argument", "foo: a | a | ^a", "duplicate name 'a'"},
		{"duplicate block parameter", "foo ^[:x :x | x]", "duplicate name 'x'"},
		{"assign to method argument", "foo: a a := 1", "cannot assign to argument 'a'"},
		{"assign to block argument", "foo ^[:x | x := 2]", "cannot assign to argument 'x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := analyzeSource(t, tt.source, nil)
			if !mentions(s.Errors(), tt.want) {
				t.Errorf("errors %v do not mention %q", s.Errors(), tt.want)
			}
		})
	}
}

func TestSemanticAnalyzer_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"shadowed instance variable", "foo | count | ^count", "shadows an instance variable"},
		{"unreachable code", "foo ^1. 2", "unreachable code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := analyzeSource(t, tt.source, []string{"count"})
			if !mentions(s.Warnings(), tt.want) {
				t.Errorf("warnings %v do not mention %q", s.Warnings(), tt.want)
			}
		})
	}
}

func TestSemanticAnalyzer_InlinedBlockParameterIsTemp(t *testing.T) {
	s := analyzeSource(t, "foo | sum | sum := 0. 1 to: 10 do: [:i | sum := sum + i]. ^sum", nil)
	if len(s.Errors()) != 0 {
		t.Fatal(s.Errors())
	}
	a := s.result
	if len(a.frames) != 1 {
		t.Fatalf("inlined loop created %d frames, want 1", len(a.frames))
	}
	// sum, i and the hidden loop limit
	if a.method.size != 3 {
		t.Errorf("method frame size = %d, want 3", a.method.size)
	}
	if a.method.vectorSlot != -1 {
		t.Error("no variable should need a temp vector")
	}
}

func TestSemanticAnalyzer_ClosureCopiesReadOnlyCaptures(t *testing.T) {
	s := analyzeSource(t, "foo: a | y | ^[a] value + [y := 3] value", nil)
	if len(s.Errors()) != 0 {
		t.Fatal(s.Errors())
	}
	a := s.result
	if len(a.frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(a.frames))
	}

	m := a.method
	if len(m.vector) != 1 || m.vector[0].name != "y" {
		t.Fatalf("temp vector = %v", m.vector)
	}
	// a at 0, the vector after it
	if m.vectorSlot != 1 || m.size != 2 {
		t.Errorf("vector slot %d, size %d", m.vectorSlot, m.size)
	}

	reader := a.frames[1]
	if len(reader.copied) != 1 {
		t.Fatalf("reader copies %d values", len(reader.copied))
	}
	if v, ok := reader.copied[0].(*variable); !ok || v.name != "a" {
		t.Errorf("reader copies %#v, want a", reader.copied[0])
	}

	writer := a.frames[2]
	if len(writer.copied) != 1 || writer.copied[0] != interface{}(m) {
		t.Errorf("writer copies %#v, want the method temp vector", writer.copied)
	}
}

func TestSemanticAnalyzer_NestedCaptureThreadsThroughFrames(t *testing.T) {
	s := analyzeSource(t, "foo | n | n := 0. ^[[n := n + 1]] value value", nil)
	if len(s.Errors()) != 0 {
		t.Fatal(s.Errors())
	}
	outer, inner := s.result.frames[1], s.result.frames[2]
	if len(outer.copied) != 1 || len(inner.copied) != 1 {
		t.Fatalf("outer copies %d, inner copies %d", len(outer.copied), len(inner.copied))
	}
	if outer.copied[0] != inner.copied[0] {
		t.Error("both blocks should copy the same temp vector")
	}
}

func TestSemanticAnalyzer_BlockLocalsGetTheirOwnVector(t *testing.T) {
	s := analyzeSource(t, "foo ^[| t | [t := 1]. t]", nil)
	if len(s.Errors()) != 0 {
		t.Fatal(s.Errors())
	}
	block := s.result.frames[1]
	if len(block.vector) != 1 || block.vectorSlot != 0 {
		t.Errorf("block vector %v at %d", block.vector, block.vectorSlot)
	}
	if block.numLocals != 0 {
		t.Errorf("block locals = %d, want 0", block.numLocals)
	}
}

func TestInlinable(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"x ifTrue: [1]", true},
		{"x ifTrue: y", false},
		{"x ifTrue: [:a | 1]", false},
		{"x ifTrue: [1] ifFalse: [2]", true},
		{"x and: [y]", true},
		{"[x] whileTrue: [y]", true},
		{"[x] whileTrue", true},
		{"b whileTrue", false},
		{"[x] repeat", true},
		{"1 to: 5 do: [:i | i]", true},
		{"1 to: 5 do: [1]", false},
		{"1 to: 5 by: 2 do: [:i | i]", true},
		{"1 to: 5 by: n do: [:i | i]", false},
		{"1 to: 5 by: 0 do: [:i | i]", false},
		{"x ifNil: [1]", true},
		{"x ifNotNil: [:v | v]", true},
		{"x ifNil: [1] ifNotNil: [:v | v]", true},
		{"x ifNotNil: [:v | v] ifNil: [1]", true},
		{"3 timesRepeat: [x]", true},
		{"super ifTrue: [1]", false},
	}
	for _, tt := range tests {
		p := NewParser(tt.source)
		expr := p.ParseExpression()
		if len(p.Errors()) > 0 {
			t.Fatalf("%q: %v", tt.source, p.Errors())
		}
		if got := inlinable(expr); got != tt.want {
			t.Errorf("inlinable(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	method := NewParser("foo: a a := 1. ^b").ParseMethod()
	errs, warnings := Analyze(method, nil)
	if len(errs) != 1 || len(warnings) != 1 {
		t.Errorf("errors %v warnings %v", errs, warnings)
	}
}
