package compiler

import (
	"context"
	"math/big"
	"testing"

	"github.com/bluebook-vm/bluebook/vm"
)

// Integration tests: file in real classes and run them

const integrationSource = `
Integer extend
  method: factorial [
    self = 0 ifTrue: [^1].
    ^self * (self - 1) factorial ]
  method: fib [
    self < 2 ifTrue: [^self].
    ^(self - 1) fib + (self - 2) fib ]
  method: max: other [ self > other ifTrue: [^self]. ^other ]
  method: between: lo and: hi [ ^self >= lo and: [self <= hi] ]
  method: even [ ^self \\ 2 = 0 ]
  method: odd [ ^self even not ]
  method: abs [ self < 0 ifTrue: [^0 - self]. ^self ]

Boolean extend
  method: not [ ^self ifTrue: [false] ifFalse: [true] ]

Point subclass: Object
  instanceVars: x y
  category: 'Graphics'
  classMethod: x: ax y: ay [ ^self new setX: ax y: ay ]
  method: setX: ax y: ay [ x := ax. y := ay ]
  method: x [ ^x ]
  method: y [ ^y ]
  method: + other [ ^Point x: x + other x y: y + other y ]
  method: sum [ ^x + y ]

Point3 subclass: Point
  instanceVars: z
  method: setZ: az [ z := az ]
  method: sum [ ^super sum + z ]

Finder subclass: Object
  instanceVars: items
  method: items: anArray [ items := anArray ]
  method: each: aBlock [
    1 to: items size do: [:i | aBlock value: (items at: i)] ]
  method: detect: aBlock [
    self each: [:each | (aBlock value: each) ifTrue: [^each]].
    ^nil ]

Counter subclass: Object
  classVars: Count
  classMethod: next [
    Count == nil ifTrue: [Count := 0].
    Count := Count + 1.
    ^Count ]
`

func newIntegrationVM(t *testing.T) *vm.VM {
	t.Helper()
	v, _ := newTestVM(t)
	if _, err := FileIn(v, integrationSource); err != nil {
		t.Fatalf("file in: %v", err)
	}
	return v
}

func send(t *testing.T, v *vm.VM, rcvr vm.Value, selector string, args ...vm.Value) vm.Value {
	t.Helper()
	result, err := v.Send(context.Background(), rcvr, selector, args...)
	if err != nil {
		t.Fatalf("%s: %v", selector, err)
	}
	return result
}

func TestIntegrationFactorial(t *testing.T) {
	v := newIntegrationVM(t)

	expectInt(t, "5 factorial", send(t, v, vm.FromSmallInt(5), "factorial"), 120)
	expectInt(t, "0 factorial", send(t, v, vm.FromSmallInt(0), "factorial"), 1)

	result := send(t, v, vm.FromSmallInt(30), "factorial")
	got, ok := v.Memory.BigInt(result)
	if !ok {
		t.Fatalf("30 factorial = %v, not an integer", result)
	}
	want := new(big.Int).MulRange(1, 30)
	if got.Cmp(want) != 0 {
		t.Errorf("30 factorial = %s, want %s", got, want)
	}
	if v.Memory.ClassOf(result) != v.Memory.Classes.LargePositiveInteger {
		t.Errorf("30 factorial is a %s", v.Memory.ClassOf(result).Name)
	}
}

func TestIntegrationFibonacci(t *testing.T) {
	v := newIntegrationVM(t)
	expectInt(t, "10 fib", send(t, v, vm.FromSmallInt(10), "fib"), 55)
	expectInt(t, "20 fib", send(t, v, vm.FromSmallInt(20), "fib"), 6765)
}

func TestIntegrationComparisons(t *testing.T) {
	v := newIntegrationVM(t)

	expectInt(t, "3 max: 7", send(t, v, vm.FromSmallInt(3), "max:", vm.FromSmallInt(7)), 7)
	expectInt(t, "9 max: 2", send(t, v, vm.FromSmallInt(9), "max:", vm.FromSmallInt(2)), 9)

	tests := []struct {
		n    int64
		want vm.Value
	}{
		{0, vm.False},
		{1, vm.True},
		{5, vm.True},
		{10, vm.True},
		{11, vm.False},
	}
	for _, tt := range tests {
		got := send(t, v, vm.FromSmallInt(tt.n), "between:and:", vm.FromSmallInt(1), vm.FromSmallInt(10))
		if got != tt.want {
			t.Errorf("%d between: 1 and: 10 = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestIntegrationParityAndAbs(t *testing.T) {
	v := newIntegrationVM(t)

	for n := int64(-3); n <= 3; n++ {
		even := n%2 == 0
		if got := send(t, v, vm.FromSmallInt(n), "even"); got != vm.FromBool(even) {
			t.Errorf("%d even = %v", n, got)
		}
		if got := send(t, v, vm.FromSmallInt(n), "odd"); got != vm.FromBool(!even) {
			t.Errorf("%d odd = %v", n, got)
		}
	}
	expectInt(t, "-7 abs", send(t, v, vm.FromSmallInt(-7), "abs"), 7)
	expectInt(t, "7 abs", send(t, v, vm.FromSmallInt(7), "abs"), 7)
}

func TestIntegrationTimesRepeat(t *testing.T) {
	v := newIntegrationVM(t)
	expectInt(t, "timesRepeat:", evalIn(t, v, "| n | n := 0. 5 timesRepeat: [n := n + 2]. n"), 10)
}

func TestIntegrationClassMethodsAndSuper(t *testing.T) {
	v := newIntegrationVM(t)

	expectInt(t, "Point sum", evalIn(t, v, "(Point x: 3 y: 4) sum"), 7)
	expectInt(t, "Point +", evalIn(t, v, "((Point x: 1 y: 2) + (Point x: 10 y: 20)) y"), 22)
	expectInt(t, "super sum", evalIn(t, v, "((Point3 x: 1 y: 2) setZ: 3; yourself) sum"), 6)

	point := v.ClassNamed("Point")
	if point == nil || point.Category != "Graphics" {
		t.Fatalf("Point = %v", point)
	}
	if got := point.AllInstVarNames(); len(got) != 2 {
		t.Errorf("Point instance variables = %v", got)
	}
	if got := v.ClassNamed("Point3").AllInstVarNames(); len(got) != 3 || got[2] != "z" {
		t.Errorf("Point3 instance variables = %v", got)
	}
}

func TestIntegrationNonLocalReturnFromBlock(t *testing.T) {
	v := newIntegrationVM(t)

	expectInt(t, "detect:", evalIn(t, v, "(Finder new items: #(1 3 8 5 10)) detect: [:x | x > 4]"), 8)
	if got := evalIn(t, v, "(Finder new items: #(1 3)) detect: [:x | x > 4]"); got != vm.Nil {
		t.Errorf("detect: without a match = %v, want nil", got)
	}
}

func TestIntegrationClassVariables(t *testing.T) {
	v := newIntegrationVM(t)

	counter := v.ClassNamed("Counter")
	for want := int64(1); want <= 3; want++ {
		expectInt(t, "Counter next", send(t, v, counter.OOP(), "next"), want)
	}
}
