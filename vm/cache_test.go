package vm_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
)

// A workload mixing polymorphic sends, blocks, non-local returns,
// exceptions and collections. Its printed answer and Transcript output must
// not depend on the cache discipline.
const workloadSource = `
Animal subclass: Object
  instanceVars: name
  classMethod: named: aString [ ^self new setName: aString ]
  method: setName: aString [ name := aString ]
  method: name [ ^name ]
  method: sound [ ^self subclassResponsibility ]
  method: speak [ ^name, ' says ', self sound ]

Dog subclass: Animal
  method: sound [ ^'woof' ]

Cat subclass: Animal
  method: sound [ ^'meow' ]

Fox subclass: Animal
  method: sound [ ^'ring-ding' ]

Quiet subclass: Dog
  method: speak [ ^name, ' says nothing' ]
`

const workloadDoIt = `
| zoo speeches total firstLong |
zoo := OrderedCollection new.
1 to: 30 do: [:i |
  zoo add: ((Smalltalk at: (#(#Dog #Cat #Fox #Quiet) at: i \\ 4 + 1)) named: 'a', i printString)].
speeches := zoo collect: [:each | each speak].
total := speeches inject: 0 into: [:sum :s | sum + s size].
firstLong := zoo detect: [:each | each speak size > 16] ifNone: [nil].
Transcript showCr: firstLong name.
[Animal new sound] on: Error do: [:e | Transcript showCr: e messageText].
Array with: total with: (speeches select: [:s | s includesSubstring: 'meow']) size with: (2 raisedTo: 70) \\ 1000
`

func runWorkload(t *testing.T, mode vm.CacheMode) (string, string, vm.CacheStats) {
	t.Helper()
	var out bytes.Buffer
	v, err := kernel.Boot(vm.Options{CacheMode: mode, Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := compiler.FileIn(v, workloadSource); err != nil {
		t.Fatal(err)
	}
	result, err := compiler.Evaluate(context.Background(), v, workloadDoIt)
	if err != nil {
		t.Fatal(err)
	}
	printed, err := v.PrintString(context.Background(), result)
	if err != nil {
		t.Fatal(err)
	}
	return printed, out.String(), v.CacheStats()
}

func TestCacheModesProduceIdenticalResults(t *testing.T) {
	wantResult, wantOut, _ := runWorkload(t, vm.CacheOff)
	if wantOut == "" {
		t.Fatal("workload wrote nothing to the Transcript")
	}
	for _, mode := range []vm.CacheMode{vm.CacheMonomorphic, vm.CachePolymorphic} {
		result, out, stats := runWorkload(t, mode)
		if result != wantResult {
			t.Errorf("%s: result %s, want %s", mode, result, wantResult)
		}
		if out != wantOut {
			t.Errorf("%s: transcript %q, want %q", mode, out, wantOut)
		}
		if stats.Hits == 0 {
			t.Errorf("%s: no cache hits over the whole workload", mode)
		}
	}
}

func TestRecompiledMethodIsSeenAfterCachedSends(t *testing.T) {
	v, err := kernel.Boot(vm.Options{Output: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := compiler.FileIn(v, workloadSource); err != nil {
		t.Fatal(err)
	}
	speak := func() string {
		t.Helper()
		r, err := compiler.Evaluate(context.Background(), v,
			`| d | d := Dog named: 'rex'. (1 to: 5) inject: '' into: [:acc :i | d speak]`)
		if err != nil {
			t.Fatal(err)
		}
		s, _ := v.Memory.StringValue(r)
		return s
	}
	if got := speak(); got != "rex says woof" {
		t.Fatalf("before recompiling: %q", got)
	}
	if _, err := compiler.Evaluate(context.Background(), v, `Dog compile: 'sound ^''grr'''`); err != nil {
		t.Fatal(err)
	}
	if got := speak(); got != "rex says grr" {
		t.Errorf("after recompiling: %q", got)
	}
	if _, err := compiler.Evaluate(context.Background(), v, `Dog removeSelector: #sound`); err != nil {
		t.Fatal(err)
	}
	r, err := compiler.Evaluate(context.Background(), v, `[(Dog named: 'rex') speak] on: Error do: [:e | e class name]`)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := v.Memory.StringValue(r); s != "Error" {
		t.Errorf("after removing Dog>>sound: %q", s)
	}
}
