package kernel_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
	"github.com/stretchr/testify/require"
)

func boot(t *testing.T) (*vm.VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	v, err := kernel.Boot(vm.Options{Output: &out})
	require.NoError(t, err)
	return v, &out
}

func eval(t *testing.T, v *vm.VM, src string) vm.Value {
	t.Helper()
	result, err := compiler.Evaluate(context.Background(), v, src)
	require.NoError(t, err, src)
	return result
}

func printed(t *testing.T, v *vm.VM, src string) string {
	t.Helper()
	s, err := v.PrintString(context.Background(), eval(t, v, src))
	require.NoError(t, err, src)
	return s
}

func unhandled(t *testing.T, v *vm.VM, src string) *vm.UnhandledError {
	t.Helper()
	_, err := compiler.Evaluate(context.Background(), v, src)
	var ue *vm.UnhandledError
	require.ErrorAs(t, err, &ue, src)
	return ue
}

type printCase struct {
	src  string
	want string
}

func checkPrinted(t *testing.T, cases []printCase) {
	t.Helper()
	v, _ := boot(t)
	for _, c := range cases {
		require.Equal(t, c.want, printed(t, v, c.src), c.src)
	}
}

func TestSourceIncludesEveryFile(t *testing.T) {
	src, err := kernel.Source()
	require.NoError(t, err)
	require.Contains(t, src, "Exception subclass: Object")
	require.Contains(t, src, "OrderedCollection subclass: SequenceableCollection")
	require.Contains(t, src, "Semaphore extend")
}

func TestBootDefinesLibraryClasses(t *testing.T) {
	v, _ := boot(t)
	for _, name := range []string{
		"Exception", "Error", "ZeroDivide", "MessageNotUnderstood", "BlockCannotReturn",
		"OrderedCollection", "Dictionary", "Set", "Interval", "WriteStream", "ReadStream",
	} {
		require.NotNil(t, v.ClassNamed(name), name)
	}
	require.Equal(t, "Kernel-Exceptions", v.ClassNamed("ZeroDivide").Category)
	require.NoError(t, v.Validate())
}

func TestPrinting(t *testing.T) {
	checkPrinted(t, []printCase{
		{"nil", "nil"},
		{"true & false", "false"},
		{"3 + 4", "7"},
		{"-5", "-5"},
		{"$a", "$a"},
		{"#foo", "#foo"},
		{"'it''s'", "'it''s'"},
		{"#(1 $a #sym 'str' nil)", "#(1 $a #sym 'str' nil)"},
		{"Object new", "an Object"},
		{"Association key: 1 value: 2", "1->2"},
		{"3 -> 4", "3->4"},
		{"OrderedCollection", "OrderedCollection"},
		{"(1 to: 3)", "(1 to: 3)"},
		{"255 printString: 16", "'ff'"},
		{"7 printPaddedWith: $0 to: 3", "'007'"},
		{"#(1 2) printString", "'#(1 2)'"},
		{"3 displayString", "'3'"},
		{"'abc' displayString", "'abc'"},
		{"(ZeroDivide new messageText: 'oops'; yourself)", "ZeroDivide: oops"},
	})
}

func TestIntegerArithmetic(t *testing.T) {
	checkPrinted(t, []printCase{
		{"(2 raisedTo: 62) + (2 raisedTo: 62)", "9223372036854775808"},
		{"((2 raisedTo: 62) + (2 raisedTo: 62)) class", "LargePositiveInteger"},
		{"((2 raisedTo: 63) - (2 raisedTo: 62) - (2 raisedTo: 62)) class", "SmallInteger"},
		{"(2 raisedTo: 64) negated class", "LargeNegativeInteger"},
		{"1000000000 * 1000000000 * 1000000000", "1000000000000000000000000000"},
		{"100 factorial printString size", "158"},
		{"6 / 3", "2"},
		{"7 / 2", "3.5"},
		{"-7 \\\\ 2", "1"},
		{"-7 // 2", "-4"},
		{"-7 rem: 2", "-1"},
		{"-7 quo: 2", "-3"},
		{"12 gcd: 18", "6"},
		{"4 lcm: 6", "12"},
		{"17 isPrime", "true"},
		{"1 << 10", "1024"},
		{"(2 raisedTo: 100) >> 98", "4"},
		{"(1 to: 10) inject: 0 into: [:a :b | a + b]", "55"},
		{"3 max: 9", "9"},
		{"5 between: 1 and: 10", "true"},
		{"3 = 'three'", "false"},
		{"(2 raisedTo: 70) = (2 raisedTo: 70)", "true"},
	})
}

func TestFloatArithmetic(t *testing.T) {
	checkPrinted(t, []printCase{
		{"3 + 0.5", "3.5"},
		{"0.5 + 3", "3.5"},
		{"1 / 4", "0.25"},
		{"0.1 + 0.2", "0.30000000000000004"},
		{"4 sqrt", "2.0"},
		{"3.7 floor", "3"},
		{"-3.7 floor", "-4"},
		{"3.2 ceiling", "4"},
		{"3.5 rounded", "4"},
		{"2.5 truncated", "2"},
		{"1.5 = 1.5", "true"},
		{"2 = 2.0", "true"},
		{"1 < 1.5", "true"},
		{"(2 raisedTo: 64) asFloat > 1.0e19", "true"},
	})
}

func TestCharactersAndStrings(t *testing.T) {
	checkPrinted(t, []printCase{
		{"$a asUppercase", "$A"},
		{"$a < $b", "true"},
		{"97 asCharacter", "$a"},
		{"$7 digitValue", "7"},
		{"'abc' , 'def'", "'abcdef'"},
		{"'hello' reversed", "'olleh'"},
		{"'hello' asUppercase", "'HELLO'"},
		{"'abc' < 'abd'", "true"},
		{"'abc' = 'abc'", "true"},
		{"'abc' = #abc", "true"},
		{"#abc == 'abc' asSymbol", "true"},
		{"'hello world  again' substrings", "#('hello' 'world' 'again')"},
		{"'  padded ' trimSeparators", "'padded'"},
		{"'-123' asInteger", "-123"},
		{"'12x' asInteger", "nil"},
		{"'hello' indexOfSubstring: 'll'", "3"},
		{"'hello' copyFrom: 2 to: 4", "'ell'"},
		{"'hello' includes: $e", "true"},
		{"'abc' hash = 'abc' copy hash", "true"},
		{"#at:put: numArgs", "2"},
		{"#+ numArgs", "1"},
		{"#(3 4) collect: #squared", "#(9 16)"},
	})
}

func TestCollections(t *testing.T) {
	checkPrinted(t, []printCase{
		{"#(1 2 3) reverse", "#(3 2 1)"},
		{"(1 to: 10) select: [:x | x even]", "#(2 4 6 8 10)"},
		{"(1 to: 5) collect: [:x | x * x]", "#(1 4 9 16 25)"},
		{"(1 to: 10 by: 3) asArray", "#(1 4 7 10)"},
		{"(5 to: 1 by: -2) asArray", "#(5 3 1)"},
		{"#(1 2 3) , #(4)", "#(1 2 3 4)"},
		{"#(1 2 3) = #(1 2 3)", "true"},
		{"#(3 1 2) detect: [:x | x > 2]", "3"},
		{"#(1 2) detect: [:x | x > 5] ifNone: [0]", "0"},
		{"#(1 2 3 4) count: [:x | x odd]", "2"},
		{"(Array new: 3 withAll: 7)", "#(7 7 7)"},
		{"(Array with: 1 with: 2) size", "2"},
		{"#[1 2 255]", "#[1 2 255]"},
		{"(OrderedCollection new add: 3; add: 4; yourself) asArray", "#(3 4)"},
		{"(OrderedCollection new addFirst: 1; addFirst: 2; addLast: 3; yourself) asArray", "#(2 1 3)"},
		{"| c | c := OrderedCollection new. 1 to: 100 do: [:i | c add: i]. c size", "100"},
		{"| c | c := #(3 1 2) asOrderedCollection. c removeFirst. c asArray", "#(1 2)"},
		{"| c | c := #(1 2 3 4) asOrderedCollection. c remove: 3. c asArray", "#(1 2 4)"},
		{"(#(1 2 3) asOrderedCollection collect: [:x | x * 10]) asArray", "#(10 20 30)"},
		{"(#(1 2 3) asOrderedCollection , #(4 5)) size", "5"},
		{"(Dictionary new at: #a put: 1; at: #b put: 2; yourself) at: #b", "2"},
		{"(Dictionary new at: #a put: 1; yourself) at: #z ifAbsent: [0]", "0"},
		{"| d | d := Dictionary new. 1 to: 50 do: [:i | d at: i put: i * i]. (d at: 7) + d size", "99"},
		{"| d | d := Dictionary new. d at: 'x' put: 1. d removeKey: 'x'. d size", "0"},
		{"(Dictionary new at: 1 put: 2; yourself) keys", "#(1)"},
		{"(Set new add: 1; add: 1; add: 2; yourself) size", "2"},
		{"(#(1 2 2 3) asSet includes: 2)", "true"},
		{"#(4 9 1) max", "9"},
		{"#(1 2 3) sum", "6"},
	})
}

func TestStreams(t *testing.T) {
	checkPrinted(t, []printCase{
		{"| s | s := WriteStream on: String new. s nextPutAll: 'ab'; nextPut: $c; print: 42. s contents", "'abc42'"},
		{"| s | s := WriteStream on: (Array new: 0). s nextPut: 1; nextPut: 2. s contents", "#(1 2)"},
		{"| s | s := ReadStream on: #(1 2 3). s next. s next", "2"},
		{"| s | s := 'hello world' readStream. s upTo: Character space", "'hello'"},
		{"| s | s := 'hello world' readStream. s skip: 6. s upToEnd", "'world'"},
		{"| s | s := ReadStream on: #(). s next", "nil"},
	})
}

func TestReflection(t *testing.T) {
	checkPrinted(t, []printCase{
		{"3 class", "SmallInteger"},
		{"3 isKindOf: Integer", "true"},
		{"3 respondsTo: #printString:", "true"},
		{"3 respondsTo: #frobnicate", "false"},
		{"Integer inheritsFrom: Number", "true"},
		{"OrderedCollection superclass", "SequenceableCollection"},
		{"Association instVarNames", "#('key' 'value')"},
		{"3 perform: #+ with: 4", "7"},
		{"3 perform: #between:and: withArguments: #(1 5)", "true"},
		{"(Smalltalk at: #Transcript) class", "TranscriptStream"},
		{"Smalltalk includesKey: #Processor", "true"},
		{"(Message selector: #+ arguments: #(2)) sendTo: 40", "42"},
	})
}

func TestDefineClassFromSmalltalk(t *testing.T) {
	v, _ := boot(t)
	eval(t, v, `Object subclass: #Animal
		instanceVariableNames: 'name'
		classVariableNames: ''
		category: 'Zoo'`)
	require.Equal(t, "#speak", printed(t, v, "Animal compile: 'speak ^''...'' , name'"))
	eval(t, v, "Animal compile: 'name: aString name := aString'")

	require.Equal(t, "'Zoo'", printed(t, v, "Animal category"))
	require.Equal(t, "'...rex'", printed(t, v, "(Animal new name: 'rex'; yourself) speak"))
	require.Equal(t, "true", printed(t, v, "Animal new respondsTo: #speak"))
	require.Equal(t, "true", printed(t, v, "(Animal removeSelector: #speak) notNil"))
	require.Equal(t, "false", printed(t, v, "Animal new respondsTo: #speak"))

	ue := unhandled(t, v, "Animal compile: 'broken ^('")
	require.Equal(t, "Error", ue.ClassName)
}

func TestExceptionHandling(t *testing.T) {
	checkPrinted(t, []printCase{
		{"[1/0] on: ZeroDivide do: [:e | e return: -1]", "-1"},
		{"[1/0] on: ZeroDivide do: [:e | 42]", "42"},
		{"[1/0] on: Error do: [:e | e class]", "ZeroDivide"},
		{"[1/0] on: ZeroDivide do: [:e | e dividend]", "1"},
		{"[(1/0) + 1] on: ZeroDivide do: [:e | e resume: 5]", "6"},
		{"[Error signal: 'boom'] on: Error do: [:e | e messageText]", "'boom'"},
		{"[Error signal] on: Error do: [:e | e return]", "nil"},
		{"[1/0] on: MessageNotUnderstood, ZeroDivide do: [:e | 9]", "9"},
		{"[[1/0] on: ZeroDivide do: [:e | e pass]] on: ZeroDivide do: [:e | 7]", "7"},
		{"[[(1/0) + 1] on: ZeroDivide do: [:e | e outer + 10]] on: ZeroDivide do: [:e | e resume: 5]", "15"},
		{"[[1/0] on: MessageNotUnderstood do: [:e | 1]] on: ZeroDivide do: [:e | 2]", "2"},
		{"| n | n := 0. [n := n + 1. n < 3 ifTrue: [Error signal]. n] on: Error do: [:e | e retry]", "3"},
		{"[nil foo] on: MessageNotUnderstood do: [:e | e message selector]", "#foo"},
		{"[nil foo] on: MessageNotUnderstood do: [:e | e receiver]", "nil"},
		{"[nil foo + 1] on: MessageNotUnderstood do: [:e | e resume: 41]", "42"},
		{"[3 + 'abc'] on: ArgumentTypeError do: [:e | e argument]", "'abc'"},
		{"[3 ifTrue: [1] ifFalse: [2]] on: NonBooleanReceiver do: [:e | e resume: true]", "1"},
		{"[Smalltalk at: #NoSuchGlobal] on: KeyNotFound do: [:e | e key]", "#NoSuchGlobal"},
		{"[#(1 2) detect: [:x | x > 3]] on: Error do: [:e | #none]", "#none"},
		{"Notification signal isNil", "true"},
		{"[Notification signal: 'x'. 5] on: Notification do: [:e | e resume: 1]", "5"},
		{"[Warning signal: 'w'] on: Warning do: [:e | e resume: 8]", "8"},
	})
}

func TestIndexErrorLeavesArrayIntact(t *testing.T) {
	checkPrinted(t, []printCase{
		{"| a | a := #(1 2 3) copy. [a at: 4] on: SubscriptOutOfBounds do: [:e | e index]", "4"},
		{"| a | a := #(1 2 3) copy. [a at: 4 put: 9] on: SubscriptOutOfBounds do: [:e | nil]. a", "#(1 2 3)"},
		{"| a | a := Array new: 2. [a at: 0] on: Error do: [:e | e messageText]", "'index 0 is out of bounds'"},
		{"[(OrderedCollection new) removeFirst] on: Error do: [:e | e messageText]", "'collection is empty'"},
	})
}

func TestUnhandledErrors(t *testing.T) {
	v, _ := boot(t)

	ue := unhandled(t, v, "1/0")
	require.Equal(t, "ZeroDivide", ue.ClassName)
	require.Equal(t, "unhandled ZeroDivide: division by zero", ue.Error())
	require.NotEmpty(t, ue.Trace)

	ue = unhandled(t, v, "3 zork")
	require.Equal(t, "MessageNotUnderstood", ue.ClassName)
	require.Equal(t, "3 doesNotUnderstand: #zork", ue.MessageText)

	ue = unhandled(t, v, "self error: 'custom'")
	require.Equal(t, "custom", ue.MessageText)

	ue = unhandled(t, v, "[Error signal: 'x'] on: Error do: [:e | e resume: 3]")
	require.Equal(t, "IllegalResumeAttempt", ue.ClassName)

	// The VM stays usable after an unhandled error.
	require.Equal(t, "3", printed(t, v, "1 + 2"))
}

const unwinderSource = `
Unwinder subclass: Object
  instanceVars: log
  method: log [ ^log ifNil: [log := OrderedCollection new] ]
  method: early [
    #(1 2 3) do: [:x | [x = 2 ifTrue: [^x]] ensure: [self log add: x]].
    ^0 ]
  method: curtailed [
    [^1] ifCurtailed: [self log add: #curtailed].
    ^2 ]
  method: completes [
    [3] ifCurtailed: [self log add: #curtailed].
    ^4 ]
  method: escaper [ ^[:x | ^x] ]
`

func bootWithUnwinder(t *testing.T) *vm.VM {
	t.Helper()
	v, _ := boot(t)
	_, err := compiler.FileIn(v, unwinderSource)
	require.NoError(t, err)
	return v
}

func TestEnsure(t *testing.T) {
	v := bootWithUnwinder(t)

	require.Equal(t, "#(1 2)", printed(t, v,
		"| log | log := OrderedCollection new. [log add: 1] ensure: [log add: 2]. log asArray"))
	require.Equal(t, "5", printed(t, v, "[5] ensure: [6]"))
	require.Equal(t, "#(1 3 2)", printed(t, v, `| log |
		log := OrderedCollection new.
		[[log add: 1. 1/0. log add: 99] ensure: [log add: 2]] on: ZeroDivide do: [:e | log add: 3].
		log asArray`))
	require.Equal(t, "#(1 2)", printed(t, v, `| log n |
		log := OrderedCollection new. n := 0.
		[n := n + 1. [n < 2 ifTrue: [Error signal]] ensure: [log add: n]] on: Error do: [:e | e retry].
		log asArray`))
}

func TestNonLocalReturnRunsUnwindBlocks(t *testing.T) {
	v := bootWithUnwinder(t)

	require.Equal(t, "#(2 #(1 2))", printed(t, v, "| p | p := Unwinder new. Array with: p early with: p log asArray"))
	require.Equal(t, "#(1 #(#curtailed))", printed(t, v, "| p | p := Unwinder new. Array with: p curtailed with: p log asArray"))
	require.Equal(t, "#(4 #())", printed(t, v, "| p | p := Unwinder new. Array with: p completes with: p log asArray"))
}

func TestBlockCannotReturn(t *testing.T) {
	v := bootWithUnwinder(t)

	ue := unhandled(t, v, "Unwinder new escaper value: 3")
	require.Equal(t, "BlockCannotReturn", ue.ClassName)

	require.Equal(t, "3", printed(t, v,
		"[Unwinder new escaper value: 3] on: BlockCannotReturn do: [:e | e result]"))
}

func TestProcessesAndSemaphores(t *testing.T) {
	checkPrinted(t, []printCase{
		{`| s log |
			s := Semaphore new. log := OrderedCollection new.
			[log add: 1. s signal] fork.
			s wait.
			log add: 2.
			log asArray`, "#(1 2)"},
		{"| x | x := 0. [x := 1] fork. Processor yield. x", "1"},
		{"| x | x := 0. [x := 1] fork. x", "0"},
		{`| log |
			log := OrderedCollection new.
			[log add: #high] forkAt: 6.
			log add: #main.
			log asArray`, "#(#high #main)"},
		{"| m n | m := Semaphore forMutualExclusion. n := 0. m critical: [n := n + 1]. m critical: [n := n + 1]. n", "2"},
		{"Processor activeProcess priority", "4"},
		{"| s | s := Semaphore new. s signal; signal. s excessSignals", "2"},
		{"| p | p := [Semaphore new wait] newProcess. p resume. Processor yield. p terminate. p isTerminated", "true"},
	})
}

func TestDeadlock(t *testing.T) {
	v, _ := boot(t)
	_, err := compiler.Evaluate(context.Background(), v, "Semaphore new wait")
	require.True(t, errors.Is(err, vm.ErrDeadlock), "got %v", err)
}

func TestDelayWakesWaitingProcess(t *testing.T) {
	v, _ := boot(t)
	start := time.Now()
	require.Equal(t, "#done", printed(t, v, "(Delay forMilliseconds: 20) wait. #done"))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Zero(t, v.PendingTimers())

	require.Equal(t, "a Delay(5 msecs)", printed(t, v, "Delay forMilliseconds: 5"))
	require.Equal(t, "1500", printed(t, v, "(Delay forSeconds: 3/2) milliseconds"))
	require.Equal(t, "Error", unhandled(t, v, "Delay forMilliseconds: -1").ClassName)
	require.Equal(t, "Error", unhandled(t, v, "Processor signal: 3 atMilliseconds: 0").ClassName)
}

func TestDelaysFireInTickOrder(t *testing.T) {
	checkPrinted(t, []printCase{
		{`| log s |
			log := OrderedCollection new. s := Semaphore new.
			[(Delay forMilliseconds: 40) wait. log add: #slow. s signal] fork.
			[(Delay forMilliseconds: 10) wait. log add: #fast. s signal] fork.
			s wait. s wait.
			log asArray`, "#(#fast #slow)"},
		{`| log |
			log := OrderedCollection new.
			[(Delay forMilliseconds: 10) wait. log add: #forked] fork.
			log add: #main.
			(Delay forMilliseconds: 30) wait.
			log add: #woke.
			log asArray`, "#(#main #forked #woke)"},
	})
}

func TestDelayHonoursCancellation(t *testing.T) {
	v, _ := boot(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := compiler.Evaluate(ctx, v, "(Delay forSeconds: 60) wait")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "7", printed(t, v, "3 + 4"))
}

func TestTranscript(t *testing.T) {
	v, out := boot(t)
	eval(t, v, "Transcript show: 'hi'; cr; print: 42; tab; display: 'x'; cr")
	eval(t, v, "7 printNl. 'plain' displayNl")
	eval(t, v, "Warning signal: 'careful'")
	require.Equal(t, "hi\n42\tx\n7\nplain\nWarning: careful\n", out.String())
}

func TestSnapshotOfBootedImage(t *testing.T) {
	v, _ := boot(t)
	eval(t, v, "Smalltalk at: #Answer put: 42")

	var buf bytes.Buffer
	require.NoError(t, v.SaveSnapshot(&buf))

	loaded, err := vm.LoadSnapshot(&buf, vm.Options{})
	require.NoError(t, err)
	compiler.Install(loaded)
	require.Equal(t, v.ImageID, loaded.ImageID)
	require.Equal(t, "42", printed(t, loaded, "Answer"))
	require.Equal(t, "#(2 4)", printed(t, loaded, "(1 to: 4) select: [:x | x even]"))
	require.Equal(t, "-1", printed(t, loaded, "[1/0] on: ZeroDivide do: [:e | -1]"))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.image")

	v, err := kernel.Open(path, vm.Options{})
	require.NoError(t, err)
	eval(t, v, "Smalltalk at: #Saved put: 'yes'")
	require.NoError(t, v.SaveSnapshotFile(path))

	again, err := kernel.Open(path, vm.Options{})
	require.NoError(t, err)
	require.Equal(t, "'yes'", printed(t, again, "Saved"))
}
