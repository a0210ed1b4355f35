package vm

import "fmt"

// maxFrameSize bounds the frame a single activation may need.
const maxFrameSize = 1 << 12

// region is a method body or an embedded block body: a pc range with the
// stack depth its activation starts with.
type region struct {
	start, end int
	base       int
}

// Verify checks that every reachable instruction of m decodes, that jumps
// and closure bodies stay inside their region, that the operand stack never
// underflows and that every join point is reached with one depth. It sets
// m.FrameSize to the largest frame any activation of m needs.
func Verify(m *CompiledMethod) error {
	if m.NumArgs < 0 || m.NumTemps < m.NumArgs {
		return fmt.Errorf("%w: %d temps for %d arguments", ErrVerify, m.NumTemps, m.NumArgs)
	}
	boundary := make([]bool, len(m.Bytecodes)+1)
	for pc := 0; pc < len(m.Bytecodes); {
		in, err := Decode(m.Bytecodes, pc)
		if err != nil {
			return err
		}
		boundary[pc] = true
		pc = in.Next()
	}
	boundary[len(m.Bytecodes)] = true

	frame := m.NumTemps
	if len(m.Bytecodes) == 0 {
		return fmt.Errorf("%w: empty method", ErrVerify)
	}

	depth := make([]int, len(m.Bytecodes))
	for i := range depth {
		depth[i] = -1
	}
	regions := []region{{start: 0, end: len(m.Bytecodes), base: m.NumTemps}}
	for len(regions) > 0 {
		r := regions[len(regions)-1]
		regions = regions[:len(regions)-1]
		high, nested, err := verifyRegion(m, r, boundary, depth)
		if err != nil {
			return err
		}
		if high > frame {
			frame = high
		}
		regions = append(regions, nested...)
	}
	if frame > maxFrameSize {
		return fmt.Errorf("%w: frame of %d slots", ErrVerify, frame)
	}
	m.FrameSize = frame
	return nil
}

func verifyRegion(m *CompiledMethod, r region, boundary []bool, depth []int) (int, []region, error) {
	fail := func(pc int, format string, args ...interface{}) error {
		return fmt.Errorf("%w: pc %d: %s", ErrVerify, pc, fmt.Sprintf(format, args...))
	}
	type item struct{ pc, d int }
	work := []item{{r.start, r.base}}
	high := r.base
	var nested []region

	flow := func(from, to, d int) error {
		if to < r.start || to >= r.end || !boundary[to] {
			return fail(from, "branch to %d leaves its body", to)
		}
		switch depth[to] {
		case -1:
			depth[to] = d
			work = append(work, item{to, d})
		case d:
		default:
			return fail(to, "stack depth %d meets %d", d, depth[to])
		}
		return nil
	}

	if depth[r.start] != -1 && depth[r.start] != r.base {
		return 0, nil, fail(r.start, "body entered twice")
	}
	depth[r.start] = r.base

	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		in, _ := Decode(m.Bytecodes, it.pc)
		d := it.d
		pop := func(n int) error {
			if d-n < r.base {
				return fail(in.PC, "%s underflows the stack", in.Op)
			}
			d -= n
			return nil
		}
		push := func(n int) {
			d += n
			if d > high {
				high = d
			}
		}
		literal := func(i int) error {
			if i >= len(m.Literals) {
				return fail(in.PC, "literal %d out of range", i)
			}
			return nil
		}
		temp := func(i int) error {
			limit := d
			if r.start == 0 {
				limit = m.NumTemps
			}
			if i >= limit {
				return fail(in.PC, "temporary %d out of range", i)
			}
			return nil
		}

		var err error
		next := true
		switch in.Op {
		case OpPushReceiverVariable, OpPushSelf, OpPushConstant, OpPushThisContext:
			push(1)
		case OpPushTemporary:
			err = temp(in.A)
			push(1)
		case OpPushLiteralConstant, OpPushLiteralVariable:
			err = literal(in.A)
			push(1)
		case OpStoreReceiverVariable:
			err = pop(1)
			push(1)
		case OpPopStoreReceiverVariable, OpPop:
			err = pop(1)
		case OpStoreTemporary:
			if err = temp(in.A); err == nil {
				err = pop(1)
				push(1)
			}
		case OpPopStoreTemporary:
			if err = pop(1); err == nil {
				err = temp(in.A)
			}
		case OpStoreLiteralVariable:
			if err = literal(in.A); err == nil {
				err = pop(1)
				push(1)
			}
		case OpPopStoreLiteralVariable:
			if err = literal(in.A); err == nil {
				err = pop(1)
			}
		case OpDup:
			err = pop(1)
			push(2)
		case OpSend, OpSuperSend:
			if err = literal(in.A); err == nil {
				err = pop(in.B + 1)
				push(1)
			}
		case OpSendSpecial:
			err = pop(in.B + 1)
			push(1)
		case OpPushNewArray:
			if in.B == 1 {
				err = pop(in.A)
			}
			push(1)
		case OpPushRemoteTemp:
			err = temp(in.B)
			push(1)
		case OpStoreRemoteTemp:
			if err = temp(in.B); err == nil {
				err = pop(1)
				push(1)
			}
		case OpPopStoreRemoteTemp:
			if err = pop(1); err == nil {
				err = temp(in.B)
			}
		case OpPushClosure:
			if err = pop(in.A); err != nil {
				break
			}
			body := region{start: in.Next(), end: in.Next() + in.C, base: in.B + in.A}
			if body.end > r.end || in.C == 0 {
				err = fail(in.PC, "closure body %d-%d leaves its method", body.start, body.end)
				break
			}
			nested = append(nested, body)
			push(1)
			err = flow(in.PC, body.end, d)
			next = false
		case OpJump:
			err = flow(in.PC, in.JumpTarget(), d)
			next = false
		case OpJumpIfTrue, OpJumpIfFalse:
			if err = pop(1); err == nil {
				err = flow(in.PC, in.JumpTarget(), d)
			}
		case OpReturnTop, OpBlockReturnTop:
			err = pop(1)
			next = false
		case OpReturnSelf, OpReturnTrue, OpReturnFalse, OpReturnNil:
			next = false
		}
		if err != nil {
			return 0, nil, err
		}
		if !next {
			continue
		}
		if in.Next() >= r.end {
			return 0, nil, fail(in.PC, "execution falls off the end of its body")
		}
		if err := flow(in.PC, in.Next(), d); err != nil {
			return 0, nil, err
		}
	}
	return high, nested, nil
}
