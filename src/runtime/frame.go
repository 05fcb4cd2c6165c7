package runtime

import (
	"fmt"
	"slices"

	"github.com/tanema/lvm/bytecode"
	"github.com/tanema/lvm/src/lerrors"
)

// Frame is one activation of a closure. Its register file is exactly as wide
// as the prototype asks for, and the linkage records where the results of this
// call go in the caller.
type Frame struct {
	fn        *Closure
	registers []any
	open      []*Upvalue // upvalues aliasing registers of this frame
	pc        int64
	top       int64 // end of the values a variable result instruction produced, -1 when unset
	retA      int64 // caller register that receives the first result
	retC      int64 // expected results + 1, 0 for all
}

func newFrame(fn *Closure) *Frame {
	return &Frame{
		fn:        fn,
		registers: make([]any, fn.val.MaxStackSize),
		top:       -1,
	}
}

// Register reads R(idx).
func (f *Frame) Register(idx int64) (any, error) {
	if idx < 0 || idx >= int64(len(f.registers)) {
		return nil, fmt.Errorf("%w: R(%v) >= %v", lerrors.ErrRegisterOutOfRange, idx, len(f.registers))
	}
	return f.registers[idx], nil
}

// SetRegister writes R(idx).
func (f *Frame) SetRegister(idx int64, val any) error {
	if idx < 0 || idx >= int64(len(f.registers)) {
		return fmt.Errorf("%w: R(%v) >= %v", lerrors.ErrRegisterOutOfRange, idx, len(f.registers))
	}
	f.registers[idx] = val
	return nil
}

// Constant reads K(idx) from the prototype constant pool.
func (f *Frame) Constant(idx int64) (any, error) {
	konst, ok := f.fn.val.Const(idx)
	if !ok {
		return nil, fmt.Errorf("%w: K(%v) >= %v", lerrors.ErrConstantOutOfRange, idx, len(f.fn.val.Constants))
	}
	return constValue(konst), nil
}

// rk resolves a 9 bit operand to a constant or a register.
func (f *Frame) rk(operand int64, isConst bool) (any, error) {
	if isConst {
		return f.Constant(operand)
	}
	return f.Register(operand)
}

func (f *Frame) next() (uint32, error) {
	code := f.fn.val.Code
	if f.pc < 0 || f.pc >= int64(len(code)) {
		return 0, fmt.Errorf("%w: pc %v ran past the end of %v instructions", lerrors.ErrMalformedPrototype, f.pc, len(code))
	}
	instruction := code[f.pc]
	f.pc++
	return instruction, nil
}

// upvalue returns the closure's upvalue idx.
func (f *Frame) upvalue(idx int64) (*Upvalue, error) {
	if idx < 0 || idx >= int64(len(f.fn.upvalues)) {
		return nil, fmt.Errorf("%w: upvalue %v of %v", lerrors.ErrMalformedPrototype, idx, len(f.fn.upvalues))
	}
	return f.fn.upvalues[idx], nil
}

// registerRange copies count registers starting at start.
func (f *Frame) registerRange(start, count int64) ([]any, error) {
	if count <= 0 {
		return []any{}, nil
	} else if start < 0 || start+count > int64(len(f.registers)) {
		return nil, fmt.Errorf("%w: R(%v..%v) >= %v", lerrors.ErrRegisterOutOfRange, start, start+count-1, len(f.registers))
	}
	return slices.Clone(f.registers[start : start+count]), nil
}

// variableEnd consumes the top left by the last variable result delivery,
// falling back to the end of the register file.
func (f *Frame) variableEnd() int64 {
	if f.top >= 0 {
		end := f.top
		f.top = -1
		return end
	}
	return int64(len(f.registers))
}

// Jump moves the pc relative to the next instruction.
func (f *Frame) Jump(offset int64) { f.pc += offset }

func (f *Frame) setLinkage(a, c int64) {
	f.retA = a
	f.retC = c
}

// findUpvalue returns the open upvalue aliasing idx, creating it if needed.
func (f *Frame) findUpvalue(idx int64) (*Upvalue, error) {
	if idx < 0 || idx >= int64(len(f.registers)) {
		return nil, fmt.Errorf("%w: upvalue of R(%v)", lerrors.ErrRegisterOutOfRange, idx)
	}
	if i, ok := search(f.open, idx, matchUpvalue); ok {
		return f.open[i], nil
	}
	upval := newUpvalue(f, idx)
	f.open = append(f.open, upval)
	return upval, nil
}

// closeFrom closes every open upvalue aliasing a register >= from.
func (f *Frame) closeFrom(from int64) {
	kept := f.open[:0]
	for _, upval := range f.open {
		if upval.index >= from {
			upval.Close()
		} else {
			kept = append(kept, upval)
		}
	}
	clear(f.open[len(kept):])
	f.open = kept
}

func (f *Frame) closeAll() { f.closeFrom(0) }

func (f *Frame) line() int64 { return f.fn.val.Line(f.pc - 1) }

func (f *Frame) localName(idx int64) string {
	for _, lv := range f.fn.val.LocVars {
		if lv.StartPC <= f.pc && f.pc <= lv.EndPC {
			if idx == 0 {
				return lv.Name
			}
			idx--
		}
	}
	return ""
}

// current returns the instruction that was last fetched.
func (f *Frame) current() uint32 {
	if f.pc < 1 || f.pc > int64(len(f.fn.val.Code)) {
		return 0
	}
	return f.fn.val.Code[f.pc-1]
}

func (f *Frame) String() string {
	return fmt.Sprintf("%v pc %v: %v", f.fn.val.Name(), f.pc-1, bytecode.ToString(f.current()))
}

func matchUpvalue(u *Upvalue, idx int64) bool { return u.index == idx }
