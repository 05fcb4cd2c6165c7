package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/tanema/lvm/bytecode"
	"github.com/tanema/lvm/src/conf"
	"github.com/tanema/lvm/src/lerrors"
	"github.com/tanema/lvm/src/proto"
)

type (
	// OpHandler implements an instruction that the vm leaves unsupported. It is
	// called with the frame that fetched the instruction and may use the frame's
	// register and jump methods.
	OpHandler func(vm *VM, f *Frame, instruction uint32) error
	// VM is the interpreter runtime. It owns the globals, the call stack, the
	// default metatables and the instruction backlog. A VM is single threaded and
	// must not be used from more than one goroutine at a time.
	VM struct {
		ctx             context.Context
		Globals         *Table
		Stdout          io.Writer
		log             commonlog.Logger
		metatables      [numKinds]*Metatable
		callStack       []*Frame
		frame           *Frame
		backlog         *Backlog
		extensions      map[bytecode.Op]OpHandler
		chunk           string
		verbose         bool
		strict          bool
		luac            string
		maxInstructions int64
		maxDepth        int
		executed        int64
		rng             xorshift
		started         time.Time
	}
)

// ExtensibleOps are the instructions without built in behaviour that can be
// given one with Extend.
var ExtensibleOps = []bytecode.Op{
	bytecode.LT,
	bytecode.LE,
	bytecode.TESTSET,
	bytecode.TFORLOOP,
	bytecode.VARARG,
}

var forNumNames = []string{"initial", "limit", "step"}

// New will create a new vm for evaluating. A nil config uses the defaults and
// a nil context never cancels.
func New(ctx context.Context, cfg *conf.Config) *VM {
	if cfg == nil {
		cfg = conf.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	vm := &VM{
		ctx:             ctx,
		Globals:         NewTable(nil, nil),
		Stdout:          os.Stdout,
		log:             commonlog.GetLogger("lvm.runtime"),
		metatables:      defaultMetatables(),
		backlog:         NewBacklog(cfg.BacklogSize),
		extensions:      map[bytecode.Op]OpHandler{},
		verbose:         cfg.Verbose,
		strict:          cfg.StrictIndex,
		luac:            cfg.Luac,
		maxInstructions: cfg.MaxInstructions,
		maxDepth:        cfg.MaxCallDepth,
		rng:             newXorshift(1, 2),
		started:         time.Now(),
	}
	if vm.maxInstructions <= 0 {
		vm.maxInstructions = conf.MAXINSTRUCTIONS
	}
	if vm.maxDepth <= 0 {
		vm.maxDepth = conf.MAXCALLDEPTH
	}
	loadStdLib(vm)
	return vm
}

// Eval runs the main function of a chunk and returns whatever it returns.
func (vm *VM) Eval(p *proto.Prototype, name string) ([]any, error) {
	vm.chunk = name
	vm.executed = 0
	return vm.execute(NewClosure(p), nil, 0)
}

// Exec runs the main function of a chunk the way the driver does, as a call
// that expects no results.
func (vm *VM) Exec(p *proto.Prototype, name string) error {
	vm.chunk = name
	vm.executed = 0
	_, err := vm.execute(NewClosure(p), nil, 1)
	return err
}

// Call calls any callable value with args and returns all of its results. It
// can be used by the host or from inside a native function.
func (vm *VM) Call(fn any, args ...any) ([]any, error) {
	if cl, isClosure := fn.(*Closure); isClosure {
		return vm.execute(cl, args, 0)
	}
	results, _, err := vm.invoke(fn, args)
	return results, err
}

// Register makes a native function available as a global.
func (vm *VM) Register(name string, fn *NativeFunction) error {
	return vm.Globals.Set(name, fn)
}

// Extend gives one of the ExtensibleOps a behaviour.
func (vm *VM) Extend(op bytecode.Op, handler OpHandler) error {
	if !slices.Contains(ExtensibleOps, op) {
		return fmt.Errorf("%w: %v cannot be extended", lerrors.ErrUnsupported, op)
	} else if handler == nil {
		return fmt.Errorf("%w: nil handler for %v", lerrors.ErrTypeMismatch, op)
	}
	vm.extensions[op] = handler
	return nil
}

// Backlog is the trailing log of executed instructions.
func (vm *VM) Backlog() *Backlog { return vm.backlog }

// Depth is the number of live lua frames.
func (vm *VM) Depth() int {
	if vm.frame == nil {
		return len(vm.callStack)
	}
	return len(vm.callStack) + 1
}

// Executed is the number of instructions run for the current chunk.
func (vm *VM) Executed() int64 { return vm.executed }

// Close releases the call stack. The vm can still be used afterwards.
func (vm *VM) Close() error {
	for _, f := range vm.callStack {
		f.closeAll()
	}
	clear(vm.callStack)
	vm.callStack = vm.callStack[:0]
	vm.frame = nil
	return nil
}

// execute runs fn to completion on top of whatever is already running. The
// running frame, if any, is parked on the call stack so that depth and fault
// reports include it and the nested run knows where its own stack starts.
func (vm *VM) execute(fn *Closure, args []any, c int64) ([]any, error) {
	outer := vm.frame
	if outer != nil {
		vm.callStack = append(vm.callStack, outer)
	}
	base := len(vm.callStack)
	defer func() {
		clear(vm.callStack[min(base, len(vm.callStack)):])
		vm.callStack = vm.callStack[:base]
		if outer != nil {
			vm.callStack = vm.callStack[:base-1]
		}
		vm.frame = outer
	}()
	if base+1 > vm.maxDepth {
		return nil, fmt.Errorf("%w: call depth over %v", lerrors.ErrResourceExceeded, vm.maxDepth)
	}
	f := vm.enter(fn, args)
	f.setLinkage(0, c)
	return vm.run(f, base)
}

func (vm *VM) run(f *Frame, base int) ([]any, error) {
	for {
		vm.frame = f
		instruction, err := f.next()
		if err != nil {
			return nil, vm.fault(f, base, err)
		} else if vm.executed >= vm.maxInstructions {
			return nil, vm.fault(f, base, fmt.Errorf("%w: instruction limit of %v reached", lerrors.ErrResourceExceeded, vm.maxInstructions))
		} else if vm.executed%conf.CANCELCHECK == 0 {
			if err := vm.ctx.Err(); err != nil {
				return nil, vm.fault(f, base, fmt.Errorf("vm interrupted: %w", err))
			}
		}
		vm.executed++
		vm.trace(f, instruction)
		next, results, done, err := vm.step(f, instruction, base)
		if err != nil {
			return nil, vm.fault(f, base, err)
		} else if done {
			return results, nil
		}
		f = next
	}
}

func (vm *VM) step(f *Frame, instruction uint32, base int) (*Frame, []any, bool, error) {
	var err error
	op := bytecode.GetOp(instruction)
	if handler, ok := vm.extensions[op]; ok {
		return f, nil, false, handler(vm, f, instruction)
	}
	a := bytecode.GetA(instruction)
	switch op {
	case bytecode.MOVE:
		var val any
		if val, err = f.Register(bytecode.GetB(instruction)); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.LOADK:
		var val any
		if val, err = f.Constant(bytecode.GetBx(instruction)); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.LOADBOOL:
		err = f.SetRegister(a, bytecode.GetB(instruction) != 0)
		if bytecode.GetC(instruction) != 0 {
			f.Jump(1)
		}
	case bytecode.LOADNIL:
		for i := a; i <= bytecode.GetB(instruction) && err == nil; i++ {
			err = f.SetRegister(i, nil)
		}
	case bytecode.GETUPVAL:
		var upval *Upvalue
		if upval, err = f.upvalue(bytecode.GetB(instruction)); err == nil {
			err = f.SetRegister(a, upval.Get())
		}
	case bytecode.GETGLOBAL:
		var key, val any
		if key, err = f.Constant(bytecode.GetBx(instruction)); err == nil {
			if val, err = vm.getGlobal(key); err == nil {
				err = f.SetRegister(a, val)
			}
		}
	case bytecode.GETTABLE:
		var tbl, key, val any
		if tbl, err = f.Register(bytecode.GetB(instruction)); err != nil {
			break
		} else if key, err = f.rk(bytecode.GetCK(instruction)); err != nil {
			break
		} else if val, err = vm.index(tbl, key); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.SETGLOBAL:
		var key, val any
		if key, err = f.Constant(bytecode.GetBx(instruction)); err != nil {
			break
		} else if val, err = f.Register(a); err == nil {
			err = vm.Globals.Set(key, val)
		}
	case bytecode.SETUPVAL:
		var upval *Upvalue
		var val any
		if upval, err = f.upvalue(bytecode.GetB(instruction)); err != nil {
			break
		} else if val, err = f.Register(a); err != nil {
			break
		} else if _, isUpval := val.(*Upvalue); isUpval {
			err = fmt.Errorf("%w: cannot store an upvalue in an upvalue", lerrors.ErrTypeMismatch)
		} else {
			upval.Set(val)
		}
	case bytecode.SETTABLE:
		var tbl, key, val any
		if tbl, err = f.Register(a); err != nil {
			break
		} else if key, err = f.rk(bytecode.GetBK(instruction)); err != nil {
			break
		} else if val, err = f.rk(bytecode.GetCK(instruction)); err == nil {
			err = vm.setIndex(tbl, key, val)
		}
	case bytecode.NEWTABLE:
		err = f.SetRegister(a, NewSizedTable(
			int(bytecode.FloatingPointByte(bytecode.GetB(instruction))),
			int(bytecode.FloatingPointByte(bytecode.GetC(instruction))),
		))
	case bytecode.SELF:
		err = vm.self(f, instruction)
	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD, bytecode.POW:
		var lVal, rVal, val any
		if lVal, err = f.rk(bytecode.GetBK(instruction)); err != nil {
			break
		} else if rVal, err = f.rk(bytecode.GetCK(instruction)); err != nil {
			break
		} else if val, err = vm.arith(op, lVal, rVal); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.UNM:
		var operand, val any
		if operand, err = f.Register(bytecode.GetB(instruction)); err != nil {
			break
		} else if val, err = vm.unm(operand); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.NOT:
		var operand any
		if operand, err = f.Register(bytecode.GetB(instruction)); err == nil {
			err = f.SetRegister(a, !truthy(operand))
		}
	case bytecode.LEN:
		var operand, val any
		if operand, err = f.Register(bytecode.GetB(instruction)); err != nil {
			break
		} else if val, err = vm.length(operand); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.CONCAT:
		b, c := bytecode.GetB(instruction), bytecode.GetC(instruction)
		var values []any
		var val any
		if values, err = f.registerRange(b, c-b+1); err != nil {
			break
		} else if val, err = vm.concat(values); err == nil {
			err = f.SetRegister(a, val)
		}
	case bytecode.JMP:
		f.Jump(bytecode.GetsBx(instruction))
	case bytecode.EQ:
		var lVal, rVal any
		var isEq bool
		if lVal, err = f.rk(bytecode.GetBK(instruction)); err != nil {
			break
		} else if rVal, err = f.rk(bytecode.GetCK(instruction)); err != nil {
			break
		} else if isEq, err = vm.equal(lVal, rVal); err == nil && isEq != (a != 0) {
			f.Jump(1)
		}
	case bytecode.TEST:
		var val any
		if val, err = f.Register(a); err == nil && truthy(val) != (bytecode.GetC(instruction) != 0) {
			f.Jump(1)
		}
	case bytecode.CALL:
		next, err := vm.call(f, instruction)
		return next, nil, false, err
	case bytecode.TAILCALL:
		return vm.tailcall(f, instruction, base)
	case bytecode.RETURN:
		return vm.ret(f, instruction, base)
	case bytecode.FORLOOP:
		err = forloop(f, a, bytecode.GetsBx(instruction))
	case bytecode.FORPREP:
		err = forprep(f, a, bytecode.GetsBx(instruction))
	case bytecode.SETLIST:
		err = setlist(f, instruction)
	case bytecode.CLOSE:
		f.closeFrom(a)
	case bytecode.CLOSURE:
		var cl *Closure
		if cl, err = vm.closure(f, bytecode.GetBx(instruction)); err == nil {
			err = f.SetRegister(a, cl)
		}
	case bytecode.LT, bytecode.LE, bytecode.TESTSET, bytecode.TFORLOOP, bytecode.VARARG:
		err = fmt.Errorf("%w: %v is not implemented", lerrors.ErrUnsupported, op)
	default:
		err = fmt.Errorf("%w: %v", lerrors.ErrBadOpcode, uint32(op))
	}
	return f, nil, false, err
}

// enter creates the frame for a lua closure. Arguments fill the registers
// from 0 and the closure's upvalue values are copied in right after them, both
// truncated at the end of the register file.
func (vm *VM) enter(fn *Closure, args []any) *Frame {
	callee := newFrame(fn)
	copy(callee.registers, args)
	for i, upval := range fn.upvalues {
		slot := len(args) + i
		if slot >= len(callee.registers) {
			break
		}
		callee.registers[slot] = upval.Get()
	}
	return callee
}

// callArgs reads the function register and arguments of a CALL or TAILCALL.
func callArgs(f *Frame, a, b int64) (any, []any, error) {
	fnVal, err := f.Register(a)
	if err != nil {
		return nil, nil, err
	}
	nargs := b - 1
	if b == 0 {
		nargs = f.variableEnd() - (a + 1)
	}
	args, err := f.registerRange(a+1, nargs)
	return fnVal, args, err
}

func (vm *VM) call(f *Frame, instruction uint32) (*Frame, error) {
	a, b, c := bytecode.GetA(instruction), bytecode.GetB(instruction), bytecode.GetC(instruction)
	fnVal, args, err := callArgs(f, a, b)
	if err != nil {
		return f, err
	}
	if fn, isClosure := fnVal.(*Closure); isClosure {
		if len(vm.callStack)+2 > vm.maxDepth {
			return f, fmt.Errorf("%w: call depth over %v", lerrors.ErrResourceExceeded, vm.maxDepth)
		}
		callee := vm.enter(fn, args)
		callee.setLinkage(a, c)
		vm.callStack = append(vm.callStack, f)
		return callee, nil
	}
	results, calleeRegs, err := vm.invoke(fnVal, args)
	if err != nil {
		return f, err
	}
	return f, deliver(f, a, c, results, calleeRegs)
}

func (vm *VM) tailcall(f *Frame, instruction uint32, base int) (*Frame, []any, bool, error) {
	a, b, c := bytecode.GetA(instruction), bytecode.GetB(instruction), bytecode.GetC(instruction)
	if c != 0 {
		return f, nil, false, fmt.Errorf("%w: TAILCALL with C %v", lerrors.ErrMalformedPrototype, c)
	}
	fnVal, args, err := callArgs(f, a, b)
	if err != nil {
		return f, nil, false, err
	}
	if fn, isClosure := fnVal.(*Closure); isClosure {
		callee := vm.enter(fn, args)
		callee.setLinkage(f.retA, f.retC)
		f.closeAll()
		clear(f.registers)
		return callee, nil, false, nil
	}
	results, calleeRegs, err := vm.invoke(fnVal, args)
	if err != nil {
		return f, nil, false, err
	}
	return vm.finish(f, results, calleeRegs, base)
}

func (vm *VM) ret(f *Frame, instruction uint32, base int) (*Frame, []any, bool, error) {
	a, b := bytecode.GetA(instruction), bytecode.GetB(instruction)
	nret := b - 1
	if b == 0 {
		nret = f.variableEnd() - a
	}
	results, err := f.registerRange(a, nret)
	if err != nil {
		return f, nil, false, err
	}
	return vm.finish(f, results, len(f.registers), base)
}

// finish tears down a returning frame and hands its results to the caller, or
// ends the run when the frame was the entry of this run.
func (vm *VM) finish(f *Frame, results []any, calleeRegs int, base int) (*Frame, []any, bool, error) {
	f.closeAll()
	if len(vm.callStack) <= base {
		if f.retC != 0 && int64(len(results)) != f.retC-1 {
			return f, nil, false, fmt.Errorf(
				"%w: returned %v values with no caller expecting %v",
				lerrors.ErrArityMismatch, len(results), f.retC-1,
			)
		}
		clear(f.registers)
		return nil, results, true, nil
	}
	caller := vm.callStack[len(vm.callStack)-1]
	if err := deliver(caller, f.retA, f.retC, results, calleeRegs); err != nil {
		return f, nil, false, err
	}
	vm.callStack[len(vm.callStack)-1] = nil
	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	clear(f.registers)
	return caller, nil, false, nil
}

// deliver copies results into the caller starting at R(a). With c == 0 it
// copies as many as fit and marks the caller's top, otherwise exactly c-1
// values are copied, padding with nil.
func deliver(caller *Frame, a, c int64, results []any, calleeRegs int) error {
	if c == 0 {
		room := max(int64(len(caller.registers))-a, 0)
		n := min(int64(len(results)), room)
		if n > 0 {
			copy(caller.registers[a:a+n], results)
		}
		caller.top = a + n
		return nil
	}
	expected := int(c - 1)
	if expected > len(results) && expected > calleeRegs {
		return fmt.Errorf(
			"%w: expected %v results but %v were produced",
			lerrors.ErrArityMismatch, expected, len(results),
		)
	}
	for i := 0; i < expected; i++ {
		var val any
		if i < len(results) {
			val = results[i]
		}
		if err := caller.SetRegister(a+int64(i), val); err != nil {
			return err
		}
	}
	return nil
}

// invoke runs anything callable that is not entered as a frame of the current
// run and returns its results and the size of the register file it used.
func (vm *VM) invoke(fnVal any, args []any) ([]any, int, error) {
	switch fn := fnVal.(type) {
	case *NativeFunction:
		return vm.callNative(fn, args)
	case *Closure:
		results, err := vm.execute(fn, args, 0)
		return results, int(fn.val.MaxStackSize), err
	default:
		handler, ok := vm.lookupEvent(fnVal, MetaCall)
		if !ok {
			return nil, 0, fmt.Errorf("%w: attempt to call a %v value", lerrors.ErrNotAFunction, typeName(fnVal))
		}
		res, err := handler(vm, append([]any{fnVal}, args...)...)
		if err != nil {
			return nil, 0, err
		}
		return []any{res}, 1, nil
	}
}

func (vm *VM) callNative(fn *NativeFunction, args []any) ([]any, int, error) {
	regs := make([]any, max(fn.Registers, len(args)))
	copy(regs, args)
	n, err := fn.Fn(vm, regs, len(args))
	if err != nil {
		var lerr *lerrors.Error
		if errors.As(err, &lerr) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%v: %w", fn.Name, err)
	} else if n < 0 || n > len(regs) {
		return nil, 0, fmt.Errorf("%w: %v returned %v results from %v registers", lerrors.ErrArityMismatch, fn.Name, n, len(regs))
	}
	return regs[:n], len(regs), nil
}

func (vm *VM) closure(f *Frame, idx int64) (*Closure, error) {
	protos := f.fn.val.Protos
	if idx < 0 || idx >= int64(len(protos)) {
		return nil, fmt.Errorf("%w: prototype %v of %v", lerrors.ErrMalformedPrototype, idx, len(protos))
	}
	p := protos[idx]
	cl := &Closure{val: p, upvalues: make([]*Upvalue, p.NumUpvalues)}
	for i := range cl.upvalues {
		pseudo, err := f.next()
		if err != nil {
			return nil, err
		}
		switch bytecode.GetOp(pseudo) {
		case bytecode.MOVE:
			if cl.upvalues[i], err = f.findUpvalue(bytecode.GetB(pseudo)); err != nil {
				return nil, err
			}
		case bytecode.GETUPVAL:
			if cl.upvalues[i], err = f.upvalue(bytecode.GetB(pseudo)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: upvalue binding %v", lerrors.ErrMalformedPrototype, bytecode.GetOp(pseudo))
		}
	}
	return cl, nil
}

func (vm *VM) self(f *Frame, instruction uint32) error {
	a := bytecode.GetA(instruction)
	obj, err := f.Register(bytecode.GetB(instruction))
	if err != nil {
		return err
	}
	key, err := f.rk(bytecode.GetCK(instruction))
	if err != nil {
		return err
	}
	method, err := vm.index(obj, key)
	if err != nil {
		return err
	} else if !isCallable(method) {
		return fmt.Errorf("%w: method %v is a %v value", lerrors.ErrNotAFunction, ToString(key), typeName(method))
	} else if err := f.SetRegister(a+1, obj); err != nil {
		return err
	}
	return f.SetRegister(a, method)
}

func (vm *VM) getGlobal(key any) (any, error) {
	val, err := vm.Globals.Get(key)
	if err != nil {
		return nil, err
	} else if val == nil && vm.strict {
		return nil, fmt.Errorf("%w: global %v is not set", lerrors.ErrKeyNotFound, ToString(key))
	}
	return val, nil
}

func (vm *VM) index(source, key any) (any, error) {
	tbl, isTable := source.(*Table)
	if isTable {
		res, err := tbl.Get(key)
		if err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}
	}
	if handler, ok := vm.lookupEvent(source, MetaIndex); ok {
		return handler(vm, source, key)
	} else if !isTable {
		return nil, fmt.Errorf("%w: attempt to index a %v value", lerrors.ErrTypeMismatch, typeName(source))
	} else if vm.strict {
		return nil, fmt.Errorf("%w: %v", lerrors.ErrKeyNotFound, ToString(key))
	}
	return nil, nil
}

func (vm *VM) setIndex(target, key, value any) error {
	tbl, isTable := target.(*Table)
	if isTable && tbl.Has(key) {
		return tbl.Set(key, value)
	}
	if handler, ok := vm.lookupEvent(target, MetaNewIndex); ok {
		_, err := handler(vm, target, key, value)
		return err
	} else if !isTable {
		return fmt.Errorf("%w: attempt to index a %v value", lerrors.ErrTypeMismatch, typeName(target))
	}
	return tbl.Set(key, value)
}

var arithEvents = map[bytecode.Op]MetaEvent{
	bytecode.ADD: MetaAdd,
	bytecode.SUB: MetaSub,
	bytecode.MUL: MetaMul,
	bytecode.DIV: MetaDiv,
	bytecode.MOD: MetaMod,
	bytecode.POW: MetaPow,
}

func (vm *VM) arith(op bytecode.Op, lVal, rVal any) (any, error) {
	if KindOf(lVal) != KindOf(rVal) {
		return nil, fmt.Errorf(
			"%w: cannot %v %v and %v",
			lerrors.ErrUnsupportedCoercion, strings.ToLower(op.String()), typeName(lVal), typeName(rVal),
		)
	}
	if lNum, isNum := lVal.(float64); isNum {
		return arithNumbers(op, lNum, rVal.(float64)), nil
	}
	event := arithEvents[op]
	if handler, ok := vm.lookupEvent(lVal, event); ok {
		return handler(vm, lVal, rVal)
	}
	return nil, fmt.Errorf("%w: %v for %v values", lerrors.ErrMissingMetamethod, event, typeName(lVal))
}

func arithNumbers(op bytecode.Op, lNum, rNum float64) float64 {
	switch op {
	case bytecode.ADD:
		return lNum + rNum
	case bytecode.SUB:
		return lNum - rNum
	case bytecode.MUL:
		return lNum * rNum
	case bytecode.DIV:
		return lNum / rNum
	case bytecode.MOD:
		return math.Mod(lNum, rNum)
	case bytecode.POW:
		return math.Pow(lNum, rNum)
	default:
		return math.NaN()
	}
}

func (vm *VM) unm(val any) (any, error) {
	if num, isNum := val.(float64); isNum {
		return -num, nil
	} else if handler, ok := vm.lookupEvent(val, MetaUNM); ok {
		return handler(vm, val)
	}
	return nil, fmt.Errorf("%w: %v for %v values", lerrors.ErrMissingMetamethod, MetaUNM, typeName(val))
}

func (vm *VM) length(val any) (any, error) {
	if str, isStr := val.(string); isStr {
		return float64(len(str)), nil
	} else if handler, ok := vm.lookupEvent(val, MetaLen); ok {
		return handler(vm, val)
	} else if tbl, isTable := val.(*Table); isTable {
		return float64(tbl.Len()), nil
	}
	return nil, fmt.Errorf("%w: attempt to get length of a %v value", lerrors.ErrTypeMismatch, typeName(val))
}

func (vm *VM) concat(values []any) (any, error) {
	if len(values) == 0 {
		return "", nil
	}
	acc := values[0]
	for _, next := range values[1:] {
		if isConcatable(acc) && isConcatable(next) {
			acc = ToString(acc) + ToString(next)
			continue
		}
		handler, ok := vm.lookupEvent(acc, MetaConcat)
		if !ok {
			handler, ok = vm.lookupEvent(next, MetaConcat)
		}
		if !ok {
			bad := acc
			if isConcatable(acc) {
				bad = next
			}
			return nil, fmt.Errorf("%w: attempt to concatenate a %v value", lerrors.ErrTypeMismatch, typeName(bad))
		}
		res, err := handler(vm, acc, next)
		if err != nil {
			return nil, err
		}
		acc = res
	}
	return acc, nil
}

func isConcatable(val any) bool {
	switch val.(type) {
	case string, float64:
		return true
	default:
		return false
	}
}

// equal is raw equality, tables and userdata of the same kind can override it
// with __eq.
func (vm *VM) equal(lVal, rVal any) (bool, error) {
	if rawEqual(lVal, rVal) {
		return true, nil
	}
	switch lVal.(type) {
	case *Table, *UserData:
		if KindOf(lVal) != KindOf(rVal) {
			return false, nil
		}
		if handler, ok := vm.lookupEvent(lVal, MetaEq); ok {
			res, err := handler(vm, lVal, rVal)
			return truthy(res), err
		}
	}
	return false, nil
}

func forNumbers(f *Frame, a int64) ([3]float64, error) {
	var nums [3]float64
	for i := range nums {
		val, err := f.Register(a + int64(i))
		if err != nil {
			return nums, err
		}
		num, isNum := toNumber(val)
		if !isNum {
			return nums, fmt.Errorf("%w: 'for' %v value must be a number", lerrors.ErrTypeMismatch, forNumNames[i])
		}
		nums[i] = num
	}
	return nums, nil
}

func forprep(f *Frame, a, sbx int64) error {
	nums, err := forNumbers(f, a)
	if err != nil {
		return err
	}
	f.Jump(sbx)
	return f.SetRegister(a, nums[0]-nums[2])
}

func forloop(f *Frame, a, sbx int64) error {
	nums, err := forNumbers(f, a)
	if err != nil {
		return err
	}
	i, limit, step := nums[0]+nums[2], nums[1], nums[2]
	if err := f.SetRegister(a, i); err != nil {
		return err
	}
	if (step > 0 && i <= limit) || (step <= 0 && i >= limit) {
		f.Jump(sbx)
		return f.SetRegister(a+3, i)
	}
	return nil
}

func setlist(f *Frame, instruction uint32) error {
	a, b, c := bytecode.GetA(instruction), bytecode.GetB(instruction), bytecode.GetC(instruction)
	if c == 0 {
		word, err := f.next()
		if err != nil {
			return err
		}
		c = int64(word)
	}
	val, err := f.Register(a)
	if err != nil {
		return err
	}
	tbl, isTable := val.(*Table)
	if !isTable {
		return fmt.Errorf("%w: SETLIST on a %v value", lerrors.ErrTypeMismatch, typeName(val))
	}
	n := b
	if b == 0 {
		n = f.variableEnd() - (a + 1)
	}
	values, err := f.registerRange(a+1, n)
	if err != nil {
		return err
	}
	return tbl.SetList(int((c-1)*bytecode.FieldsPerFlush)+1, values)
}

// trace records the instruction in the backlog and, when verbose, logs it.
func (vm *VM) trace(f *Frame, instruction uint32) {
	vm.backlog.push(traceEntry{
		fn:          f.fn.val,
		pc:          f.pc - 1,
		depth:       len(vm.callStack) + 1,
		instruction: instruction,
	})
	if !vm.verbose {
		return
	}
	if note := vm.annotation(f, instruction); note != "" {
		vm.backlog.annotate(note)
	}
	vm.log.Debugf("%v %v", vm.chunk, vm.backlog.last())
}

// annotation describes the values an instruction is about to work with.
func (vm *VM) annotation(f *Frame, instruction uint32) string {
	switch bytecode.GetOp(instruction) {
	case bytecode.LOADK, bytecode.GETGLOBAL, bytecode.SETGLOBAL:
		return proto.ConstString(f.fn.val.Constants, bytecode.GetBx(instruction))
	case bytecode.CALL, bytecode.TAILCALL:
		val, _ := f.Register(bytecode.GetA(instruction))
		return ToString(val)
	case bytecode.GETUPVAL, bytecode.SETUPVAL:
		if upval, err := f.upvalue(bytecode.GetB(instruction)); err == nil {
			return upval.String()
		}
	}
	return ""
}

// fault wraps an error in a runtime error for the frame that raised it and
// unwinds the frames of this run.
func (vm *VM) fault(f *Frame, base int, err error) error {
	defer func() {
		f.closeAll()
		for _, frame := range vm.callStack[min(base, len(vm.callStack)):] {
			frame.closeAll()
		}
	}()
	var lerr *lerrors.Error
	if errors.As(err, &lerr) {
		return lerr
	}
	lerr = &lerrors.Error{
		Kind:        lerrors.RuntimeErr,
		Err:         err,
		Chunk:       vm.chunk,
		PC:          f.pc - 1,
		Line:        f.line(),
		Instruction: bytecode.ToString(f.current()),
		Depth:       len(vm.callStack) + 1,
		Backlog:     vm.backlog.Lines(),
	}
	vm.log.Debugf("%v", lerr)
	return lerr
}
