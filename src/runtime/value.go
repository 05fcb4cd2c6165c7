package runtime

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tanema/lvm/src/proto"
)

type (
	// Kind is the tag of a lua value.
	Kind int
	// NativeFn is the body of a host function. It works directly on the callee
	// register file: arguments start at regs[0] and the function leaves its
	// results in regs[0:n] returning n.
	NativeFn func(vm *VM, regs []any, nargs int) (int, error)
	// NativeFunction is a go func usable by the vm.
	NativeFunction struct {
		Name      string
		Params    int
		Registers int
		Results   int
		Fn        NativeFn
	}
	// Closure is a lua function encapsulated in the vm.
	Closure struct {
		val      *proto.Prototype
		upvalues []*Upvalue
	}
	// UserData is a host value handed to lua code with its own metatable.
	UserData struct {
		Value     any
		Name      string
		metatable *Metatable
	}
)

// Value kinds. Lua values are represented as nil, bool, float64, string,
// *Table, *Closure, *UserData, *Upvalue or *NativeFunction.
const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindTable
	KindFunction
	KindUserData
	KindUpvalue
	KindNative
	numKinds
)

var kindNames = [numKinds]string{
	KindNil:      "nil",
	KindBool:     "boolean",
	KindNumber:   "number",
	KindString:   "string",
	KindTable:    "table",
	KindFunction: "function",
	KindUserData: "userdata",
	KindUpvalue:  "upvalue",
	KindNative:   "function",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// NewNative creates a native function with a register file of max(params, results).
func NewNative(name string, params, results int, fn NativeFn) *NativeFunction {
	return &NativeFunction{
		Name:      name,
		Params:    params,
		Registers: max(params, results),
		Results:   results,
		Fn:        fn,
	}
}

// NewClosure wraps a prototype with upvalues, it is mostly used as the entry
// point of a chunk which has no upvalues.
func NewClosure(p *proto.Prototype, upvalues ...*Upvalue) *Closure {
	ups := make([]*Upvalue, p.NumUpvalues)
	copy(ups, upvalues)
	for i := range ups {
		if ups[i] == nil {
			ups[i] = closedUpvalue(nil)
		}
	}
	return &Closure{val: p, upvalues: ups}
}

// NewUserData wraps a host value. A nil metatable falls back to the vm default.
func NewUserData(name string, val any, mt *Metatable) *UserData {
	return &UserData{Name: name, Value: val, metatable: mt}
}

// Proto returns the prototype the closure instantiates.
func (fn *Closure) Proto() *proto.Prototype { return fn.val }

func (fn *NativeFunction) String() string {
	return fmt.Sprintf("function:[%s()]", fn.Name)
}

func (fn *Closure) String() string {
	return fmt.Sprintf("function:[%p]", fn)
}

func (ud *UserData) String() string {
	return fmt.Sprintf("userdata:[%s %p]", ud.Name, ud)
}

// KindOf returns the tag of a value. Values of an unexpected go type report
// as userdata.
func KindOf(in any) Kind {
	switch in.(type) {
	case nil:
		return KindNil
	case bool:
		return KindBool
	case float64:
		return KindNumber
	case string:
		return KindString
	case *Table:
		return KindTable
	case *Closure:
		return KindFunction
	case *NativeFunction:
		return KindNative
	case *Upvalue:
		return KindUpvalue
	default:
		return KindUserData
	}
}

func typeName(in any) string { return KindOf(in).String() }

func isCallable(in any) bool {
	switch in.(type) {
	case *Closure, *NativeFunction:
		return true
	default:
		return false
	}
}

// truthy is the lua truthiness rule, only nil and false are false.
func truthy(in any) bool {
	switch tin := in.(type) {
	case nil:
		return false
	case bool:
		return tin
	default:
		return true
	}
}

// rawEqual compares kind and payload, reference kinds by identity.
func rawEqual(lVal, rVal any) bool {
	if KindOf(lVal) != KindOf(rVal) {
		return false
	}
	switch lv := lVal.(type) {
	case *UserData:
		rv, ok := rVal.(*UserData)
		return ok && lv == rv
	default:
		return lVal == rVal
	}
}

// ToString formats a value the way print and tostring show it.
func ToString(val any) string {
	switch tval := val.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(tval)
	case float64:
		return formatNumber(tval)
	case string:
		return tval
	case *Table:
		return fmt.Sprintf("table: %p", tval)
	case *Upvalue:
		return "upvalue: " + ToString(tval.Get())
	case fmt.Stringer:
		return tval.String()
	default:
		return fmt.Sprintf("%v", tval)
	}
}

func formatNumber(num float64) string {
	switch {
	case math.IsInf(num, 1):
		return "inf"
	case math.IsInf(num, -1):
		return "-inf"
	case math.IsNaN(num):
		return "nan"
	case num == math.Trunc(num) && math.Abs(num) < 1e15:
		return strconv.FormatFloat(num, 'f', -1, 64)
	default:
		return strconv.FormatFloat(num, 'g', 14, 64)
	}
}

func toNumber(in any) (float64, bool) {
	switch tin := in.(type) {
	case float64:
		return tin, true
	default:
		return 0, false
	}
}

// constValue converts a loaded constant to a runtime value.
func constValue(konst any) any {
	switch kval := konst.(type) {
	case nil, bool, float64, string:
		return kval
	case int64:
		return float64(kval)
	case int:
		return float64(kval)
	default:
		return nil
	}
}
