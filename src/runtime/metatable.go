package runtime

import (
	"fmt"
	"slices"

	"github.com/tanema/lvm/src/lerrors"
)

type (
	// MetaEvent is the name of an overridable operation such as __add.
	MetaEvent string
	// MetaFunc is a host handler for a metatable event. It receives the operands
	// of the operation and returns a single result.
	MetaFunc func(vm *VM, args ...any) (any, error)
	// Metatable maps the fixed set of events to optional handlers. An event that
	// was never replaced is absent and the operation uses its default behaviour.
	Metatable struct {
		handlers map[MetaEvent]MetaFunc
	}
)

// Supported metatable events.
const (
	MetaAdd      MetaEvent = "__add"
	MetaSub      MetaEvent = "__sub"
	MetaMul      MetaEvent = "__mul"
	MetaDiv      MetaEvent = "__div"
	MetaPow      MetaEvent = "__pow"
	MetaMod      MetaEvent = "__mod"
	MetaUNM      MetaEvent = "__unm"
	MetaEq       MetaEvent = "__eq"
	MetaLt       MetaEvent = "__lt"
	MetaLe       MetaEvent = "__le"
	MetaConcat   MetaEvent = "__concat"
	MetaLen      MetaEvent = "__len"
	MetaIndex    MetaEvent = "__index"
	MetaNewIndex MetaEvent = "__newindex"
	MetaCall     MetaEvent = "__call"
)

// MetaEvents lists every event a metatable knows about.
var MetaEvents = []MetaEvent{
	MetaAdd, MetaSub, MetaMul, MetaDiv, MetaPow, MetaMod, MetaUNM,
	MetaEq, MetaLt, MetaLe,
	MetaConcat,
	MetaLen,
	MetaIndex, MetaNewIndex,
	MetaCall,
}

// NewMetatable creates a metatable with every event absent.
func NewMetatable() *Metatable {
	return &Metatable{handlers: map[MetaEvent]MetaFunc{}}
}

// IsMetaEvent reports whether name is one of the fixed events.
func IsMetaEvent(name string) bool {
	return slices.Contains(MetaEvents, MetaEvent(name))
}

// Replace installs a handler for an event. Each event can only be replaced once.
func (mt *Metatable) Replace(event string, fn MetaFunc) error {
	if !IsMetaEvent(event) {
		return fmt.Errorf("%w: %v", lerrors.ErrUnknownEvent, event)
	} else if _, set := mt.handlers[MetaEvent(event)]; set {
		return fmt.Errorf("%w: %v", lerrors.ErrEventAlreadySet, event)
	} else if fn == nil {
		return fmt.Errorf("%w: nil handler for %v", lerrors.ErrTypeMismatch, event)
	}
	mt.handlers[MetaEvent(event)] = fn
	return nil
}

// Lookup returns the handler for an event if it has been replaced.
func (mt *Metatable) Lookup(event MetaEvent) (MetaFunc, bool) {
	if mt == nil {
		return nil, false
	}
	fn, ok := mt.handlers[event]
	return fn, ok
}

// Get returns the handler as a callable native value, or nil when absent.
func (mt *Metatable) Get(event MetaEvent) any {
	fn, ok := mt.Lookup(event)
	if !ok {
		return nil
	}
	return NewNative(string(event), 2, 1, func(vm *VM, regs []any, nargs int) (int, error) {
		res, err := fn(vm, regs[:nargs]...)
		if err != nil {
			return 0, err
		}
		regs[0] = res
		return 1, nil
	})
}

// Events lists the events that have handlers, in the fixed event order.
func (mt *Metatable) Events() []MetaEvent {
	events := []MetaEvent{}
	for _, event := range MetaEvents {
		if _, ok := mt.handlers[event]; ok {
			events = append(events, event)
		}
	}
	return events
}

// Metatable resolves the metatable of any value: a table or userdata's private
// metatable if it has one, otherwise the vm's default for its kind.
func (vm *VM) Metatable(val any) *Metatable {
	switch tval := val.(type) {
	case *Table:
		if tval.metatable != nil {
			return tval.metatable
		}
	case *UserData:
		if tval.metatable != nil {
			return tval.metatable
		}
	}
	return vm.KindMetatable(KindOf(val))
}

// KindMetatable returns the default metatable shared by every value of a kind.
func (vm *VM) KindMetatable(kind Kind) *Metatable {
	if kind < 0 || kind >= numKinds {
		return nil
	}
	return vm.metatables[kind]
}

func (vm *VM) lookupEvent(val any, event MetaEvent) (MetaFunc, bool) {
	return vm.Metatable(val).Lookup(event)
}

func defaultMetatables() [numKinds]*Metatable {
	var mts [numKinds]*Metatable
	for i := range mts {
		mts[i] = NewMetatable()
	}
	return mts
}
