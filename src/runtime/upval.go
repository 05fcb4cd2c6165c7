package runtime

import (
	"fmt"
)

// Upvalue is a variable captured by a closure. While open it aliases a
// register of a live frame, once closed it holds a snapshot of that register.
type Upvalue struct {
	val   any
	frame *Frame
	name  string
	index int64
	open  bool
}

func newUpvalue(f *Frame, index int64) *Upvalue {
	return &Upvalue{frame: f, index: index, open: true, name: f.localName(index)}
}

func closedUpvalue(val any) *Upvalue {
	return &Upvalue{val: val}
}

func (u *Upvalue) String() string {
	return fmt.Sprintf("<-id: %v name: %v open: %v->", u.index, u.name, u.open)
}

// Open reports if the upvalue still aliases a register.
func (u *Upvalue) Open() bool { return u.open }

// Get reads the aliased register or the snapshot.
func (u *Upvalue) Get() any {
	if u.open {
		return u.frame.registers[u.index]
	}
	return u.val
}

// Set writes through to the aliased register or the snapshot.
func (u *Upvalue) Set(val any) {
	if u.open {
		u.frame.registers[u.index] = val
		return
	}
	u.val = val
}

// Close snapshots the register, after which the upvalue no longer follows it.
func (u *Upvalue) Close() {
	if !u.open {
		return
	}
	u.val = u.frame.registers[u.index]
	u.open = false
	u.frame = nil
}
