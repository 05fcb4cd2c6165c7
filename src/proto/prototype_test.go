package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tanema/lvm/bytecode"
)

func TestPrototype_Const(t *testing.T) {
	t.Parallel()
	p := &Prototype{Constants: []any{nil, true, 1.5, "x"}}
	val, ok := p.Const(3)
	assert.True(t, ok)
	assert.Equal(t, "x", val)
	_, ok = p.Const(4)
	assert.False(t, ok)
	_, ok = p.Const(-1)
	assert.False(t, ok)
	assert.Equal(t, "nil", ConstString(p.Constants, 0))
	assert.Equal(t, "true", ConstString(p.Constants, 1))
	assert.Equal(t, "1.5", ConstString(p.Constants, 2))
	assert.Equal(t, `"x"`, ConstString(p.Constants, 3))
	assert.Equal(t, "?", ConstString(p.Constants, 9))
}

func TestPrototype_String(t *testing.T) {
	t.Parallel()
	child := &Prototype{Source: "@t.lua", LineDefined: 2, LastLineDefined: 4, Code: []uint32{bytecode.IAB(bytecode.RETURN, 0, 1)}}
	p := &Prototype{
		Source:       "@t.lua",
		MaxStackSize: 2,
		Code: []uint32{
			bytecode.IABx(bytecode.LOADK, 0, 0),
			bytecode.IABx(bytecode.CLOSURE, 1, 0),
			bytecode.IABC(bytecode.CALL, 1, 1, 1),
			bytecode.IAB(bytecode.RETURN, 0, 1),
		},
		LineInfo:  []int64{1, 4, 5, 5},
		Constants: []any{"hello"},
		Protos:    []*Prototype{child},
	}
	out := p.String()
	assert.Contains(t, out, "main <@t.lua:0,0> (4 instructions)")
	assert.Contains(t, out, `"hello"`)
	assert.Contains(t, out, "function <@t.lua:2>")
	assert.Contains(t, out, "0 in 0 out")
	assert.Contains(t, out, "function <@t.lua:2,4> (1 instructions)")
	assert.Equal(t, int64(4), p.Line(1))
	assert.Equal(t, int64(0), p.Line(10))
}
