package runtime

import (
	"context"
	"testing"

	"github.com/tanema/lvm/bytecode"
)

func BenchmarkForLoop(b *testing.B) {
	vm := New(context.Background(), nil)
	p := testProto(5, []any{float64(1), float64(1000), float64(0)},
		bytecode.IABx(bytecode.LOADK, 0, 0),
		bytecode.IABx(bytecode.LOADK, 1, 1),
		bytecode.IABx(bytecode.LOADK, 2, 0),
		bytecode.IABx(bytecode.LOADK, 4, 2),
		bytecode.IAsBx(bytecode.FORPREP, 0, 1),
		bytecode.IABC(bytecode.ADD, 4, 4, 3),
		bytecode.IAsBx(bytecode.FORLOOP, 0, -2),
		bytecode.IAB(bytecode.RETURN, 4, 2),
	)
	for n := 0; n < b.N; n++ {
		if _, err := vm.Eval(p, "loop"); err != nil {
			panic(err)
		}
	}
}

func BenchmarkTailCall100(b *testing.B) {
	vm := New(context.Background(), nil)
	if err := vm.Register("tick", NewNative("tick", 0, 0, func(*VM, []any, int) (int, error) {
		return 0, nil
	})); err != nil {
		panic(err)
	}
	p := loopMain(100, true)
	for n := 0; n < b.N; n++ {
		if _, err := vm.Eval(p, "tail"); err != nil {
			panic(err)
		}
	}
}
