package runtime

import (
	"errors"
	"math"
)

// xorshift is the generator behind math.random. Its state is 32 bit so that a
// seed always produces the same sequence.
type xorshift struct {
	state0 int32
	state1 int32
}

func newXorshift(state0, state1 int32) xorshift {
	return xorshift{state0: state0, state1: state1}
}

func (rng *xorshift) seed(val int32) {
	rng.state0 = val
	rng.state1 = val
}

func (rng *xorshift) next() {
	s1 := rng.state0
	s0 := rng.state1
	rng.state0 = s0
	s1 ^= s1 << 23
	s1 ^= int32(uint32(s1) >> 17)
	s1 ^= s0
	s1 ^= s0 >> 26
	rng.state1 = s1
}

// float returns a number in [0, 1).
func (rng *xorshift) float() float64 {
	rng.next()
	return float64(uint32(rng.state0+rng.state1)) / (1 << 32)
}

func createMathLib() *Table {
	lib := NewTable(nil, map[any]any{
		"huge":       math.Inf(1),
		"pi":         math.Pi,
		"random":     NewNative("math.random", 2, 1, stdMathRandom),
		"randomseed": NewNative("math.randomseed", 1, 0, stdMathRandomSeed),
	})
	for _, name := range []string{
		"abs", "acos", "asin", "atan2", "atan", "ceil", "cosh", "cos", "deg", "exp",
		"floor", "fmod", "frexp", "ldexp", "log10", "log", "max", "min", "modf", "pow",
		"rad", "sinh", "sin", "sqrt", "tanh", "tan",
	} {
		_ = lib.Set(name, stub("math."+name))
	}
	return lib
}

func stdMathRandomSeed(vm *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "math.randomseed", "number"); err != nil {
		return 0, err
	}
	vm.rng.seed(int32(int64(regs[0].(float64))))
	return 0, nil
}

func stdMathRandom(vm *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "math.random", "~number", "~number"); err != nil {
		return 0, err
	}
	r := vm.rng.float()
	switch nargs {
	case 0:
		regs[0] = r
	case 1:
		upper := math.Floor(regs[0].(float64))
		if upper < 1 {
			return 0, argumentErr(1, "math.random", errors.New("interval is empty"))
		}
		regs[0] = math.Floor(r*upper) + 1
	default:
		lower, upper := math.Floor(regs[0].(float64)), math.Floor(regs[1].(float64))
		if lower > upper {
			return 0, argumentErr(2, "math.random", errors.New("interval is empty"))
		}
		regs[0] = lower + math.Floor(r*(upper-lower+1))
	}
	return 1, nil
}
