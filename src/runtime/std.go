package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/tanema/lvm/src/conf"
	"github.com/tanema/lvm/src/lerrors"
	"github.com/tanema/lvm/src/undump"
)

// maxResults is the register file given to natives that return a variable
// number of values.
const maxResults = conf.MAXREGISTERS

func loadStdLib(vm *VM) {
	globals := map[string]any{
		"_G":             vm.Globals,
		"_VERSION":       conf.LUAVERSION,
		"assert":         NewNative("assert", 2, maxResults, stdAssert),
		"collectgarbage": NewNative("collectgarbage", 1, 1, stdCollectgarbage),
		"error":          NewNative("error", 1, 0, stdError),
		"getfenv":        NewNative("getfenv", 1, 1, stdGetfenv),
		"loadstring":     NewNative("loadstring", 2, 2, stdLoadString),
		"pcall":          NewNative("pcall", 1, maxResults, stdPCall),
		"print":          NewNative("print", 0, 0, stdPrint),
		"rawequal":       NewNative("rawequal", 2, 1, stdRawEq),
		"rawget":         NewNative("rawget", 2, 1, stdRawGet),
		"rawset":         NewNative("rawset", 3, 1, stdRawSet),
		"select":         NewNative("select", 1, maxResults, stdSelect),
		"setfenv":        NewNative("setfenv", 2, 1, stdSetfenv),
		"tonumber":       NewNative("tonumber", 2, 1, stdToNumber),
		"tostring":       NewNative("tostring", 1, 1, stdToString),
		"type":           NewNative("type", 1, 1, stdType),
		"unpack":         NewNative("unpack", 3, maxResults, stdUnpack),
		"math":           createMathLib(),
		"os":             createOSLib(),
		"string":         createStringLib(vm),
	}
	for name, val := range globals {
		_ = vm.Globals.Set(name, val)
	}
}

func stdAssert(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "assert", "value", "~string"); err != nil {
		return 0, err
	} else if !truthy(regs[0]) {
		if nargs > 1 {
			return 0, errors.New(ToString(regs[1]))
		}
		return 0, errors.New("assertion failed!")
	}
	return nargs, nil
}

func stdCollectgarbage(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "collectgarbage", "~string"); err != nil {
		return 0, err
	}
	mode := "collect"
	if nargs > 0 {
		mode = regs[0].(string)
	}
	switch mode {
	case "collect":
		runtime.GC()
		regs[0] = float64(0)
	case "count":
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		regs[0] = float64(stats.HeapAlloc) / 1024
	case "step", "stop", "restart", "setpause", "setstepmul":
		regs[0] = float64(0)
	default:
		return 0, argumentErr(1, "collectgarbage", fmt.Errorf("invalid option '%v'", mode))
	}
	return 1, nil
}

func stdError(_ *VM, regs []any, nargs int) (int, error) {
	if nargs == 0 || regs[0] == nil {
		return 0, errors.New("nil")
	}
	return 0, errors.New(ToString(regs[0]))
}

// stdGetfenv only knows about the global environment.
func stdGetfenv(vm *VM, regs []any, _ int) (int, error) {
	regs[0] = vm.Globals
	return 1, nil
}

func stdSetfenv(vm *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "setfenv", "value", "table"); err != nil {
		return 0, err
	}
	vm.Globals = regs[1].(*Table)
	return 1, nil
}

func stdPCall(vm *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "pcall", "value"); err != nil {
		return 0, err
	}
	results, err := vm.Call(regs[0], regs[1:nargs]...)
	if err != nil {
		regs[0] = false
		regs[1] = errorMessage(err)
		return 2, nil
	}
	regs[0] = true
	n := copy(regs[1:], results)
	return n + 1, nil
}

func errorMessage(err error) string {
	var lerr *lerrors.Error
	if errors.As(err, &lerr) {
		return lerr.Err.Error()
	}
	return err.Error()
}

func stdPrint(vm *VM, regs []any, nargs int) (int, error) {
	strParts := make([]string, nargs)
	for i := 0; i < nargs; i++ {
		strParts[i] = ToString(regs[i])
	}
	_, err := fmt.Fprintln(vm.Stdout, strings.Join(strParts, "\t"))
	return 0, err
}

func stdRawEq(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "rawequal", "value", "value"); err != nil {
		return 0, err
	}
	regs[0] = rawEqual(regs[0], regs[1])
	return 1, nil
}

func stdRawGet(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "rawget", "table", "value"); err != nil {
		return 0, err
	}
	val, err := regs[0].(*Table).Get(regs[1])
	if err != nil {
		return 0, err
	}
	regs[0] = val
	return 1, nil
}

func stdRawSet(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "rawset", "table", "value", "value"); err != nil {
		return 0, err
	}
	return 1, regs[0].(*Table).Set(regs[1], regs[2])
}

func stdSelect(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "select", "number|string"); err != nil {
		return 0, err
	}
	if regs[0] == "#" {
		regs[0] = float64(nargs - 1)
		return 1, nil
	}
	idx, isNum := regs[0].(float64)
	if !isNum {
		return 0, argumentErr(1, "select", errors.New("number expected"))
	} else if idx < 0 {
		idx = float64(nargs) + idx
	}
	if idx < 1 {
		return 0, argumentErr(1, "select", errors.New("index out of range"))
	}
	start := min(int(idx), nargs)
	n := copy(regs, regs[start:nargs])
	return n, nil
}

func stdToNumber(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "tonumber", "value", "~number"); err != nil {
		return 0, err
	}
	base := 10
	if nargs > 1 {
		base = int(regs[1].(float64))
	}
	switch val := regs[0].(type) {
	case float64:
		regs[0] = val
	case string:
		regs[0] = parseNumber(strings.TrimSpace(val), base)
	default:
		regs[0] = nil
	}
	return 1, nil
}

func parseNumber(str string, base int) any {
	if base == 10 {
		if num, err := strconv.ParseFloat(str, 64); err == nil {
			return num
		}
		if num, err := strconv.ParseInt(str, 0, 64); err == nil {
			return float64(num)
		}
		return nil
	}
	if num, err := strconv.ParseInt(str, base, 64); err == nil {
		return float64(num)
	}
	return nil
}

func stdToString(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "tostring", "value"); err != nil {
		return 0, err
	}
	regs[0] = ToString(regs[0])
	return 1, nil
}

func stdType(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "type", "value"); err != nil {
		return 0, err
	}
	regs[0] = typeName(regs[0])
	return 1, nil
}

func stdUnpack(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "unpack", "table", "~number", "~number"); err != nil {
		return 0, err
	}
	tbl := regs[0].(*Table)
	from, to := 1, tbl.Len()
	if nargs > 1 {
		from = int(regs[1].(float64))
	}
	if nargs > 2 {
		to = int(regs[2].(float64))
	}
	if to-from+1 > len(regs) {
		return 0, fmt.Errorf("%w: too many results to unpack", lerrors.ErrResourceExceeded)
	}
	n := 0
	for i := from; i <= to; i++ {
		val, err := tbl.Get(float64(i))
		if err != nil {
			return 0, err
		}
		regs[n] = val
		n++
	}
	return n, nil
}

// stdLoadString compiles source with the configured luac and returns the main
// function of the result. Compile errors return nil and the compiler output.
func stdLoadString(vm *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "loadstring", "string", "~string"); err != nil {
		return 0, err
	} else if vm.luac == "" {
		return 0, fmt.Errorf("%w: loadstring needs a luac compiler configured", lerrors.ErrUnsupported)
	}
	dir, err := os.MkdirTemp("", "lvm-loadstring")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	src, out := filepath.Join(dir, "chunk.lua"), filepath.Join(dir, "chunk.luac")
	if err := os.WriteFile(src, []byte(regs[0].(string)), 0o600); err != nil {
		return 0, err
	}
	if output, err := exec.CommandContext(vm.ctx, vm.luac, "-o", out, src).CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("loadstring: %w", err)
		}
		regs[0], regs[1] = nil, string(bytes.TrimSpace(output))
		return 2, nil
	}
	p, err := undump.File(out)
	if err != nil {
		return 0, err
	}
	p.Source = "=(loadstring)"
	if nargs > 1 {
		p.Source = regs[1].(string)
	}
	regs[0] = NewClosure(p)
	return 1, nil
}
