package runtime

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tanema/lvm/src/undump"
)

const consoleHelp = `commands:
  globals        list the global table
  get <name>     show one global
  backlog        show the trailing instruction log
  run <file>     load and run a chunk
  dis <file|fn>  disassemble a chunk or a global lua function
  stats          instruction count and call depth
  help           this message
  quit           leave the console`

// Console starts an interactive debug console for inspecting the vm between
// or after chunk runs.
func (vm *VM) Console() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lvm> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					fmt.Fprint(rl.Stderr(), "Press ctrl-d or type quit to leave.\n")
				}
				continue
			} else if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		quit, err := vm.Command(line, rl.Stdout())
		if err != nil {
			fmt.Fprintln(rl.Stderr(), err)
		} else if quit {
			return nil
		}
	}
}

// Command runs a single console command and writes its output to out. It
// reports whether the console should stop.
func (vm *VM) Command(line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", fmt.Errorf("%v expects an argument", fields[0])
		}
		return strings.Join(fields[1:], " "), nil
	}
	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, consoleHelp)
	case "globals":
		for _, key := range vm.Globals.Keys() {
			val, _ := vm.Globals.Get(key)
			fmt.Fprintf(out, "%-16v %v\n", ToString(key), ToString(val))
		}
	case "get":
		name, err := arg()
		if err != nil {
			return false, err
		}
		val, err := vm.Globals.Get(name)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, ToString(val))
	case "backlog":
		for _, line := range vm.backlog.Lines() {
			fmt.Fprintln(out, line)
		}
	case "stats":
		fmt.Fprintf(out, "chunk %v executed %v depth %v\n", vm.chunk, vm.executed, vm.Depth())
	case "run":
		path, err := arg()
		if err != nil {
			return false, err
		}
		p, err := undump.File(path)
		if err != nil {
			return false, err
		}
		if err := vm.Exec(p, filepath.Base(path)); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "ran %v in %v instructions\n", path, vm.executed)
	case "dis":
		path, err := arg()
		if err != nil {
			return false, err
		}
		if val, _ := vm.Globals.Get(path); val != nil {
			fn, isClosure := val.(*Closure)
			if !isClosure {
				return false, fmt.Errorf("%v is a %v, not a lua function", path, typeName(val))
			}
			fmt.Fprint(out, fn.Proto().String())
			return false, nil
		}
		p, err := undump.File(path)
		if err != nil {
			return false, err
		}
		fmt.Fprint(out, p.String())
	default:
		return false, fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return false, nil
}
