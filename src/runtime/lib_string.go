package runtime

// stringFunctions are the names the string library answers to. None of them
// have bodies yet, calling one is an ErrUnsupported fault.
var stringFunctions = []string{
	"byte", "char", "dump", "find", "format", "gmatch", "gsub", "len",
	"lower", "match", "rep", "reverse", "sub", "upper",
}

func createStringLib(vm *VM) *Table {
	lib := NewTable(nil, nil)
	for _, name := range stringFunctions {
		_ = lib.Set(name, stub("string."+name))
	}
	// method calls on strings resolve through the library like s:len()
	_ = vm.KindMetatable(KindString).Replace(string(MetaIndex), func(_ *VM, args ...any) (any, error) {
		return lib.Get(args[1])
	})
	return lib
}
