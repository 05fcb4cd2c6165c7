package runtime

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tanema/lvm/src/lerrors"
)

// assertArguments checks the kinds of native arguments. An assertion is a list
// of kind names separated by |, a leading ~ makes the argument optional and
// "value" accepts anything.
func assertArguments(regs []any, nargs int, methodName string, assertions ...string) error {
	for i, assertion := range assertions {
		optional := strings.HasPrefix(assertion, "~")
		expectedTypes := strings.Split(strings.TrimPrefix(assertion, "~"), "|")
		if i >= nargs && !optional {
			return argumentErr(i+1, methodName, fmt.Errorf("%v expected", strings.TrimPrefix(assertion, "~")))
		} else if i >= nargs {
			return nil
		} else if expectedTypes[0] == "value" {
			continue
		}
		valType := typeName(regs[i])
		if !slices.Contains(expectedTypes, valType) {
			return argumentErr(
				i+1,
				methodName,
				fmt.Errorf(
					"%w: %v expected but received %v",
					lerrors.ErrTypeMismatch,
					strings.Join(expectedTypes, ", "),
					valType,
				))
		}
	}
	return nil
}

func argumentErr(nArg int, methodName string, err error) error {
	return fmt.Errorf("bad argument #%v to '%v' (%w)", nArg, methodName, err)
}

// stub is a library function that exists so that lookups succeed but has no
// implementation yet.
func stub(name string) *NativeFunction {
	return NewNative(name, 0, 0, func(*VM, []any, int) (int, error) {
		return 0, fmt.Errorf("%w: %v is not implemented", lerrors.ErrUnsupported, name)
	})
}
