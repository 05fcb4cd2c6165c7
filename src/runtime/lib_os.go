package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

func createOSLib() *Table {
	return NewTable(nil, map[any]any{
		"clock": NewNative("os.clock", 0, 1, stdOSClock),
		"date":  NewNative("os.date", 2, 1, stdOSDate),
		"time":  NewNative("os.time", 1, 1, stdOSTime),
	})
}

func stdOSClock(vm *VM, regs []any, _ int) (int, error) {
	regs[0] = time.Since(vm.started).Seconds()
	return 1, nil
}

// dateField is a key of an os.time table, a negative default makes it required.
type dateField struct {
	name string
	def  int
	dst  *int
}

func stdOSTime(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "os.time", "~table"); err != nil {
		return 0, err
	}
	if nargs == 0 || regs[0] == nil {
		regs[0] = float64(time.Now().Unix())
		return 1, nil
	}
	tbl := regs[0].(*Table)
	field := func(name string, def int) (int, error) {
		val, err := tbl.Get(name)
		if err != nil {
			return 0, err
		} else if val == nil {
			if def < 0 {
				return 0, fmt.Errorf("field '%v' missing in date table", name)
			}
			return def, nil
		}
		num, isNum := val.(float64)
		if !isNum {
			return 0, fmt.Errorf("field '%v' is not a number", name)
		}
		return int(num), nil
	}
	var year, month, day, hour, minute, sec int
	parts := []dateField{
		{"year", -1, &year},
		{"month", -1, &month},
		{"day", -1, &day},
		{"hour", 12, &hour},
		{"min", 0, &minute},
		{"sec", 0, &sec},
	}
	for _, part := range parts {
		val, err := field(part.name, part.def)
		if err != nil {
			return 0, argumentErr(1, "os.time", err)
		}
		*part.dst = val
	}
	regs[0] = float64(time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.Local).Unix())
	return 1, nil
}

func stdOSDate(_ *VM, regs []any, nargs int) (int, error) {
	if err := assertArguments(regs, nargs, "os.date", "~string", "~number"); err != nil {
		return 0, err
	}
	format := "%c"
	if nargs > 0 && regs[0] != nil {
		format = regs[0].(string)
	}
	fmtTime := time.Now()
	if nargs > 1 && regs[1] != nil {
		fmtTime = time.Unix(int64(regs[1].(float64)), 0)
	}
	if strings.HasPrefix(format, "!") {
		fmtTime = fmtTime.UTC()
	}
	format = strings.TrimPrefix(format, "!")
	if strings.TrimSpace(format) == "*t" {
		regs[0] = NewTable(nil, map[any]any{
			"year":  float64(fmtTime.Year()),
			"month": float64(fmtTime.Month()),
			"day":   float64(fmtTime.Day()),
			"hour":  float64(fmtTime.Hour()),
			"min":   float64(fmtTime.Minute()),
			"sec":   float64(fmtTime.Second()),
			"wday":  float64(fmtTime.Weekday() + 1),
			"yday":  float64(fmtTime.YearDay()),
			"isdst": fmtTime.IsDST(),
		})
		return 1, nil
	}
	strf, err := strftime.New(format)
	if err != nil {
		return 0, argumentErr(1, "os.date", fmt.Errorf("invalid time format '%v'", format))
	}
	regs[0] = strf.FormatString(fmtTime)
	return 1, nil
}
