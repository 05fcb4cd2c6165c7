// Package proto holds the loaded form of a lua function, the immutable
// prototype that closures share.
package proto

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/tanema/lvm/bytecode"
)

type (
	// LocVar is debug information for a local variable.
	LocVar struct {
		Name    string
		StartPC int64
		EndPC   int64
	}
	// Prototype is a loaded function body: code, constants and nested functions.
	// It is never mutated after loading. Constants are nil, bool, float64 or string.
	Prototype struct {
		Source          string
		LineDefined     int64
		LastLineDefined int64
		NumUpvalues     uint8
		NumParams       uint8
		IsVararg        uint8
		MaxStackSize    uint8
		Code            []uint32
		Constants       []any
		Protos          []*Prototype
		LineInfo        []int64
		LocVars         []LocVar
		UpvalueNames    []string
	}
)

const protoTemplate = `{{.Kind}} <{{.Source}}:{{.LineDefined}},{{.LastLineDefined}}> ({{.Code | len}} instructions)
{{.NumParams}}{{if .IsVararg}}+{{end}} params, {{.MaxStackSize}} slots, {{.NumUpvalues}} upvalues,
{{- .LocVars | len}} locals, {{.Constants | len}} constants, {{.Protos | len}} functions
{{- range $i, $code := .Code}}
	{{$i}}	[{{line $i}}]	{{$code | fmtCode}} ; {{$code | codeMeta -}}
{{end}}
{{range .Protos}}
{{. -}}
{{end}}`

// Line returns the source line of the instruction at pc, or 0 when there is
// no debug info.
func (p *Prototype) Line(pc int64) int64 {
	if pc < 0 || int(pc) >= len(p.LineInfo) {
		return 0
	}
	return p.LineInfo[pc]
}

// Const gets a constant and whether the index was in range.
func (p *Prototype) Const(idx int64) (any, bool) {
	if idx < 0 || int(idx) >= len(p.Constants) {
		return nil, false
	}
	return p.Constants[idx], true
}

// Name is a printable name for the function, used in traces.
func (p *Prototype) Name() string {
	if p.LineDefined == 0 {
		return "main"
	}
	return fmt.Sprintf("function <%v:%v>", p.Source, p.LineDefined)
}

func (p *Prototype) String() string {
	var buf bytes.Buffer
	tmpl := template.New("proto")
	tmpl.Funcs(map[string]any{
		"line":    func(pc int) int64 { return p.Line(int64(pc)) },
		"fmtCode": bytecode.ToString,
		"codeMeta": func(op uint32) string {
			switch bytecode.GetOp(op) {
			case bytecode.LOADK, bytecode.GETGLOBAL, bytecode.SETGLOBAL:
				return "\t" + ConstString(p.Constants, bytecode.GetBx(op))
			case bytecode.CALL:
				return fmt.Sprintf("\t%s in %s out", optionVariable(bytecode.GetB(op)), optionVariable(bytecode.GetC(op)))
			case bytecode.CLOSURE:
				if bx := bytecode.GetBx(op); int(bx) < len(p.Protos) {
					return "\t" + p.Protos[bx].Name()
				}
				return ""
			case bytecode.TAILCALL:
				return fmt.Sprintf("\t%s in all out", optionVariable(bytecode.GetB(op)))
			case bytecode.RETURN:
				return fmt.Sprintf("\t%s out", optionVariable(bytecode.GetB(op)))
			case bytecode.SETLIST:
				return fmt.Sprintf("\t%s in at block %v", optionVariable(bytecode.GetB(op)), bytecode.GetC(op))
			case bytecode.JMP, bytecode.FORLOOP, bytecode.FORPREP:
				return fmt.Sprintf("\tto %v", bytecode.GetsBx(op))
			}
			if bytecode.Kind(op) == bytecode.TypeABC {
				b, bK := bytecode.GetBK(op)
				c, cK := bytecode.GetCK(op)
				out := []string{}
				if bK {
					out = append(out, ConstString(p.Constants, b))
				}
				if cK {
					out = append(out, ConstString(p.Constants, c))
				}
				return "\t" + strings.Join(out, " ")
			}
			return ""
		},
	})
	tmpl = template.Must(tmpl.Parse(protoTemplate))
	data := struct {
		*Prototype
		Kind string
	}{
		Prototype: p,
		Kind:      "function",
	}
	if p.LineDefined == 0 {
		data.Kind = "main"
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		panic(err)
	}
	return buf.String()
}

// ConstString formats a constant the way a listing shows it.
func ConstString(consts []any, idx int64) string {
	if idx < 0 || int(idx) >= len(consts) {
		return "?"
	}
	switch val := consts[idx].(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(val)
	case float64:
		return strconv.FormatFloat(val, 'g', 14, 64)
	default:
		return fmt.Sprint(val)
	}
}

func optionVariable(param int64) string {
	narg := (param - 1)
	if narg < 0 {
		return "all"
	}
	return strconv.FormatInt(narg, 10)
}
