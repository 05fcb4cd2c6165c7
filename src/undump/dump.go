package undump

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/tanema/lvm/src/proto"
)

type writer struct {
	dst    io.Writer
	header Header
	order  binary.ByteOrder
}

// Dump writes p as a chunk with the DefaultHeader layout.
func Dump(dst io.Writer, p *proto.Prototype) error {
	return DumpWith(dst, p, DefaultHeader)
}

// DumpWith writes p as a chunk using the sizes and byte order of header.
func DumpWith(dst io.Writer, p *proto.Prototype, header Header) error {
	wr := &writer{dst: dst, header: header}
	if err := header.validate(&wr.order); err != nil {
		return err
	}
	if _, err := io.WriteString(dst, header.Signature); err != nil {
		return errors.Wrap(err, "dump header")
	}
	if err := wr.write([]byte{
		header.Version,
		header.Format,
		header.Endianness,
		header.IntSize,
		header.SizeTSize,
		header.InstructionSize,
		header.NumberSize,
		header.Integral,
	}); err != nil {
		return errors.Wrap(err, "dump header")
	}
	return wr.writeProto(p, "")
}

func (wr *writer) writeProto(p *proto.Prototype, parentSource string) error {
	source := p.Source
	if source == parentSource {
		source = ""
	}
	if err := anyerr([]error{
		wr.writeString(source),
		wr.write(int32(p.LineDefined)),
		wr.write(int32(p.LastLineDefined)),
		wr.write([]byte{p.NumUpvalues, p.NumParams, p.IsVararg, p.MaxStackSize}),
		wr.write(int32(len(p.Code))),
		wr.write(p.Code),
		wr.write(int32(len(p.Constants))),
	}); err != nil {
		return errors.Wrap(err, "dump function header")
	}
	for _, konst := range p.Constants {
		var err error
		switch val := konst.(type) {
		case nil:
			err = wr.write(byte(tagNil))
		case bool:
			b := byte(0)
			if val {
				b = 1
			}
			err = wr.write([]byte{tagBoolean, b})
		case float64:
			err = anyerr([]error{wr.write(byte(tagNumber)), wr.write(math.Float64bits(val))})
		case string:
			err = anyerr([]error{wr.write(byte(tagString)), wr.writeString(val)})
		default:
			err = errors.Errorf("cannot dump constant %v of type %T", val, val)
		}
		if err != nil {
			return errors.Wrap(err, "dump constants")
		}
	}
	if err := wr.write(int32(len(p.Protos))); err != nil {
		return errors.Wrap(err, "dump protos")
	}
	for _, child := range p.Protos {
		if err := wr.writeProto(child, p.Source); err != nil {
			return err
		}
	}
	lines := make([]int32, len(p.LineInfo))
	for i, l := range p.LineInfo {
		lines[i] = int32(l)
	}
	if err := anyerr([]error{wr.write(int32(len(lines))), wr.write(lines), wr.write(int32(len(p.LocVars)))}); err != nil {
		return errors.Wrap(err, "dump debug")
	}
	for _, lv := range p.LocVars {
		if err := anyerr([]error{wr.writeString(lv.Name), wr.write(int32(lv.StartPC)), wr.write(int32(lv.EndPC))}); err != nil {
			return errors.Wrap(err, "dump locals")
		}
	}
	if err := wr.write(int32(len(p.UpvalueNames))); err != nil {
		return errors.Wrap(err, "dump upvalue names")
	}
	for _, name := range p.UpvalueNames {
		if err := wr.writeString(name); err != nil {
			return errors.Wrap(err, "dump upvalue names")
		}
	}
	return nil
}

func (wr *writer) writeString(str string) error {
	size := uint64(0)
	if str != "" {
		size = uint64(len(str) + 1)
	}
	var err error
	if wr.header.SizeTSize == 8 {
		err = wr.write(size)
	} else {
		err = wr.write(uint32(size))
	}
	if err != nil || size == 0 {
		return err
	}
	return wr.write(append([]byte(str), 0))
}

func (wr *writer) write(val any) error {
	return errors.Wrap(binary.Write(wr.dst, wr.order, val), "dump")
}
